package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/John-Robertt/qrexport/internal/app"
	"github.com/John-Robertt/qrexport/internal/domain"
)

// maxRequestBody 限制请求体（内联地址列表）的大小。
const maxRequestBody = 16 << 20

// ExportRequest 是 POST /v1/campaigns/{campaign}/exports 的请求体。
type ExportRequest struct {
	Batch       string                 `json:"batch"`
	Exports     []string               `json:"exports"`
	Destination DestinationRequest     `json:"destination"`
	Addresses   []domain.SourceAddress `json:"addresses,omitempty"`
}

type DestinationRequest struct {
	Mode     string `json:"mode"`
	URL      string `json:"url,omitempty"`
	Template string `json:"template,omitempty"`
}

// ExportResponse 总是携带完整的 ExportResult；失败时附带 error_code/error_msg。
type ExportResponse struct {
	domain.ExportResult
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

type errorResponse struct {
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	campaign := mux.Vars(r)["campaign"]

	var req ExportRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, fmt.Sprintf("请求体无法解析：%v", err))
		return
	}

	kinds, err := domain.ParseExportKinds(req.Exports)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error())
		return
	}
	dest, err := req.Destination.destination()
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, err.Error())
		return
	}

	src := req.Addresses
	if len(src) == 0 {
		if s.Addresses == nil {
			writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "未配置地址来源，请在请求中内联 addresses")
			return
		}
		if src, err = s.Addresses.FetchAddresses(r.Context(), campaign); err != nil {
			writeError(w, http.StatusBadGateway, "source_failed", err.Error())
			return
		}
	}

	addrs, err := app.ResolveAddresses(dest, src)
	if err != nil {
		writeError(w, statusFor(err), domain.Code(err), err.Error())
		return
	}

	batch := domain.BatchConfig{
		Name:        req.Batch,
		CampaignID:  campaign,
		Destination: dest,
		Exports:     kinds,
	}
	res, err := s.Exporter.Export(r.Context(), batch, addrs)
	resp := ExportResponse{ExportResult: res}
	status := http.StatusOK
	if err != nil {
		resp.ErrorCode = domain.Code(err)
		resp.ErrorMsg = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func (d DestinationRequest) destination() (domain.Destination, error) {
	switch strings.ToLower(strings.TrimSpace(d.Mode)) {
	case "fixed_url":
		return domain.FixedURL{URL: strings.TrimSpace(d.URL)}, nil
	case "per_address_url":
		return domain.PerAddressURL{Template: strings.TrimSpace(d.Template)}, nil
	case "":
		return nil, errors.New("destination.mode 不能为空（fixed_url|per_address_url）")
	default:
		return nil, fmt.Errorf("未知 destination.mode：%q", d.Mode)
	}
}

// statusFor 把 error_code 映射为 HTTP 状态码。
func statusFor(err error) int {
	switch domain.Code(err) {
	case domain.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case domain.ErrCodeNoRasters, domain.ErrCodeWriterFailed:
		return http.StatusUnprocessableEntity
	case domain.ErrCodeUploadFailed:
		return http.StatusBadGateway
	case domain.ErrCodeCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	if code == "" {
		code = "internal"
	}
	writeJSON(w, status, errorResponse{ErrorCode: code, ErrorMsg: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
