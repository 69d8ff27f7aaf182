package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/John-Robertt/qrexport/internal/infra/codec"
	"github.com/John-Robertt/qrexport/internal/infra/httpx"
)

// HTTP 通过 REST 接口持久化：
//
//	PUT {BaseURL}/objects/{objectPath}                  body=文件字节，响应 {"ref": "..."}（可选）
//	PUT {BaseURL}/metadata/{campaign}/{batch}           body=CBOR(Record)
//
// 对象响应没有 ref 时，以 Location 头或对象 URL 本身作为引用。
type HTTP struct {
	BaseURL string
	Client  *http.Client
	// Token 非空时以 Bearer 方式携带。
	Token string
}

func (s HTTP) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}

func (s HTTP) endpoint(parts ...string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		return "", errors.New("store base_url 为空")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("store base_url 必须是 http/https：%q", base)
	}
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, seg := range strings.Split(p, "/") {
			escaped = append(escaped, url.PathEscape(seg))
		}
	}
	return base + "/" + strings.Join(escaped, "/"), nil
}

func (s HTTP) do(req *http.Request) (*http.Response, error) {
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, err
	}
	if err := httpx.CheckStatus(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Put 上传对象。r 实现 io.Seeker 时请求可被安全重放（重试）。
func (s HTTP) Put(ctx context.Context, objectPath string, r io.Reader) (string, error) {
	p, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}
	u, err := s.endpoint("objects", p)
	if err != nil {
		return "", err
	}
	body := r
	rs, seekable := r.(io.ReadSeeker)
	if seekable {
		// NopCloser：transport 会关闭 body，重放时还需要 Seek 回开头。
		body = io.NopCloser(rs)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, body)
	if err != nil {
		return "", err
	}
	if seekable {
		req.GetBody = func() (io.ReadCloser, error) {
			if _, err := rs.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return io.NopCloser(rs), nil
		}
		if n, err := seekLen(rs); err == nil {
			req.ContentLength = n
		}
	}
	req.Header.Set("Content-Type", contentType(p))

	resp, err := s.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Ref string `json:"ref"`
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if len(bytes.TrimSpace(b)) > 0 && json.Unmarshal(b, &payload) == nil && payload.Ref != "" {
		return payload.Ref, nil
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		if lu, err := resp.Request.URL.Parse(loc); err == nil {
			return lu.String(), nil
		}
	}
	return u, nil
}

// Upsert 以 CBOR 覆盖写入元数据。
func (s HTTP) Upsert(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	u, err := s.endpoint("metadata", rec.CampaignID, rec.BatchName)
	if err != nil {
		return err
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	b, err := codec.Marshal(rec)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/cbor")
	resp, err := s.do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func seekLen(rs io.ReadSeeker) (int64, error) {
	cur, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := rs.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end - cur, nil
}

func contentType(p string) string {
	switch {
	case strings.HasSuffix(p, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(p, ".zip"):
		return "application/zip"
	case strings.HasSuffix(p, ".csv"):
		return "text/csv; charset=utf-8"
	case strings.HasSuffix(p, ".png"):
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
