// Package api 是 qrexportd 的 HTTP 入口：把一次导出请求映射为 export.Exporter.Export。
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/John-Robertt/qrexport/internal/app/export"
	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/logx"
)

// AddressSource 按 campaign 拉取地址（source.Fetcher 实现了它）。
type AddressSource interface {
	FetchAddresses(ctx context.Context, campaignID string) ([]domain.SourceAddress, error)
}

// Server 持有处理请求所需的依赖。Exporter 必填；Addresses 为 nil 时请求必须内联地址。
type Server struct {
	Exporter  *export.Exporter
	Addresses AddressSource
	Logger    *slog.Logger
}

// NewRouter 注册全部路由。
func NewRouter(s *Server) *mux.Router {
	log := logx.OrDiscard(s.Logger)
	r := mux.NewRouter()
	r.Use(accessLog(log))
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns/{campaign}/exports", s.handleExport).Methods(http.MethodPost)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(log *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(started),
			)
		})
	}
}
