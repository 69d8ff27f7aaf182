// Package httpx 提供地址源抓取与远端存储共用的 HTTP client：统一 UA、可选代理、有界重试、总超时。
package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultRetryMax = 2
	defaultBackoff  = 200 * time.Millisecond

	// UserAgent 是所有请求的默认 UA。
	UserAgent = "qrexport/1"
)

// Transport 把“UA + 代理 + 有界重试”固化为统一策略。
//
// source/store 只关心请求语义，不关心网络策略细节。
type Transport struct {
	Base http.RoundTripper

	// RetryMax 表示最大重试次数（不含首次尝试）。例如 2 表示最多 3 次尝试。
	RetryMax int
	// Backoff 是第一次重试前的等待时间，之后每次翻倍。
	Backoff time.Duration
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	retries := t.RetryMax
	if retries < 0 || !replayable(req) {
		retries = 0
	}
	wait := t.Backoff
	if wait <= 0 {
		wait = defaultBackoff
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, lastErr
			case <-timer.C:
			}
			wait *= 2
		}

		r, err := cloneRequest(req, attempt)
		if err != nil {
			return nil, err
		}
		if r.Header.Get("User-Agent") == "" {
			r.Header.Set("User-Agent", UserAgent)
		}

		resp, err := t.Base.RoundTrip(r)
		if err == nil {
			if attempt < retries && retryableStatus(resp.StatusCode) {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
				_ = resp.Body.Close()
				lastErr = &StatusError{Method: req.Method, URL: req.URL.Redacted(), Code: resp.StatusCode}
				continue
			}
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			// ctx 已取消：不再重试，直接返回最后错误。
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// replayable：GET/HEAD 无 body，或 PUT/DELETE 且 body 可重建（GetBody）。
// 远端存储的 PUT 按契约是幂等的（同路径覆盖）。
func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead:
		return req.Body == nil || req.Body == http.NoBody
	case http.MethodPut, http.MethodDelete:
		return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	default:
		return false
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func cloneRequest(req *http.Request, attempt int) (*http.Request, error) {
	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if attempt > 0 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	return r, nil
}

// StatusError 表示非 2xx 响应。
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s：HTTP %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// CheckStatus 把非 2xx 响应转换为 *StatusError（并关闭 body）。
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return &StatusError{Method: resp.Request.Method, URL: resp.Request.URL.Redacted(), Code: resp.StatusCode}
}

// Options 控制 NewClient。零值即默认值。
type Options struct {
	ProxyURL string
	Timeout  time.Duration
	RetryMax int
}

// NewClient 构造带重试策略的 HTTP client。
//
// 规则：
// - ProxyURL 非空：所有请求走代理
// - RetryMax <= 0 使用默认值 2；需要禁用重试时请直接构造 Transport
// - Timeout <= 0 使用默认总超时
func NewClient(opts Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConnsPerHost:   8,
	}
	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("代理地址必须是绝对 URL：" + p)
		}
		base.Proxy = http.ProxyURL(u)
	}
	retry := opts.RetryMax
	if retry <= 0 {
		retry = defaultRetryMax
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Transport: &Transport{Base: base, RetryMax: retry, Backoff: defaultBackoff},
		Timeout:   timeout,
	}, nil
}
