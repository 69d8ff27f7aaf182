package main

import (
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/qrexport/internal/app/export"
	"github.com/John-Robertt/qrexport/internal/config"
	"github.com/John-Robertt/qrexport/internal/domain"
)

var _ export.Observer = (*progressUI)(nil)

// progressUI 是交互终端上的进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：编排器只发事件，CLI 决定如何展示
// - keepalive：编排器周期性发 OnProgress，距上次输出超过阈值时才打印一行
type progressUI struct {
	w   io.Writer
	eff config.EffectiveConfig

	mu          sync.Mutex
	lastPrinted time.Time

	keepaliveThreshold time.Duration
}

func newProgressUI(w io.Writer, eff config.EffectiveConfig) *progressUI {
	return &progressUI{
		w:                  w,
		eff:                eff,
		keepaliveThreshold: 6 * time.Second,
	}
}

func (p *progressUI) OnStart(batch domain.BatchConfig, total, workers int) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	eff := p.eff
	fmt.Fprintf(p.w, "[%s] qrexport run\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintf(p.w, "  batch: %s\n", batch.Name)
	if batch.CampaignID != "" {
		fmt.Fprintf(p.w, "  campaign: %s\n", batch.CampaignID)
	}
	fmt.Fprintf(p.w, "  exports: %s\n", formatKinds(batch.Exports))
	fmt.Fprintf(p.w, "  destination: %s\n", formatDestination(batch.Destination))
	fmt.Fprintf(p.w, "  encoder: %s level=%s size=%d share_size=%d\n",
		eff.Encoder, eff.Raster.Level, eff.Raster.Size, eff.ShareSize,
	)
	fmt.Fprintf(p.w, "  paper: %s\n", eff.Paper.Name)
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  upload: %s\n", formatUpload(eff))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", eff.OutDir)
	fmt.Fprintf(p.w, "  cache: %s\n", filepath.Join(eff.OutDir, "cache"))
	fmt.Fprintln(p.w)
	fmt.Fprintf(p.w, "位图: workers=%d total=%d\n\n", workers, total)
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "rasters":
		fmt.Fprintf(p.w, "\n位图完成: ok=%d failed=%d (%s)\n",
			intField(fields, "ok"), intField(fields, "failed"), formatShortDuration(dur),
		)
	case "upload":
		fmt.Fprintf(p.w, "上传: %s objects=%d (%s)\n",
			strField(fields, "status"), intField(fields, "objects"), formatShortDuration(dur),
		)
	default:
		// 其余阶段是各个 ExportKind。
		status := strings.ToUpper(strField(fields, "status"))
		if code := strField(fields, "error_code"); code != "" {
			fmt.Fprintf(p.w, "导出 %s: %s %s (%s)\n", name, status, code, formatShortDuration(dur))
			break
		}
		extra := ""
		if n := intField(fields, "files"); n > 0 {
			extra = fmt.Sprintf(" files=%d", n)
		}
		fmt.Fprintf(p.w, "导出 %s: %s bytes=%d%s (%s)\n",
			name, status, int64Field(fields, "bytes"), extra, formatShortDuration(dur),
		)
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, addressID string, err error, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL: %s (%s)\n",
			idx, total, addressID, truncate(err.Error(), 160), formatShortDuration(dur),
		)
	} else {
		// 成功的条目很多时逐条打印是噪音：只在整十或最后一条时输出。
		if idx%10 == 0 || idx == total {
			fmt.Fprintf(p.w, "[%d/%d] %s OK (%s)\n", idx, total, addressID, formatShortDuration(dur))
		}
	}
	p.lastPrinted = time.Now()
}

func (p *progressUI) OnProgress(done, total, ok, fail, active int, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if total == 0 || done >= total || time.Since(p.lastPrinted) <= p.keepaliveThreshold {
		return
	}
	fmt.Fprintf(p.w, "进度: done=%d/%d ok=%d fail=%d active=%d elapsed=%s\n",
		done, total, ok, fail, active, formatElapsed(elapsed),
	)
	p.lastPrinted = time.Now()
}

func formatKinds(kinds []domain.ExportKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}

func formatDestination(d domain.Destination) string {
	switch v := d.(type) {
	case domain.FixedURL:
		return "fixed_url " + truncate(v.URL, 120)
	case domain.PerAddressURL:
		return "per_address_url " + truncate(v.Template, 120)
	default:
		return "-"
	}
}

func formatUpload(eff config.EffectiveConfig) string {
	if !eff.Upload {
		return "off"
	}
	switch eff.StoreKind {
	case "http":
		return "http " + truncate(eff.StoreBaseURL, 120)
	default:
		return eff.StoreKind + " " + eff.StoreRoot
	}
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	return int(int64Field(fields, key))
}

func int64Field(fields map[string]any, key string) int64 {
	switch x := fields[key].(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	default:
		return 0
	}
}

func strField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
