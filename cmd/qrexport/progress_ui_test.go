package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/qrexport/internal/config"
	"github.com/John-Robertt/qrexport/internal/domain"
)

func TestProgressUI_Events(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf, config.EffectiveConfig{OutDir: "/tmp/out", Concurrency: 2, Encoder: "skip2"})
	p.OnStart(domain.BatchConfig{
		Name:        "Spring",
		Exports:     []domain.ExportKind{domain.KindPNGSet, domain.KindZIPArchive},
		Destination: domain.FixedURL{URL: "https://example.com"},
	}, 2, 2)
	p.OnItemDone(1, 2, "a", errors.New("encode failed"), time.Second)
	p.OnItemDone(2, 2, "b", nil, time.Second)
	p.OnPhaseDone("rasters", map[string]any{"ok": 1, "failed": 1}, 2*time.Second)
	p.OnPhaseDone("zip_archive", map[string]any{"status": "ok", "bytes": int64(2048)}, time.Second)
	p.OnPhaseDone("pdf_grid", map[string]any{"status": "failed", "error_code": "writer_failed"}, time.Second)

	out := buf.String()
	for _, want := range []string{
		"配置（生效）",
		"exports: png_set,zip_archive",
		"[1/2] a FAIL: encode failed",
		"[2/2] b OK",
		"位图完成: ok=1 failed=1",
		"导出 zip_archive: OK bytes=2048",
		"导出 pdf_grid: FAILED writer_failed",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
}

func TestProgressUI_KeepaliveOnlyAfterQuietPeriod(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf, config.EffectiveConfig{})
	p.keepaliveThreshold = time.Hour
	p.lastPrinted = time.Now()

	p.OnProgress(1, 4, 1, 0, 2, 3*time.Second)
	if strings.Contains(buf.String(), "进度:") {
		t.Fatalf("刚输出过不应打印 keepalive：\n%s", buf.String())
	}

	p.lastPrinted = time.Now().Add(-2 * time.Hour)
	p.OnProgress(1, 4, 1, 0, 2, 3725*time.Second)
	if !strings.Contains(buf.String(), "进度: done=1/4 ok=1 fail=0 active=2 elapsed=01:02:05") {
		t.Fatalf("静默超过阈值后应打印 keepalive：\n%s", buf.String())
	}

	buf.Reset()
	p.lastPrinted = time.Now().Add(-2 * time.Hour)
	p.OnProgress(4, 4, 4, 0, 0, time.Minute)
	if buf.Len() != 0 {
		t.Fatalf("全部完成后不应再打印 keepalive：%q", buf.String())
	}
}

func TestFormatProxy(t *testing.T) {
	if got := formatProxy(""); got != "off" {
		t.Fatalf("期望 off，实际 %q", got)
	}
	if got := formatProxy("http://u:p@proxy:8080"); got != "on (http://proxy:8080, auth=on)" {
		t.Fatalf("代理格式不符合预期：%q", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(3725 * time.Second); got != "01:02:05" {
		t.Fatalf("期望 01:02:05，实际 %q", got)
	}
	if got := truncate("abcdefgh", 6); got != "abc..." {
		t.Fatalf("截断不符合预期：%q", got)
	}
}
