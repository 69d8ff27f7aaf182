// Package logx 构造二进制入口使用的 *slog.Logger。
//
// 日志只写 stderr：stdout 保留给机器可读的导出结果。
package logx

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel 解析 debug|info|warn|error；空串为 info。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("未知日志等级：%q（可选：debug|info|warn|error）", s)
	}
}

// New 返回写入 w 的 logger：终端上用文本格式，否则用 JSON（便于采集）。
func New(w io.Writer, level slog.Level, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if text {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard 返回丢弃所有输出的 logger（库代码的默认值）。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDiscard 在 l 为 nil 时返回 Discard()。
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
