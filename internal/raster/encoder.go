// Package raster 把一个 URL 字符串渲染为固定尺寸的 QR 位图。
//
// QR 符号本身由可插拔的 Encoder 生成（只产出模块矩阵）；本包负责 quiet space、
// 最近邻放大与（可选的）白色背景合成。
package raster

import (
	"fmt"
	"sort"
	"strings"
)

// Level 是 QR 纠错等级。零值 LevelDefault 等价于 LevelHigh。
type Level int

const (
	LevelDefault Level = iota
	LevelLow
	LevelMedium
	LevelQuartile
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelQuartile:
		return "quartile"
	default:
		return "high"
	}
}

// ParseLevel 解析纠错等级；空串返回默认 high。
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "high", "h":
		return LevelHigh, nil
	case "quartile", "q":
		return LevelQuartile, nil
	case "medium", "m":
		return LevelMedium, nil
	case "low", "l":
		return LevelLow, nil
	default:
		return 0, fmt.Errorf("未知纠错等级：%q（可选：low|medium|quartile|high）", s)
	}
}

// Matrix 是不含 quiet zone 的方形模块矩阵：m[y][x]==true 表示深色模块。
type Matrix [][]bool

// Size 返回每边的模块数。
func (m Matrix) Size() int { return len(m) }

func (m Matrix) validate() error {
	n := len(m)
	if n == 0 {
		return fmt.Errorf("模块矩阵为空")
	}
	for y := range m {
		if len(m[y]) != n {
			return fmt.Errorf("模块矩阵不是方形：第 %d 行长度 %d，期望 %d", y, len(m[y]), n)
		}
	}
	return nil
}

// Encoder 把字符串编码为 QR 模块矩阵。
//
// 约束：
// - 返回的矩阵不含 quiet zone（由 Render 统一添加）
// - 必须是纯函数：相同输入 => 相同矩阵
// - 实现必须并发安全（编排器会在多个 worker 中共享同一个 Encoder）
type Encoder interface {
	Name() string
	Encode(content string, level Level) (Matrix, error)
}

// DefaultEncoder 是未配置时使用的编码器名。
const DefaultEncoder = "skip2"

var encoders = map[string]Encoder{
	"skip2":     Skip2Encoder{},
	"boombuler": BoombulerEncoder{},
	"rsc":       RSCEncoder{},
}

// EncoderNames 返回已注册的编码器名（字典序）。
func EncoderNames() []string {
	out := make([]string, 0, len(encoders))
	for k := range encoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LookupEncoder 按名字查找编码器；空串返回默认编码器。
func LookupEncoder(name string) (Encoder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultEncoder
	}
	e, ok := encoders[name]
	if !ok {
		return nil, fmt.Errorf("未知 QR 编码器：%q（可选：%s）", name, strings.Join(EncoderNames(), "|"))
	}
	return e, nil
}
