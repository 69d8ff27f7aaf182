package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/John-Robertt/qrexport/internal/domain"
	"github.com/John-Robertt/qrexport/internal/infra/imgx"
)

const (
	// DefaultSize 是版式（PDF）使用的位图边长。
	DefaultSize = 600
	// ShareSize 是高分辨率分享/PNG 产物使用的位图边长。
	ShareSize = 1024
	// DefaultQuietZone 是 QR 规范建议的最小 quiet space（模块数）。
	DefaultQuietZone = 4
	// NoQuietZone 显式关闭 quiet space（Options.QuietZone 的零值表示使用默认值）。
	NoQuietZone = -1
)

// Background 决定浅色模块与 quiet space 的填充方式。
type Background int

const (
	// BackgroundWhite：不透明白色画布，码居中。
	BackgroundWhite Background = iota
	// BackgroundTransparent：浅色模块与 quiet space 全透明。
	BackgroundTransparent
)

// ParseBackground 解析背景模式；空串返回默认 white。
func ParseBackground(s string) (Background, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "white", "opaque":
		return BackgroundWhite, nil
	case "transparent", "none":
		return BackgroundTransparent, nil
	default:
		return 0, fmt.Errorf("未知背景模式：%q（可选：white|transparent）", s)
	}
}

// Options 是一次渲染的参数。零值字段使用默认值（见 WithDefaults）。
type Options struct {
	Size  int
	Level Level
	// QuietZone 是四周留白的模块数：0 取 DefaultQuietZone，负数（NoQuietZone）表示不留白。
	QuietZone  int
	Background Background
}

// WithDefaults 补齐零值字段：600px、high、4 模块 quiet space。可重复调用。
func (o Options) WithDefaults() Options {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.Level == LevelDefault {
		o.Level = LevelHigh
	}
	if o.QuietZone == 0 {
		o.QuietZone = DefaultQuietZone
	}
	if o.QuietZone < 0 {
		o.QuietZone = NoQuietZone
	}
	return o
}

// quiet 返回实际留白的模块数。
func (o Options) quiet() int { return max(o.QuietZone, 0) }

// DefaultOptions 返回 600px / high / 4 模块 quiet space / 白底。
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Level: LevelHigh, QuietZone: DefaultQuietZone, Background: BackgroundWhite}
}

// renderFunc 便于测试观察 Generate 是否进入渲染阶段。
var renderFunc = Render

// Render 把模块矩阵渲染为 Size x Size 的位图。
//
// - white：只放大模块矩阵本身，再居中绘制到白色画布（四周留 QuietZone 个模块宽度）
// - transparent：把“矩阵 + quiet zone”整体放大，浅色部分 alpha=0
func Render(m Matrix, opts Options) (image.Image, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	opts = opts.WithDefaults()

	n := m.Size()
	total := n + 2*opts.quiet()
	if opts.Size < total {
		return nil, fmt.Errorf("目标尺寸 %dpx 小于模块数 %d（含 quiet zone），无法保证每个模块至少 1px", opts.Size, total)
	}

	if opts.Background == BackgroundTransparent {
		src := image.NewNRGBA(image.Rect(0, 0, total, total))
		paintModules(src, m, opts.quiet())
		return imgx.ScaleNearest(src, opts.Size)
	}

	src := image.NewNRGBA(image.Rect(0, 0, n, n))
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
		}
	}
	paintModules(src, m, 0)
	inner := opts.Size * n / total
	scaled, err := imgx.ScaleNearest(src, inner)
	if err != nil {
		return nil, err
	}
	return imgx.CenterOnWhite(scaled, opts.Size)
}

func paintModules(dst *image.NRGBA, m Matrix, offset int) {
	dark := color.NRGBA{A: 255}
	for y := range m {
		for x, on := range m[y] {
			if on {
				dst.SetNRGBA(x+offset, y+offset, dark)
			}
		}
	}
}

// Generate 编码并渲染 content。
//
// 编码在独立 goroutine 中执行：ctx 取消/超时时立即返回 ctx.Err()，不会无限阻塞调用方。
// 第三方编码器不可中断：超时后被放弃的 goroutine 仍会跑完当前 Encode，但不会再进入 Render。
func Generate(ctx context.Context, enc Encoder, content string, opts Options) (image.Image, error) {
	if enc == nil {
		return nil, errors.New("encoder 不能为空")
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("待编码内容为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts = opts.WithDefaults()

	type result struct {
		img image.Image
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := enc.Encode(content, opts.Level)
		if err != nil {
			ch <- result{err: fmt.Errorf("%s 编码失败：%w", enc.Name(), err)}
			return
		}
		if err := ctx.Err(); err != nil {
			ch <- result{err: err}
			return
		}
		img, err := renderFunc(m, opts)
		ch <- result{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.img, r.err
	}
}

// Artifact 是一个地址的渲染结果。由请求它的阶段独占；被写出后即丢弃。
type Artifact struct {
	AddressID string
	Label     string
	Source    string
	Image     image.Image
}

// Generator 绑定 Encoder 与 Options，供编排器按地址调用。
type Generator struct {
	Encoder Encoder
	Options Options
}

// Generate 为一个地址生成 Artifact。
func (g Generator) Generate(ctx context.Context, addr domain.Address) (Artifact, error) {
	img, err := Generate(ctx, g.Encoder, addr.DestinationURL, g.Options)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		AddressID: addr.ID,
		Label:     addr.DisplayLabel,
		Source:    addr.DestinationURL,
		Image:     img,
	}, nil
}
