package layout

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/signintech/gopdf"
)

const (
	// SingleCodeSize 是单页版式中码的边长（pt）。
	SingleCodeSize = 500.0
	// SingleTop 是码上沿到页面顶部的距离（pt）。
	SingleTop = 100.0

	singleFontSize = 14.0
	labelGap       = 12.0
	lineSpacing    = 1.3
)

// SinglePage 是单页版式中一页的排版结果。
type SinglePage struct {
	X, Y   float64
	Size   float64
	Lines  []string
	LineX  float64
	LineY0 float64
	LineH  float64
}

// PlanSingle 计算一个条目的页面排版：码水平居中、距顶 SingleTop；标签折行后居中放在码下方。
// 标签行数受页面剩余高度限制，超出部分以省略号收尾。
func PlanSingle(label string, paper Paper, fontSize float64, measure Measure) (SinglePage, error) {
	size := SingleCodeSize
	if paper.W-2*Margin < size {
		size = math.Floor(paper.W - 2*Margin)
	}
	if size <= 0 {
		return SinglePage{}, fmt.Errorf("纸张过小：%+v", paper)
	}
	p := SinglePage{
		X:     (paper.W - size) / 2,
		Y:     SingleTop,
		Size:  size,
		LineX: (paper.W - size) / 2,
		LineH: fontSize * lineSpacing,
	}
	p.LineY0 = p.Y + size + labelGap

	lines, err := Wrap(label, size, measure)
	if err != nil {
		return SinglePage{}, err
	}
	maxLines := int((paper.H - Margin - p.LineY0) / p.LineH)
	lines, err = clampLines(lines, maxLines, size, measure)
	if err != nil {
		return SinglePage{}, err
	}
	p.Lines = lines
	return p, nil
}

// WriteSingle 每页一个码，写入 dir/name。
func WriteSingle(ctx context.Context, dir, name string, items []Item, opts Options) (Result, error) {
	if err := validateItems(items); err != nil {
		return Result{}, err
	}
	if opts.FontSize <= 0 {
		opts.FontSize = singleFontSize
	}
	pdf, err := newDocument(opts.Paper, opts.FontSize)
	if err != nil {
		return Result{}, err
	}
	measure := measureWith(pdf)

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		label, err := printable(it.Label)
		if err != nil {
			return Result{}, err
		}
		p, err := PlanSingle(label, opts.Paper, opts.FontSize, measure)
		if err != nil {
			return Result{}, err
		}
		pdf.AddPage()
		if err := drawPNG(pdf, it.PNG, p.X, p.Y, p.Size); err != nil {
			return Result{}, fmt.Errorf("绘制第 %d 个码失败：%w", i, err)
		}
		for j, line := range p.Lines {
			pdf.SetXY(p.LineX, p.LineY0+float64(j)*p.LineH)
			if err := pdf.CellWithOption(&gopdf.Rect{W: p.Size, H: p.LineH}, line, gopdf.CellOption{Align: gopdf.Center | gopdf.Middle}); err != nil {
				return Result{}, fmt.Errorf("绘制第 %d 个标签失败：%w", i, err)
			}
		}
	}

	n, err := save(ctx, pdf, dir, name)
	if err != nil {
		return Result{}, err
	}
	return Result{Path: pdfPath(dir, name), Pages: len(items), Bytes: n}, nil
}

func pdfPath(dir, name string) string { return filepath.Join(filepath.Clean(dir), name) }
