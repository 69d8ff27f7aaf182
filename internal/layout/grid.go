package layout

import (
	"context"
	"fmt"
	"math"

	"github.com/signintech/gopdf"
)

const (
	// Margin 是页面四周的固定边距（pt）。
	Margin = 24.0
	// LabelBand 是每个格子码下方为标签预留的高度（pt）。
	LabelBand = 30.0
	// DenseThreshold：条目数超过该值时使用 3x3，否则 2x3。
	DenseThreshold = 12

	gridFontSize = 9.0
	codeFill     = 0.9
)

// Cell 是一个条目在页面上的位置。坐标原点在左上角，单位 pt。
type Cell struct {
	Page  int
	Index int
	X, Y  float64
	Size  float64
	// LabelY 是标签带的上沿（紧贴码的下沿），标签带宽度等于 Size。
	LabelY float64
}

// GridPlan 是网格版式的完整排版结果。
type GridPlan struct {
	Paper   Paper
	Cols    int
	Rows    int
	PerPage int
	Pages   int
	Cells   []Cell
}

// GridDensity 返回 n 个条目时的列数与行数。
func GridDensity(n int) (cols, rows int) {
	if n > DenseThreshold {
		return 3, 3
	}
	return 2, 3
}

// PlanGrid 计算 n 个条目在 paper 上的分页与格子坐标。
//
// 码边长取（格宽, 格高-标签带）中较小者的 90%，剩余空间平均分配为格子间距。
// 结果只依赖 n 与 paper：相同输入得到相同的页数与坐标。
func PlanGrid(n int, paper Paper) (GridPlan, error) {
	if n <= 0 {
		return GridPlan{}, fmt.Errorf("条目数必须为正数：%d", n)
	}
	cols, rows := GridDensity(n)
	availW := paper.W - 2*Margin
	availH := paper.H - 2*Margin
	size := math.Floor(math.Min(availW/float64(cols), availH/float64(rows)-LabelBand) * codeFill)
	if size <= 0 {
		return GridPlan{}, fmt.Errorf("纸张过小：%+v", paper)
	}
	gapX := (availW - float64(cols)*size) / float64(cols-1)
	gapY := (availH - float64(rows)*(size+LabelBand)) / float64(rows-1)

	per := cols * rows
	plan := GridPlan{
		Paper:   paper,
		Cols:    cols,
		Rows:    rows,
		PerPage: per,
		Pages:   (n + per - 1) / per,
		Cells:   make([]Cell, 0, n),
	}
	for i := 0; i < n; i++ {
		slot := i % per
		col, row := slot%cols, slot/cols
		x := Margin + float64(col)*(size+gapX)
		y := Margin + float64(row)*(size+LabelBand+gapY)
		plan.Cells = append(plan.Cells, Cell{
			Page:   i / per,
			Index:  i,
			X:      x,
			Y:      y,
			Size:   size,
			LabelY: y + size,
		})
	}
	return plan, nil
}

// WriteGrid 把 items 按网格版式写入 dir/name。
func WriteGrid(ctx context.Context, dir, name string, items []Item, opts Options) (Result, error) {
	if err := validateItems(items); err != nil {
		return Result{}, err
	}
	if opts.FontSize <= 0 {
		opts.FontSize = gridFontSize
	}
	plan, err := PlanGrid(len(items), opts.Paper)
	if err != nil {
		return Result{}, err
	}
	pdf, err := newDocument(opts.Paper, opts.FontSize)
	if err != nil {
		return Result{}, err
	}
	measure := measureWith(pdf)

	page := -1
	for i, c := range plan.Cells {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if c.Page != page {
			pdf.AddPage()
			page = c.Page
		}
		if err := drawPNG(pdf, items[i].PNG, c.X, c.Y, c.Size); err != nil {
			return Result{}, fmt.Errorf("绘制第 %d 个码失败：%w", i, err)
		}
		label, err := printable(items[i].Label)
		if err != nil {
			return Result{}, err
		}
		label, err = TruncateMiddle(label, c.Size, measure)
		if err != nil {
			return Result{}, err
		}
		if label == "" {
			continue
		}
		pdf.SetXY(c.X, c.LabelY)
		if err := pdf.CellWithOption(&gopdf.Rect{W: c.Size, H: LabelBand}, label, gopdf.CellOption{Align: gopdf.Center | gopdf.Middle}); err != nil {
			return Result{}, fmt.Errorf("绘制第 %d 个标签失败：%w", i, err)
		}
	}

	n, err := save(ctx, pdf, dir, name)
	if err != nil {
		return Result{}, err
	}
	return Result{Path: pdfPath(dir, name), Pages: plan.Pages, Bytes: n}, nil
}
