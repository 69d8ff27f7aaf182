package layout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/John-Robertt/qrexport/internal/infra/fsx"
	"github.com/signintech/gopdf"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
)

const fontFamily = "goregular"

// Item 是一个待排版单元：PNG 编码的码位图 + 标签。
type Item struct {
	Label string
	PNG   []byte
}

// Options 是 PDF 渲染参数。
type Options struct {
	Paper    Paper
	FontSize float64
}

// Result 描述一个已落盘的 PDF。
type Result struct {
	Path  string
	Pages int
	Bytes int64
}

var labelFont = sync.OnceValues(func() (*sfnt.Font, error) {
	return sfnt.Parse(goregular.TTF)
})

// printable 把内嵌字体缺字的字符替换为 '?'，控制字符替换为空格。
func printable(s string) (string, error) {
	f, err := labelFont()
	if err != nil {
		return "", err
	}
	var buf sfnt.Buffer
	var b strings.Builder
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			b.WriteByte(' ')
			continue
		}
		gi, err := f.GlyphIndex(&buf, r)
		if err != nil || gi == 0 {
			b.WriteByte('?')
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String()), nil
}

func newDocument(p Paper, fontSize float64) (*gopdf.GoPdf, error) {
	if p.W <= 0 || p.H <= 0 {
		return nil, fmt.Errorf("纸张尺寸无效：%+v", p)
	}
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{Unit: gopdf.UnitPT, PageSize: gopdf.Rect{W: p.W, H: p.H}})
	if err := pdf.AddTTFFontData(fontFamily, goregular.TTF); err != nil {
		return nil, fmt.Errorf("加载字体失败：%w", err)
	}
	if err := pdf.SetFont(fontFamily, "", fontSize); err != nil {
		return nil, fmt.Errorf("设置字体失败：%w", err)
	}
	return pdf, nil
}

func drawPNG(pdf *gopdf.GoPdf, b []byte, x, y, size float64) error {
	h, err := gopdf.ImageHolderByBytes(b)
	if err != nil {
		return err
	}
	return pdf.ImageByHolder(h, x, y, &gopdf.Rect{W: size, H: size})
}

func measureWith(pdf *gopdf.GoPdf) Measure {
	return func(s string) (float64, error) {
		return pdf.MeasureTextWidth(s)
	}
}

// save 把 pdf 原子写入 dir/name。
func save(ctx context.Context, pdf *gopdf.GoPdf, dir, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := fsx.Create(dir, name)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Abort() }()
	if err := pdf.Write(f); err != nil {
		return 0, fmt.Errorf("写出 PDF 失败：%w", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := f.Size()
	if err := f.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return errors.New("没有可排版的条目")
	}
	for i, it := range items {
		if len(it.PNG) == 0 {
			return fmt.Errorf("第 %d 个条目缺少位图", i)
		}
	}
	return nil
}
