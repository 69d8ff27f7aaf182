package layout

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

// 每个字符 5pt 宽的等宽度量。
func mono(s string) (float64, error) { return float64(utf8.RuneCountInString(s)) * 5, nil }

func TestPlanGrid_Pagination(t *testing.T) {
	counts := []int{1, 6, 7, 12, 13, 25}
	want := []int{1, 1, 2, 2, 2, 3}
	for i, n := range counts {
		for _, paper := range []Paper{A4, Letter} {
			plan, err := PlanGrid(n, paper)
			if err != nil {
				t.Fatalf("PlanGrid(%d) 失败：%v", n, err)
			}
			if plan.Pages != want[i] {
				t.Fatalf("n=%d %s：期望 %d 页，实际 %d", n, paper.Name, want[i], plan.Pages)
			}
			perPage := map[int]int{}
			for _, c := range plan.Cells {
				perPage[c.Page]++
			}
			for p, k := range perPage {
				if k > plan.PerPage {
					t.Fatalf("n=%d 第 %d 页放了 %d 个，超过 %d", n, p, k, plan.PerPage)
				}
			}
			if len(plan.Cells) != n {
				t.Fatalf("n=%d cells 数量不符：%d", n, len(plan.Cells))
			}
		}
	}
}

func TestPlanGrid_Density(t *testing.T) {
	p, _ := PlanGrid(12, A4)
	if p.Cols != 2 || p.Rows != 3 || p.PerPage != 6 {
		t.Fatalf("12 个应为 2x3：%+v", p)
	}
	p, _ = PlanGrid(13, A4)
	if p.Cols != 3 || p.Rows != 3 || p.PerPage != 9 {
		t.Fatalf("13 个应为 3x3：%+v", p)
	}
}

func TestPlanGrid_CellsInsideMarginsAndDisjoint(t *testing.T) {
	for _, n := range []int{6, 9, 20} {
		plan, err := PlanGrid(n, Letter)
		if err != nil {
			t.Fatalf("PlanGrid 失败：%v", err)
		}
		const eps = 1e-6
		for _, c := range plan.Cells {
			if c.X < Margin-eps || c.Y < Margin-eps {
				t.Fatalf("格子越过左/上边距：%+v", c)
			}
			if c.X+c.Size > Letter.W-Margin+eps || c.LabelY+LabelBand > Letter.H-Margin+eps {
				t.Fatalf("格子越过右/下边距：%+v", c)
			}
			if c.LabelY != c.Y+c.Size {
				t.Fatalf("标签带应紧贴码下沿：%+v", c)
			}
		}
		for i := 0; i < len(plan.Cells); i++ {
			for j := i + 1; j < len(plan.Cells); j++ {
				a, b := plan.Cells[i], plan.Cells[j]
				if a.Page != b.Page {
					continue
				}
				overlapX := a.X < b.X+b.Size && b.X < a.X+a.Size
				overlapY := a.Y < b.LabelY+LabelBand && b.Y < a.LabelY+LabelBand
				if overlapX && overlapY {
					t.Fatalf("格子重叠：%+v %+v", a, b)
				}
			}
		}
		// 最后一列/行贴住右/下边距：剩余空间全部分配为间距。
		last := plan.Cells[plan.Cols*plan.Rows-1]
		if d := Letter.W - Margin - (last.X + last.Size); d > 1e-6 || d < -1e-6 {
			t.Fatalf("右侧剩余空间应为 0，实际 %v", d)
		}
	}
}

func TestPlanGrid_Deterministic(t *testing.T) {
	a, _ := PlanGrid(25, A4)
	b, _ := PlanGrid(25, A4)
	for i := range a.Cells {
		if a.Cells[i] != b.Cells[i] {
			t.Fatalf("相同输入应得到相同排版：%+v vs %+v", a.Cells[i], b.Cells[i])
		}
	}
	// 第 10 个条目（下标 9）是第 2 页第 1 格。
	if a.Cells[9].Page != 1 || a.Cells[9].X != a.Cells[0].X || a.Cells[9].Y != a.Cells[0].Y {
		t.Fatalf("换页后应从首格开始：%+v", a.Cells[9])
	}
}

func TestPlanGrid_Invalid(t *testing.T) {
	if _, err := PlanGrid(0, A4); err == nil {
		t.Fatalf("期望 n=0 报错")
	}
	if _, err := PlanGrid(3, Paper{W: 40, H: 40}); err == nil {
		t.Fatalf("期望纸张过小报错")
	}
}

func TestTruncateMiddle(t *testing.T) {
	got, _ := TruncateMiddle("short", 100, mono)
	if got != "short" {
		t.Fatalf("不应截断：%q", got)
	}
	got, _ = TruncateMiddle("161 Sprucewood Crescent", 50, mono)
	if w, _ := mono(got); w > 50 {
		t.Fatalf("截断后仍超宽：%q", got)
	}
	if !strings.Contains(got, ellipsis) || !strings.HasPrefix(got, "161") || !strings.HasSuffix(got, "nt") {
		t.Fatalf("应保留首尾并插入省略号：%q", got)
	}
	got, _ = TruncateMiddle("abc", 1, mono)
	if got != "" {
		t.Fatalf("放不下省略号时应返回空串：%q", got)
	}
	boom := errors.New("boom")
	if _, err := TruncateMiddle("x", 1, func(string) (float64, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("应透传度量错误：%v", err)
	}
}

func TestWrap(t *testing.T) {
	lines, err := Wrap("161 Sprucewood Crescent, Springfield", 60, mono)
	if err != nil {
		t.Fatalf("Wrap 失败：%v", err)
	}
	want := []string{"161", "Sprucewood", "Crescent,", "Springfield"}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("期望 %q，实际 %q", want, lines)
	}
	lines, _ = Wrap("a b c", 100, mono)
	if len(lines) != 1 || lines[0] != "a b c" {
		t.Fatalf("不应折行：%q", lines)
	}
	lines, _ = Wrap("abcdefghij", 20, mono)
	if strings.Join(lines, "|") != "abcd|efgh|ij" {
		t.Fatalf("超长单词应按字符断开：%q", lines)
	}
	if lines, _ := Wrap("   ", 20, mono); len(lines) != 0 {
		t.Fatalf("空白输入应无行：%q", lines)
	}
}

func TestClampLines(t *testing.T) {
	out, _ := clampLines([]string{"aaaa", "bbbb", "cccc"}, 2, 20, mono)
	if len(out) != 2 || out[1] != "bbb"+ellipsis {
		t.Fatalf("期望截到两行并以省略号结尾：%q", out)
	}
}

func TestPlanSingle(t *testing.T) {
	p, err := PlanSingle("161 Sprucewood Crescent", A4, 14, mono)
	if err != nil {
		t.Fatalf("PlanSingle 失败：%v", err)
	}
	if p.Size != SingleCodeSize || p.Y != SingleTop {
		t.Fatalf("码尺寸/上边距不符合预期：%+v", p)
	}
	if d := p.X + p.Size/2 - A4.W/2; d > 1e-6 || d < -1e-6 {
		t.Fatalf("码应水平居中：%+v", p)
	}
	if len(p.Lines) != 1 || p.LineY0 <= p.Y+p.Size {
		t.Fatalf("标签应在码下方单行：%+v", p)
	}

	long := strings.Repeat("word ", 400)
	p, _ = PlanSingle(long, Letter, 14, mono)
	if last := p.LineY0 + float64(len(p.Lines))*p.LineH; last > Letter.H-Margin {
		t.Fatalf("标签超出页面：%v", last)
	}
	if !strings.HasSuffix(p.Lines[len(p.Lines)-1], ellipsis) {
		t.Fatalf("被截断的标签应以省略号结尾：%q", p.Lines[len(p.Lines)-1])
	}
}

func TestPaperForLocale(t *testing.T) {
	cases := map[string]Paper{
		"en_US.UTF-8": Letter,
		"en-CA":       Letter,
		"es_MX":       Letter,
		"en_GB.UTF-8": A4,
		"de_DE":       A4,
		"zh_CN.UTF-8": A4,
		"C":           A4,
		"":            A4,
		"!!":          A4,
	}
	for in, want := range cases {
		if got := PaperForLocale(in); got != want {
			t.Fatalf("%q：期望 %s，实际 %s", in, want.Name, got.Name)
		}
	}
}

func testItems(n int) []Item {
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x/4+y/4)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{Label: "12 Rue de l’Église, Montréal 日本", PNG: buf.Bytes()}
	}
	return items
}

func assertPDF(t *testing.T, path string, res Result) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取 PDF 失败：%v", err)
	}
	if !bytes.HasPrefix(b, []byte("%PDF-")) {
		t.Fatalf("不是 PDF：%q", b[:min(len(b), 8)])
	}
	if res.Bytes != int64(len(b)) {
		t.Fatalf("Bytes 不一致：%d vs %d", res.Bytes, len(b))
	}
}

func TestWriteGrid(t *testing.T) {
	dir := t.TempDir()
	res, err := WriteGrid(context.Background(), dir, "batch_grid.pdf", testItems(13), Options{Paper: A4})
	if err != nil {
		t.Fatalf("WriteGrid 失败：%v", err)
	}
	if res.Pages != 2 || res.Path != filepath.Join(dir, "batch_grid.pdf") {
		t.Fatalf("结果不符合预期：%+v", res)
	}
	assertPDF(t, res.Path, res)
}

func TestWriteSingle(t *testing.T) {
	dir := t.TempDir()
	res, err := WriteSingle(context.Background(), dir, "batch_single.pdf", testItems(3), Options{Paper: Letter})
	if err != nil {
		t.Fatalf("WriteSingle 失败：%v", err)
	}
	if res.Pages != 3 {
		t.Fatalf("期望 3 页，实际 %d", res.Pages)
	}
	assertPDF(t, res.Path, res)
}

func TestWritePDF_CanceledLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WriteGrid(ctx, dir, "g.pdf", testItems(2), Options{Paper: A4}); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("取消后不应留下文件：%v", entries)
	}
}

func TestWritePDF_InvalidItems(t *testing.T) {
	if _, err := WriteSingle(context.Background(), t.TempDir(), "s.pdf", nil, Options{Paper: A4}); err == nil {
		t.Fatalf("期望空输入报错")
	}
	if _, err := WriteGrid(context.Background(), t.TempDir(), "g.pdf", []Item{{Label: "x"}}, Options{Paper: A4}); err == nil {
		t.Fatalf("期望缺少位图报错")
	}
}

func TestPrintable(t *testing.T) {
	got, err := printable("Main St\n日本")
	if err != nil {
		t.Fatalf("printable 失败：%v", err)
	}
	if got != "Main St ??" {
		t.Fatalf("期望缺字替换为 '?'，实际 %q", got)
	}
}
