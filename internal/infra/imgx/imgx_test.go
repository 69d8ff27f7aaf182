package imgx

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestScaleNearest_KeepsEdgesSharp(t *testing.T) {
	// 2x2 棋盘放大到 10x10：每个像素必须是纯黑或纯白（没有插值出的灰色）。
	src := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	src.Set(0, 0, color.Black)
	src.Set(1, 1, color.Black)
	src.Set(1, 0, color.White)
	src.Set(0, 1, color.White)

	dst, err := ScaleNearest(src, 10)
	if err != nil {
		t.Fatalf("ScaleNearest 失败：%v", err)
	}
	if dst.Bounds().Dx() != 10 || dst.Bounds().Dy() != 10 {
		t.Fatalf("尺寸不符合预期：%v", dst.Bounds())
	}
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			c := dst.NRGBAAt(x, y)
			if !(c.R == 0 && c.G == 0 && c.B == 0) && !(c.R == 255 && c.G == 255 && c.B == 255) {
				t.Fatalf("(%d,%d) 出现插值颜色：%v", x, y, c)
			}
		}
	}
	if c := dst.NRGBAAt(2, 2); c.R != 0 {
		t.Fatalf("左上象限应为黑色：%v", c)
	}
	if c := dst.NRGBAAt(7, 2); c.R != 255 {
		t.Fatalf("右上象限应为白色：%v", c)
	}
}

func TestScaleNearest_Invalid(t *testing.T) {
	if _, err := ScaleNearest(nil, 10); err == nil {
		t.Fatalf("期望空输入返回错误")
	}
	if _, err := ScaleNearest(image.NewNRGBA(image.Rect(0, 0, 1, 1)), 0); err == nil {
		t.Fatalf("期望 size=0 返回错误")
	}
}

func TestCenterOnWhite(t *testing.T) {
	inner := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			inner.Set(x, y, color.Black)
		}
	}
	out, err := CenterOnWhite(inner, 8)
	if err != nil {
		t.Fatalf("CenterOnWhite 失败：%v", err)
	}
	corner := color.RGBAModel.Convert(out.At(0, 0)).(color.RGBA)
	if corner.R != 255 || corner.A != 255 {
		t.Fatalf("角落应为不透明白色：%v", corner)
	}
	center := color.RGBAModel.Convert(out.At(4, 4)).(color.RGBA)
	if center.R != 0 || center.A != 255 {
		t.Fatalf("中心应为黑色：%v", center)
	}
}

func TestEncodePNG_Decodable(t *testing.T) {
	b, err := EncodePNG(image.NewGray(image.Rect(0, 0, 3, 3)))
	if err != nil {
		t.Fatalf("EncodePNG 失败：%v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("PNG 解码失败：%v", err)
	}
	if img.Bounds().Dx() != 3 {
		t.Fatalf("尺寸不符合预期：%v", img.Bounds())
	}
}
