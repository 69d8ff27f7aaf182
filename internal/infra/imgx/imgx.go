package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
)

// ScaleNearest 把 src 放大/缩小到 size x size，采用最近邻采样（不产生模糊的模块边缘）。
//
// 约束：
// - 输出固定为 *image.NRGBA
// - 允许非整数倍缩放（模块宽度可能相差 1px，但边缘始终锐利）
func ScaleNearest(src image.Image, size int) (*image.NRGBA, error) {
	if src == nil {
		return nil, errors.New("图片为空")
	}
	if size <= 0 {
		return nil, errors.New("目标尺寸必须为正数")
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst, nil
}

// CenterOnWhite 把 img 居中绘制到 size x size 的不透明白色画布上。
// img 超出画布的部分会被裁掉（调用方负责留出 quiet space）。
func CenterOnWhite(img image.Image, size int) (image.Image, error) {
	if img == nil {
		return nil, errors.New("图片为空")
	}
	if size <= 0 {
		return nil, errors.New("目标尺寸必须为正数")
	}
	dc := gg.NewContext(size, size)
	dc.SetColor(color.White)
	dc.Clear()
	dc.DrawImageAnchored(img, size/2, size/2, 0.5, 0.5)
	return dc.Image(), nil
}

// EncodePNG 把 img 编码为 PNG。
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("图片为空")
	}
	var out bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&out, img); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
