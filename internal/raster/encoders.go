package raster

import (
	"fmt"

	"github.com/boombuler/barcode"
	bqr "github.com/boombuler/barcode/qr"
	qrcode "github.com/skip2/go-qrcode"
	rscqr "rsc.io/qr"
)

// Skip2Encoder 基于 github.com/skip2/go-qrcode（默认）。
type Skip2Encoder struct{}

func (Skip2Encoder) Name() string { return "skip2" }

func (Skip2Encoder) Encode(content string, level Level) (Matrix, error) {
	// skip2 的等级命名偏移一档：High=Q(25%)，Highest=H(30%)。
	var lv qrcode.RecoveryLevel
	switch level {
	case LevelLow:
		lv = qrcode.Low
	case LevelMedium:
		lv = qrcode.Medium
	case LevelQuartile:
		lv = qrcode.High
	default:
		lv = qrcode.Highest
	}
	q, err := qrcode.New(content, lv)
	if err != nil {
		return nil, err
	}
	return trimBorder(q.Bitmap())
}

// trimBorder 去掉 skip2 自带的 quiet zone：左上定位图形保证首个深色行即符号边界。
func trimBorder(bm [][]bool) (Matrix, error) {
	n := len(bm)
	b := -1
	for y := 0; y < n && b < 0; y++ {
		for _, on := range bm[y] {
			if on {
				b = y
				break
			}
		}
	}
	if b < 0 || n-2*b <= 0 {
		return nil, fmt.Errorf("skip2 位图为空")
	}
	m := make(Matrix, n-2*b)
	for y := range m {
		m[y] = append([]bool(nil), bm[y+b][b:n-b]...)
	}
	return m, nil
}

// BoombulerEncoder 基于 github.com/boombuler/barcode/qr。
type BoombulerEncoder struct{}

func (BoombulerEncoder) Name() string { return "boombuler" }

func (BoombulerEncoder) Encode(content string, level Level) (Matrix, error) {
	var lv bqr.ErrorCorrectionLevel
	switch level {
	case LevelLow:
		lv = bqr.L
	case LevelMedium:
		lv = bqr.M
	case LevelQuartile:
		lv = bqr.Q
	default:
		lv = bqr.H
	}
	code, err := bqr.Encode(content, lv, bqr.Auto)
	if err != nil {
		return nil, err
	}
	return matrixFromBarcode(code)
}

func matrixFromBarcode(code barcode.Barcode) (Matrix, error) {
	b := code.Bounds()
	if b.Dx() != b.Dy() {
		return nil, fmt.Errorf("barcode 不是方形：%dx%d", b.Dx(), b.Dy())
	}
	m := make(Matrix, b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := make([]bool, b.Dx())
		for x := 0; x < b.Dx(); x++ {
			r, _, _, _ := code.At(b.Min.X+x, b.Min.Y+y).RGBA()
			row[x] = r < 0x8000
		}
		m[y] = row
	}
	return m, nil
}

// RSCEncoder 基于 rsc.io/qr。
type RSCEncoder struct{}

func (RSCEncoder) Name() string { return "rsc" }

func (RSCEncoder) Encode(content string, level Level) (Matrix, error) {
	var lv rscqr.Level
	switch level {
	case LevelLow:
		lv = rscqr.L
	case LevelMedium:
		lv = rscqr.M
	case LevelQuartile:
		lv = rscqr.Q
	default:
		lv = rscqr.H
	}
	code, err := rscqr.Encode(content, lv)
	if err != nil {
		return nil, err
	}
	m := make(Matrix, code.Size)
	for y := 0; y < code.Size; y++ {
		row := make([]bool, code.Size)
		for x := 0; x < code.Size; x++ {
			row[x] = code.Black(x, y)
		}
		m[y] = row
	}
	return m, nil
}
