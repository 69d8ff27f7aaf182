// Package csvmap 写出“地址 -> 相对图片路径”的两列 CSV。
//
// 格式：UTF-8、无 BOM、LF 换行；首行表头 `address,qr`；第二列为 `qr/<文件名>`。
package csvmap

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"

	"github.com/John-Robertt/qrexport/internal/infra/fsx"
)

// Header 是固定表头。
var Header = []string{"address", "qr"}

// Row 是映射中的一行。File 只是文件名，写出时加上 qr/ 前缀。
type Row struct {
	Address string
	File    string
}

// Path 返回第二列的值。
func (r Row) Path() string { return "qr/" + r.File }

// Result 描述已落盘的映射文件。
type Result struct {
	Path  string
	Rows  int
	Bytes int64
}

// Encode 把 rows 按输入顺序写入 w。
func Encode(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if r.File == "" {
			return errors.New("映射行缺少文件名：" + r.Address)
		}
		if err := cw.Write([]string{r.Address, r.Path()}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Write 原子写出 dir/name。
func Write(ctx context.Context, dir, name string, rows []Row) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, rows); err != nil {
		return Result{}, err
	}
	if err := fsx.WriteFileAtomic(dir, name, buf.Bytes()); err != nil {
		return Result{}, err
	}
	return Result{
		Path:  filepath.Join(filepath.Clean(dir), name),
		Rows:  len(rows),
		Bytes: int64(buf.Len()),
	}, nil
}
