// Package pngset 把每个地址的位图写成 <dir>/qr/<slug>.png。
package pngset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/qrexport/internal/infra/fsx"
	"github.com/John-Robertt/qrexport/internal/slug"
)

// SubDir 是 PNG 所在的子目录名（压缩包与 CSV 中的相对路径前缀）。
const SubDir = "qr"

// 可替换以便测试注入单项失败。
var writeFunc = fsx.WriteFileAtomic

// Entry 是一个待写出的地址位图（已编码的 PNG）。Label 决定文件名。
type Entry struct {
	AddressID string
	Label     string
	PNG       []byte
}

// File 是一个成功写出的 PNG。
type File struct {
	AddressID string
	Label     string
	Name      string // 仅文件名，例如 "12_elm_st.png"
	Path      string // 绝对/调用方给定的完整路径
	Bytes     int64
}

// RelPath 返回相对于批次根目录的路径（qr/<name>，始终使用 '/'）。
func (f File) RelPath() string { return SubDir + "/" + f.Name }

// ItemError 是单个地址的写出失败。
type ItemError struct {
	AddressID string
	Name      string
	Err       error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("写出 %s（%s）失败：%v", e.Name, e.AddressID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// Result 保持输入顺序：Files 为成功项，Failures 为失败项。
type Result struct {
	Dir      string
	Files    []File
	Failures []ItemError
}

// Names 返回 AddressID -> 实际文件名 的映射（供 CSV 与压缩包复用）。
func (r Result) Names() map[string]string {
	out := make(map[string]string, len(r.Files))
	for _, f := range r.Files {
		out[f.AddressID] = f.Name
	}
	return out
}

// Bytes 返回所有成功文件的字节数之和。
func (r Result) Bytes() int64 {
	var n int64
	for _, f := range r.Files {
		n += f.Bytes
	}
	return n
}

// AssignNames 按输入顺序为 entries 分配文件名（同名依次追加 _2、_3）。
func AssignNames(entries []Entry) []string {
	var namer slug.Namer
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = namer.Name(e.Label, ".png")
	}
	return names
}

// Write 把 entries 写入 root/qr/。
//
// 文件名在写之前按输入顺序一次性分配（同名依次追加 _2、_3），因此某一项失败不会影响其它项的命名。
// 单项失败记录在 Result.Failures 并继续；ctx 取消返回 error（此时已写出的文件保留）。
// 全部写完后删除目录中不属于本次成功集合的 *.png（上一次导出留下的旧文件），
// 保证 qr/ 与 Files 一一对应；删除失败返回 error。
func Write(ctx context.Context, root string, entries []Entry) (Result, error) {
	dir := filepath.Join(filepath.Clean(root), SubDir)
	res := Result{Dir: dir}

	names := AssignNames(entries)
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		name := names[i]
		if len(e.PNG) == 0 {
			res.Failures = append(res.Failures, ItemError{AddressID: e.AddressID, Name: name, Err: fmt.Errorf("位图为空")})
			continue
		}
		if err := writeFunc(dir, name, e.PNG); err != nil {
			res.Failures = append(res.Failures, ItemError{AddressID: e.AddressID, Name: name, Err: err})
			continue
		}
		res.Files = append(res.Files, File{
			AddressID: e.AddressID,
			Label:     e.Label,
			Name:      name,
			Path:      filepath.Join(dir, name),
			Bytes:     int64(len(e.PNG)),
		})
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := prune(dir, res.Files); err != nil {
		return res, err
	}
	return res, nil
}

// prune 删除 dir 中不在 keep 里的 *.png。目录不存在视为无事可做。
func prune(dir string, keep []File) error {
	ents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取 %s 失败：%w", dir, err)
	}
	names := make(map[string]struct{}, len(keep))
	for _, f := range keep {
		names[f.Name] = struct{}{}
	}
	var errs []error
	for _, de := range ents {
		name := de.Name()
		if !de.Type().IsRegular() || !strings.EqualFold(filepath.Ext(name), ".png") {
			continue
		}
		if _, ok := names[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("删除旧文件 %s 失败：%w", name, err))
		}
	}
	return errors.Join(errs...)
}
