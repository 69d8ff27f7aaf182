// Package fsx 提供导出产物的原子落盘：同目录临时文件 + fsync + rename。
//
// 任何导出产物（PDF/PNG/CSV/ZIP）在写完之前都不会以最终文件名出现在磁盘上；
// 失败或取消时临时文件被删除。
package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 通过可替换的函数指针，让测试能稳定模拟 EXDEV 等错误。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示跨盘（EXDEV）导致的 rename 失败。
// 临时文件总是与目标同目录，出现 EXDEV 说明目标目录本身是挂载点之类的异常情况；不做 copy+delete。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘移动失败（EXDEV）：%q -> %q：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice 判断 err 是否为跨盘（EXDEV）错误。
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，并把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// WriteFileAtomic 在 dir 下原子写入 name；目标已存在则覆盖。
func WriteFileAtomic(dir, name string, data []byte) error {
	f, err := Create(dir, name)
	if err != nil {
		return err
	}
	if err := writeAll(f, data); err != nil {
		_ = f.Abort()
		return err
	}
	return f.Commit()
}

// File 是一个尚未提交的原子写入目标。
//
// 用法：Create -> Write... -> Commit；任一步失败调用 Abort（Commit 之后调用 Abort 是 no-op，
// 因此可以放心 defer f.Abort()）。
type File struct {
	dir  string
	dst  string
	tmp  *os.File
	n    int64
	done bool
}

// Create 在 dir 下为 name 创建临时文件（前缀带 '.'），目录不存在时自动创建。
func Create(dir, name string) (*File, error) {
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dst := filepath.Join(dir, name)
	if fi, err := os.Lstat(dst); err == nil {
		if fi.IsDir() {
			return nil, &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
		}
		if !fi.Mode().IsRegular() {
			return nil, &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return nil, err
	}
	return &File{dir: dir, dst: dst, tmp: tmp}, nil
}

// Path 返回提交后的最终路径。
func (f *File) Path() string { return f.dst }

// TempPath 返回临时文件路径（测试用）。
func (f *File) TempPath() string { return f.tmp.Name() }

// Size 返回已写入的字节数。
func (f *File) Size() int64 { return f.n }

func (f *File) Write(p []byte) (int, error) {
	if f.done {
		return 0, os.ErrClosed
	}
	n, err := f.tmp.Write(p)
	f.n += int64(n)
	return n, err
}

// WriteAt 覆盖临时文件中已写出的字节，不改变写入位置与 Size。
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if f.done {
		return 0, os.ErrClosed
	}
	if off < 0 || off+int64(len(p)) > f.n {
		return 0, fmt.Errorf("WriteAt 越界：off=%d len=%d size=%d", off, len(p), f.n)
	}
	return f.tmp.WriteAt(p, off)
}

// Commit 依次 chmod/fsync/close 临时文件，再 rename 到最终文件名。
// 失败时临时文件会被删除。
func (f *File) Commit() error {
	if f.done {
		return os.ErrClosed
	}
	f.done = true
	tmpName := f.tmp.Name()
	fail := func(err error) error {
		_ = f.tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.tmp.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := f.tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := f.tmp.Close(); err != nil {
		return fail(err)
	}
	if err := Rename(tmpName, f.dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	// 目录 fsync：best-effort（不同平台/文件系统的语义差异很大）。
	_ = syncDirBestEffort(f.dir)
	return nil
}

// Abort 丢弃临时文件。Commit 之后调用是 no-op。
func (f *File) Abort() error {
	if f.done {
		return nil
	}
	f.done = true
	_ = f.tmp.Close()
	return os.Remove(f.tmp.Name())
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义与支持情况不稳定，这里直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
