// Package ziparch 从零实现只写、只存储（method 0）的 ZIP 编码器。
//
// 分层：
//   - crc.go：纯 CRC-32
//   - header.go：类型化的本地头/中央目录/结束记录序列化
//   - writer.go：按条目顺序流式写出并记录偏移（可回填的输出上每个源只读一遍）
//   - archive.go：落盘（临时文件 + rename，失败/取消即删除）
//
// 输出是确定性的：没有时间戳、没有随机字段；相同的条目序列与内容得到逐字节相同的文件。
package ziparch

import (
	"context"
	"path/filepath"

	"github.com/John-Robertt/qrexport/internal/infra/fsx"
)

// Result 描述一个已落盘的压缩包。
type Result struct {
	Path    string
	Entries int
	Bytes   int64
}

// WriteFile 把 entries 按顺序写成 dir/name。
//
// 任何失败（源文件读取、写出、超限、ctx 取消）都会删除未完成的输出，目标路径上不会出现半成品。
func WriteFile(ctx context.Context, dir, name string, entries []Entry) (Result, error) {
	f, err := fsx.Create(dir, name)
	if err != nil {
		return Result{}, &Error{Op: "create", Name: name, Err: err}
	}
	defer func() { _ = f.Abort() }()

	zw := NewPatchingWriter(f)
	for _, e := range entries {
		if err := zw.Add(ctx, e); err != nil {
			return Result{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &Error{Op: "commit", Name: name, Err: err}
	}
	if err := f.Commit(); err != nil {
		return Result{}, &Error{Op: "commit", Name: name, Err: err}
	}
	return Result{
		Path:    filepath.Join(filepath.Clean(dir), name),
		Entries: zw.Count(),
		Bytes:   zw.Offset(),
	}, nil
}
