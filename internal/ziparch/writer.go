package ziparch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"unicode/utf8"
)

var (
	// ErrTooLarge：条目数超过 65535，或任一大小/偏移超过 4 GiB（不支持 ZIP64）。
	ErrTooLarge = errors.New("压缩包超出非 ZIP64 格式上限")
	// ErrSourceChanged：两遍模式下源文件在两次读取之间发生了变化（长度或 CRC 不一致）。
	ErrSourceChanged = errors.New("源文件在写入过程中发生变化")
	// ErrClosed：Writer 已 Close。
	ErrClosed = errors.New("压缩包 writer 已关闭")
)

// Error 携带失败的操作与条目名。
type Error struct {
	Op   string
	Name string
	Err  error
}

func (e *Error) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("zip %s：%v", e.Op, e.Err)
	}
	return fmt.Sprintf("zip %s %q：%v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Entry 是一个待写入的文件：Name 是压缩包内路径（'/' 分隔），Open 每次调用都必须返回相同内容。
type Entry struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileEntry 以磁盘文件为内容来源。
func FileEntry(name, path string) Entry {
	return Entry{Name: name, Open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// BytesEntry 以内存字节为内容来源。
func BytesEntry(name string, b []byte) Entry {
	return Entry{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}}
}

// WithRoot 给每个条目名加上 root/ 前缀。
func WithRoot(root string, entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = Entry{Name: root + "/" + e.Name, Open: e.Open}
	}
	return out
}

// record 是已写入条目的中央目录信息：数据流完后确定，Close 时消费。
type record struct {
	name   string
	flags  uint16
	crc    uint32
	size   uint32
	offset uint32
}

// Writer 把条目依次流式写入 w（仅 stored，不压缩）。
//
// 输出可回填时（NewPatchingWriter）每个条目只读一遍：先写占位本地头，数据边拷贝边算 CRC，
// 流完后用 WriteAt 回填 CRC 与长度。输出只能顺序写时（NewWriter）每个条目读两遍：
// 第一遍计算 CRC 与长度，第二遍写本地文件头后原样拷贝数据并复核。
// 两种模式写出的字节完全相同；整个 Writer 只复用一个拷贝缓冲区，不会把文件整体读入内存。
type Writer struct {
	w       io.Writer
	at      io.WriterAt   // 非 nil 时为单遍模式
	bw      *bufio.Writer // 单遍模式下 w 的缓冲层，回填前必须先 Flush
	off     int64
	records []record
	names   map[string]struct{}
	buf     []byte
	closed  bool
}

// NewWriter 返回顺序写入 w 的 Writer（两遍模式）。
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, names: make(map[string]struct{}), buf: make([]byte, copyBufSize)}
}

// PatchableOutput 是可以覆盖已写出字节的输出，例如 *os.File、*fsx.File。
type PatchableOutput interface {
	io.Writer
	io.WriterAt
}

// NewPatchingWriter 返回单遍模式的 Writer。out 的写入位置必须从 0 开始。
func NewPatchingWriter(out PatchableOutput) *Writer {
	bw := bufio.NewWriterSize(out, 64*1024)
	zw := NewWriter(bw)
	zw.at = out
	zw.bw = bw
	return zw
}

// Offset 返回已写出的字节数。
func (zw *Writer) Offset() int64 { return zw.off }

// Count 返回已写入的条目数。
func (zw *Writer) Count() int { return len(zw.records) }

func (zw *Writer) write(p []byte) error {
	n, err := zw.w.Write(p)
	zw.off += int64(n)
	return err
}

// Add 写入一个条目。返回错误后压缩包已不可用，调用方应丢弃整个输出。
func (zw *Writer) Add(ctx context.Context, e Entry) error {
	if zw.closed {
		return &Error{Op: "add", Name: e.Name, Err: ErrClosed}
	}
	if err := validName(e.Name); err != nil {
		return &Error{Op: "add", Name: e.Name, Err: err}
	}
	if _, dup := zw.names[e.Name]; dup {
		return &Error{Op: "add", Name: e.Name, Err: errors.New("条目重名")}
	}
	if len(zw.records) >= maxUint16 {
		return &Error{Op: "add", Name: e.Name, Err: ErrTooLarge}
	}
	if e.Open == nil {
		return &Error{Op: "add", Name: e.Name, Err: errors.New("缺少内容来源")}
	}

	var (
		rec record
		err error
	)
	if zw.at != nil {
		rec, err = zw.addOnce(ctx, e)
	} else {
		rec, err = zw.addTwice(ctx, e)
	}
	if err != nil {
		return err
	}
	zw.records = append(zw.records, rec)
	zw.names[e.Name] = struct{}{}
	return nil
}

func (zw *Writer) addOnce(ctx context.Context, e Entry) (record, error) {
	if zw.off > maxUint32 {
		return record{}, &Error{Op: "add", Name: e.Name, Err: ErrTooLarge}
	}
	rec := record{name: e.Name, flags: nameFlags(e.Name), offset: uint32(zw.off)}
	placeholder, err := LocalHeader{Flags: rec.flags, Name: rec.name}.MarshalBinary()
	if err != nil {
		return record{}, &Error{Op: "header", Name: e.Name, Err: err}
	}
	if err := zw.write(placeholder); err != nil {
		return record{}, &Error{Op: "write", Name: e.Name, Err: err}
	}

	var sum crcWriter
	out := io.MultiWriter(writerFunc(zw.write), &sum)
	if err := stream(ctx, e, out, zw.buf); err != nil {
		return record{}, &Error{Op: "write", Name: e.Name, Err: err}
	}
	if sum.n > maxUint32 {
		return record{}, &Error{Op: "add", Name: e.Name, Err: ErrTooLarge}
	}
	rec.crc = sum.crc
	rec.size = uint32(sum.n)

	hdr, err := LocalHeader{Flags: rec.flags, CRC32: rec.crc, Size: rec.size, Name: rec.name}.MarshalBinary()
	if err != nil {
		return record{}, &Error{Op: "header", Name: e.Name, Err: err}
	}
	if err := zw.bw.Flush(); err != nil {
		return record{}, &Error{Op: "write", Name: e.Name, Err: err}
	}
	if _, err := zw.at.WriteAt(hdr, int64(rec.offset)); err != nil {
		return record{}, &Error{Op: "patch", Name: e.Name, Err: err}
	}
	return rec, nil
}

func (zw *Writer) addTwice(ctx context.Context, e Entry) (record, error) {
	// 第一遍：CRC + 长度。
	var sum crcWriter
	if err := stream(ctx, e, &sum, zw.buf); err != nil {
		return record{}, &Error{Op: "checksum", Name: e.Name, Err: err}
	}
	if sum.n > maxUint32 || zw.off > maxUint32 {
		return record{}, &Error{Op: "add", Name: e.Name, Err: ErrTooLarge}
	}

	rec := record{
		name:   e.Name,
		flags:  nameFlags(e.Name),
		crc:    sum.crc,
		size:   uint32(sum.n),
		offset: uint32(zw.off),
	}
	hdr, err := LocalHeader{Flags: rec.flags, CRC32: rec.crc, Size: rec.size, Name: rec.name}.MarshalBinary()
	if err != nil {
		return record{}, &Error{Op: "header", Name: e.Name, Err: err}
	}
	if err := zw.write(hdr); err != nil {
		return record{}, &Error{Op: "write", Name: e.Name, Err: err}
	}

	// 第二遍：原样拷贝并复核。
	var check crcWriter
	out := io.MultiWriter(writerFunc(zw.write), &check)
	if err := stream(ctx, e, out, zw.buf); err != nil {
		return record{}, &Error{Op: "write", Name: e.Name, Err: err}
	}
	if check.n != sum.n || check.crc != sum.crc {
		return record{}, &Error{Op: "write", Name: e.Name, Err: ErrSourceChanged}
	}
	return rec, nil
}

// Close 写出中央目录与结束记录（单遍模式下同时 Flush 缓冲层）。不会关闭底层 writer。
func (zw *Writer) Close() error {
	if zw.closed {
		return &Error{Op: "close", Err: ErrClosed}
	}
	zw.closed = true

	if zw.off > maxUint32 {
		return &Error{Op: "close", Err: ErrTooLarge}
	}
	start := zw.off
	for _, r := range zw.records {
		b, err := CentralHeader{Flags: r.flags, CRC32: r.crc, Size: r.size, Name: r.name, LocalOffset: r.offset}.MarshalBinary()
		if err != nil {
			return &Error{Op: "central", Name: r.name, Err: err}
		}
		if err := zw.write(b); err != nil {
			return &Error{Op: "central", Name: r.name, Err: err}
		}
	}
	size := zw.off - start
	if size > maxUint32 {
		return &Error{Op: "close", Err: ErrTooLarge}
	}
	end, _ := EndRecord{
		Entries:       uint16(len(zw.records)),
		CentralSize:   uint32(size),
		CentralOffset: uint32(start),
	}.MarshalBinary()
	if err := zw.write(end); err != nil {
		return &Error{Op: "close", Err: err}
	}
	if zw.bw != nil {
		if err := zw.bw.Flush(); err != nil {
			return &Error{Op: "close", Err: err}
		}
	}
	return nil
}

type writerFunc func(p []byte) error

func (f writerFunc) Write(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ctxReader 在每次 Read 前检查 ctx，让大文件的拷贝也能及时取消。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

const copyBufSize = 32 * 1024

func stream(ctx context.Context, e Entry, dst io.Writer, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rc, err := e.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.CopyBuffer(dst, ctxReader{ctx: ctx, r: rc}, buf)
	return err
}

func validName(name string) error {
	switch {
	case name == "":
		return errors.New("条目名为空")
	case !utf8.ValidString(name):
		return errors.New("条目名不是合法 UTF-8")
	case strings.HasPrefix(name, "/"), strings.Contains(name, "\\"):
		return errors.New("条目名必须是 '/' 分隔的相对路径")
	case strings.HasSuffix(name, "/"):
		return errors.New("不写目录条目")
	case path.Clean(name) != name || name == "." || name == ".." || strings.HasPrefix(name, "../"):
		return errors.New("条目名不规范（含 . / .. / 重复分隔符）")
	}
	return nil
}

func nameFlags(name string) uint16 {
	for i := 0; i < len(name); i++ {
		if name[i] >= utf8.RuneSelf {
			return flagUTF8
		}
	}
	return 0
}
