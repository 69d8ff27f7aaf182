// Package digest 计算产物内容摘要（BLAKE3-256），格式为 "blake3:<hex>"。
package digest

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

const prefix = "blake3:"

// Bytes 返回 b 的摘要。
func Bytes(b []byte) string {
	sum := blake3.Sum256(b)
	return prefix + hex.EncodeToString(sum[:])
}

// Reader 流式计算 r 的摘要，返回摘要与读取的字节数。
func Reader(r io.Reader) (string, int64, error) {
	h := blake3.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return prefix + hex.EncodeToString(h.Sum(nil)), n, nil
}

// File 计算文件摘要。
func File(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	return Reader(f)
}
