package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDigest_Consistent(t *testing.T) {
	// BLAKE3("") 的公开测试向量。
	if got := Bytes(nil); got != "blake3:af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262" {
		t.Fatalf("空输入摘要不符合预期：%s", got)
	}

	data := []byte(strings.Repeat("qr", 50000))
	path := filepath.Join(t.TempDir(), "a.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile 失败：%v", err)
	}
	d, n, err := File(path)
	if err != nil {
		t.Fatalf("File 失败：%v", err)
	}
	if n != int64(len(data)) || d != Bytes(data) {
		t.Fatalf("流式与一次性摘要不一致：%s vs %s (n=%d)", d, Bytes(data), n)
	}
	if _, _, err := File(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("期望文件不存在报错")
	}
}
