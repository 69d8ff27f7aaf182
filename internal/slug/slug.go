// Package slug 把任意地址/批次名转换为文件系统与压缩包路径都安全的名字。
package slug

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxLen 是结果的最大长度（截断后会再次去掉首尾下划线）。
	MaxLen = 100
	// Fallback 在规范化结果为空时使用。
	Fallback = "address"
)

// Normalize 是纯函数且总是成功：
// - 结果只包含 [a-z0-9_]，且非空
// - 空白/连字符/逗号映射为 '_'，其它字符直接丢弃（带重音的拉丁字母先去掉重音）
// - 连续 '_' 折叠为一个，首尾 '_' 去掉
// - Normalize(Normalize(s)) == Normalize(s)
func Normalize(s string) string {
	s = foldAccents(s)

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := true // 让开头的分隔符直接被吞掉
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case r == '_' || r == '-' || r == ',' || unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > MaxLen {
		out = strings.Trim(out[:MaxLen], "_")
	}
	if out == "" {
		return Fallback
	}
	return out
}

// FileName 返回 Normalize(s) + ext。
func FileName(s, ext string) string {
	return Normalize(s) + ext
}

// Namer 在同一目录内分配不冲突的文件名：重复的 slug 依次追加 _2、_3……
// 分配结果只取决于调用顺序。零值可用；不是并发安全的。
type Namer struct {
	used map[string]struct{}
}

// Name 返回 s 对应的、尚未被分配过的文件名（含 ext）。
func (n *Namer) Name(s, ext string) string {
	if n.used == nil {
		n.used = make(map[string]struct{})
	}
	base := Normalize(s)
	name := base + ext
	for i := 2; ; i++ {
		if _, ok := n.used[name]; !ok {
			break
		}
		name = base + "_" + strconv.Itoa(i) + ext
	}
	n.used[name] = struct{}{}
	return name
}

// foldAccents 去掉组合附加符号（é -> e）。transform.Chain 带内部状态，不能跨 goroutine 共享，所以每次新建。
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
