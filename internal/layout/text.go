package layout

import (
	"strings"
	"unicode"
)

const ellipsis = "…"

// Measure 返回 s 以当前字体渲染后的宽度（pt）。
type Measure func(s string) (float64, error)

// TruncateMiddle 在 s 超出 maxW 时保留首尾、中间替换为省略号。
// 连省略号都放不下时返回空串。
func TruncateMiddle(s string, maxW float64, measure Measure) (string, error) {
	w, err := measure(s)
	if err != nil {
		return "", err
	}
	if w <= maxW {
		return s, nil
	}
	r := []rune(s)
	for keep := len(r) - 1; keep >= 0; keep-- {
		head := (keep + 1) / 2
		tail := keep / 2
		cand := string(r[:head]) + ellipsis + string(r[len(r)-tail:])
		w, err := measure(cand)
		if err != nil {
			return "", err
		}
		if w <= maxW {
			return cand, nil
		}
	}
	return "", nil
}

// Wrap 按单词贪心折行；单个单词本身超宽时按字符断开。
func Wrap(s string, maxW float64, measure Measure) ([]string, error) {
	words := strings.FieldsFunc(s, unicode.IsSpace)
	var lines []string
	cur := ""
	for _, word := range words {
		cand := word
		if cur != "" {
			cand = cur + " " + word
		}
		w, err := measure(cand)
		if err != nil {
			return nil, err
		}
		if w <= maxW {
			cur = cand
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		ww, err := measure(word)
		if err != nil {
			return nil, err
		}
		if ww <= maxW {
			cur = word
			continue
		}
		parts, err := breakWord(word, maxW, measure)
		if err != nil {
			return nil, err
		}
		lines = append(lines, parts[:len(parts)-1]...)
		cur = parts[len(parts)-1]
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines, nil
}

func breakWord(word string, maxW float64, measure Measure) ([]string, error) {
	var out []string
	r := []rune(word)
	for len(r) > 0 {
		n := 1
		for n < len(r) {
			w, err := measure(string(r[:n+1]))
			if err != nil {
				return nil, err
			}
			if w > maxW {
				break
			}
			n++
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out, nil
}

// clampLines 把行数限制到 n；被截掉时最后一行以省略号结尾。
func clampLines(lines []string, n int, maxW float64, measure Measure) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	if len(lines) <= n {
		return lines, nil
	}
	out := append([]string(nil), lines[:n]...)
	last := []rune(out[n-1] + ellipsis)
	for len(last) > 1 {
		w, err := measure(string(last))
		if err != nil {
			return nil, err
		}
		if w <= maxW {
			break
		}
		last = append(last[:len(last)-2], []rune(ellipsis)...)
	}
	out[n-1] = string(last)
	return out, nil
}
