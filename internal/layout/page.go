// Package layout 把 (标签, 位图) 序列分页排版为 PDF：网格（每页 6/9 个）与单页单码两种版式。
//
// 版式计算（分页、格子坐标、标签截断/折行）都是纯函数，与 PDF 渲染分开，便于测试确定性。
package layout

import (
	"os"
	"strings"

	"golang.org/x/text/language"
)

// Paper 是以 pt 为单位的纸张尺寸（1pt = 1/72 inch）。
type Paper struct {
	Name string
	W, H float64
}

var (
	A4     = Paper{Name: "A4", W: 595.28, H: 841.89}
	Letter = Paper{Name: "Letter", W: 612, H: 792}
)

// 使用 US Letter 的地区（其余一律 A4）。
var letterRegions = map[string]bool{
	"US": true, "CA": true, "MX": true, "PR": true, "PH": true,
	"CL": true, "CO": true, "VE": true, "GT": true, "CR": true,
	"PA": true, "SV": true, "DO": true, "NI": true,
}

// PaperForLocale 根据 locale（BCP 47 或 POSIX 形式，如 "en_US.UTF-8"）选择纸张。
// 无法解析或无地区信息时返回 A4。
func PaperForLocale(locale string) Paper {
	tag, ok := parseLocale(locale)
	if !ok {
		return A4
	}
	region, conf := tag.Region()
	if conf == language.No {
		return A4
	}
	if letterRegions[region.String()] {
		return Letter
	}
	return A4
}

func parseLocale(s string) (language.Tag, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "" || s == "C" || s == "POSIX" {
		return language.Und, false
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

// LocaleFromEnv 按 POSIX 优先级读取纸张相关的 locale：LC_ALL > LC_PAPER > LANG。
func LocaleFromEnv() string {
	for _, k := range []string{"LC_ALL", "LC_PAPER", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
