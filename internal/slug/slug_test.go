package slug

import (
	"regexp"
	"strings"
	"testing"
)

var validRE = regexp.MustCompile(`^[a-z0-9_]+$`)

func TestNormalize_Table(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"161 Sprucewood Crescent!", "161_sprucewood_crescent"},
		{"  12-B, Main St.  ", "12_b_main_st"},
		{"a___b", "a_b"},
		{"__lead and trail__", "lead_and_trail"},
		{"Café Olé", "cafe_ole"},
		{"../../etc/passwd", "etcpasswd"},
		{"", Fallback},
		{"!!!", Fallback},
		{"---", Fallback},
		{"東京", Fallback},
		{"Line\nBreak\tTab", "line_break_tab"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Fatalf("Normalize(%q)=%q，期望 %q", c.in, got, c.want)
		}
	}
}

func TestNormalize_Truncate(t *testing.T) {
	in := strings.Repeat("a", 99) + " b" + strings.Repeat("c", 50)
	got := Normalize(in)
	if len(got) > MaxLen {
		t.Fatalf("长度超限：%d", len(got))
	}
	// 第 100 个字符恰好是 '_'，截断后必须再次去掉。
	if strings.HasSuffix(got, "_") {
		t.Fatalf("截断后不应以 '_' 结尾：%q", got)
	}
	if got != strings.Repeat("a", 99) {
		t.Fatalf("截断结果不符合预期：%q", got)
	}
}

func TestNormalize_IdempotentAndValid(t *testing.T) {
	inputs := []string{
		"161 Sprucewood Crescent!",
		"Ünïcödé—dash – en",
		"a/b\\c:d*e?f\"g<h>i|j",
		strings.Repeat("x y ", 60),
		"   ",
		"_",
		"Apt #4, 22 O'Connor Rd",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if once == "" || !validRE.MatchString(once) {
			t.Fatalf("Normalize(%q)=%q 不合法", in, once)
		}
		if twice := Normalize(once); twice != once {
			t.Fatalf("不幂等：%q -> %q -> %q", in, once, twice)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("12 Elm St", ".png"); got != "12_elm_st.png" {
		t.Fatalf("FileName 不符合预期：%q", got)
	}
}

func TestNamer_Collisions(t *testing.T) {
	var n Namer
	got := []string{
		n.Name("12 Elm St", ".png"),
		n.Name("12 elm st", ".png"),
		n.Name("12-Elm-St!", ".png"),
		n.Name("12 Elm St 2", ".png"),
		n.Name("", ".png"),
	}
	want := []string{"12_elm_st.png", "12_elm_st_2.png", "12_elm_st_3.png", "12_elm_st_2_2.png", "address.png"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("第 %d 个：期望 %q，实际 %q（全部：%q）", i, want[i], got[i], got)
		}
	}
}
