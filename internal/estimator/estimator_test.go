package estimator

import "testing"

func TestEstimate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"ascii-exact", "abcd", 1},
		{"ascii-ceiling", "abcde", 2},
		{"cjk-each-one", "你好世界", 4},
		{"mixed", "你好abcd", 3}, // 2 CJK + ceil(4/4)=1
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Estimate(c.in); got != c.want {
				t.Errorf("Estimate(%q) = %d, want %d", c.in, got, c.want)
			}
		})
	}
}

func TestEstimateDeterministic(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog. 敏捷的棕色狐狸跳过了懒狗。"
	a := Estimate(text)
	b := Estimate(text)
	if a != b {
		t.Errorf("Estimate is not deterministic: %d != %d", a, b)
	}
}

func TestEstimateNonNegative(t *testing.T) {
	for _, s := range []string{"", " ", "\n\n\n", "💥🔥"} {
		if Estimate(s) < 0 {
			t.Errorf("Estimate(%q) is negative", s)
		}
	}
}
