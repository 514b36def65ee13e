package normalize

import "testing"

func TestLanguage(t *testing.T) {
	cases := map[string]string{
		"  EN  ": "en",
		"zh_CN":  "zh-cn",
		"pt-BR":  "pt-br",
		"":       "",
	}
	for in, want := range cases {
		if got := Language(in); got != want {
			t.Fatalf("Language(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestID(t *testing.T) {
	if got := ID("  abc123 \n"); got != "abc123" {
		t.Fatalf("ID trimmed to %q", got)
	}
}
