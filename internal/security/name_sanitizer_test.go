package security

import "testing"

func TestNameSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "Alice Smith", want: "Alice Smith"},
		{name: "前後の空白を除去する", input: "  Bob  ", want: "Bob"},
		{name: "scriptタグを除去する", input: "<script>alert(1)</script>Carol", want: "Carol"},
		{name: "装飾タグを除去して中身を残す", input: "<b>Dave</b>", want: "Dave"},
		{name: "アンパサンドは二重エスケープしない", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "制御文字を除去する", input: "Eve\r\n", want: "Eve"},
		{name: "空文字は空文字", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			if got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNameSanitizer_Idempotent(t *testing.T) {
	sanitizer := NewNameSanitizer()

	input := `<img src=x onerror=alert(1)>Frank &lt;3`
	once := sanitizer.Sanitize(input)
	twice := sanitizer.Sanitize(once)

	if once != twice {
		t.Errorf("Sanitize is not idempotent: once=%q twice=%q", once, twice)
	}
}
