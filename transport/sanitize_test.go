package transport

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty string", "", ""},
		{"no control sequences", "Hello, World!", "Hello, World!"},
		{"red text", "\x1b[31mError\x1b[0m", "Error"},
		{"cursor movement", "\x1b[2J\x1b[HHello", "Hello"},
		{"crlf normalized", "line1\r\nline2\r\n", "line1\nline2\n"},
		{"prompt with pager control code", "\x1b[0mRouter#\x1b[K show version", "Router# show version"},
		{"mixed ansi and crlf", "\x1b[32mLine1\x1b[0m\r\nLine2\r\n", "Line1\nLine2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize() = %q, want %q", got, tt.want)
			}
			if got := string(SanitizeBytes([]byte(tt.input))); got != tt.want {
				t.Errorf("SanitizeBytes() = %q, want %q", got, tt.want)
			}
		})
	}
}
