package transport

import "regexp"

// ansiRegex matches ANSI escape sequences (colors, cursor movement, etc.),
// adapted from vendors/common/text.go's StripANSI.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// Sanitize strips ANSI escape codes and normalizes DOS line endings to
// Unix ones, per spec.md §4.1 Sanitization: device output is scrubbed of
// terminal control sequences and CRLF before it is buffered into a
// command's result.
func Sanitize(s string) string {
	s = ansiRegex.ReplaceAllString(s, "")
	return crlfRegex.ReplaceAllString(s, "\n")
}

// SanitizeBytes is the []byte counterpart used in RunCommand's hot loop,
// avoiding a round trip through string conversion on every Expect chunk.
func SanitizeBytes(b []byte) []byte {
	b = ansiRegex.ReplaceAll(b, nil)
	return crlfRegex.ReplaceAll(b, []byte("\n"))
}

var crlfRegex = regexp.MustCompile(`\r\n`)
