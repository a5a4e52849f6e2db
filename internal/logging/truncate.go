package logging

// maxFieldLen bounds the size of free-form strings (command output, raw
// API error bodies) embedded in log fields.
const maxFieldLen = 1024

// Truncate shortens s to the default log field limit.
func Truncate(s string) string {
	return TruncateN(s, maxFieldLen)
}

// TruncateN shortens s to at most n bytes, appending an ellipsis marker
// when anything was cut. Strings of length <= n are returned unchanged.
func TruncateN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
