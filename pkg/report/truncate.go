package report

const ellipsis = "..."

// Truncate bounds s to at most max runes, replacing the tail with an
// ellipsis when anything was cut. The result is stable and idempotent:
// truncating an already-truncated string is a no-op, which matters because
// downstream checkpoint packets hash the draft text.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= len(ellipsis) {
		return string(runes[:max])
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}
