package util

// SafeTruncate returns at most the first maxLen bytes of s. It is used to log a
// recognizable prefix of a token without logging the token itself.
// A negative maxLen yields "".
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// FirstNonEmpty returns the first non-empty argument.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
