package chunk

// DefaultMaxLength is the per-message character budget used when no positive
// limit is configured.
const DefaultMaxLength = 1200

// Split breaks text into ordered pieces of at most maxLength runes, preferring
// to cut just before a line break. The line break is kept as the first rune of
// the following piece, so joining the pieces yields text unchanged. A window
// without a usable line break is hard-cut at maxLength.
//
// Split never returns an empty slice; empty input yields [""].
func Split(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	rest := []rune(text)
	if len(rest) <= maxLength {
		return []string{text}
	}

	pieces := make([]string, 0, len(rest)/maxLength+1)
	for len(rest) > maxLength {
		cut := lastBreak(rest, maxLength)
		pieces = append(pieces, string(rest[:cut]))
		rest = rest[cut:]
	}
	return append(pieces, string(rest))
}

// lastBreak returns the cut index for the window rest[:maxLength+1]. A break at
// index 0 is ignored: cutting there would emit an empty piece and never advance.
// Callers guarantee len(rest) > maxLength.
func lastBreak(rest []rune, maxLength int) int {
	for i := maxLength; i > 0; i-- {
		if rest[i] == '\n' {
			return i
		}
	}
	return maxLength
}
