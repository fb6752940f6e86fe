package extractor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "..."

// truncate cuts s to at most max bytes on a rune boundary, marking the cut
// with an ellipsis when there is room for one.
func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}

	cut := max
	suffix := ""
	if max > len(ellipsis) {
		cut = max - len(ellipsis)
		suffix = ellipsis
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimRightFunc(s[:cut], unicode.IsSpace) + suffix
}

// clip bounds raw input before any heavier processing.
func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// sentences splits on newlines and on . ! ? followed by whitespace.
func sentences(text string) []string {
	var out []string
	start := 0
	emit := func(end int) {
		if s := collapse(text[start:end]); s != "" {
			out = append(out, s)
		}
	}

	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c == '\n':
			emit(i)
			start = i + 1
		case c == '.' || c == '!' || c == '?':
			if i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\t' || text[i+1] == '\n' || text[i+1] == '\r') {
				emit(i + 1)
				start = i + 1
			}
		}
	}
	emit(len(text))
	return out
}

// tokenize lowercases s and splits it into runs of letters and digits.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
