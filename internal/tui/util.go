package tui

import (
	"strings"
	"unicode/utf8"
)

// wrapWithPrefix word-wraps every line of s to width and puts prefix in front
// of each resulting line. Words longer than the width are broken at rune
// boundaries.
func wrapWithPrefix(s string, prefix string, width int) string {
	inner := width - utf8.RuneCountInString(prefix)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		wrapped := wrapLine(line, inner)
		for j := range wrapped {
			wrapped[j] = prefix + wrapped[j]
		}
		lines[i] = strings.Join(wrapped, "\n")
	}
	return strings.Join(lines, "\n")
}

func wrapLine(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var lines []string
	current := ""
	flush := func() {
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
	}
	for _, word := range strings.Fields(s) {
		for utf8.RuneCountInString(word) > width {
			flush()
			runes := []rune(word)
			lines = append(lines, string(runes[:width]))
			word = string(runes[width:])
		}
		switch {
		case current == "":
			current = word
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= width:
			current += " " + word
		default:
			flush()
			current = word
		}
	}
	flush()
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
