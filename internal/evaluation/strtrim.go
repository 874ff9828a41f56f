package evaluation

import (
	"strings"

	"github.com/programme-lv/evalcore/api"
)

const ellipsis = "[...]"

// trimToRect keeps at most maxHeight lines of at most maxWidth runes each,
// marking every cut with an ellipsis.
func trimToRect(s string, maxHeight int, maxWidth int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	cut := len(lines) > maxHeight
	if cut {
		lines = lines[:maxHeight]
	}

	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if runes := []rune(line); len(runes) > maxWidth {
			b.WriteString(string(runes[:maxWidth]))
			b.WriteString(ellipsis)
		} else {
			b.WriteString(line)
		}
	}
	if cut {
		b.WriteString("\n" + ellipsis)
	}
	return b.String()
}

func trimText(s string) string {
	return trimToRect(s, api.MaxTextHeight, api.MaxTextWidth)
}
