package cli

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"etfwatch/internal/models"
)

// FormatCount formats an integer with thousands separators.
func FormatCount(n int64) string {
	negative := n < 0
	if negative {
		n = -n
	}
	s := groupThousands(strconv.FormatInt(n, 10))
	if negative {
		return "-" + s
	}
	return s
}

// FormatCountDelta formats a count change with an explicit sign.
func FormatCountDelta(n int64) string {
	if n > 0 {
		return "+" + FormatCount(n)
	}
	return FormatCount(n)
}

// groupThousands inserts a comma every three digits from the right.
func groupThousands(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(s[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatWeight formats a portfolio weight in percent.
func FormatWeight(w float64) string {
	return fmt.Sprintf("%.2f%%", w)
}

// FormatWeightDelta formats a weight change in percent points with sign.
func FormatWeightDelta(w float64) string {
	if w > 0 {
		return fmt.Sprintf("+%.2f%%", w)
	}
	return fmt.Sprintf("%.2f%%", w)
}

// FormatQuote formats a fund quote as captured from the source.
func FormatQuote(p models.PriceInfo) string {
	if p.ChangeValue == "" && p.ChangePercent == "" {
		return p.Price
	}
	return fmt.Sprintf("%s  %s (%s)", p.Price, p.ChangeValue, p.ChangePercent)
}

// TruncateString shortens s to maxLen runes, marking the cut with "...".
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
