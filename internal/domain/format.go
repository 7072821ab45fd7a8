package domain

import (
	"strconv"
	"strings"
)

// formatFloat renders numeric values for display strings without trailing
// zeros, so 3.50 prints as "3.5" and 4.00 as "4".
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	return s
}
