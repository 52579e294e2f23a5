package main

import (
	"os"

	"golang.org/x/crypto/ssh/terminal"
)

// mediaFixedColumns approximates the SIZE, TYPE and MODIFIED columns of
// `dexft media` including padding.
const mediaFixedColumns = 48

// stdoutWidth returns the terminal width of stdout, or 0 when stdout is
// redirected.
func stdoutWidth() int {
	fd := int(os.Stdout.Fd())
	if !terminal.IsTerminal(fd) {
		return 0
	}
	cols, _, err := terminal.GetSize(fd)
	if err != nil {
		return 0
	}
	return cols
}

// nameBudget is how many runes a media name may use on a terminal of the
// given width. 0 means unlimited.
func nameBudget(width int) int {
	if width <= 0 {
		return 0
	}
	return max(width-mediaFixedColumns, 16)
}

// truncateName shortens name to limit runes, marking the cut with "~".
func truncateName(name string, limit int) string {
	runes := []rune(name)
	if limit <= 0 || len(runes) <= limit {
		return name
	}
	return string(runes[:limit-1]) + "~"
}
