package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/nightsync/nightsync/internal/engine"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// notifierFromFlags returns a Notifier that prints title/message pairs to
// stderr, bolded when stderr is a terminal.
func notifierFromFlags() engine.Notifier {
	bold := isatty.IsTerminal(os.Stderr.Fd())

	return engine.NotifierFunc(func(title, message string) {
		if flagQuiet {
			return
		}

		if bold {
			fmt.Fprintf(os.Stderr, "\033[1m%s\033[0m\n%s\n", title, message)
			return
		}

		fmt.Fprintf(os.Stderr, "%s\n%s\n", title, message)
	})
}

// formatTime returns a compact timestamp for display, or "never" for the
// zero time.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	now := time.Now()
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer. headers and each
// row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
