package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the gomsmcp ASCII art banner, with a red to yellow
// gradient when useColor is true.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                                                    `,
		`   __ _  ___  _ __ ___  ___ _ __ ___   ___ _ __    `,
		`  / _' |/ _ \| '_ ' _ \/ __| '_ ' _ \ / __| '_ \   `,
		` | (_| | (_) | | | | | \__ \ | | | | | (__| |_) |  `,
		`  \__, |\___/|_| |_| |_|___/_| |_| |_|\___| .__/   `,
		`  |___/                                   |_|      `,
		`                                                    `,
	}

	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	colors := []string{
		"\033[1;31m", // bold red
		"\033[1;31m",
		"\033[1;91m", // bold bright red
		"\033[1;33m", // bold yellow
		"\033[1;93m", // bold bright yellow
		"\033[1;93m",
		"\033[0m",
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
	}
}
