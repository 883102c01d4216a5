// Package terminal detects what the attached stdout can display.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY     bool
	NoColor   bool
	ForceFlag bool // Set when --no-color / --no-tui is used
}

// Detect returns terminal information for the current stdout.
func Detect() *Info {
	return DetectFile(os.Stdout)
}

// DetectFile returns terminal information for f.
func DetectFile(f *os.File) *Info {
	fd := int(f.Fd())
	isTTY := term.IsTerminal(fd)

	// Check NO_COLOR environment variable (https://no-color.org/)
	_, noColor := os.LookupEnv("NO_COLOR")

	// Treat TERM=dumb as no-color (terminals that don't support escape sequences)
	if os.Getenv("TERM") == "dumb" {
		noColor = true
	}

	return &Info{
		IsTTY:   isTTY,
		NoColor: noColor,
	}
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// SpinnersEnabled returns true if spinners should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.ColorEnabled()
}
