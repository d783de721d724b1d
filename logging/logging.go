// Package logging wires structured logging through
// github.com/sirupsen/logrus and keeps the teacher's console banner/
// section flair (pkg/logger/logger.go) for CLI startup output, since
// that display behavior is orthogonal to the structured log lines the
// engine itself emits.
package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// ANSI color codes, carried from the teacher's console logger for the
// banner/section helpers below.
const (
	colorReset = "\033[0m"
	colorCyan  = "\033[36m"
	colorGreen = "\033[32m"
)

// New builds a logrus.Entry configured for the engine's structured log
// lines. level accepts any logrus.ParseLevel string ("debug", "info",
// "warn", "error"); an unrecognized value falls back to info.
func New(level string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return logrus.NewEntry(l)
}

// Section prints a boxed section header to stdout, for CLI startup
// output — not a substitute for structured logging, which every
// component does through the *logrus.Entry returned by New.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", colorCyan, border, colorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", colorCyan, colorReset, title, colorCyan, colorReset)
	fmt.Printf("%s╚%s╝%s\n\n", colorCyan, border, colorReset)
}

// Banner prints a boxed title/version banner to stdout at CLI startup.
func Banner(title, version string) {
	border := "═══════════════════════════════════════════════════════════"
	fmt.Printf("\n%s╔%s╗%s\n", colorCyan, border, colorReset)
	fmt.Printf("%s║%s %-57s %s║%s\n", colorCyan, colorReset, title, colorCyan, colorReset)
	fmt.Printf("%s║%s %sversion %-49s%s %s║%s\n", colorCyan, colorReset, colorGreen, version, colorReset, colorCyan, colorReset)
	fmt.Printf("%s╚%s╝%s\n\n", colorCyan, border, colorReset)
}
