package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"reelsmith/internal/services"
)

// Exit codes. Usage covers bad flags, job files, and configuration.
const (
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		code := exitCode(err)
		if code != exitInterrupted {
			fmt.Fprintln(os.Stderr, "reelsmith:", err)
		}
		os.Exit(code)
	}
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConfiguration):
		return exitUsage
	default:
		return exitFailure
	}
}
