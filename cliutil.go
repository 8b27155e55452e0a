package main

import "fmt"

// statusf prints an informational line unless --quiet was set.
func statusf(quiet bool, format string, args ...any) {
	if quiet {
		return
	}

	fmt.Printf(format, args...)
}
