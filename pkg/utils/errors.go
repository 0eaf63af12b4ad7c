// Package utils provides small helpers shared by dagmesh's app-level
// packages (cmd, pkg/config). The core library takes plain values and
// wraps its own errors directly; this package exists for the config
// loader, which wraps viper/file errors with extra context.
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
