// Package env provides ad-hoc environment lookups for knobs that sit outside
// the main config structs, such as log formatting.
package env

import "os"

// Get returns the variable's value, or fallback when unset or empty.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
