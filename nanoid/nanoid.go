// Package nanoid generates short random identifiers.
package nanoid

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	defaultSize = 16

	alphanumeric = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

func getSize(l ...int) int {
	size := defaultSize
	if len(l) > 0 {
		size = l[0]
	}
	return size
}

// Must generates a nanoid of optional length using the default
// url-safe alphabet.
func Must(l ...int) string {
	return gonanoid.Must(getSize(l...))
}

// String generates an alphanumeric nanoid of optional length.
func String(l ...int) string {
	return gonanoid.MustGenerate(alphanumeric, getSize(l...))
}
