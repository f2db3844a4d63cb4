// Package util holds small helpers shared by the worker packages.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix_uuid, the provider job id format ("local_…", "aidp_…").
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

// HasPrefix reports whether id was produced by NewID(prefix).
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
