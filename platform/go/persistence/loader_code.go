package persistence

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var loaderCodePattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// NormalizeLoaderCode trims whitespace, lowercases the value, and ensures it
// matches the canonical pattern for loader business keys. The code is
// immutable across every version of the same loader.
func NormalizeLoaderCode(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("loader code is required")
	}

	normalized := strings.ToLower(trimmed)
	if !loaderCodePattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid loader code %q: must match ^[a-z0-9]+(?:[-_][a-z0-9]+)*$", input)
	}

	return normalized, nil
}
