package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalid marks version strings that are not dotted sequences of
// non-negative integers.
var ErrInvalid = errors.New("invalid version")

// Zero is the version every malformed or unknown version collapses to, so an
// update is always offered when local metadata is corrupt.
const Zero = "0.0.0"

// Parse splits a dotted numeric version string into its integer components.
// The string must be non-empty and contain only digits and dots, with no
// empty components.
func Parse(value string) ([]int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalid)
	}
	parts := strings.Split(trimmed, ".")
	components := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || strings.ContainsAny(part, "+- ") {
			return nil, fmt.Errorf("%w: %q", ErrInvalid, value)
		}
		components = append(components, n)
	}
	return components, nil
}

// IsNewer reports whether remote is strictly newer than local. Both versions
// are normalized to equal-length tuples by right-padding with zeros before
// comparison, so "0.2" exceeds "0.1.9". Callers also use the returned error
// as a well-formedness check for manifest versions.
func IsNewer(local, remote string) (bool, error) {
	localParts, err := Parse(local)
	if err != nil {
		return false, err
	}
	remoteParts, err := Parse(remote)
	if err != nil {
		return false, err
	}

	width := max(len(localParts), len(remoteParts))
	localParts = pad(localParts, width)
	remoteParts = pad(remoteParts, width)

	for i := 0; i < width; i++ {
		if remoteParts[i] != localParts[i] {
			return remoteParts[i] > localParts[i], nil
		}
	}
	return false, nil
}

// Normalize returns the version unchanged when it parses, or Zero otherwise.
// The startup flow never sees a parse failure from local metadata; a corrupt
// version marker simply makes every remote version look newer.
func Normalize(value string) string {
	if _, err := Parse(value); err != nil {
		return Zero
	}
	return strings.TrimSpace(value)
}

func pad(parts []int, width int) []int {
	if len(parts) >= width {
		return parts
	}
	out := make([]int, width)
	copy(out, parts)
	return out
}
