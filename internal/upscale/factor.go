// Scale-factor resolution for the upscale pipeline
package upscale

import (
	"fmt"
	"strconv"
	"strings"
)

// Supported upscale factors. The model only runs at these multipliers;
// anything else is either bucketed (custom dimensions) or rejected.
const (
	MinFactor = 2
	MaxFactor = 4
)

// ResolveFactor parses a user-supplied factor such as "2x", "3" or "4.0"
// into a supported integer factor. Input that does not parse at all falls
// back to def; input that parses to an unsupported value is an error, not
// a clamp.
func ResolveFactor(input string, def int) (int, error) {
	s := strings.ToLower(strings.TrimSpace(input))

	factor := def
	if s != "" {
		numeric := strings.TrimSuffix(s, "x")
		if f, err := strconv.ParseFloat(numeric, 64); err == nil {
			factor = int(f)
		}
	}

	if factor < MinFactor || factor > MaxFactor {
		return 0, fmt.Errorf("upscale factor must be 2, 3, or 4, got %q", input)
	}
	return factor, nil
}

// bucketFactor maps an effective scale ratio onto a supported factor.
// Cut points sit halfway between the supported factors.
func bucketFactor(effectiveScale float64) int {
	switch {
	case effectiveScale <= 2.5:
		return 2
	case effectiveScale <= 3.5:
		return 3
	default:
		return 4
	}
}
