package upscale

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseDimension resolves a target-dimension field to pixels. Accepted
// forms: "" (keep original), "1.5x" (scale relative to original), "1024"
// (absolute pixels).
func ParseDimension(input string, original int) (int, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return original, nil
	}

	if strings.HasSuffix(s, "x") {
		scale, err := strconv.ParseFloat(strings.TrimSuffix(s, "x"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid scale %q", input)
		}
		if scale <= 0 {
			return 0, fmt.Errorf("scale must be positive, got %q", input)
		}
		return int(math.Round(float64(original) * scale)), nil
	}

	px, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid dimension %q", input)
	}
	if px < 1 {
		return 0, fmt.Errorf("dimension must be at least 1 pixel, got %q", input)
	}
	return int(px), nil
}

// CustomPlan describes how a custom-dimension request will be satisfied:
// upscale at Factor, then resize exactly to Width x Height when the model
// output does not already match.
type CustomPlan struct {
	Width          int
	Height         int
	EffectiveScale float64
	Factor         int
}

// ResolveCustomDimensions computes the plan for reaching the requested
// target box. The larger of the two axis ratios drives factor selection so
// the model output covers the target before the exact resize.
func ResolveCustomDimensions(targetWidth, targetHeight string, originalWidth, originalHeight int) (CustomPlan, error) {
	if originalWidth <= 0 || originalHeight <= 0 {
		return CustomPlan{}, fmt.Errorf("invalid original dimensions: %dx%d", originalWidth, originalHeight)
	}

	width, err := ParseDimension(targetWidth, originalWidth)
	if err != nil {
		return CustomPlan{}, fmt.Errorf("target width: %w", err)
	}
	height, err := ParseDimension(targetHeight, originalHeight)
	if err != nil {
		return CustomPlan{}, fmt.Errorf("target height: %w", err)
	}

	scaleX := float64(width) / float64(originalWidth)
	scaleY := float64(height) / float64(originalHeight)
	effective := math.Max(scaleX, scaleY)

	return CustomPlan{
		Width:          width,
		Height:         height,
		EffectiveScale: effective,
		Factor:         bucketFactor(effective),
	}, nil
}

// ScaledDimensions applies a uniform scale to the original size, used by
// the UI when the scale slider moves.
func ScaledDimensions(originalWidth, originalHeight int, scale float64) (int, int) {
	if scale <= 0 {
		return originalWidth, originalHeight
	}
	w := int(math.Round(float64(originalWidth) * scale))
	h := int(math.Round(float64(originalHeight) * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// HeightForWidth returns the height preserving the original aspect ratio.
func HeightForWidth(width, originalWidth, originalHeight int) int {
	if originalWidth <= 0 {
		return originalHeight
	}
	h := int(math.Round(float64(width) * float64(originalHeight) / float64(originalWidth)))
	if h < 1 {
		h = 1
	}
	return h
}

// WidthForHeight returns the width preserving the original aspect ratio.
func WidthForHeight(height, originalWidth, originalHeight int) int {
	if originalHeight <= 0 {
		return originalWidth
	}
	w := int(math.Round(float64(height) * float64(originalWidth) / float64(originalHeight)))
	if w < 1 {
		w = 1
	}
	return w
}
