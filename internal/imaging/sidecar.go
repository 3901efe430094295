package imaging

import (
	"encoding/json"
	"fmt"
	"os"
)

// Sidecar records the parameters of an upscale next to the output image.
// Custom-dimension fields are omitted for plain factor upscales.
type Sidecar struct {
	OriginalWidth  int     `json:"original_width"`
	OriginalHeight int     `json:"original_height"`
	UpscaledWidth  int     `json:"upscaled_width"`
	UpscaledHeight int     `json:"upscaled_height"`
	TargetWidth    int     `json:"target_width,omitempty"`
	TargetHeight   int     `json:"target_height,omitempty"`
	EffectiveScale float64 `json:"effective_scale,omitempty"`
	UpscaleFactor  int     `json:"upscale_factor"`
	OutputFormat   string  `json:"output_format"`
	GenerationTime string  `json:"generation_time"`
	OriginalFile   string  `json:"original_file"`
}

// WriteSidecar writes the metadata as UTF-8 JSON with 2-space indentation.
func WriteSidecar(path string, meta Sidecar) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}
