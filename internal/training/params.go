// Dreambooth fine-tuning parameters and validation
package training

import (
	"fmt"
	"strings"
)

// Block index bounds of the two trainable layer families in the Flux
// transformer.
const (
	MaxTransformerBlock = 19
	MaxSingleBlock      = 38
)

// Params is the flat record of training settings collected from the
// fine-tuning form. It is passed by value into the trainer.
type Params struct {
	BaseModel     string
	TriggerPrompt string
	ImageSize     string
	ImagePaths    []string
	Captions      []string

	Epochs              int
	BatchSize           int
	LoraRank            int
	LearningRate        float64
	Seed                int64
	CheckpointFrequency int
	ValidationPrompt    string
	GuidanceScale       float64
	LowRAMMode          bool
	OutputDir           string
	ResumeCheckpoint    string
	VLMModel            string

	TransformerBlocksEnabled bool
	TransformerStart         int
	TransformerEnd           int
	SingleBlocksEnabled      bool
	SingleStart              int
	SingleEnd                int
}

// Validate checks the record before it reaches the trainer.
func (p Params) Validate() error {
	if len(p.ImagePaths) == 0 {
		return fmt.Errorf("at least one training image is required")
	}
	if strings.TrimSpace(p.TriggerPrompt) == "" {
		return fmt.Errorf("training prompt is required")
	}
	if p.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", p.Epochs)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", p.BatchSize)
	}
	if p.LoraRank <= 0 {
		return fmt.Errorf("LoRA rank must be positive, got %d", p.LoraRank)
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", p.LearningRate)
	}
	if p.GuidanceScale < 1.0 || p.GuidanceScale > 10.0 {
		return fmt.Errorf("guidance scale must be between 1 and 10, got %g", p.GuidanceScale)
	}
	if strings.TrimSpace(p.OutputDir) == "" {
		return fmt.Errorf("output directory is required")
	}

	if p.TransformerBlocksEnabled == p.SingleBlocksEnabled {
		return fmt.Errorf("exactly one block family must be enabled for training")
	}
	if p.TransformerBlocksEnabled {
		if err := validateRange("transformer blocks", p.TransformerStart, p.TransformerEnd, MaxTransformerBlock); err != nil {
			return err
		}
	}
	if p.SingleBlocksEnabled {
		if err := validateRange("single transformer blocks", p.SingleStart, p.SingleEnd, MaxSingleBlock); err != nil {
			return err
		}
	}
	return nil
}

func validateRange(name string, start, end, max int) error {
	if start < 0 || end > max {
		return fmt.Errorf("%s range %d-%d outside 0-%d", name, start, end, max)
	}
	if start > end {
		return fmt.Errorf("%s range is inverted: %d-%d", name, start, end)
	}
	return nil
}

// ResolveBlockToggles enforces the rule that only one block family can be
// enabled at a time: when both end up enabled, the one that was not just
// toggled is switched off.
func ResolveBlockToggles(transformerEnabled, singleEnabled, transformerJustToggled bool) (bool, bool) {
	if transformerEnabled && singleEnabled {
		if transformerJustToggled {
			return true, false
		}
		return false, true
	}
	return transformerEnabled, singleEnabled
}
