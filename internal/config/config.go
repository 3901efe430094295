package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Output   OutputConfig   `yaml:"output"`
	Upscale  UpscaleConfig  `yaml:"upscale"`
	Training TrainingConfig `yaml:"training"`
	Window   WindowConfig   `yaml:"window"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type OutputConfig struct {
	// Dir is where upscaled images and sidecar metadata are written.
	Dir           string `yaml:"dir"`
	DefaultFormat string `yaml:"default_format"`
	JPEGQuality   int    `yaml:"jpeg_quality"`
	WebPQuality   int    `yaml:"webp_quality"`
}

type UpscaleConfig struct {
	DefaultFactor int `yaml:"default_factor"`
	MaxDimension  int `yaml:"max_dimension"`
	// UpscalerBinary, when set, points at an external model runner used
	// instead of the built-in Lanczos upscaler.
	UpscalerBinary string `yaml:"upscaler_binary"`
}

type TrainingConfig struct {
	TrainerBinary   string `yaml:"trainer_binary"`
	CaptionerBinary string `yaml:"captioner_binary"`
	CaptionerModel  string `yaml:"captioner_model"`
	OutputDir       string `yaml:"output_dir"`
}

type WindowConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Output: OutputConfig{
			Dir:           "output",
			DefaultFormat: "PNG",
			JPEGQuality:   95,
			WebPQuality:   95,
		},
		Upscale: UpscaleConfig{
			DefaultFactor: 2,
			MaxDimension:  16384,
		},
		Training: TrainingConfig{
			TrainerBinary:   "mflux-train",
			CaptionerBinary: "mflux-caption",
			CaptionerModel:  "mlx-community/Florence-2-large-ft-bf16",
			OutputDir:       filepath.Join(home, "mflux_training"),
		},
		Window: WindowConfig{
			Width:  1600,
			Height: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults for
// anything the file leaves unset.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Missing file is fine; env overrides still apply below.
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Environment overrides
	if dir := os.Getenv("MFLUX_OUTPUT_DIR"); dir != "" {
		cfg.Output.Dir = dir
	}
	if bin := os.Getenv("MFLUX_UPSCALER"); bin != "" {
		cfg.Upscale.UpscalerBinary = bin
	}
	if bin := os.Getenv("MFLUX_TRAINER"); bin != "" {
		cfg.Training.TrainerBinary = bin
	}
	if bin := os.Getenv("MFLUX_CAPTIONER"); bin != "" {
		cfg.Training.CaptionerBinary = bin
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Output.DefaultFormat {
	case "PNG", "JPEG", "WebP":
	default:
		return fmt.Errorf("unsupported default output format: %s", c.Output.DefaultFormat)
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality out of range: %d", c.Output.JPEGQuality)
	}
	if c.Output.WebPQuality < 1 || c.Output.WebPQuality > 100 {
		return fmt.Errorf("webp_quality out of range: %d", c.Output.WebPQuality)
	}
	if c.Upscale.DefaultFactor != 2 && c.Upscale.DefaultFactor != 3 && c.Upscale.DefaultFactor != 4 {
		return fmt.Errorf("default_factor must be 2, 3 or 4, got %d", c.Upscale.DefaultFactor)
	}
	return nil
}
