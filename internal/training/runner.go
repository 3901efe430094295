package training

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Trainer starts a fine-tuning run and streams progress lines until the
// channel closes. A run that fails mid-stream delivers a terminal
// "Error: ..." line before closing.
type Trainer interface {
	Run(ctx context.Context, p Params) (<-chan string, error)
}

// Captioner fills captions for training images using a VLM.
type Captioner interface {
	Caption(ctx context.Context, imagePaths []string, model, trigger string) ([]string, error)
}

// CommandTrainer drives the external dreambooth trainer process and
// relays its stdout line by line. Cancelling the context kills the
// process.
type CommandTrainer struct {
	binary string
	logger *logrus.Logger
}

func NewCommandTrainer(binary string, logger *logrus.Logger) *CommandTrainer {
	return &CommandTrainer{binary: binary, logger: logger}
}

func (t *CommandTrainer) Run(ctx context.Context, p Params) (<-chan string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sessionID := uuid.NewString()
	if err := writeSessionSnapshot(p, sessionID); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, t.binary, buildArgs(p)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open trainer output: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start trainer: %w", err)
	}

	t.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"binary":  t.binary,
		"images":  len(p.ImagePaths),
		"epochs":  p.Epochs,
	}).Info("Training started")

	progress := make(chan string)
	go func() {
		defer close(progress)

		progress <- fmt.Sprintf("Training session %s started (%d images, %d epochs)",
			sessionID, len(p.ImagePaths), p.Epochs)

		pumpLines(ctx, stdout, progress)

		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				progress <- "Training cancelled"
				return
			}
			t.logger.WithError(err).Error("Trainer process failed")
			progress <- "Error: " + err.Error()
			return
		}
		progress <- "Training completed"
	}()

	return progress, nil
}

// pumpLines forwards reader lines to out until EOF or cancellation.
func pumpLines(ctx context.Context, r io.Reader, out chan<- string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}
}

func buildArgs(p Params) []string {
	args := []string{
		"--model", p.BaseModel,
		"--prompt", p.TriggerPrompt,
		"--image-size", p.ImageSize,
		"--epochs", strconv.Itoa(p.Epochs),
		"--batch-size", strconv.Itoa(p.BatchSize),
		"--lora-rank", strconv.Itoa(p.LoraRank),
		"--learning-rate", strconv.FormatFloat(p.LearningRate, 'g', -1, 64),
		"--seed", strconv.FormatInt(p.Seed, 10),
		"--checkpoint-frequency", strconv.Itoa(p.CheckpointFrequency),
		"--guidance", strconv.FormatFloat(p.GuidanceScale, 'g', -1, 64),
		"--output-dir", p.OutputDir,
	}
	if p.ValidationPrompt != "" {
		args = append(args, "--validation-prompt", p.ValidationPrompt)
	}
	if p.LowRAMMode {
		args = append(args, "--low-ram")
	}
	if p.ResumeCheckpoint != "" {
		args = append(args, "--resume", p.ResumeCheckpoint)
	}
	if p.TransformerBlocksEnabled {
		args = append(args, "--transformer-blocks",
			fmt.Sprintf("%d-%d", p.TransformerStart, p.TransformerEnd))
	}
	if p.SingleBlocksEnabled {
		args = append(args, "--single-blocks",
			fmt.Sprintf("%d-%d", p.SingleStart, p.SingleEnd))
	}
	for i, img := range p.ImagePaths {
		args = append(args, "--image", img)
		if i < len(p.Captions) && p.Captions[i] != "" {
			args = append(args, "--caption", p.Captions[i])
		}
	}
	return args
}

// writeSessionSnapshot records the full parameter set next to the
// training output so a run can be reproduced later.
func writeSessionSnapshot(p Params, sessionID string) error {
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create training output directory: %w", err)
	}

	snapshot := struct {
		SessionID string `json:"session_id"`
		Params    Params `json:"params"`
	}{SessionID: sessionID, Params: p}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session snapshot: %w", err)
	}

	path := filepath.Join(p.OutputDir, "session_"+sessionID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session snapshot: %w", err)
	}
	return nil
}

// CommandCaptioner shells out to an external VLM captioner. The binary
// prints one caption per input image on stdout.
type CommandCaptioner struct {
	binary string
	logger *logrus.Logger
}

func NewCommandCaptioner(binary string, logger *logrus.Logger) *CommandCaptioner {
	return &CommandCaptioner{binary: binary, logger: logger}
}

func (c *CommandCaptioner) Caption(ctx context.Context, imagePaths []string, model, trigger string) ([]string, error) {
	if len(imagePaths) == 0 {
		return nil, fmt.Errorf("no images to caption")
	}

	args := []string{"--model", model, "--trigger", trigger}
	for _, img := range imagePaths {
		args = append(args, "--image", img)
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	output, err := cmd.Output()
	if err != nil {
		c.logger.WithError(err).Error("Captioner process failed")
		return nil, fmt.Errorf("captioner failed: %w", err)
	}

	captions := parseCaptions(string(output), len(imagePaths))
	c.logger.WithField("count", len(captions)).Info("Captions generated")
	return captions, nil
}

// parseCaptions maps captioner output lines onto the input images,
// padding with empty strings when the model returned fewer lines.
func parseCaptions(output string, count int) []string {
	captions := make([]string, 0, count)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		captions = append(captions, line)
		if len(captions) == count {
			break
		}
	}
	for len(captions) < count {
		captions = append(captions, "")
	}
	return captions
}
