package training

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestBuildArgs(t *testing.T) {
	p := validParams()
	p.Captions = []string{"a photo of sks on a chair", ""}
	p.LowRAMMode = true
	p.ValidationPrompt = "sks at the beach"
	p.ResumeCheckpoint = "/tmp/checkpoint.zip"

	args := buildArgs(p)
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--model schnell-4-bit")
	assert.Contains(t, joined, "--epochs 20")
	assert.Contains(t, joined, "--lora-rank 4")
	assert.Contains(t, joined, "--learning-rate 0.0001")
	assert.Contains(t, joined, "--single-blocks 0-38")
	assert.Contains(t, joined, "--low-ram")
	assert.Contains(t, joined, "--validation-prompt sks at the beach")
	assert.Contains(t, joined, "--resume /tmp/checkpoint.zip")
	assert.NotContains(t, joined, "--transformer-blocks")
	// Second image has no caption, so only one --caption flag appears.
	assert.Equal(t, 1, strings.Count(joined, "--caption "))
	assert.Equal(t, 2, strings.Count(joined, "--image "))
}

func TestBuildArgsTransformerFamily(t *testing.T) {
	p := validParams()
	p.SingleBlocksEnabled = false
	p.TransformerBlocksEnabled = true
	p.TransformerStart = 0
	p.TransformerEnd = 19

	joined := strings.Join(buildArgs(p), " ")
	assert.Contains(t, joined, "--transformer-blocks 0-19")
	assert.NotContains(t, joined, "--single-blocks")
}

func TestPumpLines(t *testing.T) {
	out := make(chan string, 8)
	input := "Epoch 1/20\n\n  \nEpoch 2/20\nSaving checkpoint\n"
	pumpLines(context.Background(), strings.NewReader(input), out)
	close(out)

	var lines []string
	for line := range out {
		lines = append(lines, line)
	}
	assert.Equal(t, []string{"Epoch 1/20", "Epoch 2/20", "Saving checkpoint"}, lines)
}

func TestPumpLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Unbuffered channel with no reader: only cancellation lets this return.
	out := make(chan string)
	done := make(chan struct{})
	go func() {
		pumpLines(ctx, strings.NewReader("line1\nline2\n"), out)
		close(done)
	}()
	<-done
}

func TestRunRejectsInvalidParams(t *testing.T) {
	trainer := NewCommandTrainer("mflux-train", testLogger())
	p := validParams()
	p.Epochs = 0

	_, err := trainer.Run(context.Background(), p)
	assert.Error(t, err)
}

func fakeTrainerScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-trainer.sh")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunStreamsProgress(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script trainer")
	}

	script := fakeTrainerScript(t, "echo 'Epoch 1/2'\necho 'Epoch 2/2'")
	trainer := NewCommandTrainer(script, testLogger())

	p := validParams()
	p.OutputDir = t.TempDir()

	progress, err := trainer.Run(context.Background(), p)
	require.NoError(t, err)

	var lines []string
	for line := range progress {
		lines = append(lines, line)
	}

	require.GreaterOrEqual(t, len(lines), 4)
	assert.Contains(t, lines[0], "Training session")
	assert.Contains(t, lines, "Epoch 1/2")
	assert.Contains(t, lines, "Epoch 2/2")
	assert.Equal(t, "Training completed", lines[len(lines)-1])

	// The parameter snapshot lands next to the training output.
	matches, err := filepath.Glob(filepath.Join(p.OutputDir, "session_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRunSurfacesProcessFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script trainer")
	}

	script := fakeTrainerScript(t, "echo 'Epoch 1/2'\nexit 3")
	trainer := NewCommandTrainer(script, testLogger())

	p := validParams()
	p.OutputDir = t.TempDir()

	progress, err := trainer.Run(context.Background(), p)
	require.NoError(t, err)

	var lines []string
	for line := range progress {
		lines = append(lines, line)
	}
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "Error:")
}

func TestWriteSessionSnapshot(t *testing.T) {
	p := validParams()
	p.OutputDir = filepath.Join(t.TempDir(), "training")

	require.NoError(t, writeSessionSnapshot(p, "0b5c6a74-test"))

	matches, err := filepath.Glob(filepath.Join(p.OutputDir, "session_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0], "session_0b5c6a74-test.json")
}

func TestParseCaptions(t *testing.T) {
	captions := parseCaptions("a photo of sks\n\na photo of sks outside\n", 3)
	assert.Equal(t, []string{"a photo of sks", "a photo of sks outside", ""}, captions)

	// Extra lines beyond the image count are dropped.
	captions = parseCaptions("one\ntwo\nthree\n", 2)
	assert.Equal(t, []string{"one", "two"}, captions)
}
