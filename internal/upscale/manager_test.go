package upscale

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"mflux-studio/internal/imaging"
	"mflux-studio/internal/metrics"
)

// fakeUpscaler resizes with nearest-neighbour and tracks cache purges so
// tests can assert the one-reclaim-per-call contract.
type fakeUpscaler struct {
	calls   int
	purges  int
	failOn  int // 1-based call index that returns an error, 0 = never
	panicOn int // 1-based call index that panics, 0 = never
}

func (f *fakeUpscaler) Upscale(src gocv.Mat, factor int) (gocv.Mat, error) {
	f.calls++
	if f.panicOn == f.calls {
		panic("model blew up")
	}
	if f.failOn == f.calls {
		return gocv.NewMat(), fmt.Errorf("model error")
	}
	dst := gocv.NewMat()
	size := image.Point{X: src.Cols() * factor, Y: src.Rows() * factor}
	if err := gocv.Resize(src, &dst, size, 0, 0, gocv.InterpolationNearestNeighbor); err != nil {
		dst.Close()
		return gocv.NewMat(), err
	}
	return dst, nil
}

func (f *fakeUpscaler) PurgeCache() {
	f.purges++
}

func newTestManager(t *testing.T, up Upscaler) (*Manager, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	outputDir := filepath.Join(t.TempDir(), "output")
	loader := imaging.NewLoader(logger, 95, 95)
	return NewManager(loader, up, metrics.NewEvaluator(), logger, outputDir, 2), outputDir
}

func writeTestImage(t *testing.T, width, height int) string {
	t.Helper()
	mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()
	path := filepath.Join(t.TempDir(), "input.png")
	require.True(t, gocv.IMWrite(path, mat))
	return path
}

func TestUpscale(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, outputDir := newTestManager(t, fake)
	input := writeTestImage(t, 100, 100)

	res, msg := mgr.Upscale(Request{ImagePath: input, Factor: "2x", Format: imaging.FormatPNG})
	require.NotNil(t, res)
	defer res.Image.Close()

	assert.Equal(t, 200, res.Width)
	assert.Equal(t, 200, res.Height)
	assert.Equal(t, 2, res.Factor)
	assert.Contains(t, msg, "Successfully upscaled image 2x to 200x200")
	assert.FileExists(t, res.OutputPath)
	assert.Contains(t, filepath.Base(res.OutputPath), "upscaled_2x_")
	assert.Empty(t, res.SidecarPath)
	assert.Contains(t, res.Metrics, "entropy")
	assert.DirExists(t, outputDir)
	assert.Equal(t, 1, fake.purges)
}

func TestUpscaleWritesSidecar(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, _ := newTestManager(t, fake)
	input := writeTestImage(t, 64, 48)

	res, _ := mgr.Upscale(Request{ImagePath: input, Factor: "3", Format: imaging.FormatJPEG, WithMetadata: true})
	require.NotNil(t, res)
	defer res.Image.Close()

	require.NotEmpty(t, res.SidecarPath)
	data, err := os.ReadFile(res.SidecarPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"original_width\": 64")
	assert.Contains(t, string(data), "\"upscale_factor\": 3")
	assert.Contains(t, string(data), "\"output_format\": \"JPEG\"")
	assert.Contains(t, string(data), "input.png")
}

func TestUpscaleRejectsUnsupportedFactor(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, _ := newTestManager(t, fake)
	input := writeTestImage(t, 10, 10)

	res, msg := mgr.Upscale(Request{ImagePath: input, Factor: "5x", Format: imaging.FormatPNG})
	assert.Nil(t, res)
	assert.Contains(t, msg, "Error:")
	assert.Contains(t, msg, "must be 2, 3, or 4")
	assert.Equal(t, 0, fake.calls)
	assert.Equal(t, 1, fake.purges, "cleanup must run on failure too")
}

func TestUpscaleMissingInput(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, _ := newTestManager(t, fake)

	res, msg := mgr.Upscale(Request{ImagePath: "  ", Factor: "2x", Format: imaging.FormatPNG})
	assert.Nil(t, res)
	assert.Equal(t, "Error: input image is required", msg)
	assert.Equal(t, 1, fake.purges)
}

func TestUpscaleModelFailure(t *testing.T) {
	fake := &fakeUpscaler{failOn: 1}
	mgr, _ := newTestManager(t, fake)
	input := writeTestImage(t, 10, 10)

	res, msg := mgr.Upscale(Request{ImagePath: input, Factor: "2x", Format: imaging.FormatPNG})
	assert.Nil(t, res)
	assert.Contains(t, msg, "Error: failed to upscale image")
	assert.Equal(t, 1, fake.purges)
}

func TestUpscalePanicRecovered(t *testing.T) {
	fake := &fakeUpscaler{panicOn: 1}
	mgr, _ := newTestManager(t, fake)
	input := writeTestImage(t, 10, 10)

	res, msg := mgr.Upscale(Request{ImagePath: input, Factor: "2x", Format: imaging.FormatPNG})
	assert.Nil(t, res)
	assert.Contains(t, msg, "Error: internal error")
	assert.Equal(t, 1, fake.purges)
}

func TestUpscaleCustomExactDimensions(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, _ := newTestManager(t, fake)
	input := writeTestImage(t, 100, 100)

	// 250x300 from 100x100: effective scale 3.0 -> factor 3, model output
	// 300x300, then an exact resize down to the requested box.
	res, msg := mgr.UpscaleCustom(CustomRequest{
		ImagePath:    input,
		TargetWidth:  "250",
		TargetHeight: "300",
		Format:       imaging.FormatPNG,
		WithMetadata: true,
	})
	require.NotNil(t, res)
	defer res.Image.Close()

	assert.Equal(t, 250, res.Width)
	assert.Equal(t, 300, res.Height)
	assert.Equal(t, 3, res.Factor)
	assert.Contains(t, msg, "Successfully upscaled image to 250x300")
	assert.Contains(t, filepath.Base(res.OutputPath), "upscaled_custom_250x300_")

	data, err := os.ReadFile(res.SidecarPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"target_width\": 250")
	assert.Contains(t, string(data), "\"effective_scale\": 3")
	assert.Equal(t, 1, fake.purges)
}

func TestUpscaleCustomInvalidTarget(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, _ := newTestManager(t, fake)
	input := writeTestImage(t, 100, 100)

	res, msg := mgr.UpscaleCustom(CustomRequest{
		ImagePath:    input,
		TargetWidth:  "wide",
		TargetHeight: "300",
		Format:       imaging.FormatPNG,
	})
	assert.Nil(t, res)
	assert.Contains(t, msg, "Error: target width")
	assert.Equal(t, 1, fake.purges)
}

func TestBatchContinuesPastFailure(t *testing.T) {
	fake := &fakeUpscaler{failOn: 2}
	mgr, _ := newTestManager(t, fake)

	paths := []string{
		writeTestImage(t, 10, 10),
		writeTestImage(t, 12, 12),
		writeTestImage(t, 14, 14),
	}

	results, summary := mgr.Batch(paths, "2x", imaging.FormatPNG, false)
	for _, r := range results {
		defer r.Image.Close()
	}

	assert.Len(t, results, 2)
	assert.Contains(t, summary, "Successfully upscaled 2 image(s)")
	assert.Contains(t, summary, "Image 2:")
	// One reclaim per item, matching the single-image entry point.
	assert.Equal(t, 3, fake.purges)
}

func TestBatchAllFail(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, _ := newTestManager(t, fake)

	results, summary := mgr.Batch([]string{"/nonexistent/a.png"}, "2x", imaging.FormatPNG, false)
	assert.Nil(t, results)
	assert.Contains(t, summary, "Failed to upscale any images")
	assert.Contains(t, summary, "Image 1:")
}

func TestBatchEmpty(t *testing.T) {
	fake := &fakeUpscaler{}
	mgr, _ := newTestManager(t, fake)

	results, summary := mgr.Batch(nil, "2x", imaging.FormatPNG, false)
	assert.Nil(t, results)
	assert.Equal(t, "Error: No images provided", summary)
}

func TestResizeUpscaler(t *testing.T) {
	up := NewResizeUpscaler(16384)
	src := gocv.NewMatWithSize(20, 30, gocv.MatTypeCV8UC3)
	defer src.Close()

	out, err := up.Upscale(src, 2)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, 60, out.Cols())
	assert.Equal(t, 40, out.Rows())

	_, err = up.Upscale(src, 5)
	assert.Error(t, err)

	small := NewResizeUpscaler(32)
	_, err = small.Upscale(src, 2)
	assert.ErrorContains(t, err, "too large")
}
