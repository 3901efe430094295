package upscale

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"mflux-studio/internal/imaging"
	"mflux-studio/internal/metrics"
)

// Request is a single-image upscale as collected from the UI.
type Request struct {
	ImagePath    string
	Factor       string // raw user input: "2x", "3", "4.0", ...
	Format       imaging.Format
	WithMetadata bool
}

// CustomRequest targets explicit output dimensions instead of a factor.
type CustomRequest struct {
	ImagePath    string
	TargetWidth  string
	TargetHeight string
	Format       imaging.Format
	WithMetadata bool
}

// Result is the outcome of a successful upscale. The caller owns Image
// and must Close it.
type Result struct {
	Image       gocv.Mat
	OutputPath  string
	SidecarPath string
	Width       int
	Height      int
	Factor      int
	Metrics     map[string]float64
}

// Manager orchestrates upscale requests: factor resolution, the model
// call, persistence and memory reclaim. Public entry points never
// propagate errors; they return a nil result and a displayable
// "Error: ..." message instead, so a failure can never take the UI down.
type Manager struct {
	loader        *imaging.Loader
	upscaler      Upscaler
	evaluator     *metrics.Evaluator
	logger        *logrus.Logger
	outputDir     string
	defaultFactor int
}

func NewManager(loader *imaging.Loader, upscaler Upscaler, evaluator *metrics.Evaluator, logger *logrus.Logger, outputDir string, defaultFactor int) *Manager {
	return &Manager{
		loader:        loader,
		upscaler:      upscaler,
		evaluator:     evaluator,
		logger:        logger,
		outputDir:     outputDir,
		defaultFactor: defaultFactor,
	}
}

// Upscale runs a single plain-factor upscale.
func (m *Manager) Upscale(req Request) (*Result, string) {
	defer m.reclaimMemory()

	res, err := m.guard("upscale", func() (*Result, error) {
		return m.upscaleOne(req)
	})
	if err != nil {
		return nil, "Error: " + err.Error()
	}
	return res, fmt.Sprintf("Successfully upscaled image %dx to %dx%d", res.Factor, res.Width, res.Height)
}

// UpscaleCustom upscales to exact target dimensions: model upscale at the
// bucketed factor, then an exact Lanczos4 resize when needed.
func (m *Manager) UpscaleCustom(req CustomRequest) (*Result, string) {
	defer m.reclaimMemory()

	res, err := m.guard("upscale_custom", func() (*Result, error) {
		return m.upscaleCustom(req)
	})
	if err != nil {
		return nil, "Error: " + err.Error()
	}
	return res, fmt.Sprintf("Successfully upscaled image to %dx%d", res.Width, res.Height)
}

// Batch processes images sequentially. A failing image is recorded and
// the rest of the batch continues; the summary aggregates successes and
// lists per-image errors. Each item runs through Upscale and therefore
// gets its own memory reclaim.
func (m *Manager) Batch(paths []string, factor string, format imaging.Format, withMetadata bool) ([]*Result, string) {
	if len(paths) == 0 {
		return nil, "Error: No images provided"
	}

	var results []*Result
	var errors []string

	for idx, path := range paths {
		m.logger.WithFields(logrus.Fields{
			"index": idx + 1,
			"total": len(paths),
		}).Info("Processing batch image")

		res, msg := m.Upscale(Request{
			ImagePath:    path,
			Factor:       factor,
			Format:       format,
			WithMetadata: withMetadata,
		})
		if res != nil {
			results = append(results, res)
		} else {
			errors = append(errors, fmt.Sprintf("Image %d: %s", idx+1, msg))
		}
	}

	if len(results) == 0 {
		return nil, "Failed to upscale any images\n\n" + strings.Join(errors, "\n")
	}

	summary := fmt.Sprintf("Successfully upscaled %d image(s)", len(results))
	if len(errors) > 0 {
		summary += "\n\nErrors:\n" + strings.Join(errors, "\n")
	}
	return results, summary
}

// guard converts panics at the collaborator boundary into errors and logs
// every failure with a stack trace.
func (m *Manager) guard(op string, fn func() (*Result, error)) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithFields(logrus.Fields{
				"op":    op,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Upscale panicked")
			res = nil
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	res, err = fn()
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"op":    op,
			"stack": string(debug.Stack()),
		}).Error("Upscale failed")
	}
	return res, err
}

func (m *Manager) upscaleOne(req Request) (*Result, error) {
	if strings.TrimSpace(req.ImagePath) == "" {
		return nil, fmt.Errorf("input image is required")
	}

	factor, err := ResolveFactor(req.Factor, m.defaultFactor)
	if err != nil {
		return nil, err
	}

	src, err := m.loader.Load(req.ImagePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	origWidth, origHeight := src.Cols(), src.Rows()

	m.logger.WithField("factor", factor).Info("Upscaling image")

	out, err := m.upscaler.Upscale(src, factor)
	if err != nil {
		return nil, fmt.Errorf("failed to upscale image: %w", err)
	}

	timestamp := time.Now().Unix()
	stem := fmt.Sprintf("upscaled_%dx_%d", factor, timestamp)

	res, err := m.persist(out, stem, req.Format, req.WithMetadata, imaging.Sidecar{
		OriginalWidth:  origWidth,
		OriginalHeight: origHeight,
		UpscaleFactor:  factor,
		OriginalFile:   filepath.Base(req.ImagePath),
	})
	if err != nil {
		out.Close()
		return nil, err
	}
	res.Factor = factor
	return res, nil
}

func (m *Manager) upscaleCustom(req CustomRequest) (*Result, error) {
	if strings.TrimSpace(req.ImagePath) == "" {
		return nil, fmt.Errorf("input image is required")
	}

	src, err := m.loader.Load(req.ImagePath)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	origWidth, origHeight := src.Cols(), src.Rows()

	plan, err := ResolveCustomDimensions(req.TargetWidth, req.TargetHeight, origWidth, origHeight)
	if err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"factor": plan.Factor,
		"target": fmt.Sprintf("%dx%d", plan.Width, plan.Height),
	}).Info("Upscaling image to custom dimensions")

	out, err := m.upscaler.Upscale(src, plan.Factor)
	if err != nil {
		return nil, fmt.Errorf("failed to upscale image: %w", err)
	}

	// Force an exact match with the requested box.
	if out.Cols() != plan.Width || out.Rows() != plan.Height {
		exact := gocv.NewMat()
		if err := gocv.Resize(out, &exact, image.Point{X: plan.Width, Y: plan.Height}, 0, 0, gocv.InterpolationLanczos4); err != nil {
			out.Close()
			exact.Close()
			return nil, fmt.Errorf("final resize failed: %w", err)
		}
		out.Close()
		out = exact
	}

	timestamp := time.Now().Unix()
	stem := fmt.Sprintf("upscaled_custom_%dx%d_%d", plan.Width, plan.Height, timestamp)

	res, err := m.persist(out, stem, req.Format, req.WithMetadata, imaging.Sidecar{
		OriginalWidth:  origWidth,
		OriginalHeight: origHeight,
		TargetWidth:    plan.Width,
		TargetHeight:   plan.Height,
		EffectiveScale: plan.EffectiveScale,
		UpscaleFactor:  plan.Factor,
		OriginalFile:   filepath.Base(req.ImagePath),
	})
	if err != nil {
		out.Close()
		return nil, err
	}
	res.Factor = plan.Factor
	return res, nil
}

// persist saves the image and optional sidecar; on success the Mat is
// handed to the returned Result.
func (m *Manager) persist(out gocv.Mat, stem string, format imaging.Format, withMetadata bool, meta imaging.Sidecar) (*Result, error) {
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	outputPath := filepath.Join(m.outputDir, stem+"."+format.Extension())
	if err := m.loader.Save(out, outputPath, format); err != nil {
		return nil, err
	}

	sidecarPath := ""
	if withMetadata {
		meta.UpscaledWidth = out.Cols()
		meta.UpscaledHeight = out.Rows()
		meta.OutputFormat = string(format)
		meta.GenerationTime = time.Now().Format(time.ANSIC)

		sidecarPath = filepath.Join(m.outputDir, stem+".json")
		if err := imaging.WriteSidecar(sidecarPath, meta); err != nil {
			return nil, err
		}
	}

	return &Result{
		Image:       out,
		OutputPath:  outputPath,
		SidecarPath: sidecarPath,
		Width:       out.Cols(),
		Height:      out.Rows(),
		Metrics:     m.evaluator.Evaluate(out),
	}, nil
}
