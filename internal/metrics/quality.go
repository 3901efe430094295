// Quality metrics for upscaled images.
//
// These are no-reference measures: after an upscale the output and the
// source differ in resolution, so reference metrics like PSNR do not
// apply. Sharpness and entropy give the user a quick read on whether the
// model produced detail or mush.
package metrics

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// Metric computes a single quality number for an image.
type Metric interface {
	Calculate(img gocv.Mat) (float64, error)
	Name() string
	HigherIsBetter() bool
}

// Evaluator runs all registered metrics over an image.
type Evaluator struct {
	metrics []Metric
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		metrics: []Metric{
			NewSharpness(),
			NewEntropy(),
		},
	}
}

// Register adds a metric to the evaluation set.
func (e *Evaluator) Register(m Metric) {
	e.metrics = append(e.metrics, m)
}

// Evaluate computes every registered metric. Individual metric failures
// are skipped rather than failing the whole evaluation.
func (e *Evaluator) Evaluate(img gocv.Mat) map[string]float64 {
	results := make(map[string]float64, len(e.metrics))
	for _, m := range e.metrics {
		if value, err := m.Calculate(img); err == nil {
			results[m.Name()] = value
		}
	}
	return results
}

// Sharpness measures edge strength as the variance of the Laplacian.
type Sharpness struct{}

func NewSharpness() *Sharpness {
	return &Sharpness{}
}

func (s *Sharpness) Calculate(img gocv.Mat) (float64, error) {
	if img.Empty() {
		return 0, fmt.Errorf("empty image")
	}

	gray := ensureGrayscale(img)
	defer func() {
		if gray.Ptr() != img.Ptr() {
			gray.Close()
		}
	}()

	laplacian := gocv.NewMat()
	defer laplacian.Close()
	gocv.Laplacian(gray, &laplacian, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	stddev := gocv.NewMat()
	defer stddev.Close()
	gocv.MeanStdDev(laplacian, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	return sd * sd, nil
}

func (s *Sharpness) Name() string         { return "sharpness" }
func (s *Sharpness) HigherIsBetter() bool { return true }

// Entropy measures the information content of the intensity histogram.
type Entropy struct{}

func NewEntropy() *Entropy {
	return &Entropy{}
}

func (e *Entropy) Calculate(img gocv.Mat) (float64, error) {
	if img.Empty() {
		return 0, fmt.Errorf("empty image")
	}

	gray := ensureGrayscale(img)
	defer func() {
		if gray.Ptr() != img.Ptr() {
			gray.Close()
		}
	}()

	hist := gocv.NewMat()
	defer hist.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.CalcHist([]gocv.Mat{gray}, []int{0}, mask, &hist, []int{256}, []float64{0, 256}, false)

	total := float64(gray.Rows() * gray.Cols())
	if total == 0 {
		return 0, fmt.Errorf("empty image")
	}

	entropy := 0.0
	for i := 0; i < 256; i++ {
		p := float64(hist.GetFloatAt(i, 0)) / total
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	return entropy, nil
}

func (e *Entropy) Name() string         { return "entropy" }
func (e *Entropy) HigherIsBetter() bool { return true }

func ensureGrayscale(img gocv.Mat) gocv.Mat {
	if img.Channels() == 1 {
		return img
	}
	gray := gocv.NewMat()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray
}
