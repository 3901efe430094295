package gui

import (
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"mflux-studio/internal/config"
	"mflux-studio/internal/imaging"
	"mflux-studio/internal/upscale"
)

// UpscaleTab is the upscaling workflow: single image by factor, custom
// target dimensions, and sequential batch processing.
type UpscaleTab struct {
	window  fyne.Window
	manager *upscale.Manager
	loader  *imaging.Loader
	logger  *logrus.Logger

	root *fyne.Container

	// Input
	inputPath  *widget.Entry
	browseBtn  *widget.Button
	dimsLabel  *widget.Label
	origWidth  int
	origHeight int

	// Factor path
	factorEntry *widget.Entry

	// Custom dimensions path
	scaleSlider *widget.Slider
	widthEntry  *widget.Entry
	heightEntry *widget.Entry
	syncingDims bool

	// Output options
	formatSelect  *widget.Select
	metadataCheck *widget.Check

	// Batch
	batchPaths []string
	batchList  *widget.List
	addBatch   *widget.Button
	clearBatch *widget.Button

	// Actions and result
	upscaleBtn *widget.Button
	customBtn  *widget.Button
	batchBtn   *widget.Button
	preview    *canvas.Image
	statusText *widget.Entry
}

func NewUpscaleTab(window fyne.Window, manager *upscale.Manager, loader *imaging.Loader, cfg *config.Config, logger *logrus.Logger) *UpscaleTab {
	tab := &UpscaleTab{
		window:  window,
		manager: manager,
		loader:  loader,
		logger:  logger,
	}
	tab.initializeUI(cfg)
	return tab
}

func (t *UpscaleTab) initializeUI(cfg *config.Config) {
	t.inputPath = widget.NewEntry()
	t.inputPath.SetPlaceHolder("Path to input image")
	t.inputPath.OnChanged = func(path string) {
		t.refreshSourceDimensions(path)
	}
	t.browseBtn = widget.NewButton("Browse...", t.onBrowse)
	t.dimsLabel = widget.NewLabel("No image selected")

	t.factorEntry = widget.NewEntry()
	t.factorEntry.SetText(fmt.Sprintf("%dx", cfg.Upscale.DefaultFactor))

	t.scaleSlider = widget.NewSlider(1.0, 4.0)
	t.scaleSlider.Step = 0.1
	t.scaleSlider.Value = 2.0
	t.scaleSlider.OnChanged = t.onScaleChanged

	t.widthEntry = widget.NewEntry()
	t.widthEntry.SetPlaceHolder("Target width (px or e.g. 2x)")
	t.widthEntry.OnChanged = t.onWidthChanged
	t.heightEntry = widget.NewEntry()
	t.heightEntry.SetPlaceHolder("Target height (px or e.g. 2x)")
	t.heightEntry.OnChanged = t.onHeightChanged

	t.formatSelect = widget.NewSelect(imaging.Formats(), nil)
	t.formatSelect.SetSelected(cfg.Output.DefaultFormat)
	t.metadataCheck = widget.NewCheck("Save metadata sidecar", nil)

	t.batchList = widget.NewList(
		func() int { return len(t.batchPaths) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			obj.(*widget.Label).SetText(filepath.Base(t.batchPaths[id]))
		},
	)
	t.addBatch = widget.NewButton("Add Image", t.onAddBatchImage)
	t.clearBatch = widget.NewButton("Clear", func() {
		t.batchPaths = nil
		t.batchList.Refresh()
	})

	t.upscaleBtn = widget.NewButton("Upscale", t.onUpscale)
	t.upscaleBtn.Importance = widget.HighImportance
	t.customBtn = widget.NewButton("Upscale to Custom Size", t.onUpscaleCustom)
	t.batchBtn = widget.NewButton("Batch Upscale", t.onBatchUpscale)

	t.preview = canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	t.preview.FillMode = canvas.ImageFillContain
	t.preview.SetMinSize(fyne.NewSize(480, 360))

	t.statusText = widget.NewMultiLineEntry()
	t.statusText.Disable()
	t.statusText.SetMinRowsVisible(5)

	inputCard := widget.NewCard("Input", "", container.NewVBox(
		container.NewBorder(nil, nil, nil, t.browseBtn, t.inputPath),
		t.dimsLabel,
	))

	factorCard := widget.NewCard("Upscale Factor", "", container.NewVBox(
		widget.NewLabel("Factor (2x, 3 or 4)"),
		t.factorEntry,
		t.upscaleBtn,
	))

	customCard := widget.NewCard("Custom Dimensions", "", container.NewVBox(
		widget.NewLabel("Scale"),
		t.scaleSlider,
		container.NewGridWithColumns(2,
			container.NewVBox(widget.NewLabel("Width"), t.widthEntry),
			container.NewVBox(widget.NewLabel("Height"), t.heightEntry),
		),
		t.customBtn,
	))

	outputCard := widget.NewCard("Output", "", container.NewVBox(
		widget.NewLabel("Format"),
		t.formatSelect,
		t.metadataCheck,
	))

	batchCard := widget.NewCard("Batch", "", container.NewBorder(
		nil,
		container.NewVBox(container.NewGridWithColumns(2, t.addBatch, t.clearBatch), t.batchBtn),
		nil, nil,
		container.NewScroll(t.batchList),
	))

	left := container.NewVBox(inputCard, factorCard, customCard, outputCard)
	leftScroll := container.NewScroll(left)

	right := container.NewBorder(
		nil,
		widget.NewCard("Status", "", t.statusText),
		nil, nil,
		widget.NewCard("Result", "", t.preview),
	)

	split := container.NewHSplit(leftScroll, right)
	split.SetOffset(0.35)

	batchSplit := container.NewVSplit(split, batchCard)
	batchSplit.SetOffset(0.8)

	t.root = container.NewBorder(nil, nil, nil, nil, batchSplit)
}

func (t *UpscaleTab) Container() fyne.CanvasObject {
	return t.root
}

func (t *UpscaleTab) onBrowse() {
	dialog.ShowFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil || reader == nil {
			return
		}
		path := reader.URI().Path()
		reader.Close()
		t.inputPath.SetText(path)
	}, t.window)
}

// refreshSourceDimensions populates width/height from the selected image
// so the custom-dimension controls have an aspect ratio to work with.
func (t *UpscaleTab) refreshSourceDimensions(path string) {
	if strings.TrimSpace(path) == "" {
		t.origWidth, t.origHeight = 0, 0
		t.dimsLabel.SetText("No image selected")
		return
	}

	width, height, err := t.loader.Dimensions(path)
	if err != nil {
		t.dimsLabel.SetText("Could not read image")
		return
	}

	t.origWidth, t.origHeight = width, height
	t.dimsLabel.SetText(fmt.Sprintf("Original: %dx%d", width, height))
	t.onScaleChanged(t.scaleSlider.Value)
}

func (t *UpscaleTab) onScaleChanged(scale float64) {
	if t.origWidth == 0 || t.syncingDims {
		return
	}
	t.syncingDims = true
	defer func() { t.syncingDims = false }()

	w, h := upscale.ScaledDimensions(t.origWidth, t.origHeight, scale)
	t.widthEntry.SetText(fmt.Sprintf("%d", w))
	t.heightEntry.SetText(fmt.Sprintf("%d", h))
}

func (t *UpscaleTab) onWidthChanged(value string) {
	if t.origWidth == 0 || t.syncingDims {
		return
	}
	width, err := upscale.ParseDimension(value, t.origWidth)
	if err != nil {
		return
	}
	t.syncingDims = true
	defer func() { t.syncingDims = false }()
	t.heightEntry.SetText(fmt.Sprintf("%d", upscale.HeightForWidth(width, t.origWidth, t.origHeight)))
}

func (t *UpscaleTab) onHeightChanged(value string) {
	if t.origHeight == 0 || t.syncingDims {
		return
	}
	height, err := upscale.ParseDimension(value, t.origHeight)
	if err != nil {
		return
	}
	t.syncingDims = true
	defer func() { t.syncingDims = false }()
	t.widthEntry.SetText(fmt.Sprintf("%d", upscale.WidthForHeight(height, t.origWidth, t.origHeight)))
}

func (t *UpscaleTab) onAddBatchImage() {
	dialog.ShowFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil || reader == nil {
			return
		}
		path := reader.URI().Path()
		reader.Close()
		t.batchPaths = append(t.batchPaths, path)
		t.batchList.Refresh()
	}, t.window)
}

func (t *UpscaleTab) selectedFormat() imaging.Format {
	return imaging.ParseFormat(t.formatSelect.Selected)
}

func (t *UpscaleTab) onUpscale() {
	req := upscale.Request{
		ImagePath:    t.inputPath.Text,
		Factor:       t.factorEntry.Text,
		Format:       t.selectedFormat(),
		WithMetadata: t.metadataCheck.Checked,
	}

	t.setBusy(true)
	t.statusText.SetText("Upscaling...")

	go func() {
		res, msg := t.manager.Upscale(req)
		fyne.Do(func() {
			t.showResult(res, msg)
			t.setBusy(false)
		})
	}()
}

func (t *UpscaleTab) onUpscaleCustom() {
	req := upscale.CustomRequest{
		ImagePath:    t.inputPath.Text,
		TargetWidth:  t.widthEntry.Text,
		TargetHeight: t.heightEntry.Text,
		Format:       t.selectedFormat(),
		WithMetadata: t.metadataCheck.Checked,
	}

	t.setBusy(true)
	t.statusText.SetText("Upscaling to custom dimensions...")

	go func() {
		res, msg := t.manager.UpscaleCustom(req)
		fyne.Do(func() {
			t.showResult(res, msg)
			t.setBusy(false)
		})
	}()
}

func (t *UpscaleTab) onBatchUpscale() {
	paths := make([]string, len(t.batchPaths))
	copy(paths, t.batchPaths)
	factor := t.factorEntry.Text
	format := t.selectedFormat()
	withMetadata := t.metadataCheck.Checked

	t.setBusy(true)
	t.statusText.SetText(fmt.Sprintf("Processing %d image(s)...", len(paths)))

	go func() {
		results, summary := t.manager.Batch(paths, factor, format, withMetadata)
		fyne.Do(func() {
			if len(results) > 0 {
				// Show the last successful image; earlier Mats are released.
				for _, r := range results[:len(results)-1] {
					r.Image.Close()
				}
				t.showResult(results[len(results)-1], summary)
			} else {
				t.showResult(nil, summary)
			}
			t.setBusy(false)
		})
	}()
}

// showResult takes ownership of the result Mat.
func (t *UpscaleTab) showResult(res *upscale.Result, msg string) {
	if res == nil {
		t.statusText.SetText(msg)
		return
	}
	defer res.Image.Close()

	img, err := res.Image.ToImage()
	if err != nil {
		t.logger.WithError(err).Error("Failed to convert result for display")
		t.statusText.SetText(msg)
		return
	}
	t.preview.Image = img
	t.preview.Refresh()

	t.statusText.SetText(msg + "\nSaved to: " + res.OutputPath + formatMetricsLine(res.Metrics))
}

func (t *UpscaleTab) setBusy(busy bool) {
	buttons := []*widget.Button{t.upscaleBtn, t.customBtn, t.batchBtn}
	for _, b := range buttons {
		if busy {
			b.Disable()
		} else {
			b.Enable()
		}
	}
}

func formatMetricsLine(values map[string]float64) string {
	if len(values) == 0 {
		return ""
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s %.2f", name, values[name]))
	}
	return "\n" + strings.Join(parts, " | ")
}
