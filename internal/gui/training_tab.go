package gui

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/sirupsen/logrus"

	"mflux-studio/internal/config"
	"mflux-studio/internal/training"
)

// maxCaptionRows mirrors the caption grid size of the original tool.
const maxCaptionRows = 20

type captionRow struct {
	box   *fyne.Container
	name  *widget.Label
	entry *widget.Entry
}

// TrainingTab is the dreambooth fine-tuning workflow: image/caption
// management, the training parameter form and a live progress panel.
type TrainingTab struct {
	window    fyne.Window
	trainer   training.Trainer
	captioner training.Captioner
	logger    *logrus.Logger
	cfg       *config.Config

	root *fyne.Container

	// Training images and captions
	imagePaths  []string
	addImage    *widget.Button
	clearImages *widget.Button
	captionBtn  *widget.Button
	captionRows [maxCaptionRows]*captionRow

	// Parameters
	baseModel        *widget.SelectEntry
	triggerPrompt    *widget.Entry
	imageSize        *widget.Select
	epochs           *widget.Entry
	batchSize        *widget.Entry
	loraRank         *widget.Entry
	learningRate     *widget.Select
	seed             *widget.Entry
	checkpointFreq   *widget.Entry
	validationPrompt *widget.Entry
	guidanceSlider   *widget.Slider
	guidanceLabel    *widget.Label
	lowRAM           *widget.Check
	outputDir        *widget.Entry
	resumeCheckpoint *widget.Entry

	// Layer-range controls with the mutual-exclusion rule
	transformerCheck *widget.Check
	transformerStart *widget.Slider
	transformerEnd   *widget.Slider
	singleCheck      *widget.Check
	singleStart      *widget.Slider
	singleEnd        *widget.Slider
	syncingToggles   bool

	// Run control
	startBtn     *widget.Button
	stopBtn      *widget.Button
	progressText *widget.Entry
	cancelRun    context.CancelFunc
}

func NewTrainingTab(window fyne.Window, trainer training.Trainer, captioner training.Captioner, cfg *config.Config, logger *logrus.Logger) *TrainingTab {
	tab := &TrainingTab{
		window:    window,
		trainer:   trainer,
		captioner: captioner,
		logger:    logger,
		cfg:       cfg,
	}
	tab.initializeUI()
	return tab
}

func (t *TrainingTab) initializeUI() {
	t.addImage = widget.NewButton("Add Training Image", t.onAddImage)
	t.clearImages = widget.NewButton("Clear Images", t.onClearImages)
	t.captionBtn = widget.NewButton("Create Captions with VLM", t.onCreateCaptions)
	t.captionBtn.Importance = widget.HighImportance

	captionBox := container.NewVBox()
	for i := range t.captionRows {
		row := &captionRow{
			name:  widget.NewLabel(""),
			entry: widget.NewMultiLineEntry(),
		}
		row.entry.SetPlaceHolder(fmt.Sprintf("Caption %d", i+1))
		row.entry.SetMinRowsVisible(2)
		row.box = container.NewVBox(row.name, row.entry)
		row.box.Hide()
		t.captionRows[i] = row
		captionBox.Add(row.box)
	}

	t.baseModel = widget.NewSelectEntry([]string{"schnell-4-bit", "schnell", "dev-4-bit", "dev"})
	t.baseModel.SetText("schnell-4-bit")

	t.triggerPrompt = widget.NewEntry()
	t.triggerPrompt.SetText("a photo of sks")

	t.imageSize = widget.NewSelect([]string{"256x256", "512x512", "768x768", "1024x1024"}, nil)
	t.imageSize.SetSelected("512x512")

	t.epochs = newNumberEntry("20")
	t.batchSize = newNumberEntry("1")
	t.loraRank = newNumberEntry("4")
	t.seed = newNumberEntry("42")
	t.checkpointFreq = newNumberEntry("10")

	t.learningRate = widget.NewSelect([]string{"0.0001", "0.00005", "0.0002"}, nil)
	t.learningRate.SetSelected("0.0001")

	t.validationPrompt = widget.NewEntry()
	t.validationPrompt.SetPlaceHolder("Leave empty to use the trigger word")

	t.guidanceLabel = widget.NewLabel("Guidance Scale: 3.0")
	t.guidanceSlider = widget.NewSlider(1.0, 10.0)
	t.guidanceSlider.Step = 0.1
	t.guidanceSlider.Value = 3.0
	t.guidanceSlider.OnChanged = func(v float64) {
		t.guidanceLabel.SetText(fmt.Sprintf("Guidance Scale: %.1f", v))
	}

	t.lowRAM = widget.NewCheck("Low RAM Mode", nil)
	t.lowRAM.SetChecked(true)

	t.outputDir = widget.NewEntry()
	t.outputDir.SetText(t.cfg.Training.OutputDir)

	t.resumeCheckpoint = widget.NewEntry()
	t.resumeCheckpoint.SetPlaceHolder("Path to checkpoint.zip (optional)")

	t.transformerCheck = widget.NewCheck("Enable Transformer Blocks (early layers)", func(bool) {
		t.onBlockToggled(true)
	})
	t.transformerStart = blockSlider(training.MaxTransformerBlock, 0)
	t.transformerEnd = blockSlider(training.MaxTransformerBlock, training.MaxTransformerBlock)

	t.singleCheck = widget.NewCheck("Enable Single Transformer Blocks (late layers)", func(bool) {
		t.onBlockToggled(false)
	})
	t.singleCheck.SetChecked(true)
	t.singleStart = blockSlider(training.MaxSingleBlock, 0)
	t.singleEnd = blockSlider(training.MaxSingleBlock, training.MaxSingleBlock)

	t.startBtn = widget.NewButton("Start Training", t.onStartTraining)
	t.startBtn.Importance = widget.HighImportance
	t.stopBtn = widget.NewButton("Stop", t.Stop)
	t.stopBtn.Disable()

	t.progressText = widget.NewMultiLineEntry()
	t.progressText.Disable()
	t.progressText.SetMinRowsVisible(10)

	imagesCard := widget.NewCard("Training Images", "", container.NewVBox(
		container.NewGridWithColumns(2, t.addImage, t.clearImages),
		t.captionBtn,
		container.NewScroll(captionBox),
	))

	paramsCard := widget.NewCard("Training Parameters", "", container.NewVBox(
		widget.NewLabel("Base Model"), t.baseModel,
		widget.NewLabel("Training Prompt (trigger word)"), t.triggerPrompt,
		widget.NewLabel("Training Image Size"), t.imageSize,
		widget.NewLabel("Epochs"), t.epochs,
		widget.NewLabel("Batch Size"), t.batchSize,
		widget.NewLabel("LoRA Rank"), t.loraRank,
		widget.NewLabel("Learning Rate"), t.learningRate,
		widget.NewLabel("Random Seed"), t.seed,
		widget.NewLabel("Checkpoint Frequency"), t.checkpointFreq,
		widget.NewLabel("Validation Prompt"), t.validationPrompt,
		t.guidanceLabel, t.guidanceSlider,
		t.lowRAM,
		widget.NewLabel("Output Directory"), t.outputDir,
		widget.NewLabel("Resume from Checkpoint"), t.resumeCheckpoint,
	))

	blocksCard := widget.NewCard("Advanced: Trainable Layers", "", container.NewVBox(
		t.transformerCheck,
		widget.NewLabel("Start Block"), t.transformerStart,
		widget.NewLabel("End Block"), t.transformerEnd,
		widget.NewSeparator(),
		t.singleCheck,
		widget.NewLabel("Start Block"), t.singleStart,
		widget.NewLabel("End Block"), t.singleEnd,
	))

	progressCard := widget.NewCard("Training Progress", "", container.NewVBox(
		container.NewGridWithColumns(2, t.startBtn, t.stopBtn),
		t.progressText,
	))

	left := container.NewScroll(imagesCard)
	right := container.NewScroll(container.NewVBox(paramsCard, blocksCard))

	top := container.NewHSplit(left, right)
	top.SetOffset(0.55)

	main := container.NewVSplit(top, progressCard)
	main.SetOffset(0.7)

	t.root = container.NewBorder(nil, nil, nil, nil, main)
}

func (t *TrainingTab) Container() fyne.CanvasObject {
	return t.root
}

// Stop cancels a running training session, if any.
func (t *TrainingTab) Stop() {
	if t.cancelRun != nil {
		t.cancelRun()
	}
}

func (t *TrainingTab) onAddImage() {
	if len(t.imagePaths) >= maxCaptionRows {
		t.appendProgress(fmt.Sprintf("At most %d training images are supported", maxCaptionRows))
		return
	}
	dialog.ShowFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil || reader == nil {
			return
		}
		path := reader.URI().Path()
		reader.Close()
		t.imagePaths = append(t.imagePaths, path)
		t.refreshCaptionRows()
	}, t.window)
}

func (t *TrainingTab) onClearImages() {
	t.imagePaths = nil
	t.refreshCaptionRows()
}

func (t *TrainingTab) refreshCaptionRows() {
	for i, row := range t.captionRows {
		if i < len(t.imagePaths) {
			row.name.SetText(filepath.Base(t.imagePaths[i]))
			row.box.Show()
		} else {
			row.name.SetText("")
			row.entry.SetText("")
			row.box.Hide()
		}
	}
}

func (t *TrainingTab) onCreateCaptions() {
	if len(t.imagePaths) == 0 {
		t.appendProgress("Add training images before generating captions")
		return
	}

	paths := make([]string, len(t.imagePaths))
	copy(paths, t.imagePaths)
	model := t.cfg.Training.CaptionerModel
	trigger := t.triggerPrompt.Text

	t.captionBtn.Disable()
	go func() {
		captions, err := t.captioner.Caption(context.Background(), paths, model, trigger)
		fyne.Do(func() {
			defer t.captionBtn.Enable()
			if err != nil {
				t.appendProgress("Error: " + err.Error())
				return
			}
			for i, caption := range captions {
				if i < len(t.captionRows) {
					t.captionRows[i].entry.SetText(caption)
				}
			}
		})
	}()
}

// onBlockToggled applies the rule that only one layer family can be
// trained at a time. The sync flag stops SetChecked from re-entering.
func (t *TrainingTab) onBlockToggled(transformerJustToggled bool) {
	if t.syncingToggles {
		return
	}
	t.syncingToggles = true
	defer func() { t.syncingToggles = false }()

	tr, single := training.ResolveBlockToggles(
		t.transformerCheck.Checked, t.singleCheck.Checked, transformerJustToggled)
	t.transformerCheck.SetChecked(tr)
	t.singleCheck.SetChecked(single)
}

func (t *TrainingTab) collectParams() (training.Params, error) {
	var p training.Params

	epochs, err := parseIntField("epochs", t.epochs.Text)
	if err != nil {
		return p, err
	}
	batchSize, err := parseIntField("batch size", t.batchSize.Text)
	if err != nil {
		return p, err
	}
	rank, err := parseIntField("LoRA rank", t.loraRank.Text)
	if err != nil {
		return p, err
	}
	seed, err := parseIntField("seed", t.seed.Text)
	if err != nil {
		return p, err
	}
	checkpointFreq, err := parseIntField("checkpoint frequency", t.checkpointFreq.Text)
	if err != nil {
		return p, err
	}
	learningRate, err := strconv.ParseFloat(t.learningRate.Selected, 64)
	if err != nil {
		return p, fmt.Errorf("invalid learning rate %q", t.learningRate.Selected)
	}

	captions := make([]string, len(t.imagePaths))
	for i := range t.imagePaths {
		captions[i] = t.captionRows[i].entry.Text
	}

	p = training.Params{
		BaseModel:           t.baseModel.Text,
		TriggerPrompt:       t.triggerPrompt.Text,
		ImageSize:           t.imageSize.Selected,
		ImagePaths:          append([]string(nil), t.imagePaths...),
		Captions:            captions,
		Epochs:              epochs,
		BatchSize:           batchSize,
		LoraRank:            rank,
		LearningRate:        learningRate,
		Seed:                int64(seed),
		CheckpointFrequency: checkpointFreq,
		ValidationPrompt:    t.validationPrompt.Text,
		GuidanceScale:       t.guidanceSlider.Value,
		LowRAMMode:          t.lowRAM.Checked,
		OutputDir:           t.outputDir.Text,
		ResumeCheckpoint:    t.resumeCheckpoint.Text,
		VLMModel:            t.cfg.Training.CaptionerModel,

		TransformerBlocksEnabled: t.transformerCheck.Checked,
		TransformerStart:         int(t.transformerStart.Value),
		TransformerEnd:           int(t.transformerEnd.Value),
		SingleBlocksEnabled:      t.singleCheck.Checked,
		SingleStart:              int(t.singleStart.Value),
		SingleEnd:                int(t.singleEnd.Value),
	}
	return p, nil
}

// onStartTraining relays the trainer's progress stream into the panel,
// one update per received line. An error ends the stream and its text
// replaces the progress.
func (t *TrainingTab) onStartTraining() {
	params, err := t.collectParams()
	if err != nil {
		t.progressText.SetText("Error: " + err.Error())
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	progress, err := t.trainer.Run(ctx, params)
	if err != nil {
		cancel()
		t.progressText.SetText("Error: " + err.Error())
		return
	}

	t.cancelRun = cancel
	t.setRunning(true)
	t.progressText.SetText("")

	go func() {
		for line := range progress {
			line := line
			fyne.Do(func() {
				t.appendProgress(line)
			})
		}
		fyne.Do(func() {
			t.setRunning(false)
		})
		cancel()
	}()
}

func (t *TrainingTab) setRunning(running bool) {
	if running {
		t.startBtn.Disable()
		t.stopBtn.Enable()
	} else {
		t.startBtn.Enable()
		t.stopBtn.Disable()
		t.cancelRun = nil
	}
}

func (t *TrainingTab) appendProgress(line string) {
	text := t.progressText.Text
	if text != "" {
		text += "\n"
	}
	t.progressText.SetText(text + line)
}

func blockSlider(max, value int) *widget.Slider {
	s := widget.NewSlider(0, float64(max))
	s.Step = 1
	s.Value = float64(value)
	return s
}
