// Main application window: one tab per workflow
package gui

import (
	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"github.com/sirupsen/logrus"

	"mflux-studio/internal/config"
	"mflux-studio/internal/imaging"
	"mflux-studio/internal/metrics"
	"mflux-studio/internal/training"
	"mflux-studio/internal/upscale"
)

// Application wires the backend components to the tab UIs.
type Application struct {
	app    fyne.App
	window fyne.Window
	logger *logrus.Logger
	cfg    *config.Config

	loader    *imaging.Loader
	manager   *upscale.Manager
	trainer   training.Trainer
	captioner training.Captioner

	upscaleTab  *UpscaleTab
	trainingTab *TrainingTab
}

func NewApplication(app fyne.App, cfg *config.Config, logger *logrus.Logger) *Application {
	window := app.NewWindow("MFLUX Studio")
	window.Resize(fyne.NewSize(float32(cfg.Window.Width), float32(cfg.Window.Height)))
	window.CenterOnScreen()

	a := &Application{
		app:    app,
		window: window,
		logger: logger,
		cfg:    cfg,
	}

	a.initializeCore()
	a.initializeTabs()
	a.setupLayout()

	return a
}

func (a *Application) initializeCore() {
	a.loader = imaging.NewLoader(a.logger, a.cfg.Output.JPEGQuality, a.cfg.Output.WebPQuality)

	var upscaler upscale.Upscaler = upscale.NewResizeUpscaler(a.cfg.Upscale.MaxDimension)
	if a.cfg.Upscale.UpscalerBinary != "" {
		upscaler = upscale.NewCommandUpscaler(a.cfg.Upscale.UpscalerBinary, a.logger)
	}

	a.manager = upscale.NewManager(a.loader, upscaler, metrics.NewEvaluator(), a.logger,
		a.cfg.Output.Dir, a.cfg.Upscale.DefaultFactor)
	a.trainer = training.NewCommandTrainer(a.cfg.Training.TrainerBinary, a.logger)
	a.captioner = training.NewCommandCaptioner(a.cfg.Training.CaptionerBinary, a.logger)
}

func (a *Application) initializeTabs() {
	a.upscaleTab = NewUpscaleTab(a.window, a.manager, a.loader, a.cfg, a.logger)
	a.trainingTab = NewTrainingTab(a.window, a.trainer, a.captioner, a.cfg, a.logger)
}

func (a *Application) setupLayout() {
	tabs := container.NewAppTabs(
		container.NewTabItem("Upscale", a.upscaleTab.Container()),
		container.NewTabItem("Dreambooth Fine-Tuning", a.trainingTab.Container()),
	)
	tabs.SetTabLocation(container.TabLocationTop)
	a.window.SetContent(tabs)
}

func (a *Application) ShowAndRun() {
	a.logger.Info("Showing main application window")

	a.window.SetCloseIntercept(func() {
		a.trainingTab.Stop()
		a.app.Quit()
	})

	a.window.ShowAndRun()
}
