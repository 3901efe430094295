package main

import (
	"flag"
	"os"

	"fyne.io/fyne/v2/app"
	"github.com/sirupsen/logrus"

	"mflux-studio/internal/config"
	"mflux-studio/internal/gui"
)

const (
	AppName = "MFLUX Studio"
	AppID   = "com.mflux.studio"
)

func main() {
	debugMode := flag.Bool("debug", false, "Enable debug mode with verbose logging")
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	logger := initLogger(*debugMode)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	logger.WithFields(logrus.Fields{
		"output_dir": cfg.Output.Dir,
		"debug_mode": *debugMode,
	}).Info("Starting MFLUX Studio")

	myApp := app.NewWithID(AppID)

	mainApp := gui.NewApplication(myApp, cfg, logger)
	mainApp.ShowAndRun()

	logger.Info("Application shutting down")
	os.Exit(0)
}

// initLogger initializes the logger with appropriate level
func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			ForceColors:   true,
		})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	return logger
}
