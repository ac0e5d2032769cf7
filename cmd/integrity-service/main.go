package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/recipe_integrity/api"
	"github.com/mmdatafocus/recipe_integrity/bootstrap"
	"github.com/mmdatafocus/recipe_integrity/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		logrus.WithField("field", "config").Fatal(err)
	}
	logger := config.NewLogger(settings.LogLevel)

	defs, err := config.LoadDefinitions(settings.Integrity.DefinitionsFile)
	if err != nil {
		logger.WithField("field", "config").Fatal(err)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	svc, err := bootstrap.New(sigCtx, *settings, defs, logger)
	if err != nil {
		logger.WithField("field", "bootstrap").Fatal(err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			config.LogError(logger, "main", "Close", "release connections", nil, err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + settings.Server.Port,
		Handler:           api.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	runCtx, stopRun := context.WithCancel(sigCtx)
	defer stopRun()
	runDone := make(chan error, 1)
	go func() {
		runDone <- svc.Run(runCtx)
	}()

	logger.WithFields(logrus.Fields{"field": "server", "port": settings.Server.Port}).Info("integrity service listening")

	runFinished := false
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	case err := <-runDone:
		runFinished = true
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "background"}).Error(err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	stopRun()
	if !runFinished {
		select {
		case <-runDone:
		case <-shutdownCtx.Done():
			logger.WithField("field", "background").Warn("background loops did not stop in time")
		}
	}
}
