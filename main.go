package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"edgemon-go/api"
	"edgemon-go/model"
	"edgemon-go/pipeline"
	"edgemon-go/service/analyzer"
	"edgemon-go/service/config"
	"edgemon-go/service/lgr"
	"edgemon-go/service/notifier"
)

const (
	// WARNING: this has to be bigger than the monitor shutdown time
	waitOnShutdown = 8 * time.Second
)

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Warn("no .env file found, relying on process env", slog.Any("error", xerrors.New(err.Error())))
		}
	}

	// Config service
	cfgSvc := config.NewEnv()

	// Analyzer service, selected by provider
	var analyzerSvc analyzer.IService
	switch provider := cfgSvc.GetProvider(); provider {
	case "remote":
		analyzerSvc = analyzer.NewRemote(cfgSvc)
	case "gemini":
		svc, err := analyzer.NewGemini(cfgSvc)
		if err != nil {
			lgr.Logger.Error("error creating gemini analyzer", slog.Any("error", xerrors.New(err.Error())))
			panic("error creating gemini analyzer")
		}
		analyzerSvc = svc
	case "fake":
		analyzerSvc = analyzer.NewFake()
	default:
		lgr.Logger.Error("invalid analyzer provider", slog.String("provider", provider))
		panic("invalid analyzer provider")
	}

	// Notifier service: NATS when configured, in-memory otherwise
	var notifierSvc notifier.IService
	if cfgSvc.GetNatsURL() != "" {
		svc, err := notifier.NewNats(cfgSvc)
		if err != nil {
			lgr.Logger.Error("error connecting to nats", slog.Any("error", xerrors.New(err.Error())))
			panic("error connecting to nats")
		}
		notifierSvc = svc
	} else {
		notifierSvc = notifier.NewFake()
	}
	defer notifierSvc.Close()

	// Video source and detector are fatal at construction
	source, err := pipeline.OpenSource(cfgSvc)
	if err != nil {
		lgr.Logger.Error("error opening video source", slog.Any("error", err))
		panic("error opening video source")
	}

	detector, err := pipeline.NewDetector(cfgSvc)
	if err != nil {
		source.Close()
		lgr.Logger.Error("error loading detector", slog.Any("error", err))
		panic("error loading detector")
	}
	defer detector.Close()

	sink := newWindowSink("edgemon - smart monitor")
	defer sink.Close()

	errorStream := make(chan interface{})
	defer close(errorStream)
	statsStream := make(chan interface{})
	defer close(statsStream)

	monitor := pipeline.NewMonitor(pipeline.Services{
		CfgSvc:      cfgSvc,
		AnalyzerSvc: analyzerSvc,
		NotifierSvc: notifierSvc,
	}, source, detector, sink, errorStream, statsStream)

	if cfgSvc.GetAPIEnabled() {
		apiSrv := api.New(cfgSvc, monitor)
		apiSrv.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(rootCtx, 2*time.Second)
			defer done()
			if err := apiSrv.Shutdown(shutdownCtx); err != nil {
				lgr.Logger.Warn("status api shutdown", slog.Any("error", err))
			}
		}()
	}

	// Run the monitor
	monitorResult := make(chan error)
	defer close(monitorResult)

	go func() {
		monitorResult <- monitor.Run(canxCtx)
	}()

	// Wait for cancellation, monitor exit, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"monitor pod context cancelled",
			)
			goto resume

		case err := <-monitorResult:
			if err != nil {
				lgr.Logger.Error(
					"monitor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
			goto resume

		case s := <-statsStream:
			procStats(s)

		case e := <-errorStream:
			procError(e)
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for the go routines to exit
	// This is needed because the go routines may need to report errors as they are exiting
resume:
	// Cancel the context if not already cancelled
	if canxCtx.Err() == nil {
		canxFn()
	}

	lgr.Logger.Info(
		"monitor pod is waiting for all go routines to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"monitor pod shutdown waiting period expired. Exiting now",
				slog.Duration("period", waitOnShutdown),
			)
			return

		case err := <-monitorResult:
			if err != nil {
				lgr.Logger.Error(
					"monitor exited",
					slog.Any("error", xerrors.New(err.Error())),
				)
			}

		case s := <-statsStream:
			procStats(s)

		case e := <-errorStream:
			procError(e)
		}
	}
}

func procStats(stats interface{}) {
	switch stats := stats.(type) {
	case model.MonitorStats:
		lgr.Logger.Info(
			"monitor stats",
			slog.Int("frames", stats.Frames),
			slog.Int("detections", stats.Detections),
			slog.Int("uploads", stats.Uploads),
			slog.Int("alerts", stats.Alerts),
			slog.Float64("fps", stats.FPS),
			slog.Int64("uptime", stats.Uptime),
		)
	case model.SourceStats:
		lgr.Logger.Info(
			"source stats",
			slog.String("name", stats.Name),
			slog.Int("frames", stats.Frames),
			slog.Int("reopens", stats.Reopens),
			slog.Int("errors", stats.Errors),
		)
	case model.UploaderStats:
		lgr.Logger.Info(
			"uploader stats",
			slog.Int("accepted", stats.Accepted),
			slog.Int("rejected", stats.Rejected),
			slog.Int("failures", stats.Failures),
		)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procError(err interface{}) {
	if custom, ok := err.(model.CustomError); ok {
		lgr.Logger.Error(
			custom.Message,
			slog.String("processor", custom.Processor),
			slog.Any("error", custom.Inner),
		)
		return
	}
	lgr.Logger.Error("pipeline error", slog.Any("error", err))
}
