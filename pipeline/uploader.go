package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/natefinch/lumberjack"

	"edgemon-go/model"
	"edgemon-go/service/analyzer"
	"edgemon-go/service/lgr"
)

var verdictLogger = &lumberjack.Logger{
	Filename:   "verdicts.log",
	MaxSize:    10, // MB
	MaxBackups: 5,
	MaxAge:     7,    // days
	Compress:   true, // compress old logs
}

// UploadWorker performs the analyzer round trip off the frame loop.
// At most one request is ever in flight: the in-flight flag is taken
// atomically before dispatch and released on completion, success or
// failure. A rejected Submit is ordinary backpressure, not an error.
type UploadWorker struct {
	analyzerSvc analyzer.IService
	overlay     *OverlayState
	classifier  *Classifier
	timeout     time.Duration

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats model.UploaderStats
}

func NewUploadWorker(analyzersvc analyzer.IService, overlay *OverlayState, classifier *Classifier, timeout time.Duration) *UploadWorker {
	return &UploadWorker{
		analyzerSvc: analyzersvc,
		overlay:     overlay,
		classifier:  classifier,
		timeout:     timeout,
	}
}

// Submit takes ownership of req and dispatches it in the background.
// It returns false immediately when a request is already in flight.
func (w *UploadWorker) Submit(req UploadRequest) bool {
	if !w.inFlight.CompareAndSwap(false, true) {
		w.mu.Lock()
		w.stats.Rejected++
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	w.stats.Accepted++
	w.mu.Unlock()

	w.wg.Add(1)
	go w.roundTrip(req)
	return true
}

func (w *UploadWorker) roundTrip(req UploadRequest) {
	defer w.wg.Done()
	defer w.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	started := time.Now()
	raw, err := w.analyzerSvc.Analyze(ctx, req.Image, req.Query)
	if err != nil {
		// The previous alert stays visible; the next detection cycle
		// retries once the cooldown allows.
		w.mu.Lock()
		w.stats.Failures++
		w.mu.Unlock()

		kind := "network"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			kind = "timeout"
		case errors.Is(err, model.ErrMalformedResponse):
			kind = "malformed"
		}
		lgr.Logger.Error(
			"analyzer round trip failed",
			slog.String("kind", kind),
			slog.String("requestID", req.ID),
			slog.Uint64("frameSeq", req.FrameSeq),
			slog.String("provider", w.analyzerSvc.Name()),
			slog.Any("error", err),
		)
		return
	}

	resp := ParseProviderText(raw)
	state := w.classifier.Classify(resp, req.FrameSeq, time.Now())
	w.overlay.Publish(state)

	auditVerdict(req, state, time.Since(started))

	lgr.Logger.Info(
		"analysis complete",
		slog.String("requestID", req.ID),
		slog.Uint64("frameSeq", req.FrameSeq),
		slog.String("level", string(state.Level)),
		slog.Float64("confidence", state.Confidence),
		slog.Duration("took", time.Since(started)),
	)
}

func (w *UploadWorker) InFlight() bool {
	return w.inFlight.Load()
}

// Drain waits for the in-flight round trip, if any, up to timeout.
// Best effort: a hung request is abandoned to its context deadline.
func (w *UploadWorker) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (w *UploadWorker) Stats() model.UploaderStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	stats := w.stats
	stats.Timestamp = time.Now().Unix()
	return stats
}

func auditVerdict(req UploadRequest, state model.AlertState, took time.Duration) {
	entry := map[string]interface{}{
		"time":       time.Now().Format(time.RFC3339),
		"requestId":  req.ID,
		"frameSeq":   req.FrameSeq,
		"level":      state.Level,
		"type":       state.Type,
		"message":    state.Message,
		"confidence": state.Confidence,
		"tookMs":     took.Milliseconds(),
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Println("Error marshaling verdict:", err)
		return
	}

	if _, err := verdictLogger.Write(append(jsonData, '\n')); err != nil {
		fmt.Println("Error writing to verdict log file:", err)
	}
}
