package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"edgemon-go/model"
	"edgemon-go/service/analyzer"
	"edgemon-go/service/config"
	"edgemon-go/service/lgr"
	"edgemon-go/service/notifier"
)

const statsEvery = 5 * time.Second

var errStopRequested = errors.New("stop requested")

type Services struct {
	CfgSvc      config.IService
	AnalyzerSvc analyzer.IService
	NotifierSvc notifier.IService
}

// Monitor is the single-threaded frame loop: pull frame, detect, gate,
// maybe submit an upload, then render the current alert state. The only
// thing it shares with the upload goroutine is the OverlayState cell.
type Monitor struct {
	svcs     Services
	source   Source
	detector PersonDetector
	sink     RenderSink

	gate     *CooldownGate
	uploader *UploadWorker
	overlay  *OverlayState

	runID string
	query string

	// Injected clock for the gate and alert-hold logic
	now func() time.Time

	errorStream chan interface{}
	statsStream chan interface{}

	mu    sync.Mutex
	stats model.MonitorStats

	lastAlertSeq uint64
	heldState    model.AlertState
	holdUntil    time.Time

	startTime     time.Time
	fpsWindowAt   time.Time
	fpsFrames     int
	currentFPS    float64
	lastStatsEmit time.Time
}

func NewMonitor(svcs Services, source Source, detector PersonDetector, sink RenderSink,
	errorStream chan interface{}, statsStream chan interface{}) *Monitor {
	overlay := NewOverlayState(time.Now())
	classifier := NewClassifier(svcs.CfgSvc.GetBenignAlertTypes())

	return &Monitor{
		svcs:        svcs,
		source:      source,
		detector:    detector,
		sink:        sink,
		gate:        NewCooldownGate(svcs.CfgSvc.GetCooldown()),
		uploader:    NewUploadWorker(svcs.AnalyzerSvc, overlay, classifier, svcs.CfgSvc.GetUploadTimeout()),
		overlay:     overlay,
		runID:       uuid.NewString(),
		query:       svcs.CfgSvc.GetAnalysisPrompt(),
		now:         time.Now,
		errorStream: errorStream,
		statsStream: statsStream,
	}
}

// Overlay exposes the shared alert cell to read-only consumers such as
// the status API.
func (m *Monitor) Overlay() *OverlayState {
	return m.overlay
}

func (m *Monitor) RunID() string {
	return m.runID
}

// Run drives the loop until the context is cancelled, the sink requests
// a stop, or the source fails fatally. On every exit path the source is
// closed and the in-flight upload, if any, is drained best-effort.
func (m *Monitor) Run(canxCtx context.Context) error {
	m.startTime = time.Now()
	m.fpsWindowAt = m.startTime

	lgr.Logger.Info(
		"monitor starting...",
		slog.String("runID", m.runID),
		slog.String("source", m.svcs.CfgSvc.GetVideoSource()),
		slog.String("provider", m.svcs.AnalyzerSvc.Name()),
		slog.Duration("cooldown", m.svcs.CfgSvc.GetCooldown()),
	)

	defer m.shutdown()

	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info("monitor context cancelled")
			return nil
		default:
		}

		if err := m.step(); err != nil {
			switch {
			case errors.Is(err, errStopRequested):
				lgr.Logger.Info("monitor stop requested by render sink")
				return nil
			case errors.Is(err, model.ErrEndOfStream):
				lgr.Logger.Info("monitor reached end of stream")
				return nil
			default:
				// Fatal source failure
				return err
			}
		}
	}
}

func (m *Monitor) step() error {
	frame, err := m.source.Next()
	if err != nil {
		return err
	}
	defer frame.Close()

	m.countFrame()

	det, err := m.detector.Detect(frame, m.svcs.CfgSvc.GetConfidenceThreshold())
	if err != nil {
		// A detection failure is fatal to this frame only
		m.mu.Lock()
		m.stats.Errors++
		m.mu.Unlock()
		m.emitError(model.GenError("monitor", err,
			map[string]interface{}{"frameSeq": frame.Seq},
			"detection failed, skipping frame"))
		return nil
	}

	personPresent := det.PersonPresent()
	if personPresent {
		m.mu.Lock()
		m.stats.Detections++
		m.mu.Unlock()
		DrawDetections(&frame.Mat, det)
	}

	now := m.now()
	if m.gate.Allow(personPresent, now) {
		m.enqueueUpload(frame, now)
	} else if personPresent {
		m.mu.Lock()
		m.stats.Denied++
		m.mu.Unlock()
	}

	state := m.overlay.Current()
	m.observeAlert(state, frame, now)

	display := state
	if m.heldState.Level == model.LevelDanger && now.Before(m.holdUntil) {
		// Keep a danger verdict on screen long enough to be seen
		display = m.heldState
	}

	DrawAlert(&frame.Mat, display)
	DrawStatus(&frame.Mat, m.statusLines(display))

	stop, err := m.sink.Render(&frame.Mat, display)
	if err != nil {
		lgr.Logger.Warn("render sink error", slog.Any("error", err))
	}
	if stop {
		return errStopRequested
	}

	m.maybeEmitStats()
	return nil
}

func (m *Monitor) enqueueUpload(frame Frame, now time.Time) {
	jpeg, err := EncodeUploadImage(frame.Mat,
		m.svcs.CfgSvc.GetUploadImageSize(),
		m.svcs.CfgSvc.GetUploadJPEGQuality())
	if err != nil {
		m.emitError(model.GenError("monitor", err,
			map[string]interface{}{"frameSeq": frame.Seq},
			"encoding upload image"))
		return
	}

	req := UploadRequest{
		ID:         uuid.NewString(),
		Image:      jpeg,
		Query:      m.query,
		FrameSeq:   frame.Seq,
		EnqueuedAt: now,
	}

	if !m.uploader.Submit(req) {
		// Ordinary backpressure: a round trip is still in flight
		lgr.Logger.Debug("upload rejected, request in flight", slog.Uint64("frameSeq", frame.Seq))
		return
	}

	m.mu.Lock()
	m.stats.Uploads++
	m.mu.Unlock()

	lgr.Logger.Info(
		"frame submitted for analysis",
		slog.String("requestID", req.ID),
		slog.Uint64("frameSeq", frame.Seq),
		slog.Int("bytes", len(jpeg)),
	)
}

func (m *Monitor) observeAlert(state model.AlertState, frame Frame, now time.Time) {
	if state.Level != model.LevelDanger || state.SourceFrameSeq == m.lastAlertSeq {
		return
	}
	m.lastAlertSeq = state.SourceFrameSeq

	m.mu.Lock()
	m.stats.Alerts++
	m.mu.Unlock()

	m.heldState = state
	m.holdUntil = now.Add(m.svcs.CfgSvc.GetAlertHold())

	lgr.Logger.Warn(
		"danger alert",
		slog.String("type", state.Type),
		slog.String("message", state.Message),
		slog.Float64("confidence", state.Confidence),
		slog.Uint64("frameSeq", state.SourceFrameSeq),
	)

	event := model.AlertEvent{
		RunID:      m.runID,
		Source:     m.svcs.CfgSvc.GetVideoSource(),
		Level:      state.Level,
		Type:       state.Type,
		Message:    state.Message,
		Confidence: state.Confidence,
		FrameSeq:   state.SourceFrameSeq,
		Timestamp:  now,
	}
	if err := m.svcs.NotifierSvc.Notify(event); err != nil {
		lgr.Logger.Error("alert notification failed", slog.Any("error", err))
	}

	if m.svcs.CfgSvc.GetSaveAlertSnapshots() {
		m.saveSnapshot(frame)
	}
}

func (m *Monitor) saveSnapshot(frame Frame) {
	folder := m.svcs.CfgSvc.GetSnapshotsFolder()
	if err := os.MkdirAll(folder, 0o755); err != nil {
		lgr.Logger.Error("creating snapshots folder", slog.Any("error", err))
		return
	}
	name := fmt.Sprintf("%s/alert_%s_%d.jpg", folder, time.Now().Format("20060102_150405"), frame.Seq)
	if ok := gocv.IMWrite(name, frame.Mat); !ok {
		lgr.Logger.Error("writing alert snapshot", slog.String("file", name))
		return
	}
	lgr.Logger.Info("alert snapshot saved", slog.String("file", name))
}

func (m *Monitor) statusLines(display model.AlertState) []string {
	m.mu.Lock()
	stats := m.stats
	fps := m.currentFPS
	m.mu.Unlock()

	status := string(display.Level)
	if m.uploader.InFlight() {
		status = "analyzing..."
	}

	return []string{
		fmt.Sprintf("FPS: %.1f", fps),
		fmt.Sprintf("Status: %s", status),
		fmt.Sprintf("Persons: %d  Uploads: %d  Alerts: %d", stats.Detections, stats.Uploads, stats.Alerts),
	}
}

func (m *Monitor) countFrame() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Frames++
	m.fpsFrames++
	if elapsed := now.Sub(m.fpsWindowAt); elapsed >= time.Second {
		m.currentFPS = float64(m.fpsFrames) / elapsed.Seconds()
		m.stats.FPS = m.currentFPS
		m.fpsFrames = 0
		m.fpsWindowAt = now
	}
}

// Stats returns a consistent snapshot for the status API.
func (m *Monitor) Stats() model.MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	stats.RunID = m.runID
	stats.Uptime = int64(time.Since(m.startTime).Seconds())
	stats.Timestamp = time.Now().Unix()
	return stats
}

func (m *Monitor) maybeEmitStats() {
	if time.Since(m.lastStatsEmit) < statsEvery {
		return
	}
	m.lastStatsEmit = time.Now()
	m.emitStats()
}

func (m *Monitor) emitStats() {
	if m.statsStream == nil {
		return
	}
	select {
	case m.statsStream <- m.Stats():
	default:
		// Nobody listening fast enough; drop rather than stall the loop
	}
}

func (m *Monitor) emitError(err model.CustomError) {
	lgr.Logger.Error(err.Message, slog.Any("error", err.Inner), slog.String("processor", err.Processor))
	if m.errorStream == nil {
		return
	}
	select {
	case m.errorStream <- err:
	default:
	}
}

func (m *Monitor) shutdown() {
	if err := m.source.Close(); err != nil {
		lgr.Logger.Warn("closing video source", slog.Any("error", err))
	}

	wait := m.svcs.CfgSvc.GetMaxShutdownTime()
	if !m.uploader.Drain(wait) {
		lgr.Logger.Warn(
			"in-flight upload not finished before shutdown, abandoning",
			slog.Duration("waited", wait),
		)
	}

	m.emitStats()
	lgr.Logger.Info("monitor stopped", slog.String("runID", m.runID))
}
