package pipeline

import (
	"context"
	"image"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"edgemon-go/model"
	"edgemon-go/service/config"
	"edgemon-go/service/notifier"
)

// fakeClock is advanced by the scripted source so the gate sees one
// second of wall time per frame regardless of how fast the loop runs.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// scriptedSource produces one frame per entry in the presence script,
// then reports end of stream. Between frames it waits for the upload
// worker to go idle so accepted round trips land deterministically.
type scriptedSource struct {
	frames int
	clock  *fakeClock
	base   time.Time
	idle   func() bool

	next   int
	closed bool
}

func (s *scriptedSource) Next() (Frame, error) {
	if s.next >= s.frames {
		return Frame{}, model.ErrEndOfStream
	}
	if s.idle != nil && s.next > 0 {
		deadline := time.Now().Add(2 * time.Second)
		for !s.idle() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
	}

	s.clock.set(s.base.Add(time.Duration(s.next) * time.Second))
	frame := Frame{
		Mat:       gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3),
		Seq:       uint64(s.next + 1),
		Timestamp: s.clock.now(),
	}
	s.next++
	return frame, nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

// scriptedDetector reports a person by frame position per the script.
type scriptedDetector struct {
	presence []bool
}

func (d *scriptedDetector) Detect(frame Frame, confThreshold float32) (model.Detection, error) {
	det := model.Detection{Label: model.PersonLabel}
	idx := int(frame.Seq) - 1
	if idx >= 0 && idx < len(d.presence) && d.presence[idx] {
		det.Boxes = append(det.Boxes, image.Rect(50, 50, 150, 200))
		det.Scores = append(det.Scores, 0.87)
	}
	return det, nil
}

type nullSink struct{}

func (nullSink) Render(frame *gocv.Mat, state model.AlertState) (bool, error) {
	return false, nil
}

type fakeConfig struct {
	cooldown time.Duration
}

func (c *fakeConfig) GetVideoSource() string                { return "test" }
func (c *fakeConfig) GetVideoWidth() int                    { return 320 }
func (c *fakeConfig) GetVideoHeight() int                   { return 240 }
func (c *fakeConfig) GetVideoFPS() int                      { return 30 }
func (c *fakeConfig) GetVideoTargetFPS() float64            { return 0 }
func (c *fakeConfig) GetLoopVideo() bool                    { return false }
func (c *fakeConfig) GetModelPath() string                  { return "" }
func (c *fakeConfig) GetLabelsPath() string                 { return "" }
func (c *fakeConfig) GetConfidenceThreshold() float32       { return 0.25 }
func (c *fakeConfig) GetObjectConfidenceThreshold() float32 { return 0.45 }
func (c *fakeConfig) GetCooldown() time.Duration            { return c.cooldown }
func (c *fakeConfig) GetUploadTimeout() time.Duration       { return time.Second }
func (c *fakeConfig) GetUploadImageSize() int               { return 64 }
func (c *fakeConfig) GetUploadJPEGQuality() int             { return 80 }
func (c *fakeConfig) GetAnalysisPrompt() string             { return "analyze" }
func (c *fakeConfig) GetProvider() string                   { return "fake" }
func (c *fakeConfig) GetRemoteServerURL() string            { return "" }
func (c *fakeConfig) GetGeminiAPIKey() string               { return "" }
func (c *fakeConfig) GetGeminiModel() string                { return "" }
func (c *fakeConfig) GetAlertHold() time.Duration           { return 5 * time.Second }
func (c *fakeConfig) GetNotifyCooldown() time.Duration      { return 0 }
func (c *fakeConfig) GetBenignAlertTypes() []string         { return []string{"safe", "normal"} }
func (c *fakeConfig) GetSaveAlertSnapshots() bool           { return false }
func (c *fakeConfig) GetSnapshotsFolder() string            { return "" }
func (c *fakeConfig) GetNatsURL() string                    { return "" }
func (c *fakeConfig) GetAlertsSubject() string              { return "" }
func (c *fakeConfig) GetAPIEnabled() bool                   { return false }
func (c *fakeConfig) GetAPIPort() int                       { return 0 }
func (c *fakeConfig) GetMaxShutdownTime() time.Duration     { return time.Second }

var _ config.IService = (*fakeConfig)(nil)

func newTestMonitor(presence []bool, analyzerSvc *scriptedAnalyzer) (*Monitor, *scriptedSource, *notifier.Fake) {
	clock := &fakeClock{t: time.Now()}
	source := &scriptedSource{
		frames: len(presence),
		clock:  clock,
		base:   clock.now(),
	}
	fakeNotifier := notifier.NewFake()

	m := NewMonitor(Services{
		CfgSvc:      &fakeConfig{cooldown: 5 * time.Second},
		AnalyzerSvc: analyzerSvc,
		NotifierSvc: fakeNotifier,
	}, source, &scriptedDetector{presence: presence}, nullSink{}, nil, nil)

	m.now = clock.now
	source.idle = func() bool { return !m.uploader.InFlight() }

	return m, source, fakeNotifier
}

func TestMonitorNoPersonNoUploads(t *testing.T) {
	analyzerSvc := &scriptedAnalyzer{reply: `{"is_danger": false}`}
	m, source, _ := newTestMonitor([]bool{false, false, false, false, false}, analyzerSvc)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v, want nil at end of stream", err)
	}

	if calls := analyzerSvc.callCount(); calls != 0 {
		t.Fatalf("analyzer called %d times with nobody in frame, want 0", calls)
	}
	if state := m.Overlay().Current(); state.Level != model.LevelSafe {
		t.Errorf("alert level = %s with nobody in frame, want %s", state.Level, model.LevelSafe)
	}
	stats := m.Stats()
	if stats.Frames != 5 || stats.Uploads != 0 || stats.Detections != 0 {
		t.Errorf("stats = %+v, want 5 frames and nothing else", stats)
	}
	if !source.closed {
		t.Error("source not closed on shutdown")
	}
}

func TestMonitorCooldownLimitsUploads(t *testing.T) {
	// Detections at t=0, t=3 and t=6 with a 5 second cooldown: the
	// first and last fire, the middle one is absorbed.
	presence := []bool{true, false, false, true, false, false, true}
	analyzerSvc := &scriptedAnalyzer{reply: `{"is_danger": false, "alert_type": "safe"}`}
	m, _, _ := newTestMonitor(presence, analyzerSvc)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if calls := analyzerSvc.callCount(); calls != 2 {
		t.Fatalf("analyzer called %d times, want exactly 2", calls)
	}
	stats := m.Stats()
	if stats.Uploads != 2 {
		t.Errorf("Uploads = %d, want 2", stats.Uploads)
	}
	if stats.Denied != 1 {
		t.Errorf("Denied = %d, want 1 (the detection inside the cooldown)", stats.Denied)
	}
	if stats.Detections != 3 {
		t.Errorf("Detections = %d, want 3", stats.Detections)
	}
}

func TestMonitorDangerVerdictNotifies(t *testing.T) {
	presence := []bool{true, false, false, false}
	analyzerSvc := &scriptedAnalyzer{
		reply: `{"is_danger": true, "alert_type": "fall", "alert_message": "person collapsed", "confidence": 0.9}`,
	}
	m, _, fakeNotifier := newTestMonitor(presence, analyzerSvc)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if state := m.Overlay().Current(); state.Level != model.LevelDanger {
		t.Fatalf("alert level = %s, want %s", state.Level, model.LevelDanger)
	}

	events := fakeNotifier.Events()
	if len(events) != 1 {
		t.Fatalf("notifier received %d events, want 1", len(events))
	}
	if events[0].Type != "fall" || events[0].Level != model.LevelDanger {
		t.Errorf("event = %+v, want a fall danger event", events[0])
	}
	if stats := m.Stats(); stats.Alerts != 1 {
		t.Errorf("Alerts = %d, want 1", stats.Alerts)
	}
}

func TestMonitorAnalyzerFailureKeepsPriorState(t *testing.T) {
	presence := []bool{true, false, false, false}
	analyzerSvc := &scriptedAnalyzer{
		hold: make(chan struct{}), // never released; the round trip times out
	}
	m, _, fakeNotifier := newTestMonitor(presence, analyzerSvc)

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if state := m.Overlay().Current(); state.Level != model.LevelSafe {
		t.Fatalf("alert level = %s after analyzer timeout, want untouched %s", state.Level, model.LevelSafe)
	}
	if events := fakeNotifier.Events(); len(events) != 0 {
		t.Errorf("notifier received %d events after a failed round trip, want 0", len(events))
	}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	analyzerSvc := &scriptedAnalyzer{reply: "{}"}
	m, source, _ := newTestMonitor(make([]bool, 100000), analyzerSvc)

	canxCtx, canxFn := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Run(canxCtx)
	}()

	time.Sleep(50 * time.Millisecond)
	canxFn()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on cancellation, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop on context cancellation")
	}
	if !source.closed {
		t.Error("source not closed after cancellation")
	}
}
