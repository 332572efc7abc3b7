package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"edgemon-go/model"
)

// scriptedAnalyzer returns a canned reply, optionally holding every
// call until released so tests can pin a request in flight.
type scriptedAnalyzer struct {
	reply string
	err   error
	hold  chan struct{}

	mu    sync.Mutex
	calls int
}

func (a *scriptedAnalyzer) Name() string {
	return "scripted"
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, imageJPEG []byte, query string) (string, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()

	if a.hold != nil {
		select {
		case <-a.hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return a.reply, a.err
}

func (a *scriptedAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestUploader(analyzer *scriptedAnalyzer, timeout time.Duration) (*UploadWorker, *OverlayState) {
	overlay := NewOverlayState(time.Now())
	classifier := NewClassifier([]string{"safe", "normal"})
	return NewUploadWorker(analyzer, overlay, classifier, timeout), overlay
}

func waitIdle(t *testing.T, w *UploadWorker) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.InFlight() {
		if time.Now().After(deadline) {
			t.Fatal("upload never finished")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestUploaderAtMostOneInFlight(t *testing.T) {
	analyzer := &scriptedAnalyzer{
		reply: `{"is_danger": false, "alert_type": "safe"}`,
		hold:  make(chan struct{}),
	}
	w, _ := newTestUploader(analyzer, 5*time.Second)

	if !w.Submit(UploadRequest{ID: "a", FrameSeq: 1}) {
		t.Fatal("idle worker rejected a submission")
	}
	if w.Submit(UploadRequest{ID: "b", FrameSeq: 2}) {
		t.Fatal("worker accepted a second request while one was in flight")
	}

	close(analyzer.hold)
	waitIdle(t, w)

	if !w.Submit(UploadRequest{ID: "c", FrameSeq: 3}) {
		t.Fatal("worker rejected a submission after the previous one completed")
	}
	waitIdle(t, w)

	stats := w.Stats()
	if stats.Accepted != 2 || stats.Rejected != 1 {
		t.Fatalf("stats = %+v, want 2 accepted / 1 rejected", stats)
	}
}

func TestUploaderConcurrentSubmits(t *testing.T) {
	analyzer := &scriptedAnalyzer{
		reply: `{"is_danger": false}`,
		hold:  make(chan struct{}),
	}
	w, _ := newTestUploader(analyzer, 5*time.Second)

	var wg sync.WaitGroup
	accepted := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			accepted <- w.Submit(UploadRequest{FrameSeq: seq})
		}(uint64(i))
	}
	wg.Wait()
	close(accepted)

	wins := 0
	for ok := range accepted {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("%d concurrent submissions accepted, want exactly 1", wins)
	}

	close(analyzer.hold)
	waitIdle(t, w)
}

func TestUploaderSuccessPublishesVerdict(t *testing.T) {
	analyzer := &scriptedAnalyzer{
		reply: `{"is_danger": true, "alert_type": "fall", "alert_message": "person collapsed", "confidence": 0.9}`,
	}
	w, overlay := newTestUploader(analyzer, 5*time.Second)

	if !w.Submit(UploadRequest{ID: "x", FrameSeq: 7}) {
		t.Fatal("submission rejected")
	}
	if !w.Drain(2 * time.Second) {
		t.Fatal("drain timed out")
	}

	state := overlay.Current()
	if state.Level != model.LevelDanger {
		t.Fatalf("level = %s, want %s", state.Level, model.LevelDanger)
	}
	if state.SourceFrameSeq != 7 {
		t.Errorf("SourceFrameSeq = %d, want 7 (the frame that was uploaded)", state.SourceFrameSeq)
	}
	if state.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", state.Confidence)
	}
}

func TestUploaderTimeoutLeavesStateUntouched(t *testing.T) {
	analyzer := &scriptedAnalyzer{
		hold: make(chan struct{}), // never released; only the deadline ends the call
	}
	w, overlay := newTestUploader(analyzer, 30*time.Millisecond)

	prior := model.AlertState{
		Level:          model.LevelCaution,
		Message:        "trash piling up",
		SourceFrameSeq: 3,
	}
	overlay.Publish(prior)

	if !w.Submit(UploadRequest{ID: "t", FrameSeq: 5}) {
		t.Fatal("submission rejected")
	}
	if !w.Drain(2 * time.Second) {
		t.Fatal("drain timed out")
	}

	if got := overlay.Current(); got != prior {
		t.Fatalf("failed round trip altered the alert state: %+v", got)
	}
	if stats := w.Stats(); stats.Failures != 1 {
		t.Fatalf("Failures = %d, want 1", stats.Failures)
	}
	if w.InFlight() {
		t.Fatal("worker still marked in flight after a failed round trip")
	}
}

func TestUploaderDrainWhenIdle(t *testing.T) {
	w, _ := newTestUploader(&scriptedAnalyzer{reply: "{}"}, time.Second)
	if !w.Drain(10 * time.Millisecond) {
		t.Fatal("drain on an idle worker must return immediately")
	}
}
