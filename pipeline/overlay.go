package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"edgemon-go/model"
)

// OverlayState is the single record shared between the upload
// completion goroutine (writer) and the frame loop (reader). The record
// is always replaced wholesale under the lock; no field-level mutation
// is ever visible mid-update.
type OverlayState struct {
	mu    sync.RWMutex
	state model.AlertState
}

func NewOverlayState(now time.Time) *OverlayState {
	return &OverlayState{state: model.DefaultAlertState(now)}
}

// Publish installs a new alert state. A state sourced from an older
// frame than the current one loses, even if it arrives later.
func (o *OverlayState) Publish(state model.AlertState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if state.SourceFrameSeq < o.state.SourceFrameSeq {
		return
	}
	o.state = state
}

func (o *OverlayState) Current() model.AlertState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Level to color is core policy; the render sink just draws what it is
// handed.
var levelColors = map[model.AlertLevel]color.RGBA{
	model.LevelDanger:  {R: 255, G: 0, B: 0},
	model.LevelCaution: {R: 255, G: 255, B: 0},
	model.LevelSafe:    {R: 0, G: 255, B: 0},
}

func LevelColor(level model.AlertLevel) color.RGBA {
	if c, ok := levelColors[level]; ok {
		return c
	}
	return levelColors[model.LevelSafe]
}

// DrawDetections paints the person boxes with their scores.
func DrawDetections(mat *gocv.Mat, det model.Detection) {
	green := color.RGBA{G: 255}
	for i, rect := range det.Boxes {
		gocv.Rectangle(mat, rect, green, 2)
		label := fmt.Sprintf("%s %.2f", det.Label, det.Scores[i])
		gocv.PutText(mat, label, image.Pt(rect.Min.X, rect.Min.Y-5),
			gocv.FontHersheySimplex, 0.6, green, 2)
	}
}

// DrawAlert paints the current alert banner. DANGER additionally gets a
// thick frame border so it reads from across a room.
func DrawAlert(mat *gocv.Mat, state model.AlertState) {
	c := LevelColor(state.Level)

	banner := fmt.Sprintf("%s %s (%.2f)", state.Level, state.Message, state.Confidence)
	gocv.PutText(mat, banner, image.Pt(10, mat.Rows()-15),
		gocv.FontHersheySimplex, 0.7, c, 2)

	if state.Level == model.LevelDanger {
		gocv.Rectangle(mat, image.Rect(0, 0, mat.Cols(), mat.Rows()), c, 8)
	}
}

// DrawStatus paints the runtime counters in the top-left corner.
func DrawStatus(mat *gocv.Mat, lines []string) {
	white := color.RGBA{R: 255, G: 255, B: 255}
	y := 30
	for _, line := range lines {
		gocv.PutText(mat, line, image.Pt(10, y),
			gocv.FontHersheySimplex, 0.55, white, 1)
		y += 22
	}
}
