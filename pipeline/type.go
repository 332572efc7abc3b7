package pipeline

import (
	"time"

	"gocv.io/x/gocv"

	"edgemon-go/model"
)

// Frame is one captured image. The holder owns the Mat and must Close
// it; superseded frames are dropped, never queued.
type Frame struct {
	Mat       gocv.Mat
	Seq       uint64
	Timestamp time.Time
}

func (f Frame) Close() {
	f.Mat.Close() // Crucial to close the image to avoid memory leaks
}

// UploadRequest is one analyzer round trip: a compressed JPEG snapshot
// of the frame that tripped the gate plus the analyst instruction.
type UploadRequest struct {
	ID         string
	Image      []byte
	Query      string
	FrameSeq   uint64
	EnqueuedAt time.Time
}

// Source is the frame supply boundary. Next blocks until a frame is
// available or the stream errors; Close releases the device on every
// exit path.
type Source interface {
	Next() (Frame, error)
	Close() error
}

// PersonDetector is the local edge model boundary: synchronous, cheap
// enough to run every frame.
type PersonDetector interface {
	Detect(frame Frame, confThreshold float32) (model.Detection, error)
}

// RenderSink consumes fully drawn frames. The returned stop flag is the
// user's quit signal (window key, typically).
type RenderSink interface {
	Render(frame *gocv.Mat, state model.AlertState) (stop bool, err error)
}
