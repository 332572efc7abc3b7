package model

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Fatal at startup.
var (
	ErrSourceUnavailable = errors.New("video source unavailable")
	ErrModelLoad         = errors.New("detection model load failed")
)

// Per-frame or terminal, depending on the loop configuration.
var (
	ErrEndOfStream = errors.New("end of stream")
	ErrReadFrame   = errors.New("frame read failed")
)

// Non-fatal to the process. Logged, the previous alert stays visible.
var (
	ErrNetwork           = errors.New("analyzer request failed")
	ErrMalformedResponse = errors.New("malformed analyzer response")
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Processor, e.Message)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

type AlertLevel string

const (
	LevelSafe    AlertLevel = "SAFE"
	LevelCaution AlertLevel = "CAUTION"
	LevelDanger  AlertLevel = "DANGER"
)

// AlertState is the normalized verdict shown on the live view. It is
// replaced wholesale on every completed analyzer round trip, never
// mutated field by field.
type AlertState struct {
	Level          AlertLevel `json:"level"`
	Type           string     `json:"type"`
	Message        string     `json:"message"`
	Confidence     float64    `json:"confidence"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	SourceFrameSeq uint64     `json:"sourceFrameSeq"`
}

func DefaultAlertState(now time.Time) AlertState {
	return AlertState{
		Level:      LevelSafe,
		Message:    "normal activity",
		Confidence: 0.0,
		UpdatedAt:  now,
	}
}

// ProviderResponse is the analyzer's verdict as it came off the wire.
// Every field is optional; pointers mark absence so the classifier can
// tell "missing" from "zero value".
type ProviderResponse struct {
	IsDanger     *bool
	AlertType    string
	AlertMessage string
	Reasoning    string
	Confidence   *float64
	Raw          string
}

// AlertEvent is the payload handed to the notifier when the monitor
// observes a newly published DANGER state.
type AlertEvent struct {
	RunID      string     `json:"runId"`
	Source     string     `json:"source"`
	Level      AlertLevel `json:"level"`
	Type       string     `json:"type"`
	Message    string     `json:"message"`
	Confidence float64    `json:"confidence"`
	FrameSeq   uint64     `json:"frameSeq"`
	Timestamp  time.Time  `json:"timestamp"`
}

type MonitorStats struct {
	RunID      string  `json:"runId"`
	Frames     int     `json:"frames"`
	Detections int     `json:"detections"`
	Uploads    int     `json:"uploads"`
	Denied     int     `json:"denied"`
	Alerts     int     `json:"alerts"`
	Errors     int     `json:"errors"`
	FPS        float64 `json:"fps"`
	Uptime     int64   `json:"uptime"`
	Timestamp  int64   `json:"timestamp"`
}

type SourceStats struct {
	Name      string `json:"name"`
	Frames    int    `json:"frames"`
	Reopens   int    `json:"reopens"`
	Errors    int    `json:"errors"`
	Timestamp int64  `json:"timestamp"`
}

type UploaderStats struct {
	Accepted  int   `json:"accepted"`
	Rejected  int   `json:"rejected"`
	Failures  int   `json:"failures"`
	Timestamp int64 `json:"timestamp"`
}
