package config

import "time"

type IService interface {
	// Video source
	GetVideoSource() string
	GetVideoWidth() int
	GetVideoHeight() int
	GetVideoFPS() int
	GetVideoTargetFPS() float64
	GetLoopVideo() bool

	// Detector
	GetModelPath() string
	GetLabelsPath() string
	GetConfidenceThreshold() float32
	GetObjectConfidenceThreshold() float32

	// Upload gate and round trip
	GetCooldown() time.Duration
	GetUploadTimeout() time.Duration
	GetUploadImageSize() int
	GetUploadJPEGQuality() int
	GetAnalysisPrompt() string

	// Analyzer provider selection
	GetProvider() string
	GetRemoteServerURL() string
	GetGeminiAPIKey() string
	GetGeminiModel() string

	// Alerting
	GetAlertHold() time.Duration
	GetNotifyCooldown() time.Duration
	GetBenignAlertTypes() []string
	GetSaveAlertSnapshots() bool
	GetSnapshotsFolder() string

	// NATS fan-out
	GetNatsURL() string
	GetAlertsSubject() string

	// Status API
	GetAPIEnabled() bool
	GetAPIPort() int

	GetMaxShutdownTime() time.Duration
}
