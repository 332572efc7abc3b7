package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// defaultAnalysisPrompt mirrors the instruction sent alongside every
// uploaded frame. The strict JSON contract is what the classifier's
// salvage parser expects on the way back.
const defaultAnalysisPrompt = `You are a safety analyst for a monitoring system. A person was detected in the attached camera frame.

Carefully analyze posture and behavior and decide whether a genuinely dangerous situation is unfolding.

SAFE examples: exercising, stretching, sleeping or resting, deliberately sitting or lying down, ordinary activity.
DANGER examples: losing balance or suddenly collapsing, lying motionless in distress, abnormal posture suggesting injury.

Answer with strict JSON only, no extra text:
{"is_danger": true/false, "alert_type": "short category", "alert_message": "one-line summary", "reasoning": "why you decided", "confidence": 0.0-1.0}`

type envService struct {
}

func NewEnv() IService {
	return &envService{}
}

func (svc *envService) GetVideoSource() string {
	return getString("VIDEO_SOURCE", "0")
}

func (svc *envService) GetVideoWidth() int {
	return getInt("VIDEO_WIDTH", 640)
}

func (svc *envService) GetVideoHeight() int {
	return getInt("VIDEO_HEIGHT", 480)
}

func (svc *envService) GetVideoFPS() int {
	return getInt("VIDEO_FPS", 30)
}

func (svc *envService) GetVideoTargetFPS() float64 {
	// 0 means play video files as fast as they decode
	return getFloat("VIDEO_TARGET_FPS", 0)
}

func (svc *envService) GetLoopVideo() bool {
	return getBool("VIDEO_LOOP", true)
}

func (svc *envService) GetModelPath() string {
	return getString("DETECTOR_MODEL_PATH", "./yolo5/yolov5s.onnx")
}

func (svc *envService) GetLabelsPath() string {
	return getString("DETECTOR_LABELS_PATH", "./yolo5/coco.names")
}

func (svc *envService) GetConfidenceThreshold() float32 {
	return float32(getFloat("DETECTOR_CONFIDENCE_THRESHOLD", 0.25))
}

func (svc *envService) GetObjectConfidenceThreshold() float32 {
	return float32(getFloat("DETECTOR_OBJECT_CONFIDENCE_THRESHOLD", 0.45))
}

func (svc *envService) GetCooldown() time.Duration {
	return getDuration("UPLOAD_COOLDOWN", 5*time.Second)
}

func (svc *envService) GetUploadTimeout() time.Duration {
	// Large model inference routinely takes a few seconds
	return getDuration("UPLOAD_TIMEOUT", 30*time.Second)
}

func (svc *envService) GetUploadImageSize() int {
	return getInt("UPLOAD_IMAGE_SIZE", 640)
}

func (svc *envService) GetUploadJPEGQuality() int {
	return getInt("UPLOAD_JPEG_QUALITY", 80)
}

func (svc *envService) GetAnalysisPrompt() string {
	return getString("ANALYSIS_PROMPT", defaultAnalysisPrompt)
}

func (svc *envService) GetProvider() string {
	return getString("ANALYZER_PROVIDER", "remote")
}

func (svc *envService) GetRemoteServerURL() string {
	return getString("ANALYZER_SERVER_URL", "http://localhost:8000/chat")
}

func (svc *envService) GetGeminiAPIKey() string {
	return getString("GEMINI_API_KEY", "")
}

func (svc *envService) GetGeminiModel() string {
	return getString("GEMINI_MODEL", "gemini-2.0-flash-exp")
}

func (svc *envService) GetAlertHold() time.Duration {
	return getDuration("ALERT_HOLD", 5*time.Second)
}

func (svc *envService) GetNotifyCooldown() time.Duration {
	return getDuration("NOTIFY_COOLDOWN", 2*time.Second)
}

func (svc *envService) GetBenignAlertTypes() []string {
	raw := getString("BENIGN_ALERT_TYPES", "safe,normal,安全")
	parts := strings.Split(raw, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			types = append(types, p)
		}
	}
	return types
}

func (svc *envService) GetSaveAlertSnapshots() bool {
	return getBool("SAVE_ALERT_SNAPSHOTS", false)
}

func (svc *envService) GetSnapshotsFolder() string {
	return getString("SNAPSHOTS_FOLDER", "./alerts")
}

func (svc *envService) GetNatsURL() string {
	// Empty disables the NATS notifier
	return getString("NATS_URL", "")
}

func (svc *envService) GetAlertsSubject() string {
	return getString("ALERTS_SUBJECT", "edgemon.alerts")
}

func (svc *envService) GetAPIEnabled() bool {
	return getBool("API_ENABLED", true)
}

func (svc *envService) GetAPIPort() int {
	return getInt("API_PORT", 8080)
}

func (svc *envService) GetMaxShutdownTime() time.Duration {
	return getDuration("MAX_SHUTDOWN_TIME", 5*time.Second)
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are treated as seconds
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}
