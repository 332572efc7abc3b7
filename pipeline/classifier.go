package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"edgemon-go/model"
)

// Providers that ignore the "JSON only" instruction still tend to
// mention these when something is wrong.
var dangerKeywords = []string{"danger", "危险", "异常", "受伤"}

// ParseProviderText salvages a ProviderResponse from whatever text the
// analyzer produced: fenced markdown, JSON buried in prose, or no JSON
// at all. Wrongly typed fields are treated as absent, never guessed.
func ParseProviderText(raw string) model.ProviderResponse {
	resp := model.ProviderResponse{Raw: raw}

	clean := strings.TrimSpace(raw)
	if strings.HasPrefix(clean, "```json") {
		clean = clean[len("```json"):]
	} else if strings.HasPrefix(clean, "```") {
		clean = clean[len("```"):]
	}
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")

	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start == -1 || end <= start {
		return keywordFallback(resp, raw)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(clean[start:end+1]), &fields); err != nil {
		return keywordFallback(resp, raw)
	}

	if v, ok := fields["is_danger"].(bool); ok {
		resp.IsDanger = &v
	}
	if v, ok := fields["alert_type"].(string); ok {
		resp.AlertType = v
	}
	if v, ok := fields["alert_message"].(string); ok {
		resp.AlertMessage = v
	}
	if v, ok := fields["reasoning"].(string); ok {
		resp.Reasoning = v
	}
	if v, ok := fields["confidence"].(float64); ok {
		resp.Confidence = &v
	}

	return resp
}

func keywordFallback(resp model.ProviderResponse, raw string) model.ProviderResponse {
	resp.Reasoning = raw
	lower := strings.ToLower(raw)
	for _, kw := range dangerKeywords {
		if strings.Contains(lower, kw) {
			t := true
			resp.IsDanger = &t
			break
		}
	}
	return resp
}

// Classifier attaches business meaning to provider output. This is the
// only place that happens; everything upstream is plumbing.
type Classifier struct {
	benign map[string]bool
}

// NewClassifier takes the alert types considered benign: an is_danger
// of false with one of these types still classifies SAFE.
func NewClassifier(benignTypes []string) *Classifier {
	benign := make(map[string]bool, len(benignTypes))
	for _, t := range benignTypes {
		benign[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return &Classifier{benign: benign}
}

// Classify maps a parsed response to an AlertState. A missing or
// malformed is_danger fails safe toward SAFE, never open toward DANGER.
func (c *Classifier) Classify(resp model.ProviderResponse, frameSeq uint64, now time.Time) model.AlertState {
	state := model.AlertState{
		Level:          model.LevelSafe,
		UpdatedAt:      now,
		SourceFrameSeq: frameSeq,
	}

	switch {
	case resp.IsDanger != nil && *resp.IsDanger:
		state.Level = model.LevelDanger
		state.Type = resp.AlertType
	case resp.AlertType != "" && !c.benign[strings.ToLower(resp.AlertType)]:
		state.Level = model.LevelCaution
		state.Type = resp.AlertType
	}

	switch {
	case resp.AlertMessage != "":
		state.Message = resp.AlertMessage
	case resp.Reasoning != "":
		state.Message = resp.Reasoning
	default:
		state.Message = "normal activity"
	}

	if resp.Confidence != nil {
		state.Confidence = clamp01(*resp.Confidence)
	}

	return state
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
