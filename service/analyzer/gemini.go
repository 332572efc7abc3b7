package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"edgemon-go/model"
	"edgemon-go/service/config"
)

const geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// geminiService calls the Google Generative Language REST API with the
// frame attached as an inline JPEG part.
type geminiService struct {
	apiKey string
	mdl    string
	client *http.Client
}

func NewGemini(cfgsvc config.IService) (IService, error) {
	key := cfgsvc.GetGeminiAPIKey()
	if key == "" {
		return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY is not set")
	}
	return &geminiService{
		apiKey: key,
		mdl:    cfgsvc.GetGeminiModel(),
		client: &http.Client{},
	}, nil
}

func (svc *geminiService) Name() string {
	return "gemini"
}

func (svc *geminiService) Analyze(ctx context.Context, imageJPEG []byte, query string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: query},
				{InlineData: &geminiInlineData{
					MimeType: "image/jpeg",
					Data:     base64.StdEncoding.EncodeToString(imageJPEG),
				}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", model.ErrNetwork, err)
	}

	url := fmt.Sprintf(geminiEndpoint, svc.mdl)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", model.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", svc.apiKey)

	resp, err := svc.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return "", fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: gemini returned %s", model.ErrNetwork, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", model.ErrNetwork, err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no candidates in gemini response", model.ErrMalformedResponse)
	}

	return parsed.Candidates[0].Content.Parts[0].Text, nil
}
