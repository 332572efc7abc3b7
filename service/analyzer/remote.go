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

type remoteRequest struct {
	ImageBase64 string `json:"image_base64"`
	Query       string `json:"query"`
}

type remoteResponse struct {
	Response string `json:"response"`
}

// remoteService talks to a self-hosted vision-language server exposing
// a single chat endpoint.
type remoteService struct {
	serverURL string
	client    *http.Client
}

func NewRemote(cfgsvc config.IService) IService {
	return &remoteService{
		serverURL: cfgsvc.GetRemoteServerURL(),
		// The per-request deadline comes from the caller's context
		client: &http.Client{},
	}
}

func (svc *remoteService) Name() string {
	return "remote"
}

func (svc *remoteService) Analyze(ctx context.Context, imageJPEG []byte, query string) (string, error) {
	body, err := json.Marshal(remoteRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageJPEG),
		Query:       query,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshaling request: %v", model.ErrNetwork, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, svc.serverURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: building request: %v", model.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.client.Do(req)
	if err != nil {
		// Surface the context error so callers can tell a timeout
		// apart from a connection failure
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		return "", fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: server returned %s", model.ErrNetwork, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %v", model.ErrNetwork, err)
	}

	var parsed remoteResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrMalformedResponse, err)
	}
	if parsed.Response == "" {
		return "", fmt.Errorf("%w: empty response field", model.ErrMalformedResponse)
	}

	return parsed.Response, nil
}
