package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// openAIRequest/Response mirror the OpenAI embeddings endpoint wire
// format, reused unmodified by any OpenAI-API-compatible remote
// embedding service.
type openAIRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// OpenAIEmbedder calls a remote OpenAI-compatible embeddings endpoint
// over plain net/http; the wire format is simple enough that an SDK
// dependency buys nothing.
type OpenAIEmbedder struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	dimensions int
}

// NewOpenAIEmbedder builds a client against endpoint (default
// https://api.openai.com/v1) using model (default text-embedding-3-small,
// 1536 dims).
func NewOpenAIEmbedder(endpoint, apiKey, model string, dimensions int) *OpenAIEmbedder {
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dimensions == 0 {
		dimensions = 1536
	}
	return &OpenAIEmbedder{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
	}
}

func (o *OpenAIEmbedder) Dimensions() int { return o.dimensions }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(openAIRequest{Input: text, Model: o.model})
	if err != nil {
		return nil, wrapErr(o.model, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, wrapErr(o.model, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, wrapErr(o.model, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapErr(o.model, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return nil, wrapErr(o.model, fmt.Errorf("status %d: %s", resp.StatusCode, errResp.Error.Message))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, wrapErr(o.model, err)
	}
	if len(parsed.Data) == 0 {
		return nil, wrapErr(o.model, fmt.Errorf("empty embedding response"))
	}

	return Normalize(parsed.Data[0].Embedding), nil
}
