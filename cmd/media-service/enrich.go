package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Fallback payloads. The client-level fallback is substituted by
// AnalyzeOrFallback; the stage-level fallback is written by the enrich stage
// once the runtime's retries are exhausted. They are independent layers.
var (
	clientFallbackAnalysis = aiAnalysis{
		Tags:        []string{"image", "media"},
		Title:       "Uploaded Image",
		Description: "Image uploaded to media manager",
		AltText:     "Uploaded image",
	}
	stageFallbackAnalysis = aiAnalysis{
		Tags:        []string{"image"},
		Title:       "Uploaded Image",
		Description: "Uploaded image",
		AltText:     "Uploaded image",
	}
)

const enrichSystemPrompt = `You are an AI assistant that analyzes images and extracts metadata for a media management system.

For each image, provide:
1. Tags: relevant keywords for search and categorization (objects, people, actions, style, mood, colors)
2. Title: a concise, descriptive title (3-8 words)
3. Description: a short summary (1-2 sentences)
4. Alt text: descriptive text for accessibility

Return your response as a JSON object:
{"tags": ["tag1", "tag2"], "title": "Descriptive Image Title", "description": "Brief description", "altText": "Detailed alt text"}`

type openAIEnrichClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func newEnrichClient(cfg config) *openAIEnrichClient {
	return &openAIEnrichClient{
		baseURL:    strings.TrimRight(cfg.enrichBaseURL, "/"),
		apiKey:     cfg.enrichAPIKey,
		model:      cfg.enrichModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatImagePart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL    string `json:"url"`
		Detail string `json:"detail"`
	} `json:"image_url,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Analyze sends the image to the vision model and parses the structured
// result. Errors are propagated so the task runtime can retry; callers that
// want a guaranteed result use AnalyzeOrFallback.
func (c *openAIEnrichClient) Analyze(ctx context.Context, image []byte) (*aiAnalysis, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	imagePart := chatImagePart{Type: "image_url"}
	imagePart.ImageURL = &struct {
		URL    string `json:"url"`
		Detail string `json:"detail"`
	}{URL: dataURL, Detail: "high"}

	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: enrichSystemPrompt},
			{Role: "user", Content: []chatImagePart{
				{Type: "text", Text: "Analyze this image and provide tags, title, description, and alt text."},
				imagePart,
			}},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	}
	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: request encode: %v", ErrEnrichment, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnrichment, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnrichment, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status=%d", ErrEnrichment, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnrichment, err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: response decode: %v", ErrEnrichment, err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrEnrichment)
	}

	var analysis aiAnalysis
	clean := stripJSONFences(parsed.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(clean), &analysis); err != nil {
		return nil, fmt.Errorf("%w: malformed analysis: %v", ErrEnrichment, err)
	}
	if len(analysis.Tags) == 0 || analysis.Description == "" || analysis.AltText == "" {
		return nil, fmt.Errorf("%w: missing fields in analysis", ErrEnrichment)
	}
	return &analysis, nil
}

// AnalyzeOrFallback substitutes a fixed payload on any failure instead of
// propagating the error.
func (c *openAIEnrichClient) AnalyzeOrFallback(ctx context.Context, image []byte) *aiAnalysis {
	analysis, err := c.Analyze(ctx, image)
	if err != nil {
		logger.Warn("enrichment failed, using client fallback", "error", err)
		f := clientFallbackAnalysis
		return &f
	}
	return analysis
}

// stripJSONFences removes surrounding markdown code fences the model
// sometimes wraps around the JSON payload.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
