package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/colinrozzi/th-commit/pkg/events"
)

const defaultTimeoutSeconds = 30

const defaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent"

// Gemini generates commit messages through the Google Gemini API.
type Gemini struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

type GeminiOption func(*Gemini)

// WithEndpoint overrides the API endpoint, mainly for tests.
func WithEndpoint(endpoint string) GeminiOption {
	return func(g *Gemini) { g.endpoint = endpoint }
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) GeminiOption {
	return func(g *Gemini) { g.client.Timeout = timeout }
}

func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: defaultTimeoutSeconds * time.Second},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) GenerateMessage(ctx context.Context, changeSet []events.Change, hint string) (string, error) {
	if g.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	payload, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: buildPrompt(changeSet, hint)}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode generation request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build generation request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("x-goog-api-key", g.apiKey)

	response, err := g.client.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceFailed, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceFailed, err)
	}

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrServiceFailed, response.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: %w", ErrServiceFailed, err)
	}

	message := ""
	if len(decoded.Candidates) > 0 && len(decoded.Candidates[0].Content.Parts) > 0 {
		message = strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text)
	}

	if err := Validate(message); err != nil {
		return "", err
	}

	return message, nil
}

func buildPrompt(changeSet []events.Change, hint string) string {
	var b strings.Builder

	b.WriteString("Write a concise git commit message (subject line under 72 characters, ")
	b.WriteString("imperative mood) for the following pending changes. ")
	b.WriteString("Respond with the commit message only.\n\n")

	for _, change := range changeSet {
		fmt.Fprintf(&b, "%s: %s\n", change.Kind, change.Path)
	}

	if hint != "" {
		fmt.Fprintf(&b, "\nContext from the author: %s\n", hint)
	}

	return b.String()
}
