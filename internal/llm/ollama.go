package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dhruvshrma/persona-flow/internal/config"
	"github.com/dhruvshrma/persona-flow/internal/httpkit"
)

// OllamaClient talks to an Ollama-format /api/generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a gateway client. timeout bounds every call;
// zero means the 60 second default.
func NewOllamaClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(timeout)),
		logger:     logger,
	}
}

// generateRequest is the Ollama /api/generate request format.
type generateRequest struct {
	Model  string         `json:"model"`
	Prompt string         `json:"prompt"`
	Stream bool           `json:"stream"`
	System string         `json:"system,omitempty"`
	Format map[string]any `json:"format,omitempty"`
}

// generateResponse is the Ollama /api/generate response format. Some
// deployments answer with "content" instead of "response"; both are
// accepted.
type generateResponse struct {
	Response string `json:"response"`
	Content  string `json:"content"`
	Done     bool   `json:"done"`
}

// Invoke sends one generation request and returns the raw model text.
// Every failure path returns [ErrorSentinel]; the cause is logged, never
// propagated.
func (c *OllamaClient) Invoke(ctx context.Context, req Request) string {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		Stream: false,
		System: req.System,
		Format: req.Schema,
	})
	if err != nil {
		c.logger.Error("gateway marshal failed", "error", err)
		return ErrorSentinel
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		c.logger.Error("gateway request build failed", "error", err)
		return ErrorSentinel
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Log(ctx, config.LevelTrace, "gateway request", "model", model, "prompt", req.Prompt)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway call failed", "model", model, "error", err)
		return ErrorSentinel
	}
	defer httpkit.DrainAndClose(resp.Body, 4<<10)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("gateway returned error status",
			"model", model,
			"status", resp.StatusCode,
			"body", string(snippet),
		)
		return ErrorSentinel
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		c.logger.Error("gateway response decode failed", "error", err)
		return ErrorSentinel
	}

	text := genResp.Response
	if text == "" {
		text = genResp.Content
	}
	if text == "" {
		c.logger.Error("gateway response had no text", "model", model)
		return ErrorSentinel
	}

	c.logger.Log(ctx, config.LevelTrace, "gateway response", "model", model, "text", text)
	return text
}

// String identifies the client in logs.
func (c *OllamaClient) String() string {
	return fmt.Sprintf("ollama(%s, model=%s)", c.baseURL, c.model)
}
