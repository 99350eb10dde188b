package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"rag/types"

	"github.com/pkoukk/tiktoken-go"
)

type GenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

type GenerateResponse struct {
	Response string `json:"response"`
}

// Agent generates answers through an Ollama-compatible completion endpoint,
// retrying transient failures with a linear backoff.
type Agent struct {
	apiURL           string
	model            string
	maxContextLength int
	maxRetries       int
	retryDelay       time.Duration

	sleep  func(time.Duration)
	client *http.Client
	logger *slog.Logger
}

func New(maxContextLength int) *Agent {
	return &Agent{
		apiURL:           os.Getenv("LLM_URL"),
		model:            os.Getenv("LLM_MODEL"),
		maxContextLength: maxContextLength,
		maxRetries:       3,
		retryDelay:       time.Second,
		sleep:            time.Sleep,
		client:           &http.Client{Timeout: 120 * time.Second},
		logger:           slog.Default(),
	}
}

// GenerateAnswer builds the prompt from the retrieved contexts and the
// conversation history, calls the LLM and reports the answer together with
// its token usage and timing.
func (a *Agent) GenerateAnswer(ctx context.Context, query string, contexts []string, history []types.Turn) (*types.Answer, error) {
	start := time.Now()

	combined := strings.Join(contexts, "\n\n")
	if len(combined) > a.maxContextLength {
		combined = truncateContext(combined, a.maxContextLength)
		a.logger.Warn("context truncated", "max_length", a.maxContextLength)
	}

	prompt := BuildPrompt(combined, query, history)

	var output string
	err := Retry(a.maxRetries, a.retryDelay, a.sleep, func() error {
		var err error
		output, err = a.generate(ctx, prompt)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	elapsed := time.Since(start)
	tokens := CountTokens(prompt + output)
	a.logger.Info("generated answer", "duration", elapsed, "tokens", tokens)

	return &types.Answer{
		Text:           output,
		Model:          a.model,
		TokensUsed:     tokens,
		ProcessingTime: elapsed.Seconds(),
	}, nil
}

func (a *Agent) generate(ctx context.Context, prompt string) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:  a.model,
		System: SystemPrompt(),
		Prompt: prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var genResp GenerateResponse
	if err := json.Unmarshal(body, &genResp); err == nil && genResp.Response != "" {
		return genResp.Response, nil
	}

	// Streamed response: concatenate the chunks into one string.
	var output strings.Builder
	decoder := json.NewDecoder(bytes.NewReader(body))
	for decoder.More() {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err != nil {
			break
		}
		output.WriteString(chunk.Response)
	}
	if output.Len() == 0 {
		return "", fmt.Errorf("LLM returned an empty response")
	}
	return output.String(), nil
}

// truncateContext caps the text at limit bytes, backing the cut up to a
// rune boundary so multibyte characters are never torn.
func truncateContext(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + "...[truncated]"
}

// CountTokens reports the tiktoken length of the text; 0 when the encoding
// is unavailable.
func CountTokens(text string) int {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}
