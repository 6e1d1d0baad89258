package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gctx "github.com/nextlevelbuilder/ggcode/internal/context"
)

// OpenAICompatProvider implements Provider for the OpenAI-compatible
// chat-completions shape. Grounded on the teacher's
// internal/providers/openai.go (request building, SSE scanning loop,
// retry-the-connection-not-the-stream discipline).
type OpenAICompatProvider struct {
	name         string
	apiKey       string
	apiBase      string
	chatPath     string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// NewOpenAICompatProvider builds an adapter against any OpenAI-compatible
// chat-completions endpoint.
func NewOpenAICompatProvider(apiKey, apiBase, defaultModel string) *OpenAICompatProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAICompatProvider{
		name:         "openai-compatible",
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		chatPath:     "/chat/completions",
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OpenAICompatProvider) Name() string { return p.name }

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []legacyPayload     `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float64             `json:"temperature,omitempty"`
	TopP        float64             `json:"top_p,omitempty"`
}

type openAIChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
}

func (p *OpenAICompatProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAICompatProvider) buildRequest(opts ChatOptions, messages []gctx.Message, stream bool) []byte {
	req := openAIChatRequest{
		Model:       p.resolveModel(opts.Model),
		Messages:    toLegacyPayload(messages),
		Stream:      stream,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
	}
	body, _ := json.Marshal(req)
	return body
}

func (p *OpenAICompatProvider) doRequest(ctx context.Context, body []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+p.chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, newAPIError(ErrNetwork, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newAPIError(ErrAborted, "request cancelled", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newAPIError(ErrTimeout, "request timed out", err)
		}
		return nil, newAPIError(ErrNetwork, "http request failed", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, newAPIError(ErrAuthFailed, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, newAPIError(ErrRateLimit, "rate limited", nil)
	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, newAPIError(ErrNetwork, fmt.Sprintf("status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		resp.Body.Close()
		return nil, newAPIError(ErrEmptyResp, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return resp.Body, nil
}

// Chat implements Provider. Non-streaming requests are retried end-to-end;
// streaming requests are retried only up to first byte (RetryDo wraps the
// connection open, not the scan loop), matching the teacher's discipline of
// never replaying partially-streamed output.
func (p *OpenAICompatProvider) Chat(ctx context.Context, messages []gctx.Message, opts ChatOptions) (string, error) {
	if opts.Stream {
		return p.chatStream(ctx, messages, opts)
	}

	body := p.buildRequest(opts, messages, false)
	text, err := RetryDo(ctx, p.retryConfig, func() (string, error) {
		respBody, err := p.doRequest(ctx, body)
		if err != nil {
			return "", err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return "", newAPIError(ErrEmptyResp, "decode response", err)
		}
		if len(oaiResp.Choices) == 0 {
			return "", newAPIError(ErrEmptyResp, "no choices in response", nil)
		}
		content := oaiResp.Choices[0].Message.Content
		if strings.TrimSpace(content) == "" {
			return "", newAPIError(ErrBlankContent, "empty content", nil)
		}
		return content, nil
	})
	return text, err
}

func (p *OpenAICompatProvider) chatStream(ctx context.Context, messages []gctx.Message, opts ChatOptions) (string, error) {
	body := p.buildRequest(opts, messages, true)

	respBody, err := RetryDo(ctx, p.retryConfig, func() (io.ReadCloser, error) {
		return p.doRequest(ctx, body)
	})
	if err != nil {
		return "", err
	}
	defer respBody.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return full.String(), newAPIError(ErrAborted, "cancelled mid-stream", ctx.Err())
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk openAIResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if opts.OnChunk != nil {
			opts.OnChunk(delta)
		}
	}

	if full.Len() == 0 {
		return "", newAPIError(ErrBlankContent, "empty streamed content", nil)
	}
	return full.String(), nil
}
