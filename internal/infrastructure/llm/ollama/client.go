package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL    string
	GenModel   string
	EmbedModel string
	// RequestsPerMinute caps generation calls process-wide. Zero disables the cap.
	RequestsPerMinute int
	// TokenSource, when set, authorizes every request with a bearer token.
	TokenSource oauth2.TokenSource
	Executor    *resilience.Executor
	HTTPClient  *http.Client
	// OnRateLimited is called for every generation call rejected by the limiter.
	OnRateLimited func(operation string)
}

// Client talks to an Ollama-compatible generation and embedding service.
type Client struct {
	baseURL       string
	genModel      string
	embedModel    string
	httpClient    *http.Client
	tokens        oauth2.TokenSource
	executor      *resilience.Executor
	limiter       *SlidingWindowLimiter
	onRateLimited func(string)
}

func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Streams can outlive any fixed client timeout; calls are bounded by context instead.
		httpClient = &http.Client{}
	}
	var limiter *SlidingWindowLimiter
	if cfg.RequestsPerMinute > 0 {
		limiter = NewSlidingWindowLimiter(cfg.RequestsPerMinute, time.Minute)
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		genModel:      cfg.GenModel,
		embedModel:    cfg.EmbedModel,
		httpClient:    httpClient,
		tokens:        cfg.TokenSource,
		executor:      cfg.Executor,
		limiter:       limiter,
		onRateLimited: cfg.OnRateLimited,
	}
}

var _ ports.Generator = (*Client)(nil)
var _ ports.Embedder = (*Client)(nil)

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) buildGenerateRequest(req ports.GenerateRequest, stream bool) generateRequest {
	body := generateRequest{
		Model:  c.genModel,
		Prompt: req.Prompt,
		System: req.System,
		Stream: stream,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	if req.JSON {
		body.Format = "json"
	}
	return body
}

func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (string, error) {
	if err := c.admit("generate"); err != nil {
		return "", err
	}

	body := c.buildGenerateRequest(req, false)
	var response generateChunk
	err := c.execute(ctx, "ollama.generate", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/generate", body, &response, "generate")
	}, classifyOllamaError)
	if err != nil {
		return "", wrapUpstreamError("ollama generate", err)
	}
	if response.Error != "" {
		return "", domain.WrapError(domain.ErrUpstreamUnavailable, "ollama generate", errors.New(response.Error))
	}
	return strings.TrimSpace(response.Response), nil
}

// Stream forwards fragments to onDelta as they arrive. A failed attempt is retried only while
// nothing has been forwarded yet.
func (c *Client) Stream(ctx context.Context, req ports.GenerateRequest, onDelta func(string) error) (string, error) {
	if err := c.admit("stream"); err != nil {
		return "", err
	}

	body := c.buildGenerateRequest(req, true)
	var full strings.Builder
	emitted := 0
	forward := func(fragment string) error {
		if err := onDelta(fragment); err != nil {
			return fmt.Errorf("%w: %w", errDeltaRejected, err)
		}
		emitted++
		full.WriteString(fragment)
		return nil
	}

	err := c.execute(ctx, "ollama.stream", func(ctx context.Context) error {
		return c.postStream(ctx, "/api/generate", body, forward, "stream")
	}, func(err error) resilience.ErrorClassification {
		if errors.Is(err, errDeltaRejected) {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
		class := classifyOllamaError(err)
		if emitted > 0 {
			class.Retryable = false
		}
		return class
	})
	if err != nil {
		if errors.Is(err, errDeltaRejected) {
			return full.String(), err
		}
		return full.String(), wrapUpstreamError("ollama stream", err)
	}
	return full.String(), nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, domain.WrapError(domain.ErrUpstreamUnavailable, "ollama embed", fmt.Errorf("empty embedding result"))
	}
	return vectors[0], nil
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": c.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	err := c.execute(ctx, "ollama.embed", func(ctx context.Context) error {
		return c.postJSON(ctx, "/api/embed", request, &response, "embed")
	}, classifyOllamaError)
	if err != nil {
		return nil, wrapUpstreamError("ollama embed", err)
	}
	return response.Embeddings, nil
}

func (c *Client) admit(operation string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Allow(); err != nil {
		if c.onRateLimited != nil {
			c.onRateLimited(operation)
		}
		return domain.WrapError(domain.ErrRateLimited, "ollama "+operation, err)
	}
	return nil
}

func (c *Client) execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier resilience.ErrorClassifier,
) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifier)
}
