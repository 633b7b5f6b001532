// Package llm implements Weaver's LLM Client: a rate-limited,
// circuit-broken, retried wrapper around the Anthropic Messages API.
// The resilience stack is layered outer-to-inner exactly as spec.md
// §4.4 orders it: rate limiter → circuit breaker → retry → timeout →
// transport, grounded on the teacher's internal/api.Client (token
// bucket, rolling-window stats) with sony/gobreaker bolted on for the
// circuit layer.
package llm

import (
	"context"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weaver-md/weaver/internal/retrypolicy"
	"github.com/weaver-md/weaver/internal/weavererr"
)

// ResponseFormat selects the strict parser layered after the SDK call.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
	FormatList ResponseFormat = "list"
)

// Options configures one SendMessage call. Zero values fall back to the
// Client's defaults.
type Options struct {
	Model          string
	MaxTokens      int64
	ResponseFormat ResponseFormat
	Timeout        time.Duration
	SystemPrompt   string
}

// Result is the strictly-decoded outcome of one SendMessage call.
type Result struct {
	Text string
	JSON map[string]any
	List []string
}

// Config mirrors config.LLMConfig's fields the client needs, decoupled
// from the config package so llm stays importable without it.
type Config struct {
	APIKey                string
	Model                 string
	RequestsPerSecond     float64
	Burst                 int
	RequestTimeout        time.Duration
	MaxRetries            int
	CircuitFailureRatio   float64
	CircuitMinRequests    uint32
	CircuitCooldown       time.Duration
}

// Client sends prompts to Anthropic's Messages API through the full
// resilience stack.
type Client struct {
	cfg     Config
	sdk     anthropic.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	stats   *Stats
	log     *zap.SugaredLogger
}

// New constructs a Client. apiKey falling back to the ANTHROPIC_API_KEY
// environment variable matches the SDK's own default option behavior.
func New(cfg Config, log *zap.SugaredLogger) *Client {
	opts := []option.RequestOption{}
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	stats := newStats()
	return &Client{
		cfg:     cfg,
		sdk:     anthropic.NewClient(opts...),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst),
		breaker: newBreaker("anthropic-messages", cfg.CircuitMinRequests, cfg.CircuitFailureRatio, cfg.CircuitCooldown, stats, log),
		stats:   stats,
		log:     log,
	}
}

// Stats exposes call statistics for the rule engine's admin snapshot.
func (c *Client) Stats() Snapshot {
	return c.stats.Snapshot()
}

// SendMessage runs prompt through the rate limiter, circuit breaker,
// retry, and per-attempt timeout layers, then strictly decodes the
// response per opts.ResponseFormat.
func (c *Client) SendMessage(ctx context.Context, prompt string, opts Options) (*Result, error) {
	if err := acquire(ctx, c.limiter, c.stats); err != nil {
		return nil, err
	}

	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	format := opts.ResponseFormat
	if format == "" {
		format = FormatText
	}
	perAttemptTimeout := opts.Timeout
	if perAttemptTimeout == 0 {
		perAttemptTimeout = c.cfg.RequestTimeout
	}

	start := time.Now()
	raw, err := execute(c.breaker, "anthropic-messages", func() (any, error) {
		return c.retryingCall(ctx, model, maxTokens, opts.SystemPrompt, prompt, perAttemptTimeout)
	})
	c.stats.Record(model, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	text := raw.(string)
	return decodeResult(text, format)
}

// retryingCall wraps one transport call in the shared exponential
// backoff-with-jitter retry helper, using spec.md §4.4's retry policy
// (RateLimit/Timeout/Network/Transport retry, Auth/Parse never do).
func (c *Client) retryingCall(ctx context.Context, model string, maxTokens int64, system, prompt string, perAttemptTimeout time.Duration) (any, error) {
	policy := retrypolicy.Policy{
		MaxAttempts: c.cfg.MaxRetries,
		BaseDelay:   2 * time.Second,
		MaxDelay:    16 * time.Second,
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var result string
	err := retrypolicy.Do(ctx, policy, isRetryable, func(attemptCtx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(attemptCtx, perAttemptTimeout)
		defer cancel()

		text, callErr := c.callOnce(attemptCtx, model, maxTokens, system, prompt)
		if callErr != nil {
			return callErr
		}
		result = text
		return nil
	})
	return result, err
}

// isRetryable reports whether an error from callOnce should trigger
// another attempt, per spec.md §4.4: RateLimit, Timeout, Network, and
// Transport retry; Auth and Parse never do.
func isRetryable(err error) bool {
	switch weavererr.GetType(err) {
	case weavererr.ErrorTypeRateLimit, weavererr.ErrorTypeTimeout, weavererr.ErrorTypeNetwork, weavererr.ErrorTypeTransport:
		return true
	default:
		return false
	}
}
