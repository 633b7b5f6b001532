package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/weaver-md/weaver/internal/weavererr"
)

// callOnce makes one Messages API request and returns the concatenated
// text of the response's content blocks. Errors are classified into the
// taxonomy so the retry layer can decide what's retryable.
func (c *Client) callOnce(ctx context.Context, model string, maxTokens int64, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		sb.WriteString(block.Text)
	}
	return sb.String(), nil
}

// classifyTransportError maps an SDK/transport failure onto the error
// taxonomy so the retry layer and circuit breaker see a consistent
// vocabulary regardless of which layer failed.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return weavererr.NewTimeoutError("anthropic messages call").WithDetails(ctx.Err().Error())
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return weavererr.Wrap(err, weavererr.ErrorTypeAuth, "anthropic authentication failed")
		case 429:
			return weavererr.Wrap(err, weavererr.ErrorTypeRateLimit, "anthropic rate limit")
		default:
			if apiErr.StatusCode >= 500 {
				return weavererr.Wrap(err, weavererr.ErrorTypeTransport, "anthropic server error")
			}
			return weavererr.Wrap(err, weavererr.ErrorTypeValidation, "anthropic request rejected")
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return weavererr.Wrap(err, weavererr.ErrorTypeTimeout, "anthropic request timed out")
		}
		return weavererr.Wrap(err, weavererr.ErrorTypeNetwork, "anthropic network error")
	}

	return weavererr.Wrap(err, weavererr.ErrorTypeTransport, "anthropic request failed")
}

// decodeResult applies the strict, non-retryable parser spec.md §4.4
// requires for the requested response format.
func decodeResult(text string, format ResponseFormat) (*Result, error) {
	switch format {
	case FormatText:
		return &Result{Text: text}, nil

	case FormatJSON:
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
			return nil, weavererr.Wrap(err, weavererr.ErrorTypeParse, "response was not a JSON object").WithDetails(text)
		}
		return &Result{Text: text, JSON: obj}, nil

	case FormatList:
		var items []string
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "[") {
			if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
				return nil, weavererr.Wrap(err, weavererr.ErrorTypeParse, "response was not a JSON array").WithDetails(text)
			}
		} else {
			for _, line := range strings.Split(trimmed, "\n") {
				line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
				if line != "" {
					items = append(items, line)
				}
			}
		}
		if len(items) == 0 {
			return nil, weavererr.New(weavererr.ErrorTypeParse, "response contained no list items").WithDetails(text)
		}
		return &Result{Text: text, List: items}, nil

	default:
		return nil, weavererr.New(weavererr.ErrorTypeValidation, "unknown response format").WithDetails(string(format))
	}
}
