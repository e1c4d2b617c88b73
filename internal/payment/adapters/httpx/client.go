package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	paymentdomain "github.com/smallbiznis/settlement/internal/payment/domain"
	"github.com/smallbiznis/settlement/pkg/telemetry/correlation"
)

const DefaultTimeout = 15 * time.Second

// New returns a resty client bound to a network's API base URL. Retries are
// disabled: every call is made once and retried only by the caller.
func New(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetBaseURL(strings.TrimRight(strings.TrimSpace(baseURL), "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json").
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			for key, value := range correlation.OutboundHeaders(req.Context()) {
				req.SetHeader(key, value)
			}
			return nil
		})
}

// Do sends req and decodes a 2xx JSON body into out. Failures come back as
// *ProviderError tagged with provider and op.
func Do(ctx context.Context, provider, op string, req *resty.Request, method, url string, out any) error {
	resp, err := req.SetContext(ctx).Execute(method, url)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return paymentdomain.NewProviderError(provider, op, 0, err)
	}
	return Decode(provider, op, resp, out)
}

func Decode(provider, op string, resp *resty.Response, out any) error {
	status := resp.StatusCode()
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return paymentdomain.NewProviderError(provider, op, status, errors.New(summarize(resp.Body())))
	}
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return paymentdomain.NewProviderError(provider, op, status, fmt.Errorf("%w: %v", paymentdomain.ErrAmbiguousStatus, err))
	}
	return nil
}

// summarize keeps network error bodies short and free of echoed request data.
func summarize(body []byte) string {
	var envelope struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch typed := envelope.Error.(type) {
		case string:
			if typed != "" {
				return typed
			}
		case map[string]any:
			if msg, ok := typed["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	if text == "" {
		text = "empty response"
	}
	return text
}

// ReadString reads a string key from an adapter config block.
func ReadString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast), strings.TrimSpace(cast) != ""
	default:
		return "", false
	}
}
