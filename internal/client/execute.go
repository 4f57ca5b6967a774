package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"screepsapi/internal/codec"
	"screepsapi/internal/logging"
	"screepsapi/internal/metrics"
)

const (
	headerToken    = "X-Token"
	headerUsername = "X-Username"

	maxResponseBytes = 32 << 20

	budgetJitterMax   = 500 * time.Millisecond
	throttleJitterMin = 200 * time.Millisecond
	throttleJitterMax = 700 * time.Millisecond
)

// Params are endpoint arguments: query values for GET, a JSON body otherwise.
type Params map[string]any

// Execute performs one logical call. Expired credentials (401), throttling
// (429) and transport failures are retried until the call succeeds, another
// status is returned, or ctx is done. A compressed "data" field in the
// response is inflated in place.
func (c *Client) Execute(ctx context.Context, method string, path string, params Params) (json.RawMessage, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	logger := c.logger.With(
		logging.Field("request_id", uuid.NewString()),
		logging.Field("method", method),
		logging.Field("path", path),
	)

	transportFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.waitForBudget(ctx, logger, method, path); err != nil {
			return nil, err
		}

		req, err := c.newRequest(ctx, method, path, params)
		if err != nil {
			return nil, err
		}
		status, statusCode, data, err := c.roundTrip(req, method, path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			transportFailures++
			if retryErr := c.retryTransport(ctx, logger, method, path, transportFailures, err); retryErr != nil {
				return nil, retryErr
			}
			continue
		}
		transportFailures = 0
		logger.Debugf("%s %s -> %s", method, path, status)

		switch {
		case statusCode >= 200 && statusCode < 300:
			return decodeBody(data)
		case statusCode == http.StatusUnauthorized:
			c.metrics.ObserveRetry(metrics.ReasonUnauthorized)
			if err := c.recoverUnauthorized(ctx, logger); err != nil {
				return nil, err
			}
		case statusCode == http.StatusTooManyRequests:
			c.metrics.ObserveRetry(metrics.ReasonRateLimited)
			wait := c.limits.LimitFor(method, path).UntilReset(c.now()) + c.jitter(throttleJitterMin, throttleJitterMax)
			logger.Debug("throttled; retrying after reset", logging.Field("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		default:
			logger.Warn("request rejected",
				logging.Field("status", status),
				logging.Field("response", logging.FormatHTTPPayload(data)),
			)
			return nil, &RemoteError{Method: method, Path: path, StatusCode: statusCode, Status: status, Body: data}
		}
	}
}

// roundTrip sends req and records what every response carries: a rotated
// token, rate headers and the status metric. A body that cannot be read
// counts as a transport failure.
func (c *Client) roundTrip(req *http.Request, method string, path string) (string, int, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, nil, err
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(headerToken); token != "" {
		c.auth.UpdateToken(token)
	}
	c.limits.RecordHeaders(method, path, resp.Header)
	c.metrics.ObserveResponse(method, resp.StatusCode)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return resp.Status, resp.StatusCode, data, nil
}

func (c *Client) waitForBudget(ctx context.Context, logger *logging.Logger, method string, path string) error {
	wait := c.limits.LimitFor(method, path).Wait(c.now())
	if wait <= 0 {
		return nil
	}
	wait += c.jitter(0, budgetJitterMax)
	c.metrics.ObserveRateLimitWait(method, wait.Seconds())
	logger.Debug("rate limit exhausted; waiting for reset", logging.Field("wait", wait))
	return c.sleep(ctx, wait)
}

func (c *Client) recoverUnauthorized(ctx context.Context, logger *logging.Logger) error {
	if c.auth.InFlight() {
		logger.Debug("unauthorized while sign-in in flight; waiting", logging.Field("wait", c.policy.AuthRetryDelay))
		return c.sleep(ctx, c.policy.AuthRetryDelay)
	}
	before := c.auth.Token()
	err := c.auth.Authenticate(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil || c.auth.Token() == before {
		// Nothing new to send; pace the retry instead of spinning on 401s.
		logger.Debug("re-authentication produced no new token; waiting",
			logging.Field("error", err),
			logging.Field("wait", c.policy.AuthRetryDelay),
		)
		return c.sleep(ctx, c.policy.AuthRetryDelay)
	}
	logger.Debug("re-authenticated after 401")
	return nil
}

func (c *Client) retryTransport(ctx context.Context, logger *logging.Logger, method string, path string, attempt int, cause error) error {
	c.metrics.ObserveRetry(metrics.ReasonTransport)
	if limit := c.policy.MaxTransportRetries; limit > 0 && attempt > limit {
		logger.Warn("giving up after transport failures", logging.Field("attempts", attempt), logging.Field("error", cause))
		return &TransportError{Method: method, Path: path, Attempts: attempt, Err: cause}
	}
	logger.Debug("transport failure; retrying", logging.Field("attempt", attempt), logging.Field("error", cause))
	if c.transportPacer != nil {
		return c.transportPacer.Wait(ctx)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, params Params) (*http.Request, error) {
	target := c.endpoints.URL(path)
	var body io.Reader
	if method == http.MethodGet {
		if query := encodeQuery(params); query != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + query
		}
	} else {
		payload := []byte("{}")
		if params != nil {
			encoded, err := json.Marshal(params)
			if err != nil {
				return nil, fmt.Errorf("encode %s %s body: %w", method, path, err)
			}
			payload = encoded
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.auth.Token(); token != "" {
		req.Header.Set(headerToken, token)
		req.Header.Set(headerUsername, token)
	}
	return req, nil
}

func encodeQuery(params Params) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, key := range keys {
		switch v := params[key].(type) {
		case nil:
			continue
		case string:
			values.Add(key, v)
		case []string:
			for _, item := range v {
				values.Add(key, item)
			}
		case fmt.Stringer:
			values.Add(key, v.String())
		case map[string]any, []any:
			encoded, err := json.Marshal(v)
			if err != nil {
				continue
			}
			values.Add(key, string(encoded))
		default:
			values.Add(key, fmt.Sprint(v))
		}
	}
	return values.Encode()
}

// decodeBody substitutes a "gz:" data field with the JSON it encodes.
func decodeBody(data []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.New("response body is not valid JSON")
	}
	if trimmed[0] != '{' {
		return json.RawMessage(trimmed), nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, err
	}
	rawData, ok := fields["data"]
	if !ok {
		return json.RawMessage(trimmed), nil
	}
	var packed string
	if err := json.Unmarshal(rawData, &packed); err != nil || !codec.IsCompressed(packed) {
		return json.RawMessage(trimmed), nil
	}
	inflated, err := codec.Decode(packed, codec.Gzip)
	if err != nil {
		return nil, err
	}
	fields["data"] = inflated
	return json.Marshal(fields)
}
