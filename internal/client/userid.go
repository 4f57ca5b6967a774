package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"screepsapi/internal/logging"
)

const mePath = "/auth/me"

type meResponse struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
}

// ResolveUserID looks up the signed-in user's id once and caches it for the
// life of the client. Concurrent callers share a single lookup; failures are
// not cached.
func (c *Client) ResolveUserID(ctx context.Context) (string, error) {
	c.userMu.Lock()
	cached := c.userID
	c.userMu.Unlock()
	if cached != "" {
		return cached, nil
	}

	v, err, _ := c.userSF.Do("me", func() (any, error) {
		c.userMu.Lock()
		if c.userID != "" {
			id := c.userID
			c.userMu.Unlock()
			return id, nil
		}
		c.userMu.Unlock()

		me, err := Call[meResponse](ctx, c, http.MethodGet, mePath, nil)
		if err != nil {
			return "", err
		}
		id := strings.TrimSpace(me.ID)
		if id == "" {
			return "", errors.New("identity lookup returned no user id")
		}
		c.userMu.Lock()
		c.userID = id
		c.userMu.Unlock()
		c.logger.Debug("resolved user id", logging.Field("user_id", id), logging.Field("username", me.Username))
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Call runs Execute and unmarshals the result into T. Endpoint helpers are
// expected to be thin wrappers around it.
func Call[T any](ctx context.Context, c *Client, method string, path string, params Params) (T, error) {
	var out T
	raw, err := c.Execute(ctx, method, path, params)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
