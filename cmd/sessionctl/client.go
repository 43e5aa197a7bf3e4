package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/satriahrh/parley/internal/api"
)

type client struct {
	server string
	token  string
	http   *http.Client
}

// do sends body as JSON and decodes a 2xx response into out when non-nil
func (c *client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.server, "/")+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Message != "" {
			if errResp.Category != "" {
				return fmt.Errorf("%s (%s)", errResp.Message, errResp.Category)
			}
			return fmt.Errorf("%s", errResp.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) websocketURL() string {
	u := strings.TrimRight(c.server, "/") + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
