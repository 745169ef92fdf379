package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// restBackend speaks the hosted REST cache protocol (Upstash-style): each
// command is a JSON array POSTed to the endpoint with a bearer token, and
// the reply is {"result": ...} or {"error": "..."}.
type restBackend struct {
	url    string
	token  string
	client *http.Client
}

func newRESTBackend(url, token string) *restBackend {
	return &restBackend{
		url:   strings.TrimRight(url, "/"),
		token: token,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type restResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// do executes a single command against the REST endpoint.
func (r *restBackend) do(ctx context.Context, command ...interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cache REST request failed: %w", err)
	}
	defer resp.Body.Close()

	var parsed restResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode cache REST response: %w", err)
	}

	if parsed.Error != "" {
		return nil, fmt.Errorf("cache REST error: %s", parsed.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cache REST status %d", resp.StatusCode)
	}

	return parsed.Result, nil
}

func (r *restBackend) Get(ctx context.Context, key string) (string, error) {
	result, err := r.do(ctx, "GET", key)
	if err != nil {
		return "", err
	}
	if string(result) == "null" {
		return "", ErrNil
	}
	var val string
	if err := json.Unmarshal(result, &val); err != nil {
		return "", fmt.Errorf("unexpected GET result: %w", err)
	}
	return val, nil
}

func (r *restBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	command := []interface{}{"SET", key, value}
	if ttl > 0 {
		command = append(command, "EX", int(ttl.Seconds()))
	}
	_, err := r.do(ctx, command...)
	return err
}

func (r *restBackend) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	command := make([]interface{}, 0, len(keys)+1)
	command = append(command, "DEL")
	for _, k := range keys {
		command = append(command, k)
	}
	result, err := r.do(ctx, command...)
	if err != nil {
		return 0, err
	}
	return parseRESTInt(result)
}

func (r *restBackend) Exists(ctx context.Context, key string) (bool, error) {
	result, err := r.do(ctx, "EXISTS", key)
	if err != nil {
		return false, err
	}
	n, err := parseRESTInt(result)
	return n > 0, err
}

func (r *restBackend) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	command := make([]interface{}, 0, len(keys)+1)
	command = append(command, "MGET")
	for _, k := range keys {
		command = append(command, k)
	}
	result, err := r.do(ctx, command...)
	if err != nil {
		return nil, err
	}
	var values []*string
	if err := json.Unmarshal(result, &values); err != nil {
		return nil, fmt.Errorf("unexpected MGET result: %w", err)
	}
	return values, nil
}

func (r *restBackend) MSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	command := make([]interface{}, 0, len(pairs)*2+1)
	command = append(command, "MSET")
	for k, v := range pairs {
		command = append(command, k, v)
	}
	_, err := r.do(ctx, command...)
	return err
}

func (r *restBackend) Incr(ctx context.Context, key string) (int64, error) {
	result, err := r.do(ctx, "INCR", key)
	if err != nil {
		return 0, err
	}
	return parseRESTInt(result)
}

func (r *restBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := r.do(ctx, "EXPIRE", key, int(ttl.Seconds()))
	return err
}

func (r *restBackend) Ping(ctx context.Context) error {
	_, err := r.do(ctx, "PING")
	return err
}

func (r *restBackend) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *restBackend) Name() string { return "rest" }

// parseRESTInt handles integer results that some proxies return as JSON
// numbers and others as quoted strings.
func parseRESTInt(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strconv.ParseInt(s, 10, 64)
	}
	return 0, fmt.Errorf("unexpected integer result: %s", string(raw))
}
