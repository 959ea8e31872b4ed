// Package streamclient consumes the chat SSE stream: it decodes the wire
// events, assembles structured message blocks, and reconciles locally cached
// block structure with server history across reloads.
package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aind-capture/metadata-agent/internal/model"
)

// ErrNoTerminal reports a stream that closed before the [DONE] sentinel.
var ErrNoTerminal = errors.New("stream closed without terminal marker")

// Client talks to the chat API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: a stream stays open for the whole agent
		// turn. Cancellation happens through the request context.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream posts a chat request and invokes fn for every decoded event, in
// arrival order, until the terminal sentinel. It returns nil on a clean
// terminal, the context's error when the caller cancelled, and a descriptive
// error for any other failure, including a stream that ends without [DONE].
func (c *Client) Stream(ctx context.Context, req model.ChatRequest, fn func(model.StreamEvent) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	dec := &sseDecoder{}
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, payload := range dec.Feed(buf[:n]) {
				if payload == model.DoneSentinel {
					return nil
				}
				if err := fn(model.ParseEvent(payload)); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(readErr, io.EOF) {
				return ErrNoTerminal
			}
			return fmt.Errorf("read stream: %w", readErr)
		}
	}
}

// History fetches the server's persisted message sequence for a session.
// The server returns role and content only; block structure comes from the
// local snapshot.
func (c *Client) History(ctx context.Context, sessionID string) ([]model.Message, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/sessions/"+sessionID+"/messages", nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out struct {
		Messages []model.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return out.Messages, nil
}

func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}

// sseDecoder splits an SSE byte stream into data payloads. Chunks may land
// on arbitrary boundaries, so a trailing partial line is retained and
// prefixed onto the next chunk.
type sseDecoder struct {
	partial []byte
}

const dataPrefix = "data: "

// Feed consumes one chunk and returns the payloads of every complete
// "data: " line it contains. Other SSE fields and blank lines are ignored.
func (d *sseDecoder) Feed(chunk []byte) []string {
	d.partial = append(d.partial, chunk...)

	var payloads []string
	for {
		idx := bytes.IndexByte(d.partial, '\n')
		if idx < 0 {
			return payloads
		}
		line := string(bytes.TrimSuffix(d.partial[:idx], []byte("\r")))
		d.partial = d.partial[idx+1:]

		if strings.HasPrefix(line, dataPrefix) {
			payloads = append(payloads, line[len(dataPrefix):])
		}
	}
}
