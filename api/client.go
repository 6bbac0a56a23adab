// Package api is the HTTP client for the assistant backend. Every call
// returns either a usable payload or an error; failures from the backend are
// ordinary error values, never panics.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	// ErrEmptyAudio means the backend answered 200 with no audio bytes.
	ErrEmptyAudio = errors.New("backend returned empty audio")
	// ErrEmptyReply means the backend answered 200 with no reply text.
	ErrEmptyReply = errors.New("backend returned empty reply")
)

// BackendError is a non-2xx response carrying the backend's own message.
// It is a normal outcome, meant for user-facing messaging.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error (status %d)", e.Status)
	}
	return e.Message
}

type Client struct {
	base   string
	http   *http.Client
	logger *log.Logger
}

func New(base string, logger *log.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Greet fetches the assistant's wake-up greeting audio.
func (c *Client) Greet(ctx context.Context) ([]byte, error) {
	return c.postForAudio(ctx, "/api/greet", nil, "")
}

// Speak turns text into synthesized speech audio.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	return c.postForAudio(ctx, "/api/speak", bytes.NewReader(body), "application/json")
}

// ChatText sends a typed message and returns the assistant's reply text.
func (c *Client) ChatText(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	resp, err := c.post(ctx, "/api/chat", bytes.NewReader(body), "application/json")
	if err != nil {
		return "", err
	}
	return decodeReply(resp)
}

// ChatAudio sends a recorded utterance as a multipart form and returns the
// assistant's reply text. The backend transcribes the audio itself; the
// recognized text is not returned.
func (c *Client) ChatAudio(ctx context.Context, data []byte, mimeType string) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio_blob", "recording"+extensionFor(mimeType))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	resp, err := c.post(ctx, "/api/chat", &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	return decodeReply(resp)
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		berr := &BackendError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			berr.Message = payload.Error
		}
		c.logger.Warn("backend error", "path", path, "status", resp.StatusCode, "msg", berr.Message)
		return nil, berr
	}
	return raw, nil
}

func (c *Client) postForAudio(ctx context.Context, path string, body io.Reader, contentType string) ([]byte, error) {
	raw, err := c.post(ctx, path, body, contentType)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyAudio
	}
	return raw, nil
}

func decodeReply(raw []byte) (string, error) {
	var payload struct {
		ReplyText string `json:"reply_text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("malformed chat response: %w", err)
	}
	reply := strings.TrimSpace(payload.ReplyText)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "webm"):
		return ".webm"
	case strings.Contains(mimeType, "wav"):
		return ".wav"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return ".mp3"
	default:
		return ".bin"
	}
}
