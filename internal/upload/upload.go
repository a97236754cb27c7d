// Package upload sends profile images to an ImgBB-compatible image host.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotConfigured = errors.New("image upload is not configured")

type Result struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// Uploader stores an image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, filename string, image io.Reader) (Result, error)
}

type response struct {
	Success bool `json:"success"`
	Status  int  `json:"status"`
	Data    struct {
		URL        string `json:"url"`
		DisplayURL string `json:"display_url"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type Client struct {
	http   *resty.Client
	apiKey string
	logger *slog.Logger
}

var _ Uploader = (*Client)(nil)

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	http := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   http,
		apiKey: apiKey,
		logger: slog.With("component", "upload"),
	}
}

func (c *Client) Upload(ctx context.Context, filename string, image io.Reader) (Result, error) {
	if c.apiKey == "" {
		return Result{}, ErrNotConfigured
	}

	var body response
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetFileReader("image", filename, image).
		SetResult(&body).
		SetError(&body).
		Post("")
	if err != nil {
		return Result{}, fmt.Errorf("failed to call image host: %w", err)
	}
	if resp.IsError() || !body.Success {
		c.logger.Error("image host rejected upload",
			"status_code", resp.StatusCode(),
			"message", body.Error.Message,
		)
		return Result{Success: false}, fmt.Errorf("image host error: %s (status: %d)", body.Error.Message, resp.StatusCode())
	}

	url := body.Data.URL
	if url == "" {
		url = body.Data.DisplayURL
	}
	c.logger.Info("image uploaded", "filename", filename)
	return Result{Success: true, URL: url}, nil
}
