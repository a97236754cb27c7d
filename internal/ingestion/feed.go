package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mr1hm/go-green-corridor/internal/models"
)

// FeedAlert is one item of the external alert feed.
type FeedAlert struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Location    models.GeoPoint `json:"location"`
	Timestamp   time.Time       `json:"timestamp"`
	Description string          `json:"description,omitempty"`
	ReportedBy  string          `json:"reportedBy,omitempty"`
}

type feedResponse struct {
	Alerts []FeedAlert `json:"alerts"`
}

// Fetcher reads the current contents of an alert feed.
type Fetcher interface {
	Fetch(ctx context.Context) ([]FeedAlert, error)
}

type FeedClient struct {
	http *resty.Client
	url  string
}

var _ Fetcher = (*FeedClient)(nil)

func NewFeedClient(url string, timeout time.Duration) *FeedClient {
	return &FeedClient{
		http: resty.New().
			SetTimeout(timeout).
			SetRetryCount(2).
			SetHeader("Accept", "application/json"),
		url: url,
	}
}

func (c *FeedClient) Fetch(ctx context.Context) ([]FeedAlert, error) {
	var data feedResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&data).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode(), resp.Status())
	}
	return data.Alerts, nil
}
