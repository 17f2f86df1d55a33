// Package imagery is the client side of the external image pipeline, which
// re-encodes scraped product images and hands back a hosted URL.
package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Pipeline stores one raw image for a product key and returns the public URL
// to persist. An empty return URL means the pipeline declined the image.
type Pipeline interface {
	Store(ctx context.Context, rawImageURL, productKey string) (string, error)
}

// Passthrough is used when no pipeline endpoint is configured: raw image URLs
// are persisted as-is.
type Passthrough struct{}

func (Passthrough) Store(_ context.Context, rawImageURL, _ string) (string, error) {
	return rawImageURL, nil
}

// Client calls the image pipeline service over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type storeRequest struct {
	ImageURL   string `json:"imageUrl"`
	ProductKey string `json:"productKey"`
}

type storeResponse struct {
	PublicURL string `json:"publicUrl"`
}

func (c *Client) Store(ctx context.Context, rawImageURL, productKey string) (string, error) {
	if rawImageURL == "" {
		return "", nil
	}

	body, _ := json.Marshal(storeRequest{ImageURL: rawImageURL, ProductKey: productKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build image pipeline request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("image pipeline call for %s: %w", productKey, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image pipeline returned status %d for %s", resp.StatusCode, productKey)
	}

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode image pipeline response: %w", err)
	}
	return out.PublicURL, nil
}
