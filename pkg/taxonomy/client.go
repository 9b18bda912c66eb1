// Package taxonomy reads tag definitions from the external taxonomy service.
// The service is read-only from this backend's point of view.
package taxonomy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"annotation-collab-be/internal/pkg/logger"

	"github.com/patrickmn/go-cache"
)

type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache
	logger  logger.ILogger
}

// NewClient returns a client for baseURL. With an empty baseURL every tag is
// accepted.
func NewClient(baseURL string, ttl, timeout time.Duration, log logger.ILogger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache.New(ttl, 2*ttl),
		logger:  log,
	}
}

// ValidTag reports whether tagID exists. Answers are cached. When the service
// cannot be reached the tag is accepted and the answer is not cached.
func (c *Client) ValidTag(ctx context.Context, tagID string) (bool, error) {
	if c.baseURL == "" {
		return true, nil
	}
	if v, found := c.cache.Get(tagID); found {
		return v.(bool), nil
	}

	valid, err := c.lookup(ctx, tagID)
	if err != nil {
		c.logger.Warn("Taxonomy", "Tag lookup failed, accepting tag", map[string]interface{}{
			"tag_id": tagID,
			"error":  err.Error(),
		})
		return true, nil
	}
	c.cache.SetDefault(tagID, valid)
	return valid, nil
}

func (c *Client) lookup(ctx context.Context, tagID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/tags/%s", c.baseURL, url.PathEscape(tagID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound, http.StatusGone:
		return false, nil
	default:
		return false, fmt.Errorf("taxonomy returned %s", resp.Status)
	}
}
