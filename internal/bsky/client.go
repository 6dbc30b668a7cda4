// Package bsky is the remote collaborator: a small XRPC client for the two
// calls the cache needs, batch post lookup and the notification feed.
package bsky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"skein-go/internal/config"
	"skein-go/internal/model"
	"skein-go/internal/skein"
)

const (
	DefaultServiceURL = "https://public.api.bsky.app"
	DefaultPageSize   = 50

	getPostsMethod          = "app.bsky.feed.getPosts"
	listNotificationsMethod = "app.bsky.notification.listNotifications"
)

// Client talks to an XRPC service. Posts are read from ServiceURL;
// notifications from NotificationsURL (falling back to ServiceURL) using
// AccessToken as a bearer token.
type Client struct {
	ServiceURL       string
	NotificationsURL string
	AccessToken      string
	PageSize         int
	HTTPClient       *http.Client
}

// NewClient creates a client from the remote configuration.
func NewClient(cfg config.RemoteConfig) *Client {
	c := &Client{
		ServiceURL:       strings.TrimRight(cfg.ServiceURL, "/"),
		NotificationsURL: strings.TrimRight(cfg.NotificationsURL, "/"),
		AccessToken:      cfg.AccessToken,
		PageSize:         cfg.PageSize,
		HTTPClient:       &http.Client{Timeout: cfg.Timeout.Duration},
	}
	if c.ServiceURL == "" {
		c.ServiceURL = DefaultServiceURL
	}
	if c.NotificationsURL == "" {
		c.NotificationsURL = c.ServiceURL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.HTTPClient.Timeout == 0 {
		c.HTTPClient.Timeout = 30 * time.Second
	}
	return c
}

var (
	_ skein.PostFetcher         = (*Client)(nil)
	_ skein.NotificationFetcher = (*Client)(nil)
)

// FetchPosts resolves up to 25 post URIs in one call. Posts the service
// cannot return (deleted, blocked) are absent from the result.
func (c *Client) FetchPosts(ctx context.Context, uris []string) ([]model.Post, error) {
	if len(uris) > skein.MaxBatchSize {
		return nil, fmt.Errorf("fetching %d posts: %w", len(uris), skein.ErrBatchTooLarge)
	}
	if len(uris) == 0 {
		return nil, nil
	}

	q := url.Values{}
	for _, uri := range uris {
		q.Add("uris", uri)
	}

	var out struct {
		Posts []model.Post `json:"posts"`
	}
	if err := c.get(ctx, c.ServiceURL, getPostsMethod, q, false, uris, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// FetchNotifications returns one page of the feed. An empty cursor starts
// at the newest notification.
func (c *Client) FetchNotifications(ctx context.Context, cursor string) (*skein.NotificationPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var out struct {
		Cursor        string               `json:"cursor"`
		Notifications []model.Notification `json:"notifications"`
	}
	if err := c.get(ctx, c.NotificationsURL, listNotificationsMethod, q, true, nil, &out); err != nil {
		return nil, err
	}
	return &skein.NotificationPage{Items: out.Notifications, NextCursor: out.Cursor}, nil
}

// xrpcError is the error body XRPC services return.
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) get(ctx context.Context, base, method string, q url.Values, auth bool, uris []string, out any) error {
	endpoint := base + "/xrpc/" + method + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if auth && c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &skein.TransientFetchError{Op: method, URIs: uris, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &skein.TransientFetchError{Op: method, URIs: uris, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var xe xrpcError
		_ = json.Unmarshal(body, &xe)
		cause := fmt.Errorf("%s: %s", xe.Error, xe.Message)
		if xe.Error == "" {
			cause = fmt.Errorf("%s", http.StatusText(resp.StatusCode))
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return &skein.TransientFetchError{Op: method, URIs: uris, StatusCode: resp.StatusCode, Err: cause}
		}
		return fmt.Errorf("%s returned status %d: %w", method, resp.StatusCode, cause)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
