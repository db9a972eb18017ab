// Package resolver turns a short-video share link into direct media URLs using
// an external extraction API.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBody = 4 << 20

// ErrNotFound is matched by every resolve failure. Users see the same message
// whether the video is missing or the API is unreachable.
var ErrNotFound = errors.New("video not found")

// NotFoundError keeps the underlying cause for logs.
type NotFoundError struct {
	Link  string
	Cause error
}

func (e *NotFoundError) Error() string {
	if e.Cause == nil {
		return "resolve " + e.Link + ": video not found"
	}
	return "resolve " + e.Link + ": video not found: " + e.Cause.Error()
}

func (e *NotFoundError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrNotFound}
	}
	return []error{ErrNotFound, e.Cause}
}

// ResolvedVideo holds direct media URLs; nothing is downloaded.
type ResolvedVideo struct {
	VideoURL    string
	AudioURL    string
	Description string
}

type Config struct {
	BaseURL   string
	Timeout   time.Duration // 0 = no client timeout
	UserAgent string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	return &Client{cfg: cfg, http: newHTTPClient(cfg.Timeout)}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

type apiResponse struct {
	Status    string `json:"status"`
	Desc      string `json:"desc"`
	VideoData struct {
		NoWatermarkHQ string `json:"nwm_video_url_HQ"`
	} `json:"video_data"`
	Music struct {
		PlayURL struct {
			URI string `json:"uri"`
		} `json:"play_url"`
	} `json:"music"`
}

// Resolve performs exactly one GET. There is no retry and no caching.
func (c *Client) Resolve(ctx context.Context, link string) (ResolvedVideo, error) {
	v, err := c.resolve(ctx, link)
	if err != nil {
		return ResolvedVideo{}, &NotFoundError{Link: link, Cause: err}
	}
	return v, nil
}

func (c *Client) resolve(ctx context.Context, link string) (ResolvedVideo, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return ResolvedVideo{}, fmt.Errorf("base url: %w", err)
	}
	q := u.Query()
	q.Set("url", link)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return ResolvedVideo{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.cfg.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ResolvedVideo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return ResolvedVideo{}, fmt.Errorf("http status %d", resp.StatusCode)
	}

	var ar apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&ar); err != nil {
		return ResolvedVideo{}, fmt.Errorf("decode response: %w", err)
	}
	if ar.Status != "success" {
		return ResolvedVideo{}, fmt.Errorf("api status %q", ar.Status)
	}
	if ar.VideoData.NoWatermarkHQ == "" {
		return ResolvedVideo{}, errors.New("api returned no video url")
	}
	return ResolvedVideo{
		VideoURL:    ar.VideoData.NoWatermarkHQ,
		AudioURL:    ar.Music.PlayURL.URI,
		Description: ar.Desc,
	}, nil
}
