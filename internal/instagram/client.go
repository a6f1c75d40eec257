package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

// Config configures the Graph API client.
type Config struct {
	// BaseURL defaults to the v21.0 Graph endpoint.
	BaseURL string
	// Timeout bounds each HTTP call. Default 5m: container creation uploads
	// the video server-side and can be slow.
	Timeout time.Duration
	// RatePerSec caps outgoing calls; 0 disables the limiter.
	RatePerSec float64
}

// Client talks to the Instagram Graph API. All methods resolve credentials
// first and return ErrNotConfigured without touching the network when they
// are absent.
type Client struct {
	base    string
	creds   CredentialSource
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, creds CredentialSource, log logx.Logger) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://graph.facebook.com/v21.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Client{
		base:    base,
		creds:   creds,
		http:    &http.Client{Timeout: timeout},
		limiter: lim,
		log:     log,
	}
}

// CheckCredentials verifies a token and account id are resolvable without
// making a network call.
func (c *Client) CheckCredentials() error {
	_, err := c.resolve()
	return err
}

// CreateContainer registers a media container in draft state and returns its id.
func (c *Client) CreateContainer(ctx context.Context, mediaURL, caption string) (string, error) {
	cr, err := c.resolve()
	if err != nil {
		return "", err
	}
	form := url.Values{
		"video_url": {mediaURL},
		"caption":   {caption},
		"published": {"false"},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, cr, "/"+cr.UserID+"/media", form, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("graph api: media response missing container id")
	}
	return resp.ID, nil
}

// ContainerStatus reads the processing state of a container.
func (c *Client) ContainerStatus(ctx context.Context, containerID string) (ContainerStatus, error) {
	cr, err := c.resolve()
	if err != nil {
		return "", err
	}
	var resp struct {
		StatusCode string `json:"status_code"`
	}
	if err := c.get(ctx, cr, "/"+containerID, url.Values{"fields": {"status_code"}}, &resp); err != nil {
		return "", err
	}
	return ContainerStatus(resp.StatusCode), nil
}

// Publish promotes a finished container to a live post and returns the media id.
func (c *Client) Publish(ctx context.Context, containerID string) (string, error) {
	cr, err := c.resolve()
	if err != nil {
		return "", err
	}
	form := url.Values{"creation_id": {containerID}}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, cr, "/"+cr.UserID+"/media_publish", form, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("graph api: media_publish response missing id")
	}
	return resp.ID, nil
}

// Metrics reads engagement counters for a published media id.
// Fields the API omits come back as zero.
func (c *Client) Metrics(ctx context.Context, mediaID string) (media.Engagement, error) {
	cr, err := c.resolve()
	if err != nil {
		return media.Engagement{}, err
	}
	var resp struct {
		LikeCount     int64 `json:"like_count"`
		CommentsCount int64 `json:"comments_count"`
		ViewCount     int64 `json:"video_view_count"`
	}
	q := url.Values{"fields": {"like_count,comments_count,video_view_count"}}
	if err := c.get(ctx, cr, "/"+mediaID, q, &resp); err != nil {
		return media.Engagement{}, err
	}
	return media.Engagement{Likes: resp.LikeCount, Comments: resp.CommentsCount, Views: resp.ViewCount}, nil
}

func (c *Client) resolve() (Credentials, error) {
	if c.creds == nil {
		return Credentials{}, ErrNotConfigured
	}
	cr, err := c.creds.Credentials()
	if err != nil {
		return Credentials{}, err
	}
	if strings.TrimSpace(cr.AccessToken) == "" || strings.TrimSpace(cr.UserID) == "" {
		return Credentials{}, ErrNotConfigured
	}
	return cr, nil
}

func (c *Client) post(ctx context.Context, cr Credentials, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+path+"?access_token="+url.QueryEscape(cr.AccessToken),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, cr Credentials, path string, q url.Values, out any) error {
	q.Set("access_token", cr.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("graph api request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("graph api read: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		var e struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil {
			apiErr.Message = e.Error.Message
			apiErr.Type = e.Error.Type
			apiErr.Code = e.Error.Code
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("graph api decode: %w", err)
	}
	return nil
}
