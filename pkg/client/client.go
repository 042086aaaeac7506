// Package client is the HTTP/websocket client of the bothost control plane.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/bothost/internal/domain"
	"github.com/betbot/bothost/internal/logstream"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

type Client struct {
	base   string
	client *resty.Client
}

func New(host string) *Client {
	host = strings.TrimRight(strings.TrimSpace(host), "/")

	// 只对连接错误重试（resty 默认条件），非 2xx 直接返回给调用方
	client := resty.New().
		SetBaseURL(host).
		SetTimeout(60 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		SetHeader("User-Agent", "botctl")

	return &Client{base: host, client: client}
}

// BotDetail GET /api/bots/:id 的返回
type BotDetail struct {
	domain.Bot
	Running bool `json:"running"`
}

// APIError 服务端返回的非 2xx 响应
type APIError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d", e.Status)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R()
	if ctx != nil {
		r.SetContext(ctx)
	}
	r.SetHeader("Accept", "application/json")
	return r
}

func checkResponse(resp *resty.Response, err error, what string) error {
	if err != nil {
		return errors.Wrap(err, what)
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	if jerr := json.Unmarshal(resp.Body(), apiErr); jerr != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return errors.WithMessage(apiErr, what)
}

func (c *Client) List(ctx context.Context) ([]domain.Bot, error) {
	var out []domain.Bot
	resp, err := c.newRequest(ctx).SetResult(&out).Get("/api/bots")
	if err := checkResponse(resp, err, "list bots"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, botID string) (*BotDetail, error) {
	var out BotDetail
	resp, err := c.newRequest(ctx).SetResult(&out).Get("/api/bots/" + url.PathEscape(botID))
	if err := checkResponse(resp, err, "get bot"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload sends the archive at path as the multipart field "bot".
func (c *Client) Upload(ctx context.Context, path string) (*domain.Bot, error) {
	var out domain.Bot
	resp, err := c.newRequest(ctx).
		SetFile("bot", path).
		SetResult(&out).
		Post("/api/bots/upload")
	if err := checkResponse(resp, err, "upload bot"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Start(ctx context.Context, botID string) (*domain.Bot, error) {
	return c.lifecycle(ctx, botID, "start")
}

func (c *Client) Stop(ctx context.Context, botID string) (*domain.Bot, error) {
	return c.lifecycle(ctx, botID, "stop")
}

func (c *Client) Restart(ctx context.Context, botID string) (*domain.Bot, error) {
	return c.lifecycle(ctx, botID, "restart")
}

func (c *Client) lifecycle(ctx context.Context, botID, action string) (*domain.Bot, error) {
	var out domain.Bot
	resp, err := c.newRequest(ctx).SetResult(&out).Post("/api/bots/" + url.PathEscape(botID) + "/" + action)
	if err := checkResponse(resp, err, action+" bot"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, botID string) error {
	resp, err := c.newRequest(ctx).Delete("/api/bots/" + url.PathEscape(botID))
	return checkResponse(resp, err, "delete bot")
}

// Logs returns the in-memory buffer of the bot's current process.
func (c *Client) Logs(ctx context.Context, botID string) ([]logstream.Line, error) {
	var out []logstream.Line
	resp, err := c.newRequest(ctx).SetResult(&out).Get("/api/bots/" + url.PathEscape(botID) + "/logs")
	if err := checkResponse(resp, err, "get logs"); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns the last tail lines of the bot's archived log file.
func (c *Client) History(ctx context.Context, botID string, tail int) ([]string, error) {
	var out struct {
		Lines []string `json:"lines"`
	}
	r := c.newRequest(ctx).SetResult(&out)
	if tail > 0 {
		r.SetQueryParam("tail", strconv.Itoa(tail))
	}
	resp, err := r.Get("/api/bots/" + url.PathEscape(botID) + "/logs/history")
	if err := checkResponse(resp, err, "get log history"); err != nil {
		return nil, err
	}
	return out.Lines, nil
}

// Uptime returns the server uptime.
func (c *Client) Uptime(ctx context.Context) (time.Duration, error) {
	var out struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptime"`
	}
	resp, err := c.newRequest(ctx).SetResult(&out).Get("/uptime")
	if err := checkResponse(resp, err, "uptime"); err != nil {
		return 0, err
	}
	return time.Duration(out.Uptime * float64(time.Second)), nil
}
