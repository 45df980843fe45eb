// Package remote 访问远端排行榜服务：提交成绩、拉取榜单
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"slaparena/syncq"
)

const (
	ScorePath       = "/api/score"
	LeaderboardPath = "/api/leaderboard"

	// IdempotencyHeader 同一条同步项重试时保持不变
	IdempotencyHeader = "Idempotency-Key"
)

// ErrNoBaseURL 未配置远端地址（离线运行）
var ErrNoBaseURL = errors.New("remote: base url not configured")

// StatusError 非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: unexpected status %d: %s", e.Code, e.Body)
}

// Temporary 5xx 与 429 值得重试
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Is 其余状态码视为远端拒绝，同步队列不再重试
func (e *StatusError) Is(target error) bool {
	return target == syncq.ErrRejected && !e.Temporary()
}

// Client 远端 HTTP 客户端
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// SubmitScore 提交一条成绩同步项，item.ID 作为幂等键
func (c *Client) SubmitScore(ctx context.Context, item syncq.Item) error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+ScorePath, bytes.NewReader(item.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, item.IdempotencyKey())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("submit score: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Handler 注册到同步队列
func (c *Client) Handler() syncq.Handler {
	return syncq.HandlerFunc(c.SubmitScore)
}

type leaderboardResponse struct {
	Entries []map[string]any `json:"entries"`
}

// FetchLeaderboard 拉取远端原始条目，由调用方逐条校验
func (c *Client) FetchLeaderboard(ctx context.Context) ([]map[string]any, error) {
	if c.BaseURL == "" {
		return nil, ErrNoBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+LeaderboardPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch leaderboard: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, statusError(resp)
	}
	var body leaderboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	return body.Entries, nil
}

func statusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
