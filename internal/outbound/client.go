package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"alertdesk/internal/dedup"
)

// RequestError is returned for any failed backend call. Message carries the
// server's message when it sent one.
type RequestError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RequestError) Unwrap() error { return e.Err }

type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
}

type Observer interface {
	RequestFailed(op string)
}

type Client struct {
	http     *resty.Client
	group    *dedup.Group
	logger   *slog.Logger
	observer Observer
}

func NewClient(baseURL, token string, timeout time.Duration, group *dedup.Group, logger *slog.Logger, observer Observer) *Client {
	if group == nil {
		group = dedup.New(nil)
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{http: client, group: group, logger: logger, observer: observer}
}

func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

type Notification struct {
	Type       string         `json:"type,omitempty"`
	Title      string         `json:"title"`
	Message    string         `json:"message,omitempty"`
	Severity   string         `json:"severity,omitempty"`
	Recipients any            `json:"recipients,omitempty"`
	SendEmail  bool           `json:"sendEmail"`
	SendInApp  bool           `json:"sendInApp"`
	SendSMS    bool           `json:"sendSMS,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func withSender(n Notification, sender string, extra map[string]any) Notification {
	md := map[string]any{"sentBy": sender}
	for k, v := range extra {
		md[k] = v
	}
	for k, v := range n.Metadata {
		md[k] = v
	}
	n.Metadata = md
	return n
}

func (c *Client) SendNotification(ctx context.Context, n Notification) (*Result, error) {
	return c.do(ctx, "send notification", http.MethodPost, "/notifications/send", withSender(n, "admin", nil), nil)
}

func (c *Client) SendBulk(ctx context.Context, ns []Notification) (*Result, error) {
	out := make([]Notification, 0, len(ns))
	for _, n := range ns {
		out = append(out, withSender(n, "admin", nil))
	}
	body := map[string]any{"notifications": out}
	return c.do(ctx, "send bulk notifications", http.MethodPost, "/notifications/bulk", body, nil)
}

func (c *Client) SendEmergency(ctx context.Context, n Notification) (*Result, error) {
	if n.Title == "" {
		n.Title = "Emergency Alert"
	}
	n.Severity = "critical"
	n.Recipients = "all"
	n.SendEmail, n.SendInApp, n.SendSMS = true, true, true
	n = withSender(n, "admin", map[string]any{"alertType": "emergency"})
	return c.do(ctx, "send emergency alert", http.MethodPost, "/notifications/emergency", n, nil)
}

type HistoryFilter struct {
	Page     int
	Limit    int
	Type     string
	Severity string
	DateFrom time.Time
	DateTo   time.Time
	SentBy   string
}

func (f HistoryFilter) values() url.Values {
	q := url.Values{}
	page, limit := f.Page, f.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if f.Type != "" {
		q.Set("type", f.Type)
	}
	if f.Severity != "" {
		q.Set("severity", f.Severity)
	}
	if !f.DateFrom.IsZero() {
		q.Set("dateFrom", f.DateFrom.UTC().Format(time.RFC3339))
	}
	if !f.DateTo.IsZero() {
		q.Set("dateTo", f.DateTo.UTC().Format(time.RFC3339))
	}
	if f.SentBy != "" {
		q.Set("sentBy", f.SentBy)
	}
	return q
}

func (c *Client) History(ctx context.Context, f HistoryFilter) (*Result, error) {
	return c.do(ctx, "fetch notification history", http.MethodGet, "/notifications/history", nil, f.values())
}

func (c *Client) Stats(ctx context.Context, timeRange string) (*Result, error) {
	if timeRange == "" {
		timeRange = "7d"
	}
	q := url.Values{"timeRange": {timeRange}}
	return c.do(ctx, "fetch notification stats", http.MethodGet, "/notifications/stats", nil, q)
}

func (c *Client) Preferences(ctx context.Context, userID string) (*Result, error) {
	path := "/users/" + url.PathEscape(userID) + "/notification-preferences"
	return c.do(ctx, "fetch notification preferences", http.MethodGet, path, nil, nil)
}

func (c *Client) UpdatePreferences(ctx context.Context, userID string, prefs map[string]any) (*Result, error) {
	path := "/users/" + url.PathEscape(userID) + "/notification-preferences"
	return c.do(ctx, "update notification preferences", http.MethodPut, path, prefs, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, query url.Values) (*Result, error) {
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	v, shared, err := c.group.Do(ctx, method, target, body, func(ctx context.Context) (any, error) {
		return c.execute(ctx, op, method, path, body, query)
	})
	if err != nil {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			err = &RequestError{Op: op, Message: err.Error(), Err: err}
		}
		if c.observer != nil {
			c.observer.RequestFailed(op)
		}
		return nil, err
	}
	if shared && c.logger != nil {
		c.logger.Debug("outbound request deduplicated", "op", op, "path", path)
	}
	return v.(*Result), nil
}

func (c *Client) execute(ctx context.Context, op, method, path string, body any, query url.Values) (*Result, error) {
	var res Result
	var apiErr apiError
	req := c.http.R().
		SetContext(ctx).
		SetResult(&res).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if len(query) > 0 {
		req.SetQueryParamsFromValues(query)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("outbound request failed", "op", op, "error", err)
		}
		return nil, &RequestError{Op: op, Message: "failed to " + op, Err: err}
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = "failed to " + op
		}
		if c.logger != nil {
			c.logger.Warn("outbound request rejected", "op", op, "status", resp.StatusCode(), "message", msg)
		}
		return nil, &RequestError{Op: op, Status: resp.StatusCode(), Message: msg}
	}
	return &res, nil
}
