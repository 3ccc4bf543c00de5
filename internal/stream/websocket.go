package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"alertdesk/internal/model"
)

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// WebSocket dials a JSON envelope stream. The session token is sent as a
// bearer header and the user id as a query parameter.
type WebSocket struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewWebSocket(rawURL string) *WebSocket {
	return &WebSocket{URL: rawURL, Dialer: websocket.DefaultDialer}
}

func (w *WebSocket) Dial(ctx context.Context, s model.Session) (Conn, error) {
	u, err := url.Parse(w.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	if s.UserID != "" {
		q := u.Query()
		q.Set("userId", s.UserID)
		u.RawQuery = q.Encode()
	}
	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	writeMu sync.Mutex
	ws      *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) (model.Envelope, error) {
	stop := context.AfterFunc(ctx, func() {
		c.ws.SetReadDeadline(time.Now())
	})
	defer stop()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return model.Envelope{}, err
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			// Not an envelope; skip it rather than drop the connection.
			continue
		}
		env.ReceivedAt = time.Now().UTC()
		return env, nil
	}
}

func (c *wsConn) Write(ctx context.Context, event string, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteJSON(frame{Event: event, Data: payload})
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
