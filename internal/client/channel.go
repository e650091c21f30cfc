package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Perfect-Match-Org/PMTI/internal/protocol"

	"github.com/gorilla/websocket"
)

const subscribeTimeout = 10 * time.Second

// ChannelHandler receives channel traffic. OnClose is called once when the
// connection drops without Close having been called.
type ChannelHandler struct {
	OnMessage func(protocol.Message)
	OnClose   func(error)
}

// Channel is a live subscription to one survey topic.
type Channel interface {
	Send(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Dialer opens a channel and returns once the subscription is acknowledged.
type Dialer interface {
	Dial(ctx context.Context, surveyID string, h ChannelHandler) (Channel, error)
}

type WSDialer struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
}

// NewWSDialer accepts an http(s) or ws(s) base URL.
func NewWSDialer(baseURL, token string) *WSDialer {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return &WSDialer{
		baseURL: base,
		token:   token,
		dialer:  &websocket.Dialer{HandshakeTimeout: subscribeTimeout},
	}
}

func (d *WSDialer) Dial(ctx context.Context, surveyID string, h ChannelHandler) (Channel, error) {
	u := d.baseURL + "/realtime/survey/" + url.PathEscape(surveyID) + "?access_token=" + url.QueryEscape(d.token)
	conn, resp, err := d.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, failureFromResponse(resp)
			}
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	deadline := time.Now().Add(subscribeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetReadDeadline(deadline)
	var ack protocol.Message
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("await subscription: %w", err)
	}
	if !ack.IsSubscribed() {
		conn.Close()
		return nil, fmt.Errorf("await subscription: unexpected %s/%s", ack.Type, ack.Event)
	}
	_ = conn.SetReadDeadline(time.Time{})

	ch := &wsChannel{conn: conn, done: make(chan struct{})}
	go ch.readLoop(h)
	return ch, nil
}

type wsChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsChannel) Send(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(subscribeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsChannel) readLoop(h ChannelHandler) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed() && h.OnClose != nil {
				if errors.Is(err, websocket.ErrCloseSent) {
					err = nil
				}
				h.OnClose(err)
			}
			return
		}
		var msg protocol.Message
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if h.OnMessage != nil {
			h.OnMessage(msg)
		}
	}
}
