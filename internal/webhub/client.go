package webhub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"

	"github.com/vinayprograms/agent/internal/eventbus"
)

// writeTimeout bounds a single event write so one slow/dead client can't
// block the broadcast loop.
const writeTimeout = 5 * time.Second

// Client adapts a *websocket.Conn to the Hub's Sender interface.
type Client struct {
	conn *websocket.Conn
}

// NewClient wraps conn for use with Hub.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn}
}

// Send marshals event as JSON and writes it as a single text message.
func (c *Client) Send(event eventbus.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, payload)
}

// Close closes the underlying connection with the given status code and
// reason.
func (c *Client) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
