package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/example/campus-reservation/internal/protocol"
)

// Client is a simple frame client for the routing bus. It holds one
// connection and issues one request frame at a time; it is not safe for
// concurrent use.
type Client struct {
	conn net.Conn
}

// Dial connects to a bus server.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial bus: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Call sends one request frame and reads the response frame. The response
// service identifier is returned alongside the payload: error frames for
// malformed requests come back under "error" instead of the requested
// service.
func (c *Client) Call(ctx context.Context, service string, value any) (string, json.RawMessage, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return "", nil, fmt.Errorf("set deadline: %w", err)
		}
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}

	if err := protocol.WriteFrame(c.conn, service, value); err != nil {
		return "", nil, fmt.Errorf("write frame: %w", err)
	}
	respService, payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return "", nil, fmt.Errorf("read frame: %w", err)
	}
	return respService, payload, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
