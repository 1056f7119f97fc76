package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

// Client talks to a server over one persistent connection. Calls are
// serialized, so responses always pair with their commands.
type Client struct {
	addr    string
	timeout time.Duration
	nextID  atomic.Uint64

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewClient creates a client for addr. The connection is opened on the
// first call.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

// Ping reports whether a server answers at the client's address.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, ActionPing, nil, nil)
}

// Call sends one command and decodes the response data into out, which
// may be nil. A failed response is returned as a *errors.CSError carrying
// the server's code.
func (c *Client) Call(ctx context.Context, action string, params, out any) error {
	cmd := Command{
		ID:     strconv.FormatUint(c.nextID.Add(1), 10),
		Action: action,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.New(errors.ErrCodeInvalidParams, "encode params", err)
		}
		cmd.Params = raw
	}

	resp, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return err
	}
	if !resp.Success {
		msg := "request failed"
		if resp.Error != nil {
			msg = *resp.Error
		}
		code := resp.Code
		if code == "" {
			code = errors.ErrCodeInternal
		}
		return errors.New(code, msg, nil)
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return errors.New(errors.ErrCodeConnection, "decode response data", err)
	}
	return nil
}

// rawResponse is a Response with the data left undecoded.
type rawResponse struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *string         `json:"error"`
	Code    string          `json:"code"`
}

func (c *Client) roundTrip(ctx context.Context, cmd Command) (*rawResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(d)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.InternalError("encode command", err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		c.reset()
		return nil, errors.New(errors.ErrCodeConnection, "send command", err)
	}
	data, err := c.reader.ReadBytes('\n')
	if err != nil {
		c.reset()
		return nil, errors.New(errors.ErrCodeConnection, "read response", err)
	}

	var resp rawResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.reset()
		return nil, errors.New(errors.ErrCodeConnection, "decode response", err)
	}
	if resp.ID != cmd.ID {
		c.reset()
		return nil, errors.New(errors.ErrCodeConnection,
			fmt.Sprintf("response id %q does not match command %q", resp.ID, cmd.ID), nil)
	}
	return &resp, nil
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return errors.New(errors.ErrCodeConnection, "connect to "+c.addr, err).
			WithSuggestion("start the server with 'codesearch serve'")
	}
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, 64*1024)
	return nil
}

func (c *Client) reset() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}
