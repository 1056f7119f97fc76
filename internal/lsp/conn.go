package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

var errConnClosed = errors.New("language server connection closed")

// conn is a JSON-RPC 2.0 connection framed with Content-Length headers.
// A reader goroutine routes responses to waiting calls and answers the
// few requests servers send to clients.
type conn struct {
	rwc    io.ReadWriteCloser
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan *message
	closed  bool
	done    chan struct{}
	err     error
}

func newConn(rwc io.ReadWriteCloser, logger *slog.Logger) *conn {
	c := &conn{
		rwc:     rwc,
		logger:  logger,
		pending: make(map[int64]chan *message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// call sends a request and decodes the result into out (which may be nil).
func (c *conn) call(ctx context.Context, method string, params, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan *message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return c.closeErr()
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	raw := json.RawMessage(strconv.FormatInt(id, 10))
	if err := c.send(&message{ID: &raw, Method: method}, params); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closeErr()
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
		return nil
	}
}

// notify sends a notification.
func (c *conn) notify(method string, params any) error {
	return c.send(&message{Method: method}, params)
}

func (c *conn) send(m *message, params any) error {
	m.JSONRPC = "2.0"
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", m.Method, err)
		}
		m.Params = p
	}
	body, err := json.Marshal(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.rwc, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	_, err = c.rwc.Write(body)
	return err
}

func (c *conn) readLoop() {
	r := bufio.NewReader(c.rwc)
	for {
		m, err := readMessage(r)
		if err != nil {
			c.shutdown(err)
			return
		}
		switch {
		case m.ID != nil && m.Method != "":
			c.answer(m)
		case m.ID != nil:
			id, err := strconv.ParseInt(string(*m.ID), 10, 64)
			if err != nil {
				continue
			}
			c.mu.Lock()
			ch := c.pending[id]
			c.mu.Unlock()
			if ch != nil {
				ch <- m
			}
		default:
			// Notifications (diagnostics, progress, logs) are not used.
		}
	}
}

// answer replies to a server-initiated request. Configuration requests get
// one null per item; everything else gets a null result.
func (c *conn) answer(req *message) {
	result := json.RawMessage("null")
	if req.Method == "workspace/configuration" {
		var p struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(req.Params, &p)
		nulls := make([]any, len(p.Items))
		result, _ = json.Marshal(nulls)
	}
	resp := &message{ID: req.ID, Result: result}
	if err := c.send(resp, nil); err != nil {
		c.logger.Debug("failed to answer server request",
			slog.String("method", req.Method),
			slog.String("error", err.Error()))
	}
}

func readMessage(r *bufio.Reader) (*message, error) {
	tp := textproto.NewReader(r)
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(header.Get("Content-Length")))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid Content-Length header %q", header.Get("Content-Length"))
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	var m message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

func (c *conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if err == nil || errors.Is(err, io.EOF) {
		err = errConnClosed
	}
	c.err = err
	close(c.done)
}

func (c *conn) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return errConnClosed
}

// close tears down the transport; the read loop then exits.
func (c *conn) close() error {
	err := c.rwc.Close()
	c.shutdown(nil)
	return err
}
