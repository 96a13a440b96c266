package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"codeberg.org/mutker/smartrefresh/internal/errors"
	"github.com/tidwall/gjson"
)

const DefaultClientTimeout = 5 * time.Second

// Client sends one command per connection.
type Client struct {
	path    string
	timeout time.Duration
}

func NewClient(path string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{path: path, timeout: timeout}
}

// Call sends command with params and returns the raw response line. A
// response with success=false is returned together with an error carrying
// the daemon's message.
func (c *Client) Call(ctx context.Context, command string, params map[string]any) ([]byte, error) {
	errFactory := errors.New()

	req := make(map[string]any, len(params)+1)
	for k, v := range params {
		req[k] = v
	}
	req["command"] = command

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errFactory.Wrap(ErrInvalidRequest, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", c.path)
	if err != nil {
		return nil, errFactory.Wrap(ErrDial, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, errFactory.Wrap(ErrDial, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, errFactory.Wrap(ErrBadResponse, err)
	}
	if !gjson.ValidBytes(line) {
		return nil, errFactory.WithData(ErrBadResponse, string(line))
	}

	resp := gjson.ParseBytes(line)
	if !resp.Get("success").Bool() {
		return line, errFactory.WithMessage(ErrCommandFailed, resp.Get("error").String())
	}

	return line, nil
}
