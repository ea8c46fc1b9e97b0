package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Client talks to the chgd daemon over its unix socket.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// NewClient is a constructor for creating a new Client
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					conn, err := d.DialContext(ctx, "unix", socketPath)
					if err != nil {
						if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
							return nil, ErrDaemonNotRunning
						}
						if errors.Is(err, fs.ErrPermission) {
							return nil, ErrPermissionDenied
						}
						logrus.Errorf("failed to connect to unix socket: %v", err)
						return nil, err
					}
					return conn, err
				},
			},
		},
	}
}

// Do sends a request and returns the response once it is known to be a
// success. The caller closes the body.
func (c *Client) Do(ctx context.Context, method string, path string, data string) (*http.Response, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"unix":   c.socketPath,
	}).Debug("sending request")

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("got %d: %s", resp.StatusCode, string(b))
	}

	return resp, nil
}

// Send is a method for sending a request to the chgd daemon
func (c *Client) Send(method string, path string, data string) (string, error) {
	resp, err := c.Do(context.Background(), method, path, data)
	if err != nil {
		return "", err
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	return string(b), nil
}

// Get is a method for sending a GET request to the chgd daemon
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

// Put is a method for sending a PUT request to the chgd daemon
func (c *Client) Put(path string, data string) (string, error) {
	return c.Send(http.MethodPut, path, data)
}

func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}

func (c *Client) Delete(path string) (string, error) {
	return c.Send(http.MethodDelete, path, "")
}
