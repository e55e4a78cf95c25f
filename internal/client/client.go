// Package client attaches a process to a change server.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zot/hotmod/internal/config"
	"github.com/zot/hotmod/internal/protocol"
)

// Handler receives every message read from the server, in order.
type Handler func(msg protocol.Message)

// Client receives change notifications over a websocket.
type Client struct {
	config  *config.Config
	url     string
	handler Handler
	dialer  *websocket.Dialer
	// RetryDelay is the pause before redialing a lost connection.
	RetryDelay time.Duration
}

// New creates a client for the configured server URL.
func New(cfg *config.Config, handler Handler) *Client {
	return &Client{
		config:     cfg,
		url:        cfg.ClientURL(),
		handler:    handler,
		dialer:     websocket.DefaultDialer,
		RetryDelay: time.Second,
	}
}

// URL returns the server URL.
func (c *Client) URL() string {
	return c.url
}

// Run connects and delivers messages until ctx is done, redialing after
// every disconnect. It returns nil when ctx ends.
func (c *Client) Run(ctx context.Context) error {
	if !c.config.Transport.ClientEnabled {
		c.config.Log(1, "Reload client disabled")
		<-ctx.Done()
		return nil
	}
	for {
		err := c.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.config.Log(0, "Reload server closed: %v", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.RetryDelay):
		}
	}
}

// RunOnce connects and reads until the connection or ctx ends.
func (c *Client) RunOnce(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	c.config.Log(1, "Reload client connected to %s", c.url)

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.config.Log(0, "Reload client: %v", err)
			continue
		}
		c.config.Log(2, "[IN] %s", msg.Type)
		c.handler(msg)
	}
}
