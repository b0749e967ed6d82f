// Package remote streams camera frames to a livesense server and collects
// the analysis results.
package remote

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/dudu/livesense/internal/log"
	"github.com/dudu/livesense/internal/server"
)

// reply is either a frame result or an error report
type reply struct {
	server.FrameDTO
	Error string `json:"error"`
}

// Client is a reconnecting stream client. Frames pushed to InputFrames are
// JPEG-encoded and sent; results arrive on OutputResult. Both channels drop
// rather than block when full.
type Client struct {
	serverURL string

	InputFrames  chan image.Image
	OutputResult chan server.FrameDTO

	RetryDelay  time.Duration
	JPEGQuality int

	wg  sync.WaitGroup
	log *logrus.Entry
}

// NewClient targets the stream endpoint of host ("addr:port")
func NewClient(host string) *Client {
	u := url.URL{Scheme: "ws", Host: host, Path: "/v1/stream"}
	return NewClientURL(u.String())
}

// NewClientURL targets a full websocket URL
func NewClientURL(serverURL string) *Client {
	return &Client{
		serverURL:    serverURL,
		InputFrames:  make(chan image.Image, 5),
		OutputResult: make(chan server.FrameDTO, 5),
		RetryDelay:   2 * time.Second,
		JPEGQuality:  85,
		log:          log.WithComponent("remote"),
	}
}

// URL is the stream endpoint
func (c *Client) URL() string {
	return c.serverURL
}

// Start runs the connection loop until ctx is cancelled
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runLoop(ctx)
	}()
}

// Wait blocks until the loop has exited
func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) runLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		c.log.Infof("connecting to %s", c.serverURL)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.serverURL, nil)
		if err != nil {
			c.log.Warnf("connection failed: %v. retrying in %s", err, c.RetryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.RetryDelay):
			}
			continue
		}

		c.log.Info("connected to analysis server")
		err = c.session(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Warnf("connection lost: %v", err)
	}
}

// session pumps frames over one connection until either direction fails
func (c *Client) session(ctx context.Context, conn *websocket.Conn) error {
	errChan := make(chan error, 2)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				errChan <- ctx.Err()
				return
			case <-done:
				return
			case img := <-c.InputFrames:
				var buf bytes.Buffer
				if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.JPEGQuality}); err != nil {
					c.log.Warnf("JPEG encode error: %v", err)
					continue
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
					errChan <- err
					return
				}
			}
		}
	}()

	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				errChan <- err
				return
			}

			var r reply
			if err := jsoniter.Unmarshal(message, &r); err != nil {
				c.log.Warnf("JSON decode error: %v", err)
				continue
			}
			if r.Error != "" {
				c.log.Warnf("server rejected frame: %s", r.Error)
				continue
			}

			select {
			case c.OutputResult <- r.FrameDTO:
			default:
			}
		}
	}()

	return <-errChan
}
