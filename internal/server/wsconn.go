package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicelane/narrator/internal/relay"
)

const writeTimeout = 10 * time.Second

// wsClient adapts a WebSocket connection to relay.ClientConn. A read pump
// delivers the opening request and then keeps reading so that a client
// disconnect is noticed even while the relay is only writing.
type wsClient struct {
	conn   *websocket.Conn
	logger *slog.Logger

	reqCh chan openingRequest
	done  chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, logger *slog.Logger) *wsClient {
	c := &wsClient{
		conn:   conn,
		logger: logger,
		reqCh:  make(chan openingRequest, 1),
		done:   make(chan struct{}),
	}
	go c.readPump()
	return c
}

// openingRequest carries the first client message, parsed or not. A parse
// failure is delivered rather than dropped so the session can answer with a
// structured error before closing.
type openingRequest struct {
	req *relay.StreamRequest
	err error
}

func (c *wsClient) readPump() {
	defer close(c.done)
	first := true
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("client read ended", slog.String("error", err.Error()))
			}
			return
		}
		if !first {
			// The protocol has no client messages after the opening
			// request; ignore extras rather than tearing down.
			continue
		}
		first = false

		var req relay.StreamRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.Debug("malformed client request", slog.String("error", err.Error()))
			c.reqCh <- openingRequest{err: fmt.Errorf("malformed request: %w", err)}
			continue
		}
		c.reqCh <- openingRequest{req: &req}
	}
}

func (c *wsClient) ReadRequest(ctx context.Context) (*relay.StreamRequest, error) {
	select {
	case opening := <-c.reqCh:
		return opening.req, opening.err
	case <-c.done:
		return nil, errors.New("client closed before sending a request")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *wsClient) Send(msg relay.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsClient) Done() <-chan struct{} { return c.done }

func (c *wsClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

var _ relay.ClientConn = (*wsClient)(nil)
