// Package transport implements the client side of the stream protocol:
// a websocket connection to the event server, fixed-window backfill,
// and the Open-Spaces Subscription Manager that keeps a personal
// stream's visible spaces subscribed.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"roomy.chat/model"
	"roomy.chat/sid"
)

// RawEvent is one event as the transport receives or sends it, before
// wire.Decode turns its Payload into a typed Event.
type RawEvent struct {
	Idx     uint64
	User    model.UserDid
	Payload []byte
}

// StreamClient is every operation the bridge and the backfill/subscribe
// loop need against the event server.
type StreamClient interface {
	CreateStreamFromModuleURL(ctx context.Context, ulid sid.ID, moduleID, moduleURL string, params map[string]any) (model.StreamID, error)
	Subscribe(ctx context.Context, stream model.StreamID) error
	Unsubscribe(ctx context.Context, stream model.StreamID) error
	FetchEvents(ctx context.Context, stream model.StreamID, offset uint64, limit int) ([]RawEvent, error)
	SendEvent(ctx context.Context, stream model.StreamID, payload []byte) error
	SendEvents(ctx context.Context, stream model.StreamID, payloads [][]byte) error
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// MethodTimeout is the default per-method RPC deadline; callers
	// needing longer (e.g. a lazy-load fetchEvents window) pass their
	// own context deadline instead.
	MethodTimeout = 5 * time.Second
)

// rpcRequest/rpcResponse are the client<->server envelope for
// request/response correlated calls over the same socket that also
// carries server-initiated push events.
type rpcRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// pushEvent is a server-initiated {stream, idx, user, payload} message,
// delivered outside the request/response correlation.
type pushEvent struct {
	Stream  model.StreamID `json:"stream"`
	Idx     uint64         `json:"idx"`
	User    model.UserDid  `json:"user"`
	Payload []byte         `json:"payload"`
}

// WSClient is a StreamClient backed by a single long-lived websocket
// connection; reconnecting transparently isn't attempted here — the
// caller (Backfiller/SubscriptionManager) treats a dead connection as
// a "re-subscribe everything on reconnect or wake" backfill trigger.
type WSClient struct {
	conn       *websocket.Conn
	serviceTok string

	mu      sync.Mutex
	pending map[string]chan rpcResponse
	seq     atomic.Uint64

	// Live pushes out of backfill order are appended here; the caller
	// pumps them into its own per-stream event_channel.
	Pushes chan RawEventEnvelope
}

// RawEventEnvelope pairs a RawEvent with which stream it arrived for,
// the push-side counterpart of FetchEvents' per-stream return.
type RawEventEnvelope struct {
	Stream model.StreamID
	Event  RawEvent
}

// Dial opens a websocket to addr, authenticating with a short-lived
// service token (aud = did:web:<host>), and starts the
// read pump that demultiplexes RPC responses from server-initiated
// pushes.
func Dial(ctx context.Context, addr, serviceToken string) (*WSClient, error) {
	header := map[string][]string{
		"Sec-WebSocket-Protocol": {"bearer." + serviceToken},
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	c := &WSClient{
		conn:       conn,
		serviceTok: serviceToken,
		pending:    make(map[string]chan rpcResponse),
		Pushes:     make(chan RawEventEnvelope, 256),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	defer close(c.Pushes)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.failAllPending(err)
			return
		}

		var probe struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(msg, &probe) == nil && probe.ID != "" {
			var resp rpcResponse
			if err := json.Unmarshal(msg, &resp); err == nil {
				c.mu.Lock()
				ch, ok := c.pending[resp.ID]
				delete(c.pending, resp.ID)
				c.mu.Unlock()
				if ok {
					ch <- resp
				}
				continue
			}
		}

		var push pushEvent
		if err := json.Unmarshal(msg, &push); err != nil {
			continue
		}
		c.Pushes <- RawEventEnvelope{Stream: push.Stream, Event: RawEvent{Idx: push.Idx, User: push.User, Payload: push.Payload}}
	}
}

func (c *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}

func (c *WSClient) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResponse{ID: id, Error: err.Error()}
		delete(c.pending, id)
	}
}

// call issues one correlated RPC and waits for its response or ctx.
func (c *WSClient) call(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, MethodTimeout)
	defer cancel()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	id := fmt.Sprintf("%d", c.seq.Add(1))
	req := rpcRequest{ID: id, Method: method, Params: paramsJSON}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return fmt.Errorf("transport: %s: %s", method, resp.Error)
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	case <-ctx.Done():
		// A timeout resolves the call with a cancellation error but
		// never aborts the peer-side work, so one slow bundle never blocks the next.
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *WSClient) CreateStreamFromModuleURL(ctx context.Context, ulid sid.ID, moduleID, moduleURL string, params map[string]any) (model.StreamID, error) {
	var out struct {
		StreamID model.StreamID `json:"stream_id"`
	}
	err := c.call(ctx, "createStreamFromModuleUrl", map[string]any{
		"ulid": ulid.String(), "module_id": moduleID, "module_url": moduleURL, "params": params,
	}, &out)
	return out.StreamID, err
}

func (c *WSClient) Subscribe(ctx context.Context, stream model.StreamID) error {
	return c.call(ctx, "subscribe", map[string]any{"stream_id": stream}, nil)
}

func (c *WSClient) Unsubscribe(ctx context.Context, stream model.StreamID) error {
	return c.call(ctx, "unsubscribe", map[string]any{"stream_id": stream}, nil)
}

func (c *WSClient) FetchEvents(ctx context.Context, stream model.StreamID, offset uint64, limit int) ([]RawEvent, error) {
	var out []RawEvent
	err := c.call(ctx, "fetchEvents", map[string]any{
		"stream_id": stream, "offset": offset, "limit": limit,
	}, &out)
	return out, err
}

func (c *WSClient) SendEvent(ctx context.Context, stream model.StreamID, payload []byte) error {
	return c.call(ctx, "sendEvent", map[string]any{"stream_id": stream, "payload": payload}, nil)
}

func (c *WSClient) SendEvents(ctx context.Context, stream model.StreamID, payloads [][]byte) error {
	return c.call(ctx, "sendEvents", map[string]any{"stream_id": stream, "payloads": payloads}, nil)
}

// Close tears down the underlying connection.
func (c *WSClient) Close() error {
	return c.conn.Close()
}
