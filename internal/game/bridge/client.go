package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yegors/afkfleet/internal/game"
	"github.com/yegors/afkfleet/pkg/logger"
)

type response struct {
	result json.RawMessage
	err    error
}

// Client is one bridged game connection
type Client struct {
	opts         game.ConnectOptions
	writeTimeout time.Duration
	handler      game.Handler
	logger       *logger.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	closing  bool
	reason   string
	seq      uint64
	pending  map[uint64]chan response
	state    snapshot
	closedCh chan struct{}

	writeMu sync.Mutex
}

func newClient(opts game.ConnectOptions, writeTimeout time.Duration, handler game.Handler, log *logger.Logger) *Client {
	return &Client{
		opts:         opts,
		writeTimeout: writeTimeout,
		handler:      handler,
		logger:       log,
		pending:      make(map[uint64]chan response),
		state:        snapshot{Username: opts.Identity},
		closedCh:     make(chan struct{}),
	}
}

// run dials, sends the connect request and then reads until the socket
// closes. Every handler call happens on this goroutine.
func (c *Client) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, timeout time.Duration) {
	defer close(c.closedCh)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	conn, _, err := dialer.DialContext(dialCtx, url, header)
	cancel()
	if err != nil {
		c.logger.Warn("Failed to reach game bridge", logger.String("url", url), logger.Error(err))
		c.handler(game.Errored{Err: fmt.Errorf("bridge dial: %w", err)})
		c.handler(game.Disconnected{Reason: "bridge unreachable"})
		return
	}

	c.mu.Lock()
	if c.closing {
		reason := c.reason
		c.mu.Unlock()
		conn.Close()
		c.handler(game.Disconnected{Reason: reason})
		return
	}
	c.conn = conn
	c.mu.Unlock()

	// Tear the socket down when the connection context ends
	stopWatch := context.AfterFunc(ctx, func() { c.Disconnect("context canceled") })
	defer stopWatch()

	if err := c.write(request{Op: opConnect, Args: connectArgs{
		Username: c.opts.Identity,
		Auth:     c.opts.Auth,
		Host:     c.opts.Host,
		Port:     c.opts.Port,
		Version:  c.opts.Version,
	}}); err != nil {
		conn.Close()
		c.finish(fmt.Sprintf("connect request failed: %v", err))
		return
	}

	c.readLoop(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	reason := "connection closed"
	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = err.Error()
			}
			break
		}
		c.dispatch(msg)
	}
	conn.Close()
	c.finish(reason)
}

func (c *Client) dispatch(msg inbound) {
	switch msg.Type {
	case frameResponse:
		c.mu.Lock()
		ch, ok := c.pending[msg.Seq]
		delete(c.pending, msg.Seq)
		c.mu.Unlock()
		if !ok {
			return
		}
		var resp response
		if msg.OK {
			resp.result = msg.Result
		} else {
			resp.err = errors.New(msg.Error)
		}
		ch <- resp

	case frameState:
		if msg.State == nil {
			return
		}
		c.mu.Lock()
		st := *msg.State
		if st.Username == "" {
			st.Username = c.opts.Identity
		}
		c.state = st
		c.mu.Unlock()

	case frameEvent:
		switch msg.Event {
		case eventLogin:
			c.handler(game.Login{})
		case eventSpawn:
			var pos game.Vec3
			if msg.Position != nil {
				pos = *msg.Position
				c.mu.Lock()
				c.state.Position = pos
				c.mu.Unlock()
			} else {
				pos = c.Position()
			}
			c.handler(game.Spawn{Position: pos})
		case eventKicked:
			c.setReason(msg.Reason)
			c.handler(game.Kicked{Reason: msg.Reason})
		case eventError:
			c.handler(game.Errored{Err: errors.New(msg.Reason)})
		case eventChat:
			c.handler(game.ChatLine{Text: msg.Text})
		case eventEnd:
			c.setReason(msg.Reason)
		default:
			c.logger.Debug("Ignoring unknown bridge event", logger.String("event", msg.Event))
		}

	default:
		c.logger.Debug("Ignoring unknown bridge frame", logger.String("type", msg.Type))
	}
}

func (c *Client) setReason(reason string) {
	if reason == "" {
		return
	}
	c.mu.Lock()
	c.reason = reason
	c.mu.Unlock()
}

// finish fails every pending request and emits the final Disconnected
func (c *Client) finish(fallback string) {
	c.mu.Lock()
	c.closing = true
	c.conn = nil
	pending := c.pending
	c.pending = make(map[uint64]chan response)
	reason := c.reason
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- response{err: game.ErrNotConnected}
	}
	if reason == "" {
		reason = fallback
	}
	c.handler(game.Disconnected{Reason: reason})
}

func (c *Client) write(req request) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return game.ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return conn.WriteJSON(req)
}

// call sends one request and waits for its response
func (c *Client) call(ctx context.Context, op string, args any, result any) error {
	c.mu.Lock()
	if c.closing || c.conn == nil {
		c.mu.Unlock()
		return game.ErrNotConnected
	}
	c.seq++
	seq := c.seq
	ch := make(chan response, 1)
	c.pending[seq] = ch
	c.mu.Unlock()

	if err := c.write(request{Seq: seq, Op: op, Args: args}); err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}

	select {
	case resp := <-ch:
		if resp.err != nil {
			return fmt.Errorf("%s: %w", op, resp.err)
		}
		if result != nil && len(resp.result) > 0 {
			if err := json.Unmarshal(resp.result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", op, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return ctx.Err()
	}
}

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Username
}

func (c *Client) Food() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Food
}

func (c *Client) Health() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Health
}

func (c *Client) Position() game.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Position
}

func (c *Client) Inventory() []game.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.state.Inventory)
}

func (c *Client) Entities() []game.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.state.Entities)
}

func (c *Client) SetControlState(ctx context.Context, control string, state bool) error {
	return c.call(ctx, opControl, controlArgs{Control: control, State: state}, nil)
}

func (c *Client) Equip(ctx context.Context, item game.Item, hand game.Hand) error {
	return c.call(ctx, opEquip, equipArgs{Slot: item.Slot, Name: item.Name, Hand: hand}, nil)
}

func (c *Client) Consume(ctx context.Context) error {
	return c.call(ctx, opConsume, nil, nil)
}

func (c *Client) Chat(ctx context.Context, text string) error {
	return c.call(ctx, opChat, chatArgs{Text: text}, nil)
}

func (c *Client) LookAt(ctx context.Context, pos game.Vec3) error {
	return c.call(ctx, opLook, positionArgs{Position: pos}, nil)
}

func (c *Client) FindBlocks(ctx context.Context, names []string, maxDistance float64, limit int) ([]game.Block, error) {
	var res findBlocksResult
	err := c.call(ctx, opFindBlocks, findBlocksArgs{Names: names, MaxDistance: maxDistance, Limit: limit}, &res)
	return res.Blocks, err
}

func (c *Client) DigBlock(ctx context.Context, pos game.Vec3) error {
	return c.call(ctx, opDig, positionArgs{Position: pos}, nil)
}

func (c *Client) Toss(ctx context.Context, item game.Item, count int) error {
	return c.call(ctx, opToss, tossArgs{Slot: item.Slot, Name: item.Name, Count: count}, nil)
}

// Disconnect closes the bridge socket. It never blocks and never calls the
// handler itself; the read loop reports Disconnected once the socket is gone.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	if c.reason == "" {
		c.reason = reason
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// Still dialing; run closes the socket once it is up
		return
	}
	go func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		conn.Close()
	}()
}

// Done is closed after the final Disconnected event has been delivered
func (c *Client) Done() <-chan struct{} {
	return c.closedCh
}
