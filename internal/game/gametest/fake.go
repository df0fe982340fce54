// Package gametest provides an in-memory game.Client and game.Dialer for
// driving supervisors from tests.
package gametest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/yegors/afkfleet/internal/game"
)

// Action is one recorded client call
type Action struct {
	Name string
	Arg  string
}

func (a Action) String() string {
	if a.Arg == "" {
		return a.Name
	}
	return a.Name + ":" + a.Arg
}

// Client is a scripted game.Client. Its exported hooks may be set before the
// client is handed to the code under test.
type Client struct {
	mu        sync.Mutex
	username  string
	food      int
	health    float64
	position  game.Vec3
	inventory []game.Item
	entities  []game.Entity
	blocks    []game.Block
	controls  map[string]bool
	held      string
	closed    bool
	handler   game.Handler
	actions   []Action

	// ConsumeErr, when set, is returned by Consume instead of eating
	ConsumeErr error
	// FoodPerItem is added to the food level by a successful Consume
	FoodPerItem int
	// OnConsume runs at the start of each Consume, outside the client lock
	OnConsume func(c *Client)
	// OnDig runs after each successful DigBlock, outside the client lock
	OnDig func(c *Client, pos game.Vec3)
	// OnControl runs after each SetControlState, outside the client lock
	OnControl func(c *Client, control string, state bool)
}

// NewClient returns a connected client with full vitals at the origin
func NewClient(username string) *Client {
	return &Client{
		username:    username,
		food:        20,
		health:      20,
		controls:    make(map[string]bool),
		FoodPerItem: 6,
	}
}

// Emit delivers ev to the registered handler synchronously
func (c *Client) Emit(ev game.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func (c *Client) record(name, arg string) {
	c.actions = append(c.actions, Action{Name: name, Arg: arg})
}

// Actions returns a copy of the recorded calls
func (c *Client) Actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.actions...)
}

// Count returns how many recorded calls have the given name
func (c *Client) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, a := range c.actions {
		if a.Name == name {
			n++
		}
	}
	return n
}

// Closed reports whether Disconnect was called
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Control reports the current state of a control
func (c *Client) Control(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controls[name]
}

func (c *Client) SetFood(food int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.food = food
}

func (c *Client) SetPosition(pos game.Vec3) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = pos
}

func (c *Client) SetInventory(items ...game.Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inventory = append([]game.Item(nil), items...)
}

func (c *Client) SetEntities(entities ...game.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = append([]game.Entity(nil), entities...)
}

func (c *Client) SetBlocks(blocks ...game.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append([]game.Block(nil), blocks...)
}

// Blocks returns the blocks not yet dug
func (c *Client) Blocks() []game.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]game.Block(nil), c.blocks...)
}

func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

func (c *Client) Food() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.food
}

func (c *Client) Health() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *Client) Position() game.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Client) Inventory() []game.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]game.Item(nil), c.inventory...)
}

func (c *Client) Entities() []game.Entity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]game.Entity(nil), c.entities...)
}

func (c *Client) SetControlState(ctx context.Context, control string, state bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return game.ErrNotConnected
	}
	c.controls[control] = state
	c.record("control", fmt.Sprintf("%s=%t", control, state))
	hook := c.OnControl
	c.mu.Unlock()
	if hook != nil {
		hook(c, control, state)
	}
	return nil
}

func (c *Client) Equip(ctx context.Context, item game.Item, hand game.Hand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return game.ErrNotConnected
	}
	if c.find(item.Name) < 0 {
		return game.ErrNoItem
	}
	c.held = item.Name
	c.record("equip", item.Name)
	return nil
}

func (c *Client) Consume(ctx context.Context) error {
	c.mu.Lock()
	hook := c.OnConsume
	c.mu.Unlock()
	if hook != nil {
		hook(c)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return game.ErrNotConnected
	}
	c.record("consume", c.held)
	if c.ConsumeErr != nil {
		return c.ConsumeErr
	}
	i := c.find(c.held)
	if i < 0 {
		return game.ErrNoItem
	}
	c.inventory[i].Count--
	if c.inventory[i].Count <= 0 {
		c.inventory = append(c.inventory[:i], c.inventory[i+1:]...)
		c.held = ""
	}
	c.food = min(20, c.food+c.FoodPerItem)
	return nil
}

func (c *Client) Chat(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return game.ErrNotConnected
	}
	c.record("chat", text)
	return nil
}

func (c *Client) LookAt(ctx context.Context, pos game.Vec3) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return game.ErrNotConnected
	}
	c.record("look", fmt.Sprintf("%g,%g,%g", pos.X, pos.Y, pos.Z))
	return nil
}

func (c *Client) FindBlocks(ctx context.Context, names []string, maxDistance float64, limit int) ([]game.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, game.ErrNotConnected
	}
	c.record("find", strings.Join(names, ","))
	var out []game.Block
	for _, b := range c.blocks {
		if len(out) >= limit {
			break
		}
		if !contains(names, b.Name) || b.Position.DistanceTo(c.position) > maxDistance {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (c *Client) DigBlock(ctx context.Context, pos game.Vec3) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return game.ErrNotConnected
	}
	c.record("dig", fmt.Sprintf("%g,%g,%g", pos.X, pos.Y, pos.Z))
	for i, b := range c.blocks {
		if b.Position == pos {
			c.blocks = append(c.blocks[:i], c.blocks[i+1:]...)
			break
		}
	}
	hook := c.OnDig
	c.mu.Unlock()
	if hook != nil {
		hook(c, pos)
	}
	return nil
}

func (c *Client) Toss(ctx context.Context, item game.Item, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return game.ErrNotConnected
	}
	for i, it := range c.inventory {
		if it.Slot != item.Slot || it.Name != item.Name {
			continue
		}
		c.record("toss", fmt.Sprintf("%s x%d", item.Name, count))
		c.inventory[i].Count -= count
		if c.inventory[i].Count <= 0 {
			c.inventory = append(c.inventory[:i], c.inventory[i+1:]...)
		}
		return nil
	}
	return game.ErrNoItem
}

// Disconnect marks the client closed. Like a real connection it does not
// call the handler synchronously; tests emit Disconnected themselves.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("disconnect", reason)
	c.closed = true
}

func (c *Client) find(name string) int {
	for i, it := range c.inventory {
		if it.Name == name && it.Count > 0 {
			return i
		}
	}
	return -1
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Dialer hands out scripted clients and remembers each dial
type Dialer struct {
	mu      sync.Mutex
	clients []*Client
	opts    []game.ConnectOptions

	// Err, when set, fails every Dial
	Err error
	// Setup, when set, prepares each new client before it is returned
	Setup func(c *Client)
}

func (d *Dialer) Dial(ctx context.Context, opts game.ConnectOptions, handler game.Handler) (game.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts = append(d.opts, opts)
	if d.Err != nil {
		return nil, d.Err
	}
	c := NewClient(opts.Identity)
	c.handler = handler
	if d.Setup != nil {
		d.Setup(c)
	}
	d.clients = append(d.clients, c)
	return c, nil
}

// Dials returns how many times Dial was called
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opts)
}

// Options returns the options of every Dial call
func (d *Dialer) Options() []game.ConnectOptions {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]game.ConnectOptions(nil), d.opts...)
}

// Last returns the most recently dialed client, or nil
func (d *Dialer) Last() *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}
