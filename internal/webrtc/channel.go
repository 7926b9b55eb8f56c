package webrtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var ErrChannelNotOpen = errors.New("data channel not open")

// Channel wraps a data channel. Frames go out as text so that browser peers
// receive strings, matching what they send.
type Channel struct {
	dc *webrtc.DataChannel

	mu        sync.Mutex
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
	openFired bool
	// early holds frames that arrived before OnMessage was set
	early [][]byte

	// deliver serializes message handler calls, so buffered frames reach
	// a new handler before any frame that arrives while they drain
	deliver sync.Mutex
}

// maxEarlyFrames bounds the frames held for a handler that is not set yet
const maxEarlyFrames = 64

func newChannel(dc *webrtc.DataChannel) *Channel {
	c := &Channel{dc: dc}

	dc.OnOpen(c.fireOpen)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.receive(msg.Data)
	})
	dc.OnClose(func() {
		c.mu.Lock()
		handler := c.onClose
		c.mu.Unlock()
		if handler != nil {
			handler()
		}
	})

	return c
}

func (c *Channel) fireOpen() {
	c.mu.Lock()
	if c.openFired || c.onOpen == nil {
		c.mu.Unlock()
		return
	}
	c.openFired = true
	handler := c.onOpen
	c.mu.Unlock()
	handler()
}

// OnOpen sets the open handler. A channel that opened before any handler was
// set delivers the event immediately. The event is delivered once.
func (c *Channel) OnOpen(handler func()) {
	c.mu.Lock()
	c.onOpen = handler
	c.mu.Unlock()

	if c.Ready() {
		c.fireOpen()
	}
}

// OnMessage sets the handler for incoming frames. Frames that arrived
// before any handler was set are delivered first, in order.
func (c *Channel) OnMessage(handler func([]byte)) {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	early := c.early
	c.early = nil
	c.onMessage = handler
	c.mu.Unlock()

	if handler == nil {
		return
	}
	for _, data := range early {
		handler(data)
	}
}

// receive hands one inbound frame to the handler, or holds it until one
// is set
func (c *Channel) receive(data []byte) {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	handler := c.onMessage
	if handler == nil {
		if len(c.early) < maxEarlyFrames {
			c.early = append(c.early, data)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	handler(data)
}

// OnClose sets the handler for channel close
func (c *Channel) OnClose(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = handler
}

// Send writes one frame
func (c *Channel) Send(data []byte) error {
	if !c.Ready() {
		return ErrChannelNotOpen
	}
	return c.dc.SendText(string(data))
}

// Ready reports whether the channel is open
func (c *Channel) Ready() bool {
	return c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Label returns the channel label
func (c *Channel) Label() string {
	return c.dc.Label()
}

// Close closes the data channel
func (c *Channel) Close() error {
	return c.dc.Close()
}
