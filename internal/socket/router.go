package socket

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"screepsapi/internal/codec"
)

// Channels the session emits besides server frames.
const (
	ChannelMessage      = "message"
	ChannelConnected    = "connected"
	ChannelDisconnected = "disconnected"
	ChannelError        = "error"
	ChannelAuthed       = "authed"
	ChannelSubscribe    = "subscribe"
	ChannelUnsubscribe  = "unsubscribe"
	ChannelAuth         = "auth"
)

// TypeServer marks events parsed from space-delimited text frames.
const TypeServer = "server"

var frameKeyPattern = regexp.MustCompile(`^(.+):(.+?)(?:/(.+))?$`)

// Event is one delivery to a handler. Array frames fill Type, ID, Channel and
// Data. Text frames fill Channel, Args and Data; auth, protocol, time and
// package frames also fill Fields. Lifecycle events may carry Err.
type Event struct {
	Channel string
	ID      string
	Type    string
	Data    json.RawMessage
	Fields  map[string]string
	Args    []string
	Err     error
}

type Handler func(Event)

// Frame is a parsed inbound frame and the keys it is delivered under.
type Frame struct {
	Keys  []string
	Event Event
}

type route struct {
	id      int
	handler Handler
}

// Router is an explicit dispatch table from channel name to handlers.
// Handlers run synchronously in registration order.
type Router struct {
	mu     sync.RWMutex
	nextID int
	routes map[string][]route
}

func NewRouter() *Router {
	return &Router{routes: map[string][]route{}}
}

// On registers h for channel and returns a func that removes it.
func (r *Router) On(channel string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.routes[channel] = append(r.routes[channel], route{id: id, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			routes := r.routes[channel]
			for i, rt := range routes {
				if rt.id == id {
					r.routes[channel] = append(routes[:i:i], routes[i+1:]...)
					break
				}
			}
			if len(r.routes[channel]) == 0 {
				delete(r.routes, channel)
			}
		})
	}
}

// OnMessage registers a catch-all handler that sees every server frame.
func (r *Router) OnMessage(h Handler) func() {
	return r.On(ChannelMessage, h)
}

// Dispatch parses raw and delivers it.
func (r *Router) Dispatch(raw string) error {
	frame, err := ParseFrame(raw)
	if err != nil {
		return err
	}
	r.Deliver(frame)
	return nil
}

// Deliver hands the frame's event to every handler of each of its keys.
func (r *Router) Deliver(frame Frame) {
	for _, key := range frame.Keys {
		r.emit(key, frame.Event)
	}
}

func (r *Router) emit(channel string, event Event) {
	r.mu.RLock()
	routes := append([]route(nil), r.routes[channel]...)
	r.mu.RUnlock()
	for _, rt := range routes {
		rt.handler(event)
	}
}

// ParseFrame inflates a compressed frame and splits it into an event.
// `["room:W1N1",{...}]` is keyed by the full name, its channel and the
// catch-all. `time 123` is keyed by its first token and the catch-all.
func ParseFrame(raw string) (Frame, error) {
	msg := raw
	if codec.IsCompressed(msg) {
		inflated, err := codec.Decode(msg, codec.Deflate)
		if err != nil {
			return Frame{}, err
		}
		msg = string(inflated)
	}
	if strings.HasPrefix(msg, "[") {
		return parseArrayFrame(msg)
	}
	return parseTextFrame(msg), nil
}

func parseArrayFrame(msg string) (Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(msg), &parts); err != nil {
		return Frame{}, fmt.Errorf("invalid array frame: %w", err)
	}
	if len(parts) == 0 {
		return Frame{}, fmt.Errorf("invalid array frame: empty")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return Frame{}, fmt.Errorf("invalid array frame name: %w", err)
	}
	m := frameKeyPattern.FindStringSubmatch(name)
	if m == nil {
		return Frame{}, fmt.Errorf("invalid array frame name %q", name)
	}
	event := Event{Type: m[1], ID: m[2], Channel: m[3]}
	if event.Channel == "" {
		event.Channel = event.Type
	}
	if len(parts) > 1 {
		event.Data = parts[1]
	}
	return Frame{Keys: uniqueKeys(name, event.Channel, ChannelMessage), Event: event}, nil
}

func parseTextFrame(msg string) Frame {
	tokens := strings.Split(msg, " ")
	channel, args := tokens[0], tokens[1:]
	event := Event{Type: TypeServer, Channel: channel, Args: args}

	switch channel {
	case ChannelAuth:
		event.Fields = map[string]string{"status": argAt(args, 0), "token": argAt(args, 1)}
	case "protocol", "time", "package":
		event.Fields = map[string]string{channel: argAt(args, 0)}
	}
	if event.Fields != nil {
		event.Data, _ = json.Marshal(event.Fields)
	} else {
		event.Data, _ = json.Marshal(args)
	}
	return Frame{Keys: uniqueKeys(channel, ChannelMessage), Event: event}
}

func argAt(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func uniqueKeys(keys ...string) []string {
	out := keys[:0]
	for _, key := range keys {
		dup := false
		for _, seen := range out {
			if seen == key {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, key)
		}
	}
	return out
}
