// Package wsclient implements the chat transport facade over a websocket
// session speaking JSON event frames.
package wsclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"scrimbot/internal/chat"
)

type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	rosterTimeout = 10 * time.Second
)

// frame is the wire envelope for every event in both directions.
type frame struct {
	Type    string       `json:"type"`
	ID      int64        `json:"id,omitempty"`
	Room    string       `json:"room,omitempty"`
	From    string       `json:"from,omitempty"`
	To      string       `json:"to,omitempty"`
	Nick    string       `json:"nick,omitempty"`
	Role    string       `json:"role,omitempty"`
	Body    string       `json:"body,omitempty"`
	Kind    string       `json:"kind,omitempty"`
	Payload string       `json:"payload,omitempty"`
	Delayed bool         `json:"delayed,omitempty"`
	Items   []rosterItem `json:"items,omitempty"`
}

type rosterItem struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	Groups     []string `json:"groups"`
	Subscribed bool     `json:"subscribed"`
}

// Client is a chat.Transport over one websocket connection.
type Client struct {
	url      string
	userID   string
	password string
	log      Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler chat.Handler
	rooms   map[string]*room
	pending map[int64]chan []chat.RosterItem
	closed  bool

	send   chan frame
	done   chan struct{}
	nextID atomic.Int64
}

func New(url, userID, password string, log Logger) *Client {
	return &Client{
		url:      url,
		userID:   userID,
		password: password,
		log:      log,
		rooms:    make(map[string]*room),
		pending:  make(map[int64]chan []chat.RosterItem),
	}
}

func (c *Client) SetHandler(h chat.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect dials the chat service, authenticates, and starts the read and
// write pumps.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("wsclient: dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.send = make(chan frame, 64)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()

	return c.enqueue(frame{Type: "auth", From: c.userID, Body: c.password})
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	if done != nil {
		close(done)
	}
	return nil
}

func (c *Client) enqueue(f frame) error {
	c.mu.Lock()
	closed, send, done := c.closed, c.send, c.done
	c.mu.Unlock()
	if closed || send == nil {
		return fmt.Errorf("wsclient: not connected")
	}
	select {
	case send <- f:
		return nil
	case <-done:
		return fmt.Errorf("wsclient: connection closed")
	}
}

func (c *Client) SendMessage(toUserID, body string) error {
	return c.enqueue(frame{Type: "message", To: toUserID, Body: body})
}

func (c *Client) JoinRoom(address, nick string) (chat.Room, error) {
	if err := c.enqueue(frame{Type: "room_join", Room: address, Nick: nick}); err != nil {
		return nil, err
	}
	r := &room{client: c, address: address, nick: nick}
	c.mu.Lock()
	c.rooms[address] = r
	c.mu.Unlock()
	return r, nil
}

// Roster issues a correlated roster read and waits for the reply.
func (c *Client) Roster() ([]chat.RosterItem, error) {
	id := c.nextID.Add(1)
	reply := make(chan []chat.RosterItem, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.enqueue(frame{Type: "roster_get", ID: id}); err != nil {
		return nil, err
	}
	select {
	case items := <-reply:
		return items, nil
	case <-time.After(rosterTimeout):
		return nil, fmt.Errorf("wsclient: roster read timed out")
	}
}

func (c *Client) Subscribe(userID string) error {
	return c.enqueue(frame{Type: "subscribe", To: userID})
}

func (c *Client) UpdateRosterItem(item chat.RosterItem) error {
	return c.enqueue(frame{
		Type: "roster_update",
		To:   item.UserID,
		Nick: item.Name,
		Items: []rosterItem{{
			UserID: item.UserID,
			Name:   item.Name,
			Groups: item.Groups,
		}},
	})
}

func (c *Client) RemoveRosterItem(userID string) error {
	return c.enqueue(frame{Type: "roster_remove", To: userID})
}

func (c *Client) AcceptSubscription(userID string) error {
	return c.enqueue(frame{Type: "subscribed", To: userID})
}

func (c *Client) DeclineSubscription(userID string) error {
	return c.enqueue(frame{Type: "unsubscribed", To: userID})
}

func (c *Client) writePump() {
	c.mu.Lock()
	conn, send, done := c.conn, c.send, c.done
	c.mu.Unlock()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case f := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				c.log.Error("wsclient: write: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) readPump() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			closed, handler := c.closed, c.handler
			c.mu.Unlock()
			if !closed && handler != nil {
				handler.HandleDisconnect(err)
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f frame) {
	c.mu.Lock()
	handler := c.handler
	r := c.rooms[f.Room]
	var reply chan []chat.RosterItem
	if f.Type == "roster" {
		reply = c.pending[f.ID]
	}
	c.mu.Unlock()

	switch f.Type {
	case "message":
		if handler != nil {
			handler.HandleMessage(chat.Message{UserID: f.From, Body: f.Body})
		}
	case "subscription_request":
		if handler != nil {
			handler.HandleSubscriptionRequest(f.From)
		}
	case "roster":
		if reply != nil {
			items := make([]chat.RosterItem, len(f.Items))
			for i, it := range f.Items {
				items[i] = chat.RosterItem{
					UserID:     it.UserID,
					Name:       it.Name,
					Groups:     it.Groups,
					Subscribed: it.Subscribed,
				}
			}
			reply <- items
		}
	case "occupant_joined":
		if ev := r.eventsOrNil(); ev != nil {
			ev.OccupantJoined(f.From, f.Nick, f.Role)
		}
	case "occupant_left":
		if ev := r.eventsOrNil(); ev != nil {
			ev.OccupantLeft(f.From)
		}
	case "role":
		if ev := r.eventsOrNil(); ev != nil {
			ev.RoleChanged(f.From, f.Role)
		}
	case "room_message":
		if ev := r.eventsOrNil(); ev != nil {
			ev.RoomMessage(f.From, f.Body, f.Delayed)
		}
	case "room_payload":
		if ev := r.eventsOrNil(); ev != nil {
			ev.RoomPayload(f.From, chat.Payload{Kind: chat.PayloadKind(f.Kind), Data: f.Payload})
		}
	default:
		c.log.Debug("wsclient: unhandled frame type %q", f.Type)
	}
}

type room struct {
	client  *Client
	address string
	nick    string

	mu     sync.Mutex
	events chat.RoomEvents
}

func (r *room) Address() string { return r.address }
func (r *room) Nick() string    { return r.nick }

func (r *room) Send(body string) error {
	return r.client.enqueue(frame{Type: "room_message", Room: r.address, Body: body})
}

func (r *room) SendPayload(p chat.Payload) error {
	return r.client.enqueue(frame{
		Type:    "room_payload",
		Room:    r.address,
		Kind:    string(p.Kind),
		Payload: p.Data,
	})
}

func (r *room) Kick(userID, reason string) error {
	return r.client.enqueue(frame{Type: "room_kick", Room: r.address, To: userID, Body: reason})
}

func (r *room) Invite(userID, reason string) error {
	return r.client.enqueue(frame{Type: "room_invite", Room: r.address, To: userID, Body: reason})
}

func (r *room) Leave() error {
	r.client.mu.Lock()
	delete(r.client.rooms, r.address)
	r.client.mu.Unlock()
	return r.client.enqueue(frame{Type: "room_leave", Room: r.address})
}

func (r *room) SetEvents(ev chat.RoomEvents) {
	r.mu.Lock()
	r.events = ev
	r.mu.Unlock()
}

func (r *room) eventsOrNil() chat.RoomEvents {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}
