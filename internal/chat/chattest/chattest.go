// Package chattest provides a scripted in-memory chat transport for tests.
// Outbound traffic is recorded; inbound events are injected synchronously.
package chattest

import (
	"context"
	"sync"

	"scrimbot/internal/chat"
)

type SentMessage struct {
	To   string
	Body string
}

type Transport struct {
	mu sync.Mutex

	handler chat.Handler
	rooms   map[string]*Room
	roster  []chat.RosterItem

	Messages   []SentMessage
	Subscribed []string
	Updated    []chat.RosterItem
	Removed    []string
	Accepted   []string
	Declined   []string
	Connected  bool
	JoinErr    error
	connects   int
}

func New() *Transport {
	return &Transport{rooms: make(map[string]*Room)}
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = true
	t.connects++
	return nil
}

// Connects counts how many times Connect succeeded.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

// SentTo snapshots the direct messages sent so far.
func (t *Transport) SentTo() []SentMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SentMessage, len(t.Messages))
	copy(out, t.Messages)
	return out
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Connected = false
	return nil
}

func (t *Transport) SetHandler(h chat.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *Transport) SendMessage(toUserID, body string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, SentMessage{To: toUserID, Body: body})
	return nil
}

func (t *Transport) JoinRoom(address, nick string) (chat.Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.JoinErr != nil {
		return nil, t.JoinErr
	}
	room := &Room{address: address, nick: nick}
	t.rooms[address] = room
	return room, nil
}

// RoomAt returns the scripted room joined at the given address, if any.
func (t *Transport) RoomAt(address string) *Room {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rooms[address]
}

func (t *Transport) SetRoster(items []chat.RosterItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roster = items
}

func (t *Transport) Roster() ([]chat.RosterItem, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chat.RosterItem, len(t.roster))
	copy(out, t.roster)
	return out, nil
}

func (t *Transport) Subscribe(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Subscribed = append(t.Subscribed, userID)
	return nil
}

func (t *Transport) UpdateRosterItem(item chat.RosterItem) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Updated = append(t.Updated, item)
	return nil
}

func (t *Transport) RemoveRosterItem(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Removed = append(t.Removed, userID)
	return nil
}

func (t *Transport) AcceptSubscription(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Accepted = append(t.Accepted, userID)
	return nil
}

func (t *Transport) DeclineSubscription(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Declined = append(t.Declined, userID)
	return nil
}

// Mutations counts every roster-changing call issued so far. The roster
// reconciler's idempotence tests compare this across passes.
func (t *Transport) Mutations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Subscribed) + len(t.Updated) + len(t.Removed)
}

// InjectMessage delivers an inbound 1:1 message to the installed handler.
func (t *Transport) InjectMessage(userID, body string) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h.HandleMessage(chat.Message{UserID: userID, Body: body})
	}
}

// InjectSubscriptionRequest delivers an inbound presence subscription
// request to the installed handler.
func (t *Transport) InjectSubscriptionRequest(userID string) {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h.HandleSubscriptionRequest(userID)
	}
}

// Room is a scripted in-memory room.
type Room struct {
	address string
	nick    string

	mu       sync.Mutex
	events   chat.RoomEvents
	Sent     []string
	Payloads []chat.Payload
	Kicked   []string
	Invited  []string
	Left     bool
}

func (r *Room) Address() string { return r.address }
func (r *Room) Nick() string    { return r.nick }

func (r *Room) Send(body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, body)
	return nil
}

// SentMessages snapshots the plain messages sent so far.
func (r *Room) SentMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Sent))
	copy(out, r.Sent)
	return out
}

func (r *Room) SendPayload(p chat.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Payloads = append(r.Payloads, p)
	return nil
}

func (r *Room) Kick(userID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Kicked = append(r.Kicked, userID)
	return nil
}

func (r *Room) Invite(userID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Invited = append(r.Invited, userID)
	return nil
}

func (r *Room) Leave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Left = true
	return nil
}

func (r *Room) SetEvents(ev chat.RoomEvents) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = ev
}

func (r *Room) sink() chat.RoomEvents {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// PayloadKinds returns the kinds of every payload sent so far, in order.
func (r *Room) PayloadKinds() []chat.PayloadKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]chat.PayloadKind, len(r.Payloads))
	for i, p := range r.Payloads {
		kinds[i] = p.Kind
	}
	return kinds
}

func (r *Room) InjectJoin(userID, nick, role string) {
	if ev := r.sink(); ev != nil {
		ev.OccupantJoined(userID, nick, role)
	}
}

func (r *Room) InjectLeave(userID string) {
	if ev := r.sink(); ev != nil {
		ev.OccupantLeft(userID)
	}
}

func (r *Room) InjectRole(userID, role string) {
	if ev := r.sink(); ev != nil {
		ev.RoleChanged(userID, role)
	}
}

func (r *Room) InjectMessage(userID, body string, delayed bool) {
	if ev := r.sink(); ev != nil {
		ev.RoomMessage(userID, body, delayed)
	}
}

func (r *Room) InjectPayload(userID string, p chat.Payload) {
	if ev := r.sink(); ev != nil {
		ev.RoomPayload(userID, p)
	}
}
