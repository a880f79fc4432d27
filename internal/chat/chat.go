// Package chat defines the transport facade the bot consumes: an
// XMPP-like service with 1:1 messages, multi-user rooms, presence
// subscriptions, a roster, and small custom typed room payloads.
package chat

import "context"

// PayloadKind selects one of the custom room payload types the party
// protocol uses. The kind string is the wire type selector.
type PayloadKind string

const (
	PartyMatchmakingStart  PayloadKind = "PartyMatchmakingStart"
	PartyMatchmakingCancel PayloadKind = "PartyMatchmakingCancel"
	DeployPartyData        PayloadKind = "DeployPartyData"
	DeployCancelData       PayloadKind = "DeployCancelData"
	GameStart              PayloadKind = "GameStart"
	GameEnd                PayloadKind = "GameEnd"
)

// Payload is a custom typed room element carrying a small string payload.
type Payload struct {
	Kind PayloadKind
	Data string
}

// Message is an inbound 1:1 message. UserID may be empty when the sender
// could not be identified.
type Message struct {
	UserID string
	Body   string
}

// RosterItem is one roster entry as the chat service reports it.
type RosterItem struct {
	UserID     string
	Name       string
	Groups     []string
	Subscribed bool
}

// Handler receives transport-level events. The bot supervisor implements
// this and fans the events out.
type Handler interface {
	HandleMessage(msg Message)
	HandleSubscriptionRequest(userID string)
	HandleDisconnect(err error)
}

// RoomEvents receives events scoped to one joined room.
type RoomEvents interface {
	OccupantJoined(userID, nick, role string)
	OccupantLeft(userID string)
	RoleChanged(userID, role string)
	RoomMessage(userID, body string, delayed bool)
	RoomPayload(userID string, p Payload)
}

// Room is a joined multi-user room.
type Room interface {
	// Address returns the room's stable address on the chat service.
	Address() string
	// Nick returns the bot's display name in the room.
	Nick() string
	Send(body string) error
	SendPayload(p Payload) error
	Kick(userID, reason string) error
	Invite(userID, reason string) error
	Leave() error
	// SetEvents installs the event sink. Must be called before events are
	// expected; a nil sink drops events.
	SetEvents(ev RoomEvents)
}

// Transport is the chat session facade.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error

	// SetHandler installs the transport-level event sink.
	SetHandler(h Handler)

	SendMessage(toUserID, body string) error
	JoinRoom(address, nick string) (Room, error)

	Roster() ([]RosterItem, error)
	Subscribe(userID string) error
	UpdateRosterItem(item RosterItem) error
	RemoveRosterItem(userID string) error
	AcceptSubscription(userID string) error
	DeclineSubscription(userID string) error
}

// Leader is the room role the game client grants the member allowed to
// start matchmaking.
const RoleLeader = "leader"
