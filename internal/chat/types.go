// ABOUTME: Domain types for the chat core: users, messages, conversations and sessions
// ABOUTME: Includes the reserved "ALL" broadcast identity and record conversions

package chat

import (
	"time"

	"github.com/2389/coven-chat/internal/query"
)

// BroadcastID is the reserved partner id of the public channel.
const BroadcastID = "ALL"

// User is a chat participant.
type User struct {
	ID             string
	Name           string
	Email          string
	IsActive       bool
	LastActiveTime time.Time
}

// BroadcastUser returns the synthetic partner that represents the public channel.
func BroadcastUser() User {
	return User{ID: BroadcastID, Name: BroadcastID}
}

// IsBroadcast reports whether the user is the broadcast sentinel.
func (u User) IsBroadcast() bool {
	return u.ID == BroadcastID
}

// Message is an immutable chat message.
type Message struct {
	ID   string
	Text string
	From string
	To   string
	Read bool
	Time time.Time
}

// IsBroadcast reports whether the message was sent to the public channel.
func (m Message) IsBroadcast() bool {
	return m.To == BroadcastID
}

// Conversation is the derived thread with one partner, keyed by the partner's id.
type Conversation struct {
	Partner  User
	Messages []Message
}

// Clone returns a copy whose message slice can be modified independently.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := &Conversation{Partner: c.Partner}
	if c.Messages != nil {
		out.Messages = append([]Message(nil), c.Messages...)
	}
	return out
}

// Session is an authenticated identity plus its token.
type Session struct {
	User  User
	Token string
}

// ChatSummary is a row of the chats collection: the last exchange between two parties.
type ChatSummary struct {
	ID   string
	From string
	To   string
	Time time.Time
}

// Record converts a message to its wire form.
func (m Message) Record() query.Record {
	return query.Record{
		"id":   m.ID,
		"text": m.Text,
		"from": m.From,
		"to":   m.To,
		"read": m.Read,
		"time": m.Time.UTC().Format(time.RFC3339Nano),
	}
}

// Record converts a user to its wire form.
func (u User) Record() query.Record {
	rec := query.Record{
		"id":       u.ID,
		"name":     u.Name,
		"isActive": u.IsActive,
	}
	if u.Email != "" {
		rec["email"] = u.Email
	}
	if !u.LastActiveTime.IsZero() {
		rec["lastActiveTime"] = u.LastActiveTime.UTC().Format(time.RFC3339Nano)
	}
	return rec
}

// Record converts a chat summary to its wire form.
func (c ChatSummary) Record() query.Record {
	return query.Record{
		"id":   c.ID,
		"from": c.From,
		"to":   c.To,
		"time": c.Time.UTC().Format(time.RFC3339Nano),
	}
}

// SummaryID returns the chats-collection id for an exchange between from and to.
// Broadcast exchanges share the id "ALL"; direct ones use the ordered pair.
func SummaryID(from, to string) string {
	if to == BroadcastID {
		return BroadcastID
	}
	if from > to {
		from, to = to, from
	}
	return from + ":" + to
}
