// ABOUTME: Decoding of backend records into chat domain values
// ABOUTME: Enforces required fields and the reserved broadcast id at the boundary

package chat

import (
	"fmt"

	"github.com/2389/coven-chat/internal/query"
)

// DecodeUser converts a users-collection record. Backend users may never
// carry the reserved broadcast id.
func DecodeUser(rec query.Record) (User, error) {
	id := rec.ID()
	if id == "" {
		return User{}, fmt.Errorf("%w: user without id", ErrMalformedRecord)
	}
	if id == BroadcastID {
		return User{}, fmt.Errorf("%w: user id %q", ErrReservedID, id)
	}
	u := User{
		ID:       id,
		Name:     rec.String("name"),
		Email:    rec.String("email"),
		IsActive: rec.Bool("isActive"),
	}
	if u.Name == "" {
		u.Name = id
	}
	if t, ok := rec.Time("lastActiveTime"); ok {
		u.LastActiveTime = t
	}
	return u, nil
}

// DecodeMessage converts a messages-collection record.
// id, from and to are required; a missing or unparseable time is the zero time.
func DecodeMessage(rec query.Record) (Message, error) {
	m := Message{
		ID:   rec.ID(),
		Text: rec.String("text"),
		From: rec.String("from"),
		To:   rec.String("to"),
		Read: rec.Bool("read"),
	}
	switch {
	case m.ID == "":
		return Message{}, fmt.Errorf("%w: message without id", ErrMalformedRecord)
	case m.From == "":
		return Message{}, fmt.Errorf("%w: message %s without from", ErrMalformedRecord, m.ID)
	case m.To == "":
		return Message{}, fmt.Errorf("%w: message %s without to", ErrMalformedRecord, m.ID)
	}
	if t, ok := rec.Time("time"); ok {
		m.Time = t
	}
	return m, nil
}

// DecodeChat converts a chats-collection record. Only from and to are required;
// summaries are regrouped by partner, so their own id is informational.
func DecodeChat(rec query.Record) (ChatSummary, error) {
	c := ChatSummary{
		ID:   rec.ID(),
		From: rec.String("from"),
		To:   rec.String("to"),
	}
	if c.From == "" || c.To == "" {
		return ChatSummary{}, fmt.Errorf("%w: chat %q without participants", ErrMalformedRecord, c.ID)
	}
	if t, ok := rec.Time("time"); ok {
		c.Time = t
	}
	return c, nil
}
