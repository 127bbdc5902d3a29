// ABOUTME: Outbound writes made on behalf of the logged-in user
// ABOUTME: Sending messages and updating the user's own activity status

package session

import (
	"context"
	"strings"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/query"
)

// Ack acknowledges an accepted message.
type Ack struct {
	MessageID string
	Status    string
}

// SendMessage writes a message from the current user to partnerID ("ALL" for
// broadcast). The message is not added locally: it appears when the
// partner's thread subscription delivers it.
func (c *Controller) SendMessage(ctx context.Context, partnerID, text string) (Ack, error) {
	if strings.TrimSpace(text) == "" {
		return Ack{}, &chat.ValidationError{Field: "text", Reason: "must not be blank"}
	}
	if partnerID == "" {
		return Ack{}, &chat.ValidationError{Field: "partner", Reason: "must not be empty"}
	}

	sess, epoch, err := c.session(ctx)
	if err != nil {
		return Ack{}, err
	}

	msg := chat.Message{
		ID:   c.newID(),
		Text: text,
		From: sess.User.ID,
		To:   partnerID,
		Read: false,
		Time: c.now(),
	}
	res, err := c.client.Write(ctx, query.CollectionMessages, msg.Record())
	if err != nil {
		werr := &chat.WriteError{Collection: query.CollectionMessages, Err: err}
		c.post(func() {
			if c.current(epoch) {
				c.notify("could not send message", werr)
			}
		})
		return Ack{}, werr
	}

	c.logger.Debug("message sent", "id", msg.ID, "to", partnerID, "status", res.Status)
	return Ack{MessageID: msg.ID, Status: res.Status}, nil
}

// SetActive records whether the current user is active, stamping the
// activity time, and upserts the user's own record.
func (c *Controller) SetActive(ctx context.Context, active bool) error {
	sess, epoch, err := c.session(ctx)
	if err != nil {
		return err
	}

	user := sess.User
	user.IsActive = active
	user.LastActiveTime = c.now()
	if _, err := c.client.Write(ctx, query.CollectionUsers, user.Record()); err != nil {
		werr := &chat.WriteError{Collection: query.CollectionUsers, Err: err}
		c.post(func() {
			if c.current(epoch) {
				c.notify("could not update activity", werr)
			}
		})
		return werr
	}

	_ = c.do(context.Background(), func() {
		if !c.current(epoch) || c.st.Session == nil {
			return
		}
		c.st.Session.User.IsActive = user.IsActive
		c.st.Session.User.LastActiveTime = user.LastActiveTime
		c.commit()
	})
	return nil
}
