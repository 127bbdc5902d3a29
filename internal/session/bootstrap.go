// ABOUTME: Session bootstrap: initial fetches, subscription fan-out and push handling
// ABOUTME: Network calls run off the dispatcher; results are applied only under their epoch

package session

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/query"
	"github.com/2389/coven-chat/internal/reconcile"
	"github.com/2389/coven-chat/internal/registry"
)

// subscribeConcurrency bounds parallel Subscribe calls during fan-out.
const subscribeConcurrency = 4

// Filters used by the bootstrap and the live subscriptions.

func chatsFetchFilter(me string) *query.Filter {
	return query.Or(
		query.Cond("from", query.OpEq, me),
		query.Cond("to", query.OpEq, me),
		query.Cond("to", query.OpEq, chat.BroadcastID),
	)
}

func usersFilter(me string) *query.Filter {
	return query.Cond("id", query.OpNe, me)
}

func myMessagesFilter(me string) *query.Filter {
	return query.Or(
		query.Cond("to", query.OpEq, me),
		query.Cond("from", query.OpEq, me),
	)
}

func threadFilter(me, partner string) *query.Filter {
	if partner == chat.BroadcastID {
		return query.Cond("to", query.OpEq, chat.BroadcastID)
	}
	return query.Or(
		query.And(query.Cond("to", query.OpEq, me), query.Cond("from", query.OpEq, partner)),
		query.And(query.Cond("to", query.OpEq, partner), query.Cond("from", query.OpEq, me)),
	)
}

func chatsLiveFilter(me string) *query.Filter {
	return query.Cond("to", query.OpEq, me)
}

// bootstrap runs the three initial fetches concurrently and waits for them to
// settle. Each failure is reported on its own; none blocks the others.
func (c *Controller) bootstrap(ctx context.Context, epoch uint64, me string) {
	var g errgroup.Group

	g.Go(func() error {
		records, err := c.client.Fetch(ctx, query.CollectionChats, chatsFetchFilter(me))
		_ = c.do(context.Background(), func() {
			if !c.current(epoch) {
				return
			}
			if err != nil {
				c.notify("could not load chats", &chat.FetchError{Collection: query.CollectionChats, Err: err})
				return
			}
			c.applyChats(me, records)
		})
		return nil
	})

	g.Go(func() error {
		records, err := c.client.Fetch(ctx, query.CollectionUsers, usersFilter(me))
		_ = c.do(context.Background(), func() {
			if !c.current(epoch) {
				return
			}
			if err != nil {
				c.notify("could not load users", &chat.FetchError{Collection: query.CollectionUsers, Err: err})
			} else {
				c.applyUsers(records)
			}
			c.startFanOut(epoch, me)
		})
		return nil
	})

	g.Go(func() error {
		records, err := c.client.Fetch(ctx, query.CollectionMessages, myMessagesFilter(me))
		_ = c.do(context.Background(), func() {
			if !c.current(epoch) {
				return
			}
			if err != nil {
				c.notify("could not load messages", &chat.FetchError{Collection: query.CollectionMessages, Err: err})
				return
			}
			c.applyInitialMessages(me, records)
		})
		return nil
	})

	_ = g.Wait()
}

// startFanOut opens the session's live subscriptions in the background.
// Dispatcher only.
func (c *Controller) startFanOut(epoch uint64, me string) {
	ctx := c.sessCtx
	type plan struct {
		key        registry.Key
		collection string
		filter     *query.Filter
		handler    query.Handler
	}

	var plans []plan
	for _, partner := range c.realPartners(me) {
		key := registry.ThreadKey(partner)
		c.opening[key] = true
		plans = append(plans, plan{key, query.CollectionMessages, threadFilter(me, partner), c.threadHandler(epoch, me, key)})
	}
	broadcast := registry.ThreadKey(chat.BroadcastID)
	users := registry.UserListKey()
	chats := registry.ChatListKey()
	for _, key := range []registry.Key{broadcast, users, chats} {
		c.opening[key] = true
	}
	plans = append(plans,
		plan{broadcast, query.CollectionMessages, threadFilter(me, chat.BroadcastID), c.threadHandler(epoch, me, broadcast)},
		plan{users, query.CollectionUsers, usersFilter(me), c.usersHandler(epoch, me)},
		plan{chats, query.CollectionChats, chatsLiveFilter(me), c.chatsHandler(epoch, me)},
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var g errgroup.Group
		g.SetLimit(subscribeConcurrency)
		for _, p := range plans {
			p := p
			g.Go(func() error {
				c.open(ctx, epoch, p.key, p.collection, p.filter, p.handler)
				return nil
			})
		}
		_ = g.Wait()
		c.logger.Debug("subscription fan-out finished", "epoch", epoch, "count", len(plans))
	}()
}

// openThreads opens thread subscriptions for partners that have none yet.
// Dispatcher only.
func (c *Controller) openThreads(epoch uint64, me string, partners []string) {
	ctx := c.sessCtx
	var keys []registry.Key
	for _, partner := range partners {
		key := registry.ThreadKey(partner)
		if c.opening[key] || c.registry.Has(key) {
			continue
		}
		c.opening[key] = true
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for _, key := range keys {
			c.open(ctx, epoch, key, query.CollectionMessages, threadFilter(me, key.Partner), c.threadHandler(epoch, me, key))
		}
	}()
}

// open subscribes and hands the handle to the registry if the session is
// still current. Runs off the dispatcher.
func (c *Controller) open(ctx context.Context, epoch uint64, key registry.Key, collection string, filter *query.Filter, handler query.Handler) {
	sub, err := c.client.Subscribe(ctx, collection, filter, handler)
	if err != nil {
		c.post(func() {
			delete(c.opening, key)
			if !c.current(epoch) || ctx.Err() != nil {
				return
			}
			c.notify("could not subscribe to "+key.String(), &chat.SubscriptionError{Key: key.String(), Err: err})
		})
		return
	}

	err = c.do(context.Background(), func() {
		if !c.current(epoch) {
			_ = sub.Cancel()
			return
		}
		delete(c.opening, key)
		if err := c.registry.Register(key, sub); err != nil {
			c.logger.Warn("replacing subscription", "key", key.String(), "error", err)
		}
	})
	if err != nil {
		_ = sub.Cancel()
	}
}

// realPartners lists known user ids other than me and the broadcast sentinel,
// sorted for deterministic fan-out order. Dispatcher only.
func (c *Controller) realPartners(me string) []string {
	var out []string
	for id := range c.st.Users {
		if id == me || id == chat.BroadcastID {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) threadHandler(epoch uint64, me string, key registry.Key) query.Handler {
	return func(ev query.Event) {
		c.post(func() {
			if !c.current(epoch) {
				return
			}
			if ev.IsError() {
				c.notify("error listening to "+key.String(), &chat.SubscriptionError{Key: key.String(), Err: ev.Err})
				return
			}
			c.applyThread(me, ev.Records)
		})
	}
}

func (c *Controller) usersHandler(epoch uint64, me string) query.Handler {
	key := registry.UserListKey()
	return func(ev query.Event) {
		c.post(func() {
			if !c.current(epoch) {
				return
			}
			if ev.IsError() {
				c.notify("error listening to new users", &chat.SubscriptionError{Key: key.String(), Err: ev.Err})
				return
			}
			c.applyUsers(ev.Records)
			c.openThreads(epoch, me, c.realPartners(me))
		})
	}
}

func (c *Controller) chatsHandler(epoch uint64, me string) query.Handler {
	key := registry.ChatListKey()
	return func(ev query.Event) {
		c.post(func() {
			if !c.current(epoch) {
				return
			}
			if ev.IsError() {
				c.notify("error listening to new chats", &chat.SubscriptionError{Key: key.String(), Err: ev.Err})
				return
			}
			c.applyChats(me, ev.Records)
		})
	}
}

// The apply functions below run on the dispatcher for the current epoch.

func (c *Controller) applyUsers(records []query.Record) {
	projected, res := c.engine.ProjectUsers(records)
	if res.Skipped > 0 {
		c.logger.Debug("skipped user records", "skipped", res.Skipped, "reserved", res.Reserved)
	}
	c.st.Users = c.engine.ApplyUsers(c.st.Users, projected)
	c.st.Conversations = reconcile.RefreshPartners(c.st.Conversations, c.st.Users)
	c.commit()
}

func (c *Controller) applyChats(me string, records []query.Record) {
	projected, res := c.engine.ProjectChats(me, records, c.st.Users)
	if res.Skipped > 0 {
		c.logger.Debug("skipped chat records", "skipped", res.Skipped)
	}
	c.st.Conversations = reconcile.MergeConversations(c.st.Conversations, projected)
	c.commit()
}

func (c *Controller) applyInitialMessages(me string, records []query.Record) {
	groups, res := c.engine.GroupMessages(me, records)
	if res.Skipped > 0 {
		c.logger.Debug("skipped message records", "skipped", res.Skipped)
	}
	for partner, msgs := range groups {
		conv := c.conversation(partner)
		conv.Messages = reconcile.Union(conv.Messages, msgs)
		c.st.Conversations[partner] = conv
	}
	c.commit()
}

// applyThread merges a thread push. Empty pushes carry no messages and are
// ignored, so a replace-mode thread is never wiped by one.
func (c *Controller) applyThread(me string, records []query.Record) {
	if len(records) == 0 {
		return
	}
	msgs, res := reconcile.DecodeMessages(records)
	if res.Skipped > 0 {
		c.logger.Debug("skipped pushed messages", "skipped", res.Skipped)
	}
	byPartner := make(map[string][]chat.Message)
	for _, m := range msgs {
		partner := reconcile.PartnerKey(me, m.From, m.To)
		byPartner[partner] = append(byPartner[partner], m)
	}
	for partner, incoming := range byPartner {
		conv := c.conversation(partner)
		conv.Messages = c.engine.MergeThread(conv.Messages, incoming)
		c.st.Conversations[partner] = conv
	}
	c.commit()
}

// conversation returns a private copy of the conversation with partner,
// creating it when absent.
func (c *Controller) conversation(partner string) *chat.Conversation {
	if existing, ok := c.st.Conversations[partner]; ok {
		return existing.Clone()
	}
	return &chat.Conversation{Partner: reconcile.LookupUser(c.st.Users, partner)}
}
