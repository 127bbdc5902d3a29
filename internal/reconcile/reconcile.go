// ABOUTME: Reconciliation engine turning backend record batches into the local chat view
// ABOUTME: Pure transforms for users, chat partners and message threads in replace or merge mode

package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/query"
)

// Mode selects how pushed batches combine with local state.
type Mode string

const (
	// ModeReplace treats each push as the full current result set.
	ModeReplace Mode = "replace"
	// ModeMerge treats each push as a delta to union into local state.
	ModeMerge Mode = "merge"
)

// ParseMode validates a mode name. The empty string selects ModeMerge.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want %q or %q)", s, ModeReplace, ModeMerge)
	}
}

// Result reports what a projection dropped.
type Result struct {
	Skipped  int
	Reserved int
}

// Engine applies pushed batches according to its Mode. The zero value merges.
type Engine struct {
	Mode   Mode
	Logger *slog.Logger
}

// New creates an engine. A nil logger uses slog.Default().
func New(mode Mode, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Mode: mode, Logger: logger.With("component", "reconcile")}
}

func (e *Engine) replace() bool {
	return e != nil && e.Mode == ModeReplace
}

func (e *Engine) log() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// ProjectUsers decodes a users batch into a map keyed by id. Malformed records
// and records claiming the reserved broadcast id are dropped and counted. The
// broadcast user is always present exactly once.
func (e *Engine) ProjectUsers(records []query.Record) (map[string]chat.User, Result) {
	users := make(map[string]chat.User, len(records)+1)
	var res Result
	for _, rec := range records {
		u, err := chat.DecodeUser(rec)
		if err != nil {
			res.Skipped++
			if errors.Is(err, chat.ErrReservedID) {
				res.Reserved++
			}
			e.log().Debug("dropping user record", "error", err)
			continue
		}
		users[u.ID] = u
	}
	users[chat.BroadcastID] = chat.BroadcastUser()
	return users, res
}

// ApplyUsers combines a projection with the current user map. Replace mode
// returns the projection; merge mode upserts it into a copy of current.
func (e *Engine) ApplyUsers(current, projected map[string]chat.User) map[string]chat.User {
	if e.replace() {
		out := make(map[string]chat.User, len(projected)+1)
		for id, u := range projected {
			out[id] = u
		}
		out[chat.BroadcastID] = chat.BroadcastUser()
		return out
	}
	out := make(map[string]chat.User, len(current)+len(projected)+1)
	for id, u := range current {
		out[id] = u
	}
	for id, u := range projected {
		out[id] = u
	}
	out[chat.BroadcastID] = chat.BroadcastUser()
	return out
}

// PartnerKey returns the conversation a message belongs to from the point of
// view of currentUserID.
func PartnerKey(currentUserID, from, to string) string {
	switch {
	case to == chat.BroadcastID:
		return chat.BroadcastID
	case from == currentUserID:
		return to
	default:
		return from
	}
}

// ProjectChats turns chat summaries into partner conversations with no
// messages loaded. Partners missing from users get a placeholder named by id.
func (e *Engine) ProjectChats(currentUserID string, records []query.Record, users map[string]chat.User) (map[string]*chat.Conversation, Result) {
	convs := make(map[string]*chat.Conversation, len(records))
	var res Result
	for _, rec := range records {
		c, err := chat.DecodeChat(rec)
		if err != nil {
			res.Skipped++
			e.log().Debug("dropping chat record", "error", err)
			continue
		}
		partner := PartnerKey(currentUserID, c.From, c.To)
		convs[partner] = &chat.Conversation{Partner: LookupUser(users, partner)}
	}
	return convs, res
}

// MergeConversations adds new partners to current and refreshes partner data
// of existing ones. Existing threads are preserved.
func MergeConversations(current, projected map[string]*chat.Conversation) map[string]*chat.Conversation {
	out := make(map[string]*chat.Conversation, len(current)+len(projected))
	for id, c := range current {
		out[id] = c
	}
	for id, p := range projected {
		if existing, ok := out[id]; ok {
			merged := existing.Clone()
			merged.Partner = p.Partner
			out[id] = merged
			continue
		}
		out[id] = &chat.Conversation{Partner: p.Partner, Messages: p.Messages}
	}
	return out
}

// RefreshPartners updates each conversation's partner data from users.
// Conversations whose partner is unknown keep their current data.
func RefreshPartners(convs map[string]*chat.Conversation, users map[string]chat.User) map[string]*chat.Conversation {
	out := make(map[string]*chat.Conversation, len(convs))
	for id, c := range convs {
		u, ok := users[id]
		if !ok || u == c.Partner {
			out[id] = c
			continue
		}
		refreshed := c.Clone()
		refreshed.Partner = u
		out[id] = refreshed
	}
	return out
}

// GroupMessages groups a messages batch by partner for the initial load.
// Each group is time-ordered and free of duplicates; the broadcast group is
// always present.
func (e *Engine) GroupMessages(currentUserID string, records []query.Record) (map[string][]chat.Message, Result) {
	groups := map[string][]chat.Message{chat.BroadcastID: nil}
	var res Result
	for _, rec := range records {
		m, err := chat.DecodeMessage(rec)
		if err != nil {
			res.Skipped++
			e.log().Debug("dropping message record", "error", err)
			continue
		}
		partner := PartnerKey(currentUserID, m.From, m.To)
		groups[partner] = append(groups[partner], m)
	}
	for partner, msgs := range groups {
		groups[partner] = Union(nil, msgs)
	}
	return groups, res
}

// DecodeMessages decodes a thread push, dropping malformed records.
func DecodeMessages(records []query.Record) ([]chat.Message, Result) {
	msgs := make([]chat.Message, 0, len(records))
	var res Result
	for _, rec := range records {
		m, err := chat.DecodeMessage(rec)
		if err != nil {
			res.Skipped++
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, res
}

// MergeThread combines a pushed batch with an existing thread. Merge mode
// unions by id; replace mode keeps only the incoming batch. Either way the
// result has no duplicate ids and is ordered by time, ties broken by id.
func (e *Engine) MergeThread(existing, incoming []chat.Message) []chat.Message {
	if e.replace() {
		return Union(nil, incoming)
	}
	return Union(existing, incoming)
}

// Union returns the set-union by id of a and b, sorted by time then id.
// For an id present in both, the copy from b wins.
func Union(a, b []chat.Message) []chat.Message {
	byID := make(map[string]chat.Message, len(a)+len(b))
	for _, m := range a {
		byID[m.ID] = m
	}
	for _, m := range b {
		byID[m.ID] = m
	}
	out := make([]chat.Message, 0, len(byID))
	for _, m := range byID {
		out = append(out, m)
	}
	SortMessages(out)
	return out
}

// SortMessages orders messages by time ascending, ties broken by id.
func SortMessages(msgs []chat.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].Time.Equal(msgs[j].Time) {
			return msgs[i].Time.Before(msgs[j].Time)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// LookupUser resolves a partner id against users, synthesizing a placeholder
// for unknown ids.
func LookupUser(users map[string]chat.User, id string) chat.User {
	if u, ok := users[id]; ok {
		return u
	}
	if id == chat.BroadcastID {
		return chat.BroadcastUser()
	}
	return chat.User{ID: id, Name: id}
}
