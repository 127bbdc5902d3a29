// ABOUTME: Tests for the reconciliation engine
// ABOUTME: Covers projection idempotence, partner keys, dedupe and ordering under random merges

package reconcile

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/query"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func msgRecord(id, from, to string, offset time.Duration) query.Record {
	return chat.Message{ID: id, Text: "text " + id, From: from, To: to, Time: base.Add(offset)}.Record()
}

func msg(id string, offset time.Duration) chat.Message {
	return chat.Message{ID: id, From: "a", To: "b", Time: base.Add(offset)}
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, m)

	m, err = ParseMode("replace")
	require.NoError(t, err)
	assert.Equal(t, ModeReplace, m)

	_, err = ParseMode("append")
	assert.Error(t, err)
}

func TestProjectUsers(t *testing.T) {
	e := New(ModeMerge, nil)

	tests := []struct {
		name     string
		records  []query.Record
		wantIDs  []string
		skipped  int
		reserved int
	}{
		{"empty batch still has ALL", nil, []string{"ALL"}, 0, 0},
		{
			"real users plus ALL",
			[]query.Record{{"id": "a", "name": "A"}, {"id": "b", "name": "B"}},
			[]string{"ALL", "a", "b"}, 0, 0,
		},
		{
			"reserved id dropped",
			[]query.Record{{"id": "ALL", "name": "fake"}, {"id": "a"}},
			[]string{"ALL", "a"}, 1, 1,
		},
		{
			"malformed dropped",
			[]query.Record{{"name": "no id"}, {"id": "a"}},
			[]string{"ALL", "a"}, 1, 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, res := e.ProjectUsers(tt.records)
			got := make([]string, 0, len(users))
			for id := range users {
				got = append(got, id)
			}
			sort.Strings(got)
			assert.Equal(t, tt.wantIDs, got)
			assert.Equal(t, tt.skipped, res.Skipped)
			assert.Equal(t, tt.reserved, res.Reserved)
			assert.Equal(t, chat.BroadcastUser(), users[chat.BroadcastID])
		})
	}
}

func TestProjectUsers_Idempotent(t *testing.T) {
	e := New(ModeMerge, nil)
	batch := []query.Record{{"id": "a", "name": "A"}, {"id": "b", "name": "B"}}

	once, _ := e.ProjectUsers(batch)
	twice := e.ApplyUsers(once, once)
	assert.Equal(t, once, twice)

	r := New(ModeReplace, nil)
	assert.Equal(t, once, r.ApplyUsers(once, once))
}

func TestApplyUsers_Modes(t *testing.T) {
	current := map[string]chat.User{
		"ALL": chat.BroadcastUser(),
		"a":   {ID: "a", Name: "A"},
		"b":   {ID: "b", Name: "B"},
	}
	projected := map[string]chat.User{
		"ALL": chat.BroadcastUser(),
		"b":   {ID: "b", Name: "Bee", IsActive: true},
	}

	merged := New(ModeMerge, nil).ApplyUsers(current, projected)
	assert.Len(t, merged, 3)
	assert.Equal(t, "Bee", merged["b"].Name)
	assert.Contains(t, merged, "a")

	replaced := New(ModeReplace, nil).ApplyUsers(current, projected)
	assert.Len(t, replaced, 2)
	assert.NotContains(t, replaced, "a")

	assert.Equal(t, "B", current["b"].Name, "current is not mutated")
}

func TestPartnerKey(t *testing.T) {
	tests := []struct {
		from, to, want string
	}{
		{"me", "bob", "bob"},
		{"bob", "me", "bob"},
		{"me", "ALL", "ALL"},
		{"bob", "ALL", "ALL"},
		{"me", "me", "me"},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, PartnerKey("me", tt.from, tt.to))
		})
	}
}

func TestProjectChats(t *testing.T) {
	e := New(ModeMerge, nil)
	users := map[string]chat.User{"bob": {ID: "bob", Name: "Bob"}}

	convs, res := e.ProjectChats("me", []query.Record{
		{"id": "bob:me", "from": "bob", "to": "me"},
		{"id": "carl:me", "from": "me", "to": "carl"},
		{"id": "ALL", "from": "dana", "to": "ALL"},
		{"id": "broken", "from": "me"},
	}, users)

	assert.Equal(t, 1, res.Skipped)
	require.Len(t, convs, 3)
	assert.Equal(t, "Bob", convs["bob"].Partner.Name)
	assert.Equal(t, chat.User{ID: "carl", Name: "carl"}, convs["carl"].Partner)
	assert.Equal(t, chat.BroadcastUser(), convs["ALL"].Partner)
	assert.Nil(t, convs["bob"].Messages)
}

func TestMergeConversations_PreservesThreads(t *testing.T) {
	current := map[string]*chat.Conversation{
		"bob": {Partner: chat.User{ID: "bob", Name: "bob"}, Messages: []chat.Message{msg("m1", 0)}},
	}
	projected := map[string]*chat.Conversation{
		"bob":  {Partner: chat.User{ID: "bob", Name: "Bob"}},
		"carl": {Partner: chat.User{ID: "carl", Name: "Carl"}},
	}

	out := MergeConversations(current, projected)
	require.Len(t, out, 2)
	assert.Equal(t, "Bob", out["bob"].Partner.Name)
	assert.Equal(t, []string{"m1"}, ids(out["bob"].Messages))
	assert.Equal(t, "bob", current["bob"].Partner.Name, "current is not mutated")
}

func TestRefreshPartners(t *testing.T) {
	convs := map[string]*chat.Conversation{
		"bob":  {Partner: chat.User{ID: "bob", Name: "bob"}},
		"carl": {Partner: chat.User{ID: "carl", Name: "carl"}},
	}
	out := RefreshPartners(convs, map[string]chat.User{"bob": {ID: "bob", Name: "Bob"}})
	assert.Equal(t, "Bob", out["bob"].Partner.Name)
	assert.Equal(t, "carl", out["carl"].Partner.Name)
}

func TestGroupMessages(t *testing.T) {
	e := New(ModeMerge, nil)
	groups, res := e.GroupMessages("me", []query.Record{
		msgRecord("m2", "bob", "me", 2*time.Second),
		msgRecord("m1", "me", "bob", time.Second),
		msgRecord("m3", "carl", "ALL", 0),
		msgRecord("m1", "me", "bob", time.Second),
		{"id": "bad", "from": "me"},
	})

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []string{"m1", "m2"}, ids(groups["bob"]))
	assert.Equal(t, []string{"m3"}, ids(groups["ALL"]))

	empty, _ := e.GroupMessages("me", nil)
	assert.Contains(t, empty, chat.BroadcastID)
	assert.Empty(t, empty[chat.BroadcastID])
}

func TestMergeThread_NoDuplicates(t *testing.T) {
	e := New(ModeMerge, nil)
	thread := e.MergeThread(nil, []chat.Message{msg("m1", 0), msg("m2", time.Second)})
	thread = e.MergeThread(thread, []chat.Message{msg("m2", time.Second), msg("m3", 2*time.Second)})
	thread = e.MergeThread(thread, []chat.Message{msg("m1", 0)})

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(thread))
}

func TestMergeThread_Replace(t *testing.T) {
	e := New(ModeReplace, nil)
	existing := []chat.Message{msg("m1", 0), msg("m2", time.Second)}
	out := e.MergeThread(existing, []chat.Message{msg("m3", 2*time.Second), msg("m2", time.Second), msg("m2", time.Second)})

	assert.Equal(t, []string{"m2", "m3"}, ids(out))
}

func TestMergeThread_TieBreakByID(t *testing.T) {
	e := New(ModeMerge, nil)
	out := e.MergeThread([]chat.Message{msg("b", 0)}, []chat.Message{msg("a", 0)})
	assert.Equal(t, []string{"a", "b"}, ids(out))
}

func TestMergeThread_OrderedAfterRandomMerges(t *testing.T) {
	e := New(ModeMerge, nil)
	rng := rand.New(rand.NewSource(42))

	var all []chat.Message
	for i := 0; i < 200; i++ {
		all = append(all, msg(fmt.Sprintf("m%03d", i), time.Duration(rng.Intn(50))*time.Second))
	}

	var thread []chat.Message
	for round := 0; round < 40; round++ {
		batch := make([]chat.Message, 0, 10)
		for j := 0; j < 10; j++ {
			batch = append(batch, all[rng.Intn(len(all))])
		}
		thread = e.MergeThread(thread, batch)

		seen := make(map[string]bool)
		for i, m := range thread {
			require.False(t, seen[m.ID], "duplicate %s", m.ID)
			seen[m.ID] = true
			if i > 0 {
				prev := thread[i-1]
				require.True(t,
					prev.Time.Before(m.Time) || (prev.Time.Equal(m.Time) && prev.ID < m.ID),
					"out of order at %d", i)
			}
		}
	}
}

func TestDecodeMessages(t *testing.T) {
	msgs, res := DecodeMessages([]query.Record{
		msgRecord("m1", "a", "b", 0),
		{"id": "m2"},
	})
	assert.Len(t, msgs, 1)
	assert.Equal(t, 1, res.Skipped)
}
