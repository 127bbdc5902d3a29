// ABOUTME: Tests for the subscription registry
// ABOUTME: Covers replace-on-register, keyed cancel and teardown completeness under failures

package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct {
	cancels atomic.Int32
	err     error
	panics  bool
}

func (f *fakeSub) Cancel() error {
	f.cancels.Add(1)
	if f.panics {
		panic("cancel exploded")
	}
	return f.err
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "users", UserListKey().String())
	assert.Equal(t, "chats", ChatListKey().String())
	assert.Equal(t, "thread:bob", ThreadKey("bob").String())
	assert.Equal(t, ThreadKey("bob"), ThreadKey("bob"))
	assert.NotEqual(t, ThreadKey("bob"), ThreadKey("ALL"))
}

func TestRegister_ReplacesExisting(t *testing.T) {
	r := New(nil)
	first := &fakeSub{}
	second := &fakeSub{}

	require.NoError(t, r.Register(ThreadKey("bob"), first))
	require.NoError(t, r.Register(ThreadKey("bob"), second))

	assert.Equal(t, 1, r.Len())
	assert.EqualValues(t, 1, first.cancels.Load())
	assert.EqualValues(t, 0, second.cancels.Load())
}

func TestRegister_Nil(t *testing.T) {
	r := New(nil)
	assert.Error(t, r.Register(UserListKey(), nil))
	assert.Equal(t, 0, r.Len())
}

func TestCancelByKey(t *testing.T) {
	r := New(nil)
	sub := &fakeSub{}
	require.NoError(t, r.Register(ChatListKey(), sub))

	require.NoError(t, r.CancelByKey(ChatListKey()))
	assert.False(t, r.Has(ChatListKey()))
	assert.EqualValues(t, 1, sub.cancels.Load())

	assert.NoError(t, r.CancelByKey(ChatListKey()), "absent key is a no-op")
}

func TestCancelAll_AttemptsEveryHandle(t *testing.T) {
	r := New(nil)
	ok := &fakeSub{}
	failing := &fakeSub{err: errors.New("network gone")}
	panicking := &fakeSub{panics: true}

	require.NoError(t, r.Register(UserListKey(), ok))
	require.NoError(t, r.Register(ThreadKey("bob"), failing))
	require.NoError(t, r.Register(ThreadKey("ALL"), panicking))

	err := r.CancelAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network gone")
	assert.Contains(t, err.Error(), "panic")

	assert.EqualValues(t, 1, ok.cancels.Load())
	assert.EqualValues(t, 1, failing.cancels.Load())
	assert.EqualValues(t, 1, panicking.cancels.Load())
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Keys())
}

func TestCancelAll_Idempotent(t *testing.T) {
	r := New(nil)
	assert.NoError(t, r.CancelAll())

	sub := &fakeSub{}
	require.NoError(t, r.Register(UserListKey(), sub))
	require.NoError(t, r.CancelAll())
	require.NoError(t, r.CancelAll())
	assert.EqualValues(t, 1, sub.cancels.Load())
}

func TestKeys_Sorted(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(ThreadKey("zed"), &fakeSub{}))
	require.NoError(t, r.Register(ChatListKey(), &fakeSub{}))
	require.NoError(t, r.Register(ThreadKey("amy"), &fakeSub{}))

	assert.Equal(t, []Key{ChatListKey(), ThreadKey("amy"), ThreadKey("zed")}, r.Keys())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	subs := make([]*fakeSub, 50)
	for i := range subs {
		subs[i] = &fakeSub{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(ThreadKey(string(rune('a'+i%26))), subs[i])
		}(i)
	}
	wg.Wait()

	require.NoError(t, r.CancelAll())
	total := int32(0)
	for _, s := range subs {
		total += s.cancels.Load()
	}
	assert.EqualValues(t, 50, total, "every handle cancelled exactly once")
}
