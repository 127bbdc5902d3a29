// ABOUTME: Tests for the write dedupe cache
// ABOUTME: Validates TTL expiry, eviction order, Forget, sweeping and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestCheckAndMark(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	key := Key("messages", "m1")
	assert.Equal(t, "messages/m1", key)
	assert.False(t, c.Seen(key))
	assert.False(t, c.CheckAndMark(key), "first write is new")
	assert.True(t, c.CheckAndMark(key), "second write is a duplicate")
	assert.True(t, c.Seen(key))
	assert.False(t, c.Seen(Key("users", "m1")), "collections do not collide")
}

func TestExpiry(t *testing.T) {
	clock := newClock()
	c := New(time.Minute, 10, WithClock(clock.Now))
	defer c.Close()

	assert.False(t, c.CheckAndMark("k"))
	clock.Advance(59 * time.Second)
	assert.True(t, c.Seen("k"))
	clock.Advance(time.Second)
	assert.False(t, c.Seen("k"))
	assert.False(t, c.CheckAndMark("k"), "expired key counts as new")
	assert.Equal(t, 1, c.Len())
}

func TestEvictsOldest(t *testing.T) {
	c := New(time.Hour, 3)
	defer c.Close()

	for i := 1; i <= 4; i++ {
		c.CheckAndMark(fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("k1"))
	for i := 2; i <= 4; i++ {
		assert.True(t, c.Seen(fmt.Sprintf("k%d", i)))
	}
}

func TestForget(t *testing.T) {
	c := New(time.Hour, 10)
	defer c.Close()

	c.CheckAndMark("k")
	c.Forget("k")
	c.Forget("missing")
	assert.False(t, c.CheckAndMark("k"), "forgotten key can be written again")
}

func TestSweep(t *testing.T) {
	clock := newClock()
	c := New(time.Minute, 10, WithClock(clock.Now))
	defer c.Close()

	c.CheckAndMark("old1")
	c.CheckAndMark("old2")
	clock.Advance(30 * time.Second)
	c.CheckAndMark("new")
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("new"))
}

func TestSweepLoopStopsOnClose(t *testing.T) {
	c := New(time.Millisecond, 10, WithSweepInterval(time.Millisecond))
	c.CheckAndMark("k")
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	c.Close()
	c.Close()
}

func TestDefaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()
	assert.Equal(t, 5*time.Minute, c.ttl)
	assert.Equal(t, 10000, c.maxSize)
}

func TestConcurrentCheckAndMark(t *testing.T) {
	c := New(time.Hour, 1000)
	defer c.Close()

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !c.CheckAndMark("same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), fresh.Load(), "exactly one writer wins")
}
