package pool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Jazaniest/ourMid/models"
)

func TestAcquire_ScanOrderAndExhaustion(t *testing.T) {
	req := require.New(t)
	p := New([]int64{-300, -100, -200})

	// Scan follows configuration order, not numeric order
	first, err := p.Acquire(1, 2)
	req.NoError(err)
	req.Equal(int64(-300), first)

	second, err := p.Acquire(3, 4)
	req.NoError(err)
	req.Equal(int64(-100), second)

	third, err := p.Acquire(5, 6)
	req.NoError(err)
	req.Equal(int64(-200), third)

	_, err = p.Acquire(7, 8)
	req.ErrorIs(err, models.ErrNoFreeChannel)
}

func TestFindFree_NeverReturnsBusy(t *testing.T) {
	req := require.New(t)
	p := New([]int64{-1, -2})

	id, ok := p.FindFree()
	req.True(ok)
	req.Equal(int64(-1), id)

	req.NoError(p.Reserve(-1, 10, 20, ""))

	id, ok = p.FindFree()
	req.True(ok)
	req.Equal(int64(-2), id)

	req.NoError(p.Reserve(-2, 30, 40, ""))

	_, ok = p.FindFree()
	req.False(ok)
}

func TestReserve_Defensive(t *testing.T) {
	req := require.New(t)
	p := New([]int64{-1})

	req.NoError(p.Reserve(-1, 10, 20, "tok"))
	req.ErrorIs(p.Reserve(-1, 30, 40, ""), models.ErrAlreadyBusy)
	req.ErrorIs(p.Reserve(-99, 10, 20, ""), models.ErrNotFound)
}

func TestIsAllowed_ExactPair(t *testing.T) {
	req := require.New(t)
	p := New([]int64{-1, -2})

	req.NoError(p.Reserve(-1, 10, 20, ""))

	req.True(p.IsAllowed(-1, 10))
	req.True(p.IsAllowed(-1, 20))
	req.False(p.IsAllowed(-1, 30))
	// Free and unknown channels allow nobody
	req.False(p.IsAllowed(-2, 10))
	req.False(p.IsAllowed(-99, 10))
}

func TestRelease_Idempotent(t *testing.T) {
	req := require.New(t)
	p := New([]int64{-1})

	req.NoError(p.Reserve(-1, 10, 20, "tok"))
	p.Release(-1)
	snapshot := p.Status()

	// Releasing again, or releasing an unknown channel, changes nothing
	p.Release(-1)
	p.Release(-99)
	req.Equal(snapshot, p.Status())

	req.False(p.IsAllowed(-1, 10))
	_, ok := p.InviteToken(-1)
	req.False(ok)

	// The channel is reusable for a new pair
	req.NoError(p.Reserve(-1, 30, 40, ""))
	req.True(p.IsAllowed(-1, 30))
	req.False(p.IsAllowed(-1, 10))
}

func TestInviteAndTransactionBookkeeping(t *testing.T) {
	req := require.New(t)
	p := New([]int64{-1})

	id, err := p.Acquire(10, 20)
	req.NoError(err)

	req.NoError(p.SetInvite(id, "https://t.me/+abc"))
	tok, ok := p.InviteToken(id)
	req.True(ok)
	req.Equal("https://t.me/+abc", tok)

	req.NoError(p.AttachTransaction(id, 7))
	status := p.Status()
	req.Len(status, 1)
	req.Equal(int64(7), status[0].TxID)

	ch, tok2, ok := p.FindByInitiator(10)
	req.True(ok)
	req.Equal(id, ch)
	req.Equal("https://t.me/+abc", tok2)

	_, _, ok = p.FindByInitiator(20)
	req.False(ok)

	p.Release(id)
	req.ErrorIs(p.SetInvite(id, "x"), models.ErrNotFound)
	req.ErrorIs(p.AttachTransaction(id, 8), models.ErrNotFound)
}

func TestParticipants(t *testing.T) {
	req := require.New(t)
	p := New([]int64{-1})

	_, _, ok := p.Participants(-1)
	req.False(ok)

	req.NoError(p.Reserve(-1, 10, 20, ""))
	initiator, partner, ok := p.Participants(-1)
	req.True(ok)
	req.Equal(int64(10), initiator)
	req.Equal(int64(20), partner)
}

func TestAcquire_ConcurrentOpenersGetDistinctChannels(t *testing.T) {
	req := require.New(t)
	ids := []int64{-1, -2, -3, -4}
	p := New(ids)

	const openers = 10
	acquired := make(chan int64, openers)
	var wg sync.WaitGroup
	var failed int64Counter
	for i := 0; i < openers; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			id, err := p.Acquire(n, n+1000)
			if err != nil {
				failed.inc()
				return
			}
			acquired <- id
		}(int64(i))
	}
	wg.Wait()
	close(acquired)

	seen := make(map[int64]bool)
	for id := range acquired {
		req.False(seen[id], "channel %d handed out twice", id)
		seen[id] = true
	}
	req.Len(seen, len(ids))
	req.Equal(openers-len(ids), failed.get())
}

type int64Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int64Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int64Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
