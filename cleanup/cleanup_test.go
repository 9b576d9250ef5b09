package cleanup

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/Jazaniest/ourMid/pool"
)

const grace = 20 * time.Millisecond

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeNotifier) Send(recipient int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("delivery failed")
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeChannels struct {
	mu         sync.Mutex
	evicted    []int64
	revoked    []string
	failEvict  bool
	failRevoke bool
}

func (f *fakeChannels) CreateInvite(channelID int64, maxUses int) (string, error) {
	return "invite", nil
}

func (f *fakeChannels) RevokeInvite(channelID int64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRevoke {
		return errors.New("revoke failed")
	}
	f.revoked = append(f.revoked, token)
	return nil
}

func (f *fakeChannels) Evict(channelID, identity int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEvict {
		return errors.New("evict failed")
	}
	f.evicted = append(f.evicted, identity)
	return nil
}

func (f *fakeChannels) MemberCount(channelID int64) (int, error) {
	return 0, nil
}

func (f *fakeChannels) evictedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.evicted)
}

func (f *fakeChannels) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

type fixture struct {
	pool     *pool.Pool
	notifier *fakeNotifier
	channels *fakeChannels
	sched    *Scheduler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	p := pool.New([]int64{-1, -2})
	n := &fakeNotifier{}
	c := &fakeChannels{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewScheduler(log, p, n, c, grace)
	t.Cleanup(s.Shutdown)
	return fixture{pool: p, notifier: n, channels: c, sched: s}
}

func (f fixture) busy(channelID int64) bool {
	for _, st := range f.pool.Status() {
		if st.ID == channelID {
			return st.Busy
		}
	}
	return false
}

func TestSchedule_ReleasesChannelAfterGrace(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.pool.Reserve(-1, 10, 20, "tok"))
	f.sched.Schedule(-1, []int64{10, 20})

	// Warning goes out immediately, channel is still held
	req.Equal(1, f.notifier.count())
	req.True(f.busy(-1))

	require.Eventually(t, func() bool { return !f.busy(-1) }, time.Second, 5*time.Millisecond)

	req.Equal(2, f.channels.evictedCount())
	req.Equal([]string{"tok"}, f.channels.revokedTokens())
	req.Equal(2, f.notifier.count())

	// The channel is immediately reusable for a new pair
	req.NoError(f.pool.Reserve(-1, 30, 40, ""))
}

func TestSchedule_ReleasesEvenWhenEveryStepFails(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.notifier.fail = true
	f.channels.failEvict = true
	f.channels.failRevoke = true

	req.NoError(f.pool.Reserve(-1, 10, 20, "tok"))
	f.sched.Schedule(-1, []int64{10, 20})

	require.Eventually(t, func() bool { return !f.busy(-1) }, time.Second, 5*time.Millisecond)
	req.Zero(f.channels.evictedCount())
}

func TestSchedule_SkipsRevokeWithoutToken(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.pool.Reserve(-1, 10, 20, ""))
	f.sched.Schedule(-1, []int64{10, 20})

	require.Eventually(t, func() bool { return !f.busy(-1) }, time.Second, 5*time.Millisecond)
	req.Empty(f.channels.revokedTokens())
}

func TestCancel_DisarmsPendingTimer(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.pool.Reserve(-1, 10, 20, "tok"))
	f.sched.Schedule(-1, []int64{10, 20})
	req.True(f.sched.Cancel(-1))

	time.Sleep(3 * grace)
	req.True(f.busy(-1))
	req.Zero(f.channels.evictedCount())

	// Cancelling again reports nothing was armed
	req.False(f.sched.Cancel(-1))
}

func TestReleaseNow_BeatsTheTimer(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.pool.Reserve(-1, 10, 20, "tok"))
	f.sched.Schedule(-1, []int64{10, 20})
	f.sched.ReleaseNow(-1)

	// Released immediately: invite revoked, nobody evicted
	req.False(f.busy(-1))
	req.Equal([]string{"tok"}, f.channels.revokedTokens())
	req.Zero(f.channels.evictedCount())

	// Reuse the channel; the old timer must not fire against it
	req.NoError(f.pool.Reserve(-1, 30, 40, ""))
	time.Sleep(3 * grace)
	req.True(f.busy(-1))
	req.Zero(f.channels.evictedCount())
}

func TestReleaseNow_OnFreeChannelIsNoOp(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	f.sched.ReleaseNow(-2)
	req.False(f.busy(-2))
	req.Empty(f.channels.revokedTokens())
}

func TestSchedule_TwiceKeepsOneTimer(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	req.NoError(f.pool.Reserve(-1, 10, 20, "tok"))
	f.sched.Schedule(-1, []int64{10, 20})
	f.sched.Schedule(-1, []int64{10, 20})

	require.Eventually(t, func() bool { return !f.busy(-1) }, time.Second, 5*time.Millisecond)
	time.Sleep(3 * grace)

	// One sweep, not two: each participant evicted exactly once
	req.Equal(2, f.channels.evictedCount())
}
