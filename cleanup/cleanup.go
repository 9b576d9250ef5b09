// Package cleanup reclaims escrow channels after a deal completes. Each
// channel gets at most one armed grace timer; when it fires the scheduler
// sweeps the channel with best-effort side actions and then releases it back
// to the pool unconditionally.
package cleanup

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jazaniest/ourMid/pool"
	"github.com/Jazaniest/ourMid/transport"
)

// Scheduler owns the per-channel cleanup timers. Timer state is guarded by
// a mutex so a Cancel racing an already-firing timer resolves cleanly: the
// firing callback re-checks its registration and backs off if it lost.
type Scheduler struct {
	log      *slog.Logger
	pool     *pool.Pool
	notifier transport.Notifier
	channels transport.ChannelTransport
	grace    time.Duration

	mu     sync.Mutex
	timers map[int64]*time.Timer
	// gens distinguishes a live timer from a stale callback of a timer
	// that was replaced or cancelled after it started firing
	gens map[int64]uint64
}

// NewScheduler creates a scheduler with the given grace delay
func NewScheduler(log *slog.Logger, p *pool.Pool, notifier transport.Notifier, channels transport.ChannelTransport, grace time.Duration) *Scheduler {
	return &Scheduler{
		log:      log,
		pool:     p,
		notifier: notifier,
		channels: channels,
		grace:    grace,
		timers:   make(map[int64]*time.Timer),
		gens:     make(map[int64]uint64),
	}
}

// Schedule warns the channel that it will be reclaimed and arms the grace
// timer. Re-scheduling an already-scheduled channel resets its timer, so a
// channel never has more than one armed.
func (s *Scheduler) Schedule(channelID int64, participants []int64) {
	warning := fmt.Sprintf("Transaction complete. Participants will be removed from this group in %s.", s.grace)
	if err := s.notifier.Send(channelID, warning); err != nil {
		s.log.Warn("cleanup warning not delivered", "channel", channelID, "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[channelID]; ok {
		t.Stop()
	}
	s.gens[channelID]++
	gen := s.gens[channelID]
	s.timers[channelID] = time.AfterFunc(s.grace, func() {
		s.fire(channelID, participants, gen)
	})
	s.log.Info("cleanup scheduled", "channel", channelID, "grace", s.grace)
}

// Cancel disarms a pending cleanup timer. Reports whether a timer was
// actually armed.
func (s *Scheduler) Cancel(channelID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(channelID)
}

func (s *Scheduler) cancelLocked(channelID int64) bool {
	t, ok := s.timers[channelID]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, channelID)
	return true
}

// ReleaseNow handles the external "channel is already empty" signal: it
// cancels any pending timer, revokes the invite if one is recorded, and
// releases the channel immediately. Nobody is evicted because nobody is
// left.
func (s *Scheduler) ReleaseNow(channelID int64) {
	s.mu.Lock()
	s.cancelLocked(channelID)
	s.mu.Unlock()

	s.revokeInvite(channelID)
	s.pool.Release(channelID)
	s.log.Info("channel released early", "channel", channelID)
}

// Shutdown disarms every pending timer, for process teardown
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// fire runs when the grace timer elapses. Every side action is best-effort;
// the pool release at the end runs regardless of what failed before it.
func (s *Scheduler) fire(channelID int64, participants []int64, gen uint64) {
	s.mu.Lock()
	if _, ok := s.timers[channelID]; !ok || s.gens[channelID] != gen {
		// Cancelled or superseded between the timer firing and us
		// acquiring the lock.
		s.mu.Unlock()
		return
	}
	delete(s.timers, channelID)
	s.mu.Unlock()

	for _, identity := range participants {
		if err := s.channels.Evict(channelID, identity); err != nil {
			s.log.Warn("could not evict participant", "channel", channelID, "identity", identity, "err", err)
		}
	}

	s.revokeInvite(channelID)

	if err := s.notifier.Send(channelID, "This group has been cleaned up. Thank you for using the escrow service."); err != nil {
		s.log.Warn("final cleanup notice not delivered", "channel", channelID, "err", err)
	}

	s.pool.Release(channelID)
	s.log.Info("channel released", "channel", channelID)
}

func (s *Scheduler) revokeInvite(channelID int64) {
	token, ok := s.pool.InviteToken(channelID)
	if !ok {
		return
	}
	if err := s.channels.RevokeInvite(channelID, token); err != nil {
		s.log.Warn("could not revoke invite", "channel", channelID, "err", err)
	}
}
