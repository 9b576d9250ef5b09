package pool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/Jazaniest/ourMid/models"
)

// channel is the tracked state of one pooled group chat
type channel struct {
	busy        bool
	initiator   int64
	partner     int64
	inviteToken string
	txID        int64
}

// ChannelStatus is a read-only snapshot of one channel, for the admin surface
type ChannelStatus struct {
	ID          int64  `json:"id"`
	Busy        bool   `json:"busy"`
	Initiator   int64  `json:"initiator,omitempty"`
	Partner     int64  `json:"partner,omitempty"`
	InviteToken string `json:"invite_token,omitempty"`
	TxID        int64  `json:"transaction_id,omitempty"`
}

// Pool owns the fixed set of reusable escrow channels. All state lives
// behind one mutex; in particular the free-channel scan and the reservation
// are a single critical section, so two concurrent openers can never be
// handed the same channel.
type Pool struct {
	mu       sync.Mutex
	order    []int64
	channels map[int64]*channel
}

// New builds a pool over the configured channel ids. Scan order follows the
// configuration order.
func New(channelIDs []int64) *Pool {
	p := &Pool{
		order:    append([]int64(nil), channelIDs...),
		channels: make(map[int64]*channel, len(channelIDs)),
	}
	for _, id := range channelIDs {
		p.channels[id] = &channel{}
	}
	return p
}

// Contains reports whether the id belongs to the configured pool
func (p *Pool) Contains(channelID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[channelID]
	return ok
}

// FindFree returns the first free channel in scan order. The caller should
// normally use Acquire instead; FindFree alone cannot guarantee the channel
// is still free by the time it is reserved.
func (p *Pool) FindFree() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.findFreeLocked()
	return id, ok
}

func (p *Pool) findFreeLocked() (int64, bool) {
	for _, id := range p.order {
		if !p.channels[id].busy {
			return id, true
		}
	}
	return 0, false
}

// Acquire finds the first free channel and reserves it for the pair in one
// critical section. Returns models.ErrNoFreeChannel when the pool is
// exhausted.
func (p *Pool) Acquire(initiator, partner int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.findFreeLocked()
	if !ok {
		return 0, models.ErrNoFreeChannel
	}
	p.reserveLocked(id, initiator, partner, "")
	return id, nil
}

// Reserve transitions a specific channel from free to busy for the given
// pair. Fails with models.ErrAlreadyBusy if the channel is not free, and
// models.ErrNotFound if it is not part of the pool.
func (p *Pool) Reserve(channelID, initiator, partner int64, inviteToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok {
		return errors.Wrapf(models.ErrNotFound, "channel %d", channelID)
	}
	if ch.busy {
		return errors.Wrapf(models.ErrAlreadyBusy, "channel %d", channelID)
	}
	p.reserveLocked(channelID, initiator, partner, inviteToken)
	return nil
}

func (p *Pool) reserveLocked(channelID, initiator, partner int64, inviteToken string) {
	ch := p.channels[channelID]
	ch.busy = true
	ch.initiator = initiator
	ch.partner = partner
	ch.inviteToken = inviteToken
	ch.txID = 0
}

// SetInvite records the invite token for a busy channel. The token is only
// known after the reservation, because the transport mints it against the
// concrete channel id.
func (p *Pool) SetInvite(channelID int64, inviteToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok || !ch.busy {
		return errors.Wrapf(models.ErrNotFound, "no active reservation for channel %d", channelID)
	}
	ch.inviteToken = inviteToken
	return nil
}

// IsAllowed reports whether the identity is one of the two reserved
// participants of a busy channel. Free and unknown channels allow nobody.
func (p *Pool) IsAllowed(channelID, identity int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok || !ch.busy {
		return false
	}
	return ch.initiator == identity || ch.partner == identity
}

// AttachTransaction records which transaction is in flight on the channel
func (p *Pool) AttachTransaction(channelID, txID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok || !ch.busy {
		return errors.Wrapf(models.ErrNotFound, "no active reservation for channel %d", channelID)
	}
	ch.txID = txID
	return nil
}

// InviteToken returns the invite token recorded for a busy channel, if any
func (p *Pool) InviteToken(channelID int64) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok || !ch.busy || ch.inviteToken == "" {
		return "", false
	}
	return ch.inviteToken, true
}

// Participants returns the reserved pair of a busy channel
func (p *Pool) Participants(channelID int64) (initiator, partner int64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, chOK := p.channels[channelID]
	if !chOK || !ch.busy {
		return 0, 0, false
	}
	return ch.initiator, ch.partner, true
}

// Release returns a channel to the free state and clears the pair, invite
// token and transaction id. Idempotent: releasing a free or unknown channel
// is a no-op.
func (p *Pool) Release(channelID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok {
		return
	}
	*ch = channel{}
}

// FindByInitiator returns the channel and invite token held by the given
// initiator, used to locate which invite to revoke.
func (p *Pool) FindByInitiator(initiator int64) (int64, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range p.order {
		ch := p.channels[id]
		if ch.busy && ch.initiator == initiator {
			return id, ch.inviteToken, true
		}
	}
	return 0, "", false
}

// Status snapshots every channel in scan order, for the admin surface
func (p *Pool) Status() []ChannelStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ChannelStatus, 0, len(p.order))
	for _, id := range p.order {
		ch := p.channels[id]
		out = append(out, ChannelStatus{
			ID:          id,
			Busy:        ch.busy,
			Initiator:   ch.initiator,
			Partner:     ch.partner,
			InviteToken: ch.inviteToken,
			TxID:        ch.txID,
		})
	}
	return out
}
