// Package gating holds the pure authorization predicates guarding every
// payment-affecting operation. Violations surface as models.ErrUnauthorized
// at the call sites; the predicates themselves have no side effects.
package gating

import (
	"github.com/Jazaniest/ourMid/models"
	"github.com/Jazaniest/ourMid/pool"
)

// CanActIn reports whether the identity may act inside the given channel,
// i.e. is one of its two reserved participants.
func CanActIn(p *pool.Pool, channelID, identity int64) bool {
	return p.IsAllowed(channelID, identity)
}

// CanTransact reports whether the two users may transact with each other.
// Self-dealing is never allowed.
func CanTransact(buyer, seller models.User) bool {
	return buyer.TelegramID != seller.TelegramID
}
