// Package transport defines the capability interfaces the core needs from
// the chat platform. The bot package implements them over Telegram; tests
// substitute fakes.
package transport

// Notifier delivers a best-effort outbound message to a user or channel.
// Failures are logged by callers, never treated as fatal.
type Notifier interface {
	Send(recipient int64, text string) error
}

// ChannelTransport exposes the channel-membership primitives. All of them
// are best-effort from the core's perspective except CreateInvite, whose
// failure aborts opening a deal.
type ChannelTransport interface {
	// CreateInvite mints an invite token for the channel, valid for at
	// most maxUses joins.
	CreateInvite(channelID int64, maxUses int) (string, error)
	// RevokeInvite invalidates a previously minted invite token.
	RevokeInvite(channelID int64, token string) error
	// Evict removes an identity from the channel without banning it from
	// joining other channels later.
	Evict(channelID, identity int64) error
	// MemberCount reports how many members the channel currently has.
	MemberCount(channelID int64) (int, error)
}
