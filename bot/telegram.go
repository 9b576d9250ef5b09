package bot

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/tucnak/telebot.v2"
)

// Transport adapts a telebot.Bot to the capability interfaces the core
// depends on (transport.Notifier and transport.ChannelTransport).
type Transport struct {
	tb *telebot.Bot
}

// NewTransport wraps an existing telebot instance
func NewTransport(tb *telebot.Bot) *Transport {
	return &Transport{tb: tb}
}

// Send delivers a text message to a user or group chat
func (t *Transport) Send(recipient int64, text string) error {
	_, err := t.tb.Send(&telebot.Chat{ID: recipient}, text)
	return err
}

// CreateInvite mints a joinable invite link for the group, limited to
// maxUses members. Invite-link management postdates the wrapped telebot
// release, so the call goes through the raw Bot API.
func (t *Transport) CreateInvite(channelID int64, maxUses int) (string, error) {
	data, err := t.tb.Raw("createChatInviteLink", map[string]interface{}{
		"chat_id":      channelID,
		"member_limit": maxUses,
	})
	if err != nil {
		return "", errors.Wrap(err, "createChatInviteLink")
	}

	var resp struct {
		Result struct {
			InviteLink string `json:"invite_link"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", errors.Wrap(err, "createChatInviteLink response")
	}
	if resp.Result.InviteLink == "" {
		return "", errors.New("createChatInviteLink returned no link")
	}
	return resp.Result.InviteLink, nil
}

// RevokeInvite invalidates a previously created invite link
func (t *Transport) RevokeInvite(channelID int64, token string) error {
	_, err := t.tb.Raw("revokeChatInviteLink", map[string]interface{}{
		"chat_id":     channelID,
		"invite_link": token,
	})
	return errors.Wrap(err, "revokeChatInviteLink")
}

// Evict removes a member from the group. Ban followed by an immediate unban
// kicks the user out without blocking them from joining other pool groups
// later.
func (t *Transport) Evict(channelID, identity int64) error {
	chat := &telebot.Chat{ID: channelID}
	user := &telebot.User{ID: identity}

	if err := t.tb.Ban(chat, &telebot.ChatMember{User: user}); err != nil {
		return errors.Wrap(err, "ban")
	}
	if err := t.tb.Unban(chat, user); err != nil {
		return errors.Wrap(err, "unban")
	}
	return nil
}

// MemberCount reports the current number of members in the group
func (t *Transport) MemberCount(channelID int64) (int, error) {
	return t.tb.Len(&telebot.Chat{ID: channelID})
}
