package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gopkg.in/tucnak/telebot.v2"

	"github.com/Jazaniest/ourMid/cleanup"
	"github.com/Jazaniest/ourMid/config"
	"github.com/Jazaniest/ourMid/engine"
	"github.com/Jazaniest/ourMid/gating"
	"github.com/Jazaniest/ourMid/ledger"
	"github.com/Jazaniest/ourMid/models"
	"github.com/Jazaniest/ourMid/pool"
)

// Bot represents the Telegram front-end with its dependencies
type Bot struct {
	teleBot   *telebot.Bot
	transport *Transport
	ledger    *ledger.Ledger
	engine    *engine.Engine
	pool      *pool.Pool
	cleaner   *cleanup.Scheduler
	log       *slog.Logger
}

// NewTeleBot creates the underlying telebot instance with long polling
func NewTeleBot(cfg *config.Config) (*telebot.Bot, error) {
	return telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
	})
}

// New wires the command front-end over the already-constructed core
func New(tb *telebot.Bot, tr *Transport, l *ledger.Ledger, e *engine.Engine, p *pool.Pool, c *cleanup.Scheduler, log *slog.Logger) *Bot {
	return &Bot{
		teleBot:   tb,
		transport: tr,
		ledger:    l,
		engine:    e,
		pool:      p,
		cleaner:   c,
		log:       log,
	}
}

func isPrivateChat(chat *telebot.Chat) bool {
	return chat.Type == telebot.ChatPrivate
}

func isGroupChat(chat *telebot.Chat) bool {
	return chat.Type == telebot.ChatGroup || chat.Type == telebot.ChatSuperGroup
}

// reply sends a message into the chat the command came from
func (b *Bot) reply(m *telebot.Message, text string) {
	if _, err := b.teleBot.Send(m.Chat, text); err != nil {
		b.log.Warn("reply not delivered", "chat", m.Chat.ID, "err", err)
	}
}

// notify sends a private message to a user, best-effort
func (b *Bot) notify(telegramID int64, text string) {
	if err := b.transport.Send(telegramID, text); err != nil {
		b.log.Warn("notification not delivered", "recipient", telegramID, "err", err)
	}
}

// friendlyError turns a business-rule error into a human-readable reply
func friendlyError(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "❌ User or transaction not found. Make sure both parties are registered."
	case errors.Is(err, models.ErrAlreadyExists):
		return "⚠️ You are already registered."
	case errors.Is(err, models.ErrNoFreeChannel):
		return "❌ All escrow groups are busy right now, please try again later."
	case errors.Is(err, models.ErrInsufficientFunds):
		return "❌ Insufficient balance for this payment."
	case errors.Is(err, models.ErrUnauthorized):
		return "❌ You are not allowed to do that."
	case errors.Is(err, models.ErrAlreadyProcessed):
		return "❌ This transaction has already been processed."
	case errors.Is(err, models.ErrInvalidAmount):
		return "❌ Amount must be a positive number."
	default:
		return fmt.Sprintf("❌ Error: %v", err)
	}
}

// registerUser handles /register (private chat only)
func (b *Bot) registerUser(m *telebot.Message) {
	if !isPrivateChat(m.Chat) {
		b.reply(m, "❌ /register can only be used in a private chat with the bot.")
		return
	}

	username := m.Sender.Username
	if username == "" {
		username = fmt.Sprintf("user%d", m.Sender.ID)
	}

	user, err := b.ledger.CreateUser(m.Sender.ID, username)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	b.reply(m, fmt.Sprintf("✅ Successfully registered as %s", user.Name))
}

// showBalance handles /balance (private chat only)
func (b *Bot) showBalance(m *telebot.Message) {
	if !isPrivateChat(m.Chat) {
		b.reply(m, "❌ /balance can only be used in a private chat with the bot.")
		return
	}

	user, err := b.ledger.UserByTelegramID(m.Sender.ID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	b.reply(m, fmt.Sprintf("💰 Your balance: %g", user.Balance))
}

// showTransactions handles /transactions (private chat only)
func (b *Bot) showTransactions(m *telebot.Message) {
	if !isPrivateChat(m.Chat) {
		b.reply(m, "❌ /transactions can only be used in a private chat with the bot.")
		return
	}

	user, err := b.ledger.UserByTelegramID(m.Sender.ID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	txs, err := b.ledger.TransactionsByUser(user.ID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	if len(txs) == 0 {
		b.reply(m, "No transactions yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 Your transactions:\n")
	for _, tx := range txs {
		role := "buyer"
		if tx.SellerID == user.ID {
			role = "seller"
		}
		sb.WriteString(fmt.Sprintf("#%d — amount %g, %s, you are the %s\n", tx.ID, tx.Amount, tx.Status, role))
	}
	b.reply(m, sb.String())
}

// openDealRoom handles /createtransaction <username> (private chat only):
// allocates an escrow group from the pool, reserves it for the pair and
// hands out a two-use invite link.
func (b *Bot) openDealRoom(m *telebot.Message) {
	if !isPrivateChat(m.Chat) {
		b.reply(m, "❌ /createtransaction can only be used in a private chat with the bot.")
		return
	}

	args := strings.Fields(m.Text)
	if len(args) != 2 {
		b.reply(m, "Usage: /createtransaction <username>")
		return
	}

	initiator, err := b.ledger.UserByTelegramID(m.Sender.ID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	partner, err := b.ledger.UserByName(strings.TrimPrefix(args[1], "@"))
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	if !gating.CanTransact(initiator, partner) {
		b.reply(m, "❌ You cannot open a transaction with yourself.")
		return
	}

	// One room per initiator: hand back the existing invite instead of
	// draining the pool.
	if _, existing, ok := b.pool.FindByInitiator(initiator.TelegramID); ok {
		if existing != "" {
			b.reply(m, fmt.Sprintf("🔗 You already have an open deal room: %s", existing))
		} else {
			b.reply(m, "⚠️ You already have an open deal room.")
		}
		return
	}

	channelID, err := b.pool.Acquire(initiator.TelegramID, partner.TelegramID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}

	invite, err := b.transport.CreateInvite(channelID, 2)
	if err != nil {
		// A room without a way in is useless; give it back.
		b.pool.Release(channelID)
		b.log.Error("could not create invite link", "channel", channelID, "err", err)
		b.reply(m, "❌ Could not create an invite link, please try again later.")
		return
	}
	if err := b.pool.SetInvite(channelID, invite); err != nil {
		b.log.Warn("could not record invite", "channel", channelID, "err", err)
	}

	b.log.Info("deal room opened", "channel", channelID, "initiator", initiator.TelegramID, "partner", partner.TelegramID)
	b.notify(partner.TelegramID, fmt.Sprintf("📩 Chat invite from %s: %s", initiator.Name, invite))
	b.reply(m, fmt.Sprintf("🔗 Invite link: %s", invite))
}

// groupGate runs the checks shared by every in-group command: the chat must
// be one of the configured escrow groups and the sender must be one of its
// two reserved participants.
func (b *Bot) groupGate(m *telebot.Message, command string) bool {
	if !isGroupChat(m.Chat) {
		b.reply(m, fmt.Sprintf("❌ %s can only be used inside a group.", command))
		return false
	}
	if !b.pool.Contains(m.Chat.ID) {
		b.reply(m, fmt.Sprintf("❌ %s can only be used in an official escrow group.", command))
		return false
	}
	if !gating.CanActIn(b.pool, m.Chat.ID, m.Sender.ID) {
		b.reply(m, "❌ You are not allowed to transact in this group.")
		return false
	}
	return true
}

// pay handles /pay <username> <amount> (escrow group only)
func (b *Bot) pay(m *telebot.Message) {
	if !b.groupGate(m, "/pay") {
		return
	}

	args := strings.Fields(m.Text)
	if len(args) != 3 {
		b.reply(m, "Usage: /pay <username> <amount>")
		return
	}
	amount, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		b.reply(m, "Usage: /pay <username> <amount>")
		return
	}

	buyer, err := b.ledger.UserByTelegramID(m.Sender.ID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	seller, err := b.ledger.UserByName(strings.TrimPrefix(args[1], "@"))
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	if !gating.CanActIn(b.pool, m.Chat.ID, seller.TelegramID) {
		b.reply(m, "❌ That user is not allowed to receive payments in this group.")
		return
	}

	tx, err := b.engine.Open(buyer.ID, seller.ID, amount)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}
	if err := b.pool.AttachTransaction(m.Chat.ID, tx.ID); err != nil {
		b.log.Warn("could not attach transaction to channel", "channel", m.Chat.ID, "tx", tx.ID, "err", err)
	}

	b.log.Info("payment opened", "tx", tx.ID, "buyer", buyer.ID, "seller", seller.ID, "amount", tx.Amount)
	b.reply(m, fmt.Sprintf("✅ Payment request created: Transaction ID=%d, amount=%g.", tx.ID, tx.Amount))
	b.reply(m, "ℹ️ Use /confirm <transactionId> to end this transaction.")
	b.notify(seller.TelegramID, fmt.Sprintf("💸 New payment request: ID=%d, from %s, amount=%g.", tx.ID, buyer.Name, tx.Amount))
}

// confirm handles /confirm <transactionId> (escrow group only). A successful
// confirmation releases the funds and hands the group to the cleanup
// scheduler.
func (b *Bot) confirm(m *telebot.Message) {
	if !b.groupGate(m, "/confirm") {
		return
	}

	args := strings.Fields(m.Text)
	if len(args) != 2 {
		b.reply(m, "Usage: /confirm <transactionId>")
		return
	}
	txID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		b.reply(m, "Usage: /confirm <transactionId>")
		return
	}

	buyer, err := b.ledger.UserByTelegramID(m.Sender.ID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}

	tx, err := b.engine.Confirm(txID, buyer.ID)
	if err != nil {
		b.reply(m, friendlyError(err))
		return
	}

	b.reply(m, fmt.Sprintf("✅ Transaction ID=%d confirmed. Funds released (%g).", tx.ID, tx.Amount))

	participants := []int64{buyer.TelegramID}
	seller, err := b.ledger.UserByID(tx.SellerID)
	if err != nil {
		b.log.Warn("could not load seller for notification", "tx", tx.ID, "err", err)
	} else {
		b.notify(seller.TelegramID, fmt.Sprintf("💰 You received %g for Transaction ID=%d.", tx.Amount, tx.ID))
		participants = append(participants, seller.TelegramID)
	}

	b.log.Info("transaction confirmed", "tx", tx.ID, "channel", m.Chat.ID)
	b.cleaner.Schedule(m.Chat.ID, participants)
}

// memberLeft fires on every departure from a chat the bot can see. Once an
// escrow group only has the bot left in it, any pending cleanup timer is
// cancelled and the group is released immediately.
func (b *Bot) memberLeft(m *telebot.Message) {
	if !b.pool.Contains(m.Chat.ID) {
		return
	}
	count, err := b.transport.MemberCount(m.Chat.ID)
	if err != nil {
		b.log.Warn("could not check member count", "channel", m.Chat.ID, "err", err)
		return
	}
	if count <= 1 {
		b.log.Info("escrow group emptied, releasing", "channel", m.Chat.ID)
		b.cleaner.ReleaseNow(m.Chat.ID)
	}
}

// showHelp displays help information for the current chat type
func (b *Bot) showHelp(m *telebot.Message) {
	if isGroupChat(m.Chat) {
		b.reply(m, "📋 Group commands:\n\n"+
			"💸 /pay <username> <amount> — create a payment\n"+
			"✅ /confirm <transactionId> — confirm a transaction\n"+
			"❓ /help — show this help")
		return
	}
	b.reply(m, "📋 Private commands:\n\n"+
		"🔐 /register — join the system\n"+
		"💰 /balance — check your balance\n"+
		"📋 /transactions — list your transactions\n"+
		"🤝 /createtransaction <username> — open a deal room\n"+
		"❓ /help — show this help")
}

// Start registers the command handlers and begins long polling
func (b *Bot) Start() {
	b.teleBot.Handle("/register", b.registerUser)
	b.teleBot.Handle("/balance", b.showBalance)
	b.teleBot.Handle("/transactions", b.showTransactions)
	b.teleBot.Handle("/createtransaction", b.openDealRoom)
	b.teleBot.Handle("/pay", b.pay)
	b.teleBot.Handle("/confirm", b.confirm)
	b.teleBot.Handle("/help", b.showHelp)
	b.teleBot.Handle(telebot.OnUserLeft, b.memberLeft)

	// Anything else starting with a slash is an unknown command
	b.teleBot.Handle(telebot.OnText, func(m *telebot.Message) {
		if strings.HasPrefix(strings.TrimSpace(m.Text), "/") {
			b.reply(m, "❌ Unknown command. Type /help to see the available commands.")
		}
	})

	b.log.Info("bot started, accepting commands")
	b.teleBot.Start()
}

// Stop halts the long-polling loop
func (b *Bot) Stop() {
	b.teleBot.Stop()
}
