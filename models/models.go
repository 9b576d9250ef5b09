package models

import (
	"time"
)

// TxStatus represents the lifecycle state of an escrow transaction
type TxStatus string

const (
	// StatusPending indicates buyer funds are held and the seller has not
	// been paid out yet
	StatusPending TxStatus = "pending"
	// StatusCompleted indicates the buyer confirmed and funds were released
	// to the seller
	StatusCompleted TxStatus = "completed"
)

// User represents a registered participant
type User struct {
	ID          int64
	TelegramID  int64
	Name        string
	Balance     float64
	LastUpdated time.Time // zero until the first balance mutation
	CreatedAt   time.Time
}

// Transaction represents a single escrow transfer between a buyer and a
// seller. It is created pending by the engine and completed exactly once.
type Transaction struct {
	ID          int64
	BuyerID     int64
	SellerID    int64
	Amount      float64
	Status      TxStatus
	CreatedAt   time.Time
	CompletedAt time.Time // zero until confirmed
}
