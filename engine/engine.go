// Package engine implements the escrow transaction lifecycle: Open debits
// the buyer and records a pending transaction, Confirm releases the funds to
// the seller exactly once.
package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Jazaniest/ourMid/gating"
	"github.com/Jazaniest/ourMid/ledger"
	"github.com/Jazaniest/ourMid/models"
)

// Engine creates and confirms escrow transactions against the ledger
type Engine struct {
	// mu serializes Confirm so the status check and the seller credit
	// cannot interleave between two confirmers of the same transaction
	mu     sync.Mutex
	ledger *ledger.Ledger
	now    func() time.Time
}

// New creates a transaction engine over the given ledger
func New(l *ledger.Ledger) *Engine {
	return &Engine{ledger: l, now: time.Now}
}

// Open debits the buyer and records a new pending transaction. If the debit
// fails the transaction is never recorded, so there is no partial state.
func (e *Engine) Open(buyerID, sellerID int64, amount float64) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, errors.Wrapf(models.ErrInvalidAmount, "amount %v", amount)
	}

	buyer, err := e.ledger.UserByID(buyerID)
	if err != nil {
		return models.Transaction{}, errors.Wrap(err, "buyer")
	}
	seller, err := e.ledger.UserByID(sellerID)
	if err != nil {
		return models.Transaction{}, errors.Wrap(err, "seller")
	}
	if !gating.CanTransact(buyer, seller) {
		return models.Transaction{}, errors.Wrap(models.ErrUnauthorized, "buyer and seller must differ")
	}

	txID, err := e.ledger.NextTransactionID()
	if err != nil {
		return models.Transaction{}, err
	}

	if err := e.ledger.Debit(buyer.ID, amount); err != nil {
		return models.Transaction{}, err
	}

	tx := models.Transaction{
		ID:        txID,
		BuyerID:   buyer.ID,
		SellerID:  seller.ID,
		Amount:    amount,
		Status:    models.StatusPending,
		CreatedAt: e.now(),
	}
	if err := e.ledger.InsertTransaction(tx); err != nil {
		// Put the held funds back; the open produced no record.
		if creditErr := e.ledger.Credit(buyer.ID, amount); creditErr != nil {
			return models.Transaction{}, errors.Wrap(err, "insert failed and refund failed")
		}
		return models.Transaction{}, err
	}
	return tx, nil
}

// Confirm releases a pending transaction's funds to the seller. Only the
// recorded buyer may confirm, and only once.
func (e *Engine) Confirm(txID, confirmerID int64) (models.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.ledger.TransactionByID(txID)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.Status != models.StatusPending {
		return models.Transaction{}, errors.Wrapf(models.ErrAlreadyProcessed, "transaction %d", txID)
	}
	if tx.BuyerID != confirmerID {
		return models.Transaction{}, errors.Wrapf(models.ErrUnauthorized, "transaction %d can only be confirmed by its buyer", txID)
	}

	if err := e.ledger.Credit(tx.SellerID, tx.Amount); err != nil {
		return models.Transaction{}, err
	}

	completedAt := e.now()
	if err := e.ledger.CompleteTransaction(txID, completedAt); err != nil {
		return models.Transaction{}, err
	}

	tx.Status = models.StatusCompleted
	tx.CompletedAt = completedAt
	return tx, nil
}
