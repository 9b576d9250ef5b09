package ledger

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/Jazaniest/ourMid/models"
)

// Ledger is the durable store of user balances and transaction records. All
// balance mutations are conditional single-statement updates, so concurrent
// debits against the same user serialize in the database instead of racing
// through a read-modify-write cycle.
type Ledger struct {
	db *sql.DB
}

// Open initializes the database connection and schema
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// sqlite allows a single writer; one connection avoids SQLITE_BUSY
	// under concurrent mutations and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			telegram_id INTEGER NOT NULL UNIQUE,
			name TEXT NOT NULL,
			balance REAL NOT NULL DEFAULT 0,
			last_updated TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY,
			buyer_id INTEGER NOT NULL,
			seller_id INTEGER NOT NULL,
			amount REAL NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			FOREIGN KEY(buyer_id) REFERENCES users(id),
			FOREIGN KEY(seller_id) REFERENCES users(id)
		);
		CREATE TABLE IF NOT EXISTS tx_seq (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			next INTEGER NOT NULL
		);
		INSERT OR IGNORE INTO tx_seq (id, next) VALUES (1, 1);
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create schema")
	}

	return &Ledger{db: db}, nil
}

// CreateUser registers a new user with a zero balance. Returns
// models.ErrAlreadyExists if the telegram id is already registered.
func (l *Ledger) CreateUser(telegramID int64, name string) (models.User, error) {
	now := time.Now()
	res, err := l.db.Exec(
		"INSERT INTO users (telegram_id, name, created_at) VALUES (?, ?, ?)",
		telegramID, name, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if stderrors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return models.User{}, errors.Wrapf(models.ErrAlreadyExists, "telegram id %d", telegramID)
		}
		return models.User{}, errors.Wrap(err, "failed to register user")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return models.User{}, errors.Wrap(err, "failed to read new user id")
	}

	return models.User{
		ID:         id,
		TelegramID: telegramID,
		Name:       name,
		Balance:    0,
		CreatedAt:  now,
	}, nil
}

// UserByTelegramID looks up a user by the external telegram identity
func (l *Ledger) UserByTelegramID(telegramID int64) (models.User, error) {
	return l.scanUser(l.db.QueryRow(
		"SELECT id, telegram_id, name, balance, last_updated, created_at FROM users WHERE telegram_id = ?",
		telegramID,
	))
}

// UserByName looks up a user by display name
func (l *Ledger) UserByName(name string) (models.User, error) {
	return l.scanUser(l.db.QueryRow(
		"SELECT id, telegram_id, name, balance, last_updated, created_at FROM users WHERE name = ?",
		name,
	))
}

// UserByID looks up a user by internal id
func (l *Ledger) UserByID(id int64) (models.User, error) {
	return l.scanUser(l.db.QueryRow(
		"SELECT id, telegram_id, name, balance, last_updated, created_at FROM users WHERE id = ?",
		id,
	))
}

func (l *Ledger) scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	var lastUpdated sql.NullTime
	err := row.Scan(&u.ID, &u.TelegramID, &u.Name, &u.Balance, &lastUpdated, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return models.User{}, models.ErrNotFound
	}
	if err != nil {
		return models.User{}, errors.Wrap(err, "failed to scan user")
	}
	if lastUpdated.Valid {
		u.LastUpdated = lastUpdated.Time
	}
	return u, nil
}

// Debit atomically decreases the user's balance. The balance check and the
// decrement happen in one conditional update, so two concurrent debits can
// never both succeed when funds only cover one of them.
func (l *Ledger) Debit(userID int64, amount float64) error {
	res, err := l.db.Exec(
		"UPDATE users SET balance = balance - ?, last_updated = ? WHERE id = ? AND balance >= ?",
		amount, time.Now(), userID, amount,
	)
	if err != nil {
		return errors.Wrap(err, "debit failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "debit failed")
	}
	if affected == 0 {
		if _, err := l.UserByID(userID); err != nil {
			return err
		}
		return errors.Wrapf(models.ErrInsufficientFunds, "user %d", userID)
	}
	return nil
}

// Credit atomically increases the user's balance
func (l *Ledger) Credit(userID int64, amount float64) error {
	res, err := l.db.Exec(
		"UPDATE users SET balance = balance + ?, last_updated = ? WHERE id = ?",
		amount, time.Now(), userID,
	)
	if err != nil {
		return errors.Wrap(err, "credit failed")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "credit failed")
	}
	if affected == 0 {
		return errors.Wrapf(models.ErrNotFound, "user %d", userID)
	}
	return nil
}

// NextTransactionID allocates a monotonically increasing transaction id.
// The allocation runs in a database transaction so concurrent allocators
// never observe the same value.
func (l *Ledger) NextTransactionID() (int64, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate transaction id")
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRow("SELECT next FROM tx_seq WHERE id = 1").Scan(&id); err != nil {
		return 0, errors.Wrap(err, "failed to read transaction sequence")
	}
	if _, err := tx.Exec("UPDATE tx_seq SET next = next + 1 WHERE id = 1"); err != nil {
		return 0, errors.Wrap(err, "failed to advance transaction sequence")
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to allocate transaction id")
	}
	return id, nil
}

// InsertTransaction persists a freshly opened pending transaction
func (l *Ledger) InsertTransaction(t models.Transaction) error {
	_, err := l.db.Exec(
		"INSERT INTO transactions (id, buyer_id, seller_id, amount, status, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		t.ID, t.BuyerID, t.SellerID, t.Amount, string(t.Status), t.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert transaction")
	}
	return nil
}

// TransactionByID looks up a single transaction record
func (l *Ledger) TransactionByID(id int64) (models.Transaction, error) {
	row := l.db.QueryRow(
		"SELECT id, buyer_id, seller_id, amount, status, created_at, completed_at FROM transactions WHERE id = ?",
		id,
	)
	return scanTransaction(row.Scan)
}

// CompleteTransaction flips a transaction from pending to completed. The
// status guard lives in the statement itself, so the transition is
// single-shot even if two confirmers race to this point.
func (l *Ledger) CompleteTransaction(id int64, completedAt time.Time) error {
	res, err := l.db.Exec(
		"UPDATE transactions SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
		string(models.StatusCompleted), completedAt, id, string(models.StatusPending),
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete transaction")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to complete transaction")
	}
	if affected == 0 {
		if _, err := l.TransactionByID(id); err != nil {
			return err
		}
		return errors.Wrapf(models.ErrAlreadyProcessed, "transaction %d", id)
	}
	return nil
}

// TransactionsByUser retrieves every transaction the user participates in,
// as buyer or seller
func (l *Ledger) TransactionsByUser(userID int64) ([]models.Transaction, error) {
	rows, err := l.db.Query(
		"SELECT id, buyer_id, seller_id, amount, status, created_at, completed_at FROM transactions WHERE buyer_id = ? OR seller_id = ? ORDER BY id",
		userID, userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transactions")
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// Users retrieves all registered users, for the admin surface
func (l *Ledger) Users() ([]models.User, error) {
	rows, err := l.db.Query(
		"SELECT id, telegram_id, name, balance, last_updated, created_at FROM users ORDER BY id",
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch users")
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var lastUpdated sql.NullTime
		if err := rows.Scan(&u.ID, &u.TelegramID, &u.Name, &u.Balance, &lastUpdated, &u.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan user")
		}
		if lastUpdated.Valid {
			u.LastUpdated = lastUpdated.Time
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Transactions retrieves all transaction records, for the admin surface
func (l *Ledger) Transactions() ([]models.Transaction, error) {
	rows, err := l.db.Query(
		"SELECT id, buyer_id, seller_id, amount, status, created_at, completed_at FROM transactions ORDER BY id",
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch transactions")
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	var txs []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanTransaction(scan func(...any) error) (models.Transaction, error) {
	var t models.Transaction
	var status string
	var completedAt sql.NullTime
	err := scan(&t.ID, &t.BuyerID, &t.SellerID, &t.Amount, &status, &t.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return models.Transaction{}, models.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, errors.Wrap(err, "failed to scan transaction")
	}
	t.Status = models.TxStatus(status)
	if completedAt.Valid {
		t.CompletedAt = completedAt.Time
	}
	return t, nil
}

// Close closes the database connection
func (l *Ledger) Close() error {
	return l.db.Close()
}
