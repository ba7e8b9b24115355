package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// Store wraps the umad persistence layer.
type Store struct {
	db *sql.DB
}

var (
	// ErrPathRequired is returned when the backing store path is missing.
	ErrPathRequired = errors.New("storage path must be configured")

	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNonceUsed indicates the payment nonce has already been consumed.
	ErrNonceUsed = errors.New("nonce already consumed")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    username TEXT NOT NULL,
    display_name TEXT NOT NULL,
    spark_pubkey TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    UNIQUE(tenant, username)
);
CREATE TABLE IF NOT EXISTS chain_addresses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    chain TEXT NOT NULL,
    address TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE(user_id, chain)
);
CREATE TABLE IF NOT EXISTS nonces (
    nonce TEXT PRIMARY KEY,
    consumed_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS payment_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    nonce TEXT NOT NULL UNIQUE,
    user_id INTEGER NOT NULL REFERENCES users(id),
    amount_msat INTEGER NOT NULL,
    currency TEXT NOT NULL,
    settlement_layer TEXT NOT NULL DEFAULT '',
    asset_identifier TEXT NOT NULL DEFAULT '',
    instruction TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// sqlite permits one writer; a single connection serialises access.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// User is an identity resolved within a tenant scope.
type User struct {
	ID          int64
	Tenant      string
	Username    string
	DisplayName string
	SparkPubKey string
	CreatedAt   time.Time
}

// ChainAddress is a (user, chain) pair with an address string.
type ChainAddress struct {
	ID        int64
	UserID    int64
	Chain     string
	Address   string
	UpdatedAt time.Time
}

// PaymentRequest is the immutable audit record written when a payment
// instruction is issued. ReserveNonce is the replay gate; the UNIQUE nonce
// column here only enforces the one-record-per-nonce invariant.
type PaymentRequest struct {
	ID              int64
	Nonce           string
	UserID          int64
	AmountMsat      int64
	Currency        string
	SettlementLayer string
	AssetIdentifier string
	Instruction     string
	CreatedAt       time.Time
}

// UpsertUser creates or updates a user record and returns it. Usernames are
// stored as given; callers normalise before calling.
func (s *Store) UpsertUser(ctx context.Context, tenant, username, displayName, sparkPubKey string) (*User, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO users(tenant, username, display_name, spark_pubkey, created_at)
        VALUES(?, ?, ?, ?, ?)
        ON CONFLICT(tenant, username) DO UPDATE SET
            display_name = excluded.display_name,
            spark_pubkey = excluded.spark_pubkey
    `, tenant, username, displayName, sparkPubKey, now)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.UserByUsername(ctx, tenant, username)
}

// UserByUsername resolves a user within the tenant scope.
func (s *Store) UserByUsername(ctx context.Context, tenant, username string) (*User, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, tenant, username, display_name, spark_pubkey, created_at
        FROM users
        WHERE tenant = ? AND username = ?
    `, tenant, username)
	var user User
	if err := row.Scan(&user.ID, &user.Tenant, &user.Username, &user.DisplayName, &user.SparkPubKey, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// UpsertChainAddress creates or replaces a user's address for a chain.
func (s *Store) UpsertChainAddress(ctx context.Context, userID int64, chain, address string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO chain_addresses(user_id, chain, address, updated_at)
        VALUES(?, ?, ?, ?)
        ON CONFLICT(user_id, chain) DO UPDATE SET
            address = excluded.address,
            updated_at = excluded.updated_at
    `, userID, strings.ToLower(strings.TrimSpace(chain)), address, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert chain address: %w", err)
	}
	return nil
}

// ChainAddresses lists a user's stored addresses in insertion order.
func (s *Store) ChainAddresses(ctx context.Context, userID int64) ([]ChainAddress, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, chain, address, updated_at
        FROM chain_addresses
        WHERE user_id = ?
        ORDER BY id ASC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query chain addresses: %w", err)
	}
	defer rows.Close()
	var out []ChainAddress
	for rows.Next() {
		var addr ChainAddress
		if err := rows.Scan(&addr.ID, &addr.UserID, &addr.Chain, &addr.Address, &addr.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chain address: %w", err)
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// ChainAddressByChain fetches a user's address for one chain. The chain name
// is matched case-insensitively.
func (s *Store) ChainAddressByChain(ctx context.Context, userID int64, chain string) (*ChainAddress, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, user_id, chain, address, updated_at
        FROM chain_addresses
        WHERE user_id = ? AND chain = ?
    `, userID, strings.ToLower(strings.TrimSpace(chain)))
	var addr ChainAddress
	if err := row.Scan(&addr.ID, &addr.UserID, &addr.Chain, &addr.Address, &addr.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query chain address: %w", err)
	}
	return &addr, nil
}

// ReserveNonce burns a payment nonce. The PRIMARY KEY constraint makes the
// check-and-set atomic across concurrent callers: of two racing reservations
// exactly one insert succeeds and the other returns ErrNonceUsed. A burned
// nonce is never rolled back, even when downstream invoice generation fails.
func (s *Store) ReserveNonce(ctx context.Context, nonce string) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO nonces(nonce, consumed_at) VALUES(?, ?)`, nonce, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNonceUsed
		}
		return fmt.Errorf("reserve nonce: %w", err)
	}
	return nil
}

// CreatePaymentRequest inserts the immutable payment record. ReserveNonce is
// the replay gate; the UNIQUE nonce column here only enforces the one-record-
// per-nonce invariant.
func (s *Store) CreatePaymentRequest(ctx context.Context, rec PaymentRequest) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO payment_requests(nonce, user_id, amount_msat, currency, settlement_layer, asset_identifier, instruction, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
    `, rec.Nonce, rec.UserID, rec.AmountMsat, rec.Currency, rec.SettlementLayer, rec.AssetIdentifier, rec.Instruction, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrNonceUsed
		}
		return fmt.Errorf("insert payment request: %w", err)
	}
	return nil
}

// PaymentRequestByNonce fetches the audit record for a consumed nonce.
func (s *Store) PaymentRequestByNonce(ctx context.Context, nonce string) (*PaymentRequest, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	row := s.db.QueryRowContext(ctx, `
        SELECT id, nonce, user_id, amount_msat, currency, settlement_layer, asset_identifier, instruction, created_at
        FROM payment_requests
        WHERE nonce = ?
    `, nonce)
	var rec PaymentRequest
	err := row.Scan(&rec.ID, &rec.Nonce, &rec.UserID, &rec.AmountMsat, &rec.Currency, &rec.SettlementLayer, &rec.AssetIdentifier, &rec.Instruction, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment request: %w", err)
	}
	return &rec, nil
}

// PrunePaymentRequests deletes audit records older than the cutoff and returns
// how many were removed. Pruned nonces become reusable; callers pick a
// retention window long enough that replay against live payers is not a
// concern.
func (s *Store) PrunePaymentRequests(ctx context.Context, olderThan time.Time) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("storage not configured")
	}
	cutoff := olderThan.UTC()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE consumed_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("prune nonces: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM payment_requests WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune payment requests: %w", err)
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
