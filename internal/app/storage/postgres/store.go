// Package postgres implements the storage interfaces backed by PostgreSQL.
// The compare-and-set primitives are expressed as guarded UPDATE statements,
// so their atomicity comes from the database rather than process-local locks.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/arzex/exchange-core/internal/app/domain/account"
	"github.com/arzex/exchange-core/internal/app/domain/kyc"
	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/domain/pricefeed"
	"github.com/arzex/exchange-core/internal/app/domain/wallet"
	"github.com/arzex/exchange-core/internal/app/storage"
)

const pqUniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.ReservationStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)
var _ storage.KYCStore = (*Store)(nil)
var _ storage.OrderStore = (*Store)(nil)
var _ storage.HoldingStore = (*Store)(nil)
var _ storage.PriceStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return string(pqErr.Code) == pqUniqueViolation
	}
	return false
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.KYCStatus == "" {
		acct.KYCStatus = account.KYCStatusNone
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	metadataJSON, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO exchange_accounts (id, owner, balance_tmn, kyc_level, kyc_status, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, acct.ID, acct.Owner, acct.BalanceTMN, acct.KYCLevel, acct.KYCStatus, metadataJSON, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrDuplicate)
		}
		return account.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	metadataJSON, err := json.Marshal(acct.Metadata)
	if err != nil {
		return account.Account{}, err
	}
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE exchange_accounts
		SET owner = $2, metadata = $3, updated_at = $4
		WHERE id = $1
	`, acct.ID, acct.Owner, metadataJSON, acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.ID, storage.ErrNotFound)
	}
	return s.GetAccount(ctx, acct.ID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (account.Account, error) {
	return s.scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, owner, balance_tmn, kyc_level, kyc_status, metadata, created_at, updated_at
		FROM exchange_accounts
		WHERE id = $1
	`, id), id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, balance_tmn, kyc_level, kyc_status, metadata, created_at, updated_at
		FROM exchange_accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []account.Account
	for rows.Next() {
		acct, err := s.scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (s *Store) AdjustBalance(ctx context.Context, id string, delta int64) (account.Account, error) {
	// The guard in the WHERE clause makes check and write one atomic
	// statement; a concurrent adjustment can never leave the balance
	// negative.
	row := s.db.QueryRowContext(ctx, `
		UPDATE exchange_accounts
		SET balance_tmn = balance_tmn + $2, updated_at = $3
		WHERE id = $1 AND balance_tmn + $2 >= 0
		RETURNING id, owner, balance_tmn, kyc_level, kyc_status, metadata, created_at, updated_at
	`, id, delta, time.Now().UTC())

	acct, err := s.scanAccount(row, id)
	if err == nil {
		return acct, nil
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		return account.Account{}, err
	}

	// No row updated: missing account or insufficient funds.
	if _, getErr := s.GetAccount(ctx, id); getErr != nil {
		return account.Account{}, getErr
	}
	return account.Account{}, storage.ErrInsufficientFunds
}

func (s *Store) SetKYC(ctx context.Context, id string, level int, status account.KYCStatus) (account.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE exchange_accounts
		SET kyc_level = $2, kyc_status = $3, updated_at = $4
		WHERE id = $1
		RETURNING id, owner, balance_tmn, kyc_level, kyc_status, metadata, created_at, updated_at
	`, id, level, status, time.Now().UTC())
	return s.scanAccount(row, id)
}

func (s *Store) scanAccount(row *sql.Row, id string) (account.Account, error) {
	var (
		acct        account.Account
		metadataRaw []byte
	)
	err := row.Scan(&acct.ID, &acct.Owner, &acct.BalanceTMN, &acct.KYCLevel, &acct.KYCStatus,
		&metadataRaw, &acct.CreatedAt, &acct.UpdatedAt)
	if err == sql.ErrNoRows {
		return account.Account{}, fmt.Errorf("account %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return account.Account{}, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &acct.Metadata); err != nil {
			return account.Account{}, err
		}
	}
	return acct, nil
}

func (s *Store) scanAccountRow(rows *sql.Rows) (account.Account, error) {
	var (
		acct        account.Account
		metadataRaw []byte
	)
	err := rows.Scan(&acct.ID, &acct.Owner, &acct.BalanceTMN, &acct.KYCLevel, &acct.KYCStatus,
		&metadataRaw, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return account.Account{}, err
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &acct.Metadata); err != nil {
			return account.Account{}, err
		}
	}
	return acct, nil
}

// --- ReservationStore -------------------------------------------------------

// ReserveBalance runs the debit and the reservation insert in one
// transaction, so a crash between the two statements cannot strand a debit.
func (s *Store) ReserveBalance(ctx context.Context, res order.Reservation) (order.Reservation, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	res.Status = order.ReservationHeld
	res.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return order.Reservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE exchange_accounts
		SET balance_tmn = balance_tmn - $2, updated_at = $3
		WHERE id = $1 AND balance_tmn >= $2
	`, res.AccountID, res.AmountTMN, res.CreatedAt)
	if err != nil {
		return order.Reservation{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetAccount(ctx, res.AccountID); getErr != nil {
			return order.Reservation{}, getErr
		}
		return order.Reservation{}, storage.ErrInsufficientFunds
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balance_reservations (id, account_id, amount_tmn, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.AccountID, res.AmountTMN, res.Status, res.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return order.Reservation{}, fmt.Errorf("reservation %s: %w", res.ID, storage.ErrDuplicate)
		}
		return order.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return order.Reservation{}, err
	}
	return res, nil
}

func (s *Store) CreateReservation(ctx context.Context, res order.Reservation) (order.Reservation, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.Status == "" {
		res.Status = order.ReservationHeld
	}
	res.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_reservations (id, account_id, amount_tmn, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, res.ID, res.AccountID, res.AmountTMN, res.Status, res.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return order.Reservation{}, fmt.Errorf("reservation %s: %w", res.ID, storage.ErrDuplicate)
		}
		return order.Reservation{}, err
	}
	return res, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (order.Reservation, error) {
	var (
		res       order.Reservation
		settledAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount_tmn, status, created_at, settled_at
		FROM balance_reservations
		WHERE id = $1
	`, id).Scan(&res.ID, &res.AccountID, &res.AmountTMN, &res.Status, &res.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return order.Reservation{}, fmt.Errorf("reservation %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return order.Reservation{}, err
	}
	if settledAt.Valid {
		res.SettledAt = settledAt.Time
	}
	return res, nil
}

func (s *Store) SettleReservation(ctx context.Context, id string, outcome order.ReservationStatus) (order.Reservation, error) {
	now := time.Now().UTC()
	var (
		res       order.Reservation
		settledAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		UPDATE balance_reservations
		SET status = $2, settled_at = $3
		WHERE id = $1 AND status = 'held'
		RETURNING id, account_id, amount_tmn, status, created_at, settled_at
	`, id, outcome, now).Scan(&res.ID, &res.AccountID, &res.AmountTMN, &res.Status, &res.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		// Either unknown or already settled.
		existing, getErr := s.GetReservation(ctx, id)
		if getErr != nil {
			return order.Reservation{}, getErr
		}
		return order.Reservation{}, fmt.Errorf("reservation %s already %s: %w", id, existing.Status, storage.ErrConflict)
	}
	if err != nil {
		return order.Reservation{}, err
	}
	if settledAt.Valid {
		res.SettledAt = settledAt.Time
	}
	return res, nil
}

func (s *Store) ListReservations(ctx context.Context, accountID string) ([]order.Reservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount_tmn, status, created_at, settled_at
		FROM balance_reservations
		WHERE ($1 = '' OR account_id::text = $1)
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Reservation
	for rows.Next() {
		var (
			res       order.Reservation
			settledAt sql.NullTime
		)
		if err := rows.Scan(&res.ID, &res.AccountID, &res.AmountTMN, &res.Status, &res.CreatedAt, &settledAt); err != nil {
			return nil, err
		}
		if settledAt.Valid {
			res.SettledAt = settledAt.Time
		}
		result = append(result, res)
	}
	return result, rows.Err()
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) CreateWalletAddress(ctx context.Context, addr wallet.Address) (wallet.Address, error) {
	if addr.ID == "" {
		addr.ID = uuid.NewString()
	}
	addr.Symbol = strings.ToUpper(strings.TrimSpace(addr.Symbol))
	now := time.Now().UTC()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_addresses (id, account_id, symbol, address, verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, addr.ID, addr.AccountID, addr.Symbol, addr.Address, addr.Verified, addr.CreatedAt, addr.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return wallet.Address{}, fmt.Errorf("address for %s/%s: %w", addr.AccountID, addr.Symbol, storage.ErrDuplicate)
		}
		return wallet.Address{}, err
	}
	return addr, nil
}

func (s *Store) GetWalletAddress(ctx context.Context, id string) (wallet.Address, error) {
	return s.scanWallet(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, symbol, address, verified, created_at, updated_at
		FROM wallet_addresses
		WHERE id = $1
	`, id))
}

func (s *Store) GetWalletAddressBySymbol(ctx context.Context, accountID, symbol string) (wallet.Address, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return s.scanWallet(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, symbol, address, verified, created_at, updated_at
		FROM wallet_addresses
		WHERE account_id = $1 AND symbol = $2
	`, accountID, symbol))
}

func (s *Store) UpdateWalletAddress(ctx context.Context, addr wallet.Address) (wallet.Address, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE wallet_addresses
		SET verified = $2, updated_at = $3
		WHERE id = $1
		RETURNING id, account_id, symbol, address, verified, created_at, updated_at
	`, addr.ID, addr.Verified, time.Now().UTC())
	return s.scanWallet(row)
}

func (s *Store) DeleteWalletAddress(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM wallet_addresses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("wallet address %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListWalletAddresses(ctx context.Context, accountID string) ([]wallet.Address, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, symbol, address, verified, created_at, updated_at
		FROM wallet_addresses
		WHERE ($1 = '' OR account_id::text = $1)
		ORDER BY created_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.Address
	for rows.Next() {
		var addr wallet.Address
		if err := rows.Scan(&addr.ID, &addr.AccountID, &addr.Symbol, &addr.Address, &addr.Verified,
			&addr.CreatedAt, &addr.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, addr)
	}
	return result, rows.Err()
}

func (s *Store) scanWallet(row *sql.Row) (wallet.Address, error) {
	var addr wallet.Address
	err := row.Scan(&addr.ID, &addr.AccountID, &addr.Symbol, &addr.Address, &addr.Verified,
		&addr.CreatedAt, &addr.UpdatedAt)
	if err == sql.ErrNoRows {
		return wallet.Address{}, fmt.Errorf("wallet address: %w", storage.ErrNotFound)
	}
	if err != nil {
		return wallet.Address{}, err
	}
	return addr, nil
}

// --- KYCStore ---------------------------------------------------------------

func (s *Store) CreateSubmission(ctx context.Context, sub kyc.Submission) (kyc.Submission, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = kyc.StatusPending
	}
	sub.SubmittedAt = time.Now().UTC()

	payloadJSON, err := json.Marshal(sub.Payload)
	if err != nil {
		return kyc.Submission{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kyc_submissions (id, account_id, level, payload, status, admin_note, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sub.ID, sub.AccountID, sub.Level, payloadJSON, sub.Status, sub.AdminNote, sub.SubmittedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return kyc.Submission{}, fmt.Errorf("submission %s: %w", sub.ID, storage.ErrDuplicate)
		}
		return kyc.Submission{}, err
	}
	return sub, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (kyc.Submission, error) {
	return s.scanSubmissionRow(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, level, payload, status, admin_note, submitted_at, decided_at
		FROM kyc_submissions
		WHERE id = $1
	`, id))
}

func (s *Store) GetSubmissionByLevel(ctx context.Context, accountID string, level int) (kyc.Submission, error) {
	return s.scanSubmissionRow(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, level, payload, status, admin_note, submitted_at, decided_at
		FROM kyc_submissions
		WHERE account_id = $1 AND level = $2
		ORDER BY submitted_at DESC
		LIMIT 1
	`, accountID, level))
}

func (s *Store) TransitionSubmission(ctx context.Context, id string, from, to kyc.Status, mutate func(*kyc.Submission)) (kyc.Submission, error) {
	sub, err := s.GetSubmission(ctx, id)
	if err != nil {
		return kyc.Submission{}, err
	}
	if sub.Status != from {
		return kyc.Submission{}, fmt.Errorf("submission %s is %s: %w", id, sub.Status, storage.ErrConflict)
	}

	sub.Status = to
	if mutate != nil {
		mutate(&sub)
	}

	payloadJSON, err := json.Marshal(sub.Payload)
	if err != nil {
		return kyc.Submission{}, err
	}

	// The status guard repeats in SQL so a concurrent decision loses cleanly.
	result, err := s.db.ExecContext(ctx, `
		UPDATE kyc_submissions
		SET status = $3, payload = $4, admin_note = $5, decided_at = $6
		WHERE id = $1 AND status = $2
	`, id, from, sub.Status, payloadJSON, sub.AdminNote, nullableTime(sub.DecidedAt))
	if err != nil {
		return kyc.Submission{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return kyc.Submission{}, fmt.Errorf("submission %s: %w", id, storage.ErrConflict)
	}
	return sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, accountID string) ([]kyc.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, level, payload, status, admin_note, submitted_at, decided_at
		FROM kyc_submissions
		WHERE ($1 = '' OR account_id::text = $1)
		ORDER BY submitted_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectSubmissions(rows)
}

func (s *Store) ListPendingSubmissions(ctx context.Context) ([]kyc.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, level, payload, status, admin_note, submitted_at, decided_at
		FROM kyc_submissions
		WHERE status = 'pending'
		ORDER BY submitted_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectSubmissions(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanSubmission(scanner rowScanner) (kyc.Submission, error) {
	var (
		sub        kyc.Submission
		payloadRaw []byte
		decidedAt  sql.NullTime
	)
	err := scanner.Scan(&sub.ID, &sub.AccountID, &sub.Level, &payloadRaw, &sub.Status,
		&sub.AdminNote, &sub.SubmittedAt, &decidedAt)
	if err != nil {
		return kyc.Submission{}, err
	}
	if len(payloadRaw) > 0 {
		if err := json.Unmarshal(payloadRaw, &sub.Payload); err != nil {
			return kyc.Submission{}, err
		}
	}
	if decidedAt.Valid {
		sub.DecidedAt = decidedAt.Time
	}
	return sub, nil
}

func (s *Store) scanSubmissionRow(row *sql.Row) (kyc.Submission, error) {
	sub, err := s.scanSubmission(row)
	if err == sql.ErrNoRows {
		return kyc.Submission{}, fmt.Errorf("submission: %w", storage.ErrNotFound)
	}
	return sub, err
}

func (s *Store) collectSubmissions(rows *sql.Rows) ([]kyc.Submission, error) {
	var result []kyc.Submission
	for rows.Next() {
		sub, err := s.scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// --- OrderStore -------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, ord order.Order) (order.Order, error) {
	if ord.ID == "" {
		ord.ID = uuid.NewString()
	}
	if ord.Status == "" {
		ord.Status = order.StatusPending
	}
	ord.Symbol = strings.ToUpper(strings.TrimSpace(ord.Symbol))
	ord.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchange_orders (id, account_id, order_type, symbol, amount_tmn, amount_crypto,
			price_at_order, total_value_tmn, reservation_id, status, admin_note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, ord.ID, ord.AccountID, ord.Type, ord.Symbol, ord.AmountTMN, ord.AmountCrypto.String(),
		ord.PriceAtOrder, ord.TotalValueTMN, ord.ReservationID, ord.Status, ord.AdminNote, ord.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return order.Order{}, fmt.Errorf("order %s: %w", ord.ID, storage.ErrDuplicate)
		}
		return order.Order{}, err
	}
	return ord, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (order.Order, error) {
	ord, err := s.scanOrder(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, order_type, symbol, amount_tmn, amount_crypto, price_at_order,
			total_value_tmn, reservation_id, status, admin_note, created_at, decided_at
		FROM exchange_orders
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrNotFound)
	}
	return ord, err
}

func (s *Store) TransitionOrder(ctx context.Context, id string, from, to order.Status, mutate func(*order.Order)) (order.Order, error) {
	ord, err := s.GetOrder(ctx, id)
	if err != nil {
		return order.Order{}, err
	}
	if ord.Status != from {
		return order.Order{}, fmt.Errorf("order %s is %s: %w", id, ord.Status, storage.ErrConflict)
	}

	ord.Status = to
	if mutate != nil {
		mutate(&ord)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE exchange_orders
		SET status = $3, admin_note = $4, decided_at = $5
		WHERE id = $1 AND status = $2
	`, id, from, ord.Status, ord.AdminNote, nullableTime(ord.DecidedAt))
	if err != nil {
		return order.Order{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return order.Order{}, fmt.Errorf("order %s: %w", id, storage.ErrConflict)
	}
	return ord, nil
}

func (s *Store) ListOrders(ctx context.Context, accountID string, limit int) ([]order.Order, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, order_type, symbol, amount_tmn, amount_crypto, price_at_order,
			total_value_tmn, reservation_id, status, admin_note, created_at, decided_at
		FROM exchange_orders
		WHERE ($1 = '' OR account_id::text = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectOrders(rows)
}

func (s *Store) ListPendingOrders(ctx context.Context) ([]order.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, order_type, symbol, amount_tmn, amount_crypto, price_at_order,
			total_value_tmn, reservation_id, status, admin_note, created_at, decided_at
		FROM exchange_orders
		WHERE status = 'pending'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.collectOrders(rows)
}

func (s *Store) scanOrder(scanner rowScanner) (order.Order, error) {
	var (
		ord       order.Order
		amountRaw string
		decidedAt sql.NullTime
	)
	err := scanner.Scan(&ord.ID, &ord.AccountID, &ord.Type, &ord.Symbol, &ord.AmountTMN, &amountRaw,
		&ord.PriceAtOrder, &ord.TotalValueTMN, &ord.ReservationID, &ord.Status, &ord.AdminNote,
		&ord.CreatedAt, &decidedAt)
	if err != nil {
		return order.Order{}, err
	}
	ord.AmountCrypto, err = decimal.NewFromString(amountRaw)
	if err != nil {
		return order.Order{}, fmt.Errorf("parse amount_crypto: %w", err)
	}
	if decidedAt.Valid {
		ord.DecidedAt = decidedAt.Time
	}
	return ord, nil
}

func (s *Store) collectOrders(rows *sql.Rows) ([]order.Order, error) {
	var result []order.Order
	for rows.Next() {
		ord, err := s.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, ord)
	}
	return result, rows.Err()
}

// --- HoldingStore -----------------------------------------------------------

func (s *Store) CreditHolding(ctx context.Context, h order.Holding) (order.Holding, error) {
	h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
	now := time.Now().UTC()

	var amountRaw string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO holdings (account_id, symbol, amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, symbol)
		DO UPDATE SET amount = holdings.amount + EXCLUDED.amount, updated_at = EXCLUDED.updated_at
		RETURNING amount
	`, h.AccountID, h.Symbol, h.Amount.String(), now).Scan(&amountRaw)
	if err != nil {
		return order.Holding{}, err
	}

	h.Amount, err = decimal.NewFromString(amountRaw)
	if err != nil {
		return order.Holding{}, fmt.Errorf("parse holding amount: %w", err)
	}
	h.UpdatedAt = now
	return h, nil
}

func (s *Store) GetHolding(ctx context.Context, accountID, symbol string) (order.Holding, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var (
		h         order.Holding
		amountRaw string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, symbol, amount, updated_at
		FROM holdings
		WHERE account_id = $1 AND symbol = $2
	`, accountID, symbol).Scan(&h.AccountID, &h.Symbol, &amountRaw, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return order.Holding{}, fmt.Errorf("holding %s/%s: %w", accountID, symbol, storage.ErrNotFound)
	}
	if err != nil {
		return order.Holding{}, err
	}
	h.Amount, err = decimal.NewFromString(amountRaw)
	if err != nil {
		return order.Holding{}, fmt.Errorf("parse holding amount: %w", err)
	}
	return h, nil
}

func (s *Store) ListHoldings(ctx context.Context, accountID string) ([]order.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, symbol, amount, updated_at
		FROM holdings
		WHERE ($1 = '' OR account_id::text = $1)
		ORDER BY symbol
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []order.Holding
	for rows.Next() {
		var (
			h         order.Holding
			amountRaw string
		)
		if err := rows.Scan(&h.AccountID, &h.Symbol, &amountRaw, &h.UpdatedAt); err != nil {
			return nil, err
		}
		h.Amount, err = decimal.NewFromString(amountRaw)
		if err != nil {
			return nil, fmt.Errorf("parse holding amount: %w", err)
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

// --- PriceStore -------------------------------------------------------------

func (s *Store) CreatePriceSnapshot(ctx context.Context, snap pricefeed.Snapshot) (pricefeed.Snapshot, error) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	snap.Symbol = strings.ToUpper(strings.TrimSpace(snap.Symbol))
	snap.CreatedAt = time.Now().UTC()
	if snap.CollectedAt.IsZero() {
		snap.CollectedAt = snap.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_snapshots (id, symbol, price_tmn, source, collected_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, snap.ID, snap.Symbol, snap.PriceTMN, snap.Source, snap.CollectedAt, snap.CreatedAt)
	if err != nil {
		return pricefeed.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) ListPriceSnapshots(ctx context.Context, symbol string, limit int) ([]pricefeed.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, price_tmn, source, collected_at, created_at
		FROM price_snapshots
		WHERE symbol = $1
		ORDER BY collected_at DESC
		LIMIT $2
	`, strings.ToUpper(strings.TrimSpace(symbol)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pricefeed.Snapshot
	for rows.Next() {
		var snap pricefeed.Snapshot
		if err := rows.Scan(&snap.ID, &snap.Symbol, &snap.PriceTMN, &snap.Source,
			&snap.CollectedAt, &snap.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, snap)
	}
	return result, rows.Err()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
