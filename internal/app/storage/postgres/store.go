package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cardverse/token_layer/internal/app/domain/card"
	"github.com/cardverse/token_layer/internal/app/domain/ledger"
	"github.com/cardverse/token_layer/internal/app/domain/user"
	"github.com/cardverse/token_layer/internal/app/storage"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"

	userColumns = `id, email, username, profile_image, balance, created_at, updated_at`
	cardColumns = `id, title, content, author_id, media_urls, tags, correct_count, mint_status, created_at`
	txColumns   = `id, from_account, to_account, amount, kind, created_at`
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.CardStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)
var _ storage.Pinger = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

type userRow struct {
	ID           string    `db:"id"`
	Email        string    `db:"email"`
	Username     string    `db:"username"`
	ProfileImage string    `db:"profile_image"`
	Balance      int64     `db:"balance"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r userRow) toDomain() user.User {
	return user.User{
		ID:               r.ID,
		Email:            r.Email,
		Username:         r.Username,
		ProfileImage:     r.ProfileImage,
		Balance:          r.Balance,
		CreatedCards:     []string{},
		CorrectCards:     []string{},
		UnnecessaryCards: []string{},
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type balanceRow struct {
	ID      string `db:"id"`
	Balance int64  `db:"balance"`
}

type userCardRow struct {
	UserID   string `db:"user_id"`
	Relation string `db:"relation"`
	CardID   string `db:"card_id"`
}

type cardRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Content      string    `db:"content"`
	AuthorID     string    `db:"author_id"`
	MediaURLs    []byte    `db:"media_urls"`
	Tags         []byte    `db:"tags"`
	CorrectCount int64     `db:"correct_count"`
	MintStatus   []byte    `db:"mint_status"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r cardRow) toDomain() (card.Card, error) {
	c := card.Card{
		ID:           r.ID,
		Title:        r.Title,
		Content:      r.Content,
		AuthorID:     r.AuthorID,
		MediaURLs:    []string{},
		Tags:         []string{},
		CorrectCount: r.CorrectCount,
		CreatedAt:    r.CreatedAt,
	}
	if len(r.MediaURLs) > 0 {
		if err := json.Unmarshal(r.MediaURLs, &c.MediaURLs); err != nil {
			return card.Card{}, fmt.Errorf("decode media_urls of card %s: %w", r.ID, err)
		}
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &c.Tags); err != nil {
			return card.Card{}, fmt.Errorf("decode tags of card %s: %w", r.ID, err)
		}
	}
	if len(r.MintStatus) > 0 {
		if err := json.Unmarshal(r.MintStatus, &c.MintStatus); err != nil {
			return card.Card{}, fmt.Errorf("decode mint_status of card %s: %w", r.ID, err)
		}
	}
	return c, nil
}

type txRow struct {
	ID        string    `db:"id"`
	From      string    `db:"from_account"`
	To        string    `db:"to_account"`
	Amount    int64     `db:"amount"`
	Kind      string    `db:"kind"`
	CreatedAt time.Time `db:"created_at"`
}

func (r txRow) toDomain() ledger.Transaction {
	return ledger.Transaction{
		ID:        r.ID,
		From:      r.From,
		To:        r.To,
		Amount:    r.Amount,
		Kind:      ledger.Kind(r.Kind),
		CreatedAt: r.CreatedAt,
	}
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Balance = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, profile_image, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
	`, u.ID, strings.TrimSpace(u.Email), u.Username, u.ProfileImage, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return user.User{}, fmt.Errorf("%w: %s", user.ErrEmailTaken, u.Email)
		}
		return user.User{}, err
	}
	u.CreatedCards = []string{}
	u.CorrectCards = []string{}
	u.UnnecessaryCards = []string{}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET username = $2, profile_image = $3, updated_at = $4
		WHERE id = $1
	`, u.ID, u.Username, u.ProfileImage, time.Now().UTC())
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, fmt.Errorf("%w: %s", user.ErrNotFound, u.ID)
	}
	return s.GetUser(ctx, u.ID)
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var row userRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+userColumns+` FROM users WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, fmt.Errorf("%w: %s", user.ErrNotFound, id)
		}
		return user.User{}, err
	}

	var links []userCardRow
	if err := s.db.SelectContext(ctx, &links, `
		SELECT user_id, relation, card_id FROM user_cards WHERE user_id = $1 ORDER BY seq
	`, id); err != nil {
		return user.User{}, err
	}

	u := row.toDomain()
	for _, link := range links {
		u.AddCard(user.Relation(link.Relation), link.CardID)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY seq`); err != nil {
		return nil, err
	}
	var links []userCardRow
	if err := s.db.SelectContext(ctx, &links, `SELECT user_id, relation, card_id FROM user_cards ORDER BY seq`); err != nil {
		return nil, err
	}

	byID := make(map[string]int, len(rows))
	result := make([]user.User, 0, len(rows))
	for _, row := range rows {
		byID[row.ID] = len(result)
		result = append(result, row.toDomain())
	}
	for _, link := range links {
		if idx, ok := byID[link.UserID]; ok {
			result[idx].AddCard(user.Relation(link.Relation), link.CardID)
		}
	}
	return result, nil
}

func (s *Store) AddUserCard(ctx context.Context, userID string, rel user.Relation, cardID string) (user.User, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_cards (user_id, relation, card_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userID, string(rel), cardID)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return user.User{}, fmt.Errorf("%w: %s", user.ErrNotFound, userID)
		}
		return user.User{}, err
	}
	return s.GetUser(ctx, userID)
}

// --- CardStore --------------------------------------------------------------

func (s *Store) CreateCard(ctx context.Context, c card.Card) (card.Card, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c = c.Clone()

	mediaJSON, err := json.Marshal(c.MediaURLs)
	if err != nil {
		return card.Card{}, err
	}
	tagsJSON, err := json.Marshal(c.Tags)
	if err != nil {
		return card.Card{}, err
	}
	// mint_status stays NULL until minted; a nil []byte would reach pq as ''.
	var mint any
	if c.MintStatus != nil {
		mintJSON, err := json.Marshal(c.MintStatus)
		if err != nil {
			return card.Card{}, err
		}
		mint = mintJSON
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cards (id, title, content, author_id, media_urls, tags, correct_count, mint_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.Title, c.Content, c.AuthorID, mediaJSON, tagsJSON, c.CorrectCount, mint, c.CreatedAt)
	if err != nil {
		return card.Card{}, err
	}
	return c, nil
}

func (s *Store) GetCard(ctx context.Context, id string) (card.Card, error) {
	var row cardRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id); err != nil {
		return card.Card{}, cardErr(id, err)
	}
	return row.toDomain()
}

func (s *Store) ListCards(ctx context.Context) ([]card.Card, error) {
	return s.selectCards(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY seq`)
}

func (s *Store) ListCardsByAuthor(ctx context.Context, authorID string) ([]card.Card, error) {
	return s.selectCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE author_id = $1 ORDER BY seq`, authorID)
}

func (s *Store) CountCardsByAuthor(ctx context.Context, authorID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM cards WHERE author_id = $1`, authorID); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) IncrementCorrectCount(ctx context.Context, id string) (card.Card, error) {
	var row cardRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE cards SET correct_count = correct_count + 1
		WHERE id = $1
		RETURNING `+cardColumns, id)
	if err != nil {
		return card.Card{}, cardErr(id, err)
	}
	return row.toDomain()
}

func (s *Store) SetMintStatus(ctx context.Context, id string, status map[string]any) (card.Card, error) {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return card.Card{}, err
	}
	var row cardRow
	err = s.db.GetContext(ctx, &row, `
		UPDATE cards SET mint_status = $2
		WHERE id = $1
		RETURNING `+cardColumns, id, statusJSON)
	if err != nil {
		return card.Card{}, cardErr(id, err)
	}
	return row.toDomain()
}

func (s *Store) DeleteCard(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	return nil
}

func (s *Store) selectCards(ctx context.Context, query string, args ...any) ([]card.Card, error) {
	var rows []cardRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]card.Card, 0, len(rows))
	for _, row := range rows {
		c, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, nil
}

// --- LedgerStore ------------------------------------------------------------

// ApplyTransaction runs the debit, credit and append in one database
// transaction. The debit is conditional on the balance covering the amount,
// so the floor holds even against writers outside this process.
func (s *Store) ApplyTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.Amount <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	dbTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() {
		if err != nil {
			_ = dbTx.Rollback()
		}
	}()

	if tx.From != ledger.SystemAccount {
		if err = debit(ctx, dbTx, tx.From, tx.Amount, tx.CreatedAt); err != nil {
			return ledger.Transaction{}, err
		}
	}
	if tx.To != ledger.SystemAccount {
		if err = credit(ctx, dbTx, tx.To, tx.Amount, tx.CreatedAt); err != nil {
			return ledger.Transaction{}, err
		}
	}

	if _, err = dbTx.ExecContext(ctx, `
		INSERT INTO ledger_transactions (id, from_account, to_account, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.ID, tx.From, tx.To, tx.Amount, string(tx.Kind), tx.CreatedAt); err != nil {
		return ledger.Transaction{}, err
	}

	if err = dbTx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func debit(ctx context.Context, tx *sqlx.Tx, account string, amount int64, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance - $2, updated_at = $3
		WHERE id = $1 AND balance >= $2
	`, account, amount, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		return nil
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, `SELECT balance FROM users WHERE id = $1`, account); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", user.ErrNotFound, account)
		}
		return err
	}
	return &ledger.InsufficientFundsError{Account: account, Balance: balance, Required: amount}
}

func credit(ctx context.Context, tx *sqlx.Tx, account string, amount int64, at time.Time) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = $3
		WHERE id = $1
	`, account, amount, at)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", user.ErrNotFound, account)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	if err := s.db.GetContext(ctx, &balance, `SELECT balance FROM users WHERE id = $1`, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", user.ErrNotFound, userID)
		}
		return 0, err
	}
	return balance, nil
}

func (s *Store) ListTransactions(ctx context.Context, account string, limit int) ([]ledger.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM ledger_transactions
		WHERE from_account = $1 OR to_account = $1
		ORDER BY seq DESC`
	args := []any{account}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return s.selectTransactions(ctx, query, args...)
}

func (s *Store) ListAllTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return s.selectTransactions(ctx, `SELECT `+txColumns+` FROM ledger_transactions ORDER BY seq`)
}

// Snapshot reads balances and the log inside one read-only REPEATABLE READ
// transaction, so both come from the same database snapshot.
func (s *Store) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	dbTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	defer func() { _ = dbTx.Rollback() }()

	var balances []balanceRow
	if err := dbTx.SelectContext(ctx, &balances, `SELECT id, balance FROM users ORDER BY seq`); err != nil {
		return ledger.Snapshot{}, err
	}
	var txs []txRow
	if err := dbTx.SelectContext(ctx, &txs, `SELECT `+txColumns+` FROM ledger_transactions ORDER BY seq`); err != nil {
		return ledger.Snapshot{}, err
	}

	snap := ledger.Snapshot{
		Balances:     make([]ledger.AccountBalance, 0, len(balances)),
		Transactions: make([]ledger.Transaction, 0, len(txs)),
	}
	for _, b := range balances {
		snap.Balances = append(snap.Balances, ledger.AccountBalance{UserID: b.ID, Balance: b.Balance})
	}
	for _, row := range txs {
		snap.Transactions = append(snap.Transactions, row.toDomain())
	}
	return snap, nil
}

func (s *Store) selectTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	var rows []txRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func cardErr(id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", card.ErrNotFound, id)
	}
	return err
}

func isPQCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}
