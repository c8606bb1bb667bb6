// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New opens the configured database, applies pool limits and brings the
// schema up to date.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pinned := cfg.Driver == "sqlite" && cfg.SQLitePath == memoryPath
	if cfg.MaxOpenConns > 0 && !pinned {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := runMigrations(db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    time.Now,
	}, nil
}

var openers = map[string]func(domain.RepositoryConfig) (*sql.DB, error){
	"sqlite":   openSQLite,
	"postgres": openPostgres,
}

// SaveCard inserts or replaces a card record for a user.
func (r *SQLRepository) SaveCard(ctx context.Context, userID string, card *domain.UserCard) error {
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if card == nil || card.ID == "" {
		return fmt.Errorf("%w: card id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO user_cards (
			id, user_id, product_id, issuer, open_date, closed_date,
			bonus_received_date, is_business, product_family,
			product_changed_from_id, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, id) DO UPDATE SET
			product_id = excluded.product_id,
			issuer = excluded.issuer,
			open_date = excluded.open_date,
			closed_date = excluded.closed_date,
			bonus_received_date = excluded.bonus_received_date,
			is_business = excluded.is_business,
			product_family = excluded.product_family,
			product_changed_from_id = excluded.product_changed_from_id,
			updated_at = excluded.updated_at
	`

	business := 0
	if card.IsBusiness {
		business = 1
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		card.ID, userID, card.ProductID, card.Issuer,
		formatTime(card.OpenDate), nullTime(card.ClosedDate),
		nullTime(card.BonusReceivedDate), business,
		card.ProductFamily, card.ProductChangedFromID,
		formatTime(r.now()),
	)
	return err
}

const cardColumns = `
	id, product_id, issuer, open_date, closed_date, bonus_received_date,
	is_business, product_family, product_changed_from_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*domain.UserCard, error) {
	var (
		card            domain.UserCard
		open            string
		closed, bonus   sql.NullString
		business        int
		family, changed string
	)

	if err := row.Scan(&card.ID, &card.ProductID, &card.Issuer, &open, &closed, &bonus,
		&business, &family, &changed); err != nil {
		return nil, err
	}

	var err error
	if card.OpenDate, err = parseTime(open); err != nil {
		return nil, fmt.Errorf("card %s open_date: %w", card.ID, err)
	}
	if card.ClosedDate, err = parseNullTime(closed); err != nil {
		return nil, fmt.Errorf("card %s closed_date: %w", card.ID, err)
	}
	if card.BonusReceivedDate, err = parseNullTime(bonus); err != nil {
		return nil, fmt.Errorf("card %s bonus_received_date: %w", card.ID, err)
	}
	card.IsBusiness = business != 0
	card.ProductFamily = family
	card.ProductChangedFromID = changed

	return &card, nil
}

// GetCard retrieves a card by ID with user isolation.
func (r *SQLRepository) GetCard(ctx context.Context, userID string, cardID string) (*domain.UserCard, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `SELECT ` + cardColumns + ` FROM user_cards WHERE user_id = ? AND id = ?`

	card, err := scanCard(r.db.QueryRowContext(ctx, r.rebind(query), userID, cardID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ListCards returns a user's full card history ordered by open date.
func (r *SQLRepository) ListCards(ctx context.Context, userID string) ([]domain.UserCard, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `SELECT ` + cardColumns + ` FROM user_cards WHERE user_id = ? ORDER BY open_date, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := []domain.UserCard{}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}

	return cards, rows.Err()
}

// DeleteCard removes a card and its benefit usage.
func (r *SQLRepository) DeleteCard(ctx context.Context, userID string, cardID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM user_cards WHERE user_id = ? AND id = ?`), userID, cardID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM benefit_usage WHERE user_id = ? AND card_id = ?`), userID, cardID); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveBenefitUsage records the current card-year usage of one benefit,
// replacing any earlier figure for the same benefit.
func (r *SQLRepository) SaveBenefitUsage(ctx context.Context, userID string, usage *domain.BenefitUsage) error {
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if usage == nil || usage.CardID == "" || usage.BenefitID == "" {
		return fmt.Errorf("%w: cardId and benefitId are required", ErrInvalidInput)
	}
	if usage.UsedAmount < 0 {
		return fmt.Errorf("%w: usedAmount must not be negative", ErrInvalidInput)
	}

	recorded := usage.RecordedAt
	if recorded.IsZero() {
		recorded = r.now()
	}

	query := `
		INSERT INTO benefit_usage (user_id, card_id, benefit_id, used_amount, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, card_id, benefit_id) DO UPDATE SET
			used_amount = excluded.used_amount,
			recorded_at = excluded.recorded_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		userID, usage.CardID, usage.BenefitID, usage.UsedAmount, formatTime(recorded))
	return err
}

// ListBenefitUsage returns usage records for one card. An empty cardID lists
// every card the user has recorded usage for.
func (r *SQLRepository) ListBenefitUsage(ctx context.Context, userID string, cardID string) ([]domain.BenefitUsage, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `SELECT card_id, benefit_id, used_amount, recorded_at FROM benefit_usage WHERE user_id = ?`
	args := []any{userID}
	if cardID != "" {
		query += ` AND card_id = ?`
		args = append(args, cardID)
	}
	query += ` ORDER BY card_id, benefit_id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := []domain.BenefitUsage{}
	for rows.Next() {
		var u domain.BenefitUsage
		var recorded string
		if err := rows.Scan(&u.CardID, &u.BenefitID, &u.UsedAmount, &recorded); err != nil {
			return nil, err
		}
		if u.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, err
		}
		usage = append(usage, u)
	}

	return usage, rows.Err()
}

// SaveCatalogSnapshot persists a raw catalog document under its version.
func (r *SQLRepository) SaveCatalogSnapshot(ctx context.Context, version string, raw []byte) error {
	if version == "" {
		return fmt.Errorf("%w: catalog version is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO catalog_snapshots (version, raw, created_at) VALUES (?, ?, ?)
		ON CONFLICT (version) DO UPDATE SET
			raw = excluded.raw,
			created_at = excluded.created_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), version, string(raw), formatTime(r.now()))
	return err
}

// LatestCatalogSnapshot returns the most recently saved catalog document.
func (r *SQLRepository) LatestCatalogSnapshot(ctx context.Context) (string, []byte, error) {
	query := `SELECT version, raw FROM catalog_snapshots ORDER BY created_at DESC LIMIT 1`

	var version, raw string
	err := r.db.QueryRowContext(ctx, query).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}
	return version, []byte(raw), nil
}

// SaveEvaluation stores an evaluation record with user isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, userID string, eval *domain.EvaluationRecord) error {
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}
	if eval == nil || eval.ID == "" {
		return fmt.Errorf("%w: evaluation id is required", ErrInvalidInput)
	}

	verdict, err := json.Marshal(eval.Verdict)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}
	metadata, err := json.Marshal(eval.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	query := `
		INSERT INTO evaluations (id, user_id, product_id, catalog_version, verdict, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, userID, eval.Verdict.ProductID, eval.CatalogVersion,
		string(verdict), string(metadata), formatTime(eval.CreatedAt),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with user isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, userID string, evalID string) (*domain.EvaluationRecord, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, user_id, catalog_version, verdict, metadata, created_at
		FROM evaluations
		WHERE user_id = ? AND id = ?
	`

	var eval domain.EvaluationRecord
	var verdict, metadata, created string

	err := r.db.QueryRowContext(ctx, r.rebind(query), userID, evalID).Scan(
		&eval.ID, &eval.UserID, &eval.CatalogVersion, &verdict, &metadata, &created,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(verdict), &eval.Verdict); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &eval.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if eval.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}

	return &eval, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
