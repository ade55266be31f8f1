package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/marcelsud/webhook-intake/webhook"
)

/* Repository stores webhook records in PostgreSQL
 * Every status change is a conditional UPDATE on the current status, so the
 * row count tells whether the transition happened.
 */
type Repository struct {
	DB *sqlx.DB
}

const table = "webhooks"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var columns = []string{
	"id", "integration_id", "platform", "event_type", "payload", "signature",
	"source_ip", "user_agent", "headers", "delivery_id", "status", "retry_count",
	"next_retry_at", "error_message", "processed_at", "created_at", "updated_at",
}

// NewRepository opens a repository with the default pool (25 open, 5 idle, 5 min lifetime)
func NewRepository(connectionString string) (*Repository, error) {
	return NewRepositoryWithPoolConfig(connectionString, 25, 5, 5)
}

// NewRepositoryWithPoolConfig opens a repository with a custom connection pool
// Zero values keep the database/sql defaults
func NewRepositoryWithPoolConfig(connectionString string, maxOpenConns, maxIdleConns, maxLifeMinutes int) (*Repository, error) {
	db, err := sqlx.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
	if maxLifeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(maxLifeMinutes) * time.Minute)
	}

	return &Repository{DB: db}, nil
}

type row struct {
	ID            string         `db:"id"`
	IntegrationID string         `db:"integration_id"`
	Platform      string         `db:"platform"`
	EventType     string         `db:"event_type"`
	Payload       []byte         `db:"payload"`
	Signature     string         `db:"signature"`
	SourceIP      string         `db:"source_ip"`
	UserAgent     string         `db:"user_agent"`
	Headers       []byte         `db:"headers"`
	DeliveryID    sql.NullString `db:"delivery_id"`
	Status        string         `db:"status"`
	RetryCount    int            `db:"retry_count"`
	NextRetryAt   sql.NullTime   `db:"next_retry_at"`
	ErrorMessage  sql.NullString `db:"error_message"`
	ProcessedAt   sql.NullTime   `db:"processed_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r row) toRecord() (webhook.Record, error) {
	record := webhook.Record{
		ID:            r.ID,
		IntegrationID: r.IntegrationID,
		Platform:      webhook.Platform(r.Platform),
		EventType:     r.EventType,
		Payload:       r.Payload,
		Signature:     r.Signature,
		SourceIP:      r.SourceIP,
		UserAgent:     r.UserAgent,
		DeliveryID:    r.DeliveryID.String,
		Status:        webhook.NewStatus(r.Status),
		RetryCount:    r.RetryCount,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if len(r.Headers) > 0 {
		if err := json.Unmarshal(r.Headers, &record.Headers); err != nil {
			return webhook.Record{}, fmt.Errorf("decoding headers of webhook %s: %w", r.ID, err)
		}
	}
	if r.NextRetryAt.Valid {
		t := r.NextRetryAt.Time.UTC()
		record.NextRetryAt = &t
	}
	if r.ProcessedAt.Valid {
		t := r.ProcessedAt.Time.UTC()
		record.ProcessedAt = &t
	}
	if r.ErrorMessage.Valid {
		m := r.ErrorMessage.String
		record.ErrorMessage = &m
	}
	return record, nil
}

func toRecords(rows []row) ([]webhook.Record, error) {
	records := make([]webhook.Record, 0, len(rows))
	for _, r := range rows {
		record, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *Repository) Create(ctx context.Context, record webhook.Record) (webhook.Record, error) {
	headers := record.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return webhook.Record{}, fmt.Errorf("encoding headers: %w", err)
	}
	payload := record.Payload
	if payload == nil {
		payload = []byte{}
	}

	statement, args, err := psql.Insert(table).
		Columns(columns...).
		Values(
			record.ID, record.IntegrationID, record.Platform.String(), record.EventType,
			payload, record.Signature, record.SourceIP, record.UserAgent,
			string(headersJSON), nullString(record.DeliveryID), record.Status.String(),
			record.RetryCount, record.NextRetryAt, record.ErrorMessage, record.ProcessedAt,
			record.CreatedAt, record.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return webhook.Record{}, fmt.Errorf("building insert: %w", err)
	}

	if _, err := r.DB.ExecContext(ctx, statement, args...); err != nil {
		if record.DeliveryID != "" && isUniqueViolation(err) {
			existing, lookupErr := r.getByDelivery(ctx, record.IntegrationID, record.DeliveryID)
			if lookupErr != nil {
				return webhook.Record{}, fmt.Errorf("loading duplicate delivery: %w", lookupErr)
			}
			return existing, webhook.ErrDuplicateDelivery
		}
		return webhook.Record{}, fmt.Errorf("inserting webhook: %w", err)
	}

	return record, nil
}

func (r *Repository) selectOne(ctx context.Context, builder sq.SelectBuilder) (webhook.Record, error) {
	statement, args, err := builder.ToSql()
	if err != nil {
		return webhook.Record{}, fmt.Errorf("building select: %w", err)
	}

	var result row
	err = r.DB.GetContext(ctx, &result, statement, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Record{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Record{}, fmt.Errorf("selecting webhook: %w", err)
	}
	return result.toRecord()
}

func (r *Repository) getByDelivery(ctx context.Context, integrationID, deliveryID string) (webhook.Record, error) {
	return r.selectOne(ctx, psql.Select(columns...).From(table).
		Where(sq.Eq{"integration_id": integrationID}).
		Where(sq.Eq{"delivery_id": deliveryID}))
}

// validID reports whether id can match the uuid primary key
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *Repository) Get(ctx context.Context, id string) (webhook.Record, error) {
	if !validID(id) {
		return webhook.Record{}, webhook.ErrNotFound
	}
	return r.selectOne(ctx, psql.Select(columns...).From(table).Where(sq.Eq{"id": id}))
}

func (r *Repository) List(ctx context.Context, filter webhook.ListFilter) ([]webhook.Record, error) {
	builder := psql.Select(columns...).From(table)
	if filter.Status != 0 {
		builder = builder.Where(sq.Eq{"status": filter.Status.String()})
	}
	if filter.Platform != "" {
		builder = builder.Where(sq.Eq{"platform": filter.Platform.String()})
	}
	if filter.IntegrationID != "" {
		builder = builder.Where(sq.Eq{"integration_id": filter.IntegrationID})
	}
	builder = builder.OrderBy("created_at DESC", "id DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	statement, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	var rows []row
	if err := r.DB.SelectContext(ctx, &rows, statement, args...); err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return toRecords(rows)
}

func (r *Repository) CountByStatus(ctx context.Context) (map[webhook.Status]int64, error) {
	statement, args, err := psql.Select("status", "COUNT(*) AS count").
		From(table).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building count: %w", err)
	}

	var rows []struct {
		Status string `db:"status"`
		Count  int64  `db:"count"`
	}
	if err := r.DB.SelectContext(ctx, &rows, statement, args...); err != nil {
		return nil, fmt.Errorf("counting webhooks: %w", err)
	}

	counts := make(map[webhook.Status]int64, len(webhook.Statuses()))
	for _, s := range webhook.Statuses() {
		counts[s] = 0
	}
	for _, c := range rows {
		if s := webhook.NewStatus(c.Status); s != 0 {
			counts[s] = c.Count
		}
	}
	return counts, nil
}

func (r *Repository) CountProcessedSince(ctx context.Context, since time.Time) (int64, error) {
	statement, args, err := psql.Select("COUNT(*)").
		From(table).
		Where(sq.Eq{"status": webhook.Processed.String()}).
		Where(sq.GtOrEq{"processed_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building count: %w", err)
	}

	var n int64
	if err := r.DB.GetContext(ctx, &n, statement, args...); err != nil {
		return 0, fmt.Errorf("counting processed webhooks: %w", err)
	}
	return n, nil
}

func (r *Repository) exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.DB.GetContext(ctx, &found, "SELECT EXISTS (SELECT 1 FROM webhooks WHERE id = $1)", id)
	if err != nil {
		return false, fmt.Errorf("checking webhook: %w", err)
	}
	return found, nil
}

// update runs a conditional update and reports whether a row changed
func (r *Repository) update(ctx context.Context, builder sq.UpdateBuilder) (bool, error) {
	statement, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("building update: %w", err)
	}

	result, err := r.DB.ExecContext(ctx, statement, args...)
	if err != nil {
		return false, fmt.Errorf("updating webhook: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) Claim(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, webhook.ErrNotFound
	}
	changed, err := r.update(ctx, psql.Update(table).
		Set("status", webhook.Processing.String()).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": webhook.Pending.String()}))
	if err != nil || changed {
		return changed, err
	}

	found, err := r.exists(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, webhook.ErrNotFound
	}
	return false, nil
}

// claimDueQuery selects and claims in one statement; SKIP LOCKED keeps
// concurrent sweeps on disjoint rows
const claimDueQuery = `
UPDATE webhooks SET status = $1, updated_at = NOW()
WHERE id IN (
    SELECT id FROM webhooks
    WHERE status = $2
      AND retry_count <= $3
      AND ((next_retry_at IS NOT NULL AND next_retry_at <= $4)
        OR (next_retry_at IS NULL AND created_at <= $5))
    ORDER BY COALESCE(next_retry_at, created_at)
    LIMIT $6
    FOR UPDATE SKIP LOCKED
)
RETURNING id, integration_id, platform, event_type, payload, signature,
    source_ip, user_agent, headers, delivery_id, status, retry_count,
    next_retry_at, error_message, processed_at, created_at, updated_at`

func (r *Repository) ClaimDue(ctx context.Context, filter webhook.DueFilter) ([]webhook.Record, error) {
	var rows []row
	err := r.DB.SelectContext(ctx, &rows, claimDueQuery,
		webhook.Processing.String(),
		webhook.Pending.String(),
		filter.MaxRetries,
		filter.Now,
		filter.OrphanBefore,
		filter.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming due webhooks: %w", err)
	}
	return toRecords(rows)
}

// transition applies an update that is only valid from processing
func (r *Repository) transition(ctx context.Context, id string, builder sq.UpdateBuilder) error {
	if !validID(id) {
		return webhook.ErrNotFound
	}
	changed, err := r.update(ctx, builder.
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": webhook.Processing.String()}))
	if err != nil || changed {
		return err
	}

	found, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return webhook.ErrNotFound
	}
	return webhook.ErrInvalidTransition
}

func (r *Repository) SetEventType(ctx context.Context, id string, eventType string) error {
	return r.transition(ctx, id, psql.Update(table).
		Set("event_type", eventType).
		Set("updated_at", sq.Expr("NOW()")))
}

func (r *Repository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, psql.Update(table).
		Set("status", webhook.Processed.String()).
		Set("processed_at", at).
		Set("next_retry_at", nil).
		Set("error_message", nil).
		Set("updated_at", at))
}

func (r *Repository) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, message string) error {
	return r.transition(ctx, id, psql.Update(table).
		Set("status", webhook.Pending.String()).
		Set("retry_count", retryCount).
		Set("next_retry_at", nextRetryAt).
		Set("error_message", message).
		Set("updated_at", sq.Expr("NOW()")))
}

func (r *Repository) MarkFailed(ctx context.Context, id string, at time.Time, message string) error {
	return r.transition(ctx, id, psql.Update(table).
		Set("status", webhook.Failed.String()).
		Set("processed_at", at).
		Set("next_retry_at", nil).
		Set("error_message", message).
		Set("updated_at", at))
}

// Close closes the connection pool
func (r *Repository) Close(ctx context.Context) error {
	if r.DB != nil {
		return r.DB.Close()
	}
	return nil
}

var _ webhook.Repository = (*Repository)(nil)
