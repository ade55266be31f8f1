package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of webhook.Repository
 * Records live in hashes (webhook:{id}); sorted sets index them by status,
 * by creation time, by retry due time and by processing time. Status
 * changes run as Lua scripts so the compare-and-set is atomic.
 */

const (
	hashPrefix     = "webhook:"            // webhook:{id}
	deliveryPrefix = "webhook:delivery:"   // webhook:delivery:{integration_id}:{delivery_id}
	recentKey      = "webhooks:recent"     // all records by created_at
	statusPrefix   = "webhooks:status:"    // webhooks:status:{status} by created_at
	dueKey         = "webhooks:due"        // pending retries by next_retry_at
	orphansKey     = "webhooks:orphans"    // pending records never attempted, by created_at
	processedKey   = "webhooks:processed"  // processed records by processed_at
	listPageSize   = 200
)

type Repository struct {
	client *redis.Client
}

// NewRepository wraps a connected client; Close closes the client
func NewRepository(client *redis.Client) *Repository {
	return &Repository{client: client}
}

// Client returns the underlying Redis client
func (r *Repository) Client() *redis.Client {
	return r.client
}

func hashKey(id string) string {
	return hashPrefix + id
}

func statusKey(s webhook.Status) string {
	return statusPrefix + s.String()
}

func deliveryKey(integrationID, deliveryID string) string {
	return deliveryPrefix + integrationID + ":" + deliveryID
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func optionalMillis(t *time.Time) string {
	if t == nil {
		return ""
	}
	return millis(*t)
}

func parseMillis(s string) *time.Time {
	if s == "" {
		return nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func (r *Repository) Create(ctx context.Context, record webhook.Record) (webhook.Record, error) {
	headersJSON, err := json.Marshal(record.Headers)
	if err != nil {
		return webhook.Record{}, fmt.Errorf("marshaling headers: %w", err)
	}

	hasDelivery := "0"
	delivery := deliveryKey(record.IntegrationID, record.DeliveryID)
	if record.DeliveryID != "" {
		hasDelivery = "1"
	}
	orphan := "0"
	if record.Status == webhook.Pending && record.NextRetryAt == nil {
		orphan = "1"
	}

	fields := []interface{}{
		"id", record.ID,
		"integration_id", record.IntegrationID,
		"platform", record.Platform.String(),
		"event_type", record.EventType,
		"payload", record.Payload,
		"signature", record.Signature,
		"source_ip", record.SourceIP,
		"user_agent", record.UserAgent,
		"headers", string(headersJSON),
		"delivery_id", record.DeliveryID,
		"status", record.Status.String(),
		"retry_count", record.RetryCount,
		"next_retry_at", optionalMillis(record.NextRetryAt),
		"processed_at", optionalMillis(record.ProcessedAt),
		"created_at", millis(record.CreatedAt),
		"updated_at", millis(record.UpdatedAt),
	}
	if record.ErrorMessage != nil {
		fields = append(fields, "error_message", *record.ErrorMessage)
	}

	args := append([]interface{}{hasDelivery, record.ID, millis(record.CreatedAt), orphan}, fields...)
	keys := []string{hashKey(record.ID), recentKey, statusKey(record.Status), orphansKey, delivery}

	existing, err := createScript.Run(ctx, r.client, keys, args...).Text()
	if err != nil {
		return webhook.Record{}, fmt.Errorf("storing webhook: %w", err)
	}
	if existing != "" {
		stored, err := r.Get(ctx, existing)
		if err != nil {
			return webhook.Record{}, fmt.Errorf("loading duplicate delivery: %w", err)
		}
		return stored, webhook.ErrDuplicateDelivery
	}

	return record, nil
}

func fromHash(data map[string]string) (webhook.Record, error) {
	headers := make(map[string]string)
	if raw := data["headers"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return webhook.Record{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	retryCount, _ := strconv.Atoi(data["retry_count"])
	record := webhook.Record{
		ID:            data["id"],
		IntegrationID: data["integration_id"],
		Platform:      webhook.Platform(data["platform"]),
		EventType:     data["event_type"],
		Payload:       []byte(data["payload"]),
		Signature:     data["signature"],
		SourceIP:      data["source_ip"],
		UserAgent:     data["user_agent"],
		Headers:       headers,
		DeliveryID:    data["delivery_id"],
		Status:        webhook.NewStatus(data["status"]),
		RetryCount:    retryCount,
		NextRetryAt:   parseMillis(data["next_retry_at"]),
		ProcessedAt:   parseMillis(data["processed_at"]),
	}
	if msg, ok := data["error_message"]; ok {
		record.ErrorMessage = &msg
	}
	if t := parseMillis(data["created_at"]); t != nil {
		record.CreatedAt = *t
	}
	if t := parseMillis(data["updated_at"]); t != nil {
		record.UpdatedAt = *t
	}
	return record, nil
}

func (r *Repository) Get(ctx context.Context, id string) (webhook.Record, error) {
	data, err := r.client.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return webhook.Record{}, fmt.Errorf("getting webhook: %w", err)
	}
	if len(data) == 0 {
		return webhook.Record{}, webhook.ErrNotFound
	}
	return fromHash(data)
}

// getMany loads records in one pipeline, skipping ids whose hash is gone
func (r *Repository) getMany(ctx context.Context, ids []string) ([]webhook.Record, error) {
	if len(ids) == 0 {
		return []webhook.Record{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, hashKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("loading webhooks: %w", err)
	}

	records := make([]webhook.Record, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		record, err := fromHash(data)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r *Repository) List(ctx context.Context, filter webhook.ListFilter) ([]webhook.Record, error) {
	source := recentKey
	if filter.Status != 0 {
		source = statusKey(filter.Status)
	}

	records := make([]webhook.Record, 0)
	for start := int64(0); ; start += listPageSize {
		ids, err := r.client.ZRevRange(ctx, source, start, start+listPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("listing webhooks: %w", err)
		}

		page, err := r.getMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, record := range page {
			if filter.Platform != "" && record.Platform != filter.Platform {
				continue
			}
			if filter.IntegrationID != "" && record.IntegrationID != filter.IntegrationID {
				continue
			}
			records = append(records, record)
			if filter.Limit > 0 && len(records) == filter.Limit {
				return records, nil
			}
		}

		if len(ids) < listPageSize {
			return records, nil
		}
	}
}

func (r *Repository) CountByStatus(ctx context.Context) (map[webhook.Status]int64, error) {
	statuses := webhook.Statuses()

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(statuses))
	for i, s := range statuses {
		cmds[i] = pipe.ZCard(ctx, statusKey(s))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("counting webhooks: %w", err)
	}

	counts := make(map[webhook.Status]int64, len(statuses))
	for i, s := range statuses {
		counts[s] = cmds[i].Val()
	}
	return counts, nil
}

func (r *Repository) CountProcessedSince(ctx context.Context, since time.Time) (int64, error) {
	n, err := r.client.ZCount(ctx, processedKey, millis(since), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("counting processed webhooks: %w", err)
	}
	return n, nil
}

func (r *Repository) Claim(ctx context.Context, id string) (bool, error) {
	keys := []string{hashKey(id), statusKey(webhook.Pending), statusKey(webhook.Processing), dueKey, orphansKey}
	result, err := claimScript.Run(ctx, r.client, keys, id, millis(time.Now())).Int()
	if err != nil {
		return false, fmt.Errorf("claiming webhook: %w", err)
	}
	switch result {
	case -1:
		return false, webhook.ErrNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

func (r *Repository) ClaimDue(ctx context.Context, filter webhook.DueFilter) ([]webhook.Record, error) {
	keys := []string{statusKey(webhook.Pending), statusKey(webhook.Processing), dueKey, orphansKey}
	ids, err := claimDueScript.Run(ctx, r.client, keys,
		millis(filter.Now),
		millis(filter.OrphanBefore),
		filter.MaxRetries,
		filter.Limit,
		hashPrefix,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("claiming due webhooks: %w", err)
	}
	return r.getMany(ctx, ids)
}

type transition struct {
	target         webhook.Status
	dueScore       string
	processedScore string
	clear          string
	fields         []interface{}
}

func (r *Repository) transition(ctx context.Context, id string, t transition) error {
	keys := []string{hashKey(id), statusKey(webhook.Processing), statusKey(t.target), dueKey, processedKey}
	args := append([]interface{}{id, t.target.String(), t.dueScore, t.processedScore, t.clear}, t.fields...)

	result, err := transitionScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	switch result {
	case -1:
		return webhook.ErrNotFound
	case 0:
		return webhook.ErrInvalidTransition
	default:
		return nil
	}
}

func (r *Repository) SetEventType(ctx context.Context, id string, eventType string) error {
	return r.transition(ctx, id, transition{
		target: webhook.Processing,
		fields: []interface{}{"event_type", eventType, "updated_at", millis(time.Now())},
	})
}

func (r *Repository) MarkProcessed(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, transition{
		target:         webhook.Processed,
		processedScore: millis(at),
		clear:          "error_message",
		fields: []interface{}{
			"status", webhook.Processed.String(),
			"processed_at", millis(at),
			"next_retry_at", "",
			"updated_at", millis(at),
		},
	})
}

func (r *Repository) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, message string) error {
	return r.transition(ctx, id, transition{
		target:   webhook.Pending,
		dueScore: millis(nextRetryAt),
		fields: []interface{}{
			"status", webhook.Pending.String(),
			"retry_count", retryCount,
			"next_retry_at", millis(nextRetryAt),
			"error_message", message,
			"updated_at", millis(time.Now()),
		},
	})
}

func (r *Repository) MarkFailed(ctx context.Context, id string, at time.Time, message string) error {
	return r.transition(ctx, id, transition{
		target: webhook.Failed,
		fields: []interface{}{
			"status", webhook.Failed.String(),
			"processed_at", millis(at),
			"next_retry_at", "",
			"error_message", message,
			"updated_at", millis(at),
		},
	})
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

var _ webhook.Repository = (*Repository)(nil)
