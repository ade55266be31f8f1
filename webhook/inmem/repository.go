package inmem

import (
	"bytes"
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-intake/webhook"
)

/* Repository keeps records in process memory
 * Used by STORE_DRIVER=memory and the HTTP tests; every method holds one
 * mutex so the compare-and-set rules match the durable stores.
 */
type Repository struct {
	mu         sync.Mutex
	records    map[string]*webhook.Record
	deliveries map[string]string
	seq        map[string]int64
	next       int64
}

// NewRepository creates an empty store
func NewRepository() *Repository {
	return &Repository{
		records:    make(map[string]*webhook.Record),
		deliveries: make(map[string]string),
		seq:        make(map[string]int64),
	}
}

func deliveryKey(integrationID, deliveryID string) string {
	return integrationID + "\x00" + deliveryID
}

func clone(r *webhook.Record) webhook.Record {
	out := *r
	out.Payload = bytes.Clone(r.Payload)
	out.Headers = maps.Clone(r.Headers)
	if r.NextRetryAt != nil {
		t := *r.NextRetryAt
		out.NextRetryAt = &t
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		out.ProcessedAt = &t
	}
	if r.ErrorMessage != nil {
		m := *r.ErrorMessage
		out.ErrorMessage = &m
	}
	return out
}

func (r *Repository) Create(_ context.Context, record webhook.Record) (webhook.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if record.DeliveryID != "" {
		key := deliveryKey(record.IntegrationID, record.DeliveryID)
		if id, ok := r.deliveries[key]; ok {
			return clone(r.records[id]), webhook.ErrDuplicateDelivery
		}
		r.deliveries[key] = record.ID
	}

	stored := clone(&record)
	r.records[record.ID] = &stored
	r.next++
	r.seq[record.ID] = r.next
	return clone(&stored), nil
}

func (r *Repository) Get(_ context.Context, id string) (webhook.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return webhook.Record{}, webhook.ErrNotFound
	}
	return clone(record), nil
}

func (r *Repository) List(_ context.Context, filter webhook.ListFilter) ([]webhook.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matches := make([]*webhook.Record, 0, len(r.records))
	for _, record := range r.records {
		if filter.Status != 0 && record.Status != filter.Status {
			continue
		}
		if filter.Platform != "" && record.Platform != filter.Platform {
			continue
		}
		if filter.IntegrationID != "" && record.IntegrationID != filter.IntegrationID {
			continue
		}
		matches = append(matches, record)
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return r.seq[a.ID] > r.seq[b.ID]
	})

	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}

	out := make([]webhook.Record, 0, len(matches))
	for _, record := range matches {
		out = append(out, clone(record))
	}
	return out, nil
}

func (r *Repository) CountByStatus(_ context.Context) (map[webhook.Status]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[webhook.Status]int64, len(webhook.Statuses()))
	for _, s := range webhook.Statuses() {
		counts[s] = 0
	}
	for _, record := range r.records {
		counts[record.Status]++
	}
	return counts, nil
}

func (r *Repository) CountProcessedSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, record := range r.records {
		if record.Status == webhook.Processed && record.ProcessedAt != nil && !record.ProcessedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) Claim(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return false, webhook.ErrNotFound
	}
	if record.Status != webhook.Pending {
		return false, nil
	}
	record.Status = webhook.Processing
	record.UpdatedAt = time.Now().UTC()
	return true, nil
}

func due(record *webhook.Record, filter webhook.DueFilter) (time.Time, bool) {
	if record.Status != webhook.Pending || record.RetryCount > filter.MaxRetries {
		return time.Time{}, false
	}
	if record.NextRetryAt != nil {
		return *record.NextRetryAt, !record.NextRetryAt.After(filter.Now)
	}
	return record.CreatedAt, !record.CreatedAt.After(filter.OrphanBefore)
}

func (r *Repository) ClaimDue(_ context.Context, filter webhook.DueFilter) ([]webhook.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type candidate struct {
		record *webhook.Record
		at     time.Time
	}
	candidates := make([]candidate, 0)
	for _, record := range r.records {
		if at, ok := due(record, filter); ok {
			candidates = append(candidates, candidate{record, at})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].at.Before(candidates[j].at)
	})
	if filter.Limit > 0 && len(candidates) > filter.Limit {
		candidates = candidates[:filter.Limit]
	}

	now := time.Now().UTC()
	claimed := make([]webhook.Record, 0, len(candidates))
	for _, c := range candidates {
		c.record.Status = webhook.Processing
		c.record.UpdatedAt = now
		claimed = append(claimed, clone(c.record))
	}
	return claimed, nil
}

// processing returns the record when it may take a transition out of processing
func (r *Repository) processing(id string) (*webhook.Record, error) {
	record, ok := r.records[id]
	if !ok {
		return nil, webhook.ErrNotFound
	}
	if record.Status != webhook.Processing {
		return nil, webhook.ErrInvalidTransition
	}
	return record, nil
}

func (r *Repository) SetEventType(_ context.Context, id string, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.processing(id)
	if err != nil {
		return err
	}
	record.EventType = eventType
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) MarkProcessed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.processing(id)
	if err != nil {
		return err
	}
	record.Status = webhook.Processed
	record.ProcessedAt = &at
	record.NextRetryAt = nil
	record.ErrorMessage = nil
	record.UpdatedAt = at
	return nil
}

func (r *Repository) MarkRetry(_ context.Context, id string, retryCount int, nextRetryAt time.Time, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.processing(id)
	if err != nil {
		return err
	}
	record.Status = webhook.Pending
	record.RetryCount = retryCount
	record.NextRetryAt = &nextRetryAt
	record.ErrorMessage = &message
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) MarkFailed(_ context.Context, id string, at time.Time, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.processing(id)
	if err != nil {
		return err
	}
	record.Status = webhook.Failed
	record.ProcessedAt = &at
	record.NextRetryAt = nil
	record.ErrorMessage = &message
	record.UpdatedAt = at
	return nil
}

func (r *Repository) Close(_ context.Context) error {
	return nil
}

var _ webhook.Repository = (*Repository)(nil)
