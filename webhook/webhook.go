package webhook

import (
	"strings"
	"time"
)

/* Record represents one inbound webhook delivery
 * Uses value semantics as it represents data, not behavior
 */
type Record struct {
	ID            string
	IntegrationID string
	Platform      Platform
	EventType     string
	Payload       []byte
	Signature     string
	SourceIP      string
	UserAgent     string
	Headers       map[string]string
	DeliveryID    string
	Status        Status
	RetryCount    int
	NextRetryAt   *time.Time
	ErrorMessage  *string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UnknownEventType is the event type of a record that could not be classified
const UnknownEventType = "unknown"

// Platform identifies the provider that pushed a webhook
type Platform string

const (
	Instagram  Platform = "instagram"
	Facebook   Platform = "facebook"
	TikTok     Platform = "tiktok"
	Salesforce Platform = "salesforce"
	HubSpot    Platform = "hubspot"
	Pipedrive  Platform = "pipedrive"
)

// NewPlatform normalizes a platform name taken from a URL or a config file
func NewPlatform(s string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(s)))
}

// String returns the string representation of the platform
func (p Platform) String() string {
	return string(p)
}

// Inbound carries everything the HTTP layer captured about a verified delivery
type Inbound struct {
	IntegrationID string
	Platform      Platform
	Payload       []byte
	Signature     string
	SourceIP      string
	UserAgent     string
	Headers       map[string]string
	DeliveryID    string
}

// Job is the unit handed to an executor
// Claimed is true when the record was already moved to processing by the caller
type Job struct {
	WebhookID string
	Claimed   bool
}

// ListFilter bounds the operator listing
type ListFilter struct {
	Status        Status
	Platform      Platform
	IntegrationID string
	Limit         int
}

// DueFilter selects records the retry scheduler may claim
type DueFilter struct {
	Now          time.Time
	OrphanBefore time.Time
	MaxRetries   int
	Limit        int
}
