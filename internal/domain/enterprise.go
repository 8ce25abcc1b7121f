package domain

import "time"

// APIKeyStatus values; only active keys may submit work.
const (
	APIKeyStatusActive   = "active"
	APIKeyStatusDisabled = "disabled"
)

// APIKey is an enterprise credential. The raw secret is never stored, only its hash.
type APIKey struct {
	ID                 string
	UserID             string
	Name               string
	Prefix             string
	Status             string
	RateLimitPerMinute int
	CostPerVideo       int64
	CreatedAt          time.Time
	LastUsedAt         *time.Time
}

// Active reports whether the key may be used.
func (k *APIKey) Active() bool {
	return k != nil && k.Status == APIKeyStatusActive
}

// UsageRecord is one accepted enterprise request. (APIKeyID, RequestID) is unique
// and doubles as the idempotency record.
type UsageRecord struct {
	ID           string
	APIKeyID     string
	Endpoint     string
	IP           string
	UserAgent    string
	Country      string
	RequestID    string
	MinuteBucket time.Time
	BatchJobID   string
	CreatedAt    time.Time
}

// MinuteBucket truncates t to its UTC minute.
func MinuteBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}
