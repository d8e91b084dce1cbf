package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Unit names for the sync loop and retry queue
const (
	UnitCampaigns = "campaigns"
	UnitContacts  = "contacts"
	UnitCalls     = "calls"
)

// CampaignRecord is the normalized shape of a platform campaign, including
// its content variants.
type CampaignRecord struct {
	ExternalID string
	Name       string
	Status     string

	TotalSent      int
	TotalDelivered int
	TotalReplied   int
	TotalBounced   int
	TotalPositive  int

	CreatedAt time.Time
	UpdatedAt time.Time

	Variants []VariantRecord
}

// VariantRecord is a normalized campaign content variant.
type VariantRecord struct {
	ExternalID string
	Subject    string
	StepLabel  string

	TotalSent     int
	TotalReplied  int
	TotalBounced  int
	TotalPositive int
}

// ContactRecord is a normalized prospect record.
type ContactRecord struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	Company    string
	Title      string
	Phone      string
}

// CallRecord is a normalized dialer call record.
type CallRecord struct {
	ExternalID      string
	RepName         string
	Disposition     string
	DurationSeconds int
	RecordingURL    string
	CalledAt        time.Time
}

// SourceAdapter paginates an external platform and yields normalized
// records. Pagination must be idempotent: the same cursor always returns
// the same page. An empty next cursor means the unit is exhausted.
type SourceAdapter interface {
	FetchCampaignPage(ctx context.Context, cursor string) ([]CampaignRecord, string, error)
	FetchContactPage(ctx context.Context, cursor string) ([]ContactRecord, string, error)
	FetchCallPage(ctx context.Context, cursor string) ([]CallRecord, string, error)
}

// ErrAuth marks permanent credential failures. These must never be retried.
var ErrAuth = errors.New("platform authentication failed")

// TransientError wraps rate-limit and server-side failures that are safe
// to retry with backoff.
type TransientError struct {
	StatusCode int
	Msg        string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient platform error (status %d): %s", e.StatusCode, e.Msg)
}

// IsTransient reports whether err should go through the retry queue.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsAuth reports whether err is a permanent credential failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrAuth)
}

// classifyStatus maps an HTTP response status onto the error taxonomy.
// 2xx returns nil.
func classifyStatus(statusCode int, body string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w (status %d)", ErrAuth, statusCode)
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return &TransientError{StatusCode: statusCode, Msg: body}
	default:
		return fmt.Errorf("unexpected platform response (status %d): %s", statusCode, body)
	}
}
