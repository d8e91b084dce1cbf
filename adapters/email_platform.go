package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/badoux/checkmail"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// EmailPlatformAdapter pulls campaigns and contacts from the email
// outreach platform's REST API. The cursor is a numeric offset encoded as
// a string, so refetching the same cursor yields the same page.
type EmailPlatformAdapter struct {
	baseURL  string
	apiKey   string
	pageSize int
	client   *http.Client
	log      *logrus.Entry
}

func NewEmailPlatformAdapter(baseURL, apiKey string, pageSize int) *EmailPlatformAdapter {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &EmailPlatformAdapter{
		baseURL:  baseURL,
		apiKey:   apiKey,
		pageSize: pageSize,
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      logrus.WithField("adapter", "email_platform"),
	}
}

// Wire payloads as the platform returns them.
type emailCampaignPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`

	Analytics struct {
		EmailsSent int `json:"emails_sent_count"`
		Delivered  int `json:"delivered_count"`
		Replies    int `json:"reply_count"`
		Bounces    int `json:"bounce_count"`
		Positive   int `json:"positive_reply_count"`
	} `json:"analytics"`

	Sequences []struct {
		ID       string `json:"id"`
		Subject  string `json:"subject"`
		Step     int    `json:"step"`
		Variant  string `json:"variant_label"`
		Sent     int    `json:"sent_count"`
		Replies  int    `json:"reply_count"`
		Bounces  int    `json:"bounce_count"`
		Positive int    `json:"positive_reply_count"`
	} `json:"sequences"`
}

type emailContactPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company_name"`
	Title     string `json:"job_title"`
	Phone     string `json:"phone"`
}

type campaignListResponse struct {
	Campaigns []emailCampaignPayload `json:"campaigns"`
	Total     int                    `json:"total"`
}

type contactListResponse struct {
	Contacts []emailContactPayload `json:"leads"`
	Total    int                   `json:"total"`
}

func (a *EmailPlatformAdapter) FetchCampaignPage(ctx context.Context, cursor string) ([]CampaignRecord, string, error) {
	offset := parseOffset(cursor)
	url := fmt.Sprintf("%s/api/v1/campaigns?limit=%d&offset=%d", a.baseURL, a.pageSize, offset)

	var resp campaignListResponse
	if err := a.getJSON(ctx, url, &resp); err != nil {
		return nil, "", err
	}

	records := make([]CampaignRecord, 0, len(resp.Campaigns))
	for _, p := range resp.Campaigns {
		records = append(records, normalizeCampaign(p))
	}

	return records, nextOffsetCursor(offset, len(resp.Campaigns), resp.Total), nil
}

func (a *EmailPlatformAdapter) FetchContactPage(ctx context.Context, cursor string) ([]ContactRecord, string, error) {
	offset := parseOffset(cursor)
	url := fmt.Sprintf("%s/api/v1/leads?limit=%d&offset=%d", a.baseURL, a.pageSize, offset)

	var resp contactListResponse
	if err := a.getJSON(ctx, url, &resp); err != nil {
		return nil, "", err
	}

	records := make([]ContactRecord, 0, len(resp.Contacts))
	for _, p := range resp.Contacts {
		if err := checkmail.ValidateFormat(p.Email); err != nil {
			a.log.WithField("external_id", p.ID).Warnf("skipping contact with invalid email: %v", err)
			continue
		}
		records = append(records, ContactRecord{
			ExternalID: p.ID,
			Email:      p.Email,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Company:    p.Company,
			Title:      p.Title,
			Phone:      p.Phone,
		})
	}

	return records, nextOffsetCursor(offset, len(resp.Contacts), resp.Total), nil
}

// FetchCallPage is a no-op: the email platform has no call records.
func (a *EmailPlatformAdapter) FetchCallPage(ctx context.Context, cursor string) ([]CallRecord, string, error) {
	return nil, "", nil
}

func normalizeCampaign(p emailCampaignPayload) CampaignRecord {
	rec := CampaignRecord{
		ExternalID:     p.ID,
		Name:           p.Name,
		Status:         p.Status,
		TotalSent:      p.Analytics.EmailsSent,
		TotalDelivered: p.Analytics.Delivered,
		TotalReplied:   p.Analytics.Replies,
		TotalBounced:   p.Analytics.Bounces,
		TotalPositive:  p.Analytics.Positive,
		CreatedAt:      parseTime(p.CreatedAt),
		UpdatedAt:      parseTime(p.UpdatedAt),
	}

	// The platform reports delivered separately from bounces; when the
	// field is missing, derive it and clamp at zero.
	if rec.TotalDelivered == 0 && rec.TotalSent > 0 {
		rec.TotalDelivered = rec.TotalSent - rec.TotalBounced
		if rec.TotalDelivered < 0 {
			rec.TotalDelivered = 0
		}
	}

	for _, s := range p.Sequences {
		rec.Variants = append(rec.Variants, VariantRecord{
			ExternalID:    s.ID,
			Subject:       s.Subject,
			StepLabel:     fmt.Sprintf("Step %d - %s", s.Step, s.Variant),
			TotalSent:     s.Sent,
			TotalReplied:  s.Replies,
			TotalBounced:  s.Bounces,
			TotalPositive: s.Positive,
		})
	}
	return rec
}

// getJSON executes a GET with a short in-call retry budget for transient
// failures. Auth and decode errors are permanent and bubble immediately.
func (a *EmailPlatformAdapter) getJSON(ctx context.Context, url string, out interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-API-KEY", a.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			// Network errors are transient, let backoff handle them
			return &TransientError{StatusCode: 0, Msg: err.Error()}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransientError{StatusCode: resp.StatusCode, Msg: err.Error()}
		}

		if err := classifyStatus(resp.StatusCode, string(body)); err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode platform response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
}

func parseOffset(cursor string) int {
	if cursor == "" {
		return 0
	}
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		return 0
	}
	return offset
}

func nextOffsetCursor(offset, fetched, total int) string {
	next := offset + fetched
	if fetched == 0 || (total > 0 && next >= total) {
		return ""
	}
	return strconv.Itoa(next)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
