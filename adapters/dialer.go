package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2/clientcredentials"
)

// DialerAdapter pulls call records from the dialer platform. The platform
// issues OAuth2 client-credential tokens and paginates with an opaque page
// token, which maps directly onto the sync cursor.
type DialerAdapter struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

// NewDialerAdapter builds an adapter whose HTTP client injects and
// refreshes the OAuth2 token automatically.
func NewDialerAdapter(baseURL, clientID, clientSecret string, pageSize int) *DialerAdapter {
	if pageSize <= 0 {
		pageSize = 100
	}
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/oauth/token",
	}
	client := cc.Client(context.Background())
	client.Timeout = 30 * time.Second
	return &DialerAdapter{
		baseURL:  baseURL,
		pageSize: pageSize,
		client:   client,
	}
}

type dialerCallPayload struct {
	CallID          string `json:"call_id"`
	AgentName       string `json:"agent_name"`
	Disposition     string `json:"disposition"`
	DurationSeconds int    `json:"duration"`
	RecordingURL    string `json:"recording_url"`
	StartedAt       string `json:"started_at"`
}

type dialerCallListResponse struct {
	Calls         []dialerCallPayload `json:"calls"`
	NextPageToken string              `json:"next_page_token"`
}

// FetchCampaignPage is a no-op: the dialer has no email campaigns.
func (a *DialerAdapter) FetchCampaignPage(ctx context.Context, cursor string) ([]CampaignRecord, string, error) {
	return nil, "", nil
}

// FetchContactPage is a no-op: contacts come from the email platform.
func (a *DialerAdapter) FetchContactPage(ctx context.Context, cursor string) ([]ContactRecord, string, error) {
	return nil, "", nil
}

func (a *DialerAdapter) FetchCallPage(ctx context.Context, cursor string) ([]CallRecord, string, error) {
	endpoint := fmt.Sprintf("%s/v2/calls?page_size=%d", a.baseURL, a.pageSize)
	if cursor != "" {
		endpoint += "&page_token=" + url.QueryEscape(cursor)
	}

	var resp dialerCallListResponse
	if err := a.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, "", err
	}

	records := make([]CallRecord, 0, len(resp.Calls))
	for _, p := range resp.Calls {
		records = append(records, CallRecord{
			ExternalID:      p.CallID,
			RepName:         p.AgentName,
			Disposition:     p.Disposition,
			DurationSeconds: p.DurationSeconds,
			RecordingURL:    p.RecordingURL,
			CalledAt:        parseTime(p.StartedAt),
		})
	}

	return records, resp.NextPageToken, nil
}

func (a *DialerAdapter) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
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
			return backoff.Permanent(fmt.Errorf("failed to decode dialer response: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))
}
