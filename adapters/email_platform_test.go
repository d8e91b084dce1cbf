package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	assert.NoError(t, classifyStatus(200, ""))
	assert.NoError(t, classifyStatus(204, ""))

	assert.True(t, IsAuth(classifyStatus(401, "bad key")))
	assert.True(t, IsAuth(classifyStatus(403, "forbidden")))

	assert.True(t, IsTransient(classifyStatus(429, "slow down")))
	assert.True(t, IsTransient(classifyStatus(500, "boom")))
	assert.True(t, IsTransient(classifyStatus(503, "unavailable")))

	// Client errors outside the taxonomy are permanent but not auth
	err := classifyStatus(404, "not found")
	require.Error(t, err)
	assert.False(t, IsAuth(err))
	assert.False(t, IsTransient(err))
}

func campaignsHandler(t *testing.T, requests *[]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		*requests = append(*requests, r.URL.RawQuery)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))

		offset := r.URL.Query().Get("offset")
		switch offset {
		case "0", "":
			fmt.Fprint(w, `{
				"total": 3,
				"campaigns": [
					{"id": "cmp-1", "name": "Spring Launch", "status": "active",
					 "created_at": "2025-01-06T00:00:00Z", "updated_at": "2025-03-03T00:00:00Z",
					 "analytics": {"emails_sent_count": 900, "reply_count": 81, "bounce_count": 40},
					 "sequences": [
						{"id": "seq-1", "subject": "Quick question", "step": 1, "variant_label": "A",
						 "sent_count": 450, "reply_count": 50}
					 ]},
					{"id": "cmp-2", "name": "Renewal Push", "status": "paused",
					 "analytics": {"emails_sent_count": 200, "delivered_count": 190}}
				]
			}`)
		case "2":
			fmt.Fprint(w, `{
				"total": 3,
				"campaigns": [
					{"id": "cmp-3", "name": "Win-back", "status": "active",
					 "analytics": {"emails_sent_count": 50}}
				]
			}`)
		default:
			fmt.Fprint(w, `{"total": 3, "campaigns": []}`)
		}
	}
}

func TestFetchCampaignPagePagination(t *testing.T) {
	var requests []string
	server := httptest.NewServer(campaignsHandler(t, &requests))
	defer server.Close()

	adapter := NewEmailPlatformAdapter(server.URL, "test-key", 2)

	records, next, err := adapter.FetchCampaignPage(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "2", next)

	assert.Equal(t, "cmp-1", records[0].ExternalID)
	assert.Equal(t, 900, records[0].TotalSent)
	// Delivered was absent upstream: derived as sent minus bounced
	assert.Equal(t, 860, records[0].TotalDelivered)
	assert.Equal(t, 81, records[0].TotalReplied)
	require.Len(t, records[0].Variants, 1)
	assert.Equal(t, "seq-1", records[0].Variants[0].ExternalID)
	assert.Equal(t, "Step 1 - A", records[0].Variants[0].StepLabel)

	// Delivered reported upstream is kept as is
	assert.Equal(t, 190, records[1].TotalDelivered)

	records, next, err = adapter.FetchCampaignPage(context.Background(), next)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cmp-3", records[0].ExternalID)
	assert.Empty(t, next)
}

func TestFetchCampaignPageIdempotent(t *testing.T) {
	var requests []string
	server := httptest.NewServer(campaignsHandler(t, &requests))
	defer server.Close()

	adapter := NewEmailPlatformAdapter(server.URL, "test-key", 2)

	first, _, err := adapter.FetchCampaignPage(context.Background(), "")
	require.NoError(t, err)
	second, _, err := adapter.FetchCampaignPage(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, requests[0], requests[1])
}

func TestFetchContactPageSkipsInvalidEmails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"total": 3,
			"leads": [
				{"id": "ld-1", "email": "jo@acme.com", "first_name": "Jo"},
				{"id": "ld-2", "email": "not-an-email", "first_name": "Broken"},
				{"id": "ld-3", "email": "sam@acme.com", "first_name": "Sam"}
			]
		}`)
	}))
	defer server.Close()

	adapter := NewEmailPlatformAdapter(server.URL, "test-key", 100)

	records, next, err := adapter.FetchContactPage(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, next)

	require.Len(t, records, 2)
	assert.Equal(t, "ld-1", records[0].ExternalID)
	assert.Equal(t, "ld-3", records[1].ExternalID)
}

func TestFetchCampaignPageAuthFailureIsPermanent(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "invalid api key"}`)
	}))
	defer server.Close()

	adapter := NewEmailPlatformAdapter(server.URL, "bad-key", 100)

	_, _, err := adapter.FetchCampaignPage(context.Background(), "")
	require.Error(t, err)
	assert.True(t, IsAuth(err))
	assert.False(t, IsTransient(err))
	// No in-call retries on a credential failure
	assert.Equal(t, 1, hits)
}

func TestFetchCampaignPageRetriesTransient(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"total": 1, "campaigns": [{"id": "cmp-1", "name": "Recovered"}]}`)
	}))
	defer server.Close()

	adapter := NewEmailPlatformAdapter(server.URL, "test-key", 100)

	records, _, err := adapter.FetchCampaignPage(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, hits)
}

func TestParseOffset(t *testing.T) {
	assert.Equal(t, 0, parseOffset(""))
	assert.Equal(t, 0, parseOffset("garbage"))
	assert.Equal(t, 0, parseOffset("-5"))
	assert.Equal(t, 200, parseOffset("200"))
}

func TestNextOffsetCursor(t *testing.T) {
	assert.Equal(t, "100", nextOffsetCursor(0, 100, 250))
	assert.Equal(t, "", nextOffsetCursor(200, 50, 250))
	assert.Equal(t, "", nextOffsetCursor(0, 0, 250))
	// Unknown total keeps paging until an empty page
	assert.Equal(t, "100", nextOffsetCursor(0, 100, 0))
}
