package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/models"
	"github.com/ternarybob/beacon/internal/services/breaker"
)

const samplePSIResponse = `{
	"loadingExperience": {
		"overall_category": "AVERAGE",
		"metrics": {
			"LARGEST_CONTENTFUL_PAINT_MS": {
				"percentile": 2600,
				"distributions": [
					{"proportion": 0.6},
					{"proportion": 0.3},
					{"proportion": 0.1}
				]
			},
			"CUMULATIVE_LAYOUT_SHIFT_SCORE": {"percentile": 0.05},
			"INTERACTION_TO_NEXT_PAINT": {"percentile": 150},
			"FIRST_CONTENTFUL_PAINT_MS": {"percentile": 1800},
			"EXPERIMENTAL_TIME_TO_FIRST_BYTE": {"percentile": 700}
		}
	}
}`

func TestRateLCP(t *testing.T) {
	assert.Equal(t, models.RatingGood, RateLCP(2500))
	assert.Equal(t, models.RatingNeedsImprovement, RateLCP(2501))
	assert.Equal(t, models.RatingNeedsImprovement, RateLCP(4000))
	assert.Equal(t, models.RatingPoor, RateLCP(4001))
}

func TestRateCLS(t *testing.T) {
	assert.Equal(t, models.RatingGood, RateCLS(0.1))
	assert.Equal(t, models.RatingNeedsImprovement, RateCLS(0.11))
	assert.Equal(t, models.RatingNeedsImprovement, RateCLS(0.25))
	assert.Equal(t, models.RatingPoor, RateCLS(0.26))
}

func TestRateINP(t *testing.T) {
	assert.Equal(t, models.RatingGood, RateINP(200))
	assert.Equal(t, models.RatingNeedsImprovement, RateINP(201))
	assert.Equal(t, models.RatingNeedsImprovement, RateINP(500))
	assert.Equal(t, models.RatingPoor, RateINP(501))
}

func TestParseCrUX_URLLevelData(t *testing.T) {
	crux := parseCrUX([]byte(samplePSIResponse))
	require.NotNil(t, crux)

	assert.False(t, crux.OriginFallback)
	assert.Equal(t, models.RatingNeedsImprovement, crux.OverallRating)

	require.NotNil(t, crux.LCP)
	require.NotNil(t, crux.LCP.P75)
	assert.InDelta(t, 2600, *crux.LCP.P75, 0.001)
	assert.Equal(t, models.RatingNeedsImprovement, crux.LCP.Rating)
	require.NotNil(t, crux.LCP.Distribution)
	assert.InDelta(t, 0.6, crux.LCP.Distribution.Good, 0.001)

	require.NotNil(t, crux.CLS)
	assert.Equal(t, models.RatingGood, crux.CLS.Rating)
	require.NotNil(t, crux.INP)
	assert.Equal(t, models.RatingGood, crux.INP.Rating)

	// FCP and TTFB carry no rating
	require.NotNil(t, crux.FCP)
	assert.Equal(t, models.Rating(""), crux.FCP.Rating)
	require.NotNil(t, crux.TTFB)
}

func TestParseCrUX_OriginFallback(t *testing.T) {
	data := `{
		"originLoadingExperience": {
			"overall_category": "FAST",
			"metrics": {
				"LARGEST_CONTENTFUL_PAINT_MS": {"percentile": 1500}
			}
		}
	}`
	crux := parseCrUX([]byte(data))
	require.NotNil(t, crux)
	assert.True(t, crux.OriginFallback)
	assert.Equal(t, models.RatingGood, crux.OverallRating)
	assert.Equal(t, models.RatingGood, crux.LCP.Rating)
	assert.Nil(t, crux.CLS)
}

func TestParseCrUX_NoFieldData(t *testing.T) {
	assert.Nil(t, parseCrUX([]byte(`{}`)))
	assert.Nil(t, parseCrUX([]byte(`{"loadingExperience": {"metrics": {}}}`)))
}

func newTestCrUXClient(t *testing.T, server *httptest.Server) *CrUXClient {
	t.Helper()
	cb := breaker.New("psi_api", breaker.DefaultConfig())
	client := NewCrUXClient(arbor.NewLogger(), "test-key", cb)
	client.apiURL = server.URL
	client.backoffMin = time.Millisecond
	client.backoffMax = 2 * time.Millisecond
	return client
}

func TestCrUXClient_FetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "mobile", r.URL.Query().Get("strategy"))
		w.Write([]byte(samplePSIResponse))
	}))
	defer server.Close()

	client := newTestCrUXClient(t, server)
	crux, err := client.Fetch(context.Background(), "https://example.com", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, crux)
	assert.Equal(t, models.RatingNeedsImprovement, crux.LCP.Rating)
}

func TestCrUXClient_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestCrUXClient(t, server)
	_, err := client.Fetch(context.Background(), "https://example.com", 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), calls.Load())
}

func TestCrUXClient_OpenBreakerSkips(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(samplePSIResponse))
	}))
	defer server.Close()

	cb := breaker.New("psi_api", breaker.DefaultConfig())
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, cb.State())

	client := NewCrUXClient(arbor.NewLogger(), "test-key", cb)
	client.apiURL = server.URL

	crux, err := client.Fetch(context.Background(), "https://example.com", 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, crux)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCrUXClient_NoFieldDataIsNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lighthouseResult": {}}`))
	}))
	defer server.Close()

	client := newTestCrUXClient(t, server)
	crux, err := client.Fetch(context.Background(), "https://example.com", 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, crux)
}
