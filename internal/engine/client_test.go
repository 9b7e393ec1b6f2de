package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagefinder/pagefinder/internal/crawl"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)
	return client
}

func TestSubmitReturnsEngineRef(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"id":"fc-123"}`))
	}))

	ref, err := client.Submit(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "fc-123", ref)
	require.Equal(t, "/v1/crawl", gotPath)
	require.Empty(t, gotAuth)
}

func TestSubmitSendsBearerToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"fc-123"}`))
	}))
	t.Cleanup(srv.Close)
	client, err := New(Config{BaseURL: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	ref, err := client.Submit(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "fc-123", ref)
}

func TestSubmitTransportErrorIsEngineUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Submit(context.Background(), "https://example.com")
	require.ErrorIs(t, err, crawl.ErrEngineUnavailable)
}

func TestSubmitMissingIDIsEngineUnavailable(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))

	_, err := client.Submit(context.Background(), "https://example.com")
	require.ErrorIs(t, err, crawl.ErrEngineUnavailable)
}

func TestPollNormalizesOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		body      string
		status    int
		wantState crawl.OutcomeState
		wantErr   error
	}{
		{
			name:      "scraping without data is pending",
			body:      `{"status":"scraping","data":[]}`,
			wantState: crawl.OutcomePending,
		},
		{
			name:      "scraping with data is a page batch",
			body:      `{"status":"scraping","data":[{"markdown":"text","metadata":{"sourceURL":"https://a.test/x"}}]}`,
			wantState: crawl.OutcomePageBatch,
		},
		{
			name:      "completed is done",
			body:      `{"status":"completed","data":[]}`,
			wantState: crawl.OutcomeDone,
		},
		{
			name:      "failed carries the reason",
			body:      `{"status":"failed","error":"unreachable"}`,
			wantState: crawl.OutcomeFailed,
		},
		{
			name:    "unknown status is a transport error",
			body:    `{"status":"exploded"}`,
			wantErr: crawl.ErrEngineUnavailable,
		},
		{
			name:    "malformed body is a transport error",
			body:    `{"status":`,
			wantErr: crawl.ErrEngineUnavailable,
		},
		{
			name:    "server error is a transport error",
			body:    `{}`,
			status:  http.StatusBadGateway,
			wantErr: crawl.ErrEngineUnavailable,
		},
		{
			name:    "page without source url is a transport error",
			body:    `{"status":"scraping","data":[{"markdown":"text","metadata":{}}]}`,
			wantErr: crawl.ErrEngineUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				_, _ = w.Write([]byte(tt.body))
			}))

			outcome, err := client.Poll(context.Background(), "fc-123")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantState, outcome.State)
		})
	}
}

func TestPollFailedReason(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"failed","error":"unreachable"}`))
	}))

	outcome, err := client.Poll(context.Background(), "fc-123")
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeFailed, outcome.State)
	require.Equal(t, "unreachable", outcome.Reason)
}

func TestPollFollowsPagination(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/crawl/fc-123", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"completed","next":"` + srv.URL + `/page2",` +
			`"data":[{"markdown":"one","metadata":{"sourceURL":"https://a.test/1","title":"One"}}]}`))
	})
	mux.HandleFunc("/page2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"completed",` +
			`"data":[{"markdown":"two","metadata":{"sourceURL":"https://a.test/2"}}]}`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	outcome, err := client.Poll(context.Background(), "fc-123")
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeDone, outcome.State)
	require.Len(t, outcome.Pages, 2)
	require.Equal(t, "https://a.test/1", outcome.Pages[0].URL)
	require.Equal(t, "One", outcome.Pages[0].Title)
	require.Equal(t, "https://a.test/2", outcome.Pages[1].URL)
}

func TestPollPaginationOverrunIsEngineUnavailable(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	page := func(w http.ResponseWriter, n int) {
		next := `,"next":"` + srv.URL + "/p/" + strconv.Itoa(n+1) + `"`
		_, _ = w.Write([]byte(`{"status":"completed"` + next +
			`,"data":[{"markdown":"text","metadata":{"sourceURL":"https://a.test/` + strconv.Itoa(n) + `"}}]}`))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/crawl/fc-123", func(w http.ResponseWriter, _ *http.Request) {
		page(w, 0)
	})
	mux.HandleFunc("/p/", func(w http.ResponseWriter, r *http.Request) {
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/p/"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		page(w, n)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	// The chain never ends, so the client must give up with a transport
	// error instead of returning a silently truncated done outcome.
	_, err = client.Poll(context.Background(), "fc-123")
	require.ErrorIs(t, err, crawl.ErrEngineUnavailable)
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
	require.False(t, errors.Is(err, crawl.ErrEngineUnavailable))
}
