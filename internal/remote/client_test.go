package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"transfit/internal/config"
	"transfit/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticAuth struct {
	session *models.AuthSession
	err     error
}

func (a staticAuth) Session(context.Context) (*models.AuthSession, error) {
	return a.session, a.err
}

// fakePostgREST keeps one row per (table, id), like an upsert with merge-duplicates.
type fakePostgREST struct {
	mu       sync.Mutex
	rows     map[string]map[string]map[string]any
	requests []*http.Request
	failWith int
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)

	if f.failWith != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.failWith)
		_, _ = io.WriteString(w, `{"code":"23502","message":"null value in column","details":null,"hint":null}`)
		return
	}

	var rows []map[string]any
	if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	table := r.URL.Path[len("/rest/v1/"):]
	if f.rows[table] == nil {
		f.rows[table] = map[string]map[string]any{}
	}
	for _, row := range rows {
		f.rows[table][row["id"].(string)] = row
	}
	w.WriteHeader(http.StatusCreated)
}

func newTestClient(t *testing.T, h http.Handler, auth staticAuth) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	logger := zerolog.Nop()
	return NewClient(config.RemoteConfig{URL: ts.URL + "/", AnonKey: "anon", Timeout: 2 * time.Second}, auth, &logger)
}

func TestClient_Upsert(t *testing.T) {
	ctx := context.Background()
	backend := &fakePostgREST{rows: map[string]map[string]map[string]any{}}
	client := newTestClient(t, backend, staticAuth{session: &models.AuthSession{UserID: "u1", AccessToken: "user-token"}})

	row := map[string]any{"id": "s1", "user_id": "u1", "duration_minutes": 30}
	require.NoError(t, client.Upsert(ctx, "workout_sessions", row))
	row["duration_minutes"] = 35
	require.NoError(t, client.Upsert(ctx, "workout_sessions", row))

	t.Run("OneLogicalRow", func(t *testing.T) {
		require.Len(t, backend.rows["workout_sessions"], 1)
		assert.EqualValues(t, 35, backend.rows["workout_sessions"]["s1"]["duration_minutes"])
	})

	t.Run("Headers", func(t *testing.T) {
		req := backend.requests[0]
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "id", req.URL.Query().Get("on_conflict"))
		assert.Equal(t, "anon", req.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-token", req.Header.Get("Authorization"))
		assert.Equal(t, "resolution=merge-duplicates,return=minimal", req.Header.Get("Prefer"))
	})
}

func TestClient_AnonFallback(t *testing.T) {
	backend := &fakePostgREST{rows: map[string]map[string]map[string]any{}}
	client := newTestClient(t, backend, staticAuth{})

	require.NoError(t, client.Upsert(context.Background(), "plans", map[string]any{"id": "p1"}))
	assert.Equal(t, "Bearer anon", backend.requests[0].Header.Get("Authorization"))
}

func TestClient_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("RemoteError", func(t *testing.T) {
		backend := &fakePostgREST{failWith: http.StatusBadRequest}
		client := newTestClient(t, backend, staticAuth{})

		err := client.Upsert(ctx, "plans", map[string]any{"id": "p1"})
		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.Equal(t, "23502", apiErr.Code)
		assert.Equal(t, "plans", apiErr.Table)
		assert.False(t, apiErr.Temporary())
		assert.Contains(t, err.Error(), "null value in column")
	})

	t.Run("ServerErrorIsTemporary", func(t *testing.T) {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, "upstream down")
		}), staticAuth{})

		err := client.Upsert(ctx, "plans", map[string]any{"id": "p1"})
		var apiErr *Error
		require.True(t, errors.As(err, &apiErr))
		assert.True(t, apiErr.Temporary())
		assert.Equal(t, "upstream down", apiErr.Message)
	})

	t.Run("AuthError", func(t *testing.T) {
		backend := &fakePostgREST{rows: map[string]map[string]map[string]any{}}
		client := newTestClient(t, backend, staticAuth{err: errors.New("keychain locked")})

		assert.Error(t, client.Upsert(ctx, "plans", map[string]any{"id": "p1"}))
		assert.Empty(t, backend.requests)
	})

	t.Run("Unreachable", func(t *testing.T) {
		logger := zerolog.Nop()
		client := NewClient(config.RemoteConfig{URL: "http://127.0.0.1:1", Timeout: time.Second}, nil, &logger)
		assert.Error(t, client.Upsert(ctx, "plans", map[string]any{"id": "p1"}))
	})

	t.Run("CanceledContext", func(t *testing.T) {
		backend := &fakePostgREST{rows: map[string]map[string]map[string]any{}}
		client := newTestClient(t, backend, staticAuth{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.Error(t, client.Upsert(cctx, "plans", map[string]any{"id": "p1"}))
	})

	t.Run("EmptyTable", func(t *testing.T) {
		client := newTestClient(t, http.NotFoundHandler(), staticAuth{})
		assert.Error(t, client.Upsert(ctx, "", map[string]any{"id": "p1"}))
	})
}

func TestClient_RateLimit(t *testing.T) {
	backend := &fakePostgREST{rows: map[string]map[string]map[string]any{}}
	ts := httptest.NewServer(backend)
	defer ts.Close()

	logger := zerolog.Nop()
	cfg := config.RemoteConfig{URL: ts.URL, RateLimit: config.RateLimitConfig{RPS: 1, Burst: 1}}
	client := NewClient(cfg, nil, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, client.Upsert(ctx, "plans", map[string]any{"id": "p1"}))
	assert.Error(t, client.Upsert(ctx, "plans", map[string]any{"id": "p2"}), "second call must wait past the deadline")
}
