package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ruvo-Inc/mailq/internal/api"
	"github.com/Ruvo-Inc/mailq/internal/domain"
	"github.com/Ruvo-Inc/mailq/internal/store"
	"github.com/Ruvo-Inc/mailq/internal/store/memory"
)

func newServer(t *testing.T) (*memory.Store, *httptest.Server) {
	t.Helper()
	st := memory.New()
	srv := httptest.NewServer(api.NewHandler(st, "prod", zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return st, srv
}

func TestCreateJob(t *testing.T) {
	st, srv := newServer(t)

	body := `{"recipients":{"to":["a@example.com"]},"content":{"subject":"hi","text":"hello"}}`
	res, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var created domain.Job
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.StatusQueued, created.Status)
	assert.Equal(t, "prod", created.Environment)

	stored, err := st.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com"}, stored.Recipients.To)
}

func TestCreateJobRejectsInvalidContent(t *testing.T) {
	_, srv := newServer(t)

	body := `{"recipients":{"to":["a@example.com"]},"content":{"subject":"hi"}}`
	res, err := http.Post(srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestGetJobNotFound(t *testing.T) {
	_, srv := newServer(t)
	res, err := http.Get(srv.URL + "/v1/jobs/missing")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestRetryOnlyTerminalFailures(t *testing.T) {
	st, srv := newServer(t)
	ctx := context.Background()

	text := "hello"
	j := &domain.Job{
		Recipients:  domain.Recipients{To: []string{"a@example.com"}},
		Content:     domain.Content{Subject: "s", Text: &text},
		Environment: "prod",
	}
	_, err := st.Create(ctx, j)
	require.NoError(t, err)

	// Still queued: retry is a conflict.
	res, err := http.Post(srv.URL+"/v1/jobs/"+j.ID+"/retry", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)

	// Mark it terminally failed, then retry re-arms it.
	failed := domain.StatusFailed
	five := 5
	lastErr := "gave up"
	require.NoError(t, st.RunTransaction(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Update(ctx, j.ID, store.Patch{Status: &failed, Attempts: &five, LastError: &lastErr})
	}))

	res, err = http.Post(srv.URL+"/v1/jobs/"+j.ID+"/retry", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusAccepted, res.StatusCode)

	got, err := st.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Nil(t, got.LastError)
}

func TestListJobsValidatesStatus(t *testing.T) {
	_, srv := newServer(t)
	res, err := http.Get(srv.URL + "/v1/jobs?status=bogus")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
