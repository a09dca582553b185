package servers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubScheduler struct {
	core.Scheduler

	known   uuid.UUID
	next    time.Time
	stopped []uuid.UUID
	removed []uuid.UUID
	listErr error
}

func (s *stubScheduler) TimeTillNextJob(ctx context.Context) (time.Duration, bool, error) {
	if s.listErr != nil {
		return 0, false, s.listErr
	}
	return 3 * time.Second, true, nil
}

func (s *stubScheduler) NextTickForJob(ctx context.Context, id uuid.UUID) (time.Time, bool, error) {
	if id != s.known {
		return time.Time{}, false, nil
	}
	return s.next, true, nil
}

func (s *stubScheduler) Remove(ctx context.Context, id uuid.UUID) error {
	s.removed = append(s.removed, id)
	return nil
}

func (s *stubScheduler) StopJob(ctx context.Context, id uuid.UUID) error {
	if id != s.known {
		return errors.NotFound("job")
	}
	s.stopped = append(s.stopped, id)
	return nil
}

func (s *stubScheduler) ResumeJob(ctx context.Context, id uuid.UUID) error {
	return nil
}

func call(t *testing.T, srv *AdminServer, method, path string) (int, core.BaseResponse[json.RawMessage]) {
	t.Helper()
	resp, err := srv.GetApp().Test(httptest.NewRequest(method, path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body core.BaseResponse[json.RawMessage]
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return resp.StatusCode, body
}

func newServer(t *testing.T, sched *stubScheduler) *AdminServer {
	t.Helper()
	srv, err := NewAdminServer(DefaultConfig(), sched, zap.NewNop())
	require.NoError(t, err)
	return srv
}

func TestAdminRoutes(t *testing.T) {
	sched := &stubScheduler{known: uuid.New(), next: time.Unix(2_000, 0).UTC()}
	srv := newServer(t, sched)

	t.Run("health", func(t *testing.T) {
		status, body := call(t, srv, http.MethodGet, "/health")
		assert.Equal(t, http.StatusOK, status)
		assert.True(t, body.Success)
	})

	t.Run("time till next job", func(t *testing.T) {
		status, body := call(t, srv, http.MethodGet, "/jobs/next")
		require.Equal(t, http.StatusOK, status)
		var tick TickResponse
		require.NoError(t, json.Unmarshal(body.Data, &tick))
		assert.True(t, tick.Scheduled)
		require.NotNil(t, tick.InSeconds)
		assert.Equal(t, 3.0, *tick.InSeconds)
	})

	t.Run("next tick", func(t *testing.T) {
		status, body := call(t, srv, http.MethodGet, "/jobs/"+sched.known.String()+"/next-tick")
		require.Equal(t, http.StatusOK, status)
		var tick TickResponse
		require.NoError(t, json.Unmarshal(body.Data, &tick))
		require.NotNil(t, tick.At)
		assert.Equal(t, int64(2_000), tick.At.Unix())

		status, body = call(t, srv, http.MethodGet, "/jobs/"+uuid.NewString()+"/next-tick")
		require.Equal(t, http.StatusOK, status)
		tick = TickResponse{}
		require.NoError(t, json.Unmarshal(body.Data, &tick))
		assert.False(t, tick.Scheduled)
	})

	t.Run("invalid id", func(t *testing.T) {
		status, body := call(t, srv, http.MethodDelete, "/jobs/not-a-uuid")
		assert.Equal(t, http.StatusBadRequest, status)
		assert.False(t, body.Success)
		assert.Empty(t, sched.removed)
	})

	t.Run("remove", func(t *testing.T) {
		id := uuid.New()
		status, _ := call(t, srv, http.MethodDelete, "/jobs/"+id.String())
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []uuid.UUID{id}, sched.removed)
	})

	t.Run("stop", func(t *testing.T) {
		status, _ := call(t, srv, http.MethodPost, "/jobs/"+sched.known.String()+"/stop")
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, []uuid.UUID{sched.known}, sched.stopped)

		status, body := call(t, srv, http.MethodPost, "/jobs/"+uuid.NewString()+"/stop")
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "SCHED_NOT_FOUND", body.Error.Code)
	})
}

func TestAdminStoreFailure(t *testing.T) {
	sched := &stubScheduler{listErr: errors.Store(errors.ErrCouldNotGetTimeUntilNextTick, errors.New("connection refused"))}
	srv := newServer(t, sched)

	status, body := call(t, srv, http.MethodGet, "/jobs/next")
	assert.Equal(t, http.StatusBadGateway, status)
	require.NotNil(t, body.Error)
	assert.Equal(t, "Internal Server Error", body.Error.Message)
	assert.Equal(t, "SCHED_TIME_UNTIL_NEXT_TICK", body.Error.Code)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	assert.NoError(t, cfg.Validate())
	cfg.ReadTimeout = "soon"
	assert.Error(t, cfg.Validate())
}
