package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func passing() CheckFunc {
	return func(context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

// toggle fails while its flag is set.
func toggle(fail *atomic.Bool) CheckFunc {
	return func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func hit(t *testing.T, handler http.HandlerFunc) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestReadyEndpoint(t *testing.T) {
	for _, tt := range []struct {
		name       string
		ready      bool
		postgres   CheckFunc
		redis      CheckFunc
		runs       int
		wantCode   int
		wantStatus string
		wantChecks []string
	}{
		{
			name: "AllPassing", ready: true,
			postgres: passing(), redis: passing(), runs: 3,
			wantCode: http.StatusOK, wantStatus: StatusOK,
		},
		{
			name: "NotReady", ready: false,
			postgres: passing(), redis: passing(), runs: 1,
			wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy,
			wantChecks: []string{"_readiness"},
		},
		{
			name: "CriticalFailing", ready: true,
			postgres: failing("connection refused"), redis: passing(), runs: 3,
			wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy,
			wantChecks: []string{"postgres"},
		},
		{
			name: "CriticalBelowThreshold", ready: true,
			postgres: failing("blip"), redis: passing(), runs: 2,
			wantCode: http.StatusOK, wantStatus: StatusOK,
		},
		{
			name: "OptionalFailing", ready: true,
			postgres: passing(), redis: failing("i/o timeout"), runs: 3,
			wantCode: http.StatusOK, wantStatus: StatusDegraded,
			wantChecks: []string{"redis"},
		},
		{
			name: "BothFailing", ready: true,
			postgres: failing("connection refused"), redis: failing("i/o timeout"), runs: 3,
			wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy,
			wantChecks: []string{"postgres", "redis"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			h.AddReadinessCheck("postgres", time.Second, tt.postgres)
			h.AddReadinessCheck("redis", time.Second, tt.redis, Optional())
			h.SetReady(tt.ready)
			for _, c := range h.readiness {
				runN(c, tt.runs)
			}

			code, body := hit(t, h.ReadyEndpoint)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Len(t, body.Checks, len(tt.wantChecks))
			for _, name := range tt.wantChecks {
				assert.Contains(t, body.Checks, name)
			}
			assert.Equal(t, tt.wantCode == http.StatusOK, h.IsReady())
		})
	}
}

func TestLiveEndpoint(t *testing.T) {
	h := New(nil)
	code, body := hit(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "no checks is healthy")
	assert.Equal(t, StatusOK, body.Status)

	h.AddLivenessCheck("goroutines", time.Second, failing("too many"))
	runN(h.liveness[0], 3)

	code, body = hit(t, h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "too many", body.Checks["goroutines"])
}

func TestCheck_Recovery(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	c := newCheck("db", time.Second, toggle(&fail), []CheckOption{WithThresholds(2, 2)})
	assert.False(t, c.run(context.Background()))
	assert.True(t, c.run(context.Background()), "second failure flips")
	assert.False(t, c.healthy.Load())
	assert.Equal(t, "down", c.failure())

	fail.Store(false)
	assert.False(t, c.run(context.Background()), "one pass is not enough")
	assert.True(t, c.run(context.Background()))
	assert.True(t, c.healthy.Load())
}

func TestStart_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := New(zap.New(core))

	var fail atomic.Bool
	fail.Store(true)
	h.AddReadinessCheck("kafka", time.Second, toggle(&fail), Optional(), WithThresholds(1, 1))
	h.Start(context.Background(), 5*time.Millisecond)
	defer h.Stop()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Health check failing").Len() > 0
	}, time.Second, 5*time.Millisecond)

	fail.Store(false)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Health check recovered").Len() > 0
	}, time.Second, 5*time.Millisecond)
}

func TestStop_Idempotent(t *testing.T) {
	var calls atomic.Int64
	h := New(nil)
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	h.Start(context.Background(), time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(10 * time.Millisecond)
	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), n+1)
}

func TestConcurrentProbes(t *testing.T) {
	h := New(nil)
	h.AddReadinessCheck("postgres", time.Second, passing())
	h.SetReady(true)
	h.Start(context.Background(), time.Millisecond)
	defer h.Stop()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			for range 20 {
				w := httptest.NewRecorder()
				h.ReadyEndpoint(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
				_ = h.IsReady()
			}
		})
	}
	wg.Wait()
	assert.True(t, h.IsReady())
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// redisPinger answers PING with err; every other command panics.
type redisPinger struct {
	redis.Cmdable
	err error
}

func (r redisPinger) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx, "ping")
	if r.err != nil {
		cmd.SetErr(r.err)
	} else {
		cmd.SetVal("PONG")
	}
	return cmd
}

func TestReadyEndpoint_Pings(t *testing.T) {
	for _, tt := range []struct {
		name       string
		dbErr      error
		redisErr   error
		wantCode   int
		wantStatus string
		wantChecks []string
	}{
		{
			name:     "Healthy",
			wantCode: http.StatusOK, wantStatus: StatusOK,
		},
		{
			name:  "PostgresDown",
			dbErr: errors.New("connection refused"),
			wantCode: http.StatusServiceUnavailable, wantStatus: StatusUnhealthy,
			wantChecks: []string{"postgres"},
		},
		{
			name:     "RedisDown",
			redisErr: errors.New("i/o timeout"),
			wantCode: http.StatusOK, wantStatus: StatusDegraded,
			wantChecks: []string{"redis"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := New(nil)
			h.AddReadinessCheck("postgres", time.Second,
				PingCheck(pingerFunc(func(context.Context) error { return tt.dbErr })))
			h.AddReadinessCheck("redis", time.Second, RedisCheck(redisPinger{err: tt.redisErr}), Optional())
			h.SetReady(true)
			for _, c := range h.readiness {
				runN(c, 3)
			}

			code, body := hit(t, h.ReadyEndpoint)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Len(t, body.Checks, len(tt.wantChecks))
			for _, name := range tt.wantChecks {
				assert.Contains(t, body.Checks, name)
			}
		})
	}
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, PingCheck(pingerFunc(func(context.Context) error { return nil }))(ctx))
	assert.ErrorContains(t,
		PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") }))(ctx),
		"refused")
	assert.NoError(t, RedisCheck(redisPinger{})(ctx))
	assert.ErrorContains(t, RedisCheck(redisPinger{err: errors.New("timeout")})(ctx), "redis ping")

	assert.NoError(t, GoroutineCountCheck(1_000_000)(ctx))
	assert.Error(t, GoroutineCountCheck(0)(ctx))
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(ctx))

	assert.Error(t, KafkaCheck(nil)(ctx))
}
