package middleware

import (
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestSlidingWindowLimiter_CapWithinWindow(t *testing.T) {
	rl := NewSlidingWindowLimiter(true, 10*time.Second, 5, quietLogger())
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Admit("alice", base.Add(time.Duration(i)*time.Second)), "message %d", i)
	}
	assert.False(t, rl.Admit("alice", base.Add(5*time.Second)))

	// other senders are independent
	assert.True(t, rl.Admit("bob", base.Add(5*time.Second)))

	// the first timestamp leaves the window exactly 10s later
	assert.True(t, rl.Admit("alice", base.Add(10*time.Second)))
	assert.False(t, rl.Admit("alice", base.Add(10*time.Second+time.Millisecond)))
}

func TestSlidingWindowLimiter_RejectsDoNotMutate(t *testing.T) {
	rl := NewSlidingWindowLimiter(true, 10*time.Second, 5, quietLogger())
	base := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		require.True(t, rl.Admit("alice", base))
	}
	before := append([]time.Time(nil), rl.windows["alice"]...)

	for i := 1; i <= 50; i++ {
		assert.False(t, rl.Admit("alice", base.Add(time.Duration(i)*100*time.Millisecond)))
	}
	assert.Equal(t, before, rl.windows["alice"])

	// a burst of rejects did not push the reopening time
	assert.True(t, rl.Admit("alice", base.Add(10*time.Second+time.Nanosecond)))
}

func TestSlidingWindowLimiter_PropertyNoWindowExceedsCap(t *testing.T) {
	const (
		window = 10 * time.Second
		max    = 5
	)
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		rl := NewSlidingWindowLimiter(true, window, max, quietLogger())
		now := time.Unix(1_700_000_000, 0)
		var admitted []time.Time

		for i := 0; i < 300; i++ {
			now = now.Add(time.Duration(rng.Intn(3000)) * time.Millisecond)
			if rl.Admit("sender", now) {
				admitted = append(admitted, now)
			}
		}

		for i := range admitted {
			count := 0
			for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < window; j++ {
				count++
			}
			require.LessOrEqual(t, count, max, "run %d: window starting at admission %d", run, i)
		}
	}
}

func TestSlidingWindowLimiter_ConcurrentAdmitsRespectCap(t *testing.T) {
	rl := NewSlidingWindowLimiter(true, time.Minute, 5, quietLogger())
	now := time.Now()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Admit("alice", now) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
}

func TestSlidingWindowLimiter_Sweep(t *testing.T) {
	rl := NewSlidingWindowLimiter(true, 10*time.Second, 2, quietLogger())
	base := time.Unix(1_700_000_000, 0)

	rl.Admit("alice", base)
	rl.Admit("bob", base.Add(8*time.Second))

	assert.Equal(t, 1, rl.Sweep(base.Add(11*time.Second)))
	assert.NotContains(t, rl.windows, "alice")
	assert.Contains(t, rl.windows, "bob")

	assert.True(t, rl.Admit("bob", base.Add(9*time.Second)))
	assert.False(t, rl.Admit("bob", base.Add(9*time.Second)))
	assert.Equal(t, 0, rl.Sweep(base.Add(17*time.Second)), "bob still has a timestamp inside the window")
	assert.Equal(t, 1, rl.Sweep(base.Add(20*time.Second)))
	assert.Empty(t, rl.windows)
}

func TestSlidingWindowLimiter_Disabled(t *testing.T) {
	rl := NewSlidingWindowLimiter(false, time.Second, 1, quietLogger())
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Admit("alice", time.Now()))
	}
	assert.Equal(t, 0, rl.Sweep(time.Now()))
}

func TestSecurityMiddleware_ValidateInput(t *testing.T) {
	s := NewSecurityMiddleware(10, quietLogger())

	assert.NoError(t, s.ValidateInput("sentadilla"))
	assert.NoError(t, s.ValidateInput("¿cuánto?ñ"))
	assert.Error(t, s.ValidateInput("press banca inclinado"))
	assert.Error(t, s.ValidateInput(string([]byte{0xff, 0xfe})))
}

func TestMetricsRouter_Health(t *testing.T) {
	srv := httptest.NewServer(NewMetricsRouter("/metrics"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}
