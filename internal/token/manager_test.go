package token

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExchanger struct {
	service  string
	lifetime time.Duration
	err      error
	now      func() time.Time

	calls atomic.Int32
	gate  chan struct{} // optional: blocks Exchange until closed
}

func (f *fakeExchanger) Service() string {
	return f.service
}

func (f *fakeExchanger) Exchange(_ context.Context) (Token, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return Token{}, f.err
	}
	now := f.now()
	return Token{
		Service:    f.service,
		Value:      f.service + "-tok-" + string(rune('0'+n)),
		ObtainedAt: now,
		ExpiresAt:  now.Add(f.lifetime),
	}, nil
}

func TestToken_BufferBoundary(t *testing.T) {
	now := time.Now()

	almost := Token{Value: "x", ExpiresAt: now.Add(29 * time.Second)}
	assert.True(t, almost.ExpiredAt(now, 30*time.Second), "token expiring in 29s is inside the 30s buffer")

	ok := Token{Value: "x", ExpiresAt: now.Add(31 * time.Second)}
	assert.False(t, ok.ExpiredAt(now, 30*time.Second), "token expiring in 31s is outside the 30s buffer")

	assert.True(t, Token{}.ExpiredAt(now, 0), "zero token is always expired")
}

func TestGetValidToken_RefreshesInline(t *testing.T) {
	now := time.Now()
	ex := &fakeExchanger{service: "cloudid", lifetime: time.Hour, now: func() time.Time { return now }}
	m := NewManager(ManagerConfig{}, []Exchanger{ex}, nil)
	m.nowFunc = func() time.Time { return now }

	v, err := m.GetValidToken(context.Background(), "cloudid")
	require.NoError(t, err)
	assert.NotEmpty(t, v)
	assert.Equal(t, int32(1), ex.calls.Load())

	// Second call serves the stored token.
	v2, err := m.GetValidToken(context.Background(), "cloudid")
	require.NoError(t, err)
	assert.Equal(t, v, v2)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestGetValidToken_NeverReturnsExpired(t *testing.T) {
	now := time.Now()
	ex := &fakeExchanger{service: "cloudid", lifetime: time.Hour, now: func() time.Time { return now }}
	m := NewManager(ManagerConfig{}, []Exchanger{ex}, nil)
	m.nowFunc = func() time.Time { return now }

	_, err := m.GetValidToken(context.Background(), "cloudid")
	require.NoError(t, err)

	// Jump past expiry: the manager must exchange again, not hand out
	// the stale value.
	later := now.Add(2 * time.Hour)
	m.nowFunc = func() time.Time { return later }
	ex.now = func() time.Time { return later }

	v, err := m.GetValidToken(context.Background(), "cloudid")
	require.NoError(t, err)
	assert.NotEmpty(t, v)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestGetValidToken_ExchangeFailure(t *testing.T) {
	ex := &fakeExchanger{service: "cloudid", err: eris.New("idp down"), now: time.Now}
	m := NewManager(ManagerConfig{}, []Exchanger{ex}, nil)

	_, err := m.GetValidToken(context.Background(), "cloudid")
	require.ErrorIs(t, err, ErrTokenUnavailable)
}

func TestGetValidToken_UnknownService(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, nil)
	_, err := m.GetValidToken(context.Background(), "nope")
	require.ErrorIs(t, err, ErrTokenUnavailable)
}

func TestGetValidToken_ConcurrentCallersShareExchange(t *testing.T) {
	now := time.Now()
	ex := &fakeExchanger{
		service:  "cloudid",
		lifetime: time.Hour,
		now:      func() time.Time { return now },
		gate:     make(chan struct{}),
	}
	m := NewManager(ManagerConfig{}, []Exchanger{ex}, nil)
	m.nowFunc = func() time.Time { return now }

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := m.GetValidToken(context.Background(), "cloudid")
			assert.NoError(t, err)
			assert.NotEmpty(t, v)
		}()
	}

	// Give callers time to pile onto the in-flight exchange.
	time.Sleep(50 * time.Millisecond)
	close(ex.gate)
	wg.Wait()

	assert.Equal(t, int32(1), ex.calls.Load(), "concurrent callers must share one exchange")
}

func TestForceRefresh_DiscardsStoredToken(t *testing.T) {
	now := time.Now()
	ex := &fakeExchanger{service: "contactcenter", lifetime: time.Hour, now: func() time.Time { return now }}
	m := NewManager(ManagerConfig{}, []Exchanger{ex}, nil)
	m.nowFunc = func() time.Time { return now }

	v1, err := m.GetValidToken(context.Background(), "contactcenter")
	require.NoError(t, err)

	require.NoError(t, m.ForceRefresh(context.Background(), "contactcenter"))

	v2, err := m.GetValidToken(context.Background(), "contactcenter")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestRefreshCycle_RefreshesNearExpiry(t *testing.T) {
	now := time.Now()
	short := &fakeExchanger{service: "cloudid", lifetime: 5 * time.Minute, now: func() time.Time { return now }}
	long := &fakeExchanger{service: "contactcenter", lifetime: 2 * time.Hour, now: func() time.Time { return now }}
	m := NewManager(ManagerConfig{RefreshThreshold: 10 * time.Minute}, []Exchanger{short, long}, nil)
	m.nowFunc = func() time.Time { return now }

	// First cycle populates both.
	m.refreshCycle(context.Background())
	assert.Equal(t, int32(1), short.calls.Load())
	assert.Equal(t, int32(1), long.calls.Load())

	// Second cycle re-exchanges only the token inside the threshold.
	m.refreshCycle(context.Background())
	assert.Equal(t, int32(2), short.calls.Load())
	assert.Equal(t, int32(1), long.calls.Load())
}

func TestRefreshCycle_FailuresDoNotPropagate(t *testing.T) {
	ex := &fakeExchanger{service: "cloudid", err: eris.New("idp down"), now: time.Now}
	m := NewManager(ManagerConfig{}, []Exchanger{ex}, nil)

	// Must not panic or return an error; the failure is retried next cycle.
	m.refreshCycle(context.Background())
	assert.Equal(t, int32(1), ex.calls.Load())
	m.refreshCycle(context.Background())
	assert.Equal(t, int32(2), ex.calls.Load())
}

func TestStatus_Snapshot(t *testing.T) {
	now := time.Now()
	good := &fakeExchanger{service: "cloudid", lifetime: time.Hour, now: func() time.Time { return now }}
	bad := &fakeExchanger{service: "contactcenter", err: eris.New("idp down"), now: func() time.Time { return now }}
	m := NewManager(ManagerConfig{}, []Exchanger{good, bad}, nil)
	m.nowFunc = func() time.Time { return now }

	_, _ = m.GetValidToken(context.Background(), "cloudid")
	_, _ = m.GetValidToken(context.Background(), "contactcenter")

	st := m.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "cloudid", st[0].Service)
	assert.True(t, st[0].Valid)
	assert.Equal(t, "contactcenter", st[1].Service)
	assert.False(t, st[1].Valid)
}
