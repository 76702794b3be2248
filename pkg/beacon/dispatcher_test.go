package beacon

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fastSleep records requested backoff delays without waiting.
type fastSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fastSleep) sleep(ctx context.Context, d time.Duration) bool {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func newTestDispatcher() (*Dispatcher, *fastSleep) {
	d := New(Config{})
	fs := &fastSleep{}
	d.sleep = fs.sleep
	return d, fs
}

func TestFire_SucceedsAfterTwoServerErrors(t *testing.T) {
	require := require.New(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, fs := newTestDispatcher()
	d.Fire(srv.URL, "start")
	d.Wait()

	require.Equal(int32(3), attempts.Load())
	require.Equal([]time.Duration{time.Second, 2 * time.Second}, fs.delays)
}

func TestFire_DoesNotRetryClientError(t *testing.T) {
	require := require.New(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d, fs := newTestDispatcher()
	d.Fire(srv.URL, "midpoint")
	d.Wait()

	require.Equal(int32(1), attempts.Load())
	require.Empty(fs.delays)
}

func TestFire_RetriesExhausted(t *testing.T) {
	require := require.New(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, fs := newTestDispatcher()
	d.Fire(srv.URL, "complete")
	d.Wait()

	require.Equal(int32(3), attempts.Load())
	require.Len(fs.delays, 2)
}

func TestFire_RetriesRateLimited(t *testing.T) {
	require := require.New(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher()
	d.Fire(srv.URL, "pause")
	d.Wait()

	require.Equal(int32(2), attempts.Load())
}

func TestFire_SetsUserAgent(t *testing.T) {
	require := require.New(t)

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, _ := newTestDispatcher()
	d.Fire(srv.URL, "start")
	d.Wait()

	require.Equal(userAgent, gotUA.Load())
}

func TestFire_EmptyURLIsNoop(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Fire("", "start")
	d.Wait()
}

func TestCancelAll_StopsPendingRetry(t *testing.T) {
	require := require.New(t)

	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := New(Config{})
	d.sleep = func(ctx context.Context, _ time.Duration) bool {
		// Simulate the group being cancelled while backing off.
		d.CancelAll()
		<-ctx.Done()
		return false
	}

	d.Fire(srv.URL, "start")
	d.Wait()

	require.Equal(int32(1), attempts.Load())
}

func TestRetryable_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   bool
	}{
		{"408 retries", http.StatusRequestTimeout, nil, true},
		{"429 retries", http.StatusTooManyRequests, nil, true},
		{"500 retries", http.StatusInternalServerError, nil, true},
		{"503 retries", http.StatusServiceUnavailable, nil, true},
		{"404 terminal", http.StatusNotFound, nil, false},
		{"400 terminal", http.StatusBadRequest, nil, false},
		{"410 terminal", http.StatusGone, nil, false},
		{"timeout retries", 0, context.DeadlineExceeded, true},
		{"dns failure retries", 0, &net.DNSError{IsNotFound: true}, true},
		{"connection refused retries", 0, syscall.ECONNREFUSED, true},
		{"connection reset retries", 0, syscall.ECONNRESET, true},
		{"individual cancel terminal", 0, context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.status, tt.err); got != tt.want {
				t.Errorf("retryable(%d, %v) = %v, want %v", tt.status, tt.err, got, tt.want)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	if backoffDelay(1) != time.Second || backoffDelay(2) != 2*time.Second {
		t.Errorf("unexpected backoff schedule: %v, %v", backoffDelay(1), backoffDelay(2))
	}
}
