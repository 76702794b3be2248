package beacon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/criteo/vast-player/pkg/log"
	"github.com/criteo/vast-player/pkg/metric"
)

const (
	userAgent      = "CriteoVASTPlayer/1.0"
	requestTimeout = 10 * time.Second
	maxAttempts    = 3
)

// Dispatcher fires tracking beacons: asynchronous HTTP GETs with bounded
// retries. Delivery is best-effort; no outcome ever reaches the caller other
// than through logs and metrics.
type Dispatcher struct {
	client  *http.Client
	log     log.Logger
	metrics *metric.Metrics

	// sleep waits for a backoff delay; returns false when the group was
	// cancelled first. Injectable so tests skip real delays.
	sleep func(ctx context.Context, d time.Duration) bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config carries optional dispatcher collaborators.
type Config struct {
	Client  *http.Client
	Log     log.Logger
	Metrics *metric.Metrics
}

// New creates a dispatcher. Zero-value config fields get working defaults.
func New(cfg Config) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: requestTimeout}
	}
	if cfg.Log == nil {
		cfg.Log = log.NoLog
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metric.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:  cfg.Client,
		log:     cfg.Log,
		metrics: cfg.Metrics,
		sleep:   sleepCtx,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Fire sends a beacon for an event, fire-and-forget. Each beacon's retry
// attempts run strictly sequentially; beacons for different events are
// independent tasks with no mutual ordering.
func (d *Dispatcher) Fire(url, event string) {
	if url == "" {
		d.log.Debug("no beacon url for event", "event", event)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(url, event)
	}()
}

// CancelAll stops every in-flight request and pending retry.
func (d *Dispatcher) CancelAll() {
	d.cancel()
}

// Wait blocks until all dispatched beacons have settled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(url, event string) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := d.attempt(url)

		if err == nil && status >= 200 && status < 300 {
			d.log.Debug("beacon delivered", "event", event, "status", status, "attempt", attempt)
			d.metrics.BeaconsFired.WithLabelValues(event, "success").Inc()
			return
		}

		if errors.Is(err, context.Canceled) {
			d.log.Debug("beacon cancelled", "event", event, "attempt", attempt)
			d.metrics.BeaconsFired.WithLabelValues(event, "cancelled").Inc()
			return
		}

		if !retryable(status, err) {
			d.log.Warn("beacon failed permanently", "event", event, "status", status, "error", err)
			d.metrics.BeaconsFired.WithLabelValues(event, "permanent_failure").Inc()
			return
		}

		if attempt == maxAttempts {
			d.log.Warn("beacon retries exhausted", "event", event, "status", status, "error", err)
			d.metrics.BeaconsFired.WithLabelValues(event, "exhausted").Inc()
			return
		}

		d.metrics.BeaconRetries.Inc()
		if !d.sleep(d.ctx, backoffDelay(attempt)) {
			d.log.Debug("beacon cancelled during backoff", "event", event)
			d.metrics.BeaconsFired.WithLabelValues(event, "cancelled").Inc()
			return
		}
	}
}

// attempt performs one GET. The response body is drained and discarded;
// beacons carry no payload semantics beyond the status code.
func (d *Dispatcher) attempt(url string) (int, error) {
	ctx, cancel := context.WithTimeout(d.ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := d.client.Do(req)
	d.metrics.BeaconDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// backoffDelay is exponential: 1s after the first attempt, 2s after the second.
func backoffDelay(attempt int) time.Duration {
	return time.Duration(1<<(attempt-1)) * time.Second
}

// retryable classifies an attempt outcome. Request timeout, rate limiting and
// server errors retry, as do transient network conditions; any other 4xx or
// error is terminal.
func retryable(status int, err error) bool {
	if err != nil {
		return transientNetworkError(err)
	}
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func transientNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETDOWN):
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
