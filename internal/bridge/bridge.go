// Package bridge is the resilient outbound HTTP client to the durable
// backend. Every call goes through the circuit breaker; best-effort calls
// never block the in-memory relay.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/BritoCeo/londa-rides-relay/internal/models"
	"github.com/BritoCeo/londa-rides-relay/internal/observability"
)

const secretHeader = "X-Internal-Secret"

// RejectedError means the backend answered and said no. The backend is up;
// rejections do not count against the circuit breaker.
type RejectedError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected by backend (%d): %s", e.Op, e.StatusCode, e.Message)
}

// IsRejection reports whether err is a backend rejection rather than an
// availability failure.
func IsRejection(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

// Backend is the bridge surface consumed by the router and gateway. Tests
// substitute fakes.
type Backend interface {
	ValidateDriver(ctx context.Context, driverID string) error
	GetRideDetails(ctx context.Context, rideID string) (models.RideDetails, error)
	NotifyRideEvent(ctx context.Context, ev models.RideEvent) error
	UpdateDriverStatus(ctx context.Context, driverID string, status models.DriverStatus, loc *models.Coord) error
	SyncDriverLocation(ctx context.Context, loc models.DriverLocation) error
	HealthCheck(ctx context.Context) error
}

type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	breaker *Breaker
	logger  *slog.Logger
}

func NewClient(baseURL, secret string, timeout time.Duration, breaker *Breaker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  logger,
	}
}

func (c *Client) Breaker() *Breaker { return c.breaker }

// do runs one breaker-guarded call. Network errors, timeouts and 5xx count as
// availability failures; 4xx means the backend is up and becomes a
// RejectedError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if err := c.breaker.Allow(); err != nil {
		observability.BackendCalls.WithLabelValues(op, "circuit_open").Inc()
		return err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.breaker.releaseProbe()
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		c.breaker.releaseProbe()
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(secretHeader, c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure()
		observability.BackendCalls.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		c.breaker.Failure()
		observability.BackendCalls.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("%s: backend status %d", op, resp.StatusCode)
	}
	c.breaker.Success()

	if resp.StatusCode >= 400 {
		observability.BackendCalls.WithLabelValues(op, "rejected").Inc()
		var msg struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&msg)
		if msg.Message == "" {
			msg.Message = msg.Error
		}
		return &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: msg.Message}
	}

	observability.BackendCalls.WithLabelValues(op, "ok").Inc()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	return nil
}

// ValidateDriver confirms the driver exists, is verified and holds an active
// subscription. Must-succeed: callers surface its failure to the requester.
func (c *Client) ValidateDriver(ctx context.Context, driverID string) error {
	return c.do(ctx, "validate_driver", http.MethodPost, "/internal/drivers/"+driverID+"/validate", nil, nil)
}

func (c *Client) GetRideDetails(ctx context.Context, rideID string) (models.RideDetails, error) {
	var out models.RideDetails
	err := c.do(ctx, "get_ride", http.MethodGet, "/internal/rides/"+rideID, nil, &out)
	return out, err
}

// NotifyRideEvent informs the backend of a lifecycle transition. For
// "accepted" the backend applies it as a compare-and-swap on the pending ride
// and a 409 comes back as a RejectedError.
func (c *Client) NotifyRideEvent(ctx context.Context, ev models.RideEvent) error {
	return c.do(ctx, "notify_ride_event", http.MethodPost, "/internal/rides/"+ev.RideID+"/events", ev, nil)
}

func (c *Client) UpdateDriverStatus(ctx context.Context, driverID string, status models.DriverStatus, loc *models.Coord) error {
	body := map[string]any{"status": status}
	if loc != nil {
		body["lat"] = loc.Lat
		body["lon"] = loc.Lon
	}
	return c.do(ctx, "update_driver_status", http.MethodPost, "/internal/drivers/"+driverID+"/status", body, nil)
}

func (c *Client) SyncDriverLocation(ctx context.Context, loc models.DriverLocation) error {
	return c.do(ctx, "sync_driver_location", http.MethodPost, "/internal/drivers/"+loc.DriverID+"/location", loc, nil)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, "health_check", http.MethodGet, "/internal/health", nil, nil)
}

// BestEffort runs fn in the background with a bounded timeout and logs the
// outcome. Steady-state sync calls use it so a backend outage never blocks
// the relay.
func BestEffort(logger *slog.Logger, op string, timeout time.Duration, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				logger.Debug("best-effort call skipped, circuit open", "op", op)
				return
			}
			logger.Warn("best-effort backend call failed", "op", op, "error", err)
		}
	}()
}

// ProbeWithRetry performs the startup health probe with bounded exponential
// backoff and jitter: base * 2^attempt, capped, plus up to half the delay of
// random jitter.
func (c *Client) ProbeWithRetry(ctx context.Context, attempts int, base time.Duration) error {
	const maxDelay = 30 * time.Second
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = c.HealthCheck(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		sleep := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
		c.logger.Warn("backend probe failed, retrying", "attempt", i+1, "backoff", sleep, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
