// Package supabase implements every ledger port against Supabase PostgREST.
// Reads go through the circuit breaker with retries. Writes are staged in the
// unit of work carried by the context and committed by a single RPC call.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/cache"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/observability"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/recurring-ledger-go/internal/port"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to the Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
	metrics        *observability.Metrics
	accounts       *cache.InMemory[[]domain.Account]
	bulkhead       *resilience.Bulkhead
}

// NewClient creates a Supabase client. Account lookups are cached for accountTTL.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, accountTTL time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
		metrics:        metrics,
		accounts:       cache.New[[]domain.Account](accountTTL),
		bulkhead:       resilience.NewBulkhead(cfg.MaxConcurrency),
	}
}

// Close releases the account cache sweeper.
func (c *Client) Close() { c.accounts.Stop() }

// Ports returns every store backed by this client.
func (c *Client) Ports() port.Stores {
	return port.Stores{
		Series:       &RecurringTransactions{c: c, exceptions: exceptions{c: c, table: tableTransactionExceptions}},
		Transfers:    &RecurringTransfers{c: c, exceptions: exceptions{c: c, table: tableTransferExceptions}},
		Transactions: &Transactions{c},
		Accounts:     &Accounts{c},
		Settings:     &Settings{c},
		Matches:      &Matches{c},
		UnitOfWork:   c,
	}
}

// Ping checks that PostgREST answers. Used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, tableSettings+"?select=id&limit=1")
	return err
}

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Status int
	Code   string
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.Status, e.Body)
}

// newStatusError extracts the Postgres error code PostgREST puts in the body.
func newStatusError(status int, body []byte) *statusError {
	var pg struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(body, &pg)
	return &statusError{Status: status, Code: pg.Code, Body: string(body)}
}

// isUniqueViolation reports a 409 or Postgres 23505 response.
func isUniqueViolation(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.Code == "23505" || se.Status == http.StatusConflict)
}

// doRequest executes an authenticated request to Supabase PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	c.setHeaders(req, "return=representation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, newStatusError(resp.StatusCode, body)
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return body, nil
}

func (c *Client) setHeaders(req *http.Request, prefer string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
}

// query runs a bounded GET through the breaker and retry policy and
// decodes the JSON array into out. An empty body leaves out untouched.
func (c *Client) query(ctx context.Context, table, path string, out any) error {
	ctx, span := tracer.Start(ctx, "Supabase.Query")
	defer span.End()
	span.SetAttributes(attribute.String("supabase.table", table))

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return err
	}
	defer c.bulkhead.Release()

	service := "supabase/" + table
	err := resilience.Execute(ctx, c.cb, c.cfg, service, func() error {
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
		return nil
	})
	return c.wrap(service, err)
}

// wrap converts adapter failures into the domain's external-service errors.
func (c *Client) wrap(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	c.metrics.IncrExternalError(service)
	var open *domain.ErrCircuitOpen
	if errors.As(err, &open) {
		return err
	}
	return &domain.ErrExternalService{Service: service, Err: err}
}
