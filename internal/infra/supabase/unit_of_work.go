package supabase

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/infra/resilience"
	"github.com/boddenberg/recurring-ledger-go/internal/port"
)

// ============================================================
// Unit of work: staged changes committed by one RPC
// ============================================================

const rpcApplyChanges = "rpc/apply_ledger_changes"

type changeOp string

const (
	opInsert changeOp = "insert"
	opUpsert changeOp = "upsert"
	opDelete changeOp = "delete"
	// opInsertIgnore is applied with ON CONFLICT DO NOTHING.
	opInsertIgnore changeOp = "insert_ignore"
)

// change is one staged write. Match is an equality filter used by deletes;
// From adds a lower bound (column >= value) for range deletes.
type change struct {
	Op    changeOp          `json:"op"`
	Table string            `json:"table"`
	Row   any               `json:"row,omitempty"`
	Match map[string]string `json:"match,omitempty"`
	From  map[string]string `json:"from,omitempty"`
}

type applyChangesRequest struct {
	Changes []change `json:"changes"`
}

type unitKey struct{ c *Client }

// unit is the write buffer of one operation.
type unit struct {
	mu      sync.Mutex
	changes []change
}

// Begin returns a context carrying a fresh unit of work.
func (c *Client) Begin(ctx context.Context) context.Context {
	return context.WithValue(ctx, unitKey{c}, &unit{})
}

func (c *Client) unitOf(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{c}).(*unit)
	return u
}

func (c *Client) stage(ctx context.Context, ch change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := c.unitOf(ctx)
	if u == nil {
		return port.ErrNoUnitOfWork
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.changes = append(u.changes, ch)
	return nil
}

// PendingChanges returns how many writes are staged in ctx's unit.
func (c *Client) PendingChanges(ctx context.Context) int {
	u := c.unitOf(ctx)
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.changes)
}

// SaveChanges commits the writes staged in ctx's unit in one server-side
// transaction. A unique violation rolls back the whole batch and is returned
// as *domain.ErrDuplicate. The unit is emptied either way.
func (c *Client) SaveChanges(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.SaveChanges")
	defer span.End()

	u := c.unitOf(ctx)
	if u == nil {
		return nil
	}
	u.mu.Lock()
	batch := u.changes
	u.changes = nil
	u.mu.Unlock()

	span.SetAttributes(attribute.Int("supabase.changes", len(batch)))
	if len(batch) == 0 {
		return nil
	}
	return c.apply(ctx, batch)
}

func (c *Client) apply(ctx context.Context, batch []change) error {
	service := "supabase/" + rpcApplyChanges
	err := resilience.Execute(ctx, c.cb, c.cfg, service, func() error {
		_, err := c.doPost(ctx, rpcApplyChanges, applyChangesRequest{Changes: batch})
		if isUniqueViolation(err) {
			return &domain.ErrDuplicate{Key: rpcApplyChanges}
		}
		return err
	})
	var dup *domain.ErrDuplicate
	if errors.As(err, &dup) {
		return dup
	}
	return c.wrap(service, err)
}
