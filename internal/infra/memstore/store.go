// Package memstore is an in-memory implementation of every ledger port.
// Writes are staged in the unit of work carried by the context and applied
// atomically on SaveChanges, mirroring the production adapter. It backs the tests and
// the local (no database) mode of the server.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/boddenberg/recurring-ledger-go/internal/domain"
	"github.com/boddenberg/recurring-ledger-go/internal/port"
)

// Store holds all ledger state behind one lock.
type Store struct {
	mu sync.RWMutex

	accounts  map[string]domain.Account
	series    map[string]domain.RecurringTransaction
	transfers map[string]domain.RecurringTransfer

	seriesExceptions   exceptionTable
	transferExceptions exceptionTable

	transactions map[string]domain.Transaction
	txSeq        map[string]int
	matches      map[string]domain.ReconciliationMatch
	matchKeys    map[string]string
	settings     domain.Settings
	seq          int

	saves int
}

// New creates an empty store with default settings.
func New() *Store {
	return &Store{
		accounts:           make(map[string]domain.Account),
		series:             make(map[string]domain.RecurringTransaction),
		transfers:          make(map[string]domain.RecurringTransfer),
		seriesExceptions:   make(exceptionTable),
		transferExceptions: make(exceptionTable),
		transactions:       make(map[string]domain.Transaction),
		txSeq:              make(map[string]int),
		matches:            make(map[string]domain.ReconciliationMatch),
		matchKeys:          make(map[string]string),
		settings:           domain.DefaultSettings(),
	}
}

// Compile-time port checks.
var (
	_ port.UnitOfWork                = (*Store)(nil)
	_ port.RecurringTransactionStore = (*RecurringTransactions)(nil)
	_ port.RecurringTransferStore    = (*RecurringTransfers)(nil)
	_ port.TransactionStore          = (*Transactions)(nil)
	_ port.AccountStore              = (*Accounts)(nil)
	_ port.SettingsStore             = (*Settings)(nil)
	_ port.MatchStore                = (*Matches)(nil)
)

// Ports returns every port view backed by this store.
func (s *Store) Ports() port.Stores {
	return port.Stores{
		Series:       s.RecurringTransactions(),
		Transfers:    s.RecurringTransfers(),
		Transactions: s.Transactions(),
		Accounts:     s.Accounts(),
		Settings:     s.Settings(),
		Matches:      s.Matches(),
		UnitOfWork:   s,
	}
}

// RecurringTransactions returns the recurring transaction port view.
func (s *Store) RecurringTransactions() *RecurringTransactions {
	return &RecurringTransactions{exceptions{s, s.seriesExceptions}}
}

// RecurringTransfers returns the recurring transfer port view.
func (s *Store) RecurringTransfers() *RecurringTransfers {
	return &RecurringTransfers{exceptions{s, s.transferExceptions}}
}

// Transactions returns the transaction port view.
func (s *Store) Transactions() *Transactions { return &Transactions{s} }

// Accounts returns the account port view.
func (s *Store) Accounts() *Accounts { return &Accounts{s} }

// Settings returns the settings port view.
func (s *Store) Settings() *Settings { return &Settings{s} }

// Matches returns the match port view.
func (s *Store) Matches() *Matches { return &Matches{s} }

// ============================================================
// Unit of work
// ============================================================

// change is one staged write. check runs before any change of the batch is
// applied; keys holds the match keys claimed earlier in the same batch.
type change struct {
	check func(keys map[string]string) error
	apply func()
}

type unitKey struct{ s *Store }

// unit is the write buffer of one operation.
type unit struct {
	mu      sync.Mutex
	changes []change
}

// Begin returns a context carrying a fresh unit of work.
func (s *Store) Begin(ctx context.Context) context.Context {
	return context.WithValue(ctx, unitKey{s}, &unit{})
}

func (s *Store) unitOf(ctx context.Context) *unit {
	u, _ := ctx.Value(unitKey{s}).(*unit)
	return u
}

// SaveChanges applies the writes staged in ctx's unit in order, under one
// lock. If any check fails nothing is applied and the unit is emptied.
func (s *Store) SaveChanges(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := s.unitOf(ctx)
	if u == nil {
		return nil
	}
	u.mu.Lock()
	batch := u.changes
	u.changes = nil
	u.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make(map[string]string)
	for _, ch := range batch {
		if ch.check == nil {
			continue
		}
		if err := ch.check(keys); err != nil {
			return err
		}
	}
	for _, ch := range batch {
		ch.apply()
	}
	s.saves++
	return nil
}

// PendingChanges returns the number of writes staged in ctx's unit.
func (s *Store) PendingChanges(ctx context.Context) int {
	u := s.unitOf(ctx)
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.changes)
}

// SaveCount returns how many times SaveChanges committed.
func (s *Store) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

func (s *Store) stage(ctx context.Context, apply func()) error {
	return s.stageChecked(ctx, nil, apply)
}

func (s *Store) stageChecked(ctx context.Context, check func(map[string]string) error, apply func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := s.unitOf(ctx)
	if u == nil {
		return port.ErrNoUnitOfWork
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.changes = append(u.changes, change{check: check, apply: apply})
	return nil
}

// ============================================================
// Seeding (rehydrate committed state with explicit identities)
// ============================================================

func (s *Store) SeedAccount(a domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) SeedRecurringTransaction(r domain.RecurringTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[r.ID] = r
}

func (s *Store) SeedRecurringTransfer(r domain.RecurringTransfer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[r.ID] = r
}

func (s *Store) SeedTransaction(t domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putTransaction(t)
}

func (s *Store) SeedException(ex domain.SeriesException) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seriesExceptions.put(ex)
}

func (s *Store) SeedTransferException(ex domain.SeriesException) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferExceptions.put(ex)
}

func (s *Store) SeedMatch(m domain.ReconciliationMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putMatch(m)
}

func (s *Store) SeedSettings(st domain.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
}

// AllTransactions returns every committed transaction in insertion order.
func (s *Store) AllTransactions() []domain.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return s.txSeq[out[i].ID] < s.txSeq[out[j].ID] })
	return out
}

// AllMatches returns every committed match ordered by creation.
func (s *Store) AllMatches() []domain.ReconciliationMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ReconciliationMatch, 0, len(s.matches))
	for _, m := range s.matches {
		out = append(out, m)
	}
	sortMatches(out)
	return out
}

// putTransaction must be called with the lock held.
func (s *Store) putTransaction(t domain.Transaction) {
	if _, ok := s.txSeq[t.ID]; !ok {
		s.seq++
		s.txSeq[t.ID] = s.seq
	}
	s.transactions[t.ID] = t
}

// putMatch must be called with the lock held. A second match for the same
// (transaction, series, date) is dropped, like ON CONFLICT DO NOTHING.
func (s *Store) putMatch(m domain.ReconciliationMatch) bool {
	if id, ok := s.matchKeys[m.Key()]; ok && id != m.ID {
		return false
	}
	s.matches[m.ID] = m
	s.matchKeys[m.Key()] = m.ID
	return true
}

func sortMatches(ms []domain.ReconciliationMatch) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

// ============================================================
// Exceptions
// ============================================================

type exceptionTable map[string]map[domain.Date]domain.SeriesException

func (t exceptionTable) put(ex domain.SeriesException) {
	byDate, ok := t[ex.SeriesID]
	if !ok {
		byDate = make(map[domain.Date]domain.SeriesException)
		t[ex.SeriesID] = byDate
	}
	byDate[ex.OriginalDate] = ex
}

type exceptions struct {
	s     *Store
	table exceptionTable
}

func (e exceptions) GetExceptionByDate(_ context.Context, seriesID string, date domain.Date) (*domain.SeriesException, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	ex, ok := e.table[seriesID][date]
	if !ok {
		return nil, nil
	}
	return &ex, nil
}

func (e exceptions) GetExceptionsByDateRange(_ context.Context, seriesID string, start, end domain.Date) ([]domain.SeriesException, error) {
	e.s.mu.RLock()
	defer e.s.mu.RUnlock()
	var out []domain.SeriesException
	for d, ex := range e.table[seriesID] {
		if d.Between(start, end) {
			out = append(out, ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalDate.Before(out[j].OriginalDate) })
	return out, nil
}

func (e exceptions) AddException(ctx context.Context, ex *domain.SeriesException) error {
	c := *ex
	return e.s.stage(ctx, func() { e.table.put(c) })
}

func (e exceptions) RemoveException(ctx context.Context, seriesID string, date domain.Date) error {
	return e.s.stage(ctx, func() { delete(e.table[seriesID], date) })
}

func (e exceptions) RemoveExceptionsFromDate(ctx context.Context, seriesID string, date domain.Date) error {
	return e.s.stage(ctx, func() {
		for d := range e.table[seriesID] {
			if !d.Before(date) {
				delete(e.table[seriesID], d)
			}
		}
	})
}

// ============================================================
// Recurring transactions
// ============================================================

// RecurringTransactions implements port.RecurringTransactionStore.
type RecurringTransactions struct{ exceptions }

func (r *RecurringTransactions) GetActive(_ context.Context) ([]domain.RecurringTransaction, error) {
	return r.filter(func(x domain.RecurringTransaction) bool { return x.IsActive }), nil
}

func (r *RecurringTransactions) GetByAccountID(_ context.Context, accountID string) ([]domain.RecurringTransaction, error) {
	return r.filter(func(x domain.RecurringTransaction) bool { return x.AccountID == accountID }), nil
}

func (r *RecurringTransactions) GetByID(_ context.Context, id string) (*domain.RecurringTransaction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	x, ok := r.s.series[id]
	if !ok {
		return nil, nil
	}
	return &x, nil
}

func (r *RecurringTransactions) Update(ctx context.Context, series *domain.RecurringTransaction) error {
	c := *series
	return r.s.stage(ctx, func() { r.s.series[c.ID] = c })
}

func (r *RecurringTransactions) filter(keep func(domain.RecurringTransaction) bool) []domain.RecurringTransaction {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.RecurringTransaction
	for _, x := range r.s.series {
		if keep(x) {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================
// Recurring transfers
// ============================================================

// RecurringTransfers implements port.RecurringTransferStore.
type RecurringTransfers struct{ exceptions }

func (r *RecurringTransfers) GetActive(_ context.Context) ([]domain.RecurringTransfer, error) {
	return r.filter(func(x domain.RecurringTransfer) bool { return x.IsActive }), nil
}

func (r *RecurringTransfers) GetByAccountID(_ context.Context, accountID string) ([]domain.RecurringTransfer, error) {
	return r.filter(func(x domain.RecurringTransfer) bool { return x.Touches(accountID) }), nil
}

func (r *RecurringTransfers) GetByID(_ context.Context, id string) (*domain.RecurringTransfer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	x, ok := r.s.transfers[id]
	if !ok {
		return nil, nil
	}
	return &x, nil
}

func (r *RecurringTransfers) Update(ctx context.Context, series *domain.RecurringTransfer) error {
	c := *series
	return r.s.stage(ctx, func() { r.s.transfers[c.ID] = c })
}

func (r *RecurringTransfers) filter(keep func(domain.RecurringTransfer) bool) []domain.RecurringTransfer {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.RecurringTransfer
	for _, x := range r.s.transfers {
		if keep(x) {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ============================================================
// Transactions
// ============================================================

// Transactions implements port.TransactionStore.
type Transactions struct{ s *Store }

func (t *Transactions) GetByDateRange(_ context.Context, start, end domain.Date, accountID string) ([]domain.Transaction, error) {
	return t.filter(func(x domain.Transaction) bool {
		return x.Date.Between(start, end) && (accountID == "" || x.AccountID == accountID)
	}), nil
}

func (t *Transactions) GetBefore(_ context.Context, date domain.Date, accountID string) ([]domain.Transaction, error) {
	return t.filter(func(x domain.Transaction) bool {
		return x.Date.Before(date) && (accountID == "" || x.AccountID == accountID)
	}), nil
}

func (t *Transactions) GetByRecurringInstance(_ context.Context, seriesID string, date domain.Date) (*domain.Transaction, error) {
	found := t.filter(func(x domain.Transaction) bool {
		return x.RecurringSeriesID == seriesID && x.RecurringInstanceDate != nil && x.RecurringInstanceDate.Equal(date)
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (t *Transactions) GetByRecurringTransferInstance(_ context.Context, seriesID string, date domain.Date) ([]domain.Transaction, error) {
	return t.filter(func(x domain.Transaction) bool {
		return x.RecurringTransferID == seriesID && x.RecurringInstanceDate != nil && x.RecurringInstanceDate.Equal(date)
	}), nil
}

func (t *Transactions) GetByTransferID(_ context.Context, transferID string) ([]domain.Transaction, error) {
	return t.filter(func(x domain.Transaction) bool { return x.TransferID == transferID }), nil
}

func (t *Transactions) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	x, ok := t.s.transactions[id]
	if !ok {
		return nil, nil
	}
	return &x, nil
}

func (t *Transactions) Add(ctx context.Context, tx *domain.Transaction) error {
	c := *tx
	return t.s.stage(ctx, func() { t.s.putTransaction(c) })
}

func (t *Transactions) Update(ctx context.Context, tx *domain.Transaction) error {
	c := *tx
	return t.s.stage(ctx, func() { t.s.putTransaction(c) })
}

// filter returns matches ordered by date, then creation time, then insertion order.
func (t *Transactions) filter(keep func(domain.Transaction) bool) []domain.Transaction {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []domain.Transaction
	for _, x := range t.s.transactions {
		if keep(x) {
			out = append(out, x)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return t.s.txSeq[a.ID] < t.s.txSeq[b.ID]
	})
	return out
}

// ============================================================
// Accounts
// ============================================================

// Accounts implements port.AccountStore.
type Accounts struct{ s *Store }

func (a *Accounts) GetAll(_ context.Context) ([]domain.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	out := make([]domain.Account, 0, len(a.s.accounts))
	for _, x := range a.s.accounts {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *Accounts) GetByID(_ context.Context, id string) (*domain.Account, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	x, ok := a.s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &x, nil
}

// ============================================================
// Settings
// ============================================================

// Settings implements port.SettingsStore.
type Settings struct{ s *Store }

func (st *Settings) Get(_ context.Context) (domain.Settings, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	return st.s.settings, nil
}

func (st *Settings) Save(ctx context.Context, v domain.Settings) error {
	return st.s.stage(ctx, func() { st.s.settings = v })
}

// ============================================================
// Matches
// ============================================================

// Matches implements port.MatchStore.
type Matches struct{ s *Store }

func (m *Matches) GetPendingMatches(_ context.Context) ([]domain.ReconciliationMatch, error) {
	return m.filter(func(x domain.ReconciliationMatch) bool { return x.Status.IsOpen() }), nil
}

func (m *Matches) GetByInstanceDateRange(_ context.Context, start, end domain.Date) ([]domain.ReconciliationMatch, error) {
	return m.filter(func(x domain.ReconciliationMatch) bool { return x.InstanceDate.Between(start, end) }), nil
}

func (m *Matches) GetByTransactionID(_ context.Context, transactionID string) ([]domain.ReconciliationMatch, error) {
	return m.filter(func(x domain.ReconciliationMatch) bool { return x.ImportedTransactionID == transactionID }), nil
}

func (m *Matches) Exists(_ context.Context, transactionID, seriesID string, date domain.Date) (bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	_, ok := m.s.matchKeys[domain.MatchKey(transactionID, seriesID, date)]
	return ok, nil
}

// Add stages a strict insert: a match already holding the same key, committed
// or earlier in the unit, fails the commit with *domain.ErrDuplicate.
func (m *Matches) Add(ctx context.Context, match *domain.ReconciliationMatch) error {
	c := *match
	check := func(keys map[string]string) error {
		key := c.Key()
		if id, ok := m.s.matchKeys[key]; ok && id != c.ID {
			return &domain.ErrDuplicate{Key: key}
		}
		if id, ok := keys[key]; ok && id != c.ID {
			return &domain.ErrDuplicate{Key: key}
		}
		keys[key] = c.ID
		return nil
	}
	return m.s.stageChecked(ctx, check, func() { m.s.putMatch(c) })
}

// AddIfAbsent stages an insert that is skipped when the key is already taken.
func (m *Matches) AddIfAbsent(ctx context.Context, match *domain.ReconciliationMatch) error {
	c := *match
	return m.s.stage(ctx, func() { m.s.putMatch(c) })
}

func (m *Matches) Update(ctx context.Context, match *domain.ReconciliationMatch) error {
	c := *match
	return m.s.stage(ctx, func() { m.s.putMatch(c) })
}

func (m *Matches) GetByID(_ context.Context, id string) (*domain.ReconciliationMatch, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	x, ok := m.s.matches[id]
	if !ok {
		return nil, nil
	}
	return &x, nil
}

func (m *Matches) filter(keep func(domain.ReconciliationMatch) bool) []domain.ReconciliationMatch {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []domain.ReconciliationMatch
	for _, x := range m.s.matches {
		if keep(x) {
			out = append(out, x)
		}
	}
	sortMatches(out)
	return out
}
