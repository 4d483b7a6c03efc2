// Package memstore is an in-memory repository.Database for tests. Transactions
// are serialized and roll back by restoring a snapshot; unique constraints of
// the Postgres schema are enforced so collision paths can be exercised.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users        table[models.User]
	assets       table[models.Asset]
	valuations   table[models.AssetValuation]
	applications table[models.LoanApplication]
	debtors      table[models.Debtor]
	loans        table[models.Loan]
	terms        table[models.LoanTerm]
	loanPayments table[models.LoanPayment]
	auctions     table[models.Auction]
	bids         table[models.Bid]
	bidPayments  table[models.BidPayment]
	audit        table[models.AuditLogEntry]

	// FailAuditInsert makes every audit append fail, to prove state changes roll back with it.
	FailAuditInsert error
}

var _ repository.Database = (*Store)(nil)

func New() *Store {
	return &Store{
		users:        newTable[models.User](),
		assets:       newTable[models.Asset](),
		valuations:   newTable[models.AssetValuation](),
		applications: newTable[models.LoanApplication](),
		debtors:      newTable[models.Debtor](),
		loans:        newTable[models.Loan](),
		terms:        newTable[models.LoanTerm](),
		loanPayments: newTable[models.LoanPayment](),
		auctions:     newTable[models.Auction](),
		bids:         newTable[models.Bid](),
		bidPayments:  newTable[models.BidPayment](),
		audit:        newTable[models.AuditLogEntry](),
	}
}

func (s *Store) Close() error { return nil }

// WithinTx serializes transactions and restores every table if fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Store) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(s)
}

type snapshot struct {
	users        table[models.User]
	assets       table[models.Asset]
	valuations   table[models.AssetValuation]
	applications table[models.LoanApplication]
	debtors      table[models.Debtor]
	loans        table[models.Loan]
	terms        table[models.LoanTerm]
	loanPayments table[models.LoanPayment]
	auctions     table[models.Auction]
	bids         table[models.Bid]
	bidPayments  table[models.BidPayment]
	audit        table[models.AuditLogEntry]
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return snapshot{
		users:        s.users.copy(),
		assets:       s.assets.copy(),
		valuations:   s.valuations.copy(),
		applications: s.applications.copy(),
		debtors:      s.debtors.copy(),
		loans:        s.loans.copy(),
		terms:        s.terms.copy(),
		loanPayments: s.loanPayments.copy(),
		auctions:     s.auctions.copy(),
		bids:         s.bids.copy(),
		bidPayments:  s.bidPayments.copy(),
		audit:        s.audit.copy(),
	}
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = snap.users
	s.assets = snap.assets
	s.valuations = snap.valuations
	s.applications = snap.applications
	s.debtors = snap.debtors
	s.loans = snap.loans
	s.terms = snap.terms
	s.loanPayments = snap.loanPayments
	s.auctions = snap.auctions
	s.bids = snap.bids
	s.bidPayments = snap.bidPayments
	s.audit = snap.audit
}

// table keeps rows as encoded JSON so callers never share memory with the store.
type table[T any] struct {
	rows  map[string][]byte
	order []string
}

func newTable[T any]() table[T] {
	return table[T]{rows: map[string][]byte{}}
}

func (t table[T]) copy() table[T] {
	c := table[T]{rows: make(map[string][]byte, len(t.rows)), order: append([]string(nil), t.order...)}
	for k, v := range t.rows {
		c.rows[k] = v
	}
	return c
}

func (t *table[T]) put(id string, v *T) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = b
}

func (t *table[T]) get(id string) (*T, bool) {
	b, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	v := new(T)
	if err := json.Unmarshal(b, v); err != nil {
		panic(err)
	}
	return v, true
}

func (t *table[T]) delete(id string) {
	delete(t.rows, id)
	for i, k := range t.order {
		if k == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// all returns rows in insertion order.
func (t *table[T]) all() []*T {
	out := make([]*T, 0, len(t.order))
	for _, id := range t.order {
		v, _ := t.get(id)
		out = append(out, v)
	}
	return out
}

func newID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortDesc[T any](items []T, key func(T) int64) {
	sort.SliceStable(items, func(i, j int) bool { return key(items[i]) > key(items[j]) })
}
