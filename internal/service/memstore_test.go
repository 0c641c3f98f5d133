package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"payment-link-gateway/internal/core/domain"
	"payment-link-gateway/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memStore is an in-memory unit-of-work store with first-committer-wins
// semantics: a transaction that writes fails at commit when anything else
// committed after it began. That is stricter than PostgreSQL SERIALIZABLE,
// which only makes retries more frequent.
type memStore struct {
	mu        sync.Mutex
	version   int64
	rows      map[uuid.UUID]domain.PaymentRequest
	idem      map[string]domain.IdempotencyLog
	merchants map[uuid.UUID]*domain.Merchant

	// beforeCommit runs with mu held, just before the conflict check.
	beforeCommit func(s *memStore)

	commits     int
	conflicts   int
	quotaCounts int
}

type memTx struct {
	pgx.Tx
	readVersion int64
	writes      []func(rows map[uuid.UUID]domain.PaymentRequest, idem map[string]domain.IdempotencyLog) error
}

func newMemStore(merchants ...*domain.Merchant) *memStore {
	s := &memStore{
		rows:      make(map[uuid.UUID]domain.PaymentRequest),
		idem:      make(map[string]domain.IdempotencyLog),
		merchants: make(map[uuid.UUID]*domain.Merchant),
	}
	for _, m := range merchants {
		s.merchants[m.ID] = m
	}
	return s
}

// seed inserts a committed row directly.
func (s *memStore) seed(pr domain.PaymentRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[pr.ID] = pr
	s.version++
}

func (s *memStore) all() []domain.PaymentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Collect(maps.Values(s.rows))
}

// --- DBTransactor ---

func (s *memStore) begin() *memTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memTx{readVersion: s.version}
}

func (s *memStore) WithinSerializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx := s.begin()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *memStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.beforeCommit != nil {
		s.beforeCommit(s)
	}
	if len(tx.writes) == 0 {
		return nil
	}
	if s.version != tx.readVersion {
		s.conflicts++
		return fmt.Errorf("%w: could not serialize access", ports.ErrWriteConflict)
	}

	rows := maps.Clone(s.rows)
	idem := maps.Clone(s.idem)
	for _, w := range tx.writes {
		if err := w(rows, idem); err != nil {
			s.conflicts++
			return err
		}
	}
	s.rows, s.idem = rows, idem
	s.version++
	s.commits++
	return nil
}

func txOf(tx pgx.Tx) *memTx {
	if tx == nil {
		return nil
	}
	return tx.(*memTx)
}

// --- MerchantDirectory ---

func (s *memStore) merchant(id uuid.UUID) *domain.Merchant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.merchants[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

type memMerchants struct{ s *memStore }

func (d memMerchants) GetByID(_ context.Context, id uuid.UUID) (*domain.Merchant, error) {
	return d.s.merchant(id), nil
}

func (d memMerchants) GetBySlug(_ context.Context, slug string) (*domain.Merchant, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	for _, m := range d.s.merchants {
		if m.Slug == slug {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

// --- PaymentRequestRepository ---

func (s *memStore) Create(_ context.Context, tx pgx.Tx, pr *domain.PaymentRequest) error {
	row := *pr
	txOf(tx).writes = append(txOf(tx).writes, func(rows map[uuid.UUID]domain.PaymentRequest, _ map[string]domain.IdempotencyLog) error {
		for _, existing := range rows {
			if existing.LinkID == row.LinkID ||
				(existing.MerchantID == row.MerchantID && existing.OrderDate == row.OrderDate && existing.OrderNumber == row.OrderNumber) {
				return fmt.Errorf("%w: duplicate order number %s", ports.ErrWriteConflict, row.LinkID)
			}
		}
		rows[row.ID] = row
		return nil
	})
	return nil
}

func (s *memStore) MaxOrderNumber(_ context.Context, _ pgx.Tx, merchantID uuid.UUID, orderDate string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	highest := 0
	for _, r := range s.rows {
		if r.MerchantID == merchantID && r.OrderDate == orderDate && r.OrderNumber > highest {
			highest = r.OrderNumber
		}
	}
	return highest, nil
}

func (s *memStore) CountCreatedBetween(_ context.Context, _ pgx.Tx, merchantID uuid.UUID, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotaCounts++
	var n int64
	for _, r := range s.rows {
		if r.MerchantID == merchantID && !r.CreatedAt.Before(from) && r.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) find(match func(domain.PaymentRequest) bool) *domain.PaymentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if match(r) {
			cp := r
			return &cp
		}
	}
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*domain.PaymentRequest, error) {
	return s.find(func(r domain.PaymentRequest) bool { return r.ID == id }), nil
}

func (s *memStore) GetByLinkID(_ context.Context, linkID string) (*domain.PaymentRequest, error) {
	return s.find(func(r domain.PaymentRequest) bool { return r.LinkID == linkID }), nil
}

func (s *memStore) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*domain.PaymentRequest, error) {
	return s.GetByID(ctx, id)
}

func (s *memStore) GetByLinkIDForUpdate(ctx context.Context, _ pgx.Tx, linkID string) (*domain.PaymentRequest, error) {
	return s.GetByLinkID(ctx, linkID)
}

func expireRow(rows map[uuid.UUID]domain.PaymentRequest, id uuid.UUID, now time.Time) bool {
	r, ok := rows[id]
	if !ok || r.Status != domain.PaymentRequestStatusPending || !r.ExpiresAt.Before(now) {
		return false
	}
	r.Status = domain.PaymentRequestStatusExpired
	r.UpdatedAt = now
	rows[id] = r
	return true
}

func (s *memStore) MarkExpired(_ context.Context, tx pgx.Tx, id uuid.UUID, now time.Time) (bool, error) {
	if t := txOf(tx); t != nil {
		s.mu.Lock()
		changed := expireRow(maps.Clone(s.rows), id, now)
		s.mu.Unlock()
		t.writes = append(t.writes, func(rows map[uuid.UUID]domain.PaymentRequest, _ map[string]domain.IdempotencyLog) error {
			expireRow(rows, id, now)
			return nil
		})
		return changed, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := expireRow(s.rows, id, now)
	if changed {
		s.version++
	}
	return changed, nil
}

func (s *memStore) UpdateSettlement(_ context.Context, tx pgx.Tx, id uuid.UUID, settlement domain.SettlementStatus, status domain.PaymentRequestStatus, now time.Time) error {
	txOf(tx).writes = append(txOf(tx).writes, func(rows map[uuid.UUID]domain.PaymentRequest, _ map[string]domain.IdempotencyLog) error {
		r, ok := rows[id]
		if !ok {
			return fmt.Errorf("payment request %s not found", id)
		}
		r.SettlementStatus = settlement
		r.Status = status
		r.UpdatedAt = now
		rows[id] = r
		return nil
	})
	return nil
}

func (s *memStore) List(_ context.Context, p ports.PaymentRequestListParams) ([]domain.PaymentRequest, int64, error) {
	s.mu.Lock()
	var matched []domain.PaymentRequest
	for _, r := range s.rows {
		if r.MerchantID != p.MerchantID {
			continue
		}
		if p.Status != nil && r.EffectiveStatus(p.Now) != *p.Status {
			continue
		}
		if p.SettlementStatus != nil && r.SettlementStatus != *p.SettlementStatus {
			continue
		}
		if p.OrderDate != nil && r.OrderDate != *p.OrderDate {
			continue
		}
		matched = append(matched, r)
	}
	s.mu.Unlock()

	slices.SortFunc(matched, func(a, b domain.PaymentRequest) int {
		if c := strings.Compare(b.OrderDate, a.OrderDate); c != 0 {
			return c
		}
		return b.OrderNumber - a.OrderNumber
	})

	total := int64(len(matched))
	start := min((p.Page-1)*p.PageSize, len(matched))
	end := min(start+p.PageSize, len(matched))
	return matched[start:end], total, nil
}

// --- IdempotencyRepository ---

type memIdempotency struct{ s *memStore }

func (r memIdempotency) Create(_ context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	entry := *log
	txOf(tx).writes = append(txOf(tx).writes, func(_ map[uuid.UUID]domain.PaymentRequest, idem map[string]domain.IdempotencyLog) error {
		if _, ok := idem[entry.Key]; ok {
			return fmt.Errorf("%w: duplicate idempotency key", ports.ErrWriteConflict)
		}
		idem[entry.Key] = entry
		return nil
	})
	return nil
}

func (r memIdempotency) Get(_ context.Context, _ pgx.Tx, key string) (*domain.IdempotencyLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l, ok := r.s.idem[key]; ok {
		return &l, nil
	}
	return nil, nil
}

// --- test doubles shared by the service tests ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingAudit captures entries synchronously.
type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (a *recordingAudit) Log(_ context.Context, entry *domain.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *entry)
}

func (a *recordingAudit) actions(action domain.AuditAction) []domain.AuditLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditLog
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}
