// Package memory implements domain.AtomicExecutor and domain.Repositories
// in process memory. It backs unit tests, the feature suite, and
// dependency-free local runs, and it honours the same conditional-write
// semantics as the PostgreSQL datastore so race arbitration behaves
// identically.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/traffic-tacos/reservation-api-sub000/internal/reservation/domain"
)

// DataStore is an in-memory datastore supporting the Atomic pattern.
// Concurrency: all access is guarded by a mutex; Atomic holds the lock for
// the duration of the callback, so callbacks are serialized.
//
// Repositories copy aggregates on the way in and out. A caller mutating a
// loaded aggregate never changes stored state until a conditional write
// commits, which is what makes the HOLD-status precondition a real arbiter.
type DataStore struct {
	mu           sync.RWMutex
	reservations map[string]*domain.Reservation
	orders       map[string]*domain.Order
	idempotency  map[string]*domain.IdempotencyRecord
	outbox       []*domain.OutboxEntry

	reservationRepo  *ReservationRepository
	orderRepo        *OrderRepository
	idempotencyStore *IdempotencyStore
	outboxRepo       *OutboxRepository
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	ds := &DataStore{
		reservations: make(map[string]*domain.Reservation),
		orders:       make(map[string]*domain.Order),
		idempotency:  make(map[string]*domain.IdempotencyRecord),
		outbox:       make([]*domain.OutboxEntry, 0),
	}

	ds.reservationRepo = &ReservationRepository{store: ds}
	ds.orderRepo = &OrderRepository{store: ds}
	ds.idempotencyStore = &IdempotencyStore{store: ds}
	ds.outboxRepo = &OutboxRepository{store: ds}

	return ds
}

// Reservations returns the reservation repository.
func (ds *DataStore) Reservations() domain.ReservationRepository {
	return ds.reservationRepo
}

// Orders returns the order repository.
func (ds *DataStore) Orders() domain.OrderRepository {
	return ds.orderRepo
}

// IdempotencyKeys returns the idempotency store.
func (ds *DataStore) IdempotencyKeys() domain.IdempotencyStore {
	return ds.idempotencyStore
}

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository {
	return ds.outboxRepo
}

// Atomic executes the callback atomically. The store is locked, the callback
// runs against a transactional overlay, and staged changes apply only when
// the callback returns nil.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	tx := &transactionalDataStore{
		parent:             ds,
		stagedReservations: make(map[string]*domain.Reservation),
		stagedOrders:       make(map[string]*domain.Order),
		stagedIdempotency:  make(map[string]*domain.IdempotencyRecord),
		stagedOutbox:       make([]*domain.OutboxEntry, 0),
	}

	if err := fn(tx); err != nil {
		return err
	}

	for k, v := range tx.stagedReservations {
		ds.reservations[k] = v
	}
	for k, v := range tx.stagedOrders {
		ds.orders[k] = v
	}
	for k, v := range tx.stagedIdempotency {
		ds.idempotency[k] = v
	}
	ds.outbox = append(ds.outbox, tx.stagedOutbox...)

	return nil
}

// OutboxEntries returns copies of all outbox rows, oldest first.
// Test helper; the production read path is FetchDue.
func (ds *DataStore) OutboxEntries() []*domain.OutboxEntry {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	entries := make([]*domain.OutboxEntry, 0, len(ds.outbox))
	for _, e := range ds.outbox {
		entries = append(entries, cloneOutboxEntry(e))
	}
	return entries
}

// Lock-free internals shared by the transactional and direct repositories.
// Callers must hold ds.mu.

func (ds *DataStore) findReservationLocked(id domain.ReservationID) (*domain.Reservation, bool) {
	r, ok := ds.reservations[id.String()]
	return r, ok
}

func (ds *DataStore) listExpiredHoldsLocked(now time.Time, limit int) []*domain.Reservation {
	var due []*domain.Reservation
	for _, r := range ds.reservations {
		if r.IsHoldExpired(now) {
			due = append(due, cloneReservation(r))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].HoldExpiresAt().Before(*due[j].HoldExpiresAt())
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due
}

func (ds *DataStore) findOrderByReservationLocked(id domain.ReservationID) (*domain.Order, bool) {
	for _, o := range ds.orders {
		if o.ReservationID() == id {
			return o, true
		}
	}
	return nil, false
}

func (ds *DataStore) liveIdempotencyLocked(key string) (*domain.IdempotencyRecord, bool) {
	rec, ok := ds.idempotency[key]
	if !ok || !rec.ExpiresAt.After(time.Now().UTC()) {
		return nil, false
	}
	return rec, true
}

func (ds *DataStore) deleteExpiredIdempotencyLocked(now time.Time) int {
	deleted := 0
	for k, rec := range ds.idempotency {
		if !rec.ExpiresAt.After(now) {
			delete(ds.idempotency, k)
			deleted++
		}
	}
	return deleted
}

// transactionalDataStore overlays staged writes on the parent store.
type transactionalDataStore struct {
	parent             *DataStore
	stagedReservations map[string]*domain.Reservation
	stagedOrders       map[string]*domain.Order
	stagedIdempotency  map[string]*domain.IdempotencyRecord
	stagedOutbox       []*domain.OutboxEntry
}

func (tx *transactionalDataStore) Reservations() domain.ReservationRepository {
	return &txReservationRepository{tx: tx}
}

func (tx *transactionalDataStore) Orders() domain.OrderRepository {
	return &txOrderRepository{tx: tx}
}

func (tx *transactionalDataStore) IdempotencyKeys() domain.IdempotencyStore {
	return &txIdempotencyStore{tx: tx}
}

func (tx *transactionalDataStore) Outbox() domain.OutboxRepository {
	return &txOutboxRepository{tx: tx}
}

// Transactional repository implementations

type txReservationRepository struct {
	tx *transactionalDataStore
}

func (r *txReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	key := res.ID().String()
	if _, ok := r.tx.stagedReservations[key]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := r.tx.parent.reservations[key]; ok {
		return domain.ErrAlreadyExists
	}
	r.tx.stagedReservations[key] = cloneReservation(res)
	return nil
}

func (r *txReservationRepository) FindByID(ctx context.Context, id domain.ReservationID) (*domain.Reservation, error) {
	if res, ok := r.tx.stagedReservations[id.String()]; ok {
		return cloneReservation(res), nil
	}
	if res, ok := r.tx.parent.findReservationLocked(id); ok {
		return cloneReservation(res), nil
	}
	return nil, domain.ErrReservationNotFound
}

func (r *txReservationRepository) UpdateStatus(ctx context.Context, res *domain.Reservation, expected domain.ReservationStatus) error {
	key := res.ID().String()
	current, ok := r.tx.stagedReservations[key]
	if !ok {
		current, ok = r.tx.parent.reservations[key]
	}
	// A missing row fails the precondition the same way zero updated rows
	// would in SQL.
	if !ok || current.Status() != expected {
		return domain.ErrPreconditionFailed
	}
	r.tx.stagedReservations[key] = cloneReservation(res)
	return nil
}

func (r *txReservationRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	return r.tx.parent.listExpiredHoldsLocked(now, limit), nil
}

type txOrderRepository struct {
	tx *transactionalDataStore
}

func (r *txOrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	key := o.ID().String()
	if _, ok := r.tx.stagedOrders[key]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := r.tx.parent.orders[key]; ok {
		return domain.ErrAlreadyExists
	}
	for _, staged := range r.tx.stagedOrders {
		if staged.ReservationID() == o.ReservationID() {
			return domain.ErrAlreadyExists
		}
	}
	if _, ok := r.tx.parent.findOrderByReservationLocked(o.ReservationID()); ok {
		return domain.ErrAlreadyExists
	}
	r.tx.stagedOrders[key] = cloneOrder(o)
	return nil
}

func (r *txOrderRepository) FindByReservationID(ctx context.Context, id domain.ReservationID) (*domain.Order, error) {
	for _, staged := range r.tx.stagedOrders {
		if staged.ReservationID() == id {
			return cloneOrder(staged), nil
		}
	}
	if o, ok := r.tx.parent.findOrderByReservationLocked(id); ok {
		return cloneOrder(o), nil
	}
	return nil, domain.ErrOrderNotFound
}

type txIdempotencyStore struct {
	tx *transactionalDataStore
}

func (s *txIdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	if rec, ok := s.tx.stagedIdempotency[key]; ok {
		return cloneIdempotencyRecord(rec), nil
	}
	if rec, ok := s.tx.parent.liveIdempotencyLocked(key); ok {
		return cloneIdempotencyRecord(rec), nil
	}
	return nil, nil
}

func (s *txIdempotencyStore) PutIfAbsent(ctx context.Context, record *domain.IdempotencyRecord) (bool, *domain.IdempotencyRecord, error) {
	existing, err := s.Get(ctx, record.Key)
	if err != nil {
		return false, nil, err
	}
	if existing != nil {
		return false, existing, nil
	}
	s.tx.stagedIdempotency[record.Key] = cloneIdempotencyRecord(record)
	return true, cloneIdempotencyRecord(record), nil
}

func (s *txIdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	// Purges apply immediately; they are housekeeping, not business state.
	return s.tx.parent.deleteExpiredIdempotencyLocked(now), nil
}

type txOutboxRepository struct {
	tx *transactionalDataStore
}

func (r *txOutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	r.tx.stagedOutbox = append(r.tx.stagedOutbox, cloneOutboxEntry(entry))
	return nil
}

func (r *txOutboxRepository) FetchDue(ctx context.Context, now time.Time, limit, maxAttempts int) ([]*domain.OutboxEntry, error) {
	return fetchDueLocked(r.tx.parent, now, limit, maxAttempts), nil
}

func (r *txOutboxRepository) Lease(ctx context.Context, id domain.OutboxID, now time.Time) error {
	return leaseLocked(r.tx.parent, id, now)
}

func (r *txOutboxRepository) MarkPublished(ctx context.Context, id domain.OutboxID) error {
	return markPublishedLocked(r.tx.parent, id)
}

func (r *txOutboxRepository) MarkFailed(ctx context.Context, id domain.OutboxID, attempts int, lastError string, nextRetryAt *time.Time) error {
	return markFailedLocked(r.tx.parent, id, attempts, lastError, nextRetryAt)
}

func (r *txOutboxRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	return releaseStaleLocked(r.tx.parent, cutoff), nil
}

// Non-transactional repository implementations (for direct access)

// ReservationRepository provides non-transactional access to in-memory reservations.
type ReservationRepository struct {
	store *DataStore
}

// Insert stores a reservation; ErrAlreadyExists when the ID is taken.
func (r *ReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := res.ID().String()
	if _, ok := r.store.reservations[key]; ok {
		return domain.ErrAlreadyExists
	}
	r.store.reservations[key] = cloneReservation(res)
	return nil
}

// FindByID loads a reservation from memory.
// Returns ErrReservationNotFound when missing.
func (r *ReservationRepository) FindByID(ctx context.Context, id domain.ReservationID) (*domain.Reservation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if res, ok := r.store.findReservationLocked(id); ok {
		return cloneReservation(res), nil
	}
	return nil, domain.ErrReservationNotFound
}

// UpdateStatus applies a conditional status write.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, res *domain.Reservation, expected domain.ReservationStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.reservations[res.ID().String()]
	if !ok || current.Status() != expected {
		return domain.ErrPreconditionFailed
	}
	r.store.reservations[res.ID().String()] = cloneReservation(res)
	return nil
}

// ListExpiredHolds returns HOLD reservations past their deadline, oldest first.
func (r *ReservationRepository) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.listExpiredHoldsLocked(now, limit), nil
}

// OrderRepository provides non-transactional access to in-memory orders.
type OrderRepository struct {
	store *DataStore
}

// Insert stores an order; ErrAlreadyExists when the reservation already has one.
func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.orders[o.ID().String()]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := r.store.findOrderByReservationLocked(o.ReservationID()); ok {
		return domain.ErrAlreadyExists
	}
	r.store.orders[o.ID().String()] = cloneOrder(o)
	return nil
}

// FindByReservationID loads the order created from a reservation.
// Returns ErrOrderNotFound when missing.
func (r *OrderRepository) FindByReservationID(ctx context.Context, id domain.ReservationID) (*domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if o, ok := r.store.findOrderByReservationLocked(id); ok {
		return cloneOrder(o), nil
	}
	return nil, domain.ErrOrderNotFound
}

// IdempotencyStore provides non-transactional access to in-memory idempotency records.
type IdempotencyStore struct {
	store *DataStore
}

// Get retrieves a live record by key; (nil, nil) when absent or expired.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	if rec, ok := s.store.liveIdempotencyLocked(key); ok {
		return cloneIdempotencyRecord(rec), nil
	}
	return nil, nil
}

// PutIfAbsent stores the record unless a live one exists.
func (s *IdempotencyStore) PutIfAbsent(ctx context.Context, record *domain.IdempotencyRecord) (bool, *domain.IdempotencyRecord, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if existing, ok := s.store.liveIdempotencyLocked(record.Key); ok {
		return false, cloneIdempotencyRecord(existing), nil
	}
	s.store.idempotency[record.Key] = cloneIdempotencyRecord(record)
	return true, cloneIdempotencyRecord(record), nil
}

// DeleteExpired removes records past their TTL.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.store.deleteExpiredIdempotencyLocked(now), nil
}

// OutboxRepository provides non-transactional access to in-memory outbox rows.
type OutboxRepository struct {
	store *DataStore
}

// Append adds an entry to the outbox.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.outbox = append(r.store.outbox, cloneOutboxEntry(entry))
	return nil
}

// FetchDue returns entries eligible for publishing, oldest first.
func (r *OutboxRepository) FetchDue(ctx context.Context, now time.Time, limit, maxAttempts int) ([]*domain.OutboxEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fetchDueLocked(r.store, now, limit, maxAttempts), nil
}

// Lease transitions an entry to PROCESSING.
func (r *OutboxRepository) Lease(ctx context.Context, id domain.OutboxID, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return leaseLocked(r.store, id, now)
}

// MarkPublished transitions a PROCESSING entry to PUBLISHED.
func (r *OutboxRepository) MarkPublished(ctx context.Context, id domain.OutboxID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markPublishedLocked(r.store, id)
}

// MarkFailed records a failed publish attempt.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id domain.OutboxID, attempts int, lastError string, nextRetryAt *time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return markFailedLocked(r.store, id, attempts, lastError, nextRetryAt)
}

// ReleaseStale returns long-PROCESSING entries to PENDING.
func (r *OutboxRepository) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return releaseStaleLocked(r.store, cutoff), nil
}

// Outbox internals; callers hold ds.mu.

func fetchDueLocked(ds *DataStore, now time.Time, limit, maxAttempts int) []*domain.OutboxEntry {
	var due []*domain.OutboxEntry
	for _, e := range ds.outbox {
		switch e.Status {
		case domain.OutboxStatusPending:
			due = append(due, cloneOutboxEntry(e))
		case domain.OutboxStatusFailed:
			if e.Attempts < maxAttempts && e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
				due = append(due, cloneOutboxEntry(e))
			}
		}
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due
}

func leaseLocked(ds *DataStore, id domain.OutboxID, now time.Time) error {
	e := findOutboxLocked(ds, id)
	if e == nil || (e.Status != domain.OutboxStatusPending && e.Status != domain.OutboxStatusFailed) {
		return domain.ErrPreconditionFailed
	}
	e.Status = domain.OutboxStatusProcessing
	leased := now.UTC()
	e.LeasedAt = &leased
	return nil
}

func markPublishedLocked(ds *DataStore, id domain.OutboxID) error {
	e := findOutboxLocked(ds, id)
	if e == nil || e.Status != domain.OutboxStatusProcessing {
		return domain.ErrPreconditionFailed
	}
	e.Status = domain.OutboxStatusPublished
	e.LeasedAt = nil
	return nil
}

func markFailedLocked(ds *DataStore, id domain.OutboxID, attempts int, lastError string, nextRetryAt *time.Time) error {
	e := findOutboxLocked(ds, id)
	if e == nil {
		return domain.ErrPreconditionFailed
	}
	e.Status = domain.OutboxStatusFailed
	e.Attempts = attempts
	e.LastError = lastError
	e.LeasedAt = nil
	if nextRetryAt != nil {
		t := nextRetryAt.UTC()
		e.NextRetryAt = &t
	} else {
		e.NextRetryAt = nil
	}
	return nil
}

func releaseStaleLocked(ds *DataStore, cutoff time.Time) int {
	released := 0
	for _, e := range ds.outbox {
		if e.Status == domain.OutboxStatusProcessing && e.LeasedAt != nil && !e.LeasedAt.After(cutoff) {
			e.Status = domain.OutboxStatusPending
			e.LeasedAt = nil
			released++
		}
	}
	return released
}

func findOutboxLocked(ds *DataStore, id domain.OutboxID) *domain.OutboxEntry {
	for _, e := range ds.outbox {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Copy helpers. Stored aggregates must never alias caller-held pointers.

func cloneReservation(r *domain.Reservation) *domain.Reservation {
	var expires *time.Time
	if t := r.HoldExpiresAt(); t != nil {
		c := *t
		expires = &c
	}
	return domain.ReconstructReservation(
		r.ID(),
		r.EventID(),
		r.UserID(),
		r.Quantity(),
		append([]string(nil), r.SeatIDs()...),
		r.Status(),
		expires,
		r.HoldToken(),
		r.IdempotencyKey(),
		r.CreatedAt(),
		r.UpdatedAt(),
	)
}

func cloneOrder(o *domain.Order) *domain.Order {
	return domain.ReconstructOrder(
		o.ID(),
		o.ReservationID(),
		o.EventID(),
		o.UserID(),
		o.Amount(),
		o.Status(),
		o.PaymentIntentID(),
		o.CreatedAt(),
		o.UpdatedAt(),
	)
}

func cloneIdempotencyRecord(rec *domain.IdempotencyRecord) *domain.IdempotencyRecord {
	c := *rec
	c.Snapshot = append([]byte(nil), rec.Snapshot...)
	return &c
}

func cloneOutboxEntry(e *domain.OutboxEntry) *domain.OutboxEntry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		c.NextRetryAt = &t
	}
	if e.LeasedAt != nil {
		t := *e.LeasedAt
		c.LeasedAt = &t
	}
	return &c
}

// Verify interface implementations.
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
