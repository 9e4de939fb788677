// Package memory is an in-process ledger store with the same semantics as the
// Postgres repositories. It backs STORE_BACKEND=memory for local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"copyforge/internal/billing"
	"copyforge/internal/types"
)

type accountEntry struct {
	mu   sync.Mutex
	acct types.Account
}

type eventMarker struct {
	eventType   string
	processedAt time.Time
}

// Store keeps accounts, processed-event markers and generation history.
//
// Reservations lock only the affected account, so different accounts proceed
// in parallel. Billing writes also rewrite the subscription index and take the
// store-wide lock; they are rare compared to reservations.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry
	bySub    map[string]string

	eventsMu sync.Mutex
	events   map[string]eventMarker

	historyMu sync.RWMutex
	history   map[string][]types.GenerationRecord

	now func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*accountEntry),
		bySub:    make(map[string]string),
		events:   make(map[string]eventMarker),
		history:  make(map[string][]types.GenerationRecord),
		now:      time.Now,
	}
}

func cloneAccount(a types.Account) *types.Account {
	out := a
	if a.BillingCustomerRef != nil {
		v := *a.BillingCustomerRef
		out.BillingCustomerRef = &v
	}
	if a.BillingSubscriptionRef != nil {
		v := *a.BillingSubscriptionRef
		out.BillingSubscriptionRef = &v
	}
	if a.LastBillingEventAt != nil {
		v := *a.LastBillingEventAt
		out.LastBillingEventAt = &v
	}
	return &out
}

func notFound() error {
	return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
}

func (s *Store) EnsureAccount(_ context.Context, id, email string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.accounts[id]; ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return cloneAccount(e.acct), nil
	}

	grant := billing.FreeTierGrant()
	now := s.now().UTC()
	e := &accountEntry{acct: types.Account{
		ID:        id,
		Email:     email,
		Credits:   grant.Credits,
		Tier:      grant.Tier,
		Status:    types.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.accounts[id] = e
	return cloneAccount(e.acct), nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*types.Account, error) {
	s.mu.RLock()
	e, ok := s.accounts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAccount(e.acct), nil
}

func (s *Store) FindBySubscriptionRef(_ context.Context, subscriptionRef string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySub[subscriptionRef]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "no account holds this subscription", nil)
	}
	e := s.accounts[id]
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneAccount(e.acct), nil
}

// Reserve checks and debits under the account's own lock.
func (s *Store) Reserve(_ context.Context, accountID string) (types.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.accounts[accountID]
	if !ok {
		return types.Reservation{}, notFound()
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.acct.Credits == types.UnlimitedCredits:
	case e.acct.Credits > 0:
		e.acct.Credits--
	default:
		return types.Reservation{}, types.NewAppError(types.ErrCodeCreditsInsufficient, "no credits remaining", nil)
	}
	now := s.now().UTC()
	e.acct.UpdatedAt = now

	res := types.Reservation{
		Token:            uuid.NewString(),
		AccountID:        accountID,
		CreditsRemaining: e.acct.Credits,
		Unlimited:        e.acct.Credits == types.UnlimitedCredits,
		ReservedAt:       now,
	}
	if e.acct.LastBillingEventAt != nil {
		epoch := *e.acct.LastBillingEventAt
		res.BillingEpoch = &epoch
	}
	return res, nil
}

func (s *Store) Refund(_ context.Context, res types.Reservation) (bool, error) {
	if res.Unlimited {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.accounts[res.AccountID]
	if !ok {
		return false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.acct.Credits < 0 || !sameEpoch(e.acct.LastBillingEventAt, res.BillingEpoch) {
		return false, nil
	}
	e.acct.Credits++
	e.acct.UpdatedAt = s.now().UTC()
	return true, nil
}

func sameEpoch(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// acceptsEvent mirrors the SQL guard: apply only if no newer event has been
// applied to this account.
func acceptsEvent(a *types.Account, eventAt time.Time) bool {
	return a.LastBillingEventAt == nil || !a.LastBillingEventAt.After(eventAt)
}

func (s *Store) ActivateSubscription(_ context.Context, accountID string, grant types.Grant, refs types.BillingRefs, eventAt time.Time) (types.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.accounts[accountID]
	if !ok {
		return types.ApplyNotFound, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if !acceptsEvent(&e.acct, eventAt) {
		return types.ApplyStale, nil
	}
	if old := e.acct.BillingSubscriptionRef; old != nil {
		delete(s.bySub, *old)
	}
	s.applyGrant(&e.acct, grant, eventAt)
	e.acct.BillingCustomerRef = optional(refs.CustomerRef)
	e.acct.BillingSubscriptionRef = optional(refs.SubscriptionRef)
	if refs.SubscriptionRef != "" {
		s.bySub[refs.SubscriptionRef] = accountID
	}
	return types.ApplyApplied, nil
}

func (s *Store) ResetGrant(_ context.Context, subscriptionRef string, grant types.Grant, eventAt time.Time) (types.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySub[subscriptionRef]
	if !ok {
		return types.ApplyNotFound, nil
	}
	e := s.accounts[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	if !acceptsEvent(&e.acct, eventAt) {
		return types.ApplyStale, nil
	}
	s.applyGrant(&e.acct, grant, eventAt)
	return types.ApplyApplied, nil
}

func (s *Store) CancelSubscription(_ context.Context, subscriptionRef string, grant types.Grant, eventAt time.Time) (types.ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySub[subscriptionRef]
	if !ok {
		return types.ApplyNotFound, nil
	}
	e := s.accounts[id]
	e.mu.Lock()
	defer e.mu.Unlock()

	if !acceptsEvent(&e.acct, eventAt) {
		return types.ApplyStale, nil
	}
	s.applyGrant(&e.acct, grant, eventAt)
	e.acct.BillingCustomerRef = nil
	e.acct.BillingSubscriptionRef = nil
	delete(s.bySub, subscriptionRef)
	return types.ApplyApplied, nil
}

func (s *Store) applyGrant(a *types.Account, grant types.Grant, eventAt time.Time) {
	at := eventAt.UTC()
	a.Credits = grant.Credits
	a.Tier = grant.Tier
	a.Status = types.AccountStatusActive
	a.LastBillingEventAt = &at
	a.UpdatedAt = s.now().UTC()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Claim records eventID unless it is already present.
func (s *Store) Claim(_ context.Context, eventID, eventType string) (bool, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	if _, seen := s.events[eventID]; seen {
		return false, nil
	}
	s.events[eventID] = eventMarker{eventType: eventType, processedAt: s.now().UTC()}
	return true, nil
}

func (s *Store) Release(_ context.Context, eventID string) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	delete(s.events, eventID)
	return nil
}

func (s *Store) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	var n int64
	for id, m := range s.events {
		if m.processedAt.Before(cutoff) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Record(_ context.Context, rec types.GenerationRecord) error {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()
	s.history[rec.UserID] = append(s.history[rec.UserID], rec)
	return nil
}

// ListByUser returns up to limit records, newest first.
func (s *Store) ListByUser(_ context.Context, userID string, limit int) ([]types.GenerationRecord, error) {
	s.historyMu.RLock()
	recs := append([]types.GenerationRecord(nil), s.history[userID]...)
	s.historyMu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if limit >= 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}
