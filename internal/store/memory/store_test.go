package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copyforge/internal/types"
)

var (
	proGrant      = types.Grant{Credits: 500, Tier: types.TierPro}
	businessGrant = types.Grant{Credits: -1, Tier: types.TierBusiness}
	freeGrant     = types.Grant{Credits: 3, Tier: types.TierFree}
)

func seeded(t *testing.T, credits int) (*Store, string) {
	t.Helper()
	s := New()
	_, err := s.EnsureAccount(context.Background(), "user_1", "u@example.com")
	require.NoError(t, err)
	s.accounts["user_1"].acct.Credits = credits
	return s, "user_1"
}

func TestEnsureAccount_Bootstrap(t *testing.T) {
	s := New()
	ctx := context.Background()

	a, err := s.EnsureAccount(ctx, "new_user", "n@example.com")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Credits)
	assert.Equal(t, types.TierFree, a.Tier)
	assert.Equal(t, types.AccountStatusActive, a.Status)

	// Second access does not reset the balance.
	_, err = s.Reserve(ctx, "new_user")
	require.NoError(t, err)
	a, err = s.EnsureAccount(ctx, "new_user", "n@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Credits)
}

func TestGetAccount_NotFound(t *testing.T) {
	_, err := New().GetAccount(context.Background(), "ghost")
	assert.Equal(t, types.ErrCodeNotFoundAccount, types.CodeOf(err))
}

func TestReserve(t *testing.T) {
	ctx := context.Background()

	t.Run("decrements", func(t *testing.T) {
		s, id := seeded(t, 5)
		res, err := s.Reserve(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 4, res.CreditsRemaining)
		assert.NotEmpty(t, res.Token)
	})

	t.Run("zero is insufficient and unchanged", func(t *testing.T) {
		s, id := seeded(t, 0)
		_, err := s.Reserve(ctx, id)
		assert.Equal(t, types.ErrCodeCreditsInsufficient, types.CodeOf(err))
		a, _ := s.GetAccount(ctx, id)
		assert.Equal(t, 0, a.Credits)
	})

	t.Run("unlimited stays unlimited", func(t *testing.T) {
		s, id := seeded(t, -1)
		for i := 0; i < 10; i++ {
			res, err := s.Reserve(ctx, id)
			require.NoError(t, err)
			assert.True(t, res.Unlimited)
		}
		a, _ := s.GetAccount(ctx, id)
		assert.Equal(t, -1, a.Credits)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := New().Reserve(ctx, "ghost")
		assert.Equal(t, types.ErrCodeNotFoundAccount, types.CodeOf(err))
	})
}

func TestReserve_ConcurrentLastCredit(t *testing.T) {
	for round := 0; round < 50; round++ {
		s, id := seeded(t, 1)
		var (
			wg           sync.WaitGroup
			granted      atomic.Int32
			insufficient atomic.Int32
			start        = make(chan struct{})
		)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := s.Reserve(context.Background(), id)
				if err == nil {
					granted.Add(1)
				} else if types.CodeOf(err) == types.ErrCodeCreditsInsufficient {
					insufficient.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), granted.Load())
		require.Equal(t, int32(1), insufficient.Load())
		a, _ := s.GetAccount(context.Background(), id)
		require.Equal(t, 0, a.Credits)
	}
}

func TestReserve_NeverBelowZero(t *testing.T) {
	s, id := seeded(t, 25)
	var wg sync.WaitGroup
	var granted atomic.Int32
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Reserve(context.Background(), id); err == nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), granted.Load())
	a, _ := s.GetAccount(context.Background(), id)
	assert.Equal(t, 0, a.Credits)
}

func TestRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("restores credit", func(t *testing.T) {
		s, id := seeded(t, 2)
		res, err := s.Reserve(ctx, id)
		require.NoError(t, err)
		ok, err := s.Refund(ctx, res)
		require.NoError(t, err)
		assert.True(t, ok)
		a, _ := s.GetAccount(ctx, id)
		assert.Equal(t, 2, a.Credits)
	})

	t.Run("skipped after billing event", func(t *testing.T) {
		s, id := seeded(t, 2)
		res, err := s.Reserve(ctx, id)
		require.NoError(t, err)

		_, err = s.ActivateSubscription(ctx, id, proGrant, types.BillingRefs{SubscriptionRef: "sub_1"}, time.Now())
		require.NoError(t, err)

		ok, err := s.Refund(ctx, res)
		require.NoError(t, err)
		assert.False(t, ok)
		a, _ := s.GetAccount(ctx, id)
		assert.Equal(t, 500, a.Credits)
	})

	t.Run("never for unlimited", func(t *testing.T) {
		s, id := seeded(t, -1)
		res, err := s.Reserve(ctx, id)
		require.NoError(t, err)
		ok, _ := s.Refund(ctx, res)
		assert.False(t, ok)
		a, _ := s.GetAccount(ctx, id)
		assert.Equal(t, -1, a.Credits)
	})
}

func TestBillingLifecycle(t *testing.T) {
	ctx := context.Background()
	s, id := seeded(t, 1)
	t0 := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	got, err := s.ActivateSubscription(ctx, id, proGrant, types.BillingRefs{CustomerRef: "cus_1", SubscriptionRef: "sub_1"}, t0)
	require.NoError(t, err)
	assert.Equal(t, types.ApplyApplied, got)

	a, err := s.FindBySubscriptionRef(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, id, a.ID)
	assert.Equal(t, 500, a.Credits)

	_, err = s.Reserve(ctx, id)
	require.NoError(t, err)

	got, err = s.ResetGrant(ctx, "sub_1", proGrant, t0.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.ApplyApplied, got)
	a, _ = s.GetAccount(ctx, id)
	assert.Equal(t, 500, a.Credits, "renewal resets rather than accumulates")

	// An older renewal arriving late is stale.
	got, err = s.ResetGrant(ctx, "sub_1", businessGrant, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.ApplyStale, got)

	got, err = s.CancelSubscription(ctx, "sub_1", freeGrant, t0.Add(31*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.ApplyApplied, got)

	a, _ = s.GetAccount(ctx, id)
	assert.Equal(t, 3, a.Credits)
	assert.Equal(t, types.TierFree, a.Tier)
	assert.Equal(t, types.AccountStatusActive, a.Status)
	assert.Nil(t, a.BillingCustomerRef)
	assert.Nil(t, a.BillingSubscriptionRef)

	_, err = s.FindBySubscriptionRef(ctx, "sub_1")
	assert.Equal(t, types.ErrCodeNotFoundAccount, types.CodeOf(err))

	got, err = s.ResetGrant(ctx, "sub_1", proGrant, t0.Add(60*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.ApplyNotFound, got)
}

func TestActivateSubscription_MissingAccount(t *testing.T) {
	got, err := New().ActivateSubscription(context.Background(), "ghost", proGrant, types.BillingRefs{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.ApplyNotFound, got)
}

func TestAccountsAreCopies(t *testing.T) {
	s, id := seeded(t, 3)
	ctx := context.Background()
	_, err := s.ActivateSubscription(ctx, id, proGrant, types.BillingRefs{SubscriptionRef: "sub_1"}, time.Now())
	require.NoError(t, err)

	a, _ := s.GetAccount(ctx, id)
	*a.BillingSubscriptionRef = "tampered"
	a.Credits = 1

	b, _ := s.GetAccount(ctx, id)
	assert.Equal(t, "sub_1", *b.BillingSubscriptionRef)
	assert.Equal(t, 500, b.Credits)
}

func TestEventLog(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.Claim(ctx, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, "evt_1", "checkout.session.completed")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Release(ctx, "evt_1"))
	ok, _ = s.Claim(ctx, "evt_1", "checkout.session.completed")
	assert.True(t, ok)

	s.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	_, _ = s.Claim(ctx, "evt_old", "invoice.payment_succeeded")

	n, err := s.PurgeBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ok, _ = s.Claim(ctx, "evt_1", "x")
	assert.False(t, ok, "recent marker survives purge")
}

func TestHistory(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, types.GenerationRecord{
			ID:        string(rune('a' + i)),
			UserID:    "user_1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.Record(ctx, types.GenerationRecord{ID: "other", UserID: "user_2", CreatedAt: base}))

	recs, err := s.ListByUser(ctx, "user_1", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "e", recs[0].ID)
	assert.Equal(t, "c", recs[2].ID)
}
