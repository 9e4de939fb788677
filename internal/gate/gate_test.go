package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"copyforge/internal/store/memory"
	"copyforge/internal/types"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) Reserve(ctx context.Context, accountID string) (types.Reservation, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(types.Reservation), args.Error(1)
}

func (m *mockLedger) Refund(ctx context.Context, res types.Reservation) (bool, error) {
	args := m.Called(ctx, res)
	return args.Bool(0), args.Error(1)
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []types.ReservationOutcome
}

func (r *recordingMetrics) RecordReservation(o types.ReservationOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func TestReserve_PassesThroughAndRecords(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		res     types.Reservation
		err     error
		outcome types.ReservationOutcome
	}{
		{"granted", types.Reservation{Token: "t1", CreditsRemaining: 4}, nil, types.ReservationGranted},
		{"unlimited", types.Reservation{Token: "t2", CreditsRemaining: -1, Unlimited: true}, nil, types.ReservationUnlimited},
		{"insufficient", types.Reservation{}, types.NewAppError(types.ErrCodeCreditsInsufficient, "none", nil), types.ReservationInsufficient},
		{"not found", types.Reservation{}, types.NewAppError(types.ErrCodeNotFoundAccount, "none", nil), types.ReservationNotFound},
		{"db error", types.Reservation{}, types.NewAppError(types.ErrCodeInternalDB, "boom", errors.New("x")), types.ReservationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := new(mockLedger)
			metrics := &recordingMetrics{}
			ledger.On("Reserve", ctx, "user_1").Return(tt.res, tt.err)

			g := New(ledger, WithMetrics(metrics))
			got, err := g.Reserve(ctx, "user_1")

			if tt.err != nil {
				assert.Equal(t, types.CodeOf(tt.err), types.CodeOf(err))
				assert.Empty(t, got.Token)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.res, got)
			}
			assert.Equal(t, []types.ReservationOutcome{tt.outcome}, metrics.outcomes)
		})
	}
}

func TestSettle_DefaultNeverRefunds(t *testing.T) {
	ledger := new(mockLedger)
	g := New(ledger)

	refunded := g.Settle(context.Background(), types.Reservation{Token: "t", AccountID: "user_1"}, errors.New("timeout"))
	assert.False(t, refunded)
	ledger.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestSettle_SuccessNeverRefunds(t *testing.T) {
	ledger := new(mockLedger)
	g := New(ledger, WithRefundOnFailure(true))

	assert.False(t, g.Settle(context.Background(), types.Reservation{Token: "t"}, nil))
	ledger.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

func TestSettle_RefundEnabled(t *testing.T) {
	ctx := context.Background()
	res := types.Reservation{Token: "t", AccountID: "user_1", CreditsRemaining: 2}

	ledger := new(mockLedger)
	metrics := &recordingMetrics{}
	ledger.On("Refund", ctx, res).Return(true, nil)

	g := New(ledger, WithRefundOnFailure(true), WithMetrics(metrics))
	assert.True(t, g.Settle(ctx, res, errors.New("generation failed")))
	assert.Equal(t, []types.ReservationOutcome{types.ReservationRefunded}, metrics.outcomes)
}

func TestSettle_RefundErrorIsSwallowed(t *testing.T) {
	ctx := context.Background()
	res := types.Reservation{Token: "t", AccountID: "user_1"}

	ledger := new(mockLedger)
	ledger.On("Refund", ctx, res).Return(false, errors.New("db down"))

	g := New(ledger, WithRefundOnFailure(true))
	assert.False(t, g.Settle(ctx, res, errors.New("generation failed")))
}

func TestSettle_UnlimitedNeverRefunds(t *testing.T) {
	ledger := new(mockLedger)
	g := New(ledger, WithRefundOnFailure(true))

	assert.False(t, g.Settle(context.Background(), types.Reservation{Unlimited: true}, errors.New("x")))
	ledger.AssertNotCalled(t, "Refund", mock.Anything, mock.Anything)
}

// The properties below run against the in-memory ledger.

var grantTime = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func memoryGate(t *testing.T, credits int, opts ...Option) (*Gate, *memory.Store) {
	t.Helper()
	store := memory.New()
	_, err := store.EnsureAccount(context.Background(), "user_1", "")
	require.NoError(t, err)

	// Drain or top up to the requested balance through the public API.
	ctx := context.Background()
	switch {
	case credits == types.UnlimitedCredits:
		_, err = store.ActivateSubscription(ctx, "user_1", types.Grant{Credits: -1, Tier: types.TierBusiness},
			types.BillingRefs{SubscriptionRef: "sub_b"}, grantTime)
		require.NoError(t, err)
	case credits > 3:
		_, err = store.ActivateSubscription(ctx, "user_1", types.Grant{Credits: credits, Tier: types.TierStarter},
			types.BillingRefs{SubscriptionRef: "sub_s"}, grantTime)
		require.NoError(t, err)
	default:
		for i := 0; i < 3-credits; i++ {
			_, err = store.Reserve(ctx, "user_1")
			require.NoError(t, err)
		}
	}
	return New(store, opts...), store
}

func TestProperty_ReserveDecrementsByOne(t *testing.T) {
	for _, n := range []int{1, 2, 3, 50} {
		g, store := memoryGate(t, n)
		res, err := g.Reserve(context.Background(), "user_1")
		require.NoError(t, err)
		assert.Equal(t, n-1, res.CreditsRemaining)

		a, _ := store.GetAccount(context.Background(), "user_1")
		assert.Equal(t, n-1, a.Credits)
	}
}

func TestProperty_ZeroIsInsufficient(t *testing.T) {
	g, store := memoryGate(t, 0)
	_, err := g.Reserve(context.Background(), "user_1")
	assert.Equal(t, types.ErrCodeCreditsInsufficient, types.CodeOf(err))

	a, _ := store.GetAccount(context.Background(), "user_1")
	assert.Equal(t, 0, a.Credits)
}

func TestProperty_UnlimitedIsIdempotent(t *testing.T) {
	g, store := memoryGate(t, types.UnlimitedCredits)
	for i := 0; i < 20; i++ {
		res, err := g.Reserve(context.Background(), "user_1")
		require.NoError(t, err)
		assert.True(t, res.Unlimited)
	}
	a, _ := store.GetAccount(context.Background(), "user_1")
	assert.Equal(t, -1, a.Credits)
}

func TestProperty_TwoRacersOneCredit(t *testing.T) {
	for round := 0; round < 25; round++ {
		g, store := memoryGate(t, 1)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		start := make(chan struct{})
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, errs[i] = g.Reserve(context.Background(), "user_1")
			}(i)
		}
		close(start)
		wg.Wait()

		var ok, insufficient int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case types.CodeOf(err) == types.ErrCodeCreditsInsufficient:
				insufficient++
			}
		}
		require.Equal(t, 1, ok)
		require.Equal(t, 1, insufficient)
		a, _ := store.GetAccount(context.Background(), "user_1")
		require.Equal(t, 0, a.Credits)
	}
}

func TestProperty_MissingAccount(t *testing.T) {
	g := New(memory.New())
	_, err := g.Reserve(context.Background(), "nobody")
	assert.Equal(t, types.ErrCodeNotFoundAccount, types.CodeOf(err))
}

func TestProperty_RefundRestoresBalance(t *testing.T) {
	g, store := memoryGate(t, 3, WithRefundOnFailure(true))
	ctx := context.Background()

	res, err := g.Reserve(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, g.Settle(ctx, res, errors.New("upstream 503")))

	a, _ := store.GetAccount(ctx, "user_1")
	assert.Equal(t, 3, a.Credits)
}
