package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"copyforge/internal/billing"
	"copyforge/internal/types"
)

// AccountRepo is the Postgres ledger. Every mutation is a single conditional
// statement, so per-account serialization comes from the row lock Postgres
// takes for the UPDATE; nothing is held across calls.
type AccountRepo struct {
	db  DBTX
	now func() time.Time
}

func NewAccountRepo(db DBTX) *AccountRepo {
	return &AccountRepo{db: db, now: time.Now}
}

const accountColumns = `id, email, credits, tier, status, billing_customer_ref,
	billing_subscription_ref, last_billing_event_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.Credits,
		&a.Tier,
		&a.Status,
		&a.BillingCustomerRef,
		&a.BillingSubscriptionRef,
		&a.LastBillingEventAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureAccount returns the account for id, creating it with the free-tier
// grant on first access.
//
// When two first calls race, the loser's INSERT skips on conflict and its
// outer SELECT still reads the pre-insert snapshot, so it sees no row. A
// second statement takes a fresh snapshot and finds the winner's row.
func (r *AccountRepo) EnsureAccount(ctx context.Context, id, email string) (*types.Account, error) {
	grant := billing.FreeTierGrant()
	row := r.db.QueryRow(ctx,
		`WITH ins AS (
			INSERT INTO accounts (id, email, credits, tier, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
			RETURNING `+accountColumns+`
		)
		SELECT `+accountColumns+` FROM ins
		UNION ALL
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
		LIMIT 1`,
		id, email, grant.Credits, grant.Tier, types.AccountStatusActive,
	)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		a, err = scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to ensure account", err)
	}
	return a, nil
}

// GetAccount returns not_found_account when no row exists.
func (r *AccountRepo) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve account", err)
	}
	return a, nil
}

// FindBySubscriptionRef resolves the account holding subscriptionRef.
func (r *AccountRepo) FindBySubscriptionRef(ctx context.Context, subscriptionRef string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE billing_subscription_ref = $1`,
		subscriptionRef,
	)

	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "no account holds this subscription", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve subscription", err)
	}
	return a, nil
}

// Reserve debits one credit in a single statement. The WHERE clause is the
// balance check, so two concurrent reservations against one remaining credit
// cannot both match. Unlimited accounts match and keep -1.
func (r *AccountRepo) Reserve(ctx context.Context, accountID string) (types.Reservation, error) {
	var (
		credits int
		epoch   *time.Time
	)
	err := r.db.QueryRow(ctx,
		`UPDATE accounts
		 SET credits = CASE WHEN credits = -1 THEN -1 ELSE credits - 1 END,
		     updated_at = now()
		 WHERE id = $1 AND (credits > 0 OR credits = -1)
		 RETURNING credits, last_billing_event_at`,
		accountID,
	).Scan(&credits, &epoch)

	if err == nil {
		return types.Reservation{
			Token:            uuid.NewString(),
			AccountID:        accountID,
			CreditsRemaining: credits,
			Unlimited:        credits == types.UnlimitedCredits,
			ReservedAt:       r.now().UTC(),
			BillingEpoch:     epoch,
		}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return types.Reservation{}, types.NewAppError(types.ErrCodeInternalDB, "failed to reserve credit", err)
	}

	// No row matched: either the account is missing or its balance is zero.
	exists, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID)
	if err != nil {
		return types.Reservation{}, err
	}
	if !exists {
		return types.Reservation{}, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return types.Reservation{}, types.NewAppError(types.ErrCodeCreditsInsufficient, "no credits remaining", nil)
}

// Refund returns the credit taken by res. It only applies while no billing
// event has touched the account since the reservation; a grant applied in
// between already set an absolute balance.
func (r *AccountRepo) Refund(ctx context.Context, res types.Reservation) (bool, error) {
	if res.Unlimited {
		return false, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET credits = credits + 1, updated_at = now()
		 WHERE id = $1
		   AND credits >= 0
		   AND last_billing_event_at IS NOT DISTINCT FROM $2`,
		res.AccountID, res.BillingEpoch,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to refund credit", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ActivateSubscription applies a checkout grant and attaches billing refs.
func (r *AccountRepo) ActivateSubscription(ctx context.Context, accountID string, grant types.Grant, refs types.BillingRefs, eventAt time.Time) (types.ApplyResult, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET credits = $2, tier = $3, status = $4,
		     billing_customer_ref = $5, billing_subscription_ref = $6,
		     last_billing_event_at = $7, updated_at = now()
		 WHERE id = $1
		   AND (last_billing_event_at IS NULL OR last_billing_event_at <= $7)`,
		accountID, grant.Credits, grant.Tier, types.AccountStatusActive,
		nullIfEmpty(refs.CustomerRef), nullIfEmpty(refs.SubscriptionRef), eventAt.UTC(),
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to activate subscription", err)
	}
	if tag.RowsAffected() > 0 {
		return types.ApplyApplied, nil
	}
	return r.classifyMiss(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID)
}

// ResetGrant re-applies a plan grant to the account holding subscriptionRef.
// Unused credits do not roll over.
func (r *AccountRepo) ResetGrant(ctx context.Context, subscriptionRef string, grant types.Grant, eventAt time.Time) (types.ApplyResult, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET credits = $2, tier = $3, status = $4,
		     last_billing_event_at = $5, updated_at = now()
		 WHERE billing_subscription_ref = $1
		   AND (last_billing_event_at IS NULL OR last_billing_event_at <= $5)`,
		subscriptionRef, grant.Credits, grant.Tier, types.AccountStatusActive, eventAt.UTC(),
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to reset grant", err)
	}
	if tag.RowsAffected() > 0 {
		return types.ApplyApplied, nil
	}
	return r.classifyMiss(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE billing_subscription_ref = $1)`, subscriptionRef)
}

// CancelSubscription applies grant (the cancellation grant) and detaches the
// billing refs so the free-tier invariant holds.
func (r *AccountRepo) CancelSubscription(ctx context.Context, subscriptionRef string, grant types.Grant, eventAt time.Time) (types.ApplyResult, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET credits = $2, tier = $3, status = $4,
		     billing_customer_ref = NULL, billing_subscription_ref = NULL,
		     last_billing_event_at = $5, updated_at = now()
		 WHERE billing_subscription_ref = $1
		   AND (last_billing_event_at IS NULL OR last_billing_event_at <= $5)`,
		subscriptionRef, grant.Credits, grant.Tier, types.AccountStatusActive, eventAt.UTC(),
	)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalDB, "failed to cancel subscription", err)
	}
	if tag.RowsAffected() > 0 {
		return types.ApplyApplied, nil
	}
	return r.classifyMiss(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE billing_subscription_ref = $1)`, subscriptionRef)
}

// classifyMiss tells a stale event (row exists, newer event already applied)
// from a missing account after a conditional UPDATE matched nothing.
func (r *AccountRepo) classifyMiss(ctx context.Context, query, key string) (types.ApplyResult, error) {
	exists, err := r.exists(ctx, query, key)
	if err != nil {
		return "", err
	}
	if exists {
		return types.ApplyStale, nil
	}
	return types.ApplyNotFound, nil
}

func (r *AccountRepo) exists(ctx context.Context, query, key string) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check account", err)
	}
	return exists, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
