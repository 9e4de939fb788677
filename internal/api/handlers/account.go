package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"copyforge/internal/core"
	"copyforge/internal/types"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// AccountStore bootstraps and reads ledger accounts.
type AccountStore interface {
	EnsureAccount(ctx context.Context, id, email string) (*types.Account, error)
}

// HistoryReader lists a user's generations, newest first.
type HistoryReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]types.GenerationRecord, error)
}

// AccountResponse is the body of GET /v1/account.
type AccountResponse struct {
	ID              string              `json:"id"`
	Email           string              `json:"email"`
	Credits         int                 `json:"credits"`
	Unlimited       bool                `json:"unlimited"`
	Tier            types.Tier          `json:"tier"`
	Status          types.AccountStatus `json:"status"`
	HasSubscription bool                `json:"hasSubscription"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// GenerationListResponse is the body of GET /v1/account/generations.
type GenerationListResponse struct {
	Data []types.GenerationRecord `json:"data"`
}

// AccountHandler serves the caller's own account.
type AccountHandler struct {
	accounts AccountStore
	history  HistoryReader
	logger   *slog.Logger
}

// NewAccountHandler wires the handler. history may be nil, in which case the
// generations endpoint is not mounted.
func NewAccountHandler(accounts AccountStore, history HistoryReader, l *slog.Logger) *AccountHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AccountHandler{accounts: accounts, history: history, logger: l}
}

func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/account", h.GetAccount)
	if h.history != nil {
		r.Get("/account/generations", h.ListGenerations)
	}
}

// GetAccount returns the caller's account, creating it with the free-tier
// allowance on first access.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	acct, err := h.accounts.EnsureAccount(r.Context(), actor.ID, actor.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, AccountResponse{
		ID:              acct.ID,
		Email:           acct.Email,
		Credits:         acct.Credits,
		Unlimited:       acct.IsUnlimited(),
		Tier:            acct.Tier,
		Status:          acct.Status,
		HasSubscription: acct.HasSubscription(),
		CreatedAt:       acct.CreatedAt,
	})
}

// ListGenerations returns up to ?limit= records (default 20, max 100).
func (h *AccountHandler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	records, err := h.history.ListByUser(r.Context(), actor.ID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if records == nil {
		records = []types.GenerationRecord{}
	}
	core.JSON(w, r, http.StatusOK, GenerationListResponse{Data: records})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidRequest,
			"limit must be a positive integer", err, map[string]any{"field": "limit"})
	}
	return min(n, maxHistoryLimit), nil
}
