// Package handlers contains the HTTP handlers for the copyforge API.
//
// Each handler declares the narrow service interfaces it needs, takes them in
// its constructor and mounts its endpoints in RegisterRoutes. Authentication,
// rate limiting and error envelopes come from the core chassis.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"copyforge/internal/core"
	"copyforge/internal/generation"
	"copyforge/internal/types"
)

// CreditGate debits one credit before a generation and settles afterwards.
type CreditGate interface {
	Reserve(ctx context.Context, userID string) (types.Reservation, error)
	Settle(ctx context.Context, res types.Reservation, genErr error) bool
}

// HistoryRecorder stores a successful generation.
type HistoryRecorder interface {
	Record(ctx context.Context, rec types.GenerationRecord) error
}

// GenerateResponse is the success body of POST /v1/generate.
type GenerateResponse struct {
	Content          string `json:"content"`
	CreditsRemaining int    `json:"creditsRemaining"`
}

// GenerateHandler serves POST /v1/generate.
type GenerateHandler struct {
	gate      CreditGate
	generator generation.Generator
	history   HistoryRecorder
	validator *core.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewGenerateHandler wires the handler. history may be nil to disable
// generation history.
func NewGenerateHandler(
	gate CreditGate,
	generator generation.Generator,
	history HistoryRecorder,
	v *core.Validator,
	l *slog.Logger,
) *GenerateHandler {
	if l == nil {
		l = slog.Default()
	}
	return &GenerateHandler{
		gate:      gate,
		generator: generator,
		history:   history,
		validator: v,
		logger:    l,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/generate", h.Generate)
}

// Generate validates the request, reserves a credit, calls the generator and
// returns the content with the remaining balance.
//
// Validation happens before the reservation, so a rejected request costs
// nothing. Once the credit is reserved a generator failure still consumes it
// unless the gate is configured to refund.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := types.LoggerFromContext(ctx, h.logger)

	actor, ok := types.GetActor(ctx)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req generation.Request
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := generation.Validate(h.validator, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.gate.Reserve(ctx, actor.ID)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeCreditsInsufficient {
			log.InfoContext(ctx, "generation refused, no credits left")
		}
		core.Error(w, r, err)
		return
	}

	content, genErr := h.generator.Generate(ctx, req)
	refunded := h.gate.Settle(ctx, res, genErr)
	if genErr != nil {
		log.ErrorContext(ctx, "generation failed",
			"content_type", req.ContentType,
			"credit_refunded", refunded,
			"error", genErr,
		)
		var appErr *types.AppError
		if !errors.As(genErr, &appErr) {
			appErr = types.NewAppError(types.ErrCodeGenerationFailed, "content generation failed", genErr)
		}
		core.Error(w, r, appErr.WithDetails(map[string]any{"creditRefunded": refunded}))
		return
	}

	h.recordHistory(ctx, log, actor.ID, req, content)

	core.JSON(w, r, http.StatusOK, GenerateResponse{
		Content:          content,
		CreditsRemaining: res.CreditsRemaining,
	})
}

// recordHistory is best effort: a failure is logged and the user still gets
// the content they paid for.
func (h *GenerateHandler) recordHistory(ctx context.Context, log *slog.Logger, userID string, req generation.Request, content string) {
	if h.history == nil {
		return
	}
	rec := types.GenerationRecord{
		ID:               uuid.NewString(),
		UserID:           userID,
		ContentType:      req.ContentType,
		Prompt:           req.Summary(),
		GeneratedContent: content,
		CreatedAt:        h.now(),
	}
	if err := h.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.WarnContext(ctx, "failed to record generation history", "error", err)
	}
}
