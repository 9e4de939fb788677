package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"copyforge/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// ErrSubscriptionNotFound is returned when Stripe has no subscription with
// the requested ID.
var ErrSubscriptionNotFound = errors.New("stripe subscription not found")

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // defaults to https://api.stripe.com
	Logger    *slog.Logger
}

// CheckoutRequest describes one hosted checkout session.
type CheckoutRequest struct {
	UserID     string
	Email      string
	PriceID    string
	SuccessURL string
	CancelURL  string
}

// StripeClient calls the Stripe REST API through BaseClient. It covers the
// two calls copyforge makes: reading a subscription's price and starting a
// checkout session.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient. A nil httpClient gets a 20s timeout.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"copyforge/1.0",
		opts...,
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// PlanForSubscription returns the price ID of the subscription's first item.
// The price ID is the planRef the catalog understands.
func (s *StripeClient) PlanForSubscription(ctx context.Context, subscriptionRef string) (string, error) {
	if subscriptionRef == "" {
		return "", types.NewAppError(types.ErrCodeBillingUnresolvableSubscription, "subscription reference is empty", nil)
	}

	resp, err := s.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), nil)
	if err != nil {
		return "", s.wrapStripeError("PlanForSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", types.NewAppError(types.ErrCodeBillingUnresolvableSubscription,
			fmt.Sprintf("PlanForSubscription: subscription %s not found", subscriptionRef), ErrSubscriptionNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "PlanForSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe subscription response", err)
	}
	if len(sub.Items.Data) == 0 || sub.Items.Data[0].Price.ID == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("PlanForSubscription: subscription %s has no priced items", subscriptionRef), nil)
	}
	return sub.Items.Data[0].Price.ID, nil
}

// CreateCheckoutSession starts a subscription-mode Checkout Session. The
// user ID travels as client_reference_id and metadata so the completion
// webhook can be matched to the account.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (checkoutURL string, sessionID string, err error) {
	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("client_reference_id", req.UserID)
	params.Set("metadata[userId]", req.UserID)
	params.Set("subscription_data[metadata][userId]", req.UserID)
	params.Set("success_url", req.SuccessURL)
	params.Set("cancel_url", req.CancelURL)
	params.Set("line_items[0][price]", req.PriceID)
	params.Set("line_items[0][quantity]", "1")
	if req.Email != "" {
		params.Set("customer_email", req.Email)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe checkout session response", err)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", req.UserID,
		"session_id", session.ID,
	)
	return session.URL, session.ID, nil
}

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

// doPost sends a form-encoded POST. Every call carries a fresh
// Idempotency-Key, so BaseClient retries cannot create a second object.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode), readErr)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode), jsonErr)
	}
	return mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

func mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation), nil)
	case statusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("%s: Stripe server error: %s", operation, stripeErr.Message), nil)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
			map[string]any{"stripe_code": stripeErr.Code, "stripe_param": stripeErr.Param},
		)
	}
}

// wrapStripeError passes BaseClient AppErrors through and wraps anything else
// (request construction, context cancellation) as a Stripe failure.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err), err)
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Items  struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}
