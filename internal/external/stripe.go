package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"flightdeck/internal/billing"
	"flightdeck/internal/types"
)

// stripeAPIBase is the default Stripe API base URL. Tests override it via
// StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// OrgBillingLookup is the minimal data access StripeClient needs to resolve
// an organization into its Stripe customer. Implemented by
// db.OrganizationRepository.
type OrgBillingLookup interface {
	// GetBillingInfo returns the stripe customer ID and billing email.
	// The customer ID is empty when the org exists but has no customer yet.
	GetBillingInfo(ctx context.Context, orgID string) (customerID, billingEmail string, err error)

	// UpdateStripeCustomerID stores the customer reference.
	UpdateStripeCustomerID(ctx context.Context, orgID, customerID string) error
}

// StripeClientConfig configures a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // override for tests; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements BillingService with direct HTTP calls to the
// Stripe REST API through BaseClient, so every request inherits the
// platform's circuit breaker, retries, and error mapping, and tests can use
// httptest servers instead of provider mocks.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	orgLookup OrgBillingLookup
	catalog   billing.Catalog
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient. The httpClient carries the
// configured billing API timeout.
func NewStripeClient(
	httpClient *http.Client,
	orgLookup OrgBillingLookup,
	catalog billing.Catalog,
	cfg StripeClientConfig,
) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Flightdeck/1.0",
	)
	return newStripeClient(base, orgLookup, catalog, cfg)
}

// NewStripeClientWithBase creates a StripeClient on a caller-provided
// BaseClient. Used by tests to control retry and breaker behavior.
func NewStripeClientWithBase(
	base *BaseClient,
	orgLookup OrgBillingLookup,
	catalog billing.Catalog,
	cfg StripeClientConfig,
) *StripeClient {
	return newStripeClient(base, orgLookup, catalog, cfg)
}

func newStripeClient(
	base *BaseClient,
	orgLookup OrgBillingLookup,
	catalog billing.Catalog,
	cfg StripeClientConfig,
) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		orgLookup: orgLookup,
		catalog:   catalog,
		logger:    logger,
	}
}

// EnsureCustomer retrieves or creates the Stripe customer for the org.
// Search-first to prevent duplicate customers:
//  1. Search by metadata['org_id'].
//  2. Reuse the match if one exists.
//  3. Otherwise create a customer tagged with org_id.
//  4. Store the customer ID locally either way.
func (s *StripeClient) EnsureCustomer(ctx context.Context, orgID, email string) (string, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("metadata['org_id']:'%s'", orgID))

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		s.storeCustomerID(ctx, orgID, customerID)
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[org_id]", orgID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode stripe customer creation response",
			err,
		)
	}

	s.storeCustomerID(ctx, orgID, customer.ID)
	return customer.ID, nil
}

// storeCustomerID persists the customer reference; a DB failure here is
// logged, not fatal, since the customer exists at the provider regardless.
func (s *StripeClient) storeCustomerID(ctx context.Context, orgID, customerID string) {
	if err := s.orgLookup.UpdateStripeCustomerID(ctx, orgID, customerID); err != nil {
		s.logger.WarnContext(ctx, "failed to store stripe customer id",
			"org_id", orgID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreateCheckoutSession generates a hosted Checkout URL for the plan.
// client_reference_id and metadata[org_id] both carry the org ID so webhook
// correlation survives either field.
func (s *StripeClient) CreateCheckoutSession(
	ctx context.Context,
	orgID string,
	plan types.PlanTier,
	urls types.RedirectURLs,
) (string, string, error) {
	priceID := s.catalog.Get(plan).StripePriceID
	if priceID == "" {
		return "", "", types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("plan %s is not purchasable", plan),
			nil,
		)
	}

	customerID, err := s.resolveCustomerID(ctx, orgID)
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "subscription")
	params.Set("client_reference_id", orgID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set("metadata[org_id]", orgID)
	params.Set("metadata[plan]", string(plan))
	params.Set("subscription_data[metadata][org_id]", orgID)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

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
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode stripe checkout session response",
			err,
		)
	}
	return session.URL, session.ID, nil
}

// CreatePortalSession generates a hosted billing-portal URL.
func (s *StripeClient) CreatePortalSession(ctx context.Context, orgID, returnURL string) (string, error) {
	customerID, err := s.resolveCustomerID(ctx, orgID)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode stripe portal session response",
			err,
		)
	}
	return session.URL, nil
}

// GetSubscription returns the provider's current view of the organization's
// subscription. An org with no provider subscription maps to the free tier.
func (s *StripeClient) GetSubscription(ctx context.Context, orgID string) (*types.SubscriptionDetails, error) {
	customerID, err := s.resolveCustomerID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/subscriptions", params)
	if err != nil {
		return nil, s.wrapStripeError("GetSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscription")
	}

	var listResp stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		return nil, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode stripe subscriptions response",
			err,
		)
	}

	if len(listResp.Data) == 0 {
		return &types.SubscriptionDetails{
			Plan:   types.PlanFree,
			Status: types.SubStatusNone,
		}, nil
	}
	return s.mapSubscription(&listResp.Data[0]), nil
}

// CancelSubscription cancels the subscription at the provider. Immediate
// cancellation deletes the subscription outright; deferred cancellation
// flags cancel_at_period_end so access runs out with the paid period.
func (s *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) error {
	path := "/v1/subscriptions/" + subscriptionID

	var resp *http.Response
	var err error
	if immediate {
		resp, err = s.doDelete(ctx, path)
	} else {
		params := url.Values{}
		params.Set("cancel_at_period_end", "true")
		resp, err = s.doPost(ctx, path, params)
	}
	if err != nil {
		return s.wrapStripeError("CancelSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "CancelSubscription")
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

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

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) doDelete(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// resolveCustomerID fetches the stored Stripe customer ID for the org.
func (s *StripeClient) resolveCustomerID(ctx context.Context, orgID string) (string, error) {
	customerID, _, err := s.orgLookup.GetBillingInfo(ctx, orgID)
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", types.NewAppError(
			types.ErrCodeBillingNoSubscription,
			fmt.Sprintf("organization %s has no stripe customer; call EnsureCustomer first", orgID),
			nil,
		)
	}
	return customerID, nil
}

// ---------------------------------------------------------------------------
// Error handling
// ---------------------------------------------------------------------------

// stripeErrorResponse is the JSON error envelope the Stripe API returns.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error body and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: stripe returned status %d with unreadable body", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}
	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	if stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "" {
		return types.NewAppErrorWithDetails(
			types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, stripeErr.Message),
			nil,
			map[string]any{
				"decline_code": stripeErr.DeclineCode,
				"stripe_code":  stripeErr.Code,
			},
		)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: stripe rate limit exceeded", operation),
			nil,
		)
	case statusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: stripe server error: %s", operation, stripeErr.Message),
			nil,
		)
	case statusCode == http.StatusNotFound:
		return types.NewAppError(
			types.ErrCodeNotFoundOrg,
			fmt.Sprintf("%s: stripe resource not found: %s", operation, stripeErr.Message),
			nil,
		)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: stripe error (%d): %s", operation, statusCode, stripeErr.Message),
			nil,
		)
	}
}

// wrapStripeError adds operation context to a transport failure. AppErrors
// from BaseClient pass through unchanged; their codes are already right.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: stripe request failed: %v", operation, err),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe response types
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSearchResult struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeSubscription struct {
	ID                 string                  `json:"id"`
	Status             string                  `json:"status"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end"`
	CurrentPeriodStart int64                   `json:"current_period_start"`
	CurrentPeriodEnd   int64                   `json:"current_period_end"`
	Items              stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeSubscriptionList struct {
	Data    []stripeSubscription `json:"data"`
	HasMore bool                 `json:"has_more"`
}

// mapSubscription converts a Stripe subscription into the domain view. The
// plan comes from the price ID via the catalog; an unrecognized price maps
// to free, same as the reconciler.
func (s *StripeClient) mapSubscription(sub *stripeSubscription) *types.SubscriptionDetails {
	details := &types.SubscriptionDetails{
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}

	if mapped, ok := types.MapStripeStatus(sub.Status); ok {
		details.Status = mapped
	} else {
		details.Status = types.SubStatusNone
	}

	if len(sub.Items.Data) > 0 {
		plan, _ := s.catalog.ResolveByPriceID(sub.Items.Data[0].Price.ID)
		details.Plan = plan
	} else {
		details.Plan = types.PlanFree
	}
	return details
}

// ---------------------------------------------------------------------------
// Webhook verification
// ---------------------------------------------------------------------------

// StripeVerifier implements WebhookVerifier with stripe-go's signature
// check: HMAC-SHA256 over the raw payload plus timestamp tolerance.
type StripeVerifier struct{}

// Verify validates the payload against the Stripe-Signature header.
func (v *StripeVerifier) Verify(payload []byte, header, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
