package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jkubiena/Weddinko/app/models"
	"github.com/jkubiena/Weddinko/internal/pkg/env"
	"gorm.io/gorm"
)

const defaultRedirectAPITimeout = 10 * time.Second

// orderRefPrefix tags the order reference we attach at checkout so the
// account id can be read back from the provider's status response.
const orderRefPrefix = "WEDDINKO"

// RedirectProviderClient talks to the redirect/recurring-mandate provider's
// status-query API. Its webhooks carry only an opaque payment id, so every
// notification requires a synchronous lookup before it can be normalized.
type RedirectProviderClient struct {
	APIBaseURL string
	APIToken   string

	HTTPClient *http.Client
}

func NewRedirectProviderClientFromEnv() *RedirectProviderClient {
	timeout := defaultRedirectAPITimeout
	if raw := strings.TrimSpace(env.GetEnv("REDIRECT_API_TIMEOUT_SECONDS", "")); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	return &RedirectProviderClient{
		APIBaseURL: strings.TrimRight(env.GetEnv("REDIRECT_API_BASE_URL", ""), "/"),
		APIToken:   strings.TrimSpace(env.GetEnv("REDIRECT_API_TOKEN", "")),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RedirectPaymentStatus is the provider's view of one payment.
type RedirectPaymentStatus struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	OrderRef string `json:"order_ref"`
	ParentID string `json:"parent_id"`
}

// GetPaymentStatus fetches the current state of a payment. Network failures
// and non-2xx responses surface as ErrProviderUnavailable so the webhook
// endpoint answers retryable instead of guessing.
func (c *RedirectProviderClient) GetPaymentStatus(ctx context.Context, paymentID string) (*RedirectPaymentStatus, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return nil, errors.New("REDIRECT_API_BASE_URL is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status lookup failed: status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var out RedirectPaymentStatus
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: invalid status response: %v", ErrProviderUnavailable, err)
	}
	if strings.TrimSpace(out.ID) == "" {
		out.ID = id
	}
	return &out, nil
}

// PaymentLookup is the slice of the ledger the redirect normalizer needs to
// resolve a recurring charge to its originating mandate.
type PaymentLookup interface {
	FindPaymentByProviderRef(provider, providerPaymentRef string) (*models.PaymentRecord, error)
}

// RedirectNormalizer turns a redirect-provider notification (just an id, plus
// an optional parent id for recurring charges) into a canonical PaymentEvent.
type RedirectNormalizer struct {
	client *RedirectProviderClient
	ledger PaymentLookup
}

func NewRedirectNormalizer(client *RedirectProviderClient, ledger PaymentLookup) *RedirectNormalizer {
	return &RedirectNormalizer{client: client, ledger: ledger}
}

// Normalize fetches the payment state from the provider and resolves the
// account. Recurring charges resolve through the parent PaymentRecord; a
// missing parent is a hard, distinct verification failure rather than a
// silent retry, so delayed-parent orderings stay visible to operators.
func (n *RedirectNormalizer) Normalize(ctx context.Context, paymentID, parentPaymentID string) (*PaymentEvent, error) {
	status, err := n.client.GetPaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	ev := &PaymentEvent{
		Provider:           models.PaymentProviderRedirect,
		ProviderEventID:    "pay:" + strings.TrimSpace(status.ID),
		EventType:          strings.ToUpper(strings.TrimSpace(status.State)),
		ProviderPaymentRef: strings.TrimSpace(status.ID),
		Amount:             status.Amount,
		Currency:           strings.ToUpper(strings.TrimSpace(status.Currency)),
		RawProviderState:   strings.TrimSpace(status.State),
	}

	mapped, ok := mapRedirectState(status.State)
	if !ok {
		ev.Kind = EventKindNoOp
		return ev, nil
	}
	ev.Kind = EventKindPayment
	ev.Status = mapped

	parentRef := strings.TrimSpace(parentPaymentID)
	if parentRef == "" {
		parentRef = strings.TrimSpace(status.ParentID)
	}

	if parentRef != "" {
		// Recurring charge: the account comes from the originating mandate.
		parent, err := n.ledger.FindPaymentByProviderRef(models.PaymentProviderRedirect, parentRef)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, newUnresolvableAccountError(
					fmt.Sprintf("parent payment %q not found in ledger", parentRef), err)
			}
			return nil, err
		}
		ev.ParentProviderPaymentRef = parentRef
		ev.AccountID = parent.AccountID
		ev.Plan = parent.Plan
		if ev.Currency == "" {
			ev.Currency = parent.Currency
		}
		return ev, nil
	}

	accountID, plan, ok := parseOrderRef(status.OrderRef)
	if !ok {
		return nil, newUnresolvableAccountError(
			fmt.Sprintf("order ref %q does not resolve to an account", status.OrderRef), nil)
	}
	ev.AccountID = accountID
	ev.Plan = plan
	return ev, nil
}

func mapRedirectState(state string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "PAID":
		return models.PaymentStatusSucceeded, true
	case "CANCELED", "TIMEOUTED":
		return models.PaymentStatusFailed, true
	case "REFUNDED", "PARTIALLY_REFUNDED":
		return models.PaymentStatusRefunded, true
	default:
		// CREATED, PAYMENT_METHOD_CHOSEN and friends are not business-relevant yet.
		return "", false
	}
}

// parseOrderRef reads back the "WEDDINKO|<account>|<plan>" reference attached
// to the payment at checkout time.
func parseOrderRef(orderRef string) (accountID, plan string, ok bool) {
	parts := strings.Split(strings.TrimSpace(orderRef), "|")
	if len(parts) != 3 || parts[0] != orderRefPrefix {
		return "", "", false
	}
	accountID = strings.TrimSpace(parts[1])
	plan = strings.TrimSpace(parts[2])
	if accountID == "" {
		return "", "", false
	}
	return accountID, plan, true
}
