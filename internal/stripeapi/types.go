package stripeapi

import "fmt"

// Price types as reported by Stripe.
const (
	PriceTypeRecurring = "recurring"
	PriceTypeOneTime   = "one_time"
)

type Recurring struct {
	Interval string `json:"interval"`
}

type Price struct {
	ID         string     `json:"id"`
	Active     bool       `json:"active"`
	Currency   string     `json:"currency"`
	UnitAmount int64      `json:"unit_amount"`
	Type       string     `json:"type"`
	LookupKey  string     `json:"lookup_key"`
	Recurring  *Recurring `json:"recurring"`
}

type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Deleted  bool              `json:"deleted"`
	Metadata map[string]string `json:"metadata"`
}

type CheckoutSession struct {
	ID                string            `json:"id"`
	URL               string            `json:"url"`
	Mode              string            `json:"mode"`
	PaymentStatus     string            `json:"payment_status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type SubscriptionItem struct {
	Price Price `json:"price"`
}

type Subscription struct {
	ID                 string            `json:"id"`
	Customer           string            `json:"customer"`
	Status             string            `json:"status"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

// Error is a non-2xx response from the Stripe API.
type Error struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("stripe: %d %s (%s)", e.StatusCode, e.Message, e.Code)
}

// CallerFault reports whether the failure was caused by the shape of the
// caller's request rather than our integration or Stripe itself.
func (e *Error) CallerFault() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 401 && e.StatusCode != 403
}
