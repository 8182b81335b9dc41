package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type BillingCustomer struct {
	UserID           string
	Email            string
	StripeCustomerID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Entitlement is the single current access grant for a user. One logical row
// per user; every write is an upsert keyed by user_id.
type Entitlement struct {
	UserID               string
	StripeCustomerID     sql.NullString
	StripeSubscriptionID sql.NullString
	Status               string
	PriceID              sql.NullString
	PlanCode             sql.NullString
	CurrentPeriodStart   sql.NullTime
	CurrentPeriodEnd     sql.NullTime
	CancelAtPeriodEnd    bool
	UpdatedAt            time.Time
}

type Plan struct {
	PlanCode      string
	Name          string
	StripePriceID string
	Mode          string
	DurationDays  sql.NullInt64
}

type WebhookEvent struct {
	Provider        string
	ExternalEventID string
	EventType       string
	Status          string
	Error           string
	ReceivedAt      time.Time
	ProcessedAt     sql.NullTime
}

func (s *Store) UpsertBillingCustomer(ctx context.Context, customer BillingCustomer) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO billing_customers (user_id, email, stripe_customer_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET email = EXCLUDED.email, stripe_customer_id = EXCLUDED.stripe_customer_id, updated_at = now()`,
		customer.UserID, customer.Email, customer.StripeCustomerID)
	return err
}

func (s *Store) GetBillingCustomer(ctx context.Context, userID string) (BillingCustomer, error) {
	var c BillingCustomer
	row := s.db.QueryRowContext(ctx, `SELECT user_id, email, stripe_customer_id, created_at, updated_at
		FROM billing_customers WHERE user_id = $1`, userID)
	err := row.Scan(&c.UserID, &c.Email, &c.StripeCustomerID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) FindUserByStripeCustomer(ctx context.Context, customerID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT user_id FROM billing_customers WHERE stripe_customer_id = $1`, customerID)
	var userID string
	if err := row.Scan(&userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Store) ListBillingCustomers(ctx context.Context) ([]BillingCustomer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, email, stripe_customer_id, created_at, updated_at
		FROM billing_customers ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []BillingCustomer
	for rows.Next() {
		var c BillingCustomer
		if err := rows.Scan(&c.UserID, &c.Email, &c.StripeCustomerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) UpsertEntitlement(ctx context.Context, ent Entitlement) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO entitlements
		(user_id, stripe_customer_id, stripe_subscription_id, status, price_id, plan_code, current_period_start, current_period_end, cancel_at_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			status = EXCLUDED.status,
			price_id = EXCLUDED.price_id,
			plan_code = EXCLUDED.plan_code,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = now()`,
		ent.UserID, ent.StripeCustomerID, ent.StripeSubscriptionID, ent.Status, ent.PriceID, ent.PlanCode,
		ent.CurrentPeriodStart, ent.CurrentPeriodEnd, ent.CancelAtPeriodEnd)
	return err
}

// EnsureEntitlementStub creates a pending row for a user who has never been
// through billing. Existing rows are left untouched.
func (s *Store) EnsureEntitlementStub(ctx context.Context, userID, customerID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO entitlements (user_id, stripe_customer_id, status, updated_at)
		VALUES ($1, $2, 'not_started', now())
		ON CONFLICT (user_id) DO NOTHING`, userID, customerID)
	return err
}

func (s *Store) GetEntitlement(ctx context.Context, userID string) (Entitlement, error) {
	var ent Entitlement
	row := s.db.QueryRowContext(ctx, `SELECT user_id, stripe_customer_id, stripe_subscription_id, status, price_id, plan_code,
		current_period_start, current_period_end, cancel_at_period_end, updated_at
		FROM entitlements WHERE user_id = $1`, userID)
	err := row.Scan(&ent.UserID, &ent.StripeCustomerID, &ent.StripeSubscriptionID, &ent.Status, &ent.PriceID, &ent.PlanCode,
		&ent.CurrentPeriodStart, &ent.CurrentPeriodEnd, &ent.CancelAtPeriodEnd, &ent.UpdatedAt)
	return ent, err
}

// ListLapsedOneTimeEntitlements returns active one-time grants whose access
// window has closed. One-time grants carry no subscription id.
func (s *Store) ListLapsedOneTimeEntitlements(ctx context.Context, now time.Time) ([]Entitlement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, stripe_customer_id, stripe_subscription_id, status, price_id, plan_code,
		current_period_start, current_period_end, cancel_at_period_end, updated_at
		FROM entitlements
		WHERE stripe_subscription_id IS NULL AND status = 'active' AND current_period_end IS NOT NULL AND current_period_end < $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ents []Entitlement
	for rows.Next() {
		var ent Entitlement
		if err := rows.Scan(&ent.UserID, &ent.StripeCustomerID, &ent.StripeSubscriptionID, &ent.Status, &ent.PriceID, &ent.PlanCode,
			&ent.CurrentPeriodStart, &ent.CurrentPeriodEnd, &ent.CancelAtPeriodEnd, &ent.UpdatedAt); err != nil {
			return nil, err
		}
		ents = append(ents, ent)
	}
	return ents, rows.Err()
}

func (s *Store) SetEntitlementStatus(ctx context.Context, userID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE entitlements SET status = $2, updated_at = now() WHERE user_id = $1`, userID, status)
	return err
}

func (s *Store) GetPlanByPriceID(ctx context.Context, priceID string) (Plan, error) {
	var p Plan
	row := s.db.QueryRowContext(ctx, `SELECT plan_code, name, stripe_price_id, mode, duration_days FROM plans WHERE stripe_price_id = $1`, priceID)
	err := row.Scan(&p.PlanCode, &p.Name, &p.StripePriceID, &p.Mode, &p.DurationDays)
	return p, err
}

func (s *Store) ListPlans(ctx context.Context) ([]Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT plan_code, name, stripe_price_id, mode, duration_days FROM plans ORDER BY plan_code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.PlanCode, &p.Name, &p.StripePriceID, &p.Mode, &p.DurationDays); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// InsertWebhookEventIfAbsent records a delivery attempt. Returns whether a
// new row was written and, if not, the status of the existing row so replays
// of processed events can be acknowledged without reprocessing.
func (s *Store) InsertWebhookEventIfAbsent(ctx context.Context, provider, eventID, eventType, payloadHash string) (bool, string, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO webhook_events (provider, external_event_id, event_type, payload_hash, status)
		VALUES ($1, $2, $3, $4, 'received')
		ON CONFLICT (provider, external_event_id) DO NOTHING`, provider, eventID, eventType, payloadHash)
	if err != nil {
		return false, "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if affected > 0 {
		return true, "", nil
	}

	row := s.db.QueryRowContext(ctx, `SELECT status FROM webhook_events WHERE provider = $1 AND external_event_id = $2`, provider, eventID)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, "", nil
		}
		return false, "", err
	}
	return false, status, nil
}

func (s *Store) UpdateWebhookEventStatus(ctx context.Context, provider, eventID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_events SET status = $3, error = $4, processed_at = now()
		WHERE provider = $1 AND external_event_id = $2`, provider, eventID, status, errMsg)
	return err
}

func (s *Store) ListWebhookEvents(ctx context.Context, status string, limit int) ([]WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT provider, external_event_id, event_type, status, error, received_at, processed_at FROM webhook_events`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY received_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []WebhookEvent
	for rows.Next() {
		var ev WebhookEvent
		if err := rows.Scan(&ev.Provider, &ev.ExternalEventID, &ev.EventType, &ev.Status, &ev.Error, &ev.ReceivedAt, &ev.ProcessedAt); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
