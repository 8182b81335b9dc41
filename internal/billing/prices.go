package billing

import "context"

// PriceInfo is the live price metadata served to the pricing page. Sourced
// from Stripe on every call; there is no caching layer.
type PriceInfo struct {
	PriceID  string `json:"id"`
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Mode     string `json:"mode"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Interval string `json:"interval,omitempty"`
}

func (s *Service) ListPrices(ctx context.Context) ([]PriceInfo, error) {
	plans, err := s.Store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}

	var out []PriceInfo
	for _, plan := range plans {
		price, err := s.Provider.GetPrice(ctx, plan.StripePriceID)
		if err != nil {
			return nil, err
		}
		if !price.Active {
			continue
		}
		info := PriceInfo{
			PriceID:  price.ID,
			PlanCode: plan.PlanCode,
			Name:     plan.Name,
			Mode:     plan.Mode,
			Amount:   price.UnitAmount,
			Currency: price.Currency,
		}
		if price.Recurring != nil {
			info.Interval = price.Recurring.Interval
		}
		out = append(out, info)
	}
	return out, nil
}
