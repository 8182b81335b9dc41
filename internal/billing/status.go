package billing

import "strings"

// MapProviderStatus maps a Stripe subscription status onto the application's
// enumeration. The mapping is total: anything unrecognized becomes inactive.
func MapProviderStatus(status string, deleted bool) string {
	if deleted {
		return "canceled"
	}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return "active"
	case "trialing":
		return "trialing"
	case "past_due":
		return "past_due"
	case "canceled":
		return "canceled"
	case "unpaid":
		return "unpaid"
	case "incomplete":
		return "incomplete"
	default:
		// incomplete_expired, paused, and whatever Stripe adds next.
		return "inactive"
	}
}
