package observability

import (
	"sync"

	"github.com/rs/zerolog"
)

// BillingObserver keeps lightweight in-process counters over billing
// decisions and logs them structured. Counters reset with the process; they
// exist for alerting on repeated denials, not for accounting.
type BillingObserver struct {
	log zerolog.Logger

	mu         sync.Mutex
	denyCounts map[string]int64
}

func NewBillingObserver(log zerolog.Logger) *BillingObserver {
	return &BillingObserver{
		log:        log.With().Str("component", "billing_observer").Logger(),
		denyCounts: make(map[string]int64),
	}
}

func (o *BillingObserver) RecordAllow(userID, action string) {
	if o == nil {
		return
	}
	o.log.Info().Str("user_id", userID).Str("action", action).Msg("billing allow")
}

func (o *BillingObserver) RecordDeny(userID, reason string) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.denyCounts[userID]++
	count := o.denyCounts[userID]
	o.mu.Unlock()

	o.log.Warn().Str("user_id", userID).Str("reason", reason).Int64("count", count).Msg("billing deny")

	if count%10 == 0 {
		o.log.Error().Str("user_id", userID).Str("reason", reason).Int64("repeated_deny_count", count).Msg("billing deny spike")
	}
}
