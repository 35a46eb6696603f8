package event_bus

import (
	"time"

	"github.com/shopspring/decimal"
)

const AllocationReconciledType EventType = "allocation.reconciled"

// AllocationReconciled is published inside the reconcile transaction. The event context carries
// that transaction, and a subscriber error rolls it back.
type AllocationReconciled struct {
	ProjectId   int
	PeriodStart time.Time
	// Totals lists allocations whose total_hours changed, deleted allocations excluded.
	Totals []AllocationTotalChanged
}

type AllocationTotalChanged struct {
	AllocationId  int
	PreviousTotal decimal.Decimal
	TotalHours    decimal.Decimal
}
