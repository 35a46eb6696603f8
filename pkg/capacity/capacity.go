package capacity

import (
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/shopspring/decimal"
)

// ResourceTotal is the sum of a resource's monthly allocation totals over all projects of a period.
type ResourceTotal struct {
	ResourceId int
	Identifier string
	Allocated  decimal.Decimal
}

// Capacity is a resource's allocated hours against the monthly cap of the period. Remaining never
// drops below zero.
type Capacity struct {
	ResourceId int
	Identifier string
	Allocated  decimal.Decimal
	Remaining  decimal.Decimal
}

type View struct {
	Period    billing_period.Period
	Resources []Capacity
}

func capacityOf(total ResourceTotal, monthlyCap decimal.Decimal) Capacity {
	return Capacity{
		ResourceId: total.ResourceId,
		Identifier: total.Identifier,
		Allocated:  total.Allocated,
		Remaining:  decimal.Max(decimal.Zero, monthlyCap.Sub(total.Allocated)),
	}
}
