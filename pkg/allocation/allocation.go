package allocation

import (
	"time"

	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/shopspring/decimal"
)

// Allocation is the monthly allocation of one resource to one project in one billing period.
// TotalHours is always the sum of Items.
type Allocation struct {
	Id                 int
	ResourceId         int
	ResourceIdentifier string
	ProjectId          int
	PeriodStart        time.Time
	TotalHours         decimal.Decimal
	Items              []Item
}

// Item is the hours a resource is allocated to one grouping key (work item or COE) of the project.
type Item struct {
	Id           int
	AllocationId int
	GroupingKey  string
	Hours        decimal.Decimal
}

type ReconcileItem struct {
	Resource    string
	GroupingKey string
	// Hours defaults to zero when nil.
	Hours *decimal.Decimal
}

// ReconcileRequest is the full desired item set of a project for the period named by exactly one
// of Month ("YYYY-MM") or Date ("YYYY-MM-DD").
type ReconcileRequest struct {
	ProjectId int
	Month     string
	Date      string
	Items     []ReconcileItem
}

type ReconcileResult struct {
	Period      billing_period.Period
	Allocations []Allocation
	Inserted    int
	Updated     int
	Deleted     int
	Skipped     int
	// RemovedAllocations counts allocations deleted because no item was left for them.
	RemovedAllocations int
}

// RoundHours quantizes hours to two decimals, halves rounded up.
func RoundHours(hours decimal.Decimal) decimal.Decimal {
	return hours.Round(2)
}
