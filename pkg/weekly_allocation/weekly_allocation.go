package weekly_allocation

import (
	"strings"

	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// WeeklyAllocation is the share of a monthly allocation planned for one week of its billing period.
// Percent is set only for rows created from percentages. Split rows hold an equal split of the
// allocation total and are split again when the total changes.
type WeeklyAllocation struct {
	Id           int
	AllocationId int
	WeekNumber   int
	Hours        decimal.Decimal
	Percent      decimal.NullDecimal
	Split        bool
	Status       Status
}

// Weeks is the weekly breakdown of one allocation. Derived weeks are an equal split computed on
// read and not stored.
type Weeks struct {
	AllocationId int
	Period       billing_period.Period
	TotalHours   decimal.Decimal
	Derived      bool
	Weeks        []WeeklyAllocation
}

type StatusUpdate struct {
	WeekNumber int
	Action     string
}

// ParseStatusAction maps ACCEPT/ACCEPTED and REJECT/REJECTED, case-insensitively, onto a status.
func ParseStatusAction(action string) (Status, bool) {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case "ACCEPT", "ACCEPTED":
		return StatusAccepted, true
	case "REJECT", "REJECTED":
		return StatusRejected, true
	default:
		return "", false
	}
}
