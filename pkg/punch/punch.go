package punch

import (
	"errors"
	"fmt"
	"time"

	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/shopspring/decimal"
)

var ErrWeeklyCapExceeded = errors.New("weekly cap exceeded")

// Punch is the hours a resource actually worked on an allocation on one day.
type Punch struct {
	Id           int
	ResourceId   int
	AllocationId int
	Date         time.Time
	WeekNumber   int
	Hours        decimal.Decimal
}

type PunchRequest struct {
	ResourceId   int
	AllocationId int
	Date         time.Time
	Hours        decimal.Decimal
}

// AllocationRef is the part of a monthly allocation the ledger checks punches against.
type AllocationRef struct {
	Id          int
	ResourceId  int
	PeriodStart time.Time
}

// WeekTotal compares the planned and the punched hours of one week. Allocated is not valid when
// the week has no weekly allocation row.
type WeekTotal struct {
	WeekNumber int
	Start      time.Time
	End        time.Time
	Allocated  decimal.NullDecimal
	Punched    decimal.Decimal
}

// Ledger is the punches of one allocation within its billing period.
type Ledger struct {
	AllocationId int
	Period       billing_period.Period
	Punches      []Punch
	Weeks        []WeekTotal
}

type WeeklyCapExceededError struct {
	WeekNumber int
	Cap        decimal.Decimal
	Punched    decimal.Decimal
	Requested  decimal.Decimal
}

func (e *WeeklyCapExceededError) Error() string {
	return fmt.Sprintf("punching %s hours in week %d exceeds weekly allocation %s (already punched %s)",
		e.Requested.StringFixed(2), e.WeekNumber, e.Cap.StringFixed(2), e.Punched.StringFixed(2))
}

func (e *WeeklyCapExceededError) Unwrap() error {
	return ErrWeeklyCapExceeded
}
