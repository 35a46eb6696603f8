package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sant-anurag/feas/internal/event_bus"
	"github.com/sant-anurag/feas/internal/utils"
	"github.com/sant-anurag/feas/pkg/allocation"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/capacity"
	"github.com/sant-anurag/feas/pkg/punch"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/sant-anurag/feas/pkg/weekly_allocation"
)

// Dependencies holds all services and handlers for the application.
type Dependencies struct {
	EventBus *event_bus.EventBus
	Clock    utils.Clock

	BillingPeriodService *billing_period.ServiceImpl
	BillingPeriodHandler *billing_period.Handler

	ResourceService *resource.ServiceImpl
	ResourceHandler *resource.Handler

	AllocationService *allocation.ServiceImpl
	AllocationHandler *allocation.Handler

	WeeklyAllocationService *weekly_allocation.ServiceImpl
	WeeklyAllocationHandler *weekly_allocation.Handler

	PunchService *punch.ServiceImpl
	PunchHandler *punch.Handler

	CapacityService *capacity.ServiceImpl
	CapacityHandler *capacity.Handler
}

// BuildDependencies initializes and wires all application services and handlers.
func BuildDependencies(db *pgxpool.Pool, settings Settings) *Dependencies {
	deps := &Dependencies{}

	deps.EventBus = event_bus.NewEventBus()
	deps.Clock = &utils.SystemClock{}

	deps.BillingPeriodService = billing_period.NewService(billing_period.NewRepo(db), settings.DefaultMonthlyCap, deps.Clock)
	deps.BillingPeriodHandler = billing_period.NewHandler(deps.BillingPeriodService)

	deps.ResourceService = resource.NewService(resource.NewRepo(db))
	deps.ResourceHandler = resource.NewHandler(deps.ResourceService)

	deps.AllocationService = allocation.NewService(allocation.NewRepo(db), deps.ResourceService, deps.BillingPeriodService, deps.EventBus)
	deps.AllocationHandler = allocation.NewHandler(deps.AllocationService, deps.BillingPeriodService)

	deps.WeeklyAllocationService = weekly_allocation.NewService(weekly_allocation.NewRepo(db), deps.AllocationService, deps.BillingPeriodService, deps.EventBus)
	deps.WeeklyAllocationHandler = weekly_allocation.NewHandler(deps.WeeklyAllocationService)

	deps.PunchService = punch.NewService(punch.NewRepo(db, settings.PunchTxOptions), deps.BillingPeriodService, settings.LockAllocation)
	deps.PunchHandler = punch.NewHandler(deps.PunchService)

	deps.CapacityService = capacity.NewService(capacity.NewRepo(db))
	deps.CapacityHandler = capacity.NewHandler(deps.CapacityService, deps.BillingPeriodService)

	return deps
}
