package app

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API endpoints.
func RegisterRoutes(r *mux.Router, deps *Dependencies) {

	// Billing periods
	r.HandleFunc("/api/billingperiod", deps.BillingPeriodHandler.GetPeriod).Methods("GET")
	r.HandleFunc("/api/billingperiod/override", deps.BillingPeriodHandler.ListOverrides).Methods("GET")
	r.HandleFunc("/api/billingperiod/override", deps.BillingPeriodHandler.SaveOverride).Methods("PUT")
	r.HandleFunc("/api/billingperiod/override/{year}/{month}", deps.BillingPeriodHandler.DeleteOverride).Methods("DELETE")

	// Resources
	r.HandleFunc("/api/resource/current", deps.ResourceHandler.CurrentResource).Methods("GET")

	// Project allocations
	r.HandleFunc("/api/project/{projectId}/allocation", deps.AllocationHandler.Reconcile).Methods("PUT")
	r.HandleFunc("/api/project/{projectId}/allocation", deps.AllocationHandler.ListForProject).Methods("GET")
	r.HandleFunc("/api/allocation", deps.AllocationHandler.ListForResource).Methods("GET")

	// Capacity
	r.HandleFunc("/api/project/{projectId}/capacity", deps.CapacityHandler.CapacityForProject).Methods("GET")
	r.HandleFunc("/api/capacity", deps.CapacityHandler.CapacityFor).Methods("GET")

	// Weekly allocations
	r.HandleFunc("/api/allocation/{allocationId}/week", deps.WeeklyAllocationHandler.GetWeeks).Methods("GET")
	r.HandleFunc("/api/allocation/{allocationId}/week/percent", deps.WeeklyAllocationHandler.SetPercentages).Methods("PUT")
	r.HandleFunc("/api/allocation/{allocationId}/week/hours", deps.WeeklyAllocationHandler.SetHours).Methods("PUT")
	r.HandleFunc("/api/allocation/{allocationId}/week/split", deps.WeeklyAllocationHandler.SplitEvenly).Methods("POST")
	r.HandleFunc("/api/allocation/{allocationId}/week/status", deps.WeeklyAllocationHandler.UpdateStatus).Methods("PATCH")

	// Punches
	r.HandleFunc("/api/punch", deps.PunchHandler.RecordPunch).Methods("PUT")
	r.HandleFunc("/api/allocation/{allocationId}/punch", deps.PunchHandler.GetLedger).Methods("GET")
}
