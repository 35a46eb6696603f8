package punch

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sant-anurag/feas/internal/database"
	"github.com/sant-anurag/feas/internal/rest"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
)

type PunchRequestDTO struct {
	AllocationId int             `json:"allocationId" validate:"required,min=1"`
	Date         string          `json:"date" validate:"required,datetime=2006-01-02"`
	Hours        decimal.Decimal `json:"hours"`
}

type PunchDTO struct {
	Id           int    `json:"id"`
	AllocationId int    `json:"allocationId"`
	Date         string `json:"date"`
	WeekNumber   int    `json:"weekNumber"`
	Hours        string `json:"hours"`
}

type WeekTotalDTO struct {
	Week      int     `json:"week"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Allocated *string `json:"allocated"`
	Punched   string  `json:"punched"`
}

type LedgerDTO struct {
	AllocationId int            `json:"allocationId"`
	Month        string         `json:"month"`
	BillingStart string         `json:"billingStart"`
	BillingEnd   string         `json:"billingEnd"`
	Punches      []PunchDTO     `json:"punches"`
	Weeks        []WeekTotalDTO `json:"weeks"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service}
}

// RecordPunch godoc
// @Summary Record the hours worked on a day
// @Description Stores the punch of the calling resource, refused when the week would exceed its weekly allocation
// @Tags Punch
// @Accept json
// @Produce json
// @Param punch body PunchRequestDTO true "Punch"
// @Success 200 {object} PunchDTO
// @Failure 400 {object} rest.ErrorResponse
// @Failure 403 {object} rest.ErrorResponse
// @Failure 422 {object} rest.ErrorResponse
// @Router /api/punch [put]
// @Security XResourceId
func (h *Handler) RecordPunch(w http.ResponseWriter, r *http.Request) {
	current, err := resource.CurrentResource(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	var requestDTO PunchRequestDTO
	if !rest.DecodeBody(w, r, &requestDTO) {
		return
	}
	date, err := billing_period.ParseDate(requestDTO.Date)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	punch, err := h.service.RecordPunch(r.Context(), PunchRequest{
		ResourceId:   current.Id,
		AllocationId: requestDTO.AllocationId,
		Date:         date,
		Hours:        requestDTO.Hours,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, toPunchDTO(punch))
}

// GetLedger godoc
// @Summary List the caller's punches on an allocation with weekly totals
// @Tags Punch
// @Produce json
// @Param allocationId path int true "Allocation ID"
// @Success 200 {object} LedgerDTO
// @Failure 403 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/allocation/{allocationId}/punch [get]
// @Security XResourceId
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	current, err := resource.CurrentResource(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	allocationId, err := strconv.Atoi(mux.Vars(r)["allocationId"])
	if err != nil || allocationId <= 0 {
		rest.WriteError(w, http.StatusBadRequest, "Invalid allocationId format", "Parameter allocationId must be a positive number")
		return
	}

	ledger, err := h.service.ListPunches(r.Context(), current.Id, allocationId)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(ledger))
}

func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNegativeHours), errors.Is(err, ErrHoursTooLarge), errors.Is(err, ErrPunchOutsidePeriod):
		rest.WriteError(w, http.StatusBadRequest, "Invalid punch", err.Error())
	case billing_period.IsValidationError(err):
		rest.WriteError(w, http.StatusBadRequest, "Invalid billing period", err.Error())
	case errors.Is(err, resource.ErrNoResource):
		rest.WriteError(w, http.StatusUnauthorized, "Missing resource", "Header X-Resource-Id is required")
	case errors.Is(err, ErrNotAllocationOwner):
		rest.WriteError(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrAllocationNotFound):
		rest.WriteError(w, http.StatusNotFound, "Allocation not found", "")
	case errors.Is(err, ErrWeeklyCapExceeded), errors.Is(err, ErrNoWeeklyAllocation):
		rest.WriteError(w, http.StatusUnprocessableEntity, "Punch refused", err.Error())
	case database.IsSerializationFailure(err):
		rest.WriteError(w, http.StatusConflict, "Concurrent update", "Another punch for the same week was committed first, retry the request")
	default:
		rest.WriteInternalError(w, err)
	}
}

func toPunchDTO(punch Punch) PunchDTO {
	return PunchDTO{
		Id:           punch.Id,
		AllocationId: punch.AllocationId,
		Date:         punch.Date.Format(billing_period.DateLayout),
		WeekNumber:   punch.WeekNumber,
		Hours:        punch.Hours.StringFixed(2),
	}
}

func ToDTO(ledger Ledger) LedgerDTO {
	punches := make([]PunchDTO, 0, len(ledger.Punches))
	for _, punch := range ledger.Punches {
		punches = append(punches, toPunchDTO(punch))
	}
	weeks := make([]WeekTotalDTO, 0, len(ledger.Weeks))
	for _, week := range ledger.Weeks {
		weekDTO := WeekTotalDTO{
			Week:    week.WeekNumber,
			Start:   week.Start.Format(billing_period.DateLayout),
			End:     week.End.Format(billing_period.DateLayout),
			Punched: week.Punched.StringFixed(2),
		}
		if week.Allocated.Valid {
			allocated := week.Allocated.Decimal.StringFixed(2)
			weekDTO.Allocated = &allocated
		}
		weeks = append(weeks, weekDTO)
	}
	return LedgerDTO{
		AllocationId: ledger.AllocationId,
		Month:        ledger.Period.Label(),
		BillingStart: ledger.Period.Start.Format(billing_period.DateLayout),
		BillingEnd:   ledger.Period.End.Format(billing_period.DateLayout),
		Punches:      punches,
		Weeks:        weeks,
	}
}
