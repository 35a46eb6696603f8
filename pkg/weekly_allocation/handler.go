package weekly_allocation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sant-anurag/feas/internal/rest"
	"github.com/sant-anurag/feas/pkg/allocation"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
)

type WeekDTO struct {
	Week    int     `json:"week"`
	Start   string  `json:"start"`
	End     string  `json:"end"`
	Hours   string  `json:"hours"`
	Percent *string `json:"percent,omitempty"`
	Split   bool    `json:"split"`
	Status  string  `json:"status"`
}

type WeeksDTO struct {
	AllocationId int       `json:"allocationId"`
	Month        string    `json:"month"`
	BillingStart string    `json:"billingStart"`
	BillingEnd   string    `json:"billingEnd"`
	TotalHours   string    `json:"totalHours"`
	Derived      bool      `json:"derived"`
	Weeks        []WeekDTO `json:"weeks"`
}

type WeekPercentDTO struct {
	Week    int             `json:"week" validate:"min=1"`
	Percent decimal.Decimal `json:"percent"`
}

type PercentagesDTO struct {
	Weeks []WeekPercentDTO `json:"weeks" validate:"required,min=1,dive"`
}

type WeekHoursDTO struct {
	Week  int             `json:"week" validate:"min=1"`
	Hours decimal.Decimal `json:"hours"`
}

type HoursDTO struct {
	Weeks []WeekHoursDTO `json:"weeks" validate:"required,min=1,dive"`
}

type SplitDTO struct {
	WeekCount int `json:"weekCount" validate:"min=0"`
}

type WeekStatusDTO struct {
	Week   int    `json:"week" validate:"min=1"`
	Status string `json:"status" validate:"required"`
}

type StatusDTO struct {
	Weeks []WeekStatusDTO `json:"weeks" validate:"required,min=1,dive"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service}
}

// GetWeeks godoc
// @Summary Get the weekly breakdown of an allocation
// @Description Stored weeks, or an equal split over the billing period's weeks flagged as derived
// @Tags WeeklyAllocation
// @Produce json
// @Param allocationId path int true "Allocation ID"
// @Success 200 {object} WeeksDTO
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/allocation/{allocationId}/week [get]
func (h *Handler) GetWeeks(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := allocationIdFromPath(w, r)
	if !ok {
		return
	}
	weeks, err := h.service.GetWeeks(r.Context(), allocationId)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(weeks))
}

// SetPercentages godoc
// @Summary Plan weeks as percentages of the monthly total
// @Tags WeeklyAllocation
// @Accept json
// @Produce json
// @Param allocationId path int true "Allocation ID"
// @Param request body PercentagesDTO true "Percent per week"
// @Success 200 {object} WeeksDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/allocation/{allocationId}/week/percent [put]
func (h *Handler) SetPercentages(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := allocationIdFromPath(w, r)
	if !ok {
		return
	}
	var requestDTO PercentagesDTO
	if !rest.DecodeBody(w, r, &requestDTO) {
		return
	}

	percentages := make(map[int]decimal.Decimal, len(requestDTO.Weeks))
	for _, week := range requestDTO.Weeks {
		percentages[week.Week] = week.Percent
	}
	weeks, err := h.service.SetPercentages(r.Context(), allocationId, percentages)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(weeks))
}

// SetHours godoc
// @Summary Plan weeks as explicit hours
// @Tags WeeklyAllocation
// @Accept json
// @Produce json
// @Param allocationId path int true "Allocation ID"
// @Param request body HoursDTO true "Hours per week"
// @Success 200 {object} WeeksDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/allocation/{allocationId}/week/hours [put]
func (h *Handler) SetHours(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := allocationIdFromPath(w, r)
	if !ok {
		return
	}
	var requestDTO HoursDTO
	if !rest.DecodeBody(w, r, &requestDTO) {
		return
	}

	hours := make(map[int]decimal.Decimal, len(requestDTO.Weeks))
	for _, week := range requestDTO.Weeks {
		hours[week.Week] = week.Hours
	}
	weeks, err := h.service.SetHours(r.Context(), allocationId, hours)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(weeks))
}

// SplitEvenly godoc
// @Summary Split the monthly total evenly over weeks
// @Tags WeeklyAllocation
// @Accept json
// @Produce json
// @Param allocationId path int true "Allocation ID"
// @Param request body SplitDTO false "Number of weeks, 0 for all weeks of the period"
// @Success 201 {object} WeeksDTO
// @Failure 409 {object} rest.ErrorResponse
// @Router /api/allocation/{allocationId}/week/split [post]
func (h *Handler) SplitEvenly(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := allocationIdFromPath(w, r)
	if !ok {
		return
	}
	var requestDTO SplitDTO
	if r.ContentLength != 0 && !rest.DecodeBody(w, r, &requestDTO) {
		return
	}

	weeks, err := h.service.SplitEvenly(r.Context(), allocationId, requestDTO.WeekCount)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusCreated, ToDTO(weeks))
}

// UpdateStatus godoc
// @Summary Accept or reject weeks of the caller's allocation
// @Tags WeeklyAllocation
// @Accept json
// @Produce json
// @Param allocationId path int true "Allocation ID"
// @Param request body StatusDTO true "ACCEPT or REJECT per week"
// @Success 200 {object} WeeksDTO
// @Failure 401 {object} rest.ErrorResponse
// @Failure 403 {object} rest.ErrorResponse
// @Router /api/allocation/{allocationId}/week/status [patch]
// @Security XResourceId
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	allocationId, ok := allocationIdFromPath(w, r)
	if !ok {
		return
	}
	var requestDTO StatusDTO
	if !rest.DecodeBody(w, r, &requestDTO) {
		return
	}

	updates := make([]StatusUpdate, 0, len(requestDTO.Weeks))
	for _, week := range requestDTO.Weeks {
		updates = append(updates, StatusUpdate{WeekNumber: week.Week, Action: week.Status})
	}
	weeks, err := h.service.UpdateStatus(r.Context(), allocationId, updates)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(weeks))
}

func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWeekOutOfRange),
		errors.Is(err, ErrNegativeHours),
		errors.Is(err, allocation.ErrHoursTooLarge),
		errors.Is(err, ErrNoWeeks),
		errors.Is(err, ErrInvalidWeekCount):
		rest.WriteError(w, http.StatusBadRequest, "Invalid weekly allocation", err.Error())
	case errors.Is(err, resource.ErrNoResource):
		rest.WriteError(w, http.StatusUnauthorized, "Missing resource", "Header X-Resource-Id is required")
	case errors.Is(err, ErrNotAllocationOwner):
		rest.WriteError(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, allocation.ErrAllocationNotFound):
		rest.WriteError(w, http.StatusNotFound, "Allocation not found", "")
	case errors.Is(err, ErrWeekNotFound):
		rest.WriteError(w, http.StatusNotFound, "Weekly allocation not found", err.Error())
	case errors.Is(err, ErrWeeklyAllocationsExist):
		rest.WriteError(w, http.StatusConflict, "Weekly allocations already exist", "")
	default:
		rest.WriteInternalError(w, err)
	}
}

func allocationIdFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	allocationId, err := strconv.Atoi(mux.Vars(r)["allocationId"])
	if err != nil || allocationId <= 0 {
		rest.WriteError(w, http.StatusBadRequest, "Invalid allocationId format", "Parameter allocationId must be a positive number")
		return 0, false
	}
	return allocationId, true
}

func ToDTO(weeks Weeks) WeeksDTO {
	weeksDTO := make([]WeekDTO, 0, len(weeks.Weeks))
	for _, week := range weeks.Weeks {
		from, to := weeks.Period.WeekWindow(week.WeekNumber)
		weekDTO := WeekDTO{
			Week:   week.WeekNumber,
			Start:  from.Format(billing_period.DateLayout),
			End:    to.Format(billing_period.DateLayout),
			Hours:  week.Hours.StringFixed(2),
			Split:  week.Split,
			Status: string(week.Status),
		}
		if week.Percent.Valid {
			percent := week.Percent.Decimal.StringFixed(2)
			weekDTO.Percent = &percent
		}
		weeksDTO = append(weeksDTO, weekDTO)
	}
	return WeeksDTO{
		AllocationId: weeks.AllocationId,
		Month:        weeks.Period.Label(),
		BillingStart: weeks.Period.Start.Format(billing_period.DateLayout),
		BillingEnd:   weeks.Period.End.Format(billing_period.DateLayout),
		TotalHours:   weeks.TotalHours.StringFixed(2),
		Derived:      weeks.Derived,
		Weeks:        weeksDTO,
	}
}
