package allocation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sant-anurag/feas/internal/rest"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
)

type ReconcileItemDTO struct {
	Resource    string           `json:"resource"`
	GroupingKey string           `json:"groupingKey"`
	Hours       *decimal.Decimal `json:"hours"`
}

type ReconcileRequestDTO struct {
	Month string             `json:"month,omitempty" validate:"omitempty,datetime=2006-01"`
	Date  string             `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Items []ReconcileItemDTO `json:"items" validate:"max=5000"`
}

type ItemDTO struct {
	Id          int    `json:"id"`
	GroupingKey string `json:"groupingKey"`
	Hours       string `json:"hours"`
}

type AllocationDTO struct {
	Id          int       `json:"id"`
	Resource    string    `json:"resource"`
	ProjectId   int       `json:"projectId"`
	PeriodStart string    `json:"periodStart"`
	TotalHours  string    `json:"totalHours"`
	Items       []ItemDTO `json:"items"`
}

type AllocationListDTO struct {
	Month        string          `json:"month"`
	BillingStart string          `json:"billingStart"`
	BillingEnd   string          `json:"billingEnd"`
	Allocations  []AllocationDTO `json:"allocations"`
}

type ReconcileResultDTO struct {
	AllocationListDTO
	Inserted           int `json:"inserted"`
	Updated            int `json:"updated"`
	Deleted            int `json:"deleted"`
	Skipped            int `json:"skipped"`
	RemovedAllocations int `json:"removedAllocations"`
}

type Handler struct {
	service Service
	periods billing_period.Service
}

func NewHandler(service Service, periods billing_period.Service) *Handler {
	return &Handler{service: service, periods: periods}
}

// Reconcile godoc
// @Summary Save the allocation items of a project
// @Description Replaces all allocation items of the project in the billing period with the given set
// @Tags Allocation
// @Accept json
// @Produce json
// @Param projectId path int true "Project ID"
// @Param request body ReconcileRequestDTO true "Desired allocation items"
// @Success 200 {object} ReconcileResultDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/project/{projectId}/allocation [put]
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	projectId, ok := projectIdFromPath(w, r)
	if !ok {
		return
	}
	var requestDTO ReconcileRequestDTO
	if !rest.DecodeBody(w, r, &requestDTO) {
		return
	}

	items := make([]ReconcileItem, 0, len(requestDTO.Items))
	for _, item := range requestDTO.Items {
		items = append(items, ReconcileItem{
			Resource:    item.Resource,
			GroupingKey: item.GroupingKey,
			Hours:       item.Hours,
		})
	}

	result, err := h.service.Reconcile(r.Context(), ReconcileRequest{
		ProjectId: projectId,
		Month:     requestDTO.Month,
		Date:      requestDTO.Date,
		Items:     items,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	rest.WriteJSON(w, http.StatusOK, ReconcileResultDTO{
		AllocationListDTO:  ToListDTO(result.Period, result.Allocations),
		Inserted:           result.Inserted,
		Updated:            result.Updated,
		Deleted:            result.Deleted,
		Skipped:            result.Skipped,
		RemovedAllocations: result.RemovedAllocations,
	})
}

// ListForProject godoc
// @Summary List the allocations of a project
// @Tags Allocation
// @Produce json
// @Param projectId path int true "Project ID"
// @Param month query string false "Month in YYYY-MM format"
// @Param date query string false "Date in YYYY-MM-DD format"
// @Success 200 {object} AllocationListDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/project/{projectId}/allocation [get]
func (h *Handler) ListForProject(w http.ResponseWriter, r *http.Request) {
	projectId, ok := projectIdFromPath(w, r)
	if !ok {
		return
	}
	period, ok := billing_period.ResolveFromRequestOrCurrent(w, r, h.periods)
	if !ok {
		return
	}

	allocations, err := h.service.ListForProject(r.Context(), projectId, period)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToListDTO(period, allocations))
}

// ListForResource godoc
// @Summary List the allocations of the calling resource
// @Tags Allocation
// @Produce json
// @Param month query string false "Month in YYYY-MM format"
// @Param date query string false "Date in YYYY-MM-DD format"
// @Success 200 {object} AllocationListDTO
// @Failure 400 {object} rest.ErrorResponse
// @Failure 401 {object} rest.ErrorResponse
// @Router /api/allocation [get]
// @Security XResourceId
func (h *Handler) ListForResource(w http.ResponseWriter, r *http.Request) {
	current, err := resource.CurrentResource(r.Context())
	if err != nil {
		rest.WriteError(w, http.StatusUnauthorized, "Missing resource", "Header X-Resource-Id is required")
		return
	}
	period, ok := billing_period.ResolveFromRequestOrCurrent(w, r, h.periods)
	if !ok {
		return
	}

	allocations, err := h.service.ListForResource(r.Context(), current.Id, period)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToListDTO(period, allocations))
}

func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidProject), errors.Is(err, ErrNegativeHours), errors.Is(err, ErrHoursTooLarge):
		rest.WriteError(w, http.StatusBadRequest, "Invalid allocation", err.Error())
	case billing_period.IsValidationError(err):
		rest.WriteError(w, http.StatusBadRequest, "Invalid billing period", err.Error())
	case errors.Is(err, ErrAllocationNotFound):
		rest.WriteError(w, http.StatusNotFound, "Allocation not found", "")
	default:
		rest.WriteInternalError(w, err)
	}
}

func projectIdFromPath(w http.ResponseWriter, r *http.Request) (int, bool) {
	projectId, err := strconv.Atoi(mux.Vars(r)["projectId"])
	if err != nil || projectId <= 0 {
		rest.WriteError(w, http.StatusBadRequest, "Invalid projectId format", "Parameter projectId must be a positive number")
		return 0, false
	}
	return projectId, true
}

func ToDTO(allocation Allocation) AllocationDTO {
	items := make([]ItemDTO, 0, len(allocation.Items))
	for _, item := range allocation.Items {
		items = append(items, ItemDTO{
			Id:          item.Id,
			GroupingKey: item.GroupingKey,
			Hours:       item.Hours.StringFixed(2),
		})
	}
	return AllocationDTO{
		Id:          allocation.Id,
		Resource:    allocation.ResourceIdentifier,
		ProjectId:   allocation.ProjectId,
		PeriodStart: allocation.PeriodStart.Format(billing_period.DateLayout),
		TotalHours:  allocation.TotalHours.StringFixed(2),
		Items:       items,
	}
}

func ToListDTO(period billing_period.Period, allocations []Allocation) AllocationListDTO {
	allocationsDTO := make([]AllocationDTO, 0, len(allocations))
	for _, allocation := range allocations {
		allocationsDTO = append(allocationsDTO, ToDTO(allocation))
	}
	return AllocationListDTO{
		Month:        period.Label(),
		BillingStart: period.Start.Format(billing_period.DateLayout),
		BillingEnd:   period.End.Format(billing_period.DateLayout),
		Allocations:  allocationsDTO,
	}
}
