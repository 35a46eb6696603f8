package capacity

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sant-anurag/feas/internal/rest"
	"github.com/sant-anurag/feas/pkg/billing_period"
)

type CapacityDTO struct {
	Resource  string `json:"resource"`
	Allocated string `json:"allocated"`
	Remaining string `json:"remaining"`
}

type ViewDTO struct {
	Month        string        `json:"month"`
	BillingStart string        `json:"billingStart"`
	BillingEnd   string        `json:"billingEnd"`
	MonthlyCap   string        `json:"monthlyCap"`
	Resources    []CapacityDTO `json:"resources"`
}

type Handler struct {
	service Service
	periods billing_period.Service
}

func NewHandler(service Service, periods billing_period.Service) *Handler {
	return &Handler{service: service, periods: periods}
}

// CapacityFor godoc
// @Summary Allocated and remaining hours of resources
// @Description Sums the monthly allocations of each resource over all projects against the monthly cap of the period
// @Tags Capacity
// @Produce json
// @Param resource query []string true "Resource identifiers" collectionFormat(multi)
// @Param month query string false "Month in YYYY-MM format"
// @Param date query string false "Date in YYYY-MM-DD format"
// @Success 200 {object} ViewDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/capacity [get]
func (h *Handler) CapacityFor(w http.ResponseWriter, r *http.Request) {
	period, ok := billing_period.ResolveFromRequestOrCurrent(w, r, h.periods)
	if !ok {
		return
	}
	var identifiers []string
	for _, value := range r.URL.Query()["resource"] {
		identifiers = append(identifiers, strings.Split(value, ",")...)
	}

	view, err := h.service.CapacityFor(r.Context(), identifiers, period)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(view))
}

// CapacityForProject godoc
// @Summary Capacity of the resources allocated to a project
// @Tags Capacity
// @Produce json
// @Param projectId path int true "Project ID"
// @Param month query string false "Month in YYYY-MM format"
// @Param date query string false "Date in YYYY-MM-DD format"
// @Success 200 {object} ViewDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/project/{projectId}/capacity [get]
func (h *Handler) CapacityForProject(w http.ResponseWriter, r *http.Request) {
	projectId, err := strconv.Atoi(mux.Vars(r)["projectId"])
	if err != nil || projectId <= 0 {
		rest.WriteError(w, http.StatusBadRequest, "Invalid projectId format", "Parameter projectId must be a positive number")
		return
	}
	period, ok := billing_period.ResolveFromRequestOrCurrent(w, r, h.periods)
	if !ok {
		return
	}

	view, err := h.service.CapacityForProject(r.Context(), projectId, period)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(view))
}

func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoResources), errors.Is(err, ErrInvalidProject):
		rest.WriteError(w, http.StatusBadRequest, "Invalid capacity request", err.Error())
	default:
		rest.WriteInternalError(w, err)
	}
}

func ToDTO(view View) ViewDTO {
	resources := make([]CapacityDTO, 0, len(view.Resources))
	for _, c := range view.Resources {
		resources = append(resources, CapacityDTO{
			Resource:  c.Identifier,
			Allocated: c.Allocated.StringFixed(2),
			Remaining: c.Remaining.StringFixed(2),
		})
	}
	return ViewDTO{
		Month:        view.Period.Label(),
		BillingStart: view.Period.Start.Format(billing_period.DateLayout),
		BillingEnd:   view.Period.End.Format(billing_period.DateLayout),
		MonthlyCap:   view.Period.MonthlyCap.StringFixed(2),
		Resources:    resources,
	}
}
