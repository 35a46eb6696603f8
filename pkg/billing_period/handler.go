package billing_period

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sant-anurag/feas/internal/rest"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type PeriodDTO struct {
	Month        string    `json:"month"`
	BillingStart string    `json:"billingStart"`
	BillingEnd   string    `json:"billingEnd"`
	MonthlyCap   string    `json:"monthlyCap"`
	TotalWeeks   int       `json:"totalWeeks"`
	Overridden   bool      `json:"overridden"`
	Weeks        []WeekDTO `json:"weeks"`
}

type WeekDTO struct {
	Week  int    `json:"week"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type OverrideDTO struct {
	Year       int              `json:"year" validate:"min=1,max=9999"`
	Month      int              `json:"month" validate:"min=1,max=12"`
	StartDate  *string          `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate    *string          `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	MonthlyCap *decimal.Decimal `json:"monthlyCap,omitempty"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service}
}

// GetPeriod godoc
// @Summary Resolve a billing period
// @Description Resolve the billing window for a month (YYYY-MM) or for the period containing a date (YYYY-MM-DD)
// @Tags BillingPeriod
// @Produce json
// @Param month query string false "Month in YYYY-MM format"
// @Param date query string false "Date in YYYY-MM-DD format"
// @Success 200 {object} PeriodDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/billingperiod [get]
func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := ResolveFromRequest(w, r, h.service)
	if !ok {
		return
	}
	rest.WriteJSON(w, http.StatusOK, PeriodToDTO(period))
}

// ListOverrides godoc
// @Summary List the billing periods of a year
// @Description Resolved periods for all twelve months of the year, overrides applied
// @Tags BillingPeriod
// @Produce json
// @Param year query int true "Year"
// @Success 200 {array} PeriodDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/billingperiod/override [get]
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid year", "Parameter year must be a number")
		return
	}

	periods, err := h.service.ListYear(r.Context(), year)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	periodsDTO := make([]PeriodDTO, 0, len(periods))
	for _, period := range periods {
		periodsDTO = append(periodsDTO, PeriodToDTO(period))
	}
	rest.WriteJSON(w, http.StatusOK, periodsDTO)
}

// SaveOverride godoc
// @Summary Create or replace a billing period override
// @Tags BillingPeriod
// @Accept json
// @Produce json
// @Param override body OverrideDTO true "Override"
// @Success 200 {object} PeriodDTO
// @Failure 400 {object} rest.ErrorResponse
// @Router /api/billingperiod/override [put]
func (h *Handler) SaveOverride(w http.ResponseWriter, r *http.Request) {
	var overrideDTO OverrideDTO
	if !rest.DecodeBody(w, r, &overrideDTO) {
		return
	}

	override, err := dtoToOverride(overrideDTO)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid override", err.Error())
		return
	}

	saved, err := h.service.SaveOverride(r.Context(), override)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	period, err := h.service.Resolve(r.Context(), saved.Year, saved.Month)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, PeriodToDTO(period))
}

// DeleteOverride godoc
// @Summary Delete a billing period override
// @Tags BillingPeriod
// @Param year path int true "Year"
// @Param month path int true "Month"
// @Success 204
// @Failure 400 {object} rest.ErrorResponse
// @Failure 404 {object} rest.ErrorResponse
// @Router /api/billingperiod/override/{year}/{month} [delete]
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	year, yearErr := strconv.Atoi(vars["year"])
	month, monthErr := strconv.Atoi(vars["month"])
	if yearErr != nil || monthErr != nil {
		rest.WriteError(w, http.StatusBadRequest, "Invalid year or month", "Parameters year and month must be numbers")
		return
	}

	if err := h.service.DeleteOverride(r.Context(), year, time.Month(month)); err != nil {
		WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveFromRequest resolves the period named by the month or date query parameter. On failure
// the error response is already written and false is returned.
func ResolveFromRequest(w http.ResponseWriter, r *http.Request, service Service) (Period, bool) {
	query := r.URL.Query()
	period, err := service.ResolveInput(r.Context(), query.Get("month"), query.Get("date"))
	if err != nil {
		WriteServiceError(w, err)
		return Period{}, false
	}
	return period, true
}

// ResolveFromRequestOrCurrent is ResolveFromRequest falling back to the current period when the
// request names neither month nor date.
func ResolveFromRequestOrCurrent(w http.ResponseWriter, r *http.Request, service Service) (Period, bool) {
	query := r.URL.Query()
	if query.Get("month") != "" || query.Get("date") != "" {
		return ResolveFromRequest(w, r, service)
	}
	period, err := service.Current(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return Period{}, false
	}
	return period, true
}

// IsValidationError reports whether err was caused by bad period input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidMonth) ||
		errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrPeriodInput) ||
		errors.Is(err, ErrInvalidOverride)
}

func WriteServiceError(w http.ResponseWriter, err error) {
	switch {
	case IsValidationError(err):
		rest.WriteError(w, http.StatusBadRequest, "Invalid billing period", err.Error())
	case errors.Is(err, ErrOverrideNotFound):
		rest.WriteError(w, http.StatusNotFound, "Billing period override not found", "")
	default:
		log.Errorf("billing period request failed: %v", err)
		rest.WriteInternalError(w, err)
	}
}

func PeriodToDTO(period Period) PeriodDTO {
	totalWeeks := period.TotalWeeks()
	weeks := make([]WeekDTO, 0, totalWeeks)
	for week := 1; week <= totalWeeks; week++ {
		from, to := period.WeekWindow(week)
		weeks = append(weeks, WeekDTO{
			Week:  week,
			Start: from.Format(DateLayout),
			End:   to.Format(DateLayout),
		})
	}
	return PeriodDTO{
		Month:        period.Label(),
		BillingStart: period.Start.Format(DateLayout),
		BillingEnd:   period.End.Format(DateLayout),
		MonthlyCap:   period.MonthlyCap.StringFixed(2),
		TotalWeeks:   totalWeeks,
		Overridden:   period.Overridden,
		Weeks:        weeks,
	}
}

func dtoToOverride(dto OverrideDTO) (Override, error) {
	override := Override{
		Year:  dto.Year,
		Month: time.Month(dto.Month),
	}
	if dto.StartDate != nil {
		start, err := ParseDate(*dto.StartDate)
		if err != nil {
			return Override{}, err
		}
		override.StartDate = &start
	}
	if dto.EndDate != nil {
		end, err := ParseDate(*dto.EndDate)
		if err != nil {
			return Override{}, err
		}
		override.EndDate = &end
	}
	if dto.MonthlyCap != nil {
		override.MonthlyCap = decimal.NewNullDecimal(*dto.MonthlyCap)
	}
	return override, nil
}
