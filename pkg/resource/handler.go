package resource

import (
	"errors"
	"net/http"

	"github.com/sant-anurag/feas/internal/rest"
)

type ResourceDTO struct {
	Id         int    `json:"id"`
	Uid        string `json:"uid"`
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
}

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service}
}

// CurrentResource godoc
// @Summary Get the calling resource
// @Description Resource mirrored for the X-Resource-Id header of the request
// @Tags Resource
// @Produce json
// @Success 200 {object} ResourceDTO
// @Failure 401 {object} rest.ErrorResponse
// @Router /api/resource/current [get]
// @Security XResourceId
func (h *Handler) CurrentResource(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.GetCurrent(r.Context())
	if err != nil {
		if errors.Is(err, ErrNoResource) {
			rest.WriteError(w, http.StatusUnauthorized, "Missing resource", "Header X-Resource-Id is required")
			return
		}
		rest.WriteInternalError(w, err)
		return
	}
	rest.WriteJSON(w, http.StatusOK, ToDTO(current))
}

func ToDTO(r Resource) ResourceDTO {
	return ResourceDTO{
		Id:         r.Id,
		Uid:        r.Uid.String(),
		Identifier: r.Identifier,
		Username:   r.Username,
		Email:      r.Email,
	}
}
