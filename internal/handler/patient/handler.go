package patient

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/nutri-api/internal/middleware"
	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/service/patient"
	apperrors "github.com/jwalitptl/nutri-api/pkg/errors"
	"github.com/jwalitptl/nutri-api/pkg/httputil"
)

type Handler struct {
	service *patient.Service
}

func NewHandler(service *patient.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	patients := r.Group("/patients")
	{
		patients.GET("",
			auth.RequireRoles(model.AllRoles...), auth.RequireClinicScope(), h.ListPatients)
		patients.POST("",
			auth.RequireRoles(model.AllRoles...), auth.RequireClinicScope(), h.CreatePatient)
		patients.GET("/:id",
			auth.RequireRoles(model.AllRoles...), auth.RequireClinicScope(), h.GetPatient)
		patients.PATCH("/:id",
			auth.RequireRoles(model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri, model.RoleStaff),
			auth.RequireClinicScope(), h.UpdatePatient)
		patients.PATCH("/:id/link",
			auth.RequireRoles(model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri, model.RolePatient),
			auth.RequireClinicScope(), h.LinkPatient)
		patients.POST("/:id/move-clinic",
			auth.RequireRoles(model.RolePlatformAdmin), auth.RequireClinicScope(), h.MoveClinic)
		patients.GET("/:id/audit",
			auth.RequireRoles(model.RolePlatformAdmin), auth.RequireClinicScope(), h.ListAudit)
	}
}

func (h *Handler) ListPatients(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	patients, err := h.service.ListPatients(c.Request.Context(), claims, c.Query("clinicId"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, patient.ViewList(claims.Role, patients), "")
}

func (h *Handler) GetPatient(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	p, err := h.service.GetPatient(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, patient.View(claims.Role, p), "")
}

func (h *Handler) CreatePatient(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	var req model.CreatePatientRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	p, err := h.service.CreatePatient(c.Request.Context(), claims, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, patient.View(claims.Role, p), "patient created")
}

func (h *Handler) UpdatePatient(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	var req model.UpdatePatientRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	p, err := h.service.UpdatePatient(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, patient.View(claims.Role, p), "patient updated")
}

func (h *Handler) LinkPatient(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	var req model.LinkPatientRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if !req.LinkedUID.Set {
		httputil.RespondWithError(c, apperrors.Validation("invalid request body", apperrors.FieldError{
			Field:   "linkedUid",
			Message: "field is required",
		}))
		return
	}

	p, err := h.service.LinkPatient(c.Request.Context(), claims, c.Param("id"), req.LinkedUID.Value)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, patient.View(claims.Role, p), "patient link updated")
}

func (h *Handler) MoveClinic(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	var req model.MoveClinicRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	p, err := h.service.MoveClinic(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, patient.View(claims.Role, p), "patient moved")
}

func (h *Handler) ListAudit(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	records, err := h.service.ListAudit(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, records, "")
}
