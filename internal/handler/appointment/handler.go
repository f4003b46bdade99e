package appointment

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/nutri-api/internal/middleware"
	"github.com/jwalitptl/nutri-api/internal/model"
	"github.com/jwalitptl/nutri-api/internal/service/appointment"
	"github.com/jwalitptl/nutri-api/pkg/httputil"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup, auth *middleware.AuthMiddleware) {
	appointments := r.Group("/appointments")
	{
		appointments.POST("/request",
			auth.RequireRoles(model.RolePatient), auth.RequireClinicScope(), h.RequestAppointment)
		appointments.GET("",
			auth.RequireRoles(model.AllRoles...), auth.RequireClinicScope(), h.ListAppointments)
		appointments.GET("/:id",
			auth.RequireRoles(model.AllRoles...), auth.RequireClinicScope(), h.GetAppointment)
		appointments.POST("/:id/cancel",
			auth.RequireRoles(model.AllRoles...), auth.RequireClinicScope(), h.CancelAppointment)
		appointments.POST("/:id/schedule",
			auth.RequireRoles(model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri, model.RoleStaff),
			auth.RequireClinicScope(), h.ScheduleAppointment)
		appointments.POST("/:id/complete",
			auth.RequireRoles(model.RolePlatformAdmin, model.RoleClinicAdmin, model.RoleNutri),
			auth.RequireClinicScope(), h.CompleteAppointment)
	}
}

func (h *Handler) RequestAppointment(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	var req model.RequestAppointmentRequest
	if err := httputil.BindOptionalJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, err := h.service.RequestAppointment(c.Request.Context(), claims, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusCreated, apt, "appointment requested")
}

func (h *Handler) ListAppointments(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	appointments, err := h.service.ListAppointments(c.Request.Context(), claims)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, appointments, "")
}

func (h *Handler) GetAppointment(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	apt, err := h.service.GetAppointment(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, apt, "")
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	apt, err := h.service.CancelAppointment(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, apt, "appointment cancelled")
}

func (h *Handler) ScheduleAppointment(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	var req model.ScheduleAppointmentRequest
	if err := httputil.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	apt, err := h.service.ScheduleAppointment(c.Request.Context(), claims, c.Param("id"), req.ScheduledFor)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, apt, "appointment scheduled")
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	claims, _ := middleware.ClaimsFrom(c)

	apt, err := h.service.CompleteAppointment(c.Request.Context(), claims, c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	httputil.RespondWithSuccess(c, http.StatusOK, apt, "appointment completed")
}
