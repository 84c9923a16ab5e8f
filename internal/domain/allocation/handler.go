package allocation

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/domain/resource"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/internal/platform/auth"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/apperr"
	"github.com/MaulikMhatre/RUBIX26-64-TEAM-APIcalypse/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – any staff role
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleStaff))
	readGroup.GET("/units", h.ListUnits)
	readGroup.GET("/units/:id", h.GetUnit)
	readGroup.GET("/queue", h.GetQueue)
	readGroup.GET("/queue/entries/:id", h.GetEntry)
	readGroup.GET("/surgery/history", h.ListSurgeryHistory)
	readGroup.GET("/assignments", h.ListAssignments)

	// Write endpoints – clinical staff
	writeGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	writeGroup.POST("/units/:id/admit", h.Admit)
	writeGroup.POST("/units/:id/discharge", h.Discharge)
	writeGroup.POST("/units/:id/cleaning/start", h.StartCleaning)
	writeGroup.POST("/units/:id/cleaning/finish", h.FinishCleaning)
	writeGroup.POST("/triage", h.Triage)
	writeGroup.POST("/queue/checkin", h.CheckIn)
	writeGroup.POST("/rooms/:id/call", h.CallPatient)
	writeGroup.POST("/rooms/:id/call-next", h.CallNext)
	writeGroup.POST("/rooms/:id/complete", h.CompleteConsultation)
	writeGroup.POST("/surgery/:id/start", h.StartSurgery)
	writeGroup.POST("/surgery/:id/extend", h.ExtendSurgery)
	writeGroup.POST("/surgery/:id/complete", h.CompleteSurgery)

	// Operational endpoints – admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/dispatch/:category", h.Dispatch)
}

// httpError converts a service error into the HTTP error echo renders.
func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), apperr.Message(err))
}

// bind decodes path parameters and the body into v and runs the
// registered validator.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(v); err != nil {
		if he, ok := err.(*echo.HTTPError); ok {
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// outcomeStatus is 201 when a unit was assigned and 202 when the patient
// was only queued.
func outcomeStatus(o *Outcome) int {
	if o.Placed() {
		return http.StatusCreated
	}
	return http.StatusAccepted
}

func categoryParam(raw string) (resource.Category, error) {
	if raw == "" {
		return "", nil
	}
	c, err := resource.ParseCategory(raw)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid category")
	}
	return c, nil
}

// -- Unit Handlers --

func (h *Handler) ListUnits(c echo.Context) error {
	category, err := categoryParam(c.QueryParam("category"))
	if err != nil {
		return err
	}
	units, err := h.svc.ListUnits(c.Request().Context(), UnitFilter{
		Category: category,
		State:    resource.State(c.QueryParam("state")),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, units)
}

func (h *Handler) GetUnit(c echo.Context) error {
	u, err := h.svc.GetUnit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Admit(c echo.Context) error {
	var req AdmissionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.UnitID = c.Param("id")
	out, err := h.svc.Admit(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) Discharge(c echo.Context) error {
	u, err := h.svc.Discharge(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) StartCleaning(c echo.Context) error {
	u, err := h.svc.StartCleaning(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) FinishCleaning(c echo.Context) error {
	u, err := h.svc.FinishCleaning(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// -- Queue Handlers --

func (h *Handler) Triage(c echo.Context) error {
	var req TriageRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.svc.Triage(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(outcomeStatus(out), out)
}

func (h *Handler) Dispatch(c echo.Context) error {
	category, err := categoryParam(c.Param("category"))
	if err != nil {
		return err
	}
	out, err := h.svc.Dispatch(c.Request().Context(), category)
	if err != nil {
		return httpError(err)
	}
	if !out.Placed() {
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetQueue(c echo.Context) error {
	category, err := categoryParam(c.QueryParam("category"))
	if err != nil {
		return err
	}
	if category == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "category is required")
	}
	snap, err := h.svc.QueueSnapshot(c.Request().Context(), category)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEntry(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CheckIn(c echo.Context) error {
	var req CheckInRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := h.svc.CheckIn(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, out)
}

// -- Consultation Room Handlers --

func (h *Handler) CallPatient(c echo.Context) error {
	var req RoomCallRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.RoomID = c.Param("id")
	out, err := h.svc.CallPatient(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CallNext(c echo.Context) error {
	out, err := h.svc.CallNext(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CompleteConsultation(c echo.Context) error {
	u, err := h.svc.CompleteConsultation(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

// -- Surgery Handlers --

func (h *Handler) StartSurgery(c echo.Context) error {
	var req SurgeryRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.UnitID = c.Param("id")
	out, err := h.svc.StartSurgery(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ExtendSurgery(c echo.Context) error {
	var req ExtendRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	req.UnitID = c.Param("id")
	u, err := h.svc.ExtendSurgery(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) CompleteSurgery(c echo.Context) error {
	rec, err := h.svc.CompleteSurgery(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListSurgeryHistory(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSurgeryHistory(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Assignment Handlers --

func (h *Handler) ListAssignments(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAssignments(c.Request().Context(), c.QueryParam("unit_id"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
