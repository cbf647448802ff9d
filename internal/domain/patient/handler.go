package patient

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mamacare/mamacare/internal/domain/transfer"
	"github.com/mamacare/mamacare/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleClinic, auth.RoleSuperAdmin))
	g.GET("/patients/lookup", h.FindByPhone)
	g.POST("/patients", h.Enroll)
	g.GET("/patients/:id", h.GetPatient)
	g.PUT("/patients/:id/appointment", h.ScheduleAppointment)
	g.PUT("/patients/:id/channel", h.SetChannelPreference)
	g.POST("/patients/:id/medications", h.AddMedication)
	g.GET("/patients/:id/medications", h.ListMedications)

	meds := api.Group("", auth.RequireRole(auth.RoleClinic, auth.RolePatient, auth.RoleSuperAdmin))
	meds.PUT("/medications/:id/taken", h.MarkMedicationTaken)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, transfer.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMedicationNotFound), errors.Is(err, transfer.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPhoneTaken), transfer.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func principal(c echo.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return p, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return p, nil
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) FindByPhone(c echo.Context) error {
	raw := c.QueryParam("phone")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone is required")
	}
	l, err := h.svc.FindByPhone(c.Request().Context(), raw)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) Enroll(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req EnrollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Enroll(c.Request().Context(), req, p)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	switch res.Outcome {
	case OutcomeCreated:
		status = http.StatusCreated
	case OutcomeTransferRequested:
		status = http.StatusAccepted
	}
	return c.JSON(status, res)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	pt, err := h.svc.GetPatient(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pt)
}

type appointmentBody struct {
	At *time.Time `json:"at"`
}

func (h *Handler) ScheduleAppointment(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body appointmentBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pt, err := h.svc.ScheduleAppointment(c.Request().Context(), id, body.At, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pt)
}

type channelBody struct {
	Channel string `json:"channel"`
}

func (h *Handler) SetChannelPreference(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body channelBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	pt, err := h.svc.SetChannelPreference(c.Request().Context(), id, body.Channel, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pt)
}

func (h *Handler) AddMedication(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.AddMedication(c.Request().Context(), id, &m, p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, &m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMedications(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Medication{}
	}
	return c.JSON(http.StatusOK, items)
}

type takenBody struct {
	Taken *bool `json:"taken"`
}

func (h *Handler) MarkMedicationTaken(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body takenBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	taken := true
	if body.Taken != nil {
		taken = *body.Taken
	}
	m, err := h.svc.MarkMedicationTaken(c.Request().Context(), id, taken, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}
