package transfer

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mamacare/mamacare/internal/platform/auth"
	"github.com/mamacare/mamacare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleClinic, auth.RoleSuperAdmin))
	g.POST("/transfers", h.RequestTransfer)
	g.GET("/transfers", h.ListTransfers)
	g.GET("/transfers/:id", h.GetTransfer)
	g.POST("/transfers/:id/approve", h.ApproveTransfer)
	g.POST("/transfers/:id/reject", h.RejectTransfer)
}

// httpError maps service errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case IsConflict(err):
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

func (h *Handler) RequestTransfer(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// The requesting facility is always the destination.
	req.ToFacilityID = p.FacilityID
	if req.ToFacilityName == "" {
		req.ToFacilityName = p.FacilityName
	}
	req.RequestedBy = p.UserID

	t, err := h.svc.RequestTransfer(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTransfers(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var f Filter
	if s := c.QueryParam("status"); s != "" {
		if f.Status, err = ParseStatus(s); err != nil {
			return httpError(err)
		}
	}
	if f.Direction, err = ParseDirection(c.QueryParam("direction")); err != nil {
		return httpError(err)
	}
	f.FacilityID = c.QueryParam("facility")
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset

	items, total, err := h.svc.GetTransfers(c.Request().Context(), p, f)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Transfer{}
	}
	resp := pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path, c.QueryParams())
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetTransfer(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetTransfer(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ApproveTransfer(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.ApproveTransfer(c.Request().Context(), id, p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

type rejectBody struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectTransfer(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body rejectBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.RejectTransfer(c.Request().Context(), id, p, body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}
