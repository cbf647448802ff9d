package reminder

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mamacare/mamacare/internal/platform/auth"
	"github.com/mamacare/mamacare/internal/platform/clock"
	"github.com/mamacare/mamacare/pkg/pagination"
)

// CronTokenHeader carries the shared secret for the cron trigger.
const CronTokenHeader = "x-auth-token"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleClinic, auth.RoleSuperAdmin))
	readGroup.GET("/reminders/pending", h.ListPending)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleSuperAdmin))
	adminGroup.POST("/reminders/generate", h.Generate)
	adminGroup.POST("/reminders/dispatch", h.Dispatch)
}

func (h *Handler) ListPending(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.GetPendingReminders(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Reminder{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Generate(c echo.Context) error {
	res, err := h.svc.GenerateDailyReminders(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Dispatch(c echo.Context) error {
	res, err := h.svc.DispatchDue(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

// CycleRunner runs one generate-and-dispatch cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (CycleResult, error)
}

// CronResponse is the body returned by the cron trigger.
type CronResponse struct {
	Success   bool         `json:"success"`
	Message   string       `json:"message"`
	Timestamp string       `json:"timestamp,omitempty"`
	Result    *CycleResult `json:"result,omitempty"`
}

// CronHandler serves the externally scheduled trigger. It authenticates with
// a shared secret instead of a bearer token.
type CronHandler struct {
	runner CycleRunner
	secret string
	clock  clock.Clock
	logger zerolog.Logger
}

func NewCronHandler(runner CycleRunner, secret string, clk clock.Clock, logger zerolog.Logger) *CronHandler {
	return &CronHandler{runner: runner, secret: secret, clock: clk, logger: logger}
}

func (h *CronHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/api/reminder-cron", h.Trigger)
}

func (h *CronHandler) authorized(token string) bool {
	if h.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}

func (h *CronHandler) Trigger(c echo.Context) error {
	if !h.authorized(c.Request().Header.Get(CronTokenHeader)) {
		h.logger.Warn().Str("remote_ip", c.RealIP()).Msg("rejected reminder cron trigger")
		return c.JSON(http.StatusUnauthorized, CronResponse{Success: false, Message: "Unauthorized"})
	}

	res, err := h.runner.RunCycle(c.Request().Context())
	ts := h.clock.Now().UTC().Format(time.RFC3339)
	if err != nil {
		h.logger.Error().Err(err).Msg("reminder cron cycle failed")
		return c.JSON(http.StatusInternalServerError, CronResponse{
			Success:   false,
			Message:   "Failed to process reminders: " + err.Error(),
			Timestamp: ts,
		})
	}

	msg := "Reminders processed successfully"
	if res.Dispatch.Skipped {
		msg = "Reminders generated; dispatch already in progress"
	}
	return c.JSON(http.StatusOK, CronResponse{
		Success:   true,
		Message:   msg,
		Timestamp: ts,
		Result:    &res,
	})
}
