package billing

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleNursing))
	read.GET("/invoices/:id", h.GetInvoice)
	read.GET("/invoices/:id/lines", h.ListLines)

	write := api.Group("", auth.RequireRole(auth.RoleBilling))
	write.POST("/invoices/:id/service-lines", h.AddServiceLine)
}

func invoiceID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListLines(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := LineFilter{ServiceType: c.QueryParam("service_type")}
	if v := c.QueryParam("include_voided"); v != "" {
		if f.IncludeVoided, err = strconv.ParseBool(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid include_voided flag")
		}
	}
	items, total, err := h.svc.ListLines(c.Request().Context(), id, f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

// AddServiceLine answers 201 for a new line and 200 when the natural
// reference was already billed.
func (h *Handler) AddServiceLine(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	var sc ServiceCharge
	if err := c.Bind(&sc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	line, created, err := h.svc.AddServiceLine(c.Request().Context(), id, sc)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if created {
		return c.JSON(http.StatusCreated, line)
	}
	return c.JSON(http.StatusOK, line)
}
