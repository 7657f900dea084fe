package tariff

import (
	"net/http"
	"strconv"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc      *Service
	resolver *Resolver
}

func NewHandler(svc *Service, resolver *Resolver) *Handler {
	return &Handler{svc: svc, resolver: resolver}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "billing", "nursing"))
	read.GET("/bed-rates", h.ListRates)
	read.GET("/bed-rates/:id", h.GetRate)
	read.GET("/bed-rates/resolve", h.ResolveRate)

	write := api.Group("", auth.RequireRole("admin", "billing"))
	write.POST("/bed-rates", h.CreateRate)
	write.PUT("/bed-rates/:id", h.UpdateRate)
}

type rateRequest struct {
	RoomType      string          `json:"room_type"`
	DailyRate     decimal.Decimal `json:"daily_rate"`
	EffectiveFrom civil.Date      `json:"effective_from"`
	EffectiveTo   *civil.Date     `json:"effective_to"`
	IsActive      *bool           `json:"is_active"`
}

func (req rateRequest) toRate() *BedRate {
	r := &BedRate{
		RoomType:      req.RoomType,
		DailyRate:     req.DailyRate,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
		IsActive:      true,
	}
	if req.IsActive != nil {
		r.IsActive = *req.IsActive
	}
	return r
}

func (h *Handler) CreateRate(c echo.Context) error {
	var req rateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rate := req.toRate()
	if err := h.svc.CreateRate(c.Request().Context(), rate); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, rate)
}

func (h *Handler) GetRate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rate, err := h.svc.GetRate(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rate)
}

func (h *Handler) UpdateRate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rate := req.toRate()
	rate.ID = id
	if err := h.svc.UpdateRate(c.Request().Context(), rate); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rate)
}

func (h *Handler) ListRates(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{RoomType: c.QueryParam("room_type")}
	if v := c.QueryParam("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active flag")
		}
		f.ActiveOnly = active
	}
	items, total, err := h.svc.ListRates(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

// ResolveRate answers ?room_type=&date= with the tariff that would be billed.
func (h *Handler) ResolveRate(c echo.Context) error {
	roomType := c.QueryParam("room_type")
	if roomType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room_type is required")
	}
	day, err := civil.ParseDate(c.QueryParam("date"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
	}
	res, err := h.resolver.Resolve(c.Request().Context(), roomType, day)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"date":         day,
		"room_type":    res.RoomType,
		"rate":         res.Rate,
		"rate_id":      res.RateID,
		"rate_missing": res.Missing(),
	})
}
