package ipd

import (
	"net/http"

	"github.com/golang-sql/civil"
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
	// Read endpoints – admin, billing, nursing
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleNursing))
	read.GET("/admissions", h.ListAdmissions)
	read.GET("/admissions/:id", h.GetAdmission)
	read.GET("/admissions/:id/assignments", h.ListAssignments)
	read.GET("/admissions/:id/room-charges/preview", h.PreviewRoomCharges)

	// Ward movements – admin, nursing
	ward := api.Group("", auth.RequireRole(auth.RoleNursing))
	ward.POST("/admissions", h.Admit)
	ward.POST("/admissions/:id/transfer", h.Transfer)

	// Billing-affecting writes – admin, billing
	bill := api.Group("", auth.RequireRole(auth.RoleBilling))
	bill.POST("/admissions/:id/assignments/corrections", h.RecordCorrection)
	bill.POST("/admissions/:id/room-charges/sync", h.SyncRoomCharges)
	bill.POST("/admissions/:id/discharge", h.Discharge)
	bill.POST("/admissions/:id/status", h.MarkStatus)
}

func admissionID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func dateParam(c echo.Context, name string) (*civil.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(v)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
	}
	return &d, nil
}

func (h *Handler) Admit(c echo.Context) error {
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	adm, err := h.svc.Admit(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, adm)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	adm, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, adm)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := AdmissionFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	items, total, err := h.svc.ListAdmissions(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL))
}

func (h *Handler) ListAssignments(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAssignments(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if items == nil {
		items = []*BedAssignment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Transfer(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	asg, err := h.svc.Transfer(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, asg)
}

func (h *Handler) RecordCorrection(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	var req CorrectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	asg, err := h.svc.RecordCorrection(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, asg)
}

func (h *Handler) PreviewRoomCharges(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	from, err := dateParam(c, "from")
	if err != nil {
		return err
	}
	to, err := dateParam(c, "to")
	if err != nil {
		return err
	}
	p, err := h.svc.Preview(c.Request().Context(), id, from, to)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SyncRoomCharges(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	out, err := h.svc.SyncRoomCharges(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	var req FinalizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.LockedBy = auth.ActorFromContext(c.Request().Context())
	res, err := h.svc.Finalize(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) MarkStatus(c echo.Context) error {
	id, err := admissionID(c)
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.LockedBy = auth.ActorFromContext(c.Request().Context())
	res, err := h.svc.MarkStatus(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}
