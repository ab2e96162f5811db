package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nmbsim/nmbsim/internal/domain/pkpd"
	"github.com/nmbsim/nmbsim/internal/platform/auth"
	"github.com/nmbsim/nmbsim/pkg/pagination"
)

// CacheHeader reports whether a result came from the result cache.
const CacheHeader = "X-Cache"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/models", h.ListModels)
	api.POST("/parameters", h.DeriveParameters)
	api.POST("/validate", h.ValidateRequest)

	sim := api.Group("/simulations", auth.RequireRole(auth.SimulationRoles...))
	sim.POST("", h.Simulate)
	sim.POST("/points", h.SimulatePoints)
	sim.POST("/export", h.Export)
}

// SimulationResponse is the body of POST /simulations.
type SimulationResponse struct {
	*pkpd.SimulationResult
	Warnings []string `json:"warnings,omitempty"`
}

func (h *Handler) ListModels(c echo.Context) error {
	pg := pagination.FromContext(c)
	models := h.svc.Models()
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(models, pg), len(models), pg.Limit, pg.Offset))
}

func (h *Handler) DeriveParameters(c echo.Context) error {
	var p pkpd.Patient
	if err := c.Bind(&p); err != nil {
		return badRequest(err)
	}
	tag(c, p)
	resp, err := h.svc.Parameters(p)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ValidateRequest(c echo.Context) error {
	req, err := bind(c)
	if err != nil {
		return err
	}
	msgs := h.svc.Validate(*req)
	if msgs == nil {
		msgs = []string{}
	}
	return c.JSON(http.StatusOK, ValidationReport{Valid: len(msgs) == 0, Errors: msgs})
}

func (h *Handler) Simulate(c echo.Context) error {
	out, err := h.run(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SimulationResponse{SimulationResult: out.Result, Warnings: out.Warnings})
}

// SimulatePoints runs the request and returns one page of the minute series.
func (h *Handler) SimulatePoints(c echo.Context) error {
	out, err := h.run(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	points := out.Result.TimePoints
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(points, pg), len(points), pg.Limit, pg.Offset))
}

// Export runs the request and returns it as a csv or xlsx attachment.
func (h *Handler) Export(c echo.Context) error {
	format := strings.ToLower(c.QueryParam("format"))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return errorBody(http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
	}

	out, err := h.run(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if format == FormatXLSX {
		err = WriteXLSX(&buf, out.Result)
	} else {
		err = pkpd.WriteCSV(&buf, out.Result)
	}
	if err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", Filename(out.Result, format)))
	return c.Blob(http.StatusOK, ContentType(format), buf.Bytes())
}

func (h *Handler) run(c echo.Context) (*Outcome, error) {
	req, err := bind(c)
	if err != nil {
		return nil, err
	}
	tag(c, req.Patient)

	out, err := h.svc.Simulate(c.Request().Context(), *req)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if out.Cached {
		c.Response().Header().Set(CacheHeader, "HIT")
	} else {
		c.Response().Header().Set(CacheHeader, "MISS")
	}
	return out, nil
}

func bind(c echo.Context) (*Request, error) {
	var req Request
	if err := c.Bind(&req); err != nil {
		return nil, badRequest(err)
	}
	return &req, nil
}

// tag exposes the patient to the audit middleware.
func tag(c echo.Context, p pkpd.Patient) {
	c.Set("patient_id", p.ID)
	c.Set("model", string(p.Model))
}

func errorBody(code int, msgs ...string) *echo.HTTPError {
	return echo.NewHTTPError(code, map[string][]string{"errors": msgs})
}

func badRequest(err error) *echo.HTTPError {
	msg := "invalid request body"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}
	return errorBody(http.StatusBadRequest, msg)
}

// toHTTPError maps engine and service errors onto status codes.
func toHTTPError(err error) error {
	var ve *pkpd.ValidationError
	var ume *pkpd.UnknownModelError
	switch {
	case errors.As(err, &ve):
		return errorBody(http.StatusUnprocessableEntity, ve.Messages...)
	case errors.As(err, &ume), errors.Is(err, pkpd.ErrNoDoseEvents):
		return errorBody(http.StatusBadRequest, err.Error())
	default:
		return err
	}
}
