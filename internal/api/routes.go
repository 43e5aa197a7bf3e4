package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
	"github.com/satriahrh/parley/internal/auth"
	"github.com/satriahrh/parley/internal/metrics"
	"github.com/satriahrh/parley/internal/websocket"
)

const claimsKey = "claims"

// SessionController is the session surface exposed over HTTP
type SessionController interface {
	websocket.Controller
	StartSession(ctx context.Context, params entities.SessionParams) (entities.Session, error)
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	LastRecordID() string
	Status() entities.SessionSnapshot
}

// Deps wires the routes. A nil Issuer leaves every route open, which is only
// meant for local use.
type Deps struct {
	Sessions      SessionController
	Reports       repositories.ReportRepository
	Hub           *websocket.Hub
	Issuer        *auth.Issuer
	ControlSecret string
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	// Ready reports storage reachability on /health; nil means always ready
	Ready         func(ctx context.Context) error
}

type handlers struct {
	Deps
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps) {
	h := &handlers{Deps: deps}

	e.GET("/health", h.health)
	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)

	watch := h.requireScope(auth.ScopeWatch)
	control := h.requireScope(auth.ScopeControl)

	session := v1.Group("/session")
	session.POST("", h.startSession, control)
	session.POST("/connect", h.connect, control)
	session.POST("/disconnect", h.disconnect, control)
	session.POST("/mic", h.toggle(SessionController.ToggleMic), control)
	session.POST("/camera", h.toggle(SessionController.ToggleCamera), control)
	session.POST("/screen", h.toggle(SessionController.ToggleScreenShare), control)
	session.POST("/text", h.sendText, control)
	session.PUT("/volume", h.setVolume, control)
	session.POST("/end", h.endSession, control)
	session.GET("/status", h.status, watch)
	session.GET("/transcript", h.transcript, watch)

	v1.GET("/reports", h.listReports, watch)
	v1.GET("/reports/:id", h.getReport, watch)

	e.GET("/ws", h.stream, watch)
}

func (h *handlers) health(c echo.Context) error {
	if h.Ready != nil {
		if err := h.Ready(c.Request().Context()); err != nil {
			h.Logger.Warn("Health check failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "degraded",
				"service": "parley",
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "parley",
	})
}

func (h *handlers) issueToken(c echo.Context) error {
	if h.Issuer == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Token issuing is disabled; routes are open",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}
	if req.ClientID == "" || req.Secret == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "client_id and secret are required",
		})
	}
	if req.Scope == "" {
		req.Scope = auth.ScopeControl
	}

	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.ControlSecret)) != 1 {
		h.Logger.Warn("Token request rejected", zap.String("client_id", req.ClientID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid credentials",
		})
	}

	token, expiresAt, err := h.Issuer.GenerateToken(req.ClientID, req.Scope)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidScope) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_scope", Message: err.Error()})
		}
		h.Logger.Error("Failed to generate token", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.Logger.Info("Token issued", zap.String("client_id", req.ClientID), zap.String("scope", req.Scope))
	return c.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiresAt, Scope: req.Scope})
}

// requireScope validates the bearer token. Browsers cannot set headers on a
// websocket upgrade, so a token query parameter is accepted as well.
func (h *handlers) requireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.Issuer == nil {
				return next(c)
			}

			token := c.QueryParam("token")
			if authHeader := c.Request().Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
			if token == "" {
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required",
				})
			}

			claims, err := h.Issuer.ValidateToken(token)
			if err != nil {
				h.Logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}
			if !claims.Allows(scope) {
				return c.JSON(http.StatusForbidden, ErrorResponse{
					Error:   "invalid_scope",
					Message: auth.ErrForbidden.Error(),
				})
			}

			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

func (h *handlers) startSession(c echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}

	session, err := h.Sessions.StartSession(c.Request().Context(), entities.SessionParams{Role: req.Role, Level: req.Level})
	if err != nil {
		return h.sessionError(c, err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, SessionResponse{
		ID:        session.ID,
		State:     session.State,
		Params:    session.Params,
		CreatedAt: session.CreatedAt,
	})
}

func (h *handlers) connect(c echo.Context) error {
	if err := h.Sessions.Connect(c.Request().Context()); err != nil {
		return h.sessionError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.Sessions.Status())
}

func (h *handlers) disconnect(c echo.Context) error {
	if err := h.Sessions.Disconnect(c.Request().Context()); err != nil {
		return h.sessionError(c, err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, h.Sessions.Status())
}

func (h *handlers) toggle(fn func(SessionController, context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := fn(h.Sessions, c.Request().Context()); err != nil {
			return h.sessionError(c, err, http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, h.Sessions.Status())
	}
}

func (h *handlers) sendText(c echo.Context) error {
	var req SendTextRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Invalid request format"})
	}
	if err := h.Sessions.SendText(c.Request().Context(), req.Text); err != nil {
		return h.sessionError(c, err, http.StatusBadRequest)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *handlers) setVolume(c echo.Context) error {
	var req VolumeRequest
	if err := c.Bind(&req); err != nil || req.Gain == nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "gain is required"})
	}
	if *req.Gain < 0 || *req.Gain > 2 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "gain must be between 0 and 2"})
	}
	h.Sessions.SetVolume(*req.Gain)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) endSession(c echo.Context) error {
	report, err := h.Sessions.EndSession(c.Request().Context())
	if err != nil && entities.IsCategory(err, entities.CategoryState) {
		return h.sessionError(c, err, http.StatusConflict)
	}

	resp := EndSessionResponse{Report: report, RecordID: h.Sessions.LastRecordID()}
	if err != nil {
		resp.SaveError = err.Error()
		resp.RecordID = ""
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *handlers) status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Sessions.Status())
}

func (h *handlers) transcript(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Sessions.Status().Transcript)
}

func (h *handlers) listReports(c echo.Context) error {
	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_limit", Message: "limit must be between 1 and 100"})
		}
		limit = n
	}

	records, err := h.Reports.ListRecent(c.Request().Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list reports", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "storage_error", Message: "Failed to list reports"})
	}
	return c.JSON(http.StatusOK, records)
}

func (h *handlers) getReport(c echo.Context) error {
	record, err := h.Reports.GetByID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repositories.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Report not found"})
	}
	if err != nil {
		h.Logger.Error("Failed to get report", zap.String("id", c.Param("id")), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "storage_error", Message: "Failed to get report"})
	}
	return c.JSON(http.StatusOK, record)
}

func (h *handlers) stream(c echo.Context) error {
	clientID := "local"
	canControl := true
	if claims, ok := c.Get(claimsKey).(*auth.JWTClaims); ok {
		clientID = claims.ClientID
		canControl = claims.Allows(auth.ScopeControl)
	}
	return websocket.HandleWebSocket(h.Hub, c, clientID, canControl)
}

// sessionError maps the error taxonomy onto HTTP statuses. fallback is used
// for errors outside the taxonomy, which are validation failures for most
// commands.
func (h *handlers) sessionError(c echo.Context, err error, fallback int) error {
	category := entities.CategoryOf(err)
	status := fallback
	switch category {
	case entities.CategoryState, entities.CategoryNotConnected:
		status = http.StatusConflict
	case entities.CategoryPermission:
		status = http.StatusForbidden
	case entities.CategoryDevice, entities.CategoryCodec:
		status = http.StatusUnprocessableEntity
	case entities.CategoryConnection, entities.CategoryProtocol:
		status = http.StatusBadGateway
	}

	message := err.Error()
	var domainErr *entities.Error
	if errors.As(err, &domainErr) {
		message = domainErr.Message
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Session command failed", zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{Error: "session_error", Message: message, Category: category})
}
