// Package api is the HTTP surface: routing, middleware, and the mapping from
// service-layer errors to RFC 7807 problem envelopes.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/saptiva-ai/copilotos/pkg/auth"
	"github.com/saptiva-ai/copilotos/pkg/chat"
	"github.com/saptiva-ai/copilotos/pkg/llm"
	"github.com/saptiva-ai/copilotos/pkg/mcp"
	"github.com/saptiva-ai/copilotos/pkg/services"
	"github.com/saptiva-ai/copilotos/pkg/store"
)

// Problem is the RFC 7807 envelope with a semantic code.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail"`
	Code     string       `json:"code"`
	Instance string       `json:"instance,omitempty"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError pinpoints a rejected request field.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

const problemTypeAbout = "about:blank"

func newProblem(status int, code, detail string) *Problem {
	return &Problem{
		Type:   problemTypeAbout,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Code:   code,
	}
}

// mapError translates service-layer failures into problem envelopes. Unknown
// errors become a generic 500 without internals.
func mapError(err error) *Problem {
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		detail := httpErr.Message
		if detail == "" {
			detail = http.StatusText(httpErr.Code)
		}
		return newProblem(httpErr.Code, codeForStatus(httpErr.Code), detail)
	}

	var validErr *auth.ValidationError
	if errors.As(err, &validErr) {
		p := newProblem(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Los datos enviados no son válidos.")
		p.Errors = []FieldError{{Loc: []string{"body", validErr.Field}, Msg: validErr.Reason, Type: "value_error"}}
		return p
	}

	var timeoutErr *llm.ErrUpstreamTimeout
	if errors.As(err, &timeoutErr) {
		return newProblem(http.StatusGatewayTimeout, "TIMEOUT", timeoutErr.Error())
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return newProblem(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Credenciales inválidas.")
	case errors.Is(err, auth.ErrUserInactive):
		return newProblem(http.StatusUnauthorized, "ACCOUNT_INACTIVE", "La cuenta está desactivada.")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrTokenRevoked):
		return newProblem(http.StatusUnauthorized, "INVALID_TOKEN", "El token no es válido o ha expirado.")
	case errors.Is(err, auth.ErrUsernameTaken):
		return newProblem(http.StatusConflict, "USERNAME_EXISTS", "El nombre de usuario ya existe.")
	case errors.Is(err, auth.ErrEmailTaken):
		return newProblem(http.StatusConflict, "DUPLICATE_EMAIL", "El correo ya está registrado.")
	case errors.Is(err, auth.ErrPasswordMismatch):
		return newProblem(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Credenciales inválidas.")
	case errors.Is(err, services.ErrForbidden), errors.Is(err, chat.ErrNotSessionOwner):
		return newProblem(http.StatusForbidden, "PERMISSION_DENIED", "No tienes acceso a este recurso.")
	case errors.Is(err, services.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, mcp.ErrTaskNotFound):
		return newProblem(http.StatusNotFound, "NOT_FOUND", "El recurso solicitado no existe.")
	case errors.Is(err, services.ErrUnsupportedFormat):
		return newProblem(http.StatusBadRequest, "INVALID_FORMAT", "Formato de exportación no soportado.")
	}

	slog.Error("Unexpected service error", "error", err)
	return newProblem(http.StatusInternalServerError, "INTERNAL_ERROR", "Error interno del servidor.")
}

// codeForStatus supplies a semantic code for bare HTTP errors.
func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_INPUT"
	case http.StatusUnauthorized:
		return "INVALID_TOKEN"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusGone:
		return "GONE"
	case http.StatusUnprocessableEntity:
		return "VALIDATION_ERROR"
	case http.StatusTooManyRequests:
		return "RATE_LIMIT"
	case http.StatusGatewayTimeout:
		return "TIMEOUT"
	default:
		return "INTERNAL_ERROR"
	}
}

// httpErrorHandler renders every unhandled error as a problem envelope.
func httpErrorHandler(c *echo.Context, err error) {
	if res, _ := echo.UnwrapResponse(c.Response()); res != nil && res.Committed {
		return
	}
	problem := mapError(err)
	problem.Instance = c.Request().URL.Path
	if jsonErr := c.JSON(problem.Status, problem); jsonErr != nil {
		slog.Error("Failed to write error response", "error", jsonErr)
	}
}
