package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/estate-chat/internal/logctx"
	"github.com/shinyyama/estate-chat/internal/middleware"
	"github.com/shinyyama/estate-chat/internal/service"
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error errorPayload `json:"error"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:    code,
			Message: message,
		},
	}
}

var errMissingUID = errors.New("missing uid")

func currentUID(c echo.Context) (string, error) {
	uid, _ := c.Get(middleware.ContextKeyUID).(string)
	if uid == "" {
		return "", errMissingUID
	}
	return uid, nil
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", msg))
}

// serviceError maps service failures onto the HTTP error envelope.
// Unclassified errors are logged and reported as 500 with a generic message.
func serviceError(c echo.Context, err error, fallback string) error {
	var se *service.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case service.KindNotFound:
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", se.Message))
		case service.KindForbidden:
			return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", se.Message))
		case service.KindInvalidArgument:
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", se.Message))
		case service.KindInvalidState:
			return c.JSON(http.StatusBadRequest, NewErrorResponse("invalid_state", se.Message))
		}
	}
	logctx.From(c.Request().Context()).Error("http.handler.fail", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", fallback))
}

func parseIDParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func queryInt(c echo.Context, name string, def int) int {
	if s := c.QueryParam(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}
