package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/estate-chat/internal/service"
)

type UserHandler struct {
	users service.UserDirectory
}

func NewUserHandler(users service.UserDirectory) *UserHandler {
	return &UserHandler{users: users}
}

type PublicUserResponse struct {
	UID         string  `json:"uid"`
	DisplayName string  `json:"displayName"`
	PhotoURL    *string `json:"photoURL"`
}

func (h *UserHandler) GetPublic(c echo.Context) error {
	uid := c.Param("uid")
	if uid == "" {
		return badRequest(c, "invalid uid")
	}
	user, err := h.users.GetUser(c.Request().Context(), uid)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "user not found"))
		}
		return serviceError(c, err, "failed to load user")
	}
	return c.JSON(http.StatusOK, PublicUserResponse{
		UID:         user.UID,
		DisplayName: user.Name,
		PhotoURL:    user.ProfileImage,
	})
}
