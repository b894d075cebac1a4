package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/identity"
)

func (h *handlers) localizedError(c echo.Context, status int, err error) error {
	msg := identity.Message(err, c.Request().Header.Get("Accept-Language"))
	return c.JSON(status, errorResponse{Error: msg})
}

func isValidationError(err error) bool {
	return errors.Is(err, identity.ErrInvalidEmail) ||
		errors.Is(err, identity.ErrWeakPassword) ||
		errors.Is(err, identity.ErrPasswordTooLong)
}

func (h *handlers) signUp(c echo.Context) error {
	var body credentialsRequest
	if err := decodeBody(c, &body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	u, err := h.Accounts.SignUp(c.Request().Context(), body.Email, body.Password)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, u)
	case isValidationError(err):
		return h.localizedError(c, http.StatusBadRequest, err)
	case errors.Is(err, identity.ErrUserExists):
		return h.localizedError(c, http.StatusConflict, err)
	default:
		h.Logger.WithError(err).Error("sign up failed")
		return h.localizedError(c, http.StatusBadGateway, err)
	}
}

func (h *handlers) signIn(c echo.Context) error {
	var body credentialsRequest
	if err := decodeBody(c, &body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	s, err := h.Accounts.SignIn(c.Request().Context(), body.Email, body.Password)
	switch {
	case err == nil:
		claims := s.Claims()
		h.Logger.WithFields(log.Fields{
			"user_id":    claims.UserID,
			"token_id":   claims.TokenID,
			"expires_at": claims.ExpiresAt,
		}).Info("user signed in")
		return c.JSON(http.StatusOK, s)
	case errors.Is(err, identity.ErrInvalidCredentials):
		return h.localizedError(c, http.StatusUnauthorized, err)
	default:
		h.Logger.WithError(err).Error("sign in failed")
		return h.localizedError(c, http.StatusBadGateway, err)
	}
}

func (h *handlers) signOut(c echo.Context) error {
	ctx := c.Request().Context()
	u, claims, err := h.authenticate(c)
	if err != nil {
		return h.localizedError(c, http.StatusUnauthorized, err)
	}
	if err := h.Accounts.SignOut(ctx, claims); err != nil {
		return h.localizedError(c, http.StatusBadGateway, err)
	}
	h.Sessions.Release(ctx, u.ID)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) me(c echo.Context) error {
	u, _, err := h.authenticate(c)
	if err != nil {
		return h.localizedError(c, http.StatusUnauthorized, err)
	}
	return c.JSON(http.StatusOK, u)
}
