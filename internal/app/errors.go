package app

import (
	"errors"
	"net/http"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/auth"
	"eurobansync/api/internal/authpw"
	"eurobansync/api/internal/export"
)

func notFound(what string) *apperr.Error {
	return apperr.NotFound(what + " not found")
}

func remote(message string, err error) *apperr.Error {
	return apperr.Remote(message, err)
}

func denied(action string) *apperr.Error {
	return apperr.Denied("you do not have permission to " + action)
}

// mapError turns any service error into the HTTP status and body fields the
// API returns.
func mapError(err error) (status int, code, message string, details any) {
	switch {
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Correo o contraseña incorrectos", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "PDF_UNAVAILABLE", "PDF export is not available on this server", nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		details = nil
		if appErr.Details != nil {
			details = appErr.Details
		}
		message = appErr.Message
		switch appErr.Kind {
		case apperr.KindValidation:
			return http.StatusBadRequest, appErr.Code, message, details
		case apperr.KindNotFound:
			return http.StatusNotFound, appErr.Code, message, details
		case apperr.KindPermissionDenied:
			return http.StatusForbidden, appErr.Code, message, details
		case apperr.KindConflict:
			return http.StatusConflict, appErr.Code, message, details
		case apperr.KindDecodeFailure:
			return http.StatusUnprocessableEntity, appErr.Code, message, details
		case apperr.KindRemoteFailure:
			return http.StatusBadGateway, appErr.Code, message, details
		}
	}

	if apperr.KindOf(err) == apperr.KindNotFound {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
