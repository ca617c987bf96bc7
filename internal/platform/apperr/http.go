package apperr

import (
	"errors"
	"net/http"
)

// HTTPStatus maps an error from the taxonomy to a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case IsValidation(err), IsImport(err):
		return http.StatusBadRequest
	case IsNotImplemented(err):
		return http.StatusNotImplemented
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case IsExecution(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
