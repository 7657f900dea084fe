package apperr

import (
	"errors"

	"github.com/labstack/echo/v4"
)

// Body is the JSON error body returned by the API.
type Body struct {
	Error   Kind              `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ToHTTP converts err into an echo.HTTPError carrying its kind and details.
// Errors without a kind become 500s and keep the message out of the body.
func ToHTTP(err error) *echo.HTTPError {
	var ae *Error
	if !errors.As(err, &ae) {
		he := echo.NewHTTPError(HTTPStatus(err), "internal error")
		he.Internal = err
		return he
	}
	he := echo.NewHTTPError(HTTPStatus(err), Body{Error: ae.Kind, Message: ae.Message, Details: ae.Details})
	he.Internal = err
	return he
}
