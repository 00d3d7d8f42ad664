package server

import (
	"net/http"

	apperrors "github.com/keygate/keygate/internal/errors"
)

// HandleError is the single responder for router, handler and forwarder errors.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	apperrors.RespondWithError(w, r, err)
}
