package handler

import (
	"errors"
	"net/http"

	"github.com/silveridc/verigate/internal/api/response"
	"github.com/silveridc/verigate/internal/keys"
	"github.com/silveridc/verigate/internal/settings"
	"github.com/silveridc/verigate/internal/store"
	"github.com/silveridc/verigate/internal/ticket"
)

// failFromError maps domain errors to envelope responses. Anything not in
// the taxonomy is a 500 with a generic message.
func failFromError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ticket.ErrValidation):
		response.Fail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ticket.ErrNotFoundOrExpired):
		response.Fail(w, http.StatusBadRequest, "ticket not found or expired")
	case errors.Is(err, ticket.ErrChallengeRejected):
		response.Fail(w, http.StatusBadRequest, "challenge verification failed")
	case errors.Is(err, ticket.ErrAlreadyUsedOrInvalid):
		response.Fail(w, http.StatusBadRequest, "code invalid")
	case errors.Is(err, keys.ErrKeyTooShort):
		response.Fail(w, http.StatusBadRequest, "api key secret must be at least 16 characters")
	case errors.Is(err, keys.ErrDefaultKeyDeletion):
		response.Fail(w, http.StatusForbidden, "default api key cannot be deleted")
	case errors.Is(err, keys.ErrNotInitialized):
		response.Fail(w, http.StatusInternalServerError, "service not initialized")
	case errors.Is(err, settings.ErrUnknownSetting):
		response.Fail(w, http.StatusBadRequest, "unknown setting name")
	case errors.Is(err, store.ErrNotFound):
		response.Fail(w, http.StatusBadRequest, "not found")
	case errors.Is(err, store.ErrDuplicateKey):
		response.Fail(w, http.StatusBadRequest, "duplicate value")
	default:
		response.Fail(w, http.StatusInternalServerError, "internal error")
	}
}
