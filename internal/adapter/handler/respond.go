package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	msgEmptyCart     = "cart is empty or does not exist"
	msgInternalError = "internal error"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError is the single place where core errors become HTTP responses.
func respondError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		log.WithError(err).WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternalError})
		return
	}

	switch de.Kind {
	case domain.KindValidation:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: de.Message})
	case domain.KindNotFound:
		writeJSON(w, http.StatusNotFound, errorResponse{Error: de.Message})
	case domain.KindEmptyCart:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgEmptyCart})
	case domain.KindNoStockAvailable:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: de.Message, UnprocessedProducts: de.Unprocessed})
	case domain.KindConflict:
		writeJSON(w, http.StatusConflict, errorResponse{Error: de.Message})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgInternalError})
	}
}
