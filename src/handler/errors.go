package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps business errors to HTTP status codes. Anything not in
// the taxonomy is a 500 and gets logged; taxonomy errors are the caller's
// fault and are returned verbatim.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, model.ErrInsufficientFunds),
		errors.Is(err, model.ErrInvalidUnlock),
		errors.Is(err, model.ErrInvalidPrice),
		errors.Is(err, model.ErrInvalidQuantity):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownSymbol),
		errors.Is(err, model.ErrOrderNotFound),
		errors.Is(err, model.ErrWalletNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrInvalidStateTransition),
		errors.Is(err, model.ErrOverFill),
		errors.Is(err, model.ErrWalletExists):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
		http.Error(w, "Internal Server Error", status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorResponse{Error: err.Error()}); encodeErr != nil {
		logger.WithError(encodeErr).Error("failed to encode error response")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
