// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/EmilynnJ/ccodeseer/internal/domain"
	"github.com/EmilynnJ/ccodeseer/internal/log"
)

// envelope is the uniform response body.
type envelope struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *errBody  `json:"error,omitempty"`
}

type errBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.CodeOf(err)
	status := statusFor(code)
	if status >= 500 {
		lg := log.WithComponentFromContext(r.Context(), "api")
		lg.Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeErrorCode(w, status, code, domain.MessageOf(err))
}

func writeErrorCode(w http.ResponseWriter, status int, code domain.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   &errBody{Code: string(code), Message: message},
	})
}

func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeValidation, domain.CodeInvalidState,
		domain.CodeInsufficientBalance, domain.CodeReaderUnavailable,
		domain.CodeBelowMinPayout, domain.CodeAccountNotActive:
		return http.StatusBadRequest
	case domain.CodeNotAuthorized:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeTransient, domain.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body into dst with a size cap.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Wrap(domain.CodeValidation, "malformed request body", err)
	}
	return nil
}
