// Package apierror maps failures onto the JSON error bodies every endpoint returns.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"lifestyle-studio-server/modules/common/model"
)

// Kind - 에러 분류
type Kind string

const (
	KindNetwork      Kind = "network"
	KindUpstream     Kind = "upstream"
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindUnexpected   Kind = "unexpected"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Status  int // upstream status for KindUpstream
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Message: "network failure", Err: err}
}

func Upstream(status int, body string) *Error {
	return &Error{Kind: KindUpstream, Status: status, Message: fmt.Sprintf("external service returned %d: %s", status, body)}
}

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: field + ": " + msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

// Body - 모든 에러 응답 형태
type Body struct {
	Error string `json:"error"`
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case KindValidation:
			return http.StatusBadRequest
		case KindUnauthorized:
			return http.StatusUnauthorized
		case KindNotFound:
			return http.StatusNotFound
		case KindConflict:
			return http.StatusConflict
		case KindNetwork:
			return http.StatusBadGateway
		case KindUpstream:
			if apiErr.Status >= 400 {
				return apiErr.Status
			}
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Message returns the caller-facing text. Unclassified errors are not echoed.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	switch {
	case errors.Is(err, model.ErrNotFound):
		return model.ErrNotFound.Error()
	case errors.Is(err, model.ErrInvalidTransition):
		return err.Error()
	}
	return "unexpected error"
}

// Write logs err and answers with {"error": ...}.
func Write(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("❌ Request failed")
	} else {
		log.Warn().Err(err).Int("status", status).Msg("⚠️  Request rejected")
	}
	WriteJSON(w, status, Body{Error: Message(err)})
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
