package server

import (
	"context"
	"errors"
	"net/http"

	"goldlend/contracts"
	"goldlend/native/swap"
	"goldlend/native/units"
	"goldlend/services/fetcher"
	"goldlend/services/lendingd/journal"
	"goldlend/services/planner"
	"goldlend/services/quoter"
)

var (
	errBadRequest  = errors.New("bad request")
	errForbidden   = errors.New("account does not match token subject")
	errUnavailable = errors.New("not available on this deployment")
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps library errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, errBadRequest),
		errors.Is(err, planner.ErrInvalidAmount),
		errors.Is(err, planner.ErrInvalidAccount),
		errors.Is(err, planner.ErrUnknownIntent),
		errors.Is(err, planner.ErrUnsupportedPair),
		errors.Is(err, planner.ErrExpired),
		errors.Is(err, contracts.ErrAmountOverflow),
		errors.Is(err, contracts.ErrNegativeAmount),
		errors.Is(err, swap.ErrInvalidTolerance),
		errors.Is(err, units.ErrEmptyAmount),
		errors.Is(err, units.ErrInvalidAmount),
		errors.Is(err, quoter.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, fetcher.ErrNotFound), errors.Is(err, journal.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, planner.ErrMarketMismatch), errors.Is(err, quoter.ErrNoLiquidity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, fetcher.ErrNotConfigured), errors.Is(err, errUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, fetcher.ErrBadResponse), errors.Is(err, quoter.ErrQuoteFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. Server-side failures hide their text.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	switch {
	case status == http.StatusBadGateway:
		message = "upstream unavailable"
	case status == http.StatusGatewayTimeout:
		message = "upstream timeout"
	case status >= http.StatusInternalServerError && status != http.StatusNotImplemented:
		message = "internal error"
	}
	writeErrorMessage(w, status, message)
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
