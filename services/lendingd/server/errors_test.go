package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"goldlend/contracts"
	"goldlend/native/swap"
	"goldlend/services/fetcher"
	"goldlend/services/lendingd/journal"
	"goldlend/services/planner"
	"goldlend/services/quoter"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", fmt.Errorf("%w: amount", errBadRequest), http.StatusBadRequest},
		{"planner amount", planner.ErrInvalidAmount, http.StatusBadRequest},
		{"overflow", fmt.Errorf("%w: amount in", contracts.ErrAmountOverflow), http.StatusBadRequest},
		{"tolerance", swap.ErrInvalidTolerance, http.StatusBadRequest},
		{"expired", planner.ErrExpired, http.StatusBadRequest},
		{"forbidden", errForbidden, http.StatusForbidden},
		{"market missing", fmt.Errorf("read market: %w", fetcher.ErrNotFound), http.StatusNotFound},
		{"action missing", journal.ErrNotFound, http.StatusNotFound},
		{"mismatch", planner.ErrMarketMismatch, http.StatusUnprocessableEntity},
		{"no liquidity", quoter.ErrNoLiquidity, http.StatusUnprocessableEntity},
		{"history disabled", fetcher.ErrNotConfigured, http.StatusNotImplemented},
		{"indexer garbage", fetcher.ErrBadResponse, http.StatusBadGateway},
		{"quote failed", quoter.ErrQuoteFailed, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusFor(tc.err); got != tc.want {
				t.Fatalf("status for %v: want %d got %d", tc.err, tc.want, got)
			}
		})
	}
}

func TestWriteErrorHidesInternalText(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("dial tcp 10.0.0.1:8545: secret topology"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "internal error" {
		t.Fatalf("internal error text leaked: %q", body.Error)
	}

	rec = httptest.NewRecorder()
	writeError(rec, fmt.Errorf("%w: invalid account %q", errBadRequest, "0x1"))
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusBadRequest || body.Error == "internal error" {
		t.Fatalf("client errors must keep their message, got %d %q", rec.Code, body.Error)
	}
}
