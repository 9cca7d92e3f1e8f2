package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/fundstack/fundstack/internal/ledger"
	"github.com/fundstack/fundstack/internal/session"
)

func TestFrom(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.ErrInvalidAmount, http.StatusBadRequest},
		{ledger.ErrSameWallet, http.StatusBadRequest},
		{fmt.Errorf("get wallet w1: %w", ledger.ErrNotFound), http.StatusNotFound},
		{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{ledger.ErrCurrencyMismatch, http.StatusUnprocessableEntity},
		{ledger.ErrConflict, http.StatusConflict},
		{ledger.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{session.ErrNoIdentity, http.StatusUnauthorized},
		{&ledger.PartialError{Op: "deposit", WalletID: "w1", Stage: ledger.StageAppend, Err: ledger.ErrStoreUnavailable}, http.StatusInternalServerError},
		{fiber.NewError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		var fe *fiber.Error
		if !errors.As(From(tc.err), &fe) {
			t.Fatalf("%v: expected fiber error", tc.err)
		}
		if fe.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, fe.Code)
		}
	}
	if !IsCommitted(From(&ledger.PartialError{Op: "transfer", Stage: ledger.StageAppendIn, Err: errors.New("down")})) {
		t.Fatal("expected partial failures to be marked committed")
	}
	if IsCommitted(From(ledger.ErrStoreUnavailable)) {
		t.Fatal("plain store failures must not be marked committed")
	}
	if From(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
