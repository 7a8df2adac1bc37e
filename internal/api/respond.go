package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"dextra-ledger/internal/domain"
	"dextra-ledger/internal/solana"
	"dextra-ledger/internal/storage"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("pubkey", func(fl validator.FieldLevel) bool {
		_, err := solana.ParsePublicKey(fl.Field().String())
		return err == nil
	})
	return v
}

// problem is the error body of every failed request.
type problem struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

// Amount is a raw token amount with its display form.
type Amount struct {
	Raw uint64          `json:"raw,string"`
	UI  decimal.Decimal `json:"ui_amount"`
}

func newAmount(raw uint64, decimals uint8) Amount {
	return Amount{
		Raw: raw,
		UI:  decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals)),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, problem{Error: code, Message: msg})
}

// writeError maps ledger and storage errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	code := domain.CodeOf(err)
	if code == "" {
		code = http.StatusText(status)
	}
	p := problem{Error: code, Message: err.Error()}
	if k := domain.KindOf(err); k != domain.KindUnknown {
		p.Kind = k.String()
	}
	writeJSON(w, status, p)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrPoolDoesNotExist), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindState, domain.KindArithmetic:
		return http.StatusUnprocessableEntity
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindRelay:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst and validates it.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidJSON", err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return false
	}
	return true
}

func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidPath", fmt.Sprintf("%s: %v", name, err))
		return 0, false
	}
	return v, true
}

func pathKey(w http.ResponseWriter, r *http.Request, name string) (solana.PublicKey, bool) {
	pk, err := solana.ParsePublicKey(mux.Vars(r)[name])
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "InvalidPath", fmt.Sprintf("%s: %v", name, err))
		return solana.PublicKey{}, false
	}
	return pk, true
}

// parseKey parses an optional base58 key; "" yields the zero key.
func parseKey(s string) solana.PublicKey {
	if s == "" {
		return solana.PublicKey{}
	}
	return solana.MustPublicKey(s)
}
