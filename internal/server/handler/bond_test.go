package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertfi/bondd/internal/factory"
	"github.com/convertfi/bondd/internal/fixedpoint"
	"github.com/convertfi/bondd/internal/service"
	"github.com/convertfi/bondd/internal/token"
)

var (
	issuerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	holderAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	collToken  = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	payToken   = common.HexToAddress("0x0000000000000000000000000000000000000d02")
)

type fixture struct {
	mux  *http.ServeMux
	coll *token.Book
	pay  *token.Book
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := token.NewRegistry()
	coll := token.NewBook("COLL")
	pay := token.NewBook("PAY")
	reg.Register(collToken, coll)
	reg.Register(payToken, pay)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.NewBondService(factory.Config{}, reg, service.Deps{Logger: logger})
	h := NewBondHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bonds", h.CreateBond)
	mux.HandleFunc("GET /api/bonds", h.ListBonds)
	mux.HandleFunc("GET /api/bonds/{id}", h.GetBond)
	mux.HandleFunc("POST /api/bonds/{id}/mint", h.Mint)
	mux.HandleFunc("POST /api/bonds/{id}/convert", h.Convert)
	mux.HandleFunc("POST /api/bonds/{id}/pay", h.Pay)
	mux.HandleFunc("POST /api/bonds/{id}/redeem", h.Redeem)
	mux.HandleFunc("POST /api/bonds/{id}/withdraw-collateral", h.WithdrawCollateral)
	mux.HandleFunc("GET /api/bonds/{id}/balances/{address}", h.GetBalance)

	return &fixture{mux: mux, coll: coll, pay: pay}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createBond(t *testing.T) (id string, address common.Address) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/bonds", map[string]any{
		"issuer":            issuerAddr.Hex(),
		"name":              "Test Bond 2027",
		"symbol":            "TB27",
		"maturity_date":     time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"payment_token":     payToken.Hex(),
		"collateral_token":  collToken.Hex(),
		"collateral_ratio":  fixedpoint.One.Dec(),
		"convertible_ratio": fixedpoint.One.Dec(),
		"max_supply":        "1000000",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID      string `json:"id"`
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID, common.HexToAddress(resp.Address)
}

func TestCreateBondEndpoint(t *testing.T) {
	f := newFixture(t)
	id, addr := f.createBond(t)

	rec := f.do(t, http.MethodGet, "/api/bonds/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "TB27", view["symbol"])
	assert.Equal(t, addr.Hex(), view["address"])
	assert.Equal(t, "active", view["status"])
	assert.Equal(t, "0", view["total_supply"])
}

func TestCreateBondRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad issuer", map[string]any{"issuer": "nope"}},
		{"empty body", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/bonds", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMintEndpoint(t *testing.T) {
	f := newFixture(t)
	id, addr := f.createBond(t)

	f.coll.Mint(holderAddr, uint256.NewInt(1000))
	f.coll.Approve(holderAddr, addr, uint256.NewInt(1000))

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/bonds/%s/mint", id), map[string]any{
		"caller": holderAddr.Hex(),
		"amount": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/bonds/%s/balances/%s", id, holderAddr.Hex()), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bal))
	assert.Equal(t, "100", bal["balance"])
}

func TestMintWithoutAllowanceConflicts(t *testing.T) {
	f := newFixture(t)
	id, _ := f.createBond(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/bonds/%s/mint", id), map[string]any{
		"caller": holderAddr.Hex(),
		"amount": "100",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRedeemDefaultPathConflicts(t *testing.T) {
	f := newFixture(t)
	id, addr := f.createBond(t)

	f.coll.Mint(holderAddr, uint256.NewInt(1000))
	f.coll.Approve(holderAddr, addr, uint256.NewInt(1000))
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/bonds/%s/mint", id), map[string]any{
		"caller": holderAddr.Hex(),
		"amount": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// No payment deposited: redemption must be refused.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/bonds/%s/redeem", id), map[string]any{
		"caller": holderAddr.Hex(),
		"amount": "100",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWithdrawCollateralForbiddenForNonIssuer(t *testing.T) {
	f := newFixture(t)
	id, _ := f.createBond(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/bonds/%s/withdraw-collateral", id), map[string]any{
		"caller": holderAddr.Hex(),
		"to":     holderAddr.Hex(),
		"amount": "1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestUnknownBondIs404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/bonds/missing/pay", map[string]any{
		"caller": holderAddr.Hex(),
		"amount": "1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
