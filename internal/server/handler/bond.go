package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/convertfi/bondd/internal/domain"
)

// BondService defines the methods the bond handler requires from the service
// layer. It is declared locally so the handler package does not depend on
// the concrete service implementation.
type BondService interface {
	CreateBond(ctx context.Context, issuer common.Address, cfg domain.BondConfig) (domain.Bond, error)
	GetBond(ctx context.Context, bondID string) (domain.Bond, error)
	ListBonds(ctx context.Context, opts domain.ListOpts) ([]domain.Bond, error)

	Mint(ctx context.Context, bondID string, caller common.Address, shares *uint256.Int) error
	Convert(ctx context.Context, bondID string, caller common.Address, shares *uint256.Int) error
	Pay(ctx context.Context, bondID string, caller common.Address, amount *uint256.Int) error
	Redeem(ctx context.Context, bondID string, caller common.Address, shares *uint256.Int) error
	WithdrawCollateral(ctx context.Context, bondID string, caller, to common.Address, amount *uint256.Int) error
	WithdrawPayment(ctx context.Context, bondID string, caller, to common.Address, amount *uint256.Int) error

	Supply(ctx context.Context, bondID string) (supply, paid *uint256.Int, err error)
	BalanceOf(ctx context.Context, bondID string, holder common.Address) (*uint256.Int, error)
	Status(ctx context.Context, bondID string) (domain.BondStatus, error)
	AmountOwed(ctx context.Context, bondID string) (*uint256.Int, error)
	Events(ctx context.Context, bondID string, opts domain.ListOpts) ([]domain.Event, error)
}

// BondHandler serves the bond HTTP endpoints.
type BondHandler struct {
	bonds  BondService
	logger *slog.Logger
}

// NewBondHandler creates a BondHandler with the given service and logger.
func NewBondHandler(bonds BondService, logger *slog.Logger) *BondHandler {
	return &BondHandler{
		bonds:  bonds,
		logger: logger,
	}
}

// --- request / response shapes ---

// createBondRequest is the JSON body for POST /api/bonds. Ratios and
// max_supply travel as decimal strings in 1e18 fixed-point.
type createBondRequest struct {
	Issuer           string    `json:"issuer"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	MaturityDate     time.Time `json:"maturity_date"`
	PaymentToken     string    `json:"payment_token"`
	CollateralToken  string    `json:"collateral_token"`
	CollateralRatio  string    `json:"collateral_ratio"`
	ConvertibleRatio string    `json:"convertible_ratio"`
	MaxSupply        string    `json:"max_supply"`
}

// opRequest is the JSON body for the mint/convert/pay/redeem endpoints.
type opRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// withdrawRequest is the JSON body for the issuer withdrawal endpoints.
type withdrawRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type bondView struct {
	ID               string    `json:"id"`
	Address          string    `json:"address"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	Issuer           string    `json:"issuer"`
	MaturityDate     time.Time `json:"maturity_date"`
	PaymentToken     string    `json:"payment_token"`
	CollateralToken  string    `json:"collateral_token"`
	CollateralRatio  string    `json:"collateral_ratio"`
	ConvertibleRatio string    `json:"convertible_ratio"`
	MaxSupply        string    `json:"max_supply"`
	CreatedAt        time.Time `json:"created_at"`
}

type bondDetailView struct {
	bondView
	Status      string `json:"status"`
	TotalSupply string `json:"total_supply"`
	Paid        string `json:"paid"`
	AmountOwed  string `json:"amount_owed"`
}

type eventView struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Actor      string    `json:"actor"`
	Amount     string    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

func toBondView(b domain.Bond) bondView {
	return bondView{
		ID:               b.ID,
		Address:          b.Address.Hex(),
		Name:             b.Config.Name,
		Symbol:           b.Config.Symbol,
		Issuer:           b.Config.Issuer.Hex(),
		MaturityDate:     b.Config.MaturityDate,
		PaymentToken:     b.Config.PaymentToken.Hex(),
		CollateralToken:  b.Config.CollateralToken.Hex(),
		CollateralRatio:  b.Config.CollateralRatio.Dec(),
		ConvertibleRatio: b.Config.ConvertibleRatio.Dec(),
		MaxSupply:        b.Config.MaxSupply.Dec(),
		CreatedAt:        b.CreatedAt,
	}
}

// --- endpoints ---

// CreateBond creates a new bond ledger.
// POST /api/bonds
func (h *BondHandler) CreateBond(w http.ResponseWriter, r *http.Request) {
	var req createBondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	issuer, err := parseAddress(req.Issuer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payTok, err := parseAddress(req.PaymentToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collTok, err := parseAddress(req.CollateralToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collRatio, err := parseAmount(req.CollateralRatio)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	convRatio, err := parseAmount(req.ConvertibleRatio)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxSupply, err := parseAmount(req.MaxSupply)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg := domain.BondConfig{
		Name:             req.Name,
		Symbol:           req.Symbol,
		Issuer:           issuer,
		MaturityDate:     req.MaturityDate,
		PaymentToken:     payTok,
		CollateralToken:  collTok,
		CollateralRatio:  collRatio,
		ConvertibleRatio: convRatio,
		MaxSupply:        maxSupply,
	}

	bond, err := h.bonds.CreateBond(r.Context(), issuer, cfg)
	if err != nil {
		h.writeDomainError(w, r, "create bond", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBondView(bond))
}

// ListBonds returns registered bonds with pagination.
// GET /api/bonds?limit=50&offset=0
func (h *BondHandler) ListBonds(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	bonds, err := h.bonds.ListBonds(r.Context(), opts)
	if err != nil {
		h.writeDomainError(w, r, "list bonds", err)
		return
	}

	views := make([]bondView, 0, len(bonds))
	for _, b := range bonds {
		views = append(views, toBondView(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bonds":  views,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// GetBond returns one bond with its live supply figures and status.
// GET /api/bonds/{id}
func (h *BondHandler) GetBond(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bond id")
		return
	}

	bond, err := h.bonds.GetBond(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "get bond", err)
		return
	}

	view := bondDetailView{bondView: toBondView(bond)}
	if supply, paid, err := h.bonds.Supply(r.Context(), id); err == nil {
		view.TotalSupply = supply.Dec()
		view.Paid = paid.Dec()
	}
	if status, err := h.bonds.Status(r.Context(), id); err == nil {
		view.Status = string(status)
	}
	if owed, err := h.bonds.AmountOwed(r.Context(), id); err == nil {
		view.AmountOwed = owed.Dec()
	}
	writeJSON(w, http.StatusOK, view)
}

// Mint issues shares against pre-approved collateral.
// POST /api/bonds/{id}/mint
func (h *BondHandler) Mint(w http.ResponseWriter, r *http.Request) {
	h.runOp(w, r, "mint", h.bonds.Mint)
}

// Convert exchanges shares for collateral before maturity.
// POST /api/bonds/{id}/convert
func (h *BondHandler) Convert(w http.ResponseWriter, r *http.Request) {
	h.runOp(w, r, "convert", h.bonds.Convert)
}

// Pay deposits payment token into the bond.
// POST /api/bonds/{id}/pay
func (h *BondHandler) Pay(w http.ResponseWriter, r *http.Request) {
	h.runOp(w, r, "pay", h.bonds.Pay)
}

// Redeem exchanges shares for payment token one-to-one.
// POST /api/bonds/{id}/redeem
func (h *BondHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.runOp(w, r, "redeem", h.bonds.Redeem)
}

// runOp decodes the shared operation body and dispatches to one of the four
// ledger operations.
func (h *BondHandler) runOp(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	op func(ctx context.Context, bondID string, caller common.Address, amount *uint256.Int) error,
) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bond id")
		return
	}

	var req opRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), id, caller, amount); err != nil {
		h.writeDomainError(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WithdrawCollateral sweeps unlocked collateral to a recipient. Issuer only.
// POST /api/bonds/{id}/withdraw-collateral
func (h *BondHandler) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	h.runWithdraw(w, r, "withdraw collateral", h.bonds.WithdrawCollateral)
}

// WithdrawPayment recovers overpaid payment token. Issuer only.
// POST /api/bonds/{id}/withdraw-payment
func (h *BondHandler) WithdrawPayment(w http.ResponseWriter, r *http.Request) {
	h.runWithdraw(w, r, "withdraw payment", h.bonds.WithdrawPayment)
}

func (h *BondHandler) runWithdraw(
	w http.ResponseWriter,
	r *http.Request,
	name string,
	op func(ctx context.Context, bondID string, caller, to common.Address, amount *uint256.Int) error,
) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bond id")
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := op(r.Context(), id, caller, to, amount); err != nil {
		h.writeDomainError(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetBalance returns one holder's share balance.
// GET /api/bonds/{id}/balances/{address}
func (h *BondHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	holder, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bal, err := h.bonds.BalanceOf(r.Context(), id, holder)
	if err != nil {
		h.writeDomainError(w, r, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bond_id": id,
		"holder":  holder.Hex(),
		"balance": bal.Dec(),
	})
}

// ListEvents returns a bond's journal slice.
// GET /api/bonds/{id}/events?limit=50&offset=0&since=...&until=...
func (h *BondHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing bond id")
		return
	}
	opts := parseListOpts(r)

	events, err := h.bonds.Events(r.Context(), id, opts)
	if err != nil {
		h.writeDomainError(w, r, "list events", err)
		return
	}

	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView{
			ID:         ev.ID,
			Type:       string(ev.Type),
			Actor:      ev.Actor.Hex(),
			Amount:     ev.Amount.Dec(),
			OccurredAt: ev.OccurredAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bond_id": id,
		"events":  views,
		"limit":   opts.Limit,
		"offset":  opts.Offset,
	})
}

// writeDomainError maps domain sentinel errors onto HTTP status codes.
func (h *BondHandler) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "bond not found")
	case errors.Is(err, domain.ErrNotIssuer),
		errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrIssuerNotAllowed):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrZeroAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrExceedsMaxSupply),
		errors.Is(err, domain.ErrBondMatured),
		errors.Is(err, domain.ErrInsufficientShareBalance),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInsufficientPaymentBalance),
		errors.Is(err, domain.ErrNotEnoughCollateral),
		errors.Is(err, domain.ErrOverflow):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
