package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/arzex/exchange-core/internal/app/domain/order"
	"github.com/arzex/exchange-core/internal/app/services/accounts"
	"github.com/arzex/exchange-core/internal/app/services/kyc"
	"github.com/arzex/exchange-core/internal/app/services/orders"
	"github.com/arzex/exchange-core/internal/app/services/pricefeed"
	"github.com/arzex/exchange-core/internal/app/services/reporting"
	"github.com/arzex/exchange-core/internal/app/services/review"
	"github.com/arzex/exchange-core/internal/app/services/wallets"
	apperrors "github.com/arzex/exchange-core/internal/errors"
	"github.com/arzex/exchange-core/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Services bundles the service layer the HTTP surface exposes.
type Services struct {
	Accounts  *accounts.Service
	Wallets   *wallets.Service
	KYC       *kyc.Service
	Orders    *orders.Service
	Review    *review.Service
	Reporting *reporting.Service
	Prices    *pricefeed.Service
}

// Handler routes the REST surface onto the service layer.
type Handler struct {
	svc Services
	log *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(svc Services, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &Handler{svc: svc, log: log}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/accounts", h.handleAccounts)
	mux.HandleFunc("/v1/accounts/", h.handleAccountByID)
	mux.HandleFunc("/v1/wallets", h.handleWallets)
	mux.HandleFunc("/v1/wallets/", h.handleWalletByID)
	mux.HandleFunc("/v1/kyc", h.handleKYC)
	mux.HandleFunc("/v1/orders", h.handleOrders)
	mux.HandleFunc("/v1/orders/", h.handleOrderByID)
	mux.HandleFunc("/v1/prices/", h.handleQuote)
	mux.HandleFunc("/v1/admin/orders", h.handleAdminOrders)
	mux.HandleFunc("/v1/admin/orders/", h.handleAdminOrderByID)
	mux.HandleFunc("/v1/admin/kyc", h.handleAdminKYC)
	mux.HandleFunc("/v1/admin/kyc/", h.handleAdminKYCByID)
	mux.HandleFunc("/v1/admin/wallets/", h.handleAdminWalletByID)
	mux.HandleFunc("/v1/admin/reports/", h.handleReports)
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthorized("authentication required"))
		return Identity{}, false
	}
	return id, true
}

func (h *Handler) admin(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, ok := h.identity(w, r)
	if !ok {
		return Identity{}, false
	}
	if !id.IsAdmin() {
		writeError(w, apperrors.Forbidden("admin role required"))
		return Identity{}, false
	}
	return id, true
}

func writeMethodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, apperrors.MethodNotAllowed("method not allowed"))
}

// pathSuffix returns the path segments after prefix, or nil when the path
// does not match.
func pathSuffix(path, prefix string) []string {
	if !strings.HasPrefix(path, prefix) {
		return nil
	}
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return []string{}
	}
	return strings.Split(rest, "/")
}

func (h *Handler) handleAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Owner    string            `json:"owner"`
			Metadata map[string]string `json:"metadata"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		acct, err := h.svc.Accounts.Create(r.Context(), req.Owner, req.Metadata)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, acct)
	case http.MethodGet:
		if !id.IsAdmin() {
			writeError(w, apperrors.Forbidden("admin role required"))
			return
		}
		accts, err := h.svc.Accounts.List(r.Context())
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accts)
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleAccountByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/accounts/")
	if len(parts) == 0 {
		writeError(w, apperrors.NotFound("account not found"))
		return
	}
	accountID := parts[0]
	if accountID != id.AccountID && !id.IsAdmin() {
		writeError(w, apperrors.Forbidden("access denied"))
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		acct, err := h.svc.Accounts.Get(r.Context(), accountID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	case len(parts) == 2 && parts[1] == "deposit" && r.Method == http.MethodPost:
		var req struct {
			AmountTMN int64 `json:"amount_tmn"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		acct, err := h.svc.Accounts.Deposit(r.Context(), accountID, req.AmountTMN)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, acct)
	case len(parts) == 2 && parts[1] == "holdings" && r.Method == http.MethodGet:
		holdings, err := h.svc.Orders.Holdings(r.Context(), accountID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, holdings)
	default:
		writeError(w, apperrors.NotFound("resource not found"))
	}
}

func (h *Handler) handleWallets(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Symbol  string `json:"symbol"`
			Address string `json:"address"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		addr, err := h.svc.Wallets.Add(r.Context(), id.AccountID, req.Symbol, req.Address)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, addr)
	case http.MethodGet:
		addrs, err := h.svc.Wallets.List(r.Context(), id.AccountID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, addrs)
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleWalletByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/wallets/")
	if len(parts) != 1 {
		writeError(w, apperrors.NotFound("resource not found"))
		return
	}
	if r.Method != http.MethodDelete {
		writeMethodNotAllowed(w, http.MethodDelete)
		return
	}
	if err := h.svc.Wallets.Remove(r.Context(), id.AccountID, parts[0]); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleKYC(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Level   int               `json:"level"`
			Payload map[string]string `json:"payload"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		sub, err := h.svc.KYC.Submit(r.Context(), id.AccountID, req.Level, req.Payload)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		subs, err := h.svc.KYC.List(r.Context(), id.AccountID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, subs)
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Type         string `json:"type"`
			Symbol       string `json:"symbol"`
			AmountTMN    int64  `json:"amount_tmn"`
			AmountCrypto string `json:"amount_crypto"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		amountCrypto := decimal.Zero
		if req.AmountCrypto != "" {
			var err error
			amountCrypto, err = decimal.NewFromString(req.AmountCrypto)
			if err != nil {
				writeError(w, apperrors.BadRequest("invalid amount_crypto"))
				return
			}
		}
		ord, err := h.svc.Orders.CreateOrder(r.Context(), id.AccountID, order.Type(req.Type), req.Symbol, req.AmountTMN, amountCrypto)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ord)
	case http.MethodGet:
		list, err := h.svc.Orders.List(r.Context(), id.AccountID, 0)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	default:
		writeMethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) handleOrderByID(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/orders/")
	if len(parts) != 1 {
		writeError(w, apperrors.NotFound("resource not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	ord, err := h.svc.Orders.Get(r.Context(), parts[0])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if ord.AccountID != id.AccountID && !id.IsAdmin() {
		writeError(w, apperrors.Forbidden("access denied"))
		return
	}
	writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.identity(w, r); !ok {
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/prices/")
	if len(parts) != 1 {
		writeError(w, apperrors.NotFound("resource not found"))
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	price, err := h.svc.Prices.Quote(r.Context(), parts[0])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":    strings.ToUpper(parts[0]),
		"price_tmn": price,
	})
}

func (h *Handler) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	pending, err := h.svc.Orders.ListPending(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) handleAdminOrderByID(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.admin(w, r)
	if !ok {
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/admin/orders/")
	if len(parts) != 2 || parts[1] != "decision" {
		writeError(w, apperrors.NotFound("resource not found"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Action string `json:"action"`
		Note   string `json:"note"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	ord, err := h.svc.Review.Decide(r.Context(), parts[0], review.Action(req.Action), req.Note)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.log.WithFields(map[string]interface{}{
		"order_id": ord.ID,
		"action":   req.Action,
		"admin":    admin.AccountID,
	}).Info("order decided")
	writeJSON(w, http.StatusOK, ord)
}

func (h *Handler) handleAdminKYC(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	pending, err := h.svc.KYC.ListPending(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) handleAdminKYCByID(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.admin(w, r)
	if !ok {
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/admin/kyc/")
	if len(parts) != 2 || parts[1] != "decision" {
		writeError(w, apperrors.NotFound("resource not found"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Action string `json:"action"`
		Note   string `json:"note"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	sub, err := h.svc.Review.DecideKYC(r.Context(), parts[0], review.Action(req.Action), req.Note)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.log.WithFields(map[string]interface{}{
		"submission_id": sub.ID,
		"action":        req.Action,
		"admin":         admin.AccountID,
	}).Info("kyc submission decided")
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleAdminWalletByID(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/admin/wallets/")
	if len(parts) != 2 || parts[1] != "verify" {
		writeError(w, apperrors.NotFound("resource not found"))
		return
	}
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	addr, err := h.svc.Wallets.Verify(r.Context(), parts[0])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.admin(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}
	parts := pathSuffix(r.URL.Path, "/v1/admin/reports/")
	if len(parts) != 1 {
		writeError(w, apperrors.NotFound("resource not found"))
		return
	}
	switch parts[0] {
	case "volume":
		report, err := h.svc.Reporting.VolumeBySymbol(r.Context())
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "funnel":
		report, err := h.svc.Reporting.Funnel(r.Context())
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "queue":
		report, err := h.svc.Reporting.ReviewQueue(r.Context())
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "anomalies":
		flags, err := h.svc.Reporting.LargeOrders(r.Context(), reporting.DefaultLargeOrderThresholdTMN)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, flags)
	default:
		writeError(w, apperrors.NotFound("unknown report"))
	}
}

// writeServiceError translates service sentinels into API errors. Unknown
// errors and internal-coded errors surface as 500 without leaking detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var apiErr *apperrors.Error
	switch {
	case errors.Is(err, accounts.ErrNotFound),
		errors.Is(err, wallets.ErrNotFound),
		errors.Is(err, kyc.ErrNotFound),
		errors.Is(err, orders.ErrNotFound),
		errors.Is(err, review.ErrNotFound):
		apiErr = apperrors.NotFound(err.Error())
	case errors.Is(err, accounts.ErrInvalidAmount),
		errors.Is(err, accounts.ErrInvalidOwner),
		errors.Is(err, wallets.ErrInvalidAddress),
		errors.Is(err, kyc.ErrInvalidLevel),
		errors.Is(err, orders.ErrInvalidType),
		errors.Is(err, orders.ErrInvalidAmount),
		errors.Is(err, review.ErrInvalidAction):
		apiErr = apperrors.BadRequest(err.Error())
	case errors.Is(err, accounts.ErrInsufficientBalance):
		apiErr = apperrors.Conflict(err.Error())
	case errors.Is(err, accounts.ErrAlreadySettled),
		errors.Is(err, wallets.ErrDuplicateAddress),
		errors.Is(err, kyc.ErrAlreadyPending),
		errors.Is(err, kyc.ErrAlreadyApproved),
		errors.Is(err, kyc.ErrAlreadyDecided),
		errors.Is(err, review.ErrAlreadyDecided):
		apiErr = apperrors.Conflict(err.Error())
	case errors.Is(err, orders.ErrKYCInsufficient),
		errors.Is(err, orders.ErrWalletAddressRequired),
		errors.Is(err, kyc.ErrPrerequisiteNotMet),
		errors.Is(err, kyc.ErrVerificationFailed):
		apiErr = apperrors.Forbidden(err.Error())
	case errors.Is(err, pricefeed.ErrPriceUnavailable):
		apiErr = apperrors.Unavailable(err.Error())
	case errors.Is(err, pricefeed.ErrUnknownSymbol):
		apiErr = apperrors.BadRequest(err.Error())
	default:
		h.log.WithError(err).Error("request failed")
		apiErr = apperrors.Internal("internal error", err)
	}
	writeError(w, apiErr)
}

func decodeBody(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
		_ = body.Close()
	}()
	if err := json.NewDecoder(body).Decode(out); err != nil {
		writeError(w, apperrors.BadRequest("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *apperrors.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    string(err.Code),
			"message": err.Message,
		},
	})
}
