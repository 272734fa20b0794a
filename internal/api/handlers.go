// Package api is C10, the Request API Facade: it translates the inbound
// surface of spec.md §6 into calls against C5 (account), C8 (deployment),
// C6/C7 (images/registry) and C2 (identity), in the style of the
// AntoineToussaint-timeoff example's api.Handler — one struct holding every
// dependency, one method per endpoint, JSON in and structured JSON out
// (spec.md §7: "No panics escape handlers").
package api

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp-strategies/factory/internal/account"
	"github.com/warp-strategies/factory/internal/deployment"
	"github.com/warp-strategies/factory/internal/identity"
	"github.com/warp-strategies/factory/internal/images"
	"github.com/warp-strategies/factory/internal/platform/auth"
	"github.com/warp-strategies/factory/internal/platform/ferrors"
	"github.com/warp-strategies/factory/internal/reconcile"
	"github.com/warp-strategies/factory/internal/registry"
)

// Handler holds every component C10 fronts.
type Handler struct {
	Ledger     *account.Ledger
	Machine    *deployment.Machine
	Images     *images.Registry
	Registry   *registry.Registry
	Identities *identity.Registry
	Scheduler  *reconcile.Scheduler
}

func caller(r *http.Request) (string, error) {
	c, ok := auth.CallerFromContext(r.Context())
	if !ok || c.ID == "" {
		return "", ferrors.New(ferrors.Unauthorized, "no caller identity resolved")
	}
	return c.ID, nil
}

func (h *Handler) requireAdmin(r *http.Request) (string, error) {
	id, err := caller(r)
	if err != nil {
		return "", err
	}
	isAdmin, err := h.Identities.IsAdmin(r.Context(), id)
	if err != nil {
		return "", err
	}
	if !isAdmin {
		return "", ferrors.New(ferrors.Unauthorized, "caller %q is not an admin", id)
	}
	return id, nil
}

// ---------------------------------------------------------------------
// Account (spec.md §6, "Account")
// ---------------------------------------------------------------------

// DepositICP implements deposit_icp.
func (h *Handler) DepositICP(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req depositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "malformed request body: %v", err))
		return
	}
	if _, err := h.Ledger.Deposit(r.Context(), user, req.Amount, req.Memo, req.IdempotencyKey); err != nil {
		writeError(w, err)
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal})
}

// WithdrawUserICP implements withdraw_user_icp.
func (h *Handler) WithdrawUserICP(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "malformed request body: %v", err))
		return
	}
	if _, err := h.Ledger.Withdraw(r.Context(), user, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal})
}

// GetBalance implements get_balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bal, err := h.Ledger.Balance(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Balance: bal})
}

// GetAccountInfo implements get_account_info.
func (h *Handler) GetAccountInfo(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	acct, err := h.Ledger.AccountInfo(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// GetTransactionHistory implements get_transaction_history.
func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	page := parseIntQuery(r, "page", 0)
	records, err := h.Ledger.History(r.Context(), user, page, 50)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Records: records, Page: page})
}

// ---------------------------------------------------------------------
// Deployment request (spec.md §4.10, one endpoint per strategy kind)
// ---------------------------------------------------------------------

// RequestStrategy implements request_<kind>_strategy for the kind bound to
// the route (spec.md §6). Every kind shares C10's template; the kind itself
// is read from the chi URL param so five near-identical handlers collapse
// into one.
func (h *Handler) RequestStrategy(w http.ResponseWriter, r *http.Request) {
	kind := StrategyKind(chi.URLParam(r, "kind"))
	if !kind.valid() {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "unknown strategy kind %q", kind))
		return
	}
	owner, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req StrategyConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "malformed request body: %v", err))
		return
	}
	if req.Exchange == "" || req.TradingPairDescriptor == "" {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "exchange and trading_pair_descriptor are required"))
		return
	}
	blob, err := marshalConfigBlob(kind, req)
	if err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "could not encode strategy config: %v", err))
		return
	}

	rec, err := h.Machine.RequestDeployment(r.Context(), owner, string(kind), blob)
	if err != nil {
		// A failed fee debit (the record ends DeploymentCancelled) is
		// reported synchronously (spec.md §7); any later-stage failure is
		// recorded on the record and observed via query instead.
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, DeploymentRequestResponse{
		DeploymentID: rec.DeploymentID,
		FeeAmount:    rec.FeeAmount,
		StrategyKind: rec.StrategyKind,
	})
}

// ---------------------------------------------------------------------
// Deployment query (spec.md §6, "Deployment query")
// ---------------------------------------------------------------------

// GetDeployment implements get_deployment.
func (h *Handler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Machine.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetMyDeploymentRecords implements get_my_deployment_records.
func (h *Handler) GetMyDeploymentRecords(w http.ResponseWriter, r *http.Request) {
	user, err := caller(r)
	if err != nil {
		writeError(w, err)
		return
	}
	recs, err := h.Machine.ByOwner(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// GetDeploymentRecords implements get_deployment_records (admin).
func (h *Handler) GetDeploymentRecords(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	recs, err := h.Machine.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// ---------------------------------------------------------------------
// Admin (spec.md §6, "Admin")
// ---------------------------------------------------------------------

// SetDeploymentFee implements set_deployment_fee.
func (h *Handler) SetDeploymentFee(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	var req setFeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "malformed request body: %v", err))
		return
	}
	if req.Fee <= 0 {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "fee must be positive"))
		return
	}
	h.Machine.SetFee(req.Fee)
	writeJSON(w, http.StatusOK, setFeeRequest{Fee: req.Fee})
}

// GetDeploymentFee implements get_deployment_fee.
func (h *Handler) GetDeploymentFee(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, setFeeRequest{Fee: h.Machine.Fee()})
}

// AddAdmin implements add_admin.
func (h *Handler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Identities.AddAdmin(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAdmin implements remove_admin.
func (h *Handler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Identities.RemoveAdmin(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAdmins is a read complement to add/remove_admin (spec.md §4.2 lists
// list_admins() as a C2 operation, surfaced here for admin tooling).
func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	admins, err := h.Identities.ListAdmins(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminListResponse{Admins: admins})
}

// InstallStrategyWasm implements install_strategy_wasm. The field name
// mirrors spec.md §6 verbatim even though the Factory's code images are
// opaque binary payloads rather than literally WASM.
func (h *Handler) InstallStrategyWasm(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	var req installImageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "malformed request body: %v", err))
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.PayloadB64)
	if err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "payload_base64 is not valid base64: %v", err))
		return
	}
	img, err := h.Images.Install(r.Context(), req.StrategyKind, req.Version, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, img)
}

// WithdrawICP implements withdraw_icp: an admin-directed outbound transfer,
// distinct from a user's own withdraw_user_icp.
func (h *Handler) WithdrawICP(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	var req adminWithdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "malformed request body: %v", err))
		return
	}
	rec, err := h.Ledger.Withdraw(r.Context(), req.To, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// AdjustBalance implements adjust_balance.
func (h *Handler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	var req adjustBalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, ferrors.New(ferrors.InvalidConfig, "malformed request body: %v", err))
		return
	}
	rec, err := h.Ledger.AdminAdjust(r.Context(), req.User, req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ResetSystemTimers implements reset_system_timers.
func (h *Handler) ResetSystemTimers(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	h.Scheduler.ResetTimers()
	w.WriteHeader(http.StatusNoContent)
}

// ForceExecuteDeployment implements force_execute_deployment: resets
// last_update_time and attempts one advance, per spec.md §9's resolved Open
// Question.
func (h *Handler) ForceExecuteDeployment(w http.ResponseWriter, r *http.Request) {
	if _, err := h.requireAdmin(r); err != nil {
		writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Machine.ForceAdvance(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	rec, err := h.Machine.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
