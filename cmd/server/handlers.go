package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/steveyegge/homegraph/internal/accesspolicy"
	"github.com/steveyegge/homegraph/internal/audit"
	"github.com/steveyegge/homegraph/internal/auth"
	"github.com/steveyegge/homegraph/internal/errkind"
	"github.com/steveyegge/homegraph/internal/sync"
)

func (a *app) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", a.handleAdminLogin)
	mux.HandleFunc("POST /auth/guest/qr", a.handleGenerateGuestQR)
	mux.HandleFunc("POST /auth/guest/redeem", a.handleRedeemGuestCode)
	mux.HandleFunc("POST /sync/request", a.handleSyncExchange)
	mux.HandleFunc("POST /sync/push", a.handleSyncExchange)
	mux.HandleFunc("POST /sync/ack", a.handleSyncExchange)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind errkind.Kind) int {
	switch kind {
	case errkind.InvalidArgument, errkind.ParentUnknown, errkind.TypeImmutable:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.PermissionDenied:
		return http.StatusForbidden
	case errkind.Unauthorized:
		return http.StatusUnauthorized
	case errkind.TooManyRequests:
		return http.StatusTooManyRequests
	case errkind.StoreUnavailable:
		return http.StatusServiceUnavailable
	case errkind.ProtocolMismatch:
		return http.StatusUpgradeRequired
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind, _ := errkind.KindOf(err)
	writeJSON(w, statusFor(kind), map[string]string{"kind": string(kind), "error": err.Error()})
}

type loginRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// handleAdminLogin implements the admin_login pre-authentication operation
// (§4.5, §4.6): rate limited by IP, no role requirement.
func (a *app) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIPFromRequest(r)
	if err := a.checkRateLimit(accesspolicy.ActionAdminLogin, ip); err != nil {
		writeError(w, err)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.New(errkind.InvalidArgument, "malformed request body"))
		return
	}

	ok, err := auth.VerifyPassword(req.Password, a.cfg.AdminPasswordHash)
	if err != nil || !ok {
		a.auditLog.Emit(audit.Record{Event: audit.EventAuthFailure, Severity: audit.SeverityWarning, ClientIP: ip, SubjectID: "admin"})
		writeError(w, errkind.New(errkind.Unauthorized, "invalid credentials"))
		return
	}

	token, err := auth.IssueAdminToken(a.cfg.SigningKey, "admin", a.cfg.AdminTokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	a.auditLog.Emit(audit.Record{Event: audit.EventAuthSuccess, Severity: audit.SeverityInfo, ClientIP: ip, SubjectID: "admin"})
	a.auditLog.Emit(audit.Record{Event: audit.EventTokenIssued, Severity: audit.SeverityInfo, ClientIP: ip, SubjectID: "admin"})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type generateQRRequest struct {
	Permissions []string `json:"permissions"`
}

type generateQRResponse struct {
	Code           string   `json:"code"`
	ServerIdentity string   `json:"server_identity"`
	Permissions    []string `json:"permissions"`
}

// handleGenerateGuestQR implements generate_guest_qr, admin-only (§4.5).
func (a *app) handleGenerateGuestQR(w http.ResponseWriter, r *http.Request) {
	caller := a.callerFromContext(wrapRequest(r.Context(), r))
	if err := a.enforcer.Authorize(accesspolicy.ActionGenerateGuestQR, caller.Claims, caller.ClientIP); err != nil {
		writeError(w, err)
		return
	}

	var req generateQRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.New(errkind.InvalidArgument, "malformed request body"))
		return
	}

	enrollment := a.enrollments.Generate(caller.Claims.Subject, req.Permissions, a.cfg.GuestTokenTTL)
	a.auditLog.Emit(audit.Record{Event: audit.EventGuestQRGenerated, Severity: audit.SeverityInfo, ClientIP: caller.ClientIP, SubjectID: caller.Claims.Subject})
	writeJSON(w, http.StatusOK, generateQRResponse{
		Code: enrollment.Code, ServerIdentity: enrollment.ServerIdentity, Permissions: enrollment.Permissions,
	})
}

type redeemRequest struct {
	Code string `json:"code"`
}

// handleRedeemGuestCode implements guest_code_present, the second
// pre-authentication operation (§4.5, §4.6): rate limited, no role required.
func (a *app) handleRedeemGuestCode(w http.ResponseWriter, r *http.Request) {
	ip := clientIPFromRequest(r)
	if err := a.checkRateLimit(accesspolicy.ActionGuestCodePresent, ip); err != nil {
		writeError(w, err)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.New(errkind.InvalidArgument, "malformed request body"))
		return
	}

	enrollment, err := a.enrollments.Redeem(req.Code)
	if err != nil {
		writeError(w, err)
		return
	}

	token, err := auth.IssueGuestToken(a.cfg.SigningKey, "guest-"+enrollment.Code, enrollment.Permissions, enrollment.IssuerAdminID, enrollment.Code, a.cfg.GuestTokenTTL)
	if err != nil {
		writeError(w, err)
		return
	}
	a.auditLog.Emit(audit.Record{Event: audit.EventGuestTokenIssued, Severity: audit.SeverityInfo, ClientIP: ip})
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// handleSyncExchange serves all three Inbetweenies phases (request, push,
// ack): the wire message is phase-agnostic, carrying whatever changes[] the
// client has pending and returning whatever delta the server has for it
// (§4.4, §6). A request that only pulls passes an empty changes[]; the ack
// phase is a follow-up call with the same shape used to fetch a response
// cursor's next page.
func (a *app) handleSyncExchange(w http.ResponseWriter, r *http.Request) {
	var req sync.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errkind.New(errkind.InvalidArgument, "malformed sync request"))
		return
	}

	resp, err := a.syncSvc.HandleRequest(r.Context(), &req)
	if err != nil {
		// A non-nil resp here still carries the partial progress (up to
		// FailedAt) made before the underlying store fault; surface both.
		if resp != nil {
			kind, _ := errkind.KindOf(err)
			writeJSON(w, statusFor(kind), resp)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// checkRateLimit enforces §4.6's per-IP sliding window and applies the
// progressive delay before the caller's request proceeds.
func (a *app) checkRateLimit(action accesspolicy.Action, ip string) error {
	delay, retryAfter, err := a.limiter.Allow(ip)
	if err != nil {
		a.auditLog.Emit(audit.Record{Event: audit.EventSuspiciousRateLimit, Severity: audit.SeverityCritical, ClientIP: ip, Detail: map[string]any{"action": string(action), "retry_after_seconds": retryAfter.Seconds()}})
		return err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func wrapRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, r)
}
