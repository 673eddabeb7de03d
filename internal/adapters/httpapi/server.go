package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/nullable"
	"github.com/oapi-codegen/runtime"

	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
	"github.com/ghvoucher/voucher-bridge/internal/app/identity"
	"github.com/ghvoucher/voucher-bridge/internal/app/vouchers"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	clockport "github.com/ghvoucher/voucher-bridge/internal/ports/out/clock"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/idempotency"
)

const maxBodyBytes = 64 << 10

// Server is the HTTP adapter over the identity and voucher services.
type Server struct {
	Identity *identity.Service
	Vouchers *vouchers.Service
	Idem     idempotency.Store
	Clock    clockport.Clock
	Logger   *slog.Logger
}

func NewServer(identitySvc *identity.Service, voucherSvc *vouchers.Service, idem idempotency.Store, clk clockport.Clock, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Identity: identitySvc,
		Vouchers: voucherSvc,
		Idem:     idem,
		Clock:    clk,
		Logger:   logger,
	}
}

type meResponse struct {
	Authenticated  bool                      `json:"authenticated"`
	Handle         string                    `json:"handle,omitempty"`
	ProviderUserID string                    `json:"providerUserId,omitempty"`
	PlatformUserID nullable.Nullable[string] `json:"platformUserId,omitempty"`
	WalletAddress  nullable.Nullable[string] `json:"walletAddress,omitempty"`
	Error          *errorBody                `json:"error,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type linkWalletRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type linkWalletResponse struct {
	Success       bool   `json:"success"`
	WalletAddress string `json:"walletAddress"`
}

type createVoucherRequest struct {
	RecipientHandle string `json:"recipientHandle"`
	// RecipientUsername is accepted from older extension builds.
	RecipientUsername string     `json:"recipientUsername,omitempty"`
	Amount            amountText `json:"amount"`
	Reason            string     `json:"reason"`
}

// amountText keeps the amount as sent, whether a JSON number or a numeric string.
type amountText string

func (a *amountText) UnmarshalJSON(b []byte) error {
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountText(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*a = amountText(n)
	return nil
}

type voucherDescriptorResponse struct {
	Success             bool                      `json:"success"`
	VoucherID           string                    `json:"voucherId"`
	RecipientHandle     string                    `json:"recipientHandle"`
	RecipientPlatformID string                    `json:"recipientPlatformId"`
	SenderOrgID         string                    `json:"senderOrgId"`
	Amount              float64                   `json:"amount"`
	AmountBaseUnits     uint64                    `json:"amountBaseUnits"`
	Reason              string                    `json:"reason"`
	OrganizationAddress string                    `json:"organizationAddress"`
	VoucherAddress      string                    `json:"voucherAddress"`
	MaintainerWallet    nullable.Nullable[string] `json:"maintainerWallet"`
	ClaimURL            string                    `json:"claimUrl,omitempty"`
	CreatedAt           time.Time                 `json:"createdAt"`
}

type claimVoucherRequest struct {
	VoucherID string `json:"voucherId"`
}

type claimVoucherResponse struct {
	Authorized      bool   `json:"authorized"`
	VoucherID       string `json:"voucherId"`
	VoucherAddress  string `json:"voucherAddress"`
	ClaimerWallet   string `json:"claimerWallet"`
	PlatformUserID  string `json:"platformUserId"`
	AmountBaseUnits uint64 `json:"amountBaseUnits"`
}

type voucherResponse struct {
	VoucherID           string                       `json:"voucherId"`
	Address             string                       `json:"address"`
	OrganizationAddress string                       `json:"organizationAddress"`
	RecipientPlatformID string                       `json:"recipientPlatformId"`
	AmountBaseUnits     uint64                       `json:"amountBaseUnits"`
	State               string                       `json:"state"`
	Reason              string                       `json:"reason"`
	CreatedAt           time.Time                    `json:"createdAt"`
	ExpiresAt           nullable.Nullable[time.Time] `json:"expiresAt"`
}

type voucherListResponse struct {
	Vouchers []voucherResponse `json:"vouchers"`
}

// GetMe reports the caller's identity from the session, or from a portable token passed
// as ?token=. Failures answer 401 with authenticated=false.
func (s *Server) GetMe(w http.ResponseWriter, r *http.Request) {
	token, err := queryString(r, "token")
	if err != nil {
		s.writeUnauthenticated(w, r, err)
		return
	}
	id, err := s.caller(r, token)
	if err != nil {
		s.writeUnauthenticated(w, r, err)
		return
	}
	resp := meResponse{
		Authenticated:  true,
		Handle:         id.Handle,
		ProviderUserID: string(id.ProviderUserID),
		PlatformUserID: nullable.NewNullNullable[string](),
		WalletAddress:  nullable.NewNullNullable[string](),
	}
	if id.HasPlatformAccount() {
		resp.PlatformUserID = nullable.NewNullableWithValue(string(id.PlatformUserID))
	}
	if id.HasWallet() {
		resp.WalletAddress = nullable.NewNullableWithValue(id.WalletAddress)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeUnauthenticated(w http.ResponseWriter, r *http.Request, err error) {
	ae := asAppError(r, s.Logger, err)
	status := ae.Status
	if status < http.StatusInternalServerError {
		// Any caller-side failure on this route means "not signed in".
		status = http.StatusUnauthorized
	}
	body := newErrorBody(r, ae)
	writeJSON(w, status, meResponse{Authenticated: false, Error: &body})
}

// IssueExtensionToken hands the session holder a portable token for cross-origin use.
func (s *Server) IssueExtensionToken(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionIdentity(r)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	token, err := s.Identity.IssueToken(r.Context(), id)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) LinkWallet(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionIdentity(r)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	var req linkWalletRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	if strings.TrimSpace(req.Address) == "" || strings.TrimSpace(req.Signature) == "" {
		writeError(w, r, s.Logger, apperr.ErrValidation.WithMessage("address and signature are required"))
		return
	}
	addr, err := s.Identity.LinkWallet(r.Context(), id, strings.TrimSpace(req.Address), strings.TrimSpace(req.Signature))
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, linkWalletResponse{Success: true, WalletAddress: addr.String()})
}

// CreateVoucher accepts a portable token (?token=) or a session.
//
// An Idempotency-Key makes retries replay the first descriptor; see createVoucherIdempotent.
func (s *Server) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	token, err := queryString(r, "token")
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	issuer, err := s.caller(r, token)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	var req createVoucherRequest
	raw, err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	if req.RecipientHandle == "" {
		req.RecipientHandle = req.RecipientUsername
	}
	if strings.TrimSpace(req.RecipientHandle) == "" {
		writeError(w, r, s.Logger, apperr.ErrValidation.WithMessage("recipientHandle is required"))
		return
	}

	key := idempotency.Key(strings.TrimSpace(r.Header.Get("Idempotency-Key")))
	if s.Idem == nil || key == "" {
		d, err := s.Vouchers.CreateVoucher(r.Context(), issuer, vouchers.CreateInput{
			RecipientHandle: req.RecipientHandle,
			Amount:          string(req.Amount),
			Reason:          req.Reason,
		})
		if err != nil {
			writeError(w, r, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, descriptorResponse(d))
		return
	}
	s.createVoucherIdempotent(w, r, issuer, req, key, hashBody(raw))
}

// createVoucherIdempotent runs create-voucher under an Idempotency-Key.
//
// The body-less fingerprint is reserved atomically and holds the body hash; only the request
// that wins the reservation mints a voucher. Its response is stored under the fingerprint
// with the body hash and replayed to later requests with the same key and body. A key held
// with a different body is rejected; a key whose first request has not finished yet is
// reported as in flight. A failed create releases the key.
func (s *Server) createVoucherIdempotent(w http.ResponseWriter, r *http.Request, issuer domain.Identity, req createVoucherRequest, key idempotency.Key, bodyHash string) {
	ctx := r.Context()
	metaFP := idempotency.Fingerprint{
		Key:     key,
		Subject: issuer.ProviderUserID,
		Method:  http.MethodPost,
		Route:   "/api/create-voucher",
	}
	respFP := metaFP
	respFP.BodyHash = bodyHash

	won, held, err := s.Idem.Reserve(ctx, metaFP, idempotency.Record{
		ContentType: "text/plain",
		Body:        []byte(bodyHash),
		CreatedAt:   s.Clock.Now().UTC(),
	})
	if err != nil {
		writeError(w, r, s.Logger, fmt.Errorf("reserve idempotency key: %w", err))
		return
	}
	if !won {
		if string(held.Body) != bodyHash {
			writeError(w, r, s.Logger, apperr.ErrIdempotencyKeyReuse)
			return
		}
		rec, ok, err := s.Idem.Get(ctx, respFP)
		if err != nil {
			writeError(w, r, s.Logger, fmt.Errorf("load idempotent response: %w", err))
			return
		}
		if !ok || rec.StatusCode != http.StatusOK || !strings.HasPrefix(rec.ContentType, "application/json") {
			writeError(w, r, s.Logger, apperr.ErrIdempotencyInFlight)
			return
		}
		w.Header().Set("Content-Type", rec.ContentType)
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(rec.StatusCode)
		_, _ = w.Write(rec.Body)
		return
	}

	release := func(cause error) {
		if err := s.Idem.Release(context.WithoutCancel(ctx), metaFP); err != nil {
			s.Logger.Error("release idempotency key", "err", err, "cause", cause.Error())
		}
	}

	d, err := s.Vouchers.CreateVoucher(ctx, issuer, vouchers.CreateInput{
		RecipientHandle: req.RecipientHandle,
		Amount:          string(req.Amount),
		Reason:          req.Reason,
	})
	if err != nil {
		release(err)
		writeError(w, r, s.Logger, err)
		return
	}
	body, err := json.Marshal(descriptorResponse(d))
	if err != nil {
		release(err)
		writeError(w, r, s.Logger, err)
		return
	}
	body = append(body, '\n')
	// A descriptor is only returned once a retry would replay it.
	if err := s.Idem.Put(ctx, respFP, idempotency.Record{
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		Body:        body,
		CreatedAt:   s.Clock.Now().UTC(),
	}); err != nil {
		err = fmt.Errorf("store idempotent response: %w", err)
		release(err)
		writeError(w, r, s.Logger, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// ClaimVoucher checks whether the session holder may claim a voucher. The claim
// transaction itself is signed and submitted by the claimant's wallet.
func (s *Server) ClaimVoucher(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionIdentity(r)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	var req claimVoucherRequest
	if _, err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	if strings.TrimSpace(req.VoucherID) == "" {
		writeError(w, r, s.Logger, apperr.ErrValidation.WithMessage("voucherId is required"))
		return
	}
	auth, err := s.Vouchers.AuthorizeClaimByID(r.Context(), id, strings.TrimSpace(req.VoucherID))
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, claimVoucherResponse{
		Authorized:      true,
		VoucherID:       string(auth.VoucherID),
		VoucherAddress:  auth.VoucherAddress.String(),
		ClaimerWallet:   auth.ClaimerWallet,
		PlatformUserID:  string(auth.PlatformUserID),
		AmountBaseUnits: auth.AmountBaseUnits,
	})
}

// ListVouchers lists the caller's vouchers; ?role= is received (default) or sent.
func (s *Server) ListVouchers(w http.ResponseWriter, r *http.Request) {
	token, err := queryString(r, "token")
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	role, err := queryString(r, "role")
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	if role == "" {
		role = string(vouchers.RoleReceived)
	}
	caller, err := s.caller(r, token)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	list, err := s.Vouchers.ListVouchers(r.Context(), caller, vouchers.Role(role))
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	out := voucherListResponse{Vouchers: make([]voucherResponse, 0, len(list))}
	for _, v := range list {
		out.Vouchers = append(out.Vouchers, voucherFromDomain(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetVoucher is a public read-through of one voucher account.
func (s *Server) GetVoucher(w http.ResponseWriter, r *http.Request) {
	var voucherID string
	if err := runtime.BindStyledParameterWithOptions("simple", "voucherId", chi.URLParam(r, "voucherId"), &voucherID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true}); err != nil {
		writeError(w, r, s.Logger, apperr.ErrInvalidVoucherID)
		return
	}
	v, err := s.Vouchers.GetVoucher(r.Context(), voucherID)
	if err != nil {
		writeError(w, r, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, voucherFromDomain(v))
}

// sessionIdentity resolves the caller from a live session only.
func (s *Server) sessionIdentity(r *http.Request) (domain.Identity, error) {
	sess, ok := SessionFromContext(r.Context())
	if !ok {
		return domain.Identity{}, apperr.ErrUnauthenticated
	}
	return s.Identity.Resolve(r.Context(), sess)
}

// caller prefers an explicit portable token over the session.
func (s *Server) caller(r *http.Request, token string) (domain.Identity, error) {
	if token != "" {
		return s.Identity.FromToken(r.Context(), token)
	}
	return s.sessionIdentity(r)
}

func queryString(r *http.Request, name string) (string, error) {
	var v string
	if err := runtime.BindQueryParameter("form", true, false, name, r.URL.Query(), &v); err != nil {
		return "", apperr.ErrValidation.WithMessage(fmt.Sprintf("invalid %s query parameter", name))
	}
	return strings.TrimSpace(v), nil
}

// decodeBody reads a bounded JSON body into dst and returns the raw bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.ErrValidation.WithMessage("request body is too large")
		}
		return nil, apperr.ErrValidation.WithMessage("could not read request body")
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, apperr.ErrValidation.WithMessage("missing request body")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, apperr.ErrValidation.WithMessage("request body is not valid JSON")
	}
	return raw, nil
}

func hashBody(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func descriptorResponse(d domain.VoucherDescriptor) voucherDescriptorResponse {
	out := voucherDescriptorResponse{
		Success:             true,
		VoucherID:           string(d.VoucherID),
		RecipientHandle:     d.RecipientHandle,
		RecipientPlatformID: string(d.RecipientPlatformID),
		SenderOrgID:         string(d.SenderOrgID),
		Amount:              d.Amount,
		AmountBaseUnits:     d.AmountBaseUnits,
		Reason:              d.Reason,
		OrganizationAddress: d.OrganizationAddress.String(),
		VoucherAddress:      d.VoucherAddress.String(),
		MaintainerWallet:    nullable.NewNullNullable[string](),
		ClaimURL:            d.ClaimURL,
		CreatedAt:           d.CreatedAt.UTC(),
	}
	if d.MaintainerWallet != "" {
		out.MaintainerWallet = nullable.NewNullableWithValue(d.MaintainerWallet)
	}
	return out
}

func voucherFromDomain(v domain.VoucherRecord) voucherResponse {
	out := voucherResponse{
		VoucherID:           string(v.VoucherID),
		Address:             v.Address.String(),
		OrganizationAddress: v.Organization.String(),
		RecipientPlatformID: string(v.RecipientPlatformID),
		AmountBaseUnits:     v.AmountBaseUnits,
		State:               string(v.State),
		Reason:              v.Reason,
		CreatedAt:           v.CreatedAt.UTC(),
		ExpiresAt:           nullable.NewNullNullable[time.Time](),
	}
	if !v.ExpiresAt.IsZero() {
		out.ExpiresAt = nullable.NewNullableWithValue(v.ExpiresAt.UTC())
	}
	return out
}
