// Package vouchers coordinates voucher creation and claim authorization. It computes
// addresses and gates claim attempts; the ledger program and the users' own wallets do
// everything that moves value.
package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ghvoucher/voucher-bridge/internal/app/addressing"
	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/accounts"
	clockport "github.com/ghvoucher/voucher-bridge/internal/ports/out/clock"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/ledger"
)

// MaxReasonLength bounds the free-text reason in characters.
const MaxReasonLength = 280

type Role string

const (
	RoleReceived Role = "received"
	RoleSent     Role = "sent"
)

type CreateInput struct {
	RecipientHandle string
	// Amount is the decimal text the caller sent, as a JSON number or a numeric string.
	Amount string
	Reason string
}

// ClaimAuthorization is what the claimant's wallet client needs to build the claim transaction.
type ClaimAuthorization struct {
	VoucherID       domain.VoucherID
	VoucherAddress  domain.Address
	ClaimerWallet   string
	PlatformUserID  domain.PlatformUserID
	AmountBaseUnits uint64
}

type Service struct {
	resolver accounts.Resolver
	ledger   ledger.Reader
	deriver  *addressing.Deriver
	ids      *IDGenerator
	clk      clockport.Clock
	log      *slog.Logger
	tracer   trace.Tracer

	// FrontendURL prefixes claim links; empty leaves ClaimURL blank.
	FrontendURL string
}

func NewService(resolver accounts.Resolver, reader ledger.Reader, deriver *addressing.Deriver, ids *IDGenerator, clk clockport.Clock, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		resolver: resolver,
		ledger:   reader,
		deriver:  deriver,
		ids:      ids,
		clk:      clk,
		log:      log,
		tracer:   otel.Tracer("github.com/ghvoucher/voucher-bridge/internal/app/vouchers"),
	}
}

// CreateVoucher resolves the recipient, mints an id and derives both addresses. Nothing is
// persisted: the issuer's wallet submits the ledger-creating transaction from the descriptor.
// If resolution fails no id is minted.
func (s *Service) CreateVoucher(ctx context.Context, issuer domain.Identity, in CreateInput) (_ domain.VoucherDescriptor, err error) {
	ctx, span := s.tracer.Start(ctx, "vouchers.Create")
	defer func() { endSpan(span, err) }()

	amount, baseUnits, err := ParseAmount(in.Amount)
	if err != nil {
		return domain.VoucherDescriptor{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return domain.VoucherDescriptor{}, apperr.ErrValidation.WithMessage("reason is too long").
			WithDetails(map[string]any{"reason": fmt.Sprintf("must be at most %d characters", MaxReasonLength)})
	}
	if !issuer.HasPlatformAccount() {
		return domain.VoucherDescriptor{}, apperr.ErrPlatformAccountNotLinked
	}
	org, err := s.deriver.OrganizationAddress(issuer.PlatformUserID)
	if err != nil {
		return domain.VoucherDescriptor{}, err
	}

	handle, err := domain.NormalizeHandle(in.RecipientHandle)
	if err != nil {
		return domain.VoucherDescriptor{}, apperr.ErrRecipientResolutionFailed.
			WithMessage("recipient handle is not a valid GitHub login").
			WithDetails(map[string]any{"recipientHandle": in.RecipientHandle})
	}
	span.SetAttributes(attribute.String("voucher.recipient_handle", handle))

	acct, err := s.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return domain.VoucherDescriptor{}, apperr.ErrRecipientResolutionFailed.
				WithMessage("GitHub user not found").
				WithDetails(map[string]any{"recipientHandle": handle})
		}
		s.log.WarnContext(ctx, "recipient lookup failed", "recipientHandle", handle, "err", err)
		return domain.VoucherDescriptor{}, apperr.ErrRecipientResolutionFailed.
			WithStatus(http.StatusBadGateway).
			WithMessage("GitHub user lookup is unavailable").
			WithDetails(map[string]any{"recipientHandle": handle})
	}

	id, err := s.ids.New()
	if err != nil {
		return domain.VoucherDescriptor{}, err
	}
	voucher, err := s.deriver.VoucherAddress(id)
	if err != nil {
		return domain.VoucherDescriptor{}, err
	}

	recipientLogin := acct.Login
	if recipientLogin == "" {
		recipientLogin = handle
	}
	out := domain.VoucherDescriptor{
		VoucherID:           id,
		RecipientHandle:     recipientLogin,
		RecipientPlatformID: acct.ID,
		SenderOrgID:         issuer.PlatformUserID,
		Amount:              amount,
		AmountBaseUnits:     baseUnits,
		Reason:              reason,
		OrganizationAddress: org.Address,
		VoucherAddress:      voucher.Address,
		MaintainerWallet:    issuer.WalletAddress,
		ClaimURL:            s.claimURL(id),
		CreatedAt:           s.clk.Now(),
	}
	span.SetAttributes(
		attribute.String("voucher.id", string(id)),
		attribute.String("voucher.recipient_platform_id", string(acct.ID)),
	)
	s.log.InfoContext(ctx, "voucher created",
		"voucherId", string(id),
		"senderOrgId", string(issuer.PlatformUserID),
		"recipientPlatformId", string(acct.ID),
		"amountBaseUnits", baseUnits,
	)
	return out, nil
}

func (s *Service) claimURL(id domain.VoucherID) string {
	if s.FrontendURL == "" {
		return ""
	}
	return strings.TrimRight(s.FrontendURL, "/") + "/claim/" + url.PathEscape(string(id))
}

// AuthorizeClaim decides whether claimant may attempt to claim v. Platform ids are compared
// as strings. It returns the voucher address the claim transaction targets.
func AuthorizeClaim(claimant domain.Identity, v domain.VoucherRecord, now time.Time) (domain.Address, error) {
	if claimant.PlatformUserID == "" || claimant.PlatformUserID != v.RecipientPlatformID {
		return domain.Address{}, apperr.ErrNotRecipient
	}
	if state := v.EffectiveState(now); state != domain.VoucherStatePending {
		return domain.Address{}, apperr.ErrNotPending.WithDetails(map[string]any{"state": string(state)})
	}
	return v.Address, nil
}

// AuthorizeClaimByID reads the voucher from the ledger and applies AuthorizeClaim.
// The claimant must have linked both a GitHub account and a wallet.
func (s *Service) AuthorizeClaimByID(ctx context.Context, claimant domain.Identity, rawID string) (_ ClaimAuthorization, err error) {
	ctx, span := s.tracer.Start(ctx, "vouchers.AuthorizeClaim")
	defer func() { endSpan(span, err) }()

	if !claimant.HasPlatformAccount() {
		return ClaimAuthorization{}, apperr.ErrPlatformAccountNotLinked
	}
	if !claimant.HasWallet() {
		return ClaimAuthorization{}, apperr.ErrWalletNotLinked.WithMessage("wallet not linked; link a wallet before claiming")
	}

	rec, err := s.readVoucher(ctx, rawID)
	if err != nil {
		return ClaimAuthorization{}, err
	}
	span.SetAttributes(attribute.String("voucher.id", string(rec.VoucherID)))

	addr, err := AuthorizeClaim(claimant, rec, s.clk.Now())
	if err != nil {
		s.log.InfoContext(ctx, "claim rejected",
			"voucherId", string(rec.VoucherID),
			"platformUserId", string(claimant.PlatformUserID),
			"reason", err.Error(),
		)
		return ClaimAuthorization{}, err
	}
	return ClaimAuthorization{
		VoucherID:       rec.VoucherID,
		VoucherAddress:  addr,
		ClaimerWallet:   claimant.WalletAddress,
		PlatformUserID:  claimant.PlatformUserID,
		AmountBaseUnits: rec.AmountBaseUnits,
	}, nil
}

// GetVoucher returns the ledger's current view of one voucher, with past-expiry Pending
// vouchers reported as Expired.
func (s *Service) GetVoucher(ctx context.Context, rawID string) (domain.VoucherRecord, error) {
	rec, err := s.readVoucher(ctx, rawID)
	if err != nil {
		return domain.VoucherRecord{}, err
	}
	rec.State = rec.EffectiveState(s.clk.Now())
	return rec, nil
}

// ListVouchers returns the caller's vouchers, newest first: those addressed to the caller's
// platform id (received) or issued from the caller's organization address (sent).
func (s *Service) ListVouchers(ctx context.Context, caller domain.Identity, role Role) ([]domain.VoucherRecord, error) {
	if !caller.HasPlatformAccount() {
		return nil, apperr.ErrPlatformAccountNotLinked
	}
	var keep func(domain.VoucherRecord) bool
	switch role {
	case RoleReceived:
		keep = func(v domain.VoucherRecord) bool { return v.RecipientPlatformID == caller.PlatformUserID }
	case RoleSent:
		org, err := s.deriver.OrganizationAddress(caller.PlatformUserID)
		if err != nil {
			return nil, err
		}
		keep = func(v domain.VoucherRecord) bool { return v.Organization == org.Address }
	default:
		return nil, apperr.ErrValidation.WithMessage("invalid role").
			WithDetails(map[string]any{"role": "must be sent or received"})
	}

	all, err := s.ledger.ListVouchers(ctx)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	now := s.clk.Now()
	out := make([]domain.VoucherRecord, 0)
	for _, v := range all {
		if keep(v) {
			v.State = v.EffectiveState(now)
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].VoucherID < out[j].VoucherID
	})
	return out, nil
}

func (s *Service) readVoucher(ctx context.Context, rawID string) (domain.VoucherRecord, error) {
	id, err := ParseVoucherID(rawID)
	if err != nil {
		return domain.VoucherRecord{}, err
	}
	derived, err := s.deriver.VoucherAddress(id)
	if err != nil {
		return domain.VoucherRecord{}, err
	}
	rec, err := s.ledger.GetVoucher(ctx, derived.Address)
	if err != nil {
		return domain.VoucherRecord{}, mapLedgerError(err)
	}
	// An account at the derived address that names another id is not this voucher.
	if rec.VoucherID != id {
		return domain.VoucherRecord{}, apperr.ErrVoucherNotFound
	}
	rec.Address = derived.Address
	return rec, nil
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return apperr.ErrVoucherNotFound
	case errors.Is(err, ledger.ErrMalformedAccount):
		return apperr.ErrVoucherNotFound.WithMessage("account at the voucher address is not a voucher")
	case errors.Is(err, ledger.ErrUnavailable):
		return apperr.ErrUpstreamUnavailable.WithMessage("ledger unavailable")
	default:
		return err
	}
}

// maxBaseUnits is 2^64, the first base-unit amount a u64 cannot hold.
var maxBaseUnits = new(big.Int).Lsh(big.NewInt(1), 64)

// baseUnitDecimals is log10(domain.BaseUnitsPerCoin).
const baseUnitDecimals = 9

// ParseAmount validates a display amount and converts it exactly to ledger base units.
// It accepts plain decimals with an optional exponent ("1.5", "2e-3"). Digits below one base
// unit are truncated, never rounded up. The base-unit value must fit in a u64.
func ParseAmount(raw string) (float64, uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > 64 {
		return 0, 0, apperr.ErrInvalidAmount
	}
	digits, exp, ok := splitDecimal(raw)
	if !ok {
		return 0, 0, apperr.ErrInvalidAmount
	}
	mantissa, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return 0, 0, apperr.ErrInvalidAmount
	}
	shift := exp + baseUnitDecimals
	units := new(big.Int)
	switch {
	case mantissa.Sign() == 0:
	case shift > 40:
		return 0, 0, apperr.ErrInvalidAmount
	case shift >= 0:
		units.Mul(mantissa, pow10(shift))
	case shift >= -128:
		units.Quo(mantissa, pow10(-shift))
	}
	if units.Cmp(maxBaseUnits) >= 0 {
		return 0, 0, apperr.ErrInvalidAmount
	}
	value := new(big.Rat)
	if exp >= 0 {
		value.SetInt(new(big.Int).Mul(mantissa, pow10(exp)))
	} else {
		value.SetFrac(mantissa, pow10(-exp))
	}
	display, _ := value.Float64()
	return display, units.Uint64(), nil
}

// splitDecimal parses [digits][.digits][(e|E)[+-]digits] into the significant digits and the
// power of ten they are scaled by.
func splitDecimal(s string) (digits string, exp int, ok bool) {
	mant, expPart := s, ""
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		mant, expPart = s[:i], s[i+1:]
		if expPart == "" {
			return "", 0, false
		}
		n, err := strconv.Atoi(expPart)
		if err != nil || n > 1000 || n < -1000 {
			return "", 0, false
		}
		exp = n
	}
	intPart, frac, _ := strings.Cut(mant, ".")
	if intPart == "" && frac == "" {
		return "", 0, false
	}
	for _, part := range []string{intPart, frac} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return "", 0, false
			}
		}
	}
	return intPart + frac, exp - len(frac), true
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
