// Package identity bridges identity-provider sessions, portable tokens and wallet links
// into the domain.Identity the voucher operations act on.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ghvoucher/voucher-bridge/internal/app/apperr"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	clockport "github.com/ghvoucher/voucher-bridge/internal/ports/out/clock"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/identityrepo"
)

type Service struct {
	repo  identityrepo.Repository
	codec Codec
	clk   clockport.Clock
	log   *slog.Logger

	// MaxTokenAge rejects portable tokens issued longer ago; zero disables the check.
	MaxTokenAge time.Duration
	// CrossCheck re-reads the directory when a portable token is presented and rejects
	// tokens whose platform account disagrees with it.
	CrossCheck bool
}

func NewService(repo identityrepo.Repository, codec Codec, clk clockport.Clock, log *slog.Logger) *Service {
	if codec == nil {
		codec = PlainCodec{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, codec: codec, clk: clk, log: log}
}

// Resolve turns a verified session into the caller's identity, creating the directory
// record on first sight.
func (s *Service) Resolve(ctx context.Context, sess domain.Session) (domain.Identity, error) {
	if sess.Subject == "" {
		return domain.Identity{}, apperr.ErrUnauthenticated
	}
	now := s.clk.Now()
	rec, err := s.repo.Ensure(ctx, identityrepo.Record{
		ProviderUserID: sess.Subject,
		Handle:         sess.Handle,
		PlatformUserID: sess.PlatformUserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.Identity{}, s.mapRepoError(err)
	}
	return domain.Identity{
		Handle:         rec.Handle,
		ProviderUserID: rec.ProviderUserID,
		PlatformUserID: rec.PlatformUserID,
		WalletAddress:  rec.WalletAddress,
		IssuedAt:       now,
	}, nil
}

// IssueToken snapshots id into a portable token stamped with the current time.
func (s *Service) IssueToken(_ context.Context, id domain.Identity) (string, error) {
	if id.Handle == "" {
		return "", apperr.ErrPlatformAccountNotLinked
	}
	id.IssuedAt = s.clk.Now().UTC().Truncate(time.Millisecond)
	return s.codec.Encode(id)
}

// FromToken decodes a portable token presented in place of a session.
func (s *Service) FromToken(ctx context.Context, token string) (domain.Identity, error) {
	id, err := s.codec.Decode(token)
	if err != nil {
		return domain.Identity{}, err
	}
	if s.MaxTokenAge > 0 && s.clk.Now().Sub(id.IssuedAt) > s.MaxTokenAge {
		return domain.Identity{}, apperr.ErrTokenExpired
	}
	if !s.CrossCheck {
		return id, nil
	}

	rec, err := s.repo.Get(ctx, id.ProviderUserID)
	if err != nil {
		if errors.Is(err, identityrepo.ErrNotFound) {
			return domain.Identity{}, apperr.ErrUnauthenticated.WithMessage("token subject is unknown")
		}
		return domain.Identity{}, s.mapRepoError(err)
	}
	if rec.PlatformUserID != id.PlatformUserID {
		return domain.Identity{}, apperr.ErrUnauthenticated.WithMessage("token no longer matches the identity")
	}
	// The directory holds the latest wallet link.
	id.WalletAddress = rec.WalletAddress
	return id, nil
}

// LinkWallet verifies that the caller controls address and records it on their identity.
// A failed verification leaves the identity unchanged.
func (s *Service) LinkWallet(ctx context.Context, id domain.Identity, address, signature string) (domain.Address, error) {
	if !id.HasPlatformAccount() || id.Handle == "" {
		return domain.Address{}, apperr.ErrPlatformAccountNotLinked
	}
	addr, err := VerifyLink(address, id.Handle, signature)
	if err != nil {
		s.log.InfoContext(ctx, "wallet link rejected",
			"providerUserId", string(id.ProviderUserID),
			"reason", err.Error(),
		)
		return domain.Address{}, err
	}
	if err := s.repo.SetWallet(ctx, id.ProviderUserID, addr.String(), s.clk.Now()); err != nil {
		return domain.Address{}, s.mapRepoError(err)
	}
	s.log.InfoContext(ctx, "wallet linked",
		"providerUserId", string(id.ProviderUserID),
		"walletAddress", addr.String(),
	)
	return addr, nil
}

func (s *Service) mapRepoError(err error) error {
	switch {
	case errors.Is(err, identityrepo.ErrPlatformIDConflict):
		return apperr.ErrPlatformIDConflict
	case errors.Is(err, identityrepo.ErrNotFound):
		return apperr.ErrUnauthenticated.WithMessage("identity is not provisioned")
	case errors.Is(err, identityrepo.ErrUnavailable):
		return apperr.ErrUpstreamUnavailable.WithMessage("identity directory unavailable")
	default:
		return err
	}
}
