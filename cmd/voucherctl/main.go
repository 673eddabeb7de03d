// voucherctl is an operator CLI for the voucher bridge: it derives ledger addresses the way
// the program does, mints and parses voucher ids, signs wallet-link messages with a throwaway
// key and encodes or decodes portable identity tokens.
package main

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/spf13/pflag"

	"github.com/ghvoucher/voucher-bridge/internal/app/addressing"
	"github.com/ghvoucher/voucher-bridge/internal/app/identity"
	"github.com/ghvoucher/voucher-bridge/internal/app/vouchers"
	"github.com/ghvoucher/voucher-bridge/internal/domain"
	platformclock "github.com/ghvoucher/voucher-bridge/internal/platform/clock"
)

const defaultProgramID = "8iRpzhFJF4PJnhyKZRDXk6B3TKjxQGEX6kcsteYq77iR"

var errUsage = errors.New("usage")

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) && !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

type command struct {
	summary string
	run     func(args []string, stdout, stderr io.Writer) error
}

var commands = map[string]command{
	"derive-org":     {"derive an organization address from a GitHub numeric id", deriveOrg},
	"derive-voucher": {"derive a voucher address from a voucher id", deriveVoucher},
	"new-voucher-id": {"mint a fresh voucher id", newVoucherID},
	"sign-link":      {"generate a throwaway wallet and sign the wallet-link message", signLink},
	"encode-token":   {"encode a portable identity token", encodeToken},
	"decode-token":   {"decode a portable identity token", decodeToken},
}

var commandOrder = []string{"derive-org", "derive-voucher", "new-voucher-id", "sign-link", "encode-token", "decode-token"}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stderr)
		return errUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return cmd.run(args[1:], stdout, stderr)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: voucherctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-16s %s\n", name, commands[name].summary)
	}
}

func newFlagSet(name string, stderr io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func programDeriver(raw string) (*addressing.Deriver, error) {
	programID, err := domain.ParseAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("--program-id: %w", err)
	}
	return addressing.NewDeriver(programID), nil
}

type derivedOutput struct {
	ProgramID string `json:"programId"`
	Seed      string `json:"seed"`
	Address   string `json:"address"`
	Bump      uint8  `json:"bump"`
}

func deriveOrg(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("derive-org", stderr)
	programID := fs.String("program-id", defaultProgramID, "ledger program id (base58)")
	orgID := fs.String("org-id", "", "issuer GitHub numeric id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := domain.ParsePlatformUserID(*orgID)
	if err != nil {
		return fmt.Errorf("--org-id: %w", err)
	}
	d, err := programDeriver(*programID)
	if err != nil {
		return err
	}
	out, err := d.OrganizationAddress(id)
	if err != nil {
		return err
	}
	return writeJSON(stdout, derivedOutput{ProgramID: d.ProgramID().String(), Seed: string(id), Address: out.Address.String(), Bump: out.Bump})
}

func deriveVoucher(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("derive-voucher", stderr)
	programID := fs.String("program-id", defaultProgramID, "ledger program id (base58)")
	voucherID := fs.String("voucher-id", "", "voucher id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := vouchers.ParseVoucherID(*voucherID)
	if err != nil {
		return err
	}
	d, err := programDeriver(*programID)
	if err != nil {
		return err
	}
	out, err := d.VoucherAddress(id)
	if err != nil {
		return err
	}
	return writeJSON(stdout, derivedOutput{ProgramID: d.ProgramID().String(), Seed: string(id), Address: out.Address.String(), Bump: out.Bump})
}

func newVoucherID(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("new-voucher-id", stderr)
	count := fs.IntP("count", "n", 1, "number of ids to mint")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *count < 1 {
		return errors.New("--count must be at least 1")
	}
	gen := vouchers.NewIDGenerator(platformclock.NewSystemClock(), nil)
	for i := 0; i < *count; i++ {
		id, err := gen.New()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, id)
	}
	return nil
}

type signLinkOutput struct {
	Address   string `json:"address"`
	Handle    string `json:"handle"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
	// PrivateKey is only printed on request.
	PrivateKey string `json:"privateKey,omitempty"`
}

func signLink(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("sign-link", stderr)
	handle := fs.String("handle", "", "GitHub login the wallet is linked to")
	showKey := fs.Bool("show-private-key", false, "also print the generated private key (base58)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*handle) == "" {
		return errors.New("--handle is required")
	}
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return err
	}
	address, signature := identity.SignLink(priv, *handle)
	out := signLinkOutput{
		Address:   address,
		Handle:    *handle,
		Message:   identity.LinkMessage(address, *handle),
		Signature: signature,
	}
	if *showKey {
		out.PrivateKey = base58.Encode(priv)
	}
	return writeJSON(stdout, out)
}

type tokenIdentity struct {
	Handle         string    `json:"handle"`
	ProviderUserID string    `json:"providerUserId"`
	PlatformUserID string    `json:"platformUserId,omitempty"`
	WalletAddress  string    `json:"walletAddress,omitempty"`
	IssuedAt       time.Time `json:"issuedAt"`
}

func codecFor(secret string, ttl time.Duration) identity.Codec {
	if secret == "" {
		return identity.PlainCodec{}
	}
	return identity.NewSignedCodec([]byte(secret), ttl, platformclock.NewSystemClock())
}

func encodeToken(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("encode-token", stderr)
	handle := fs.String("handle", "", "GitHub login")
	subject := fs.String("subject", "", "identity provider user id")
	platformID := fs.String("platform-id", "", "GitHub numeric id")
	wallet := fs.String("wallet", "", "linked wallet address")
	secret := fs.String("secret", os.Getenv("PORTABLE_TOKEN_SECRET"), "HS256 secret; empty encodes an unsigned token")
	ttl := fs.Duration("ttl", 0, "expiry of signed tokens; zero means none")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *handle == "" || *subject == "" {
		return errors.New("--handle and --subject are required")
	}
	id := domain.Identity{
		Handle:         *handle,
		ProviderUserID: domain.ProviderUserID(*subject),
		WalletAddress:  *wallet,
		IssuedAt:       platformclock.NewSystemClock().Now(),
	}
	if *platformID != "" {
		pid, err := domain.ParsePlatformUserID(*platformID)
		if err != nil {
			return fmt.Errorf("--platform-id: %w", err)
		}
		id.PlatformUserID = pid
	}
	token, err := codecFor(*secret, *ttl).Encode(id)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, token)
	return nil
}

func decodeToken(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("decode-token", stderr)
	secret := fs.String("secret", os.Getenv("PORTABLE_TOKEN_SECRET"), "HS256 secret for signed tokens")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one token argument")
	}
	id, err := codecFor(*secret, 0).Decode(fs.Arg(0))
	if err != nil {
		return err
	}
	return writeJSON(stdout, tokenIdentity{
		Handle:         id.Handle,
		ProviderUserID: string(id.ProviderUserID),
		PlatformUserID: string(id.PlatformUserID),
		WalletAddress:  id.WalletAddress,
		IssuedAt:       id.IssuedAt.UTC(),
	})
}
