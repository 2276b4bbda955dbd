// Package eth implements the Ethereum side of the sign-in handshake: the EIP-4361
// message format and EIP-191 personal-message signature recovery.
package eth

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ethereum/go-ethereum/common"

	"github.com/layer-3/vaultgate/core"
)

const (
	// Version is the only EIP-4361 message version
	Version = "1"

	preamble = " wants you to sign in with your Ethereum account:"
)

var nonceRe = regexp.MustCompile(`^[a-zA-Z0-9]{8,}$`)

// Message holds the fields of an EIP-4361 sign-in message
type Message struct {
	Domain         string
	Address        string
	Statement      string
	URI            string
	Version        string
	ChainID        uint64
	Nonce          string
	IssuedAt       time.Time
	ExpirationTime time.Time // optional
	NotBefore      time.Time // optional
}

// Build renders the canonical message text. Identical input always yields identical
// output; input that could inject extra lines is rejected.
func Build(m Message) (string, error) {
	if err := m.validate(); err != nil {
		return "", err
	}

	version := m.Version
	if version == "" {
		version = Version
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s%s\n", m.Domain, preamble)
	fmt.Fprintf(&b, "%s\n", common.HexToAddress(m.Address).Hex())
	fmt.Fprintf(&b, "\n")
	if m.Statement != "" {
		fmt.Fprintf(&b, "%s\n", m.Statement)
	}
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "URI: %s\n", m.URI)
	fmt.Fprintf(&b, "Version: %s\n", version)
	fmt.Fprintf(&b, "Chain ID: %s\n", strconv.FormatUint(m.ChainID, 10))
	fmt.Fprintf(&b, "Nonce: %s\n", m.Nonce)
	fmt.Fprintf(&b, "Issued At: %s", formatTime(m.IssuedAt))
	if !m.ExpirationTime.IsZero() {
		fmt.Fprintf(&b, "\nExpiration Time: %s", formatTime(m.ExpirationTime))
	}
	if !m.NotBefore.IsZero() {
		fmt.Fprintf(&b, "\nNot Before: %s", formatTime(m.NotBefore))
	}
	return b.String(), nil
}

// ValidAt reports whether the message is inside its validity window at t
func (m *Message) ValidAt(t time.Time) error {
	if !m.ExpirationTime.IsZero() && !t.Before(m.ExpirationTime) {
		return fmt.Errorf("%w: message expired at %s", core.ErrMessageMismatch, formatTime(m.ExpirationTime))
	}
	if !m.NotBefore.IsZero() && t.Before(m.NotBefore) {
		return fmt.Errorf("%w: message not valid before %s", core.ErrMessageMismatch, formatTime(m.NotBefore))
	}
	return nil
}

func (m *Message) validate() error {
	if m.Domain == "" || strings.IndexFunc(m.Domain, isSpaceOrControl) >= 0 {
		return fmt.Errorf("%w: invalid domain %q", core.ErrMalformedMessage, m.Domain)
	}
	if !IsAddress(m.Address) {
		return fmt.Errorf("%w: invalid address %q", core.ErrMalformedMessage, m.Address)
	}
	if strings.IndexFunc(m.Statement, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: statement must be a single line", core.ErrMalformedMessage)
	}
	if strings.IndexFunc(m.URI, isSpaceOrControl) >= 0 {
		return fmt.Errorf("%w: invalid uri %q", core.ErrMalformedMessage, m.URI)
	}
	if u, err := url.Parse(m.URI); err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: uri must be absolute: %q", core.ErrMalformedMessage, m.URI)
	}
	if m.Version != "" && m.Version != Version {
		return fmt.Errorf("%w: unsupported version %q", core.ErrMalformedMessage, m.Version)
	}
	if m.ChainID == 0 {
		return fmt.Errorf("%w: chain id is required", core.ErrMalformedMessage)
	}
	if !nonceRe.MatchString(m.Nonce) {
		return fmt.Errorf("%w: nonce must be at least 8 alphanumeric characters", core.ErrMalformedMessage)
	}
	if m.IssuedAt.IsZero() {
		return fmt.Errorf("%w: issued-at is required", core.ErrMalformedMessage)
	}
	return nil
}

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address
func IsAddress(s string) bool {
	return len(s) == 42 && strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

// NormalizeAddress lower-cases a valid address and returns "" for anything else
func NormalizeAddress(s string) string {
	if !IsAddress(s) {
		return ""
	}
	return strings.ToLower(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func isSpaceOrControl(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}
