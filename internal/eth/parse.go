package eth

import (
	"fmt"
	"time"

	"github.com/spruceid/siwe-go"

	"github.com/layer-3/vaultgate/core"
)

// ParseMessage extracts the fields of a client-supplied EIP-4361 message.
// The text itself is what gets verified; the parsed fields are only used for the
// server-side checks on domain, address, nonce and chain.
func ParseMessage(text string) (*Message, error) {
	parsed, err := siwe.ParseMessage(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}

	issuedAt, err := parseTime(parsed.GetIssuedAt())
	if err != nil {
		return nil, fmt.Errorf("%w: issued-at: %v", core.ErrMalformedMessage, err)
	}

	uri := parsed.GetURI()
	m := &Message{
		Domain:   parsed.GetDomain(),
		Address:  parsed.GetAddress().Hex(),
		URI:      uri.String(),
		Version:  parsed.GetVersion(),
		Nonce:    parsed.GetNonce(),
		IssuedAt: issuedAt,
	}
	if chainID := parsed.GetChainID(); chainID > 0 {
		m.ChainID = uint64(chainID)
	}
	if statement := parsed.GetStatement(); statement != nil {
		m.Statement = *statement
	}
	if exp := parsed.GetExpirationTime(); exp != nil {
		if m.ExpirationTime, err = parseTime(*exp); err != nil {
			return nil, fmt.Errorf("%w: expiration time: %v", core.ErrMalformedMessage, err)
		}
	}
	if nbf := parsed.GetNotBefore(); nbf != nil {
		if m.NotBefore, err = parseTime(*nbf); err != nil {
			return nil, fmt.Errorf("%w: not-before: %v", core.ErrMalformedMessage, err)
		}
	}

	return m, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
