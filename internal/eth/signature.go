package eth

import (
	"crypto/ecdsa"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/layer-3/vaultgate/core"
)

// SignatureLength is the size of an r || s || v signature
const SignatureLength = 65

// DecodeSignature decodes a 0x-prefixed hex signature
func DecodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedSignature, err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("%w: signature must be %d bytes, got %d", core.ErrMalformedSignature, SignatureLength, len(sig))
	}
	return sig, nil
}

// NormalizeRecoveryID maps the wallet encodings 27/28 and 0/1 onto 0/1.
// Every other value is rejected rather than masked.
func NormalizeRecoveryID(v byte) (byte, error) {
	if v == 0 || v == 1 {
		return v, nil
	}
	recid := int(v) - 27
	if recid != recid&1 {
		return 0, fmt.Errorf("%w: invalid recovery id %d", core.ErrMalformedSignature, v)
	}
	return byte(recid), nil
}

// TextHash is the EIP-191 personal message hash:
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
func TextHash(msg []byte) []byte {
	return accounts.TextHash(msg)
}

// RecoverAddress returns the address that produced sig over the personal-message hash of msg
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes, got %d", core.ErrMalformedSignature, SignatureLength, len(sig))
	}
	recid, err := NormalizeRecoveryID(sig[64])
	if err != nil {
		return common.Address{}, err
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	normalized[64] = recid

	pub, err := crypto.SigToPub(TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", core.ErrRecoveryFailure, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sig over msg was produced by the claimed address.
// Addresses are compared lower-cased in constant time.
func Verify(claimed string, msg, sig []byte) error {
	if !IsAddress(claimed) {
		return core.ErrInvalidAddress
	}

	recovered, err := RecoverAddress(msg, sig)
	if err != nil {
		return err
	}

	want := []byte(strings.ToLower(claimed))
	got := []byte(strings.ToLower(recovered.Hex()))
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return fmt.Errorf("%w: recovered %s", core.ErrAddressMismatch, recovered.Hex())
	}
	return nil
}

// SignText signs msg as a personal message, returning v as 27/28 like browser wallets do
func SignText(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(TextHash(msg), key)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}
