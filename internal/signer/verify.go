package signer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidEncoding  = errors.New("invalid signature encoding")
	ErrSignerMismatch   = errors.New("signature not issued by claimed signer")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Verify checks that sigHex is a personal-message signature over the
// fingerprint declaration, recovered to signerID. It lets auditors
// confirm a stored AnchorRecord without access to any key material.
func Verify(fingerprint, sigHex, signerID string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidEncoding, crypto.SignatureLength, len(sig))
	}
	// Wallets emit V as 27/28; recovery wants 0/1.
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	msg := fmt.Sprintf("Evidence Hash: %s", fingerprint)
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if !strings.EqualFold(recovered.Hex(), strings.TrimSpace(signerID)) {
		return fmt.Errorf("%w: recovered %s", ErrSignerMismatch, recovered.Hex())
	}
	return nil
}
