package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Local signs with an in-process secp256k1 key. Dev and test use only;
// production delegates custody to the remote service.
type Local struct {
	key      *ecdsa.PrivateKey
	identity string
}

// NewLocal parses a hex private key (with or without 0x prefix).
func NewLocal(privateKeyHex string) (*Local, error) {
	key, err := crypto.HexToECDSA(trim0x(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &Local{
		key:      key,
		identity: crypto.PubkeyToAddress(key.PublicKey).Hex(),
	}, nil
}

func (l *Local) Identity() string { return l.identity }

// Sign produces an EIP-191 personal-message signature over the
// fingerprint declaration. Deterministic input, single attempt.
func (l *Local) Sign(_ context.Context, fingerprint string) (Signature, int, error) {
	msg := fmt.Sprintf("Evidence Hash: %s", fingerprint)
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), l.key)
	if err != nil {
		return Signature{}, 1, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	return Signature{Value: hex.EncodeToString(sig), SignerID: l.identity}, 1, nil
}

// Key exposes the underlying key for transaction signing by the chain
// submitter when the local signer is active.
func (l *Local) Key() *ecdsa.PrivateKey { return l.key }

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
