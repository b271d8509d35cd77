package submitter

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalTxSigner signs anchor transactions with an in-process key.
type LocalTxSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewLocalTxSigner(key *ecdsa.PrivateKey) *LocalTxSigner {
	return &LocalTxSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *LocalTxSigner) Address() common.Address { return s.addr }

func (s *LocalTxSigner) SignTx(_ context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	// Legacy signing is accepted by EIP-1559 chains and keeps the
	// anchor path free of fee-market negotiation.
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
