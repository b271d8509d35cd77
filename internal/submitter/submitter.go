// Package submitter anchors signed evidence digests on an EVM ledger.
// The anchor is a zero-value self-transfer whose calldata carries a
// versioned prefix plus the 32-byte fingerprint digest, so no contract
// deployment is required.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/BrKDDD/LawAgent2/internal/keylock"
	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/pkg/canonhash"
	"github.com/BrKDDD/LawAgent2/pkg/retry"
)

// PayloadPrefix versions the calldata format of anchor transactions.
const PayloadPrefix = "LAWAGENT_EVIDENCE_V1|"

// fallbackGasLimit is used when gas estimation fails.
const fallbackGasLimit = 80000

// ErrRejectedTx marks a terminal submission failure (invalid signature,
// insufficient balance). Never retried.
var ErrRejectedTx = errors.New("transaction rejected")

type transientError struct{ err error }

func (e *transientError) Error() string   { return fmt.Sprintf("transient chain error: %v", e.err) }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// ChainRPC is the narrow read/write surface the submitter needs from an
// EVM node. *ethclient.Client satisfies it; tests inject fakes.
type ChainRPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// TxSigner signs ledger transactions under one identity. Kept separate
// from the evidence Signer so remote-custody deployments can route
// transaction signing through the same key service.
type TxSigner interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Submitter serializes submissions per signer identity to keep nonce
// assignment collision-free; that is the only global ordering the
// pipeline guarantees.
type Submitter struct {
	rpc           ChainRPC
	policy        retry.Policy
	confDepth     uint64
	pollInterval  time.Duration
	pollTimeout   time.Duration
	submitTimeout time.Duration
	nonceLocks    *keylock.Map
	log           *logging.Logger
}

type Config struct {
	Policy            retry.Policy
	ConfirmationDepth uint64
	PollInterval      time.Duration
	PollTimeout       time.Duration
	// SubmitTimeout bounds one submission attempt; zero means no bound
	// beyond the caller's context.
	SubmitTimeout time.Duration
}

func New(rpc ChainRPC, cfg Config, log *logging.Logger) *Submitter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ConfirmationDepth < 1 {
		cfg.ConfirmationDepth = 1
	}
	return &Submitter{
		rpc:           rpc,
		policy:        cfg.Policy,
		confDepth:     cfg.ConfirmationDepth,
		pollInterval:  cfg.PollInterval,
		pollTimeout:   cfg.PollTimeout,
		submitTimeout: cfg.SubmitTimeout,
		nonceLocks:    keylock.New(),
		log:           log.Named("submitter"),
	}
}

// AnchorPayload renders the calldata for a fingerprint.
func AnchorPayload(fingerprint string) ([]byte, error) {
	digest, err := canonhash.DigestBytes(fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejectedTx, err)
	}
	return append([]byte(PayloadPrefix), digest...), nil
}

// Submit anchors fingerprint under txSigner's identity and returns the
// transaction hash plus the number of attempts made. Transient chain
// errors are retried with backoff and a fee bump; rejections are
// terminal after one attempt.
func (s *Submitter) Submit(ctx context.Context, fingerprint string, txSigner TxSigner) (string, int, error) {
	data, err := AnchorPayload(fingerprint)
	if err != nil {
		return "", 0, err
	}
	var txHash string
	attempt := 0
	attempts, err := s.policy.Do(ctx, func(ctx context.Context) error {
		attempt++
		h, err := s.submitOnce(ctx, data, txSigner, attempt)
		if err != nil {
			return err
		}
		txHash = h
		return nil
	}, func(err error) bool {
		var t *transientError
		return errors.As(err, &t)
	})
	return txHash, attempts, err
}

func (s *Submitter) submitOnce(ctx context.Context, data []byte, txSigner TxSigner, attempt int) (string, error) {
	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}
	from := txSigner.Address()

	// Nonce assignment through SendTransaction must be serialized per
	// identity; concurrent submissions under different identities are
	// deliberately unordered.
	unlock := s.nonceLocks.Lock(strings.ToLower(from.Hex()))
	defer unlock()

	chainID, err := s.rpc.ChainID(ctx)
	if err != nil {
		return "", &transientError{err}
	}
	nonce, err := s.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return "", &transientError{err}
	}
	gasPrice, err := s.rpc.SuggestGasPrice(ctx)
	if err != nil {
		return "", &transientError{err}
	}
	// Fee bump on retries: +10% of the suggested price per extra
	// attempt, remedying underpriced-fee rejections.
	if attempt > 1 {
		bump := new(big.Int).Mul(gasPrice, big.NewInt(int64(10*(attempt-1))))
		gasPrice = gasPrice.Add(gasPrice, bump.Div(bump, big.NewInt(100)))
	}

	gas, err := s.rpc.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &from, Data: data})
	if err != nil {
		gas = fallbackGasLimit
	} else {
		gas *= 2
	}

	tx := types.NewTransaction(nonce, from, big.NewInt(0), gas, gasPrice, data)
	signed, err := txSigner.SignTx(ctx, tx, chainID)
	if err != nil {
		return "", fmt.Errorf("%w: signing transaction: %v", ErrRejectedTx, err)
	}
	if err := s.rpc.SendTransaction(ctx, signed); err != nil {
		return "", classifySendError(err)
	}
	h := signed.Hash().Hex()
	s.log.Infow("anchor transaction submitted",
		"tx_hash", h, "nonce", nonce, "gas", gas, "attempt", attempt)
	return h, nil
}

// classifySendError sorts node-side submission failures into the
// transient/terminal taxonomy. Unknown errors are treated as transient;
// the retry ceiling bounds the damage.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"),
		strings.Contains(msg, "invalid sender"),
		strings.Contains(msg, "invalid signature"),
		strings.Contains(msg, "exceeds block gas limit"):
		return fmt.Errorf("%w: %v", ErrRejectedTx, err)
	default:
		// Includes underpriced and nonce races: both are remedied by
		// the re-read + fee bump on the next attempt.
		return &transientError{err}
	}
}

// WaitForConfirmations polls until txHash reaches the configured
// confirmation depth. Transient read failures never affect the
// submitted state; polling just continues. The context bounds the
// overall wait.
func (s *Submitter) WaitForConfirmations(ctx context.Context, txHash string) (uint64, error) {
	hash := common.HexToHash(txHash)
	var confirmations uint64
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		confs, err := s.pollOnce(ctx, hash)
		if err == nil {
			confirmations = confs
			if confirmations >= s.confDepth {
				return confirmations, nil
			}
		} else if errors.Is(err, ErrRejectedTx) {
			return confirmations, err
		} else {
			s.log.Debugw("confirmation poll failed, will retry", "tx_hash", txHash, "error", err)
		}
		select {
		case <-ctx.Done():
			return confirmations, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Submitter) pollOnce(ctx context.Context, hash common.Hash) (uint64, error) {
	if s.pollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pollTimeout)
		defer cancel()
	}
	receipt, err := s.rpc.TransactionReceipt(ctx, hash)
	if err != nil {
		return 0, &transientError{err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, fmt.Errorf("%w: anchor transaction reverted", ErrRejectedTx)
	}
	head, err := s.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, &transientError{err}
	}
	block := receipt.BlockNumber.Uint64()
	if head < block {
		return 0, nil
	}
	return head - block + 1, nil
}
