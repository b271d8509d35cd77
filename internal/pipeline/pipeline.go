// Package pipeline orchestrates the capture flow: normalize, detect,
// assemble, then drive each fingerprint through the anchor status
// lattice exactly once. Workers pull from a bounded queue; a full queue
// blocks ingestion rather than dropping messages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BrKDDD/LawAgent2/internal/anchorstore"
	"github.com/BrKDDD/LawAgent2/internal/assemble"
	"github.com/BrKDDD/LawAgent2/internal/detect"
	"github.com/BrKDDD/LawAgent2/internal/keylock"
	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/internal/normalize"
	"github.com/BrKDDD/LawAgent2/internal/signer"
	"github.com/BrKDDD/LawAgent2/internal/submitter"
	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// ErrStopped is returned by Ingest after shutdown began.
var ErrStopped = errors.New("pipeline stopped")

type task struct {
	platform string
	payload  []byte
}

type Config struct {
	Workers     int
	QueueSize   int
	ScanBaseURL string
	// DrainTimeout bounds how long workers may keep draining after
	// shutdown begins before their context is cut.
	DrainTimeout time.Duration
}

// Orchestrator owns the worker pool and the per-fingerprint serialization
// that keeps signing and submission exactly-once within this process.
// Cross-process races are caught by the store's transition guard.
type Orchestrator struct {
	cfg       Config
	rules     *detect.Ruleset
	detector  *detect.Detector
	assembler *assemble.Assembler
	raw       assemble.RawStore
	store     anchorstore.Store
	signer    signer.Signer
	submitter *submitter.Submitter
	txSigner  submitter.TxSigner
	dead      DeadLetterSink
	done      CompletionSink
	locks     *keylock.Map
	log       *logging.Logger

	queue chan task
	mu    sync.RWMutex
	// closed guards the queue channel: Ingest holds the read lock while
	// sending, Close takes the write lock before close(queue).
	closed bool
}

type Deps struct {
	Rules     *detect.Ruleset
	Detector  *detect.Detector
	Assembler *assemble.Assembler
	RawStore  assemble.RawStore
	Store     anchorstore.Store
	Signer    signer.Signer
	Submitter *submitter.Submitter
	TxSigner  submitter.TxSigner
	Dead      DeadLetterSink
	Done      CompletionSink
}

func New(cfg Config, deps Deps, log *logging.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	o := &Orchestrator{
		cfg:       cfg,
		rules:     deps.Rules,
		detector:  deps.Detector,
		assembler: deps.Assembler,
		raw:       deps.RawStore,
		store:     deps.Store,
		signer:    deps.Signer,
		submitter: deps.Submitter,
		txSigner:  deps.TxSigner,
		dead:      deps.Dead,
		done:      deps.Done,
		locks:     keylock.New(),
		log:       log.Named("pipeline"),
		queue:     make(chan task, cfg.QueueSize),
	}
	if o.dead == nil {
		o.dead = NewLogSink(log)
	}
	if o.done == nil {
		o.done = NewLogSink(log)
	}
	return o
}

// Run blocks until ctx is cancelled, then stops admission and waits for
// the queue to drain. Work already past create-if-absent runs to a
// terminal (or durable intermediate) state instead of being abandoned,
// so workers process under a context detached from cancellation. The
// drain itself is bounded by DrainTimeout: a confirmation wait on a
// transaction that never lands must not pin the process open, and the
// cut-off leaves such records Submitted for the next run to finish.
func (o *Orchestrator) Run(ctx context.Context) error {
	drainCtx, cancelDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDrain()
	var g errgroup.Group
	for i := 0; i < o.cfg.Workers; i++ {
		g.Go(func() error {
			for t := range o.queue {
				o.Process(drainCtx, t.platform, t.payload)
			}
			return nil
		})
	}
	<-ctx.Done()
	o.Close()
	timer := time.AfterFunc(o.cfg.DrainTimeout, cancelDrain)
	defer timer.Stop()
	return g.Wait()
}

// Close stops admission and lets queued work drain. Safe to call more
// than once.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
}

// Ingest enqueues one raw platform payload. A full queue blocks the
// caller: backpressure propagates to the source instead of losing
// messages.
func (o *Orchestrator) Ingest(ctx context.Context, platform string, payload []byte) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrStopped
	}
	select {
	case o.queue <- task{platform: platform, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process runs the full capture flow for one payload synchronously.
// Errors are handled inside (logged, dead-lettered, or persisted on the
// record); the return value exists for tests and direct callers.
func (o *Orchestrator) Process(ctx context.Context, platform string, payload []byte) error {
	log := o.log.WithField("platform", platform)
	msg, err := normalize.Normalize(platform, payload)
	if err != nil {
		// Malformed payloads are dropped, not dead-lettered: there is no
		// fingerprint to key a record on.
		log.Warnw("dropping malformed payload", "error", err)
		return err
	}

	match, ok := o.detector.Detect(msg, o.rules)
	if !ok {
		return nil
	}
	log.Infow("keyword match",
		"sender_id", msg.SenderID, "keywords", match.MatchedKeywords, "rule_version", match.RuleVersion)

	// Raw retention only for matched messages: the stored payload serves
	// audits, never the fingerprint.
	if o.raw != nil {
		if ref, err := o.raw.Put(ctx, payload); err == nil {
			match.Message.RawRef = ref
		} else {
			o.log.Warnw("raw payload retention failed", "error", err)
		}
	}

	evidence, err := o.assembler.Assemble(ctx, match)
	if err != nil {
		o.dead.DeadLetter(ctx, DeadLetter{LastError: err.Error(), Attempts: 1})
		o.log.Errorw("evidence assembly failed", "platform", msg.Platform, "error", err)
		return err
	}

	unlock := o.locks.Lock(evidence.Fingerprint)
	defer unlock()

	rec, created, err := o.store.CreateIfAbsent(ctx, evidence.Fingerprint)
	if err != nil {
		o.log.Errorw("anchor store unavailable", "fingerprint", evidence.Fingerprint, "error", err)
		return err
	}
	if !created && rec.Status.Terminal() {
		o.log.Debugw("duplicate fingerprint, already terminal",
			"fingerprint", rec.Fingerprint, "status", rec.Status)
		return nil
	}
	if !created {
		// Non-terminal pre-existing record: a restart left it mid-flight.
		// Under the fingerprint lock it is safe to resume from the stored
		// state instead of abandoning it.
		o.log.Infow("resuming in-flight anchor",
			"fingerprint", rec.Fingerprint, "status", rec.Status)
	}
	return o.advance(ctx, rec)
}

// advance drives rec through the lattice until terminal. Each step
// persists before the next begins, so a crash resumes one step back at
// worst.
func (o *Orchestrator) advance(ctx context.Context, rec domain.AnchorRecord) error {
	var err error
	for !rec.Status.Terminal() {
		switch rec.Status {
		case domain.StatusPending:
			rec, err = o.transition(ctx, rec, domain.StatusSigning, anchorstore.Fields{})
		case domain.StatusSigning:
			rec, err = o.sign(ctx, rec)
		case domain.StatusSigned:
			rec, err = o.transition(ctx, rec, domain.StatusSubmitting, anchorstore.Fields{})
		case domain.StatusSubmitting:
			rec, err = o.submit(ctx, rec)
		case domain.StatusSubmitted:
			rec, err = o.confirm(ctx, rec)
		default:
			err = fmt.Errorf("unknown status %q", rec.Status)
		}
		if err != nil {
			return err
		}
	}
	if rec.Status == domain.StatusConfirmed {
		o.done.Completed(ctx, Completion{
			Fingerprint:   rec.Fingerprint,
			TxHash:        rec.TxHash,
			Confirmations: rec.Confirmations,
			ExplorerURL:   explorerURL(o.cfg.ScanBaseURL, rec.TxHash),
		})
	}
	return nil
}

func (o *Orchestrator) sign(ctx context.Context, rec domain.AnchorRecord) (domain.AnchorRecord, error) {
	sig, attempts, err := o.signer.Sign(ctx, rec.Fingerprint)
	if err != nil {
		return o.fail(ctx, rec, err, attempts)
	}
	return o.transition(ctx, rec, domain.StatusSigned, anchorstore.Fields{
		Signature: sig.Value,
		SignerID:  sig.SignerID,
		Attempts:  attempts,
	})
}

func (o *Orchestrator) submit(ctx context.Context, rec domain.AnchorRecord) (domain.AnchorRecord, error) {
	txHash, attempts, err := o.submitter.Submit(ctx, rec.Fingerprint, o.txSigner)
	if err != nil {
		return o.fail(ctx, rec, err, attempts)
	}
	return o.transition(ctx, rec, domain.StatusSubmitted, anchorstore.Fields{
		TxHash:   txHash,
		Attempts: attempts,
	})
}

func (o *Orchestrator) confirm(ctx context.Context, rec domain.AnchorRecord) (domain.AnchorRecord, error) {
	confs, err := o.submitter.WaitForConfirmations(ctx, rec.TxHash)
	switch {
	case err == nil:
		return o.transition(ctx, rec, domain.StatusConfirmed, anchorstore.Fields{
			Confirmations: confs, AlwaysConfirmations: true,
		})
	case errors.Is(err, submitter.ErrRejectedTx):
		return o.fail(ctx, rec, err, rec.Attempts)
	default:
		// Context expiry mid-wait: the record stays Submitted and is
		// picked up again on restart. The anchor itself is already on
		// chain, so nothing is lost.
		o.log.Warnw("confirmation wait interrupted",
			"fingerprint", rec.Fingerprint, "tx_hash", rec.TxHash, "error", err)
		return rec, err
	}
}

// fail moves rec to Failed and emits a dead letter. The failure cause is
// persisted on the record so operators can triage without log archaeology.
func (o *Orchestrator) fail(ctx context.Context, rec domain.AnchorRecord, cause error, attempts int) (domain.AnchorRecord, error) {
	if attempts < 1 {
		attempts = 1
	}
	failed, err := o.transition(ctx, rec, domain.StatusFailed, anchorstore.Fields{
		LastError: cause.Error(),
		Attempts:  attempts,
	})
	if err != nil {
		return rec, err
	}
	o.dead.DeadLetter(ctx, DeadLetter{
		Fingerprint: rec.Fingerprint,
		LastError:   cause.Error(),
		Attempts:    attempts,
	})
	o.log.Errorw("anchor failed",
		"fingerprint", rec.Fingerprint, "from", rec.Status, "error", cause, "attempts", attempts)
	return failed, nil
}

func (o *Orchestrator) transition(ctx context.Context, rec domain.AnchorRecord, to domain.Status, fields anchorstore.Fields) (domain.AnchorRecord, error) {
	next, err := o.store.Transition(ctx, rec.Fingerprint, rec.Status, to, fields)
	if errors.Is(err, domain.ErrStaleTransition) {
		// Another writer advanced the record behind our back. That should
		// be impossible under the fingerprint lock; log loudly and stand
		// down without touching the record.
		o.log.Errorw("stale transition, abandoning work",
			"fingerprint", rec.Fingerprint, "from", rec.Status, "to", to)
		return rec, err
	}
	return next, err
}

func explorerURL(base, txHash string) string {
	if base == "" || txHash == "" {
		return ""
	}
	return base + "/tx/" + txHash
}
