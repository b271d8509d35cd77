package anchorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// Postgres is the durable store. anchor_records is the only table the
// pipeline requires to survive restarts (schema.sql).
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{db: db} }

// Connect builds a pool with the same tuning the rest of the services
// use for their primary stores.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, cfg)
}

const recordColumns = `fingerprint,status,signature,signer_id,tx_hash,confirmations,last_error,attempts,created_at,updated_at`

func (p *Postgres) CreateIfAbsent(ctx context.Context, fingerprint string) (domain.AnchorRecord, bool, error) {
	tag, err := p.db.Exec(ctx, `INSERT INTO anchor_records(fingerprint,status)
VALUES($1,$2)
ON CONFLICT (fingerprint) DO NOTHING`, fingerprint, domain.StatusPending)
	if err != nil {
		return domain.AnchorRecord{}, false, err
	}
	created := tag.RowsAffected() == 1
	rec, found, err := p.Get(ctx, fingerprint)
	if err != nil {
		return domain.AnchorRecord{}, false, err
	}
	if !found {
		return domain.AnchorRecord{}, false, fmt.Errorf("anchor record vanished after insert: %s", fingerprint)
	}
	return rec, created, nil
}

func (p *Postgres) Transition(ctx context.Context, fingerprint string, from, to domain.Status, fields Fields) (domain.AnchorRecord, error) {
	if err := checkStep(from, to); err != nil {
		return domain.AnchorRecord{}, err
	}
	row := p.db.QueryRow(ctx, `UPDATE anchor_records SET
  status=$3,
  signature=CASE WHEN $4<>'' THEN $4 ELSE signature END,
  signer_id=CASE WHEN $5<>'' THEN $5 ELSE signer_id END,
  tx_hash=CASE WHEN $6<>'' THEN $6 ELSE tx_hash END,
  last_error=CASE WHEN $7<>'' THEN $7 ELSE last_error END,
  confirmations=CASE WHEN $8::bool OR $9>0 THEN $9 ELSE confirmations END,
  attempts=CASE WHEN $10>0 THEN $10 ELSE attempts END,
  updated_at=now()
WHERE fingerprint=$1 AND status=$2
RETURNING `+recordColumns,
		fingerprint, from, to,
		fields.Signature, fields.SignerID, fields.TxHash, fields.LastError,
		fields.AlwaysConfirmations, fields.Confirmations, fields.Attempts)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The guard failed: report the stored state for diagnostics and
		// leave the record untouched.
		stored, found, gerr := p.Get(ctx, fingerprint)
		if gerr != nil {
			return domain.AnchorRecord{}, gerr
		}
		if !found {
			return domain.AnchorRecord{}, fmt.Errorf("unknown fingerprint %s: %w", fingerprint, domain.ErrStaleTransition)
		}
		return domain.AnchorRecord{}, fmt.Errorf("stored status %s, expected %s: %w", stored.Status, from, domain.ErrStaleTransition)
	}
	return rec, err
}

func (p *Postgres) Get(ctx context.Context, fingerprint string) (domain.AnchorRecord, bool, error) {
	row := p.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM anchor_records WHERE fingerprint=$1`, fingerprint)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AnchorRecord{}, false, nil
	}
	if err != nil {
		return domain.AnchorRecord{}, false, err
	}
	return rec, true, nil
}

func scanRecord(row pgx.Row) (domain.AnchorRecord, error) {
	var rec domain.AnchorRecord
	var status string
	err := row.Scan(&rec.Fingerprint, &status, &rec.Signature, &rec.SignerID, &rec.TxHash,
		&rec.Confirmations, &rec.LastError, &rec.Attempts, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.AnchorRecord{}, err
	}
	rec.Status = domain.Status(status)
	return rec, nil
}
