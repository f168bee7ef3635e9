package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"math/big"

	"github.com/vnavascues/substrate-watcher/internal/domain"
)

// ExtrinsicRepo implements storage.ExtrinsicRepository: a prepared
// statement inside a transaction for batch writes, ON CONFLICT DO UPDATE
// for idempotence.
type ExtrinsicRepo struct {
	db *DB
}

func NewExtrinsicRepo(db *DB) *ExtrinsicRepo {
	return &ExtrinsicRepo{db: db}
}

const upsertExtrinsicSQL = `
	INSERT INTO substrate_extrinsics
		(chain, height, xidx, block_hash, ts, signer, module, function, success, tip, fee, fee_unknown, params, matched)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	ON CONFLICT (chain, height, xidx) DO UPDATE SET
		block_hash  = EXCLUDED.block_hash,
		ts          = EXCLUDED.ts,
		signer      = EXCLUDED.signer,
		module      = EXCLUDED.module,
		function    = EXCLUDED.function,
		success     = EXCLUDED.success,
		tip         = EXCLUDED.tip,
		fee         = EXCLUDED.fee,
		fee_unknown = EXCLUDED.fee_unknown,
		params      = EXCLUDED.params,
		matched     = EXCLUDED.matched
`

func (r *ExtrinsicRepo) UpsertBatch(ctx context.Context, records []domain.ExtrinsicRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("extrinsic_repo: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertExtrinsicSQL)
	if err != nil {
		return fmt.Errorf("extrinsic_repo: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			string(rec.Chain), rec.Height, rec.Index, rec.BlockHash,
			rec.BlockTimestamp, pubkeyBytes(rec.SignerPubKey),
			rec.CallModule, rec.CallFunction, rec.Success,
			bigString(rec.Tip), nullableBigString(rec.Fee), rec.FeeUnknown,
			rec.ParamsPayload, encodeMatched(rec.MatchedAddrs),
		); err != nil {
			return fmt.Errorf("extrinsic_repo: upsert height %d idx %d: %w", rec.Height, rec.Index, err)
		}
	}

	return tx.Commit()
}

// Get returns matched extrinsics in the height range, or in the timestamp
// range when fromTime/toTime is set -- exercising the (chain, ts) index
// instead of the primary key range scan. When pubkey is set, membership in
// the opaque matched blob is filtered in application code since matched is
// stored as a flat concatenation, not a native array.
func (r *ExtrinsicRepo) Get(ctx context.Context, chain domain.ChainID, pubkey *domain.PubKey, fromHeight, toHeight uint64, fromTime, toTime *uint64) ([]domain.ExtrinsicRecord, error) {
	var rows *sql.Rows
	var err error
	if fromTime != nil || toTime != nil {
		lo, hi := timeRangeBounds(fromTime, toTime)
		rows, err = r.db.QueryContext(ctx, `
			SELECT chain, height, xidx, block_hash, ts, signer, module, function, success, tip, fee, fee_unknown, params, matched
			FROM substrate_extrinsics
			WHERE chain = $1 AND ts IS NOT NULL AND ts BETWEEN $2 AND $3
			ORDER BY ts, height, xidx
		`, string(chain), lo, hi)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT chain, height, xidx, block_hash, ts, signer, module, function, success, tip, fee, fee_unknown, params, matched
			FROM substrate_extrinsics
			WHERE chain = $1 AND height BETWEEN $2 AND $3
			ORDER BY height, xidx
		`, string(chain), fromHeight, toHeight)
	}
	if err != nil {
		return nil, fmt.Errorf("extrinsic_repo: query: %w", err)
	}
	defer rows.Close()

	var out []domain.ExtrinsicRecord
	for rows.Next() {
		var rec extrinsicRow
		if err := rows.Scan(&rec.Chain, &rec.Height, &rec.Index, &rec.BlockHash, &rec.Timestamp,
			&rec.Signer, &rec.Module, &rec.Function, &rec.Success, &rec.Tip, &rec.Fee, &rec.FeeUnknown,
			&rec.Params, &rec.Matched); err != nil {
			return nil, fmt.Errorf("extrinsic_repo: scan: %w", err)
		}
		domainRec := rec.toDomain()
		if pubkey != nil && !matchesPubkeyRecord(domainRec, *pubkey) {
			continue
		}
		out = append(out, domainRec)
	}
	return out, rows.Err()
}

func matchesPubkeyRecord(rec domain.ExtrinsicRecord, pk domain.PubKey) bool {
	if rec.SignerPubKey != nil && *rec.SignerPubKey == pk {
		return true
	}
	for _, a := range rec.MatchedAddrs {
		if a == pk {
			return true
		}
	}
	return false
}

func (r *ExtrinsicRepo) DeleteHistory(ctx context.Context, chain domain.ChainID, pubkey domain.PubKey) error {
	recs, err := r.Get(ctx, chain, &pubkey, 0, ^uint64(0)>>1, nil, nil)
	if err != nil {
		return fmt.Errorf("extrinsic_repo: delete history: select: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("extrinsic_repo: delete history: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM substrate_extrinsics WHERE chain = $1 AND height = $2 AND xidx = $3`)
	if err != nil {
		return fmt.Errorf("extrinsic_repo: delete history: prepare: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, string(chain), rec.Height, rec.Index); err != nil {
			return fmt.Errorf("extrinsic_repo: delete history: exec: %w", err)
		}
	}
	return tx.Commit()
}

type extrinsicRow struct {
	Chain     string
	Height    uint64
	Index     uint32
	BlockHash string
	Timestamp sql.NullInt64
	Signer    []byte
	Module    string
	Function  string
	Success   bool
	Tip       string
	Fee       sql.NullString
	FeeUnknown bool
	Params    []byte
	Matched   []byte
}

func (r *extrinsicRow) toDomain() domain.ExtrinsicRecord {
	rec := domain.ExtrinsicRecord{
		Chain:         domain.ChainID(r.Chain),
		Height:        r.Height,
		Index:         r.Index,
		BlockHash:     r.BlockHash,
		CallModule:    r.Module,
		CallFunction:  r.Function,
		Success:       r.Success,
		Tip:           bigFromString(r.Tip),
		FeeUnknown:    r.FeeUnknown,
		ParamsPayload: r.Params,
	}
	if r.Timestamp.Valid {
		ts := uint64(r.Timestamp.Int64)
		rec.BlockTimestamp = &ts
	}
	if r.Fee.Valid {
		rec.Fee = bigFromString(r.Fee.String)
	}
	if pk := pubkeyFromBytes(r.Signer); pk != nil {
		rec.SignerPubKey = pk
	}
	rec.MatchedAddrs = decodeMatched(r.Matched)
	return rec
}

func pubkeyBytes(pk *domain.PubKey) []byte {
	if pk == nil {
		return nil
	}
	return pk[:]
}

// encodeMatched/decodeMatched pack the matched address set as a flat
// concatenation of 32-byte account ids into an opaque BLOB column -- no
// ordering guarantee, membership only.
func encodeMatched(pks []domain.PubKey) []byte {
	out := make([]byte, 0, len(pks)*32)
	for _, pk := range pks {
		out = append(out, pk[:]...)
	}
	return out
}

func decodeMatched(b []byte) []domain.PubKey {
	if len(b) == 0 || len(b)%32 != 0 {
		return nil
	}
	out := make([]domain.PubKey, 0, len(b)/32)
	for i := 0; i < len(b); i += 32 {
		var pk domain.PubKey
		copy(pk[:], b[i:i+32])
		out = append(out, pk)
	}
	return out
}

func pubkeyFromBytes(b []byte) *domain.PubKey {
	if len(b) != 32 {
		return nil
	}
	var pk domain.PubKey
	copy(pk[:], b)
	return &pk
}

// timeRangeBounds converts optional from/to timestamp pointers into a
// concrete [lo, hi] pair for a BETWEEN clause, defaulting an absent bound
// to the full range rather than excluding rows on that side.
func timeRangeBounds(fromTime, toTime *uint64) (int64, int64) {
	lo := int64(0)
	if fromTime != nil {
		lo = int64(*fromTime)
	}
	hi := int64(math.MaxInt64)
	if toTime != nil {
		hi = int64(*toTime)
	}
	return lo, hi
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableBigString(v *big.Int) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: v.String(), Valid: true}
}

func bigFromString(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}
