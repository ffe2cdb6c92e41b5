package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Parsh06/Stock-Backend/internal/logger"
	"github.com/Parsh06/Stock-Backend/internal/services/uploader"
)

// PgxSink writes documents straight to Postgres through a pgx pool
type PgxSink struct {
	pool  *pgxpool.Pool
	table string
}

// OpenPgxSink connects to dsn and ensures <schema>.documents exists
func OpenPgxSink(ctx context.Context, dsn, schema string, maxConns int) (*PgxSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if schema == "" {
		schema = "public"
	}

	s := &PgxSink{
		pool:  pool,
		table: pgx.Identifier{schema, "documents"}.Sanitize(),
	}
	if err := s.ensureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Postgres sink ready", zap.String("table", s.table))
	return s, nil
}

func (s *PgxSink) ensureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		collection  TEXT NOT NULL,
		doc_id      TEXT NOT NULL,
		record_id   INTEGER NOT NULL,
		data_type   TEXT,
		uploaded_at TIMESTAMPTZ,
		data        JSONB NOT NULL,
		PRIMARY KEY (collection, doc_id)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// DeleteAll removes every document of collection
func (s *PgxSink) DeleteAll(ctx context.Context, collection string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE collection = $1`, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s documents: %w", collection, err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertBatch queues one upsert per document and sends them as a single batch
func (s *PgxSink) InsertBatch(ctx context.Context, collection string, docs []uploader.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	b := &pgx.Batch{}
	for _, d := range docs {
		data, err := json.Marshal(d.Fields)
		if err != nil {
			return 0, fmt.Errorf("failed to encode document %s: %w", d.ID, err)
		}
		dataType, _ := d.Fields[uploader.FieldDataType].(string)
		b.Queue(
			`INSERT INTO `+s.table+`
			(collection, doc_id, record_id, data_type, uploaded_at, data)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (collection, doc_id) DO UPDATE SET
			record_id = EXCLUDED.record_id, data_type = EXCLUDED.data_type,
			uploaded_at = EXCLUDED.uploaded_at, data = EXCLUDED.data`,
			collection, d.ID, d.Seq, dataType, uploadedAt(d), string(data),
		)
	}

	total := 0
	br := s.pool.SendBatch(ctx, b)
	for k := 0; k < len(docs); k++ {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return total, fmt.Errorf("failed to insert %s: %w", docs[k].ID, err)
		}
		total += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return total, err
	}
	return total, nil
}

// Close releases the pool
func (s *PgxSink) Close() error {
	s.pool.Close()
	return nil
}
