package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/squamishaccess/squamishaccess-functions/internal/domain"
)

// ipnTableSchema 是审计表结构。
// txn_id 不设唯一约束：一条交易可能先后落多条记录（如 failed 之后的 processed）。
const ipnTableSchema = `
CREATE TABLE IF NOT EXISTS ipn_transactions (
    id          BIGSERIAL PRIMARY KEY,
    txn_id      TEXT NOT NULL,
    txn_type    TEXT NOT NULL,
    payer_email TEXT NOT NULL,
    gross       NUMERIC(12,2) NOT NULL,
    currency    TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    received_at TIMESTAMPTZ NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_ipn_transactions_txn_id ON ipn_transactions (txn_id);
`

// PostgresStore 把每条进入业务范围的 IPN 通知落库，供财务对账。
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig 是审计库的连接配置。
type PostgresConfig struct {
	// DSN 是 lib/pq 格式的连接串
	DSN string
	// MaxOpenConns 是最大连接数，零值时取 10
	MaxOpenConns int
}

// NewPostgresStore 打开审计库连接并确保表结构存在。
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageConnection, err)
	}
	if _, err := db.ExecContext(ctx, ipnTableSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ensure schema: %v", domain.ErrStorageQuery, err)
	}
	return &PostgresStore{db: db}, nil
}

// RecordTransaction 写入一条审计记录。
func (s *PostgresStore) RecordTransaction(ctx context.Context, rec *domain.IPNRecord) error {
	const q = `
		INSERT INTO ipn_transactions (txn_id, txn_type, payer_email, gross, currency, outcome, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.ExecContext(ctx, q,
		rec.TxnID, rec.TxnType, rec.PayerEmail, rec.Gross, rec.Currency, string(rec.Outcome), rec.ReceivedAt,
	); err != nil {
		return fmt.Errorf("%w: insert ipn record: %v", domain.ErrStorageQuery, err)
	}
	return nil
}

// Close 关闭数据库连接。
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
