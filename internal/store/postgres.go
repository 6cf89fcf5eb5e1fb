package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"ai-trading-engine/internal/execution"
)

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// PostgresStore is the durable TradeStore backed by PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects, tunes the pool and runs migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "store").Logger(),
	}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s.logger.Info().Str("database", cfg.Database).Msg("connected to postgres")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(5) NOT NULL,
			size_usd DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			stop_loss_price DECIMAL(20, 8) NOT NULL,
			take_profit_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			pnl DECIMAL(20, 8),
			close_reason VARCHAR(32),
			status VARCHAR(10) NOT NULL DEFAULT 'OPEN',
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at)`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// RecordOpen inserts a new open trade.
func (s *PostgresStore) RecordOpen(ctx context.Context, position execution.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trades (id, symbol, direction, size_usd, entry_price, stop_loss_price, take_profit_price, status, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		position.ID, position.Symbol, position.Direction.String(), position.SizeUSD,
		position.EntryPrice, position.StopLossPrice, position.TakeProfitPrice,
		string(StatusOpen), position.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting trade %s: %w", position.ID, err)
	}
	return nil
}

// RecordClose finalizes an open trade.
func (s *PostgresStore) RecordClose(ctx context.Context, closed execution.ClosedTrade) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trades
		SET exit_price = $2, pnl = $3, close_reason = $4, status = $5, closed_at = $6
		WHERE id = $1 AND status = $7`,
		closed.Position.ID, closed.ExitPrice, closed.PnL, string(closed.Reason),
		string(StatusClosed), closed.ClosedAt, string(StatusOpen),
	)
	if err != nil {
		return fmt.Errorf("closing trade %s: %w", closed.Position.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("closing trade %s: %w", closed.Position.ID, ErrNotFound)
	}
	return nil
}

const tradeColumns = `id, symbol, direction, size_usd, entry_price, stop_loss_price, take_profit_price,
	exit_price, pnl, close_reason, status, opened_at, closed_at`

// Trade returns one record by id.
func (s *PostgresStore) Trade(ctx context.Context, id string) (Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id)

	trade, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trade{}, ErrNotFound
	}
	if err != nil {
		return Trade{}, fmt.Errorf("loading trade %s: %w", id, err)
	}
	return trade, nil
}

// OpenTrades lists records still open, oldest first.
func (s *PostgresStore) OpenTrades(ctx context.Context) ([]Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE status = $1 ORDER BY opened_at`, string(StatusOpen))
	if err != nil {
		return nil, fmt.Errorf("querying open trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// TradesSince lists records opened at or after the cutoff, oldest first.
func (s *PostgresStore) TradesSince(ctx context.Context, since time.Time) ([]Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE opened_at >= $1 ORDER BY opened_at`, since)
	if err != nil {
		return nil, fmt.Errorf("querying trades: %w", err)
	}
	defer rows.Close()

	return collectTrades(rows)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanTrade(row pgx.Row) (Trade, error) {
	var t Trade
	var status string
	err := row.Scan(
		&t.ID, &t.Symbol, &t.Direction, &t.SizeUSD, &t.EntryPrice,
		&t.StopLossPrice, &t.TakeProfitPrice, &t.ExitPrice, &t.PnL,
		&t.CloseReason, &status, &t.OpenedAt, &t.ClosedAt,
	)
	if err != nil {
		return Trade{}, err
	}
	t.Status = TradeStatus(status)
	return t, nil
}

func collectTrades(rows pgx.Rows) ([]Trade, error) {
	var out []Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trade row: %w", err)
		}
		out = append(out, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trade rows: %w", err)
	}
	return out, nil
}
