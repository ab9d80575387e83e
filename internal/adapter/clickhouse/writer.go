package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/domain"
)

// Every cycle re-inserts the full lookback window, so the table is a
// ReplacingMergeTree keyed on station and window center: merges keep
// the row with the newest generated_at per window instead of piling up
// duplicates.
const tableDDL = `
CREATE TABLE IF NOT EXISTS %s.k_index_results (
    station       LowCardinality(String),
    name          String,
    window_center DateTime('UTC'),
    k_value       Float64,
    range_nt      Float64,
    generated_at  DateTime('UTC')
)
ENGINE = ReplacingMergeTree(generated_at)
ORDER BY (station, window_center)`

// Writer stores derived K index results in ClickHouse.
// It implements pipeline.ResultSink.
type Writer struct {
	conn   driver.Conn
	table  string
	logger *slog.Logger
}

// NewWriter connects to ClickHouse and ensures the results schema
// exists. The handshake runs against the default database because the
// configured one may not exist yet on a fresh server.
func NewWriter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Writer, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePassword,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	if err := ensureSchema(ctx, conn, cfg.ClickHouseDatabase); err != nil {
		return nil, err
	}

	logger.Info("clickhouse sink ready",
		"addr", cfg.ClickHouseAddr,
		"database", cfg.ClickHouseDatabase,
	)
	return &Writer{
		conn:   conn,
		table:  cfg.ClickHouseDatabase + ".k_index_results",
		logger: logger,
	}, nil
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "clickhouse" }

// Publish batch-inserts every window of the report.
func (w *Writer) Publish(ctx context.Context, report domain.Report) error {
	if len(report.Results) == 0 {
		return nil
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, row := range rowsFromReport(report) {
		if err := batch.Append(
			row.Station,
			row.Name,
			row.WindowCenter,
			row.K,
			row.RangeNT,
			row.GeneratedAt,
		); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}
	return batch.Send()
}

func (w *Writer) Close() error {
	return w.conn.Close()
}

func ensureSchema(ctx context.Context, conn driver.Conn, database string) error {
	if err := conn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+database); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(tableDDL, database)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// resultRow mirrors the k_index_results column order.
type resultRow struct {
	Station      string
	Name         string
	WindowCenter time.Time
	K            float64
	RangeNT      float64
	GeneratedAt  time.Time
}

func rowsFromReport(report domain.Report) []resultRow {
	rows := make([]resultRow, len(report.Results))
	for i, result := range report.Results {
		rows[i] = resultRow{
			Station:      report.Station,
			Name:         report.Name,
			WindowCenter: result.Center.UTC(),
			K:            result.K,
			RangeNT:      result.Range,
			GeneratedAt:  report.GeneratedAt.UTC(),
		}
	}
	return rows
}
