// Package warehouse merges published verdicts into the analytical results
// table. The merge is keyed so republishing the same verdicts overwrites
// rather than duplicates.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/types"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Sink writes verdicts into one warehouse table
type Sink struct {
	db     *sql.DB
	table  string
	logger *slog.Logger
}

// NewSink creates a Sink over the given handle. The table name is
// interpolated into SQL, so it must be a plain identifier.
func NewSink(db *sql.DB, table string) (*Sink, error) {
	if !identifierPattern.MatchString(table) {
		return nil, errors.WrapInvalid(fmt.Errorf("invalid table name %q", table),
			"Sink", "NewSink", "validate table name")
	}
	return &Sink{
		db:     db,
		table:  table,
		logger: slog.Default().With("component", "warehouse-sink"),
	}, nil
}

// EnsureSchema creates the results table if it does not exist
func (s *Sink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		report_date   TEXT NOT NULL,
		online_store  TEXT,
		rpc           TEXT NOT NULL,
		customer_id   TEXT,
		rule_name     TEXT NOT NULL,
		rule_pass     INTEGER NOT NULL,
		rule_score    REAL NOT NULL,
		error_message TEXT,
		PRIMARY KEY (report_date, rpc, rule_name)
	)`, s.table)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return errors.WrapTransient(err, "Sink", "EnsureSchema", fmt.Sprintf("create table %s", s.table))
	}
	return nil
}

// Merge upserts the verdicts in one transaction. Rows sharing a merge key
// with an existing row replace it.
func (s *Sink) Merge(ctx context.Context, verdicts []types.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(err, "Sink", "Merge", "begin transaction")
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s
		(report_date, online_store, rpc, customer_id, rule_name, rule_pass, rule_score, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_date, rpc, rule_name) DO UPDATE SET
			online_store  = excluded.online_store,
			customer_id   = excluded.customer_id,
			rule_pass     = excluded.rule_pass,
			rule_score    = excluded.rule_score,
			error_message = excluded.error_message`, s.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return errors.WrapTransient(err, "Sink", "Merge", "prepare upsert")
	}
	defer stmt.Close()

	for _, v := range verdicts {
		_, err := stmt.ExecContext(ctx,
			v.ReportDate, v.OnlineStore, v.RPC, v.CustomerID,
			v.RuleName, v.Passed, v.Score, v.ErrorMessage)
		if err != nil {
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrMergeFailed, err),
				"Sink", "Merge", fmt.Sprintf("upsert verdict %s/%s", v.RPC, v.RuleName))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrMergeFailed, err),
			"Sink", "Merge", "commit transaction")
	}

	s.logger.Debug("Verdicts merged", "table", s.table, "count", len(verdicts))
	return nil
}
