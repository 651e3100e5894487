// Package source reads bulk product tables page by page and converts rows to
// records. The reserved columns map to fixed record fields; every other
// column lands in the record's attribute map.
package source

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/c360/rulestream/errors"
	"github.com/c360/rulestream/types"
)

// Reserved column names of a source table
const (
	ColumnRPC      = "rpc"
	ColumnClientID = "client_id"
	ColumnRetailer = "retailer"
	ColumnBrand    = "brand"
	ColumnCategory = "category"
)

var reservedColumns = map[string]bool{
	ColumnRPC:      true,
	ColumnClientID: true,
	ColumnRetailer: true,
	ColumnBrand:    true,
	ColumnCategory: true,
}

// Table names arrive over the transport; only plain identifiers are allowed
// into the query text.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Reader pages a relational source table
type Reader struct {
	db *sql.DB
}

// NewReader creates a Reader over the given database handle
func NewReader(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// FetchPage reads one page of rows from the table starting at offset. An
// empty result means the table is exhausted.
func (r *Reader) FetchPage(ctx context.Context, table string, offset, limit int) ([]types.Record, error) {
	if !identifierPattern.MatchString(table) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("invalid table name %q", table),
			"Reader", "FetchPage", "validate table name")
	}

	query := fmt.Sprintf("SELECT * FROM %s LIMIT ? OFFSET ?", table)
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPageFetchFailed, err),
			"Reader", "FetchPage", "query page")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.WrapTransient(err, "Reader", "FetchPage", "read columns")
	}

	var records []types.Record
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, errors.WrapTransient(err, "Reader", "FetchPage", "scan row")
		}

		rec := types.Record{Attributes: make(map[string]string)}
		for i, column := range columns {
			value := values[i].String
			switch column {
			case ColumnRPC:
				rec.RPC = value
			case ColumnClientID:
				rec.ClientID = value
			case ColumnRetailer:
				rec.Retailer = value
			case ColumnBrand:
				rec.Brand = value
			case ColumnCategory:
				rec.Category = value
			default:
				rec.Attributes[column] = value
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPageFetchFailed, err),
			"Reader", "FetchPage", "iterate rows")
	}
	return records, nil
}
