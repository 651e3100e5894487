package source

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rulestream/errors"
)

func openSourceDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "source.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE orders (
		rpc TEXT,
		client_id TEXT,
		retailer TEXT,
		brand TEXT,
		category TEXT,
		title TEXT,
		color TEXT
	)`)
	require.NoError(t, err)
	return db
}

func seedOrders(t *testing.T, db *sql.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := db.Exec(
			`INSERT INTO orders VALUES (?, ?, ?, ?, ?, ?, ?)`,
			fmt.Sprintf("rpc-%d", i), "C1", "amazon", "acme", "shoes",
			fmt.Sprintf("Product %d", i), "red",
		)
		require.NoError(t, err)
	}
}

func TestFetchPage_ReservedAndAttributeColumns(t *testing.T) {
	db := openSourceDB(t)
	seedOrders(t, db, 1)

	reader := NewReader(db)
	records, err := reader.FetchPage(context.Background(), "orders", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "rpc-0", rec.RPC)
	assert.Equal(t, "C1", rec.ClientID)
	assert.Equal(t, "amazon", rec.Retailer)
	assert.Equal(t, "acme", rec.Brand)
	assert.Equal(t, "shoes", rec.Category)
	assert.Equal(t, map[string]string{"title": "Product 0", "color": "red"}, rec.Attributes)
}

func TestFetchPage_Pagination(t *testing.T) {
	db := openSourceDB(t)
	seedOrders(t, db, 25)

	reader := NewReader(db)
	ctx := context.Background()

	page1, err := reader.FetchPage(ctx, "orders", 0, 10)
	require.NoError(t, err)
	assert.Len(t, page1, 10)

	page2, err := reader.FetchPage(ctx, "orders", 10, 10)
	require.NoError(t, err)
	assert.Len(t, page2, 10)

	page3, err := reader.FetchPage(ctx, "orders", 20, 10)
	require.NoError(t, err)
	assert.Len(t, page3, 5)

	empty, err := reader.FetchPage(ctx, "orders", 30, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFetchPage_MissingTable(t *testing.T) {
	db := openSourceDB(t)
	reader := NewReader(db)

	_, err := reader.FetchPage(context.Background(), "returns", 0, 10)
	assert.ErrorIs(t, err, errors.ErrPageFetchFailed)
}

func TestFetchPage_InvalidTableName(t *testing.T) {
	db := openSourceDB(t)
	reader := NewReader(db)

	_, err := reader.FetchPage(context.Background(), "orders; DROP TABLE orders", 0, 10)
	assert.Error(t, err)
}

func TestFetchPage_NullColumns(t *testing.T) {
	db := openSourceDB(t)
	_, err := db.Exec(`INSERT INTO orders (rpc, client_id) VALUES ('rpc-x', 'C1')`)
	require.NoError(t, err)

	reader := NewReader(db)
	records, err := reader.FetchPage(context.Background(), "orders", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "rpc-x", records[0].RPC)
	assert.Equal(t, "", records[0].Retailer)
	assert.Equal(t, "", records[0].Attributes["title"])
}
