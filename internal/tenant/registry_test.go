package tenant

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// A minimal driver serving a fixed number of rows, enough to exercise
// the query path without a live database.

type fixedRowsDriver struct{}

func (fixedRowsDriver) Open(string) (driver.Conn, error) { return fixedRowsConn{}, nil }

type fixedRowsConn struct{}

func (fixedRowsConn) Prepare(string) (driver.Stmt, error) { return &fixedRowsStmt{}, nil }
func (fixedRowsConn) Close() error                        { return nil }
func (fixedRowsConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }

type fixedRowsStmt struct{}

func (*fixedRowsStmt) Close() error  { return nil }
func (*fixedRowsStmt) NumInput() int { return 0 }
func (*fixedRowsStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.ResultNoRows, nil
}
func (*fixedRowsStmt) Query([]driver.Value) (driver.Rows, error) {
	return &fixedRows{remaining: 3}, nil
}

type fixedRows struct{ remaining int }

func (*fixedRows) Columns() []string { return []string{"v"} }
func (*fixedRows) Close() error      { return nil }
func (r *fixedRows) Next(dest []driver.Value) error {
	if r.remaining == 0 {
		return io.EOF
	}
	r.remaining--
	dest[0] = int64(r.remaining)
	return nil
}

func init() {
	sql.Register("fixedrows", fixedRowsDriver{})
}

// The query timeout must cover the scan as well: a slow consumer still
// sees every row, because the context is not cancelled until the
// callback returns.
func TestQueryRowsOutlivesSlowScan(t *testing.T) {
	db, err := sql.Open("fixedrows", "")
	require.NoError(t, err)
	defer db.Close()

	var got []int64
	err = queryRows(context.Background(), db, 5*time.Second, "SELECT v FROM t",
		func(rows *sql.Rows) error {
			time.Sleep(100 * time.Millisecond)
			for rows.Next() {
				var v int64
				if err := rows.Scan(&v); err != nil {
					return err
				}
				got = append(got, v)
			}
			return nil
		})
	require.NoError(t, err)
	require.Len(t, got, 3)
}

func TestQueryRowsPropagatesScanError(t *testing.T) {
	db, err := sql.Open("fixedrows", "")
	require.NoError(t, err)
	defer db.Close()

	wantErr := io.ErrUnexpectedEOF
	err = queryRows(context.Background(), db, 5*time.Second, "SELECT v FROM t",
		func(*sql.Rows) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
}
