package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// num renders a uint64 for a NUMERIC(20,0) parameter.
func num(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// decoder parses NUMERIC text columns, keeping the first failure.
type decoder struct {
	err error
}

func (d *decoder) u64(s string) uint64 {
	if d.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		d.err = fmt.Errorf("postgres: decode numeric %q: %w", s, err)
	}
	return v
}

func (d *decoder) hash(s string) common.Hash {
	if d.err == nil && !isHex(s, common.HashLength) {
		d.err = fmt.Errorf("postgres: decode hash %q", s)
	}
	return common.HexToHash(s)
}

func (d *decoder) addr(s string) common.Address {
	if d.err == nil && s != "" && !common.IsHexAddress(s) {
		d.err = fmt.Errorf("postgres: decode address %q", s)
	}
	return common.HexToAddress(s)
}

func isHex(s string, n int) bool {
	if len(s) != 2+2*n || s[:2] != "0x" {
		return false
	}
	for _, c := range s[2:] {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
