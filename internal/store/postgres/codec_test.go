package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

func TestDecoderKeepsFirstError(t *testing.T) {
	var d decoder
	if got := d.u64("18446744073709551615"); got != ^uint64(0) {
		t.Fatalf("u64 max = %d", got)
	}
	d.u64("-1")
	d.u64("not-a-number")
	if d.err == nil || !strings.Contains(d.err.Error(), `"-1"`) {
		t.Fatalf("err = %v, want first failure", d.err)
	}
}

func TestDecoderHashAndAddress(t *testing.T) {
	h := common.HexToHash("0xabc")
	a := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	var d decoder
	if got := d.hash(h.Hex()); got != h {
		t.Fatalf("hash = %s", got.Hex())
	}
	if got := d.addr(a.Hex()); got != a {
		t.Fatalf("addr = %s", got.Hex())
	}
	if d.err != nil {
		t.Fatalf("unexpected error: %v", d.err)
	}

	d.hash("0x1234")
	if d.err == nil {
		t.Fatal("short hash should fail")
	}
}

func TestNullTime(t *testing.T) {
	if nullTime(time.Time{}) != nil {
		t.Fatal("zero time should map to NULL")
	}
	now := time.Now()
	if got, ok := nullTime(now).(time.Time); !ok || !got.Equal(now) {
		t.Fatalf("nullTime(now) = %v", got)
	}
}

func TestWhereBuilder(t *testing.T) {
	since := time.Unix(100, 0)
	var w where
	w.add("created_at >= ?", since)
	w.add("pool = ?", "0x01")
	sql := w.sql() + w.page(domain.ListOpts{Limit: 10, Offset: 20})

	want := " WHERE created_at >= $1 AND pool = $2 LIMIT $3 OFFSET $4"
	if sql != want {
		t.Fatalf("sql = %q, want %q", sql, want)
	}
	if len(w.args) != 4 || w.args[2] != 10 || w.args[3] != 20 {
		t.Fatalf("args = %v", w.args)
	}
}

func TestWhereEmpty(t *testing.T) {
	var w where
	if got := w.sql() + w.page(domain.ListOpts{}); got != "" {
		t.Fatalf("empty where = %q", got)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{"explicit", ClientConfig{DSN: "postgres://x"}, "postgres://x"},
		{"defaults", ClientConfig{Host: "db", User: "u", Password: "p", Database: "ledger"},
			"postgres://u:p@db:5432/ledger?sslmode=disable"},
		{"ssl", ClientConfig{Host: "db", Port: 6543, User: "u", Password: "p", Database: "ledger", SSLMode: "require"},
			"postgres://u:p@db:6543/ledger?sslmode=require"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Fatalf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_init.sql" {
		t.Fatalf("migrations = %v", names)
	}
}
