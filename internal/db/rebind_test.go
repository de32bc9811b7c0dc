package db

import "testing"

func TestRebindDollar(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`SELECT 1`, `SELECT 1`},
		{`SELECT * FROM t WHERE a = ? AND b = ?`, `SELECT * FROM t WHERE a = $1 AND b = $2`},
		{`SELECT '?' FROM t WHERE a = ?`, `SELECT '?' FROM t WHERE a = $1`},
		{`INSERT INTO t (a, b, c) VALUES (?,?,?)`, `INSERT INTO t (a, b, c) VALUES ($1,$2,$3)`},
	}
	for _, tt := range tests {
		if got := rebindDollar(tt.in); got != tt.want {
			t.Errorf("rebindDollar(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRebind_SQLiteUnchanged(t *testing.T) {
	d := &DB{driver: DriverSQLite}
	q := `SELECT * FROM t WHERE a = ?`
	if got := d.Rebind(q); got != q {
		t.Fatalf("sqlite query rewritten: %q", got)
	}
}
