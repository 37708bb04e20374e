package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestPostgresRecognizesBothDrivers(t *testing.T) {
	pgxErr := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "orders_gateway_order_id_key", TableName: "orders"})
	pg, ok := Postgres(pgxErr)
	if !ok || pg.Code != "23505" || pg.Constraint != "orders_gateway_order_id_key" || pg.Table != "orders" {
		t.Fatalf("unexpected pgx details %+v ok=%v", pg, ok)
	}

	pqErr := &pq.Error{Code: "23503", Constraint: "order_items_order_id_fkey"}
	pg, ok = Postgres(Wrap(CodeDependency, pqErr, "save item"))
	if !ok || pg.Code != "23503" || pg.Constraint != "order_items_order_id_fkey" {
		t.Fatalf("unexpected pq details %+v ok=%v", pg, ok)
	}

	if _, ok := Postgres(fmt.Errorf("plain")); ok {
		t.Fatal("plain errors carry no postgres details")
	}
}

func TestDumpFields(t *testing.T) {
	err := Wrap(CodeDependency, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}, "apply payment")
	dump := Dump(err)
	if dump.Code != CodeDependency || len(dump.Chain) != 2 || dump.PG == nil {
		t.Fatalf("unexpected dump %+v", dump)
	}
	fields := dump.Fields()
	if fields["pg_code"] != "40001" || fields["error_code"] != CodeDependency {
		t.Fatalf("unexpected fields %v", fields)
	}

	plain := Dump(New(CodeValidation, "bad amount")).Fields()
	if _, ok := plain["pg_code"]; ok {
		t.Fatal("pg fields should be omitted without a driver error")
	}
	if Dump(nil).TopMessage != "" {
		t.Fatal("nil error should dump empty")
	}
}
