package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-facetcache/entity"
)

func usersSchema() *entity.Schema {
	return entity.NewSchema("users", entity.FieldsCodec{}, "id", "email", "name").
		WithPrimaryKey("id").
		WithUnique("email", "email")
}

func TestTableBuilder_Select(t *testing.T) {
	b := MustDialectBuilder("sqlite3")
	s := usersSchema()

	tests := []struct {
		name  string
		preds entity.Predicates
		query string
		args  []any
	}{
		{
			name:  "no predicates",
			query: `SELECT "id", "email", "name" FROM "users"`,
		},
		{
			name:  "equality",
			preds: entity.Where("email", "a@x"),
			query: `SELECT "id", "email", "name" FROM "users" WHERE ("email" = ?)`,
			args:  []any{"a@x"},
		},
		{
			name:  "in and equality",
			preds: entity.Predicates{entity.In("id", 1, 2)}.And("name", "Ada"),
			query: `SELECT "id", "email", "name" FROM "users" WHERE ("id" IN (?, ?)) AND ("name" = ?)`,
			args:  []any{1, 2, "Ada"},
		},
		{
			name:  "empty in",
			preds: entity.Predicates{entity.In("id")},
			query: `SELECT "id", "email", "name" FROM "users" WHERE (1 = 0)`,
		},
		{
			name:  "value that looks like sql",
			preds: entity.Where("name", `x" OR 1=1 --`),
			query: `SELECT "id", "email", "name" FROM "users" WHERE ("name" = ?)`,
			args:  []any{`x" OR 1=1 --`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt := b.Select(s, tt.preds)
			if stmt.Query != tt.query {
				t.Errorf("Query = %s, want %s", stmt.Query, tt.query)
			}
			if !reflect.DeepEqual(stmt.Args, tt.args) {
				t.Errorf("Args = %v, want %v", stmt.Args, tt.args)
			}
			if stmt.IsMutation() || stmt.Schema != "users" {
				t.Errorf("unexpected statement %+v", stmt)
			}
		})
	}
}

func TestTableBuilder_QuotesIdentifiers(t *testing.T) {
	s := entity.NewSchema(`odd"table`, entity.FieldsCodec{}, "id").WithPrimaryKey("id")

	stmt := MustDialectBuilder("postgres").Select(s, entity.Where("id", 1))
	if want := `SELECT "id" FROM "odd""table" WHERE ("id" = ?)`; stmt.Query != want {
		t.Errorf("Query = %s, want %s", stmt.Query, want)
	}
}

func TestTableBuilder_Upsert(t *testing.T) {
	s := usersSchema()
	fields := entity.Fields{"name": "Ada", "id": 1, "nickname": "ada"}

	stmt := MustDialectBuilder("postgres").Upsert(s, fields)
	want := `INSERT INTO "users" ("id", "name", "nickname") VALUES (?, ?, ?) ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "nickname" = EXCLUDED."nickname"`
	if stmt.Query != want {
		t.Errorf("Query = %s\nwant    %s", stmt.Query, want)
	}
	if !reflect.DeepEqual(stmt.Args, []any{1, "Ada", "ada"}) {
		t.Errorf("Args = %v", stmt.Args)
	}
	if !stmt.IsMutation() {
		t.Error("expected mutation")
	}

	onlyKey := MustDialectBuilder("sqlite3").Upsert(s, entity.Fields{"id": 1})
	if want := `INSERT INTO "users" ("id") VALUES (?) ON CONFLICT ("id") DO NOTHING`; onlyKey.Query != want {
		t.Errorf("Query = %s", onlyKey.Query)
	}

	noKey := entity.NewSchema("events", entity.FieldsCodec{}, "kind")
	plain := MustDialectBuilder("sqlite3").Upsert(noKey, entity.Fields{"kind": "login"})
	if want := `INSERT INTO "events" ("kind") VALUES (?)`; plain.Query != want {
		t.Errorf("Query = %s", plain.Query)
	}
}

func TestNewDialectBuilder(t *testing.T) {
	tests := []struct {
		driver  string
		wantErr bool
	}{
		{"sqlite3", false},
		{"postgres", false},
		{"mysql", true},
		{"oracle", true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			_, err := NewDialectBuilder(tt.driver)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewDialectBuilder(%q) error = %v, wantErr %v", tt.driver, err, tt.wantErr)
			}
		})
	}
}

func TestTableBuilder_TimestampColumn(t *testing.T) {
	b := MustDialectBuilder("sqlite3").WithTimestampColumn("updated_at")
	stmt := b.Upsert(usersSchema(), entity.Fields{"id": 1})

	want := `INSERT INTO "users" ("id", "updated_at") VALUES (?, ?) ON CONFLICT ("id") DO UPDATE SET "updated_at" = EXCLUDED."updated_at"`
	if stmt.Query != want {
		t.Errorf("Query = %s\nwant    %s", stmt.Query, want)
	}
	if len(stmt.Args) != 2 || stmt.Args[1] != BatchTimestamp {
		t.Errorf("Args = %v, want timestamp placeholder last", stmt.Args)
	}
}

func TestTableBuilder_Delete(t *testing.T) {
	b := MustDialectBuilder("sqlite3")

	stmt := b.Delete(usersSchema(), entity.Where("id", 1))
	if want := `DELETE FROM "users" WHERE ("id" = ?)`; stmt.Query != want {
		t.Errorf("Query = %s", stmt.Query)
	}
	if !stmt.IsMutation() {
		t.Error("expected mutation")
	}

	all := b.Delete(usersSchema(), nil)
	if want := `DELETE FROM "users" WHERE (1 = 1)`; all.Query != want || len(all.Args) != 0 {
		t.Errorf("Query = %s, Args = %v", all.Query, all.Args)
	}
}

func TestStatement_Key(t *testing.T) {
	a := Statement{Schema: "users", Query: "SELECT 1", Args: []any{1, "x"}}
	b := Statement{Schema: "users", Query: "SELECT 1", Args: []any{1, "x"}}
	c := Statement{Schema: "users", Query: "SELECT 1", Args: []any{2, "x"}}

	if a.Key() != b.Key() {
		t.Error("equal statements should share a key")
	}
	if a.Key() == c.Key() {
		t.Error("different args should change the key")
	}
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection reset")
	err := TransportError(cause, "query users")

	if !IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("transport error should wrap its cause")
	}
	if IsTransport(cause) {
		t.Error("plain error reported as transport")
	}
}

func TestOpen_SQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DSN = "file:session_roundtrip?mode=memory&cache=shared"

	db, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.Exec(ctx, `CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT, name TEXT, updated_at INTEGER)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	b := db.StatementBuilder()
	s := usersSchema()

	applied, err := db.ExecuteBatch(ctx, []Statement{
		b.Upsert(s, entity.Fields{"id": 1, "email": "a@x", "name": "Ada"}),
		b.Upsert(s, entity.Fields{"id": 1, "name": "Bob"}),
	}, time.Now())
	if err != nil || !applied {
		t.Fatalf("ExecuteBatch() = %v, %v", applied, err)
	}

	rows, err := db.Execute(ctx, b.Select(s, entity.Where("id", 1)))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["email"] != "a@x" || rows[0]["name"] != "Bob" {
		t.Errorf("row = %v", rows[0])
	}

	_, err = db.Execute(ctx, Statement{Schema: "missing", Query: "SELECT * FROM missing"})
	if !IsTransport(err) {
		t.Errorf("expected transport error, got %v", err)
	}

	if rows, _ := db.Execute(ctx, b.Delete(s, entity.Where("id", 1))); rows != nil {
		t.Errorf("mutation returned rows: %v", rows)
	}
	rows, _ = db.Execute(ctx, b.Select(s, nil))
	if len(rows) != 0 {
		t.Errorf("expected empty table, got %s", fmt.Sprint(rows))
	}
}
