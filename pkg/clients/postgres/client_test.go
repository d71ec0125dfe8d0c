package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func expectCode(t *testing.T, err error, want sserr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", want)
	}
	var ssErr *sserr.Error
	if !errors.As(err, &ssErr) {
		t.Fatalf("error type = %T, want *sserr.Error", err)
	}
	if ssErr.Code != want {
		t.Errorf("error code = %q, want %q", ssErr.Code, want)
	}
}

func TestNewFromPool(t *testing.T) {
	t.Parallel()
	mock := newMock(t)

	client := NewFromPool(mock, &Config{Database: "catalog"})
	if client.databaseName != "catalog" {
		t.Errorf("databaseName = %q, want %q", client.databaseName, "catalog")
	}

	client = NewFromPool(mock, nil)
	if client.config == nil {
		t.Fatal("config is nil, want zero-value Config")
	}
}

func TestNewClient_Disabled(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{})
	expectCode(t, err, sserr.CodeInternalConfiguration)
}

func TestNewClient_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := NewClient(context.Background(), Config{Enabled: true, Port: 70000})
	expectCode(t, err, sserr.CodeValidation)
}

func TestClient_Query(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery("SELECT key, name FROM stored_files").
		WithArgs("u123").
		WillReturnRows(pgxmock.NewRows([]string{"key", "name"}).
			AddRow("avatars/a.png", "a.png").
			AddRow("avatars/b.png", "b.png"))

	client := NewFromPool(mock, &Config{Database: "fstorage"})
	rows, err := client.Query(context.Background(), "SELECT key, name FROM stored_files WHERE owner_id = $1", "u123")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
		keys = append(keys, key)
	}
	if len(keys) != 2 || keys[1] != "avatars/b.png" {
		t.Errorf("keys = %v, want two rows ending in avatars/b.png", keys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClient_Query_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want sserr.Code
	}{
		{"generic", errors.New("relation does not exist"), sserr.CodeInternalDatabase},
		{"deadline", context.DeadlineExceeded, sserr.CodeTimeout},
		{"canceled", context.Canceled, sserr.CodeInternalDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := newMock(t)
			mock.ExpectQuery("SELECT").WillReturnError(tt.err)

			_, err := NewFromPool(mock, nil).Query(context.Background(), "SELECT 1")
			expectCode(t, err, tt.want)
			if !errors.Is(err, tt.err) {
				t.Errorf("errors.Is(err, %v) = false, want cause preserved", tt.err)
			}
		})
	}
}

func TestClient_QueryRow_NoRows(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectQuery("SELECT name").WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"name"}))

	var name string
	err := NewFromPool(mock, nil).
		QueryRow(context.Background(), "SELECT name FROM stored_files WHERE key = $1", "missing").
		Scan(&name)
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("Scan() error = %v, want pgx.ErrNoRows", err)
	}
}

func TestClient_Exec(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectExec("DELETE FROM stored_files").
		WithArgs("u123", []string{"avatars/a.png"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	tag, err := NewFromPool(mock, nil).Exec(context.Background(),
		"DELETE FROM stored_files WHERE owner_id = $1 AND key = ANY($2)", "u123", []string{"avatars/a.png"})
	if err != nil {
		t.Fatalf("Exec() error: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Errorf("RowsAffected = %d, want 1", tag.RowsAffected())
	}
}

func TestClient_Exec_UniqueViolation(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectExec("INSERT INTO stored_files").
		WithArgs("x").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "stored_files_pkey"})

	_, err := NewFromPool(mock, nil).Exec(context.Background(), "INSERT INTO stored_files VALUES ($1)", "x")
	expectCode(t, err, sserr.CodeConflict)

	var ssErr *sserr.Error
	errors.As(err, &ssErr)
	if ssErr.Details["constraint"] != "stored_files_pkey" {
		t.Errorf("constraint detail = %v, want stored_files_pkey", ssErr.Details["constraint"])
	}
}

func TestClient_Begin(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	client := NewFromPool(mock, nil)
	tx, err := client.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if _, err := tx.Exec(context.Background(), "INSERT INTO stored_files DEFAULT VALUES"); err != nil {
		t.Fatalf("tx.Exec() error: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}

	failing := newMock(t)
	failing.ExpectBegin().WillReturnError(errors.New("too many connections"))
	_, err = NewFromPool(failing, nil).Begin(context.Background())
	expectCode(t, err, sserr.CodeInternalDatabase)
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	mock := newMock(t)
	mock.ExpectPing()
	if err := NewFromPool(mock, nil).Health(context.Background()); err != nil {
		t.Errorf("Health() error: %v", err)
	}

	failing := newMock(t)
	failing.ExpectPing().WillReturnError(errors.New("connection refused"))
	expectCode(t, NewFromPool(failing, nil).Health(context.Background()), sserr.CodeUnavailableDependency)
}

func TestWrapError_Nil(t *testing.T) {
	t.Parallel()
	if got := wrapError(nil, "noop"); got != nil {
		t.Errorf("wrapError(nil) = %v, want nil", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	disabled := Config{Port: -1}
	if err := disabled.Validate(); err != nil {
		t.Errorf("disabled config: Validate() = %v, want nil", err)
	}

	cfg := Config{Enabled: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Host != DefaultHost || cfg.Port != DefaultPort || cfg.Database != DefaultDatabase {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.SSLMode != SSLModePrefer || cfg.MaxConns != DefaultMaxConns {
		t.Errorf("ssl/pool defaults not applied: %+v", cfg)
	}

	bad := []Config{
		{Enabled: true, Port: 70000},
		{Enabled: true, SSLMode: "sometimes"},
		{Enabled: true, MaxConns: 1, MinConns: 5},
		{Enabled: true, MaxConns: -1},
		{Enabled: true, ConnectTimeout: -1},
		{Enabled: true, SSLRootCert: "/definitely/not/here.pem"},
		{Enabled: true, URI: "mysql://localhost/db"},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: Validate() = nil, want error for %+v", i, c)
		}
	}

	uri := Config{Enabled: true, URI: "postgresql://u:p@db:5432/catalog", Port: 70000}
	if err := uri.Validate(); err != nil {
		t.Errorf("URI config should skip structured checks: %v", err)
	}
}

func TestConfig_ConnectionString(t *testing.T) {
	t.Parallel()
	cfg := Config{
		Enabled:        true,
		Host:           "db",
		Port:           5433,
		Database:       "catalog",
		User:           "svc",
		Password:       Secret("p@ss/word"),
		SSLMode:        SSLModeDisable,
		ConnectTimeout: 3 * time.Second,
	}
	got := cfg.ConnectionString()
	for _, want := range []string{"postgres://svc:p%40ss%2Fword@db:5433/catalog", "sslmode=disable", "connect_timeout=3"} {
		if !strings.Contains(got, want) {
			t.Errorf("ConnectionString() = %q, missing %q", got, want)
		}
	}

	cfg.URI = "postgres://override/db"
	if cfg.ConnectionString() != cfg.URI {
		t.Errorf("URI should pass through verbatim")
	}
}

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	s := Secret("pw")
	if got := fmt.Sprintf("%v %#v", s, s); got != "[REDACTED] [REDACTED]" {
		t.Errorf("formatted secret = %q", got)
	}
	if s.Value() != "pw" {
		t.Errorf("Value() = %q, want pw", s.Value())
	}
}

func TestTruncateSQL(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", maxSQLTruncateLen+10)
	if got := truncateSQL(long); len(got) != maxSQLTruncateLen+3 {
		t.Errorf("len(truncateSQL) = %d, want %d", len(got), maxSQLTruncateLen+3)
	}
	if got := truncateSQL("SELECT 1"); got != "SELECT 1" {
		t.Errorf("short statement altered: %q", got)
	}
}
