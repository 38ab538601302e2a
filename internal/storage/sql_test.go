package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockDB(t *testing.T, dialect Dialect) (sqlmock.Sqlmock, *SQLBackend) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b := newSQLBackend(db, dialect)
	b.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return mock, b
}

func TestSQLBackendLoad(t *testing.T) {
	tests := []struct {
		name    string
		dialect Dialect
		query   string
		setup   func(sqlmock.Sqlmock, string)
		want    string
		wantErr error
	}{
		{
			name:    "sqlite found",
			dialect: DialectSQLite,
			query:   "SELECT data FROM documents WHERE name = ?",
			setup: func(mock sqlmock.Sqlmock, q string) {
				mock.ExpectQuery(regexp.QuoteMeta(q)).WithArgs("memories").
					WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`{"x":1}`))
			},
			want: `{"x":1}`,
		},
		{
			name:    "postgres placeholders",
			dialect: DialectPostgres,
			query:   "SELECT data FROM documents WHERE name = $1",
			setup: func(mock sqlmock.Sqlmock, q string) {
				mock.ExpectQuery(regexp.QuoteMeta(q)).WithArgs("memories").
					WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow(`[]`))
			},
			want: `[]`,
		},
		{
			name:    "missing document",
			dialect: DialectSQLite,
			query:   "SELECT data FROM documents WHERE name = ?",
			setup: func(mock sqlmock.Sqlmock, q string) {
				mock.ExpectQuery(regexp.QuoteMeta(q)).WithArgs("memories").WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, b := setupMockDB(t, tt.dialect)
			tt.setup(mock, tt.query)

			got, err := b.Load(context.Background(), DocMemories)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil || string(got) != tt.want {
				t.Fatalf("Load = %s, %v", got, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSQLBackendSave(t *testing.T) {
	mock, b := setupMockDB(t, DialectPostgres)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents (name, data, updated_at) VALUES ($1, $2, $3)")).
		WithArgs("settings", `{"a":1}`, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO documents").
		WillReturnError(errors.New("connection refused"))

	ctx := context.Background()
	if err := b.Save(ctx, DocSettings, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save(ctx, DocSettings, []byte(`{}`)); err == nil {
		t.Fatal("expected database error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLBackendMigrate(t *testing.T) {
	mock, b := setupMockDB(t, DialectSQLite)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := b.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRebind(t *testing.T) {
	b := &SQLBackend{dialect: DialectPostgres}
	if got := b.rebind("a = ? AND b = ? OR c = ?"); got != "a = $1 AND b = $2 OR c = $3" {
		t.Errorf("rebind = %q", got)
	}
	b.dialect = DialectSQLite
	if got := b.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind = %q", got)
	}
}
