package postgres

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/taskmesh/internal/db"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/store"
)

func TestMapError(t *testing.T) {
	other := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "no rows", err: pgx.ErrNoRows, want: store.ErrTaskNotFound},
		{name: "email unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "users_email_lower_idx"}, want: store.ErrEmailExists},
		{name: "username unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"}, want: store.ErrUsernameExists},
		{name: "other unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "tasks_pkey"}, want: store.ErrDuplicate},
		{name: "passthrough", err: other, want: other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, store.ErrTaskNotFound)
			if tt.want == nil {
				if got != nil {
					t.Errorf("mapError() = %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("mapError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TASKMESH_TEST_DSN")
	if dsn == "" {
		t.Skip("TASKMESH_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(pool.Close)

	l, _ := logging.NewWithConfig("store-test", logging.Config{Level: "error", Format: "json"}, &bytes.Buffer{})
	if err := db.Migrate(ctx, pool, l); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE tasks, projects, users`); err != nil {
		t.Fatal(err)
	}
	return New(pool)
}

func TestStore_Tasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tk := &store.Task{Title: "Fix bug", Status: "TO_DO", AssignedTo: "alice", ProjectID: "p1"}
	if err := s.CreateTask(ctx, tk); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	got, err := s.GetTask(ctx, tk.ID)
	if err != nil || got.Title != "Fix bug" || got.ProjectID != "p1" {
		t.Fatalf("GetTask() = %+v, %v", got, err)
	}

	tk.Status = "DONE"
	if err := s.UpdateTask(ctx, tk); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListTasks(ctx, store.TaskFilter{AssignedTo: "alice"})
	if err != nil || len(list) != 1 || list[0].Status != "DONE" {
		t.Errorf("ListTasks() = %+v, %v", list, err)
	}

	if err := s.DeleteTask(ctx, tk.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTask(ctx, tk.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTask() after delete = %v", err)
	}
	if err := s.UpdateTask(ctx, tk); !errors.Is(err, store.ErrTaskNotFound) {
		t.Errorf("UpdateTask() after delete = %v", err)
	}
}

func TestStore_ProjectsAndUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	p := &store.Project{Name: "Q", Members: []string{"alice"}}
	if err := s.CreateProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetProject(ctx, p.ID)
	if err != nil || len(got.Members) != 1 || got.Members[0] != "alice" {
		t.Fatalf("GetProject() = %+v, %v", got, err)
	}

	u := &store.User{Username: "alice", Email: "alice@example.com", PasswordHash: "h"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	dup := &store.User{Username: "alice2", Email: "ALICE@example.com", PasswordHash: "h"}
	if err := s.CreateUser(ctx, dup); !errors.Is(err, store.ErrEmailExists) {
		t.Errorf("CreateUser(dup email) = %v", err)
	}
	if byEmail, err := s.GetUserByEmail(ctx, "Alice@Example.com"); err != nil || byEmail.ID != u.ID {
		t.Errorf("GetUserByEmail() = %+v, %v", byEmail, err)
	}
}
