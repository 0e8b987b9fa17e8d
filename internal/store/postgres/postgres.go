// Package postgres implements the store interfaces on a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/austindbirch/taskmesh/internal/store"
)

const uniqueViolationCode = "23505"

// DBTX is the subset of *pgxpool.Pool the stores use
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements TaskStore, ProjectStore and UserStore
type Store struct {
	db  DBTX
	now func() time.Time
}

var (
	_ store.TaskStore    = (*Store)(nil)
	_ store.ProjectStore = (*Store)(nil)
	_ store.UserStore    = (*Store)(nil)
)

func New(db DBTX) *Store {
	return &Store{db: db, now: time.Now}
}

// mapError translates driver errors into store sentinels. notFound is
// returned for pgx.ErrNoRows.
func mapError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		switch pgErr.ConstraintName {
		case "users_email_lower_idx":
			return store.ErrEmailExists
		case "users_username_key":
			return store.ErrUsernameExists
		default:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
		}
	}
	return err
}

func newID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

const taskColumns = `id, title, description, status, assigned_to, project_id, created_at, updated_at`

func scanTask(row pgx.Row) (store.Task, error) {
	var t store.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.AssignedTo, &t.ProjectID, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateTask(ctx context.Context, t *store.Task) error {
	t.ID = newID(t.ID)
	now := s.now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		t.ID, t.Title, t.Description, t.Status, t.AssignedTo, t.ProjectID, now)
	if err != nil {
		return mapError(err, store.ErrTaskNotFound)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, store.ErrTaskNotFound)
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE ($1 = '' OR project_id = $1)
		  AND ($2 = '' OR assigned_to = $2)
		ORDER BY created_at, id`,
		f.ProjectID, f.AssignedTo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t *store.Task) error {
	row := s.db.QueryRow(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, status = $4, assigned_to = $5, project_id = $6, updated_at = $7
		WHERE id = $1
		RETURNING created_at, updated_at`,
		t.ID, t.Title, t.Description, t.Status, t.AssignedTo, t.ProjectID, s.now().UTC())
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
		return mapError(err, store.ErrTaskNotFound)
	}
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTaskNotFound
	}
	return nil
}

const projectColumns = `id, name, description, members, created_at, updated_at`

func scanProject(row pgx.Row) (store.Project, error) {
	var p store.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Members, &p.CreatedAt, &p.UpdatedAt)
	if p.Members == nil {
		p.Members = []string{}
	}
	return p, err
}

func members(m []string) []string {
	if m == nil {
		return []string{}
	}
	return m
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	p.ID = newID(p.ID)
	now := s.now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		p.ID, p.Name, p.Description, members(p.Members), now)
	if err != nil {
		return mapError(err, store.ErrProjectNotFound)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*store.Project, error) {
	p, err := scanProject(s.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, store.ErrProjectNotFound)
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]store.Project, error) {
	rows, err := s.db.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProject(ctx context.Context, p *store.Project) error {
	row := s.db.QueryRow(ctx, `
		UPDATE projects
		SET name = $2, description = $3, members = $4, updated_at = $5
		WHERE id = $1
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, members(p.Members), s.now().UTC())
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return mapError(err, store.ErrProjectNotFound)
	}
	return nil
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrProjectNotFound
	}
	return nil
}

const userColumns = `id, username, email, password_hash, created_at`

func scanUser(row pgx.Row) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	u.ID = newID(u.ID)
	now := s.now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Email, u.PasswordHash, now)
	if err != nil {
		return mapError(err, store.ErrUserNotFound)
	}
	u.CreatedAt = now
	return nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*store.User, error) {
	u, err := scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		return nil, mapError(err, store.ErrUserNotFound)
	}
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*store.User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUser(ctx, `lower(email) = lower($1)`, email)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUser(ctx, `username = $1`, username)
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []store.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
