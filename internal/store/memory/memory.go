// Package memory keeps every record in process memory. It backs tests and
// the STORE_DRIVER=memory development mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/taskmesh/internal/store"
)

// Store implements TaskStore, ProjectStore and UserStore
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	tasks    map[string]store.Task
	projects map[string]store.Project
	users    map[string]store.User
	// insertion order, so lists are stable when timestamps tie
	order map[string]uint64
	next  uint64
}

var (
	_ store.TaskStore    = (*Store)(nil)
	_ store.ProjectStore = (*Store)(nil)
	_ store.UserStore    = (*Store)(nil)
)

func New() *Store {
	return &Store{
		now:      time.Now,
		tasks:    make(map[string]store.Task),
		projects: make(map[string]store.Project),
		users:    make(map[string]store.User),
		order:    make(map[string]uint64),
	}
}

func (s *Store) stamp() time.Time { return s.now().UTC() }

// track must be called with mu held
func (s *Store) track(id string) {
	s.next++
	s.order[id] = s.next
}

func (s *Store) before(a, b string) bool { return s.order[a] < s.order[b] }

func (s *Store) CreateTask(_ context.Context, t *store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := s.tasks[t.ID]; ok {
		return store.ErrDuplicate
	}
	now := s.stamp()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tasks[t.ID] = *t
	s.track(t.ID)
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return &t, nil
}

func (s *Store) ListTasks(_ context.Context, f store.TaskFilter) ([]store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.ProjectID != "" && t.ProjectID != f.ProjectID {
			continue
		}
		if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return s.before(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, t *store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.tasks[t.ID]
	if !ok {
		return store.ErrTaskNotFound
	}
	t.CreatedAt = old.CreatedAt
	t.UpdatedAt = s.stamp()
	s.tasks[t.ID] = *t
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return store.ErrTaskNotFound
	}
	delete(s.tasks, id)
	delete(s.order, id)
	return nil
}

func cloneProject(p store.Project) store.Project {
	p.Members = append([]string(nil), p.Members...)
	return p
}

func (s *Store) CreateProject(_ context.Context, p *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := s.projects[p.ID]; ok {
		return store.ErrDuplicate
	}
	now := s.stamp()
	p.CreatedAt, p.UpdatedAt = now, now
	s.projects[p.ID] = cloneProject(*p)
	s.track(p.ID)
	return nil
}

func (s *Store) GetProject(_ context.Context, id string) (*store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, store.ErrProjectNotFound
	}
	p = cloneProject(p)
	return &p, nil
}

func (s *Store) ListProjects(_ context.Context) ([]store.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, cloneProject(p))
	}
	sort.Slice(out, func(i, j int) bool { return s.before(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Store) UpdateProject(_ context.Context, p *store.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.projects[p.ID]
	if !ok {
		return store.ErrProjectNotFound
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.stamp()
	s.projects[p.ID] = cloneProject(*p)
	return nil
}

func (s *Store) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return store.ErrProjectNotFound
	}
	delete(s.projects, id)
	delete(s.order, id)
	return nil
}

func (s *Store) CreateUser(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return store.ErrEmailExists
		}
		if existing.Username == u.Username {
			return store.ErrUsernameExists
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = s.stamp()
	s.users[u.ID] = *u
	s.track(u.ID)
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	return s.findUser(func(u store.User) bool { return strings.EqualFold(u.Email, email) })
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*store.User, error) {
	return s.findUser(func(u store.User) bool { return u.Username == username })
}

func (s *Store) findUser(match func(store.User) bool) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return s.before(out[i].ID, out[j].ID) })
	return out, nil
}
