// Package project owns project records and checks that project members are
// known to the user service.
package project

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/taskmesh/internal/existence"
	"github.com/austindbirch/taskmesh/internal/logging"
	"github.com/austindbirch/taskmesh/internal/store"
	"github.com/austindbirch/taskmesh/internal/tracing"
	"github.com/austindbirch/taskmesh/internal/validation"
)

type Input struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Description string   `json:"description" validate:"max=4000"`
	Members     []string `json:"members" validate:"max=100,dive,required,max=255"`
}

// normalize trims names and drops duplicate members, keeping first-seen order
func (in *Input) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	seen := make(map[string]bool, len(in.Members))
	members := make([]string, 0, len(in.Members))
	for _, m := range in.Members {
		m = strings.TrimSpace(m)
		if seen[m] {
			continue
		}
		seen[m] = true
		members = append(members, m)
	}
	in.Members = members
}

type Requirer interface {
	Require(ctx context.Context, kind existence.Kind, id string) error
}

type Service struct {
	store           store.ProjectStore
	users           Requirer
	validateMembers bool
	logger          *logging.Logger
}

type Option func(*Service)

// WithMemberValidation toggles the user-service check on members. On by default.
func WithMemberValidation(enabled bool) Option {
	return func(s *Service) { s.validateMembers = enabled }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(st store.ProjectStore, users Requirer, opts ...Option) *Service {
	s := &Service{store: st, users: users, validateMembers: true, logger: logging.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Create(ctx context.Context, in Input) (*store.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "project.create")
	defer span.End()

	if err := s.admit(ctx, &in); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("create project: %w", err)
	}
	p := &store.Project{Name: in.Name, Description: in.Description, Members: in.Members}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	span.SetAttributes(attribute.String("project_id", p.ID))
	s.logger.WithContext(ctx).WithField("project_id", p.ID).WithField("members", len(p.Members)).Info("project created")
	return p, nil
}

func (s *Service) Update(ctx context.Context, id string, in Input) (*store.Project, error) {
	ctx, span := tracing.StartSpan(ctx, "project.update", attribute.String("project_id", id))
	defer span.End()

	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, &in); err != nil {
		tracing.SetSpanError(ctx, err)
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	p.Name, p.Description, p.Members = in.Name, in.Description, in.Members
	if err := s.store.UpdateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("update project %s: %w", id, err)
	}
	return p, nil
}

// admit validates in and, when enabled, requires every member to exist
func (s *Service) admit(ctx context.Context, in *Input) error {
	in.normalize()
	if err := validation.Struct(in); err != nil {
		return err
	}
	if !s.validateMembers {
		return nil
	}
	for _, m := range in.Members {
		if err := s.users.Require(ctx, existence.KindUser, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*store.Project, error) {
	return s.store.GetProject(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]store.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteProject(ctx, id)
}
