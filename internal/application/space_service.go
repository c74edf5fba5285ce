package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SpaceFilter narrows a space listing. Zero values match everything.
type SpaceFilter struct {
	Category   SpaceCategory
	ActiveOnly bool
}

// SpaceRepository persists spaces.
type SpaceRepository interface {
	CreateSpace(ctx context.Context, space Space) (Space, error)
	GetSpace(ctx context.Context, id string) (Space, error)
	UpdateSpace(ctx context.Context, space Space) (Space, error)
	ListSpaces(ctx context.Context, filter SpaceFilter) ([]Space, error)
}

// CreateSpaceParams carries the attributes of a new space.
type CreateSpaceParams struct {
	Name        string
	Category    SpaceCategory
	Capacity    int
	Description string
	Location    string
}

// UpdateSpaceParams carries the mutable attributes of an existing space.
// Nil pointers leave the current value untouched.
type UpdateSpaceParams struct {
	ID          string
	Name        *string
	Capacity    *int
	Description *string
	Location    *string
}

// SpaceService manages the catalog of reservable spaces. Mutations are
// restricted to administrators; reads are open to any principal.
type SpaceService struct {
	spaces      SpaceRepository
	audits      AuditLog
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewSpaceService wires dependencies for space catalog management.
func NewSpaceService(spaces SpaceRepository, audits AuditLog, idGenerator func() string, now func() time.Time, logger *slog.Logger) *SpaceService {
	return &SpaceService{
		spaces:      spaces,
		audits:      audits,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// CreateSpace registers a new active space.
func (s *SpaceService) CreateSpace(ctx context.Context, principal Principal, params CreateSpaceParams) (space Space, err error) {
	logger := serviceLogger(ctx, s.logger, "SpaceService", "CreateSpace")
	defer func() {
		if err != nil {
			logger.Warn("create space failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("space created", "space_id", space.ID, "category", space.Category)
	}()

	if s == nil {
		return Space{}, fmt.Errorf("SpaceService is nil")
	}
	if !principal.IsAdmin {
		return Space{}, ErrUnauthorized
	}
	if vErr := validateSpaceParams(params); vErr != nil {
		return Space{}, vErr
	}

	now := s.now()
	space = Space{
		ID:          s.idGenerator(),
		Name:        params.Name,
		Category:    params.Category,
		Capacity:    params.Capacity,
		Description: params.Description,
		Location:    params.Location,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	space, err = s.spaces.CreateSpace(ctx, space)
	if err != nil {
		return Space{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "spaces",
		Action:   "create",
		RecordID: space.ID,
		ActorID:  principal.UserID,
		After:    spaceAuditData(space),
		At:       now,
	})
	return space, nil
}

// GetSpace returns one space by id.
func (s *SpaceService) GetSpace(ctx context.Context, id string) (Space, error) {
	if s == nil {
		return Space{}, fmt.Errorf("SpaceService is nil")
	}
	space, err := s.spaces.GetSpace(ctx, id)
	if err != nil {
		if isNotFoundError(err) {
			return Space{}, ErrSpaceNotFound
		}
		return Space{}, err
	}
	return space, nil
}

// ListSpaces returns spaces matching the filter.
func (s *SpaceService) ListSpaces(ctx context.Context, filter SpaceFilter) ([]Space, error) {
	if s == nil {
		return nil, fmt.Errorf("SpaceService is nil")
	}
	if filter.Category != "" && !KnownCategory(filter.Category) {
		vErr := &ValidationError{}
		vErr.add("category", fmt.Sprintf("unknown category %q", filter.Category))
		return nil, vErr
	}
	spaces, err := s.spaces.ListSpaces(ctx, filter)
	if err != nil {
		return nil, err
	}
	return spaces, nil
}

// UpdateSpace applies the non-nil fields of params to an existing space.
func (s *SpaceService) UpdateSpace(ctx context.Context, principal Principal, params UpdateSpaceParams) (space Space, err error) {
	logger := serviceLogger(ctx, s.logger, "SpaceService", "UpdateSpace")
	defer func() {
		if err != nil {
			logger.Warn("update space failed", "space_id", params.ID, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("space updated", "space_id", space.ID)
	}()

	if s == nil {
		return Space{}, fmt.Errorf("SpaceService is nil")
	}
	if !principal.IsAdmin {
		return Space{}, ErrUnauthorized
	}

	current, err := s.spaces.GetSpace(ctx, params.ID)
	if err != nil {
		if isNotFoundError(err) {
			return Space{}, ErrSpaceNotFound
		}
		return Space{}, err
	}

	before := spaceAuditData(current)
	updated := current
	if params.Name != nil {
		updated.Name = *params.Name
	}
	if params.Capacity != nil {
		updated.Capacity = *params.Capacity
	}
	if params.Description != nil {
		updated.Description = *params.Description
	}
	if params.Location != nil {
		updated.Location = *params.Location
	}
	if vErr := validateSpaceParams(CreateSpaceParams{
		Name:     updated.Name,
		Category: updated.Category,
		Capacity: updated.Capacity,
	}); vErr != nil {
		return Space{}, vErr
	}
	updated.UpdatedAt = s.now()

	space, err = s.spaces.UpdateSpace(ctx, updated)
	if err != nil {
		return Space{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "spaces",
		Action:   "update",
		RecordID: space.ID,
		ActorID:  principal.UserID,
		Before:   before,
		After:    spaceAuditData(space),
		At:       space.UpdatedAt,
	})
	return space, nil
}

// DeactivateSpace soft-deletes a space. Existing reservations are untouched;
// new reservations against the space are refused by the engine.
func (s *SpaceService) DeactivateSpace(ctx context.Context, principal Principal, id string) (space Space, err error) {
	logger := serviceLogger(ctx, s.logger, "SpaceService", "DeactivateSpace")
	defer func() {
		if err != nil {
			logger.Warn("deactivate space failed", "space_id", id, "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("space deactivated", "space_id", space.ID)
	}()

	if s == nil {
		return Space{}, fmt.Errorf("SpaceService is nil")
	}
	if !principal.IsAdmin {
		return Space{}, ErrUnauthorized
	}

	current, err := s.spaces.GetSpace(ctx, id)
	if err != nil {
		if isNotFoundError(err) {
			return Space{}, ErrSpaceNotFound
		}
		return Space{}, err
	}
	if !current.Active {
		return current, nil
	}

	before := spaceAuditData(current)
	current.Active = false
	current.UpdatedAt = s.now()

	space, err = s.spaces.UpdateSpace(ctx, current)
	if err != nil {
		return Space{}, mapRepoError(err)
	}

	s.appendAudit(ctx, AuditEntry{
		Table:    "spaces",
		Action:   "deactivate",
		RecordID: space.ID,
		ActorID:  principal.UserID,
		Before:   before,
		After:    spaceAuditData(space),
		At:       space.UpdatedAt,
	})
	return space, nil
}

func (s *SpaceService) appendAudit(ctx context.Context, entry AuditEntry) {
	if s.audits == nil {
		return
	}
	entry.ID = s.idGenerator()
	if err := s.audits.Append(ctx, entry); err != nil {
		s.logger.Warn("audit append failed", "table", entry.Table, "record_id", entry.RecordID, "error", err)
	}
}

func validateSpaceParams(params CreateSpaceParams) *ValidationError {
	vErr := &ValidationError{}
	if params.Name == "" {
		vErr.add("name", "name must not be empty")
	}
	if !KnownCategory(params.Category) {
		vErr.add("category", fmt.Sprintf("unknown category %q", params.Category))
	}
	if params.Capacity <= 0 {
		vErr.add("capacity", "capacity must be positive")
	}
	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func spaceAuditData(space Space) map[string]any {
	return map[string]any{
		"name":     space.Name,
		"category": string(space.Category),
		"capacity": space.Capacity,
		"location": space.Location,
		"active":   space.Active,
	}
}
