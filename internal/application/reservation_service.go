package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/campus-reservation/internal/slot"
)

// ReservationFilter narrows queries issued to the reservation repository.
// Zero fields are ignored.
type ReservationFilter struct {
	SpaceID     string
	RequesterID string
	States      []ReservationState
	Kinds       []ReservationKind
	EndsAfter   *time.Time
}

// ReservationRepository captures the persistence interactions needed by the engine.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, reservation Reservation) (Reservation, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation) (Reservation, error)
	ListReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, error)
	CountActiveForRequester(ctx context.Context, requesterID string, now time.Time) (int, error)
}

// SpaceCatalog exposes space lookup operations.
type SpaceCatalog interface {
	GetSpace(ctx context.Context, id string) (Space, error)
}

// PolicyStore exposes the operating policy singleton.
type PolicyStore interface {
	GetPolicy(ctx context.Context) (OperatingPolicy, error)
}

// AuditLog appends entries to the audit trail. Audit failures are logged and
// swallowed; the state transition stays authoritative.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// keyedLocks provides one mutex per identifier. The engine holds the space
// lock across conflict check and insert so that two overlapping creation
// requests for the same space cannot both succeed, and the requester lock
// across quota count and insert so that two concurrent requests by the same
// requester cannot both slip under the active-reservation cap.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire blocks until the lock for key is held and returns the release func.
func (l *keyedLocks) acquire(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Conflict describes one reservation standing in the way of a requested slot.
type Conflict struct {
	ReservationID string
	Start         time.Time
	End           time.Time
	State         ReservationState
	Reason        string
}

// Availability is the outcome of a CheckAvailability call.
type Availability struct {
	Available bool
	Conflicts []Conflict
}

// Decision is an administrator's verdict on a pending reservation.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// CheckAvailabilityParams identifies the slot to check.
type CheckAvailabilityParams struct {
	SpaceID string
	Start   time.Time
	End     time.Time
}

// CreateReservationParams carries a booking request.
type CreateReservationParams struct {
	RequesterID       string
	SpaceID           string
	Start             time.Time
	End               time.Time
	Reason            string
	Recurring         bool
	RecurrencePattern string
}

// DecideReservationParams carries an approval or rejection.
type DecideReservationParams struct {
	ReservationID string
	Decision      Decision
	ApproverID    string
	Reason        string
}

// ApplyBlockParams covers an interval of a space with an administrative hold.
type ApplyBlockParams struct {
	SpaceID string
	Start   time.Time
	End     time.Time
	Reason  string
	Kind    ReservationKind
	ActorID string
}

// BlockResult reports the hold created and the bookings it displaced.
type BlockResult struct {
	Block          Reservation
	CancelledCount int
}

// ReservationService owns the reservation state machine and its invariants.
type ReservationService struct {
	reservations   ReservationRepository
	spaces         SpaceCatalog
	policies       PolicyStore
	audit          AuditLog
	events         EventPublisher
	spaceLocks     *keyedLocks
	requesterLocks *keyedLocks
	idGenerator    func() string
	now            func() time.Time
	logger         *slog.Logger
}

// NewReservationService wires dependencies for reservation operations.
func NewReservationService(reservations ReservationRepository, spaces SpaceCatalog, policies PolicyStore, audit AuditLog, events EventPublisher, idGenerator func() string, now func() time.Time) *ReservationService {
	return NewReservationServiceWithLogger(reservations, spaces, policies, audit, events, idGenerator, now, nil)
}

// NewReservationServiceWithLogger wires dependencies with a specified logger.
func NewReservationServiceWithLogger(reservations ReservationRepository, spaces SpaceCatalog, policies PolicyStore, audit AuditLog, events EventPublisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ReservationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ReservationService{
		reservations:   reservations,
		spaces:         spaces,
		policies:       policies,
		audit:          audit,
		events:         events,
		spaceLocks:     newKeyedLocks(),
		requesterLocks: newKeyedLocks(),
		idGenerator:    idGenerator,
		now:            now,
		logger:         defaultLogger(logger),
	}
}

func (s *ReservationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ReservationService", operation, attrs...)
}

// CheckAvailability reports whether the slot is free and lists the
// reservations in the way. Inactive spaces are always unavailable.
func (s *ReservationService) CheckAvailability(ctx context.Context, params CheckAvailabilityParams) (Availability, error) {
	if s == nil {
		return Availability{}, fmt.Errorf("ReservationService is nil")
	}

	span := slot.Span{Start: params.Start, End: params.End}
	if vErr := validateSlot(params.SpaceID, span); vErr.HasErrors() {
		return Availability{}, vErr
	}

	space, err := s.getSpace(ctx, params.SpaceID)
	if err != nil {
		return Availability{}, err
	}
	if !space.Active {
		return Availability{
			Conflicts: []Conflict{{Reason: "space is inactive"}},
		}, nil
	}

	conflicts, err := s.conflictsFor(ctx, params.SpaceID, span)
	if err != nil {
		return Availability{}, err
	}
	return Availability{Available: len(conflicts) == 0, Conflicts: conflicts}, nil
}

// CreateReservation validates a booking request against the operating policy
// and, inside the per-space critical section, against the requester quota and
// the existing reservations, then persists it in state pending.
func (s *ReservationService) CreateReservation(ctx context.Context, params CreateReservationParams) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateReservation",
		"requester_id", params.RequesterID,
		"space_id", params.SpaceID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("reservation_id", reservation.ID).InfoContext(ctx, "reservation created")
	}()

	span := slot.Span{Start: params.Start, End: params.End}
	vErr := validateSlot(params.SpaceID, span)
	if strings.TrimSpace(params.RequesterID) == "" {
		vErr.add("requester_id", "requester is required")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var space Space
	space, err = s.getSpace(ctx, params.SpaceID)
	if err != nil {
		return
	}
	if !space.Active {
		err = ErrSpaceInactive
		return
	}

	var policy OperatingPolicy
	policy, err = s.policies.GetPolicy(ctx)
	if err != nil {
		return
	}

	now := s.now()
	if err = validateAgainstPolicy(span, policy, now); err != nil {
		return
	}

	// Always space before requester so concurrent creates cannot deadlock.
	releaseSpace := s.spaceLocks.acquire(params.SpaceID)
	defer releaseSpace()
	releaseRequester := s.requesterLocks.acquire(params.RequesterID)
	defer releaseRequester()

	var active int
	active, err = s.reservations.CountActiveForRequester(ctx, params.RequesterID, now)
	if err != nil {
		return
	}
	if active >= policy.MaxActivePerRequester {
		err = ErrQuotaExceeded
		return
	}

	var conflicts []Conflict
	conflicts, err = s.conflictsFor(ctx, params.SpaceID, span)
	if err != nil {
		return
	}
	if len(conflicts) > 0 {
		err = ErrSlotConflict
		return
	}

	candidate := Reservation{
		ID:                s.idGenerator(),
		RequesterID:       params.RequesterID,
		SpaceID:           params.SpaceID,
		Start:             params.Start,
		End:               params.End,
		State:             StatePending,
		Kind:              KindNormal,
		Reason:            strings.TrimSpace(params.Reason),
		Recurring:         params.Recurring,
		RecurrencePattern: params.RecurrencePattern,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	reservation, err = s.reservations.CreateReservation(ctx, candidate)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	s.appendAudit(ctx, "reservations", "create", reservation.ID, params.RequesterID, nil, reservationAuditData(reservation))
	s.publish(reservation.ID, EventCreated)
	return
}

// ApproveOrReject records an administrator decision on a pending reservation.
func (s *ReservationService) ApproveOrReject(ctx context.Context, params DecideReservationParams) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ApproveOrReject",
		"reservation_id", params.ReservationID,
		"decision", string(params.Decision),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to decide reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation decided")
	}()

	if params.Decision != DecisionApproved && params.Decision != DecisionRejected {
		vErr := &ValidationError{}
		vErr.add("decision", "decision must be approved or rejected")
		err = vErr
		return
	}

	var existing Reservation
	existing, err = s.reservations.GetReservation(ctx, params.ReservationID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	release := s.spaceLocks.acquire(existing.SpaceID)
	defer release()

	// Re-read under the lock so concurrent decisions serialize.
	existing, err = s.reservations.GetReservation(ctx, params.ReservationID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if existing.State != StatePending {
		err = ErrNotPending
		return
	}

	before := reservationAuditData(existing)
	now := s.now()
	updated := existing
	updated.State = ReservationState(params.Decision)
	updated.ApproverID = &params.ApproverID
	updated.ApprovedAt = &now
	if reason := strings.TrimSpace(params.Reason); reason != "" {
		updated.Reason = reason
	}
	updated.UpdatedAt = now

	reservation, err = s.reservations.UpdateReservation(ctx, updated)
	if err != nil {
		return
	}

	s.appendAudit(ctx, "reservations", "decide", reservation.ID, params.ApproverID, before, reservationAuditData(reservation))
	if params.Decision == DecisionApproved {
		s.publish(reservation.ID, EventApproved)
	} else {
		s.publish(reservation.ID, EventRejected)
	}
	return
}

// Cancel transitions any non-terminal reservation to cancelled.
func (s *ReservationService) Cancel(ctx context.Context, reservationID, actorID string) (reservation Reservation, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Cancel", "reservation_id", reservationID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel reservation", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "reservation cancelled")
	}()

	var existing Reservation
	existing, err = s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		err = mapRepoError(err)
		return
	}

	release := s.spaceLocks.acquire(existing.SpaceID)
	defer release()

	existing, err = s.reservations.GetReservation(ctx, reservationID)
	if err != nil {
		err = mapRepoError(err)
		return
	}
	if existing.State.Terminal() {
		err = ErrAlreadyTerminal
		return
	}

	before := reservationAuditData(existing)
	updated := existing
	updated.State = StateCancelled
	updated.UpdatedAt = s.now()

	reservation, err = s.reservations.UpdateReservation(ctx, updated)
	if err != nil {
		return
	}

	s.appendAudit(ctx, "reservations", "cancel", reservation.ID, actorID, before, reservationAuditData(reservation))
	s.publish(reservation.ID, EventCancelled)
	return
}

// ApplyIncidentBlock covers the interval with a blocked reservation and
// cancels every normal pending or approved booking fully contained in it.
func (s *ReservationService) ApplyIncidentBlock(ctx context.Context, params ApplyBlockParams) (result BlockResult, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ApplyIncidentBlock", "space_id", params.SpaceID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to apply block", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"block_id", result.Block.ID,
			"cancelled_count", result.CancelledCount,
		).InfoContext(ctx, "block applied")
	}()

	span := slot.Span{Start: params.Start, End: params.End}
	if vErr := validateSlot(params.SpaceID, span); vErr.HasErrors() {
		err = vErr
		return
	}
	if _, err = s.getSpace(ctx, params.SpaceID); err != nil {
		return
	}

	kind := params.Kind
	if kind == "" {
		kind = KindIncidentBlock
	}

	release := s.spaceLocks.acquire(params.SpaceID)
	defer release()

	now := s.now()
	block := Reservation{
		ID:          s.idGenerator(),
		RequesterID: params.ActorID,
		SpaceID:     params.SpaceID,
		Start:       params.Start,
		End:         params.End,
		State:       StateBlocked,
		Kind:        kind,
		Reason:      strings.TrimSpace(params.Reason),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	result.Block, err = s.reservations.CreateReservation(ctx, block)
	if err != nil {
		return
	}
	s.appendAudit(ctx, "reservations", "block", result.Block.ID, params.ActorID, nil, reservationAuditData(result.Block))

	var affected []Reservation
	affected, err = s.reservations.ListReservations(ctx, ReservationFilter{
		SpaceID: params.SpaceID,
		States:  []ReservationState{StatePending, StateApproved},
		Kinds:   []ReservationKind{KindNormal},
	})
	if err != nil {
		return
	}

	for _, res := range affected {
		if !span.Contains(slot.Span{Start: res.Start, End: res.End}) {
			continue
		}
		before := reservationAuditData(res)
		res.State = StateCancelled
		res.Reason = fmt.Sprintf("cancelled by block %s", result.Block.ID)
		res.UpdatedAt = now
		if _, err = s.reservations.UpdateReservation(ctx, res); err != nil {
			return
		}
		s.appendAudit(ctx, "reservations", "block-cancel", res.ID, params.ActorID, before, reservationAuditData(res))
		s.publish(res.ID, EventBlockedCancellation)
		result.CancelledCount++
	}
	return
}

// ResolveIncidentBlock cancels every still-active hold on the space,
// releasing it for new bookings. It returns the number of holds released.
func (s *ReservationService) ResolveIncidentBlock(ctx context.Context, spaceID, actorID string) (released int, err error) {
	if s == nil {
		err = fmt.Errorf("ReservationService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ResolveIncidentBlock", "space_id", spaceID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to resolve block", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("released", released).InfoContext(ctx, "block resolved")
	}()

	release := s.spaceLocks.acquire(spaceID)
	defer release()

	now := s.now()
	var blocks []Reservation
	blocks, err = s.reservations.ListReservations(ctx, ReservationFilter{
		SpaceID:   spaceID,
		States:    []ReservationState{StateBlocked},
		Kinds:     []ReservationKind{KindBlock, KindIncidentBlock},
		EndsAfter: &now,
	})
	if err != nil {
		return
	}

	for _, block := range blocks {
		before := reservationAuditData(block)
		block.State = StateCancelled
		block.UpdatedAt = now
		if _, err = s.reservations.UpdateReservation(ctx, block); err != nil {
			return
		}
		s.appendAudit(ctx, "reservations", "unblock", block.ID, actorID, before, reservationAuditData(block))
		released++
	}
	return
}

func (s *ReservationService) getSpace(ctx context.Context, id string) (Space, error) {
	space, err := s.spaces.GetSpace(ctx, id)
	if err != nil {
		if isNotFoundError(err) {
			return Space{}, ErrSpaceNotFound
		}
		return Space{}, err
	}
	return space, nil
}

func (s *ReservationService) conflictsFor(ctx context.Context, spaceID string, span slot.Span) ([]Conflict, error) {
	existing, err := s.reservations.ListReservations(ctx, ReservationFilter{
		SpaceID: spaceID,
		States:  ActiveStates,
	})
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, res := range existing {
		if !span.Overlaps(slot.Span{Start: res.Start, End: res.End}) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			ReservationID: res.ID,
			Start:         res.Start,
			End:           res.End,
			State:         res.State,
			Reason:        "overlapping reservation",
		})
	}
	return conflicts, nil
}

func (s *ReservationService) appendAudit(ctx context.Context, table, action, recordID, actorID string, before, after map[string]any) {
	if s.audit == nil {
		return
	}
	entry := AuditEntry{
		ID:       s.idGenerator(),
		Table:    table,
		Action:   action,
		RecordID: recordID,
		ActorID:  actorID,
		Before:   before,
		After:    after,
		At:       s.now(),
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to append audit entry", "table", table, "action", action, "error", err)
	}
}

func (s *ReservationService) publish(reservationID string, event EventType) {
	if s.events == nil {
		return
	}
	s.events.PublishReservationEvent(ReservationEvent{
		ReservationID: reservationID,
		Type:          event,
		OccurredAt:    s.now(),
	})
}

func validateSlot(spaceID string, span slot.Span) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(spaceID) == "" {
		vErr.add("space_id", "space is required")
	}
	if span.Start.IsZero() {
		vErr.add("start", "start is required")
	}
	if span.End.IsZero() {
		vErr.add("end", "end is required")
	}
	if !span.Start.IsZero() && !span.End.IsZero() && !span.Valid() {
		vErr.add("time", "end must be after start")
	}
	return vErr
}

func validateAgainstPolicy(span slot.Span, policy OperatingPolicy, now time.Time) error {
	if span.Duration() > policy.MaxDuration() {
		return ErrDurationExceeded
	}
	if !span.SameDay() {
		return ErrOutsideOperatingHours
	}
	if TimeOfDayFrom(span.Start) < policy.OpensAt || TimeOfDayFrom(span.End) > policy.ClosesAt {
		return ErrOutsideOperatingHours
	}
	if daysBetween(now, span.Start) < policy.AdvanceBookingDays {
		return ErrInsufficientNotice
	}
	return nil
}

// daysBetween counts whole calendar days from now's date to the start date.
func daysBetween(now, start time.Time) int {
	ny, nm, nd := now.Date()
	sy, sm, sd := start.In(now.Location()).Date()
	from := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	to := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func reservationAuditData(res Reservation) map[string]any {
	return map[string]any{
		"state":        string(res.State),
		"kind":         string(res.Kind),
		"space_id":     res.SpaceID,
		"requester_id": res.RequesterID,
		"start":        res.Start.Format(time.RFC3339),
		"end":          res.End.Format(time.RFC3339),
	}
}
