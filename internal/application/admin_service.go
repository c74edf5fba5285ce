package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PolicyRepository reads and replaces the single operating policy row.
type PolicyRepository interface {
	PolicyStore
	UpdatePolicy(ctx context.Context, policy OperatingPolicy) (OperatingPolicy, error)
}

// AuditReader lists recorded audit entries, newest first.
type AuditReader interface {
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	Table    string
	RecordID string
	Limit    int
}

// UpdatePolicyParams carries replacement policy values. Nil pointers leave
// the current value untouched.
type UpdatePolicyParams struct {
	AdvanceBookingDays    *int
	MaxActivePerRequester *int
	MaxDurationHours      *int
	OpensAt               *string
	ClosesAt              *string
}

// AdminService exposes the operating policy and the audit trail to
// administrators.
type AdminService struct {
	policies PolicyRepository
	audits   AuditReader
	auditLog AuditLog
	idGen    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// NewAdminService wires dependencies for administrative operations.
func NewAdminService(policies PolicyRepository, audits AuditReader, auditLog AuditLog, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AdminService {
	return &AdminService{
		policies: policies,
		audits:   audits,
		auditLog: auditLog,
		idGen:    idGenerator,
		now:      now,
		logger:   defaultLogger(logger),
	}
}

// GetPolicy returns the current operating policy. Reads are open to any
// principal so clients can surface booking limits before submitting.
func (s *AdminService) GetPolicy(ctx context.Context) (OperatingPolicy, error) {
	if s == nil {
		return OperatingPolicy{}, fmt.Errorf("AdminService is nil")
	}
	return s.policies.GetPolicy(ctx)
}

// UpdatePolicy replaces policy values, admins only. The new policy applies
// to reservations created after the update; existing reservations keep the
// terms they were validated under.
func (s *AdminService) UpdatePolicy(ctx context.Context, principal Principal, params UpdatePolicyParams) (policy OperatingPolicy, err error) {
	logger := serviceLogger(ctx, s.logger, "AdminService", "UpdatePolicy")
	defer func() {
		if err != nil {
			logger.Warn("update policy failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.Info("policy updated",
			"advance_booking_days", policy.AdvanceBookingDays,
			"max_active_per_requester", policy.MaxActivePerRequester,
			"max_duration_hours", policy.MaxDurationHours)
	}()

	if s == nil {
		return OperatingPolicy{}, fmt.Errorf("AdminService is nil")
	}
	if !principal.IsAdmin {
		return OperatingPolicy{}, ErrUnauthorized
	}

	current, err := s.policies.GetPolicy(ctx)
	if err != nil {
		return OperatingPolicy{}, err
	}

	before := policyAuditData(current)
	updated := current
	vErr := &ValidationError{}
	if params.AdvanceBookingDays != nil {
		if *params.AdvanceBookingDays < 0 {
			vErr.add("advance_booking_days", "advance booking days must not be negative")
		}
		updated.AdvanceBookingDays = *params.AdvanceBookingDays
	}
	if params.MaxActivePerRequester != nil {
		if *params.MaxActivePerRequester < 1 {
			vErr.add("max_active_per_requester", "max active reservations must be at least 1")
		}
		updated.MaxActivePerRequester = *params.MaxActivePerRequester
	}
	if params.MaxDurationHours != nil {
		if *params.MaxDurationHours < 1 {
			vErr.add("max_duration_hours", "max duration must be at least 1 hour")
		}
		updated.MaxDurationHours = *params.MaxDurationHours
	}
	if params.OpensAt != nil {
		opensAt, parseErr := ParseTimeOfDay(*params.OpensAt)
		if parseErr != nil {
			vErr.add("opens_at", parseErr.Error())
		} else {
			updated.OpensAt = opensAt
		}
	}
	if params.ClosesAt != nil {
		closesAt, parseErr := ParseTimeOfDay(*params.ClosesAt)
		if parseErr != nil {
			vErr.add("closes_at", parseErr.Error())
		} else {
			updated.ClosesAt = closesAt
		}
	}
	if !vErr.HasErrors() && updated.ClosesAt <= updated.OpensAt {
		vErr.add("closes_at", "closing time must be after opening time")
	}
	if vErr.HasErrors() {
		return OperatingPolicy{}, vErr
	}
	updated.UpdatedAt = s.now()

	policy, err = s.policies.UpdatePolicy(ctx, updated)
	if err != nil {
		return OperatingPolicy{}, mapRepoError(err)
	}

	if s.auditLog != nil {
		entry := AuditEntry{
			ID:       s.idGen(),
			Table:    "policy",
			Action:   "update",
			RecordID: "policy",
			ActorID:  principal.UserID,
			Before:   before,
			After:    policyAuditData(policy),
			At:       policy.UpdatedAt,
		}
		if auditErr := s.auditLog.Append(ctx, entry); auditErr != nil {
			s.logger.Warn("audit append failed", "table", entry.Table, "error", auditErr)
		}
	}
	return policy, nil
}

// ListAuditEntries returns the audit trail, admins only.
func (s *AdminService) ListAuditEntries(ctx context.Context, principal Principal, filter AuditFilter) ([]AuditEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("AdminService is nil")
	}
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}
	return s.audits.ListAuditEntries(ctx, filter)
}

func policyAuditData(policy OperatingPolicy) map[string]any {
	return map[string]any{
		"advance_booking_days":     policy.AdvanceBookingDays,
		"max_active_per_requester": policy.MaxActivePerRequester,
		"max_duration_hours":       policy.MaxDurationHours,
		"opens_at":                 policy.OpensAt.String(),
		"closes_at":                policy.ClosesAt.String(),
	}
}
