package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memoryIncidentRepo struct {
	mu        sync.Mutex
	incidents map[string]Incident
}

func newMemoryIncidentRepo() *memoryIncidentRepo {
	return &memoryIncidentRepo{incidents: make(map[string]Incident)}
}

func (r *memoryIncidentRepo) CreateIncident(_ context.Context, incident Incident) (Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[incident.ID] = incident
	return incident, nil
}

func (r *memoryIncidentRepo) GetIncident(_ context.Context, id string) (Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	incident, ok := r.incidents[id]
	if !ok {
		return Incident{}, fmt.Errorf("%w: incident", ErrNotFound)
	}
	return incident, nil
}

func (r *memoryIncidentRepo) UpdateIncident(_ context.Context, incident Incident) (Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.incidents[incident.ID]; !ok {
		return Incident{}, fmt.Errorf("%w: incident", ErrNotFound)
	}
	r.incidents[incident.ID] = incident
	return incident, nil
}

func (r *memoryIncidentRepo) ListIncidents(_ context.Context, filter IncidentFilter) ([]Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Incident
	for _, incident := range r.incidents {
		if filter.SpaceID != "" && incident.SpaceID != filter.SpaceID {
			continue
		}
		if filter.State != "" && incident.State != filter.State {
			continue
		}
		out = append(out, incident)
	}
	return out, nil
}

type incidentFixture struct {
	service *IncidentService
	engine  *engineFixture
	repo    *memoryIncidentRepo
}

func newIncidentFixture(t *testing.T) *incidentFixture {
	t.Helper()

	engine := newEngineFixture(t)
	repo := newMemoryIncidentRepo()
	seq := 0
	service := NewIncidentService(repo, engine.service, engine.audit,
		func() string {
			seq++
			return fmt.Sprintf("incident-id-%04d", seq)
		},
		func() time.Time { return engine.now },
		nil,
	)
	return &incidentFixture{service: service, engine: engine, repo: repo}
}

func reportIncident(t *testing.T, f *incidentFixture) Incident {
	t.Helper()
	incident, err := f.service.ReportIncident(context.Background(), ReportIncidentParams{
		SpaceID:     "space-1",
		Kind:        "plumbing",
		Description: "burst pipe above the ceiling",
		ReporterID:  "user-1",
	})
	if err != nil {
		t.Fatalf("report incident: %v", err)
	}
	return incident
}

func TestReportIncident(t *testing.T) {
	t.Run("files an open incident", func(t *testing.T) {
		f := newIncidentFixture(t)
		incident := reportIncident(t, f)
		if incident.State != IncidentOpen {
			t.Errorf("state = %q, want %q", incident.State, IncidentOpen)
		}
	})

	t.Run("collects validation problems", func(t *testing.T) {
		f := newIncidentFixture(t)
		_, err := f.service.ReportIncident(context.Background(), ReportIncidentParams{})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("error = %v, want *ValidationError", err)
		}
	})
}

func TestIncidentApplyBlock(t *testing.T) {
	t.Run("blocks the space and cancels contained bookings", func(t *testing.T) {
		f := newIncidentFixture(t)
		incident := reportIncident(t, f)

		created, err := f.engine.service.CreateReservation(context.Background(), CreateReservationParams{
			RequesterID: "user-2",
			SpaceID:     "space-1",
			Start:       f.engine.tomorrowAt(10, 0),
			End:         f.engine.tomorrowAt(12, 0),
		})
		if err != nil {
			t.Fatalf("create reservation: %v", err)
		}

		updated, result, err := f.service.ApplyBlock(context.Background(), adminPrincipal, BlockIncidentParams{
			IncidentID: incident.ID,
			Start:      f.engine.tomorrowAt(8, 0),
			End:        f.engine.tomorrowAt(22, 0),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.State != IncidentInProgress {
			t.Errorf("incident state = %q, want %q", updated.State, IncidentInProgress)
		}
		if result.CancelledCount != 1 {
			t.Errorf("cancelled count = %d, want 1", result.CancelledCount)
		}

		displaced, err := f.engine.repo.GetReservation(context.Background(), created.ID)
		if err != nil {
			t.Fatalf("get displaced: %v", err)
		}
		if displaced.State != StateCancelled {
			t.Errorf("displaced state = %q, want %q", displaced.State, StateCancelled)
		}
	})

	t.Run("refuses non-admins", func(t *testing.T) {
		f := newIncidentFixture(t)
		incident := reportIncident(t, f)
		_, _, err := f.service.ApplyBlock(context.Background(), studentPrincipal, BlockIncidentParams{
			IncidentID: incident.ID,
			Start:      f.engine.tomorrowAt(8, 0),
			End:        f.engine.tomorrowAt(22, 0),
		})
		if !errors.Is(err, ErrUnauthorized) {
			t.Errorf("error = %v, want ErrUnauthorized", err)
		}
	})
}

func TestResolveIncident(t *testing.T) {
	f := newIncidentFixture(t)
	incident := reportIncident(t, f)

	if _, _, err := f.service.ApplyBlock(context.Background(), adminPrincipal, BlockIncidentParams{
		IncidentID: incident.ID,
		Start:      f.engine.tomorrowAt(8, 0),
		End:        f.engine.tomorrowAt(22, 0),
	}); err != nil {
		t.Fatalf("apply block: %v", err)
	}

	resolved, released, err := f.service.ResolveIncident(context.Background(), adminPrincipal, ResolveIncidentParams{
		IncidentID: incident.ID,
		Resolution: "pipe replaced",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.State != IncidentResolved {
		t.Errorf("state = %q, want %q", resolved.State, IncidentResolved)
	}
	if released != 1 {
		t.Errorf("released = %d, want 1", released)
	}
	if resolved.Resolution == nil || *resolved.Resolution != "pipe replaced" {
		t.Errorf("resolution = %v", resolved.Resolution)
	}

	// Resolving again is a no-op.
	again, releasedAgain, err := f.service.ResolveIncident(context.Background(), adminPrincipal, ResolveIncidentParams{
		IncidentID: incident.ID,
		Resolution: "already done",
	})
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if releasedAgain != 0 || again.State != IncidentResolved {
		t.Errorf("second resolve released %d, state %q", releasedAgain, again.State)
	}
}
