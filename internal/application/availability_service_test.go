package application

import (
	"context"
	"testing"
	"time"
)

func newAvailabilityFixture(t *testing.T) (*AvailabilityService, *memoryReservationRepo, time.Time) {
	t.Helper()

	day := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	spaces := newMemorySpaceRepo(
		Space{ID: "space-1", Name: "Study Room A", Category: CategoryRoom, Capacity: 8, Active: true},
		Space{ID: "space-2", Name: "Court 1", Category: CategoryCourt, Capacity: 10, Active: true},
		Space{ID: "space-off", Name: "Closed Hall", Category: CategoryRoom, Capacity: 50, Active: false},
	)
	reservations := newMemoryReservationRepo()
	policies := &stubPolicyStore{policy: OperatingPolicy{
		AdvanceBookingDays:    1,
		MaxActivePerRequester: 1,
		MaxDurationHours:      4,
		OpensAt:               8 * 60,
		ClosesAt:              12 * 60,
	}}
	service := NewAvailabilityService(reservations, spaces, spaces, policies, nil)
	return service, reservations, day
}

func seedReservation(t *testing.T, repo *memoryReservationRepo, id, spaceID string, start, end time.Time, state ReservationState) {
	t.Helper()
	_, err := repo.CreateReservation(context.Background(), Reservation{
		ID:          id,
		RequesterID: "user-1",
		SpaceID:     spaceID,
		Start:       start,
		End:         end,
		State:       state,
		Kind:        KindNormal,
	})
	if err != nil {
		t.Fatalf("seed reservation: %v", err)
	}
}

func TestFreeSlots(t *testing.T) {
	t.Run("returns every hourly slot of an empty day", func(t *testing.T) {
		service, _, day := newAvailabilityFixture(t)
		slots, err := service.FreeSlots(context.Background(), SlotsParams{SpaceID: "space-1", Date: day})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		// 08:00-12:00 window yields four hourly slots.
		if len(slots) != 4 {
			t.Fatalf("slots = %d, want 4", len(slots))
		}
		if got := slots[0].Start.Hour(); got != 8 {
			t.Errorf("first slot starts at %d, want 8", got)
		}
	})

	t.Run("drops slots covered by active reservations", func(t *testing.T) {
		service, repo, day := newAvailabilityFixture(t)
		seedReservation(t, repo, "r1", "space-1",
			day.Add(9*time.Hour), day.Add(11*time.Hour), StateApproved)

		slots, err := service.FreeSlots(context.Background(), SlotsParams{SpaceID: "space-1", Date: day})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) != 2 {
			t.Fatalf("slots = %d, want 2", len(slots))
		}
		for _, s := range slots {
			if s.Start.Hour() == 9 || s.Start.Hour() == 10 {
				t.Errorf("slot starting %v should be occupied", s.Start)
			}
		}
	})

	t.Run("ignores cancelled reservations", func(t *testing.T) {
		service, repo, day := newAvailabilityFixture(t)
		seedReservation(t, repo, "r1", "space-1",
			day.Add(9*time.Hour), day.Add(11*time.Hour), StateCancelled)

		slots, err := service.FreeSlots(context.Background(), SlotsParams{SpaceID: "space-1", Date: day})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) != 4 {
			t.Errorf("slots = %d, want 4", len(slots))
		}
	})

	t.Run("treats blocks as occupied", func(t *testing.T) {
		service, repo, day := newAvailabilityFixture(t)
		seedReservation(t, repo, "b1", "space-1",
			day.Add(8*time.Hour), day.Add(12*time.Hour), StateBlocked)

		slots, err := service.FreeSlots(context.Background(), SlotsParams{SpaceID: "space-1", Date: day})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(slots) != 0 {
			t.Errorf("slots = %d, want 0", len(slots))
		}
	})
}

func TestFreeSpaces(t *testing.T) {
	t.Run("lists active conflict-free spaces", func(t *testing.T) {
		service, repo, day := newAvailabilityFixture(t)
		seedReservation(t, repo, "r1", "space-1",
			day.Add(9*time.Hour), day.Add(11*time.Hour), StateApproved)

		spaces, err := service.FreeSpaces(context.Background(), FreeSpacesParams{
			Start: day.Add(10 * time.Hour),
			End:   day.Add(11 * time.Hour),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(spaces) != 1 || spaces[0].ID != "space-2" {
			t.Errorf("spaces = %+v, want only space-2", spaces)
		}
	})

	t.Run("honours the category filter", func(t *testing.T) {
		service, _, day := newAvailabilityFixture(t)
		spaces, err := service.FreeSpaces(context.Background(), FreeSpacesParams{
			Start:    day.Add(10 * time.Hour),
			End:      day.Add(11 * time.Hour),
			Category: CategoryCourt,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(spaces) != 1 || spaces[0].ID != "space-2" {
			t.Errorf("spaces = %+v, want only space-2", spaces)
		}
	})

	t.Run("never lists inactive spaces", func(t *testing.T) {
		service, _, day := newAvailabilityFixture(t)
		spaces, err := service.FreeSpaces(context.Background(), FreeSpacesParams{
			Start: day.Add(10 * time.Hour),
			End:   day.Add(11 * time.Hour),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, space := range spaces {
			if space.ID == "space-off" {
				t.Errorf("inactive space listed as free")
			}
		}
	})
}

func TestCalendar(t *testing.T) {
	service, repo, day := newAvailabilityFixture(t)
	seedReservation(t, repo, "r1", "space-1",
		day.Add(9*time.Hour), day.Add(11*time.Hour), StateApproved)
	seedReservation(t, repo, "r2", "space-1",
		day.AddDate(0, 0, 7).Add(9*time.Hour), day.AddDate(0, 0, 7).Add(10*time.Hour), StatePending)

	visible, err := service.Calendar(context.Background(), CalendarParams{
		SpaceID: "space-1",
		From:    day,
		To:      day.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "r1" {
		t.Errorf("visible = %+v, want only r1", visible)
	}
}
