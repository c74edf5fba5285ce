package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/campus-reservation/internal/application"
)

type memoryRecordRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func newMemoryRecordRepo() *memoryRecordRepo {
	return &memoryRecordRepo{records: make(map[string]Record)}
}

func (r *memoryRecordRepo) FindSent(_ context.Context, reservationID string, eventType application.EventType) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, record := range r.records {
		if record.ReservationID == reservationID && record.EventType == eventType && record.Sent {
			return record, nil
		}
	}
	return Record{}, fmt.Errorf("%w: sent record", application.ErrNotFound)
}

func (r *memoryRecordRepo) CreateRecord(_ context.Context, record Record) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return record, nil
}

func (r *memoryRecordRepo) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: record", application.ErrNotFound)
	}
	record.Sent = true
	record.SentAt = &sentAt
	r.records[id] = record
	return nil
}

func (r *memoryRecordRepo) ListPending(_ context.Context) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, record := range r.records {
		if !record.Sent {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memoryRecordRepo) ListHistory(_ context.Context, reservationID string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, record := range r.records {
		if record.ReservationID == reservationID {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *memoryRecordRepo) sentCount(reservationID string, eventType application.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, record := range r.records {
		if record.ReservationID == reservationID && record.EventType == eventType && record.Sent {
			count++
		}
	}
	return count
}

type stubReferenceData struct{}

func (stubReferenceData) GetReservation(_ context.Context, id string) (application.Reservation, error) {
	return application.Reservation{
		ID:          id,
		RequesterID: "user-1",
		SpaceID:     "space-1",
		Start:       time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		End:         time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC),
		State:       application.StatePending,
	}, nil
}

func (stubReferenceData) GetSpace(_ context.Context, id string) (application.Space, error) {
	return application.Space{ID: id, Name: "Study Room A"}, nil
}

func (stubReferenceData) GetUser(_ context.Context, id string) (application.User, error) {
	return application.User{ID: id, Email: "ana@example.edu", DisplayName: "Ana"}, nil
}

// countingDeliverer counts deliveries and can be told to fail or to be
// slow, to widen race windows.
type countingDeliverer struct {
	mu        sync.Mutex
	delivered []Record
	fail      bool
	delay     time.Duration
}

func (d *countingDeliverer) Deliver(_ context.Context, record Record) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.New("broker unreachable")
	}
	d.delivered = append(d.delivered, record)
	return nil
}

func (d *countingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func newCoordinatorForTest(deliverer Deliverer) (*Coordinator, *memoryRecordRepo) {
	repo := newMemoryRecordRepo()
	seq := 0
	coordinator := NewCoordinator(repo, stubReferenceData{}, deliverer,
		func() string {
			seq++
			return fmt.Sprintf("record-%04d", seq)
		},
		func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) },
		8,
		nil,
	)
	return coordinator, repo
}

func TestDispatch(t *testing.T) {
	t.Run("delivers and records the first dispatch", func(t *testing.T) {
		deliverer := &countingDeliverer{}
		coordinator, repo := newCoordinatorForTest(deliverer)

		result, err := coordinator.Dispatch(context.Background(), "res-1", application.EventApproved)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Delivered || result.Duplicate {
			t.Errorf("result = %+v, want delivered, not duplicate", result)
		}
		if !result.Record.Sent || result.Record.SentAt == nil {
			t.Errorf("record not marked sent: %+v", result.Record)
		}
		if result.Record.Recipient != "ana@example.edu" {
			t.Errorf("recipient = %q", result.Record.Recipient)
		}
		if deliverer.count() != 1 {
			t.Errorf("deliveries = %d, want 1", deliverer.count())
		}
		if repo.sentCount("res-1", application.EventApproved) != 1 {
			t.Errorf("sent records = %d, want 1", repo.sentCount("res-1", application.EventApproved))
		}
	})

	t.Run("suppresses a duplicate of the same pair", func(t *testing.T) {
		deliverer := &countingDeliverer{}
		coordinator, repo := newCoordinatorForTest(deliverer)

		if _, err := coordinator.Dispatch(context.Background(), "res-1", application.EventApproved); err != nil {
			t.Fatalf("first dispatch: %v", err)
		}
		result, err := coordinator.Dispatch(context.Background(), "res-1", application.EventApproved)
		if err != nil {
			t.Fatalf("second dispatch: %v", err)
		}
		if !result.Duplicate || result.Delivered {
			t.Errorf("result = %+v, want duplicate, not delivered", result)
		}
		if deliverer.count() != 1 {
			t.Errorf("deliveries = %d, want 1", deliverer.count())
		}
		if repo.sentCount("res-1", application.EventApproved) != 1 {
			t.Errorf("sent records = %d, want exactly 1", repo.sentCount("res-1", application.EventApproved))
		}
	})

	t.Run("concurrent dispatches of one pair send exactly once", func(t *testing.T) {
		deliverer := &countingDeliverer{delay: 20 * time.Millisecond}
		coordinator, repo := newCoordinatorForTest(deliverer)

		const workers = 2
		results := make([]DispatchResult, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				result, err := coordinator.Dispatch(context.Background(), "res-1", application.EventCreated)
				if err != nil {
					t.Errorf("dispatch %d: %v", i, err)
					return
				}
				results[i] = result
			}(i)
		}
		wg.Wait()

		delivered, duplicates := 0, 0
		for _, result := range results {
			if result.Delivered {
				delivered++
			}
			if result.Duplicate {
				duplicates++
			}
		}
		if delivered != 1 || duplicates != 1 {
			t.Errorf("delivered = %d, duplicates = %d, want 1 and 1", delivered, duplicates)
		}
		if repo.sentCount("res-1", application.EventCreated) != 1 {
			t.Errorf("sent records = %d, want exactly 1", repo.sentCount("res-1", application.EventCreated))
		}
		if deliverer.count() != 1 {
			t.Errorf("deliveries = %d, want 1", deliverer.count())
		}
	})

	t.Run("keeps distinct event types independent", func(t *testing.T) {
		deliverer := &countingDeliverer{}
		coordinator, _ := newCoordinatorForTest(deliverer)

		for _, eventType := range []application.EventType{
			application.EventCreated,
			application.EventApproved,
			application.EventCancelled,
		} {
			result, err := coordinator.Dispatch(context.Background(), "res-1", eventType)
			if err != nil {
				t.Fatalf("dispatch %s: %v", eventType, err)
			}
			if !result.Delivered {
				t.Errorf("%s not delivered", eventType)
			}
		}
		if deliverer.count() != 3 {
			t.Errorf("deliveries = %d, want 3", deliverer.count())
		}
	})

	t.Run("leaves a failed delivery unsent for retry", func(t *testing.T) {
		deliverer := &countingDeliverer{fail: true}
		coordinator, repo := newCoordinatorForTest(deliverer)

		_, err := coordinator.Dispatch(context.Background(), "res-1", application.EventApproved)
		if !errors.Is(err, ErrDeliveryFailed) {
			t.Fatalf("error = %v, want ErrDeliveryFailed", err)
		}
		if repo.sentCount("res-1", application.EventApproved) != 0 {
			t.Errorf("sent records = %d, want 0", repo.sentCount("res-1", application.EventApproved))
		}

		deliverer.fail = false
		delivered, err := coordinator.Redeliver(context.Background())
		if err != nil {
			t.Fatalf("redeliver: %v", err)
		}
		if delivered != 1 {
			t.Errorf("redelivered = %d, want 1", delivered)
		}
		if repo.sentCount("res-1", application.EventApproved) != 1 {
			t.Errorf("sent records after retry = %d, want 1", repo.sentCount("res-1", application.EventApproved))
		}
	})
}

func TestRunConsumesQueuedEvents(t *testing.T) {
	deliverer := &countingDeliverer{}
	coordinator, repo := newCoordinatorForTest(deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coordinator.Run(ctx)

	coordinator.PublishReservationEvent(application.ReservationEvent{
		ReservationID: "res-1",
		Type:          application.EventCreated,
	})
	coordinator.PublishReservationEvent(application.ReservationEvent{
		ReservationID: "res-1",
		Type:          application.EventApproved,
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if deliverer.count() == 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if deliverer.count() != 2 {
		t.Fatalf("deliveries = %d, want 2", deliverer.count())
	}
	if repo.sentCount("res-1", application.EventCreated) != 1 {
		t.Errorf("created sent records = %d, want 1", repo.sentCount("res-1", application.EventCreated))
	}
}
