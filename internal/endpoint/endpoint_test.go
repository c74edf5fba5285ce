package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/campus-reservation/internal/application"
	"github.com/example/campus-reservation/internal/notify"
	"github.com/example/campus-reservation/internal/persistence/sqlite"
)

// recordingDeliverer counts deliveries so dispatch tests can assert
// exactly-once behaviour.
type recordingDeliverer struct {
	delivered int
	fail      bool
}

func (d *recordingDeliverer) Deliver(ctx context.Context, record notify.Record) error {
	if d.fail {
		return fmt.Errorf("smtp unreachable")
	}
	d.delivered++
	return nil
}

// endpointFixture wires every endpoint over a real sqlite store, with a
// frozen movable clock and deterministic ids, fake password hashing and
// sequential tokens.
type endpointFixture struct {
	store     *sqlite.Store
	clock     *time.Time
	deliverer *recordingDeliverer

	auth          *AuthEndpoint
	users         *UserEndpoint
	spaces        *SpaceEndpoint
	availability  *AvailabilityEndpoint
	booking       *BookingEndpoint
	incidents     *IncidentEndpoint
	admin         *AdminEndpoint
	notifications *NotificationEndpoint
	reports       *ReportEndpoint
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newEndpointFixture(t *testing.T) *endpointFixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "endpoint.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	fakeHash := func(password string) (string, error) {
		return "hashed:" + password, nil
	}
	fakeVerify := func(hashedPassword, password string) error {
		if hashedPassword != "hashed:"+password {
			return fmt.Errorf("password mismatch")
		}
		return nil
	}
	tokenSeq := 0
	tokenGen := func() (string, error) {
		tokenSeq++
		return fmt.Sprintf("token-%d", tokenSeq), nil
	}

	deliverer := &recordingDeliverer{}
	coordinator := notify.NewCoordinator(store, store, deliverer, sequentialIDs("ntf"), now, 16, nil)

	engine := application.NewReservationService(store, store, store, store, coordinator, sequentialIDs("res"), now)
	availability := application.NewAvailabilityService(store, store, store, store, nil)
	spaceService := application.NewSpaceService(store, store, sequentialIDs("spc"), now, nil)
	userService := application.NewUserService(store, store, fakeHash, sequentialIDs("usr"), now, nil)
	authService := application.NewAuthService(store, store, fakeVerify, tokenGen, sequentialIDs("ses"), now, time.Hour, nil)
	incidentService := application.NewIncidentService(store, engine, store, sequentialIDs("inc"), now, nil)
	adminService := application.NewAdminService(store, store, store, sequentialIDs("aud"), now, nil)
	reportService := application.NewReportService(store, store, store, now, nil)

	return &endpointFixture{
		store:         store,
		clock:         &clock,
		deliverer:     deliverer,
		auth:          NewAuthEndpoint(authService),
		users:         NewUserEndpoint(userService, authService),
		spaces:        NewSpaceEndpoint(spaceService, authService),
		availability:  NewAvailabilityEndpoint(engine, availability),
		booking:       NewBookingEndpoint(engine, store, authService),
		incidents:     NewIncidentEndpoint(incidentService, authService),
		admin:         NewAdminEndpoint(adminService, authService),
		notifications: NewNotificationEndpoint(coordinator, authService),
		reports:       NewReportEndpoint(reportService, adminService, authService),
	}
}

type handler interface {
	Handle(ctx context.Context, payload json.RawMessage) (any, error)
}

// call marshals req, runs the handler and decodes the response into dst
// (when dst is non-nil).
func call(t *testing.T, h handler, req map[string]any, dst any) error {
	t.Helper()
	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	result, err := h.Handle(context.Background(), payload)
	if err != nil {
		return err
	}
	if dst == nil {
		return nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	if err := json.Unmarshal(encoded, dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return nil
}

// seedAdmin inserts an administrator account directly and logs it in.
func (fx *endpointFixture) seedAdmin(t *testing.T) string {
	t.Helper()
	_, err := fx.store.CreateUser(context.Background(), application.User{
		ID:           "admin-1",
		Email:        "admin@campus.test",
		DisplayName:  "Facilities Admin",
		Role:         application.RoleAdmin,
		PasswordHash: "hashed:admin-pass",
		Active:       true,
		CreatedAt:    *fx.clock,
		UpdatedAt:    *fx.clock,
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return fx.login(t, "admin@campus.test", "admin-pass")
}

func (fx *endpointFixture) login(t *testing.T, email, password string) string {
	t.Helper()
	var resp struct {
		Token string `json:"token"`
	}
	err := call(t, fx.auth, map[string]any{
		"action":   "login",
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return resp.Token
}

// registerStudent creates a student account through the endpoint and logs
// it in.
func (fx *endpointFixture) registerStudent(t *testing.T, email string) string {
	t.Helper()
	err := call(t, fx.users, map[string]any{
		"action":       "create",
		"email":        email,
		"display_name": "Student",
		"password":     "student-pass",
	}, nil)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return fx.login(t, email, "student-pass")
}

func (fx *endpointFixture) createSpace(t *testing.T, adminToken, name string) string {
	t.Helper()
	var space spaceView
	err := call(t, fx.spaces, map[string]any{
		"action":   "create",
		"token":    adminToken,
		"name":     name,
		"category": "room",
		"capacity": 8,
		"location": "Building A",
	}, &space)
	if err != nil {
		t.Fatalf("create space %s: %v", name, err)
	}
	return space.ID
}

func TestBookingLifecycle(t *testing.T) {
	fx := newEndpointFixture(t)
	adminToken := fx.seedAdmin(t)
	studentToken := fx.registerStudent(t, "alice@campus.test")
	spaceID := fx.createSpace(t, adminToken, "Seminar Room 1")

	start := "2026-03-10T10:00:00Z"
	end := "2026-03-10T12:00:00Z"

	var created reservationView
	err := call(t, fx.booking, map[string]any{
		"action":   "create",
		"token":    studentToken,
		"space_id": spaceID,
		"start":    start,
		"end":      end,
		"reason":   "study group",
	}, &created)
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	if created.State != "pending" {
		t.Fatalf("state = %q, want pending", created.State)
	}

	t.Run("slot is no longer available", func(t *testing.T) {
		var check struct {
			Available bool `json:"available"`
		}
		err := call(t, fx.availability, map[string]any{
			"action":   "check",
			"space_id": spaceID,
			"start":    start,
			"end":      end,
		}, &check)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if check.Available {
			t.Fatal("slot reported available despite pending reservation")
		}
	})

	t.Run("approval requires an administrator", func(t *testing.T) {
		err := call(t, fx.booking, map[string]any{
			"action":         "approve",
			"token":          studentToken,
			"reservation_id": created.ID,
		}, nil)
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	var approved reservationView
	err = call(t, fx.booking, map[string]any{
		"action":         "approve",
		"token":          adminToken,
		"reservation_id": created.ID,
	}, &approved)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.State != "approved" {
		t.Fatalf("state = %q, want approved", approved.State)
	}

	t.Run("other students cannot read the reservation", func(t *testing.T) {
		otherToken := fx.registerStudent(t, "bob@campus.test")
		err := call(t, fx.booking, map[string]any{
			"action":         "get",
			"token":          otherToken,
			"reservation_id": created.ID,
		}, nil)
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("overlapping request is rejected", func(t *testing.T) {
		err := call(t, fx.booking, map[string]any{
			"action":   "create",
			"token":    adminToken,
			"space_id": spaceID,
			"start":    "2026-03-10T11:00:00Z",
			"end":      "2026-03-10T13:00:00Z",
		}, nil)
		if !errors.Is(err, application.ErrSlotConflict) {
			t.Fatalf("err = %v, want ErrSlotConflict", err)
		}
	})

	var cancelled reservationView
	err = call(t, fx.booking, map[string]any{
		"action":         "cancel",
		"token":          studentToken,
		"reservation_id": created.ID,
	}, &cancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.State != "cancelled" {
		t.Fatalf("state = %q, want cancelled", cancelled.State)
	}

	t.Run("list-mine shows the requester history", func(t *testing.T) {
		var mine []reservationView
		err := call(t, fx.booking, map[string]any{
			"action": "list-mine",
			"token":  studentToken,
		}, &mine)
		if err != nil {
			t.Fatalf("list-mine: %v", err)
		}
		if len(mine) != 1 || mine[0].ID != created.ID {
			t.Fatalf("list-mine = %+v, want the cancelled reservation", mine)
		}
	})
}

func TestAuthSessions(t *testing.T) {
	fx := newEndpointFixture(t)
	fx.registerStudent(t, "carol@campus.test")

	t.Run("wrong password is rejected", func(t *testing.T) {
		err := call(t, fx.auth, map[string]any{
			"action":   "login",
			"email":    "carol@campus.test",
			"password": "wrong",
		}, nil)
		if !errors.Is(err, application.ErrInvalidCredentials) {
			t.Fatalf("err = %v, want ErrInvalidCredentials", err)
		}
	})

	token := fx.login(t, "carol@campus.test", "student-pass")

	var verified struct {
		UserID  string `json:"user_id"`
		IsAdmin bool   `json:"is_admin"`
	}
	err := call(t, fx.auth, map[string]any{"action": "verify", "token": token}, &verified)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if verified.IsAdmin {
		t.Fatal("student reported as admin")
	}

	if err := call(t, fx.auth, map[string]any{"action": "logout", "token": token}, nil); err != nil {
		t.Fatalf("logout: %v", err)
	}
	err = call(t, fx.auth, map[string]any{"action": "verify", "token": token}, nil)
	if !errors.Is(err, application.ErrSessionRevoked) {
		t.Fatalf("err = %v, want ErrSessionRevoked", err)
	}

	t.Run("expired session", func(t *testing.T) {
		token := fx.login(t, "carol@campus.test", "student-pass")
		*fx.clock = fx.clock.Add(2 * time.Hour)
		err := call(t, fx.auth, map[string]any{"action": "verify", "token": token}, nil)
		if !errors.Is(err, application.ErrSessionExpired) {
			t.Fatalf("err = %v, want ErrSessionExpired", err)
		}
	})
}

func TestUserRegistration(t *testing.T) {
	fx := newEndpointFixture(t)
	adminToken := fx.seedAdmin(t)

	t.Run("anonymous cannot register staff", func(t *testing.T) {
		err := call(t, fx.users, map[string]any{
			"action":       "create",
			"email":        "sneaky@campus.test",
			"display_name": "Sneaky",
			"password":     "password1",
			"role":         "admin",
		}, nil)
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("admin can create staff", func(t *testing.T) {
		var user userView
		err := call(t, fx.users, map[string]any{
			"action":       "create",
			"token":        adminToken,
			"email":        "staff@campus.test",
			"display_name": "Front Desk",
			"password":     "password1",
			"role":         "staff",
		}, &user)
		if err != nil {
			t.Fatalf("create staff: %v", err)
		}
		if user.Role != "staff" {
			t.Fatalf("role = %q, want staff", user.Role)
		}
	})

	t.Run("duplicate email", func(t *testing.T) {
		fx.registerStudent(t, "dave@campus.test")
		err := call(t, fx.users, map[string]any{
			"action":       "create",
			"email":        "dave@campus.test",
			"display_name": "Dave Again",
			"password":     "password1",
		}, nil)
		if !errors.Is(err, application.ErrAlreadyExists) {
			t.Fatalf("err = %v, want ErrAlreadyExists", err)
		}
	})
}

func TestIncidentBlockFlow(t *testing.T) {
	fx := newEndpointFixture(t)
	adminToken := fx.seedAdmin(t)
	studentToken := fx.registerStudent(t, "erin@campus.test")
	spaceID := fx.createSpace(t, adminToken, "Court 1")

	var created reservationView
	err := call(t, fx.booking, map[string]any{
		"action":   "create",
		"token":    studentToken,
		"space_id": spaceID,
		"start":    "2026-03-10T10:00:00Z",
		"end":      "2026-03-10T12:00:00Z",
	}, &created)
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	var incident incidentView
	err = call(t, fx.incidents, map[string]any{
		"action":      "report",
		"token":       studentToken,
		"space_id":    spaceID,
		"kind":        "flooding",
		"description": "water on the floor",
	}, &incident)
	if err != nil {
		t.Fatalf("report incident: %v", err)
	}
	if incident.State != "open" {
		t.Fatalf("state = %q, want open", incident.State)
	}

	t.Run("blocking requires an administrator", func(t *testing.T) {
		err := call(t, fx.incidents, map[string]any{
			"action":      "block",
			"token":       studentToken,
			"incident_id": incident.ID,
			"start":       "2026-03-10T08:00:00Z",
			"end":         "2026-03-11T08:00:00Z",
		}, nil)
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})

	var blocked struct {
		Incident       incidentView    `json:"incident"`
		Block          reservationView `json:"block"`
		CancelledCount int             `json:"cancelled_count"`
	}
	err = call(t, fx.incidents, map[string]any{
		"action":      "block",
		"token":       adminToken,
		"incident_id": incident.ID,
		"start":       "2026-03-10T08:00:00Z",
		"end":         "2026-03-11T08:00:00Z",
	}, &blocked)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if blocked.Incident.State != "in-progress" {
		t.Fatalf("incident state = %q, want in-progress", blocked.Incident.State)
	}
	if blocked.CancelledCount != 1 {
		t.Fatalf("cancelled count = %d, want 1", blocked.CancelledCount)
	}
	if blocked.Block.State != "blocked" {
		t.Fatalf("block state = %q, want blocked", blocked.Block.State)
	}

	var resolved struct {
		Incident       incidentView `json:"incident"`
		ReleasedBlocks int          `json:"released_blocks"`
	}
	err = call(t, fx.incidents, map[string]any{
		"action":      "resolve",
		"token":       adminToken,
		"incident_id": incident.ID,
		"resolution":  "pipes repaired",
	}, &resolved)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Incident.State != "resolved" {
		t.Fatalf("incident state = %q, want resolved", resolved.Incident.State)
	}
	if resolved.ReleasedBlocks != 1 {
		t.Fatalf("released = %d, want 1", resolved.ReleasedBlocks)
	}

	t.Run("slot is bookable again", func(t *testing.T) {
		err := call(t, fx.booking, map[string]any{
			"action":   "create",
			"token":    adminToken,
			"space_id": spaceID,
			"start":    "2026-03-10T10:00:00Z",
			"end":      "2026-03-10T12:00:00Z",
		}, nil)
		if err != nil {
			t.Fatalf("rebook after resolve: %v", err)
		}
	})
}

func TestPolicyUpdate(t *testing.T) {
	fx := newEndpointFixture(t)
	adminToken := fx.seedAdmin(t)

	var policy policyView
	if err := call(t, fx.admin, map[string]any{"action": "get-policy"}, &policy); err != nil {
		t.Fatalf("get-policy: %v", err)
	}
	if policy.AdvanceBookingDays != 7 {
		t.Fatalf("advance days = %d, want seeded default 7", policy.AdvanceBookingDays)
	}

	err := call(t, fx.admin, map[string]any{
		"action":               "update-policy",
		"token":                adminToken,
		"advance_booking_days": 1,
		"opens_at":             "09:00",
	}, &policy)
	if err != nil {
		t.Fatalf("update-policy: %v", err)
	}
	if policy.AdvanceBookingDays != 1 || policy.OpensAt != "09:00" {
		t.Fatalf("policy = %+v, want advance 1 opens 09:00", policy)
	}
	if policy.ClosesAt != "22:00" {
		t.Fatalf("closes = %q, untouched field changed", policy.ClosesAt)
	}

	t.Run("students cannot update", func(t *testing.T) {
		token := fx.registerStudent(t, "frank@campus.test")
		err := call(t, fx.admin, map[string]any{
			"action":               "update-policy",
			"token":                token,
			"advance_booking_days": 0,
		}, nil)
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestNotificationDispatch(t *testing.T) {
	fx := newEndpointFixture(t)
	adminToken := fx.seedAdmin(t)
	studentToken := fx.registerStudent(t, "grace@campus.test")
	spaceID := fx.createSpace(t, adminToken, "Lab 2")

	var created reservationView
	err := call(t, fx.booking, map[string]any{
		"action":   "create",
		"token":    studentToken,
		"space_id": spaceID,
		"start":    "2026-03-10T10:00:00Z",
		"end":      "2026-03-10T12:00:00Z",
	}, &created)
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	dispatch := func(t *testing.T) (bool, bool) {
		t.Helper()
		var resp struct {
			Duplicate bool `json:"duplicate"`
			Delivered bool `json:"delivered"`
		}
		err := call(t, fx.notifications, map[string]any{
			"action":         "dispatch",
			"token":          adminToken,
			"reservation_id": created.ID,
			"event_type":     "created",
		}, &resp)
		if err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		return resp.Duplicate, resp.Delivered
	}

	duplicate, delivered := dispatch(t)
	if duplicate || !delivered {
		t.Fatalf("first dispatch: duplicate=%v delivered=%v, want fresh delivery", duplicate, delivered)
	}
	duplicate, delivered = dispatch(t)
	if !duplicate {
		t.Fatal("second dispatch not reported as duplicate")
	}
	if fx.deliverer.delivered != 1 {
		t.Fatalf("deliveries = %d, want exactly 1", fx.deliverer.delivered)
	}

	t.Run("history shows the sent record", func(t *testing.T) {
		var history []notificationView
		err := call(t, fx.notifications, map[string]any{
			"action":         "history",
			"token":          studentToken,
			"reservation_id": created.ID,
		}, &history)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 1 || !history[0].Sent {
			t.Fatalf("history = %+v, want one sent record", history)
		}
	})

	t.Run("dispatch requires an administrator", func(t *testing.T) {
		err := call(t, fx.notifications, map[string]any{
			"action":         "dispatch",
			"token":          studentToken,
			"reservation_id": created.ID,
			"event_type":     "approved",
		}, nil)
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestReports(t *testing.T) {
	fx := newEndpointFixture(t)
	adminToken := fx.seedAdmin(t)
	studentToken := fx.registerStudent(t, "heidi@campus.test")
	spaceID := fx.createSpace(t, adminToken, "Seminar Room 2")

	var created reservationView
	err := call(t, fx.booking, map[string]any{
		"action":   "create",
		"token":    studentToken,
		"space_id": spaceID,
		"start":    "2026-03-10T10:00:00Z",
		"end":      "2026-03-10T12:00:00Z",
	}, &created)
	if err != nil {
		t.Fatalf("create reservation: %v", err)
	}
	err = call(t, fx.booking, map[string]any{
		"action":         "approve",
		"token":          adminToken,
		"reservation_id": created.ID,
	}, nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	var stats struct {
		TotalSpaces       int `json:"total_spaces"`
		TotalReservations int `json:"total_reservations"`
		ApprovedCount     int `json:"approved_count"`
	}
	if err := call(t, fx.reports, map[string]any{"action": "stats", "token": adminToken}, &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalSpaces != 1 || stats.TotalReservations != 1 || stats.ApprovedCount != 1 {
		t.Fatalf("stats = %+v, want 1 space, 1 reservation, 1 approved", stats)
	}

	var usage struct {
		Spaces []struct {
			SpaceID     string  `json:"space_id"`
			BookedHours float64 `json:"booked_hours"`
		} `json:"spaces"`
	}
	err = call(t, fx.reports, map[string]any{
		"action": "usage",
		"token":  adminToken,
		"from":   "2026-03-09",
		"to":     "2026-03-11",
	}, &usage)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if len(usage.Spaces) != 1 || usage.Spaces[0].BookedHours != 2 {
		t.Fatalf("usage = %+v, want 2 booked hours for the space", usage)
	}

	t.Run("audit trail records the approval", func(t *testing.T) {
		var entries []auditEntryView
		err := call(t, fx.reports, map[string]any{
			"action": "audit",
			"token":  adminToken,
			"table":  "reservations",
		}, &entries)
		if err != nil {
			t.Fatalf("audit: %v", err)
		}
		if len(entries) < 2 {
			t.Fatalf("entries = %d, want create and approve", len(entries))
		}
	})

	t.Run("reports require an administrator", func(t *testing.T) {
		err := call(t, fx.reports, map[string]any{"action": "stats", "token": studentToken}, nil)
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("err = %v, want ErrUnauthorized", err)
		}
	})
}

func TestUnknownAction(t *testing.T) {
	fx := newEndpointFixture(t)

	err := call(t, fx.spaces, map[string]any{"action": "explode"}, nil)
	var vErr *application.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want a validation error", err)
	}

	t.Run("missing action", func(t *testing.T) {
		err := call(t, fx.spaces, map[string]any{}, nil)
		if !errors.As(err, &vErr) {
			t.Fatalf("err = %v, want a validation error", err)
		}
	})
}
