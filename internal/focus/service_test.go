package focus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"skipper/assistant/internal/notify"
	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

type statusCall struct {
	text, emoji string
	expiration  int64
}

type fakeProvider struct {
	current    *store.ChatStatus
	profileErr error
	setErr     error

	statusCalls []statusCall
	dndCalls    []int
	endDNDCalls int
}

func (f *fakeProvider) Profile(_ context.Context, _ string) (*store.ChatStatus, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	if f.current == nil {
		return &store.ChatStatus{}, nil
	}
	cp := *f.current
	return &cp, nil
}

func (f *fakeProvider) SetProfile(_ context.Context, _ string, text, emoji string, expiration int64) error {
	f.statusCalls = append(f.statusCalls, statusCall{text, emoji, expiration})
	return f.setErr
}

func (f *fakeProvider) SetDND(_ context.Context, _ string, minutes int) error {
	f.dndCalls = append(f.dndCalls, minutes)
	return f.setErr
}

func (f *fakeProvider) EndDND(_ context.Context, _ string) error {
	f.endDNDCalls++
	return f.setErr
}

type scheduledJob struct {
	kind   string
	userID string
	fireAt time.Time
}

type fakeJobs struct {
	scheduled []scheduledJob
	canceled  int
	pending   bool // whether CancelPomodoro finds a job
}

func (f *fakeJobs) ScheduleFocusExpire(_ context.Context, userID string, fireAt time.Time) (string, error) {
	f.scheduled = append(f.scheduled, scheduledJob{"expire", userID, fireAt})
	return "job-expire", nil
}

func (f *fakeJobs) SchedulePomodoroTransition(_ context.Context, userID string, fireAt time.Time) (string, error) {
	f.scheduled = append(f.scheduled, scheduledJob{"transition", userID, fireAt})
	f.pending = true
	return "job-transition", nil
}

func (f *fakeJobs) CancelPomodoro(_ context.Context, _ string) (bool, error) {
	f.canceled++
	had := f.pending
	f.pending = false
	return had, nil
}

type publishedEvent struct {
	userID, eventType string
	data              map[string]any
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) Publish(_ context.Context, userID, eventType string, data map[string]any) []notify.DeliveryResult {
	f.events = append(f.events, publishedEvent{userID, eventType, data})
	return nil
}

func (f *fakePublisher) types() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.eventType)
	}
	return out
}

type fixture struct {
	svc      *Service
	mem      *store.Memory
	provider *fakeProvider
	jobs     *fakeJobs
	events   *fakePublisher
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:      store.NewMemory(),
		provider: &fakeProvider{},
		jobs:     &fakeJobs{},
		events:   &fakePublisher{},
		now:      time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC),
	}
	f.svc = New(Config{
		Store:    f.mem,
		Jobs:     f.jobs,
		Provider: f.provider,
		Events:   f.events,
		Logger:   slog.Default(),
	})
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func intPtr(i int) *int { return &i }

func TestEnable_BoundedSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.current = &store.ChatStatus{Text: "Lunch", Emoji: ":bento:"}

	sess, err := f.svc.Enable(ctx, "u1", intPtr(50), "heads down")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != store.StateSimpleActive {
		t.Fatalf("state = %s", sess.State)
	}
	wantEnd := f.now.Add(50 * time.Minute)
	if sess.EndsAt == nil || !sess.EndsAt.Equal(wantEnd) {
		t.Errorf("ends_at = %v, want %v", sess.EndsAt, wantEnd)
	}

	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.SavedStatus == nil || rec.SavedStatus.Text != "Lunch" {
		t.Errorf("saved status = %+v", rec.SavedStatus)
	}
	if rec.CustomMessage != "heads down" {
		t.Errorf("message = %q", rec.CustomMessage)
	}

	if len(f.provider.statusCalls) != 1 || f.provider.statusCalls[0].text != "Focusing" {
		t.Errorf("status calls = %+v", f.provider.statusCalls)
	}
	if f.provider.statusCalls[0].expiration != wantEnd.Unix() {
		t.Errorf("status expiration = %d", f.provider.statusCalls[0].expiration)
	}
	if len(f.provider.dndCalls) != 1 || f.provider.dndCalls[0] != 50 {
		t.Errorf("dnd calls = %v", f.provider.dndCalls)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != notify.EventFocusStarted {
		t.Errorf("events = %v", got)
	}
	if len(f.jobs.scheduled) != 1 || f.jobs.scheduled[0].kind != "expire" || !f.jobs.scheduled[0].fireAt.Equal(wantEnd) {
		t.Errorf("scheduled = %+v", f.jobs.scheduled)
	}
}

func TestEnable_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(len(errs))
	for i := range errs {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Enable(ctx, "u1", intPtr(30), "")
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSessionActive):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d, want exactly one of each", wins, conflicts)
	}

	rec, err := f.mem.FocusRecord(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.State != store.StateSimpleActive {
		t.Fatalf("state = %s", rec.State)
	}
	if rec.StartedAt == nil || rec.EndsAt == nil || rec.EndsAt.Sub(*rec.StartedAt) != 30*time.Minute {
		t.Errorf("session window = %v .. %v, want 30m", rec.StartedAt, rec.EndsAt)
	}
	if len(f.jobs.scheduled) != 1 {
		t.Errorf("scheduled jobs = %d, want 1", len(f.jobs.scheduled))
	}
	if len(f.provider.dndCalls) != 1 {
		t.Errorf("dnd calls = %d, want 1", len(f.provider.dndCalls))
	}
}

func TestEnable_UnboundedUsesDefaultDND(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.svc.Enable(ctx, "u1", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if sess.EndsAt != nil {
		t.Errorf("unbounded session has ends_at %v", sess.EndsAt)
	}
	if len(f.provider.dndCalls) != 1 || f.provider.dndCalls[0] != defaultDNDMinutes {
		t.Errorf("dnd = %v, want [%d]", f.provider.dndCalls, defaultDNDMinutes)
	}
	if len(f.jobs.scheduled) != 0 {
		t.Errorf("no expiry job expected, got %+v", f.jobs.scheduled)
	}
}

func TestEnable_ValidationAndConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.Enable(ctx, "u1", intPtr(0), ""); !errors.Is(err, ErrValidation) {
		t.Errorf("duration 0: %v", err)
	}
	if _, err := f.svc.Enable(ctx, "u1", intPtr(481), ""); !errors.Is(err, ErrValidation) {
		t.Errorf("duration 481: %v", err)
	}
	// Nothing committed, no effects ran.
	if _, err := f.mem.FocusRecord(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Error("validation failure must not commit")
	}
	if len(f.provider.statusCalls)+len(f.provider.dndCalls)+len(f.events.events) != 0 {
		t.Error("validation failure must not run effects")
	}

	if _, err := f.svc.Enable(ctx, "u1", intPtr(30), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Enable(ctx, "u1", intPtr(30), ""); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second enable: %v", err)
	}
	if _, err := f.svc.StartPomodoro(ctx, "u1", PomodoroOptions{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("pomodoro over simple: %v", err)
	}
}

func TestEnable_SnapshotSkipsEmptyStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.svc.Enable(ctx, "u1", nil, "")
	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.SavedStatus != nil {
		t.Errorf("empty status should snapshot nil, got %+v", rec.SavedStatus)
	}
}

func TestEnable_ProviderFailureDoesNotAbort(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.profileErr = errors.New("slack down")
	f.provider.setErr = errors.New("slack down")

	sess, err := f.svc.Enable(ctx, "u1", intPtr(25), "")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != store.StateSimpleActive {
		t.Fatalf("state = %s", sess.State)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != notify.EventFocusStarted {
		t.Errorf("events = %v", got)
	}
}

func TestEnable_NoTokenSnapshotsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.profileErr = vault.ErrNoToken

	if _, err := f.svc.Enable(ctx, "u1", nil, ""); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.SavedStatus != nil {
		t.Errorf("saved status = %+v", rec.SavedStatus)
	}
}

func TestDisable_RestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.current = &store.ChatStatus{Text: "Lunch", Emoji: ":bento:"}

	f.svc.Enable(ctx, "u1", intPtr(50), "")
	f.provider.statusCalls = nil

	sess, err := f.svc.Disable(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != store.StateOff || sess.EndsAt != nil {
		t.Fatalf("session = %+v", sess)
	}
	if len(f.provider.statusCalls) != 1 || f.provider.statusCalls[0].text != "Lunch" {
		t.Errorf("restore calls = %+v", f.provider.statusCalls)
	}
	if f.provider.endDNDCalls != 1 {
		t.Errorf("endDND = %d", f.provider.endDNDCalls)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.eventType != notify.EventFocusEnded {
		t.Errorf("last event = %s", last.eventType)
	}
	if _, ok := last.data["reason"]; ok {
		t.Errorf("manual disable should carry no reason, got %v", last.data)
	}

	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.SavedStatus != nil || rec.StartedAt != nil {
		t.Errorf("off record not cleared: %+v", rec)
	}
}

func TestDisable_ClearsWhenNoSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.svc.Enable(ctx, "u1", nil, "")
	f.provider.statusCalls = nil

	f.svc.Disable(ctx, "u1")
	if len(f.provider.statusCalls) != 1 || f.provider.statusCalls[0].text != "" || f.provider.statusCalls[0].emoji != "" {
		t.Errorf("expected clearing set, got %+v", f.provider.statusCalls)
	}
}

func TestDisable_NoSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.Disable(ctx, "u1"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("got %v", err)
	}
}

func TestPomodoro_FullCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sess, err := f.svc.StartPomodoro(ctx, "u1", PomodoroOptions{WorkMinutes: 25, BreakMinutes: 5})
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != store.StatePomodoroWork || sess.Pomodoro.SessionCount != 1 {
		t.Fatalf("session = %+v", sess)
	}
	if len(f.provider.dndCalls) != 1 || f.provider.dndCalls[0] != 25 {
		t.Errorf("dnd = %v", f.provider.dndCalls)
	}

	// Work phase ends.
	f.advance(25 * time.Minute)
	if err := f.svc.OnTransition(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.State != store.StatePomodoroBreak || rec.Pomodoro.SessionCount != 1 {
		t.Fatalf("after work: %+v", rec)
	}
	// Break entry sets no DND.
	if len(f.provider.dndCalls) != 1 {
		t.Errorf("dnd on break entry: %v", f.provider.dndCalls)
	}

	// Break ends; next work phase increments the count.
	f.advance(5 * time.Minute)
	if err := f.svc.OnTransition(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	rec, _ = f.mem.FocusRecord(ctx, "u1")
	if rec.State != store.StatePomodoroWork || rec.Pomodoro.SessionCount != 2 {
		t.Fatalf("after break: %+v", rec)
	}
	if len(f.provider.dndCalls) != 2 || f.provider.dndCalls[1] != 25 {
		t.Errorf("dnd on work re-entry: %v", f.provider.dndCalls)
	}

	want := []string{notify.EventWorkStarted, notify.EventBreakStarted, notify.EventWorkStarted}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if len(f.jobs.scheduled) != 3 {
		t.Errorf("scheduled jobs = %+v", f.jobs.scheduled)
	}
}

func TestPomodoro_SessionCapCompletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.current = &store.ChatStatus{Text: "Old", Emoji: ":old:"}

	f.svc.StartPomodoro(ctx, "u1", PomodoroOptions{WorkMinutes: 25, BreakMinutes: 5, TotalSessions: 2})

	f.advance(25 * time.Minute)
	f.svc.OnTransition(ctx, "u1") // → break
	f.advance(5 * time.Minute)
	f.svc.OnTransition(ctx, "u1") // → work #2
	f.advance(25 * time.Minute)
	if err := f.svc.OnTransition(ctx, "u1"); err != nil { // cap reached → off
		t.Fatal(err)
	}

	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.State != store.StateOff {
		t.Fatalf("state = %s, want off", rec.State)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.eventType != notify.EventPomodoroComplete {
		t.Errorf("completion event = %s", last.eventType)
	}
	// Snapshot restored.
	restored := f.provider.statusCalls[len(f.provider.statusCalls)-1]
	if restored.text != "Old" {
		t.Errorf("restored = %+v", restored)
	}
	if f.provider.endDNDCalls != 1 {
		t.Errorf("endDND = %d", f.provider.endDNDCalls)
	}
}

func TestPomodoro_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []PomodoroOptions{
		{WorkMinutes: 121, BreakMinutes: 5},
		{WorkMinutes: 25, BreakMinutes: 61},
		{WorkMinutes: 25, BreakMinutes: 5, TotalSessions: 13},
	}
	for i, opts := range cases {
		if _, err := f.svc.StartPomodoro(ctx, "u1", opts); !errors.Is(err, ErrValidation) {
			t.Errorf("case %d: %v", i, err)
		}
	}
}

func TestPomodoro_DefaultsFromSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mem.PutFocusSettings(ctx, &store.FocusSettings{
		UserID: "u1", WorkMinutes: 50, BreakMinutes: 10,
		WorkStatus: store.ChatStatus{Text: "Deep work", Emoji: ":brain:"},
	})

	sess, err := f.svc.StartPomodoro(ctx, "u1", PomodoroOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if sess.Pomodoro.WorkMinutes != 50 || sess.Pomodoro.BreakMinutes != 10 {
		t.Fatalf("pomodoro = %+v", sess.Pomodoro)
	}
	if f.provider.statusCalls[0].text != "Deep work" {
		t.Errorf("status = %+v", f.provider.statusCalls[0])
	}
}

func TestSkipPhase(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.svc.StartPomodoro(ctx, "u1", PomodoroOptions{WorkMinutes: 25, BreakMinutes: 5})
	f.advance(10 * time.Minute) // mid-phase

	sess, err := f.svc.SkipPhase(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != store.StatePomodoroBreak {
		t.Fatalf("state = %s", sess.State)
	}
	if f.jobs.canceled != 1 {
		t.Errorf("pending job cancels = %d, want 1", f.jobs.canceled)
	}
	wantEnd := f.now.Add(5 * time.Minute)
	if sess.EndsAt == nil || !sess.EndsAt.Equal(wantEnd) {
		t.Errorf("ends_at = %v, want %v", sess.EndsAt, wantEnd)
	}
}

func TestSkipPhase_RequiresPomodoro(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.SkipPhase(ctx, "u1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("off: %v", err)
	}
	f.svc.Enable(ctx, "u1", nil, "")
	if _, err := f.svc.SkipPhase(ctx, "u1"); !errors.Is(err, ErrNoSession) {
		t.Errorf("simple: %v", err)
	}
}

func TestStatus_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.svc.Enable(ctx, "u1", intPtr(30), "")
	f.advance(31 * time.Minute)

	sess, err := f.svc.Status(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != store.StateOff {
		t.Fatalf("state = %s, want off after lazy expiry", sess.State)
	}
	last := f.events.events[len(f.events.events)-1]
	if last.eventType != notify.EventFocusEnded || last.data["reason"] != "expired" {
		t.Errorf("last event = %+v", last)
	}
}

func TestStatus_PomodoroEndsAtAdvisory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.svc.StartPomodoro(ctx, "u1", PomodoroOptions{WorkMinutes: 25, BreakMinutes: 5})
	f.advance(26 * time.Minute)

	sess, err := f.svc.Status(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	// Reads do not drive pomodoro transitions; the timer job does.
	if sess.State != store.StatePomodoroWork {
		t.Fatalf("state = %s", sess.State)
	}
}

func TestStatus_NoRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess, err := f.svc.Status(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.State != store.StateOff {
		t.Fatalf("state = %s", sess.State)
	}
}

func TestOnExpire_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// No record at all.
	if err := f.svc.OnExpire(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	f.svc.Enable(ctx, "u1", intPtr(30), "")
	f.advance(30 * time.Minute)
	if err := f.svc.OnExpire(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.State != store.StateOff {
		t.Fatalf("state = %s", rec.State)
	}
	before := len(f.events.events)
	if err := f.svc.OnExpire(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if len(f.events.events) != before {
		t.Error("second expire fired effects again")
	}
}

func TestOnExpire_StaleJobSelfCancels(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.svc.Enable(ctx, "u1", intPtr(30), "")
	f.svc.Disable(ctx, "u1")
	// New session; the first session's expire job is still in the table.
	f.svc.Enable(ctx, "u1", intPtr(60), "")
	f.advance(30 * time.Minute)

	if err := f.svc.OnExpire(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.State != store.StateSimpleActive {
		t.Fatalf("stale expire job ended the new session: %s", rec.State)
	}
}

func TestOnTransition_StaleAndOffNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.OnTransition(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	f.svc.StartPomodoro(ctx, "u1", PomodoroOptions{WorkMinutes: 25, BreakMinutes: 5})
	// Fires early (phase not due yet).
	if err := f.svc.OnTransition(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	rec, _ := f.mem.FocusRecord(ctx, "u1")
	if rec.State != store.StatePomodoroWork || rec.Pomodoro.SessionCount != 1 {
		t.Fatalf("early transition acted: %+v", rec)
	}
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.svc.UpdateSettings(ctx, &store.FocusSettings{UserID: "u1", WorkMinutes: 0, BreakMinutes: 5}); !errors.Is(err, ErrValidation) {
		t.Errorf("work 0: %v", err)
	}
	if err := f.svc.UpdateSettings(ctx, &store.FocusSettings{
		UserID: "u1", WorkMinutes: 50, BreakMinutes: 10, DefaultMessage: "afk",
	}); err != nil {
		t.Fatal(err)
	}
	got, err := f.svc.Settings(ctx, "u1")
	if err != nil || got.WorkMinutes != 50 || got.DefaultMessage != "afk" {
		t.Fatalf("settings = (%+v, %v)", got, err)
	}
}

func TestSettings_DefaultsWhenUnset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	got, err := f.svc.Settings(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WorkMinutes != 25 || got.BreakMinutes != 5 {
		t.Fatalf("defaults = %+v", got)
	}
}
