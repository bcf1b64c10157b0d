package chat

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

type fakeSlack struct {
	token string

	profile    slack.UserProfile
	profileErr error

	setText, setEmoji string
	setExpiration     int64
	unsetCalled       bool

	snoozeMinutes int
	endSnoozeErr  error
	endCalled     bool
}

func (f *fakeSlack) GetUserProfileContext(_ context.Context, _ *slack.GetUserProfileParameters) (*slack.UserProfile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	p := f.profile
	return &p, nil
}

func (f *fakeSlack) SetUserCustomStatusContext(_ context.Context, text, emoji string, expiration int64) error {
	f.setText, f.setEmoji, f.setExpiration = text, emoji, expiration
	return nil
}

func (f *fakeSlack) UnsetUserCustomStatusContext(_ context.Context) error {
	f.unsetCalled = true
	return nil
}

func (f *fakeSlack) SetSnoozeContext(_ context.Context, minutes int) (*slack.DNDStatus, error) {
	f.snoozeMinutes = minutes
	return &slack.DNDStatus{}, nil
}

func (f *fakeSlack) EndSnoozeContext(_ context.Context) (*slack.DNDStatus, error) {
	f.endCalled = true
	if f.endSnoozeErr != nil {
		return nil, f.endSnoozeErr
	}
	return &slack.DNDStatus{}, nil
}

func newFakeProvider(fake *fakeSlack, tokenErr error) *SlackProvider {
	p := NewSlackProvider(func(_ context.Context, _ string) (string, error) {
		if tokenErr != nil {
			return "", tokenErr
		}
		return "xoxp-test", nil
	}, slog.Default())
	p.newClient = func(token string) slackAPI {
		fake.token = token
		return fake
	}
	return p
}

func TestProfile(t *testing.T) {
	fake := &fakeSlack{profile: slack.UserProfile{StatusText: "In a meeting", StatusEmoji: ":calendar:"}}
	p := newFakeProvider(fake, nil)

	got, err := p.Profile(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "In a meeting" || got.Emoji != ":calendar:" {
		t.Errorf("profile = %+v", got)
	}
	if fake.token != "xoxp-test" {
		t.Errorf("client built with token %q", fake.token)
	}
}

func TestProfile_NoToken(t *testing.T) {
	p := newFakeProvider(&fakeSlack{}, vault.ErrNoToken)
	if _, err := p.Profile(context.Background(), "u1"); !errors.Is(err, vault.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestSetProfile(t *testing.T) {
	fake := &fakeSlack{}
	p := newFakeProvider(fake, nil)

	if err := p.SetProfile(context.Background(), "u1", "Focusing", ":no_bell:", 1234); err != nil {
		t.Fatal(err)
	}
	if fake.setText != "Focusing" || fake.setEmoji != ":no_bell:" || fake.setExpiration != 1234 {
		t.Errorf("set status = (%q, %q, %d)", fake.setText, fake.setEmoji, fake.setExpiration)
	}
}

func TestSetProfile_EmptyClears(t *testing.T) {
	fake := &fakeSlack{}
	p := newFakeProvider(fake, nil)

	if err := p.SetProfile(context.Background(), "u1", "", "", 0); err != nil {
		t.Fatal(err)
	}
	if !fake.unsetCalled {
		t.Error("empty status should unset, not set")
	}
}

func TestSetProfile_NoTokenIsNoOp(t *testing.T) {
	p := newFakeProvider(&fakeSlack{}, vault.ErrNoToken)
	if err := p.SetProfile(context.Background(), "u1", "Focusing", ":no_bell:", 0); err != nil {
		t.Fatalf("missing token should no-op, got %v", err)
	}
}

func TestSetDND(t *testing.T) {
	fake := &fakeSlack{}
	p := newFakeProvider(fake, nil)
	if err := p.SetDND(context.Background(), "u1", 25); err != nil {
		t.Fatal(err)
	}
	if fake.snoozeMinutes != 25 {
		t.Errorf("snooze = %d minutes, want 25", fake.snoozeMinutes)
	}
}

func TestEndDND_SnoozeNotActive(t *testing.T) {
	fake := &fakeSlack{endSnoozeErr: errors.New("snooze_not_active")}
	p := newFakeProvider(fake, nil)
	if err := p.EndDND(context.Background(), "u1"); err != nil {
		t.Fatalf("snooze_not_active should be success, got %v", err)
	}
	if !fake.endCalled {
		t.Error("EndSnooze never called")
	}
}

func TestEndDND_OtherErrorPropagates(t *testing.T) {
	fake := &fakeSlack{endSnoozeErr: errors.New("invalid_auth")}
	p := newFakeProvider(fake, nil)
	if err := p.EndDND(context.Background(), "u1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDedup(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	d := NewDedup(mem)

	seen, err := d.Seen(ctx, "Ev123")
	if err != nil || seen {
		t.Fatalf("first delivery seen = (%v, %v), want (false, nil)", seen, err)
	}
	seen, err = d.Seen(ctx, "Ev123")
	if err != nil || !seen {
		t.Fatalf("redelivery seen = (%v, %v), want (true, nil)", seen, err)
	}
	if seen, _ := d.Seen(ctx, "Ev456"); seen {
		t.Error("distinct event IDs must not collide")
	}
}

func TestDedup_WindowExpires(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := time.Now()
	now := base
	mem.SetNowFunc(func() time.Time { return now })
	d := NewDedup(mem)

	d.Seen(ctx, "Ev123")
	now = base.Add(301 * time.Second)
	if seen, _ := d.Seen(ctx, "Ev123"); seen {
		t.Error("delivery outside the dedup window should read as new")
	}
}
