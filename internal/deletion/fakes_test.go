package deletion_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/account"
	"github.com/letterforge/letterforge/internal/auth"
	"github.com/letterforge/letterforge/internal/billing"
	"github.com/letterforge/letterforge/internal/deletion"
	"github.com/letterforge/letterforge/internal/notify/notifytest"
	"github.com/letterforge/letterforge/internal/ratelimit"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePasswords struct{}

func (fakePasswords) VerifyPassword(_ context.Context, _, password string) error {
	if password != "correct horse" {
		return auth.ErrInvalidPassword
	}
	return nil
}

type fakeBilling struct {
	mu          sync.Mutex
	active      map[string]bool
	refund      billing.RefundOutcome
	cancelErr   error
	refundErr   error
	refundCalls int
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		active: make(map[string]bool),
		refund: billing.RefundOutcome{Refunded: true, Amount: 100, RefundID: "re_1", Reason: "10% of period unused"},
	}
}

func (f *fakeBilling) CancelActiveSubscription(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	if !f.active[userID] {
		return false, nil
	}
	f.active[userID] = false
	return true, nil
}

func (f *fakeBilling) RefundForUser(_ context.Context, userID string) (*billing.RefundOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	if !f.active[userID] {
		return &billing.RefundOutcome{Reason: billing.ReasonNotActive}, nil
	}
	f.active[userID] = false
	outcome := f.refund
	return &outcome, nil
}

type erasure struct {
	UserID string
	Type   deletion.Type
}

type fakeEraser struct {
	mu      sync.Mutex
	failFor map[string]error
	erased  []erasure
}

func (f *fakeEraser) Erase(_ context.Context, userID string, deletionType deletion.Type) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[userID]; err != nil {
		return err
	}
	f.erased = append(f.erased, erasure{UserID: userID, Type: deletionType})
	return nil
}

func (f *fakeEraser) Erased() []erasure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]erasure(nil), f.erased...)
}

type flags struct {
	refundAtConfirm bool
	paused          bool
}

func (f *flags) RefundAtConfirm(context.Context) bool           { return f.refundAtConfirm }
func (f *flags) IsDeletionExecutionPaused(context.Context) bool { return f.paused }

type fixture struct {
	clock    *clock
	repo     *deletion.InMemoryRepository
	accounts *account.InMemoryRepository
	billing  *fakeBilling
	eraser   *fakeEraser
	flags    *flags
	sent     *notifytest.Recorder
	svc      *deletion.Service
}

func newFixture(t *testing.T, users ...string) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &clock{now: t0},
		repo:     deletion.NewInMemoryRepository(),
		accounts: account.NewInMemoryRepository(),
		billing:  newFakeBilling(),
		eraser:   &fakeEraser{failFor: make(map[string]error)},
		flags:    &flags{},
		sent:     &notifytest.Recorder{},
	}
	if len(users) == 0 {
		users = []string{"usr_1"}
	}
	for _, id := range users {
		f.accounts.Put(&account.Account{ID: id, Email: id + "@example.com"})
	}

	f.svc = deletion.NewService(deletion.ServiceConfig{
		Repository: f.repo,
		Accounts:   f.accounts,
		Passwords:  fakePasswords{},
		Limiter:    ratelimit.NewDeletionLimiter(nil, 3, zerolog.Nop()),
		Billing:    f.billing,
		Eraser:     f.eraser,
		Notifier:   f.sent,
		Flags:      f.flags,
		Logger:     zerolog.Nop(),
		ConfirmURL: "https://letterforge.app/account/delete/confirm",
		Now:        f.clock.Now,
	})
	return f
}

// confirmed creates and confirms a request for userID, returning its id.
func (f *fixture) confirmed(t *testing.T, userID string) string {
	t.Helper()
	created, err := f.svc.Create(context.Background(), deletion.CreateInput{
		UserID:   userID,
		Password: "correct horse",
		Type:     deletion.TypeSoft,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Confirm(context.Background(), created.ConfirmationToken); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return created.RequestID
}
