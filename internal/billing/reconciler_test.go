package billing_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/account"
	"github.com/letterforge/letterforge/internal/billing"
	"github.com/letterforge/letterforge/internal/notify"
	"github.com/letterforge/letterforge/internal/notify/notifytest"
)

type reconcilerFixture struct {
	accounts *account.InMemoryRepository
	repo     *billing.InMemoryRepository
	gateway  *fakeGateway
	sent     *notifytest.Recorder
	rec      *billing.Reconciler
}

func newReconcilerFixture() *reconcilerFixture {
	f := &reconcilerFixture{
		accounts: account.NewInMemoryRepository(),
		repo:     billing.NewInMemoryRepository(),
		gateway:  newFakeGateway(),
		sent:     &notifytest.Recorder{},
	}
	f.accounts.Put(&account.Account{ID: "usr_1", Email: "ada@example.com", StripeCustomerID: "cus_1"})
	f.rec = billing.NewReconciler(billing.ReconcilerConfig{
		Resolver:   billing.NewResolver(f.accounts, f.gateway, zerolog.Nop()),
		Repository: f.repo,
		Notifier:   f.sent,
		Logger:     zerolog.Nop(),
	})
	return f
}

func activeSubscription() *billing.Subscription {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return &billing.Subscription{
		SubscriptionID:     "sub_1",
		CustomerID:         "cus_1",
		PriceID:            "price_pro",
		Status:             billing.StatusActive,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		Metadata:           map[string]string{"source": "checkout"},
	}
}

func TestReconciler_SubscriptionUpsertIsIdempotent(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	require.NoError(t, f.rec.SubscriptionCreated(ctx, activeSubscription()))
	first, err := f.repo.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)

	require.NoError(t, f.rec.SubscriptionCreated(ctx, activeSubscription()))
	second, err := f.repo.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)

	first.UpdatedAt, second.UpdatedAt = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
	assert.Equal(t, "usr_1", second.UserID)

	assert.Equal(t, []notify.Template{notify.TemplateSubscriptionConfirmed}, f.sent.Templates(),
		"a redelivered creation finds the prior record and sends nothing")
}

func TestReconciler_WelcomeEmailReadsPriorStateBeforeUpsert(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	require.NoError(t, f.rec.SubscriptionCreated(ctx, activeSubscription()))

	msgs := f.sent.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, notify.TemplateSubscriptionConfirmed, msgs[0].Template)
	assert.Equal(t, "ada@example.com", msgs[0].To)
	assert.Equal(t, "subscription_confirmed:sub_1", msgs[0].DedupeKey)
	assert.Equal(t, "price_pro", msgs[0].Data["plan"])

	require.Len(t, f.sent.Contacts(), 1)
	assert.Equal(t, billing.StatusActive, f.sent.Contacts()[0].Attributes["subscription_status"])
}

func TestReconciler_CancelAtPeriodEndWins(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	sub := activeSubscription()
	sub.CancelAtPeriodEnd = true
	require.NoError(t, f.rec.SubscriptionUpdated(ctx, sub))

	assert.Equal(t, []notify.Template{notify.TemplateSubscriptionCancelled}, f.sent.Templates())
}

func TestReconciler_RepeatedCancelGetsNewDedupeKey(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	sub := activeSubscription()
	sub.CancelAtPeriodEnd = true
	first := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	sub.CanceledAt = &first
	require.NoError(t, f.rec.SubscriptionUpdated(ctx, sub))
	require.NoError(t, f.rec.SubscriptionUpdated(ctx, sub))

	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	require.NoError(t, f.rec.SubscriptionUpdated(ctx, sub))

	sub.CancelAtPeriodEnd = true
	second := first.Add(48 * time.Hour)
	sub.CanceledAt = &second
	require.NoError(t, f.rec.SubscriptionUpdated(ctx, sub))

	msgs := f.sent.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, msgs[0].DedupeKey, msgs[1].DedupeKey, "a redelivery reuses the key")
	assert.NotEqual(t, msgs[0].DedupeKey, msgs[2].DedupeKey, "a new cancel request gets its own key")
	assert.Equal(t, "subscription_cancelled:sub_1:"+strconv.FormatInt(second.Unix(), 10), msgs[2].DedupeKey)
}

func TestReconciler_DeletedSubscriptionSendsNothing(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	sub := activeSubscription()
	sub.Status = ""
	require.NoError(t, f.rec.SubscriptionDeleted(ctx, sub))

	stored, err := f.repo.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, stored.Status)
	assert.Empty(t, f.sent.Templates())
}

func TestReconciler_InvoiceEmails(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	paid := &billing.Invoice{
		InvoiceID:      "in_1",
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         billing.InvoiceStatusPaid,
		BillingReason:  "subscription_create",
		AmountPaid:     1000,
		Currency:       "usd",
	}
	require.NoError(t, f.rec.InvoicePaymentSucceeded(ctx, paid))

	renewal := *paid
	renewal.InvoiceID = "in_2"
	renewal.BillingReason = "subscription_cycle"
	require.NoError(t, f.rec.InvoicePaymentSucceeded(ctx, &renewal))

	failed := &billing.Invoice{
		InvoiceID:    "in_3",
		CustomerID:   "cus_1",
		Status:       billing.InvoiceStatusOpen,
		AttemptCount: 2,
		AmountDue:    1000,
	}
	require.NoError(t, f.rec.InvoicePaymentFailed(ctx, failed))

	msgs := f.sent.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.TemplateSubscriptionConfirmed, msgs[0].Template)
	assert.Equal(t, "subscription_confirmed:sub_1", msgs[0].DedupeKey)
	assert.Equal(t, notify.TemplatePaymentFailed, msgs[1].Template)
	assert.Equal(t, "payment_failed:in_3:2", msgs[1].DedupeKey)

	stored, err := f.repo.GetInvoice(ctx, "in_3")
	require.NoError(t, err)
	assert.Equal(t, "usr_1", stored.UserID)
}

func TestReconciler_UnresolvedCustomerIsAcknowledged(t *testing.T) {
	f := newReconcilerFixture()
	ctx := context.Background()

	sub := activeSubscription()
	sub.CustomerID = "cus_unknown"
	require.NoError(t, f.rec.SubscriptionCreated(ctx, sub))

	_, err := f.repo.GetSubscription(ctx, "sub_1")
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
	assert.Empty(t, f.sent.Templates())
}

func TestReconciler_CustomerUpdatedSyncsContact(t *testing.T) {
	f := newReconcilerFixture()

	require.NoError(t, f.rec.CustomerUpdated(context.Background(), &billing.CustomerUpdate{
		CustomerID: "cus_1",
		Email:      "ada.new@example.com",
		Name:       "Ada",
	}))

	contacts := f.sent.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, "ada.new@example.com", contacts[0].Email)
	assert.Equal(t, "Ada", contacts[0].Attributes["name"])
}

func TestResolver_BackfillsByEmail(t *testing.T) {
	accounts := account.NewInMemoryRepository()
	accounts.Put(&account.Account{ID: "usr_2", Email: "Grace@Example.com"})
	gateway := newFakeGateway()
	gateway.emails["cus_2"] = "grace@example.com"

	resolver := billing.NewResolver(accounts, gateway, zerolog.Nop())
	ctx := context.Background()

	acct, err := resolver.Resolve(ctx, "cus_2")
	require.NoError(t, err)
	assert.Equal(t, "usr_2", acct.ID)

	linked, err := accounts.FindByCustomerID(ctx, "cus_2")
	require.NoError(t, err)
	assert.Equal(t, "usr_2", linked.ID)

	_, err = resolver.Resolve(ctx, "cus_missing")
	assert.ErrorIs(t, err, billing.ErrCustomerNotResolved)
}

type failingAccounts struct{ account.Repository }

func (failingAccounts) FindByCustomerID(context.Context, string) (*account.Account, error) {
	return nil, errors.New("connection reset")
}

func TestResolver_StoreFailureIsHard(t *testing.T) {
	resolver := billing.NewResolver(failingAccounts{}, newFakeGateway(), zerolog.Nop())
	_, err := resolver.Resolve(context.Background(), "cus_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, billing.ErrCustomerNotResolved)
}

func TestTierResolver(t *testing.T) {
	repo := billing.NewInMemoryRepository()
	ctx := context.Background()
	tiers := billing.NewTierResolver(repo, nil)

	tier, err := tiers.Tier(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierFree, tier)

	sub := activeSubscription()
	sub.UserID = "usr_1"
	sub.Status = billing.StatusTrialing
	require.NoError(t, repo.UpsertSubscription(ctx, sub))

	tier, err = tiers.Tier(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierPro, tier)

	restricted := billing.NewTierResolver(repo, []string{"price_team"})
	tier, err = restricted.Tier(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, billing.TierFree, tier)
}
