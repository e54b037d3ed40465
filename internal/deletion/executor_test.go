package deletion_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/deletion"
	"github.com/letterforge/letterforge/internal/notify"
)

func TestExecuteDue_IsolatesFailures(t *testing.T) {
	f := newFixture(t, "usr_1", "usr_2", "usr_3")
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for _, user := range []string{"usr_1", "usr_2", "usr_3"} {
		ids = append(ids, f.confirmed(t, user))
		f.clock.Advance(time.Minute)
	}
	f.eraser.failFor["usr_2"] = errors.New("function delete failed")

	f.clock.Advance(48 * time.Hour)
	result, err := f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &deletion.BatchResult{Executed: 2, Failed: 1, Total: 3}, result)

	failed, err := f.repo.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusConfirmed, failed.Status)
	assert.Equal(t, 1, failed.ExecutionAttempts)
	assert.Contains(t, failed.LastError, "function delete failed")

	for _, id := range []string{ids[0], ids[2]} {
		done, err := f.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, deletion.StatusCompleted, done.Status)
		assert.NotNil(t, done.CompletedAt)
	}

	delete(f.eraser.failFor, "usr_2")
	result, err = f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &deletion.BatchResult{Executed: 1, Total: 1}, result, "only the failed request is retried")
}

func TestLifecycle_CreateConfirmExecute(t *testing.T) {
	f := newFixture(t)
	f.billing.active["usr_1"] = true
	ctx := context.Background()

	in := createInput("usr_1")
	in.Type = deletion.TypeHard
	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Confirm(ctx, created.ConfirmationToken)
	require.NoError(t, err)

	result, err := f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &deletion.BatchResult{}, result, "nothing is due during the cooldown")

	f.clock.Advance(48 * time.Hour)
	result, err = f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &deletion.BatchResult{Executed: 1, Total: 1}, result)

	stored, err := f.repo.Get(ctx, created.RequestID)
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusCompleted, stored.Status)
	assert.Equal(t, []erasure{{UserID: "usr_1", Type: deletion.TypeHard}}, f.eraser.Erased())

	msgs := f.sent.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.TemplateSubscriptionCancelled, msgs[0].Template)
	assert.Equal(t, notify.TemplateAccountDeleted, msgs[1].Template)
	assert.Equal(t, "usr_1@example.com", msgs[1].To)
	assert.Equal(t, false, msgs[1].Data["refunded"], "the subscription was already cancelled at confirmation")
	assert.Equal(t, []string{"usr_1@example.com"}, f.sent.Removed())

	result, err = f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &deletion.BatchResult{}, result)
	assert.Len(t, f.eraser.Erased(), 1)
}

func TestLifecycle_CreateCancelNeverExecutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, createInput("usr_1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, deletion.CancelInput{UserID: "usr_1"}))

	f.clock.Advance(30 * 24 * time.Hour)
	result, err := f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	assert.Empty(t, f.eraser.Erased())

	stored, err := f.repo.Get(ctx, created.RequestID)
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusCancelled, stored.Status)
}

func TestExecute_RefundFailureDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.confirmed(t, "usr_1")
	f.billing.refundErr = errors.New("gateway timeout")
	f.clock.Advance(48 * time.Hour)

	result, err := f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Executed)

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusCompleted, stored.Status)
}

func TestExecuteDue_Paused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.confirmed(t, "usr_1")
	f.clock.Advance(48 * time.Hour)
	f.flags.paused = true

	result, err := f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, &deletion.BatchResult{}, result)
	assert.Empty(t, f.eraser.Erased())

	f.flags.paused = false
	result, err = f.svc.ExecuteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Executed)
}

func TestExecuteForUser_IgnoresCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.ExecuteForUser(ctx, "usr_1")
	assert.ErrorIs(t, err, deletion.ErrNoActiveRequest)

	id := f.confirmed(t, "usr_1")
	require.NoError(t, f.svc.ExecuteForUser(ctx, "usr_1"))

	stored, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusCompleted, stored.Status)
}

func TestExecuteForUser_RejectsPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := createInput("usr_1")
	in.Type = deletion.TypeHard
	created, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	err = f.svc.ExecuteForUser(ctx, "usr_1")
	assert.ErrorIs(t, err, deletion.ErrNotConfirmed)
	assert.Empty(t, f.eraser.Erased())

	stored, err := f.repo.Get(ctx, created.RequestID)
	require.NoError(t, err)
	assert.Equal(t, deletion.StatusPending, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestMaintenance(t *testing.T) {
	f := newFixture(t, "usr_1", "usr_2", "usr_3")
	ctx := context.Background()

	_, err := f.svc.Create(ctx, createInput("usr_1"))
	require.NoError(t, err)
	f.confirmed(t, "usr_2")

	f.clock.Advance(7*24*time.Hour + time.Minute)
	_, err = f.svc.Create(ctx, createInput("usr_3"))
	require.NoError(t, err)

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, &deletion.StatusCounts{ActiveRequests: 3, ReadyForDeletion: 1, ExpiredRequests: 1}, status)

	full, err := f.svc.FullMaintenance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, full.ExpiredRemoved)
	assert.Equal(t, &deletion.BatchResult{Executed: 1, Total: 1}, full.Execution)
	assert.Equal(t, deletion.StatusCounts{ActiveRequests: 1}, full.Status)

	removed, err := f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
