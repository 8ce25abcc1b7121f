package worker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/domain"
)

type harness struct {
	store    *memStore
	gen      *promptGenerator
	ledger   *fakeFinalizer
	notifier *fakeNotifier
	obs      *countingObserver
	proc     *Processor
}

func newHarness() *harness {
	h := &harness{
		store:    newMemStore(),
		gen:      &promptGenerator{},
		ledger:   &fakeFinalizer{},
		notifier: &fakeNotifier{},
		obs:      newCountingObserver(),
	}
	h.proc = NewProcessor(h.store, h.gen, h.ledger, h.notifier, h.obs, zerolog.Nop(), 2)
	return h
}

func (h *harness) claim(t *testing.T, id string) *domain.BatchJob {
	t.Helper()
	b, err := h.store.ClaimBatch(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestProcessSettlesPartialSuccess(t *testing.T) {
	h := newHarness()
	h.store.add(domain.BatchJob{ID: "b1", UserID: "u1", CostPerVideo: 10, WebhookURL: "https://hooks.example/b"},
		"a cat riding a bike", "please fail this one", "a sunset over mountains")

	require.NoError(t, h.proc.Process(context.Background(), h.claim(t, "b1")))

	assert.Equal(t, settleCall{domain.BatchStatusCompleted, 20, domain.SettlementSettled}, h.store.settled["b1"])
	assert.Equal(t, []finalizeCall{{"u1", "b1", 20}}, h.ledger.calls)
	assert.Equal(t, 2, h.obs.tasks["succeeded"])
	assert.Equal(t, 1, h.obs.tasks["failed"])
	assert.Equal(t, 1, h.obs.settled["settled"])

	tasks := h.store.tasks["b1"]
	assert.Equal(t, domain.TaskStatusSucceeded, tasks[0].Status)
	assert.Equal(t, "https://cdn/b1-t0.mp4", tasks[0].VideoURL)
	assert.Equal(t, domain.TaskStatusFailed, tasks[1].Status)
	assert.Contains(t, tasks[1].ErrorMessage, "content policy")

	require.Len(t, h.notifier.payloads, 1)
	p := h.notifier.payloads[0]
	assert.Equal(t, "https://hooks.example/b", h.notifier.urls[0])
	assert.Equal(t, domain.BatchStatusCompleted, p.Status)
	assert.Equal(t, int64(20), p.CreditsSpent)
	assert.Len(t, p.Tasks, 3)
}

func TestProcessAllFailedSpendsNothing(t *testing.T) {
	h := newHarness()
	h.store.add(domain.BatchJob{ID: "b2", UserID: "u1", CostPerVideo: 50}, "fail one", "fail two")

	require.NoError(t, h.proc.Process(context.Background(), h.claim(t, "b2")))

	assert.Equal(t, settleCall{domain.BatchStatusFailed, 0, domain.SettlementSettled}, h.store.settled["b2"])
	assert.Equal(t, int64(0), h.ledger.calls[0].spent)
	assert.Empty(t, h.notifier.payloads, "no webhook without a url")
}

func TestProcessSkipsTerminalTasks(t *testing.T) {
	h := newHarness()
	h.store.add(domain.BatchJob{ID: "b3", UserID: "u1", CostPerVideo: 10}, "already done", "still pending")
	h.store.tasks["b3"][0].Status = domain.TaskStatusSucceeded
	h.store.batches["b3"].SuccessCount = 1

	require.NoError(t, h.proc.Process(context.Background(), h.claim(t, "b3")))

	assert.Equal(t, []string{"still pending"}, h.gen.calls)
	assert.Equal(t, int64(20), h.store.settled["b3"].spent)
}

func TestProcessMarksSettlementFailedWhenFinalizeFails(t *testing.T) {
	h := newHarness()
	h.ledger.err = errors.New("rpc timeout")
	h.store.add(domain.BatchJob{ID: "b4", UserID: "u1", CostPerVideo: 10}, "a valid prompt")

	require.NoError(t, h.proc.Process(context.Background(), h.claim(t, "b4")))

	assert.Equal(t, settleCall{domain.BatchStatusCompleted, 10, domain.SettlementFailed}, h.store.settled["b4"])
	assert.Equal(t, 1, h.obs.settled["failed"])
}

func TestProcessLeavesBatchOnCancel(t *testing.T) {
	h := newHarness()
	h.store.add(domain.BatchJob{ID: "b5", UserID: "u1", CostPerVideo: 10}, "block forever", "a valid prompt")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := h.proc.Process(ctx, h.claim(t, "b5"))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, h.store.settled, "b5")
	assert.Empty(t, h.ledger.calls)
	assert.Equal(t, domain.BatchStatusProcessing, h.store.batches["b5"].Status)
}

func TestProcessStoreErrorAbortsBeforeSettling(t *testing.T) {
	h := newHarness()
	h.store.add(domain.BatchJob{ID: "b6", UserID: "u1", CostPerVideo: 10}, "a valid prompt")
	h.store.listErr = errors.New("db down")

	err := h.proc.Process(context.Background(), h.claim(t, "b6"))
	assert.ErrorContains(t, err, "db down")
	assert.Empty(t, h.ledger.calls)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))

	reason := strings.Repeat("a", 499) + "生成失败：内容违规"
	got := truncate(reason, 500)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 499), got)

	got = truncate("生成失败", 4)
	assert.Equal(t, "生", got)
}

func TestProcessStoresMultibyteFailureOnRuneBoundary(t *testing.T) {
	h := newHarness()
	h.store.add(domain.BatchJob{ID: "b7", UserID: "u1", CostPerVideo: 10}, "fail "+strings.Repeat("长", 300))
	h.gen.failWith = strings.Repeat("a", 499) + "生成失败：内容违规"

	require.NoError(t, h.proc.Process(context.Background(), h.claim(t, "b7")))

	msg := h.store.tasks["b7"][0].ErrorMessage
	assert.True(t, utf8.ValidString(msg))
	assert.LessOrEqual(t, len(msg), maxErrorMessage)
	assert.Equal(t, domain.BatchStatusFailed, h.store.settled["b7"].status)
}
