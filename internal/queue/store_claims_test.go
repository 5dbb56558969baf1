package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"podindex/internal/queue"
	"podindex/internal/testsupport"
)

func newStore(t *testing.T) *queue.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	return testsupport.MustOpenStore(t, cfg)
}

func TestClaimCompleteLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	podcast := testsupport.SeedPodcast(t, store, "show")
	ep := testsupport.SeedEpisode(t, store, podcast, "g1", time.Now())

	lease, ok, err := store.Claim(ctx, ep.ID, queue.StageDownload, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Claim failed: ok=%v err=%v", ok, err)
	}
	got, err := store.GetEpisode(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEpisode failed: %v", err)
	}
	if got.Download.Status != queue.StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Download.Status)
	}
	if got.Download.LeaseOwner != lease.Owner || got.Download.LeaseExpiresAt == nil {
		t.Fatalf("lease not recorded: %+v", got.Download)
	}

	if err := store.Complete(ctx, lease, queue.DownloadResult{LocalFilePath: "/tmp/a.mp3", FileSize: 42, FileHash: "abc"}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	got, _ = store.GetEpisode(ctx, ep.ID)
	if got.Download.Status != queue.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Download.Status)
	}
	if got.Download.LeaseOwner != "" || got.Download.Error != "" || got.Download.CompletedAt == nil {
		t.Fatalf("unexpected stage state after complete: %+v", got.Download)
	}
	if got.LocalFilePath != "/tmp/a.mp3" || got.FileSize != 42 || got.FileHash != "abc" {
		t.Fatalf("result fields not persisted: %+v", got)
	}

	// a second Complete with the spent lease is rejected
	if err := store.Complete(ctx, lease, queue.DownloadResult{}); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("expected ErrLeaseLost, got %v", err)
	}
}

func TestClaimRequiresPreviousStage(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	podcast := testsupport.SeedPodcast(t, store, "show")
	ep := testsupport.SeedEpisode(t, store, podcast, "g1", time.Now())

	for _, stage := range []queue.Stage{queue.StageTranscript, queue.StageMetadata, queue.StageIndexing} {
		_, ok, err := store.Claim(ctx, ep.ID, stage, time.Minute)
		if err != nil {
			t.Fatalf("Claim(%s) failed: %v", stage, err)
		}
		if ok {
			t.Fatalf("Claim(%s) succeeded before download completed", stage)
		}
	}
}

func TestClaimIsAtMostOnce(t *testing.T) {
	store := newStore(t)
	podcast := testsupport.SeedPodcast(t, store, "show")
	ep := testsupport.SeedEpisode(t, store, podcast, "g1", time.Now())

	const workers = 16
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		errs  []error
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := store.Claim(context.Background(), ep.ID, queue.StageDownload, time.Minute)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				wins++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("claims returned errors: %v", errs)
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", wins)
	}
}

func TestFailRetryAndPermanentFailure(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	podcast := testsupport.SeedPodcast(t, store, "show")
	ep := testsupport.SeedEpisode(t, store, podcast, "g1", time.Now())
	const maxRetries = 3

	// Each transient failure charges one retry; once the budget is spent the
	// stage is permanently failed and no stage selects the episode again.
	for attempt := 0; ; attempt++ {
		lease, ok, err := store.Claim(ctx, ep.ID, queue.StageDownload, time.Minute)
		if err != nil || !ok {
			t.Fatalf("attempt %d: Claim ok=%v err=%v", attempt, ok, err)
		}
		if err := store.Fail(ctx, lease, "timeout"); err != nil {
			t.Fatalf("Fail failed: %v", err)
		}
		got, _ := store.GetEpisode(ctx, ep.ID)
		if got.Download.Status != queue.StatusFailed || got.Download.Error != "timeout" {
			t.Fatalf("unexpected state after Fail: %+v", got.Download)
		}
		if got.Download.RetryCount+1 < maxRetries {
			if err := store.Retry(ctx, ep.ID, queue.StageDownload); err != nil {
				t.Fatalf("Retry failed: %v", err)
			}
			continue
		}
		if err := store.PermanentlyFail(ctx, ep.ID, queue.StageDownload, "retries exhausted"); err != nil {
			t.Fatalf("PermanentlyFail failed: %v", err)
		}
		break
	}

	got, _ := store.GetEpisode(ctx, ep.ID)
	if got.Download.Status != queue.StatusPermanentlyFailed {
		t.Fatalf("expected permanently_failed, got %s", got.Download.Status)
	}
	if got.Download.RetryCount != 2 {
		t.Fatalf("expected retry_count 2, got %d", got.Download.RetryCount)
	}
	for _, stage := range queue.Stages {
		pending, err := store.SelectPending(ctx, stage, 10)
		if err != nil {
			t.Fatalf("SelectPending(%s) failed: %v", stage, err)
		}
		if len(pending) != 0 {
			t.Fatalf("SelectPending(%s) returned permanently failed episode", stage)
		}
	}
}

func TestTransitionsRejectWrongState(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	podcast := testsupport.SeedPodcast(t, store, "show")
	ep := testsupport.SeedEpisode(t, store, podcast, "g1", time.Now())

	if err := store.Retry(ctx, ep.ID, queue.StageDownload); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("Retry on pending: expected ErrInvalidTransition, got %v", err)
	}
	if err := store.PermanentlyFail(ctx, ep.ID, queue.StageDownload, "x"); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("PermanentlyFail on pending: expected ErrInvalidTransition, got %v", err)
	}
	lease, _, _ := store.Claim(ctx, ep.ID, queue.StageDownload, time.Minute)
	if err := store.Complete(ctx, lease, queue.TranscriptResult{Text: "x"}); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("Complete with mismatched result: expected ErrInvalidTransition, got %v", err)
	}
	if _, _, err := store.Claim(ctx, ep.ID, queue.Stage("bogus"), time.Minute); !errors.Is(err, queue.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	podcast := testsupport.SeedPodcast(t, store, "show")
	stale := testsupport.SeedEpisode(t, store, podcast, "stale", time.Now())
	fresh := testsupport.SeedEpisode(t, store, podcast, "fresh", time.Now())

	staleLease, _, err := store.Claim(ctx, stale.ID, queue.StageDownload, time.Millisecond)
	if err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, _, err := store.Claim(ctx, fresh.ID, queue.StageDownload, time.Hour); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	reclaimed, err := store.ReclaimExpiredLeases(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimExpiredLeases failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed lease, got %d", reclaimed)
	}

	got, _ := store.GetEpisode(ctx, stale.ID)
	if got.Download.Status != queue.StatusPending || got.Download.RetryCount != 0 {
		t.Fatalf("reaped stage should be pending with no retry charge: %+v", got.Download)
	}
	if err := store.Complete(ctx, staleLease, queue.DownloadResult{}); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("stale worker should get ErrLeaseLost, got %v", err)
	}
	if _, err := store.ExtendLease(ctx, staleLease, time.Minute); !errors.Is(err, queue.ErrLeaseLost) {
		t.Fatalf("ExtendLease on reaped lease: expected ErrLeaseLost, got %v", err)
	}

	got, _ = store.GetEpisode(ctx, fresh.ID)
	if got.Download.Status != queue.StatusInProgress {
		t.Fatalf("fresh lease should survive, got %s", got.Download.Status)
	}
}

func TestExtendLeaseAndRelease(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	podcast := testsupport.SeedPodcast(t, store, "show")
	ep := testsupport.SeedEpisode(t, store, podcast, "g1", time.Now())

	lease, _, _ := store.Claim(ctx, ep.ID, queue.StageDownload, time.Second)
	extended, err := store.ExtendLease(ctx, lease, time.Hour)
	if err != nil {
		t.Fatalf("ExtendLease failed: %v", err)
	}
	if !extended.ExpiresAt.After(lease.ExpiresAt) {
		t.Fatalf("expected later expiry, got %v <= %v", extended.ExpiresAt, lease.ExpiresAt)
	}
	if err := store.Release(ctx, extended); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	got, _ := store.GetEpisode(ctx, ep.ID)
	if got.Download.Status != queue.StatusPending || got.Download.RetryCount != 0 {
		t.Fatalf("release should return stage to pending: %+v", got.Download)
	}
}

func TestResetStage(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	podcast := testsupport.SeedPodcast(t, store, "show")
	ep := testsupport.SeedEpisode(t, store, podcast, "g1", time.Now())

	lease, _, _ := store.Claim(ctx, ep.ID, queue.StageDownload, time.Minute)
	_ = store.Fail(ctx, lease, "boom")
	_ = store.Retry(ctx, ep.ID, queue.StageDownload)
	lease, _, _ = store.Claim(ctx, ep.ID, queue.StageDownload, time.Minute)
	_ = store.Fail(ctx, lease, "boom")
	if err := store.PermanentlyFail(ctx, ep.ID, queue.StageDownload, "gone"); err != nil {
		t.Fatalf("PermanentlyFail failed: %v", err)
	}
	if err := store.Retry(ctx, ep.ID, queue.StageDownload); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("pipeline retry of permanently failed stage: expected ErrInvalidTransition, got %v", err)
	}

	if err := store.ResetStage(ctx, ep.ID, queue.StageDownload); err != nil {
		t.Fatalf("ResetStage failed: %v", err)
	}
	got, _ := store.GetEpisode(ctx, ep.ID)
	if got.Download.Status != queue.StatusPending || got.Download.RetryCount != 0 || got.Download.Error != "" {
		t.Fatalf("unexpected state after reset: %+v", got.Download)
	}
	if err := store.ResetStage(ctx, ep.ID, queue.StageDownload); !errors.Is(err, queue.ErrInvalidTransition) {
		t.Fatalf("reset of pending stage: expected ErrInvalidTransition, got %v", err)
	}
}
