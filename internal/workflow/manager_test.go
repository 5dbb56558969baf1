package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podindex/internal/config"
	"podindex/internal/indexing"
	"podindex/internal/logging"
	"podindex/internal/queue"
	"podindex/internal/reconcile"
	"podindex/internal/resourcecache"
	"podindex/internal/stage"
	"podindex/internal/testsupport"
	"podindex/internal/workflow"
)

type fakeHandler struct {
	stage queue.Stage
	calls atomic.Int32
	fn    func(context.Context, *queue.Episode) (queue.Result, error)
}

func (f *fakeHandler) Stage() queue.Stage { return f.stage }

func (f *fakeHandler) Execute(ctx context.Context, ep *queue.Episode) (queue.Result, error) {
	f.calls.Add(1)
	return f.fn(ctx, ep)
}

func (f *fakeHandler) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(string(f.stage))
}

type pipeline struct {
	cfg       *config.Config
	store     *queue.Store
	docs      *testsupport.FakeDocStore
	cache     *resourcecache.Cache
	stages    workflow.StageSet
	download  *fakeHandler
	transcode *fakeHandler
	metadata  *fakeHandler
}

func newPipeline(t *testing.T, opts ...testsupport.ConfigOption) *pipeline {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	require.NoError(t, os.MkdirAll(cfg.Paths.AudioDir, 0o755))
	p := &pipeline{
		cfg:   cfg,
		store: testsupport.MustOpenStore(t, cfg),
		docs:  testsupport.NewFakeDocStore(),
		cache: resourcecache.New(resourcecache.Options{Path: cfg.Cache.Path}),
	}
	p.download = &fakeHandler{stage: queue.StageDownload, fn: func(_ context.Context, ep *queue.Episode) (queue.Result, error) {
		path := filepath.Join(cfg.Paths.AudioDir, ep.GUID+".mp3")
		testsupport.WriteFile(t, path, 64)
		return queue.DownloadResult{LocalFilePath: path, FileSize: 64, FileHash: "abc"}, nil
	}}
	p.transcode = &fakeHandler{stage: queue.StageTranscript, fn: func(_ context.Context, ep *queue.Episode) (queue.Result, error) {
		return queue.TranscriptResult{
			Text: "transcript of " + ep.Title,
			Path: filepath.Join(cfg.Paths.TranscriptDir, ep.GUID+"_transcription.txt"),
		}, nil
	}}
	p.metadata = &fakeHandler{stage: queue.StageMetadata, fn: func(context.Context, *queue.Episode) (queue.Result, error) {
		return queue.MetadataResult{Summary: "A talk.", Keywords: []string{"go"}, Hosts: []string{"Ann"}}, nil
	}}
	p.stages = workflow.StageSet{
		Download:   p.download,
		Transcript: p.transcode,
		Metadata:   p.metadata,
		Indexing:   indexing.NewHandler(p.docs, p.cache, cfg.DocumentStore.StoreName, logging.NewNop()),
	}
	return p
}

func (p *pipeline) manager(opts ...workflow.Option) *workflow.Manager {
	opts = append([]workflow.Option{
		workflow.WithReconciler(reconcile.New(p.docs, p.cache, p.cfg.DocumentStore.StoreName, logging.NewNop())),
	}, opts...)
	return workflow.NewManager(p.cfg, p.store, p.stages, logging.NewNop(), opts...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []string
	passes   [][2]int
}

func (r *recordingNotifier) NotifyPermanentFailure(_ context.Context, title, stage, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, title+"@"+stage)
	return nil
}

func (r *recordingNotifier) NotifyPassCompleted(_ context.Context, completed, failed int, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, [2]int{completed, failed})
	return nil
}

func (r *recordingNotifier) NotifyError(context.Context, error, string) error { return nil }

func (r *recordingNotifier) TestNotification(context.Context) error { return errors.New("unused") }

func (p *pipeline) episode(t *testing.T, id int64) *queue.Episode {
	t.Helper()
	ep, err := p.store.GetEpisode(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, ep)
	return ep
}

func TestRunOnceProcessesEpisodeEndToEnd(t *testing.T) {
	p := newPipeline(t)
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))

	summary, err := p.manager().RunOnce(context.Background())
	require.NoError(t, err)

	ep := p.episode(t, seeded.ID)
	for _, st := range queue.Stages {
		assert.Equal(t, queue.StatusCompleted, ep.State(st).Status, "stage %s", st)
		assert.Equal(t, 1, summary.Stages[st].Completed, "stage %s", st)
	}
	assert.Equal(t, "transcript of Episode g1", ep.TranscriptText)
	assert.Equal(t, []string{"go"}, ep.Keywords)
	assert.Equal(t, "g1_transcription.txt", ep.DisplayName)
	assert.NotEmpty(t, ep.ResourceName)
	assert.Equal(t, 1, p.docs.UploadCalls)

	require.NotNil(t, ep.AudioRemovedAt)
	assert.NoFileExists(t, ep.LocalFilePath)
	assert.Equal(t, 1, summary.CleanedUp)
	require.NotNil(t, summary.Reconcile)
	assert.False(t, p.cache.IsStale())

	again, err := p.manager().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Stages[queue.StageDownload].Claimed)
	assert.Equal(t, 1, p.docs.UploadCalls)
}

func TestRunOnceRetriesTransientFailuresUntilBudgetExhausted(t *testing.T) {
	p := newPipeline(t, testsupport.WithMaxRetries(3))
	p.download.fn = func(context.Context, *queue.Episode) (queue.Result, error) {
		return nil, stage.Transient(queue.StageDownload, "fetch", "connection reset", errors.New("reset"))
	}
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())
	mgr := p.manager()

	for pass, want := range []int{1, 2} {
		summary, err := mgr.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Stages[queue.StageDownload].Retried, "pass %d", pass)
		state := p.episode(t, seeded.ID).Download
		assert.Equal(t, queue.StatusPending, state.Status)
		assert.Equal(t, want, state.RetryCount)
		assert.Empty(t, state.Error)
	}

	summary, err := mgr.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stages[queue.StageDownload].PermanentlyFailed)
	state := p.episode(t, seeded.ID).Download
	assert.Equal(t, queue.StatusPermanentlyFailed, state.Status)
	assert.Equal(t, 2, state.RetryCount)
	assert.Contains(t, state.Error, "connection reset")
	assert.EqualValues(t, 3, p.download.calls.Load())
	assert.Zero(t, p.transcode.calls.Load())
}

func TestRunOncePermanentFailureSkipsRetries(t *testing.T) {
	p := newPipeline(t)
	p.download.fn = func(context.Context, *queue.Episode) (queue.Result, error) {
		return nil, stage.Permanent(queue.StageDownload, "fetch", "enclosure gone", nil)
	}
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())

	_, err := p.manager().RunOnce(context.Background())
	require.NoError(t, err)

	state := p.episode(t, seeded.ID).Download
	assert.Equal(t, queue.StatusPermanentlyFailed, state.Status)
	assert.Zero(t, state.RetryCount)
	assert.EqualValues(t, 1, p.download.calls.Load())
}

func TestRunOnceNotifiesPermanentFailuresAndPassSummary(t *testing.T) {
	p := newPipeline(t, testsupport.WithIndexingDisabled())
	p.download.fn = func(context.Context, *queue.Episode) (queue.Result, error) {
		return nil, stage.Permanent(queue.StageDownload, "fetch", "enclosure gone", nil)
	}
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())
	notifier := &recordingNotifier{}

	m := p.manager(workflow.WithNotifier(notifier))
	_, err := m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Episode g1@download"}, notifier.failures)
	assert.Equal(t, [][2]int{{0, 1}}, notifier.passes)

	_, err = m.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, notifier.passes, 1, "idle passes are not announced")
}

func TestRunOnceRecoversHandlerPanic(t *testing.T) {
	p := newPipeline(t)
	p.metadata.fn = func(context.Context, *queue.Episode) (queue.Result, error) {
		panic("boom")
	}
	p.cfg.Workflow.MaxRetries = 1
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())

	summary, err := p.manager().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stages[queue.StageMetadata].PermanentlyFailed)
	state := p.episode(t, seeded.ID).Metadata
	assert.Equal(t, queue.StatusPermanentlyFailed, state.Status)
	assert.Contains(t, state.Error, "handler panic: boom")
}

func TestRunOnceUsesCachedHandleWithoutUpload(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, p.cache.Put("g1_transcription.txt", resourcecache.Entry{ResourceHandle: "fileSearchStores/podcasts/documents/existing"}))
	require.NoError(t, p.cache.Persist())
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())

	summary, err := p.manager().RunOnce(context.Background())
	require.NoError(t, err)

	ep := p.episode(t, seeded.ID)
	assert.Equal(t, queue.StatusCompleted, ep.Indexing.Status)
	assert.Equal(t, "fileSearchStores/podcasts/documents/existing", ep.ResourceName)
	assert.Zero(t, p.docs.UploadCalls)
	assert.Zero(t, p.docs.ListCalls)
	assert.Nil(t, summary.Reconcile)
}

func TestRunOnceWithIndexingDisabledStopsAfterMetadata(t *testing.T) {
	p := newPipeline(t, testsupport.WithIndexingDisabled())
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())
	mgr := p.manager()
	assert.Equal(t, []queue.Stage{queue.StageDownload, queue.StageTranscript, queue.StageMetadata}, mgr.Stages())

	summary, err := mgr.RunOnce(context.Background())
	require.NoError(t, err)

	ep := p.episode(t, seeded.ID)
	assert.Equal(t, queue.StatusCompleted, ep.Metadata.Status)
	assert.Equal(t, queue.StatusPending, ep.Indexing.Status)
	assert.Nil(t, ep.AudioRemovedAt)
	assert.FileExists(t, ep.LocalFilePath)
	assert.Zero(t, summary.CleanedUp)
	assert.Zero(t, p.docs.UploadCalls)
}

func TestRunOnceDiscardsResultWhenLeaseLost(t *testing.T) {
	p := newPipeline(t)
	p.download.fn = func(ctx context.Context, ep *queue.Episode) (queue.Result, error) {
		if _, err := p.store.ReclaimExpiredLeases(ctx, time.Now().Add(time.Hour)); err != nil {
			return nil, err
		}
		return queue.DownloadResult{LocalFilePath: "/tmp/never.mp3"}, nil
	}
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())

	summary, err := p.manager().RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stages[queue.StageDownload].LeaseLost)
	assert.EqualValues(t, 1, p.download.calls.Load())

	ep := p.episode(t, seeded.ID)
	assert.Equal(t, queue.StatusPending, ep.Download.Status)
	assert.Empty(t, ep.LocalFilePath)
	assert.Zero(t, ep.Download.RetryCount)
}

func TestRunOnceReclaimsExpiredLeases(t *testing.T) {
	p := newPipeline(t)
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())
	_, ok, err := p.store.Claim(context.Background(), seeded.ID, queue.StageDownload, -time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := p.manager().RunOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.Reclaimed)
	assert.Equal(t, queue.StatusCompleted, p.episode(t, seeded.ID).Indexing.Status)
}

func TestCleanupToleratesMissingFile(t *testing.T) {
	p := newPipeline(t)
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())
	testsupport.Advance(t, p.store, seeded.ID, queue.DownloadResult{LocalFilePath: filepath.Join(p.cfg.Paths.AudioDir, "gone.mp3")})
	testsupport.Advance(t, p.store, seeded.ID, queue.TranscriptResult{Text: "t"})
	testsupport.Advance(t, p.store, seeded.ID, queue.MetadataResult{Summary: "s", Keywords: []string{"k"}})
	testsupport.Advance(t, p.store, seeded.ID, queue.IndexingResult{ResourceName: "r", DisplayName: "d"})

	cleaned, err := p.manager().Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	assert.NotNil(t, p.episode(t, seeded.ID).AudioRemovedAt)
}

func TestStartProcessesInBackgroundUntilStopped(t *testing.T) {
	p := newPipeline(t)
	p.cfg.Workflow.PollInterval = 1
	podcast := testsupport.SeedPodcast(t, p.store, "Show")
	seeded := testsupport.SeedEpisode(t, p.store, podcast, "g1", time.Now())

	mgr := p.manager()
	require.NoError(t, mgr.Start(context.Background()))
	require.Error(t, mgr.Start(context.Background()))
	assert.True(t, mgr.Running())

	require.Eventually(t, func() bool {
		ep, err := p.store.GetEpisode(context.Background(), seeded.ID)
		return err == nil && ep != nil && ep.Indexing.Status == queue.StatusCompleted
	}, 15*time.Second, 50*time.Millisecond)

	mgr.Stop()
	assert.False(t, mgr.Running())
	assert.NoError(t, mgr.LastError())
	assert.Equal(t, 1, p.docs.UploadCalls)
	assert.False(t, p.cache.IsStale())
}

func TestHealthCheckCoversActiveStages(t *testing.T) {
	p := newPipeline(t, testsupport.WithIndexingDisabled())
	health := p.manager().HealthCheck(context.Background())
	require.Len(t, health, 3)
	for _, h := range health {
		assert.True(t, h.Ready, h.Name)
	}
}
