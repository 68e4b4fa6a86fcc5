package moderation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/adgallery/internal/clientinfo"
	"github.com/patrickwarner/adgallery/internal/events"
	"github.com/patrickwarner/adgallery/internal/models"
	"github.com/patrickwarner/adgallery/internal/observability"
	"github.com/patrickwarner/adgallery/internal/publication"
	"github.com/patrickwarner/adgallery/internal/ratelimit"
)

var (
	reporter = models.Caller{UserID: "reporter"}
	owner    = models.Caller{UserID: "owner"}
	admin    = models.Caller{UserID: "admin", IsAdmin: true}
	admin2   = models.Caller{UserID: "admin2", IsAdmin: true}
)

type fixture struct {
	store       *models.MemoryStore
	coordinator *publication.Coordinator
	workflow    *Workflow
	metrics     *observability.MockMetricsRegistry
	recorder    *events.Recorder
}

func newFixture(limiter *ratelimit.KeyedLimiter) *fixture {
	store := models.NewTestStore(1)
	metrics := observability.NewMockMetricsRegistry()
	rec := &events.Recorder{}
	coordinator := publication.NewCoordinator(store, store, rec, metrics, zap.NewNop())
	return &fixture{
		store:       store,
		coordinator: coordinator,
		workflow:    NewWorkflow(store, store, coordinator, limiter, rec, metrics, zap.NewNop()),
		metrics:     metrics,
		recorder:    rec,
	}
}

func (f *fixture) report(t *testing.T, adID string) string {
	t.Helper()
	id, err := f.workflow.FileReport(context.Background(), ReportInput{
		AdID: adID, Reporter: reporter, Reason: "spam", Detail: "looks like a scam",
		Client: clientinfo.Info{IPAddress: "203.0.113.7", DeviceType: "mobile", Country: "JP"},
	})
	require.NoError(t, err)
	return id
}

func TestApprovedReportHidesAndLocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)

	reportID := f.report(t, "a1")
	r, err := f.workflow.GetReport(ctx, admin, reportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, r.Status)
	assert.Equal(t, "JP", r.Country)

	resolved, err := f.workflow.Resolve(ctx, reportID, admin, models.ReportApproved, "confirmed scam")
	require.NoError(t, err)
	assert.Equal(t, models.ReportApproved, resolved.Status)
	assert.Equal(t, "admin", resolved.ReviewerID)
	assert.NotNil(t, resolved.ResolvedAt)

	ad, err := f.store.GetAd(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StateHidden, ad.State)
	assert.True(t, ad.ModerationLocked)

	_, err = f.coordinator.OwnerToggle(ctx, "a1", owner, true)
	assert.True(t, errors.Is(err, models.ErrModerationLocked))

	ad, err = f.store.GetAd(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StateHidden, ad.State)

	assert.Equal(t, 1, f.recorder.Count(events.ReportFiled))
	assert.Equal(t, 1, f.recorder.Count(events.ReportResolved))
	assert.Equal(t, 1, f.recorder.Count(events.AdModerated))
}

func TestRejectedReportLeavesAdAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)

	reportID := f.report(t, "a1")
	_, err := f.workflow.Resolve(ctx, reportID, admin, models.ReportRejected, "")
	require.NoError(t, err)

	ad, err := f.store.GetAd(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, ad.State)
	assert.False(t, ad.ModerationLocked)
	assert.Equal(t, 1, f.metrics.Count("resolutions", "rejected"))
}

func TestResolveTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)
	reportID := f.report(t, "a1")

	_, err := f.workflow.Resolve(ctx, reportID, admin, models.ReportRejected, "fine")
	require.NoError(t, err)

	_, err = f.workflow.Resolve(ctx, reportID, admin2, models.ReportApproved, "no, hide it")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrReportResolved))
	assert.Equal(t, models.KindConflict, models.KindOf(err))

	r, err := f.store.GetReport(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportRejected, r.Status)
	assert.Equal(t, "admin", r.ReviewerID)

	ad, err := f.store.GetAd(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePublished, ad.State)
}

func TestConcurrentResolveRecordsOneDecision(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)
	reportID := f.report(t, "a1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, c := range []models.Caller{admin, admin2} {
		wg.Add(1)
		go func(c models.Caller) {
			defer wg.Done()
			_, err := f.workflow.Resolve(ctx, reportID, c, models.ReportRejected, "")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, models.ErrReportResolved))
		}(c)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestResolveRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)
	reportID := f.report(t, "a1")

	_, err := f.workflow.Resolve(ctx, reportID, owner, models.ReportApproved, "")
	assert.True(t, errors.Is(err, models.ErrAdminRequired))
	assert.Equal(t, models.KindAuthorization, models.KindOf(err))

	_, err = f.workflow.ListReports(ctx, reporter, models.ReportPending, 10)
	assert.True(t, errors.Is(err, models.ErrAdminRequired))

	_, err = f.workflow.Resolve(ctx, reportID, admin, models.ReportPending, "")
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = f.workflow.Resolve(ctx, "missing", admin, models.ReportApproved, "")
	assert.True(t, errors.Is(err, models.ErrNotFound))

	r, err := f.store.GetReport(ctx, reportID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportPending, r.Status)
}

func TestApproveReportForDeletedAd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)
	reportID := f.report(t, "a1")
	require.NoError(t, f.store.DeleteAd(ctx, "a1"))

	r, err := f.workflow.Resolve(ctx, reportID, admin, models.ReportApproved, "already gone")
	require.NoError(t, err)
	assert.Equal(t, models.ReportApproved, r.Status)
}

func TestFileReportValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePendingReview)

	_, err := f.workflow.FileReport(ctx, ReportInput{AdID: "a1", Reporter: reporter, Reason: "boring"})
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = f.workflow.FileReport(ctx, ReportInput{AdID: "a1", Reporter: reporter, Reason: "other", Detail: strings.Repeat("x", 1001)})
	assert.Equal(t, models.KindValidation, models.KindOf(err))

	_, err = f.workflow.FileReport(ctx, ReportInput{AdID: "missing", Reporter: reporter, Reason: "spam"})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	_, err = f.workflow.FileReport(ctx, ReportInput{AdID: "a1", Reason: "spam"})
	assert.True(t, errors.Is(err, models.ErrUnauthorized))

	// 1000 multibyte characters are within the limit
	id, err := f.workflow.FileReport(ctx, ReportInput{AdID: "a1", Reporter: reporter, Reason: "other", Detail: strings.Repeat("あ", 1000)})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// duplicates are allowed and reports against unpublished ads are fine
	f.report(t, "a1")
	f.report(t, "a1")
	pending, err := f.workflow.ListReports(ctx, admin, models.ReportPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestFileReportRateLimited(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimit.NewKeyedLimiter(ratelimit.Config{Capacity: 2, RefillRate: 0, Enabled: true})
	f := newFixture(limiter)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)

	f.report(t, "a1")
	f.report(t, "a1")
	_, err := f.workflow.FileReport(ctx, ReportInput{AdID: "a1", Reporter: reporter, Reason: "spam"})
	assert.True(t, errors.Is(err, models.ErrReportRateLimit))
	assert.Equal(t, models.KindRateLimited, models.KindOf(err))
	assert.Equal(t, 1, f.metrics.Count("report_ratelimit"))

	// other reporters are unaffected
	_, err = f.workflow.FileReport(ctx, ReportInput{AdID: "a1", Reporter: models.Caller{UserID: "other"}, Reason: "spam"})
	assert.NoError(t, err)
}

// interleavedHider runs hooks around the first hide so a competing
// resolution can land between the hide and the recorded decision.
type interleavedHider struct {
	*publication.Coordinator
	before, after func()
}

func (h *interleavedHider) ModerationHide(ctx context.Context, adID, reviewerID string) (models.Ad, models.AdState, error) {
	if f := h.before; f != nil {
		h.before = nil
		f()
	}
	ad, prev, err := h.Coordinator.ModerationHide(ctx, adID, reviewerID)
	if f := h.after; f != nil {
		h.after = nil
		f()
	}
	return ad, prev, err
}

func (f *fixture) interleave(h *interleavedHider) *Workflow {
	return NewWorkflow(f.store, f.store, h, nil, f.recorder, f.metrics, zap.NewNop())
}

func TestApproveLosingToRejectRestoresAd(t *testing.T) {
	for _, tc := range []struct {
		name        string
		rejectFirst bool
	}{
		{"reject lands before the hide", true},
		{"reject lands after the hide", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(nil)
			models.SeedAd(f.store, "a1", "owner", models.StatePublished)
			reportID := f.report(t, "a1")

			reject := func() {
				_, err := f.workflow.Resolve(ctx, reportID, admin2, models.ReportRejected, "fine")
				require.NoError(t, err)
			}
			h := &interleavedHider{Coordinator: f.coordinator}
			if tc.rejectFirst {
				h.before = reject
			} else {
				h.after = reject
			}

			r, err := f.interleave(h).Resolve(ctx, reportID, admin, models.ReportApproved, "scam")
			assert.True(t, errors.Is(err, models.ErrReportResolved))
			assert.Equal(t, models.ReportRejected, r.Status)

			stored, err := f.store.GetReport(ctx, reportID)
			require.NoError(t, err)
			assert.Equal(t, models.ReportRejected, stored.Status)

			ad, err := f.store.GetAd(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, models.StatePublished, ad.State)
			assert.False(t, ad.ModerationLocked)
		})
	}
}

func TestApproveLosingKeepsHideCoveredByAnotherApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(nil)
	models.SeedAd(f.store, "a1", "owner", models.StatePublished)
	first := f.report(t, "a1")
	second := f.report(t, "a1")

	h := &interleavedHider{Coordinator: f.coordinator}
	w := f.interleave(h)
	h.after = func() {
		_, err := w.Resolve(ctx, second, admin2, models.ReportApproved, "same scam")
		require.NoError(t, err)
		_, err = w.Resolve(ctx, first, admin2, models.ReportRejected, "")
		require.NoError(t, err)
	}

	_, err := w.Resolve(ctx, first, admin, models.ReportApproved, "scam")
	assert.True(t, errors.Is(err, models.ErrReportResolved))

	ad, err := f.store.GetAd(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StateHidden, ad.State)
	assert.True(t, ad.ModerationLocked)
}

func TestConcurrentApproveAndRejectAgreeWithAd(t *testing.T) {
	for i := 0; i < 20; i++ {
		ctx := context.Background()
		f := newFixture(nil)
		models.SeedAd(f.store, "a1", "owner", models.StatePublished)
		reportID := f.report(t, "a1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.workflow.Resolve(ctx, reportID, admin, models.ReportApproved, "")
		}()
		go func() {
			defer wg.Done()
			_, _ = f.workflow.Resolve(ctx, reportID, admin2, models.ReportRejected, "")
		}()
		wg.Wait()

		r, err := f.store.GetReport(ctx, reportID)
		require.NoError(t, err)
		ad, err := f.store.GetAd(ctx, "a1")
		require.NoError(t, err)
		if r.Status == models.ReportApproved {
			assert.Equal(t, models.StateHidden, ad.State)
			assert.True(t, ad.ModerationLocked)
		} else {
			assert.Equal(t, models.ReportRejected, r.Status)
			assert.Equal(t, models.StatePublished, ad.State)
			assert.False(t, ad.ModerationLocked)
		}
	}
}
