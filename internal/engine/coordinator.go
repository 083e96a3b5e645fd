package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nightsync/nightsync/internal/nightscout"
)

// staleness is how long a run may hold the single-flight slot. A trigger
// arriving after this deadline starts a fresh run even if the previous
// one never cleared the flag, so a crashed or wedged run cannot block
// syncing forever.
const staleness = time.Minute

// Config carries the sync-behavior knobs the coordinator needs. The CLI
// builds it from the loaded configuration file.
type Config struct {
	// DeviceName is sent as the entry device and treatment enteredBy.
	DeviceName string
	// Master gates the upload paths. A follower device still runs the
	// two-way treatment sync but uploads nothing of its own.
	Master bool
	// UploadSensorStart enables the once-per-sensor start event upload.
	UploadSensorStart bool

	WindowDays           int
	MinReadingSpacing    time.Duration
	MaxReadingsPerUpload int
	MaxTreatmentsPerSync int

	// ScheduleActive reports whether syncing is allowed at t. Nil means
	// always allowed.
	ScheduleActive func(t time.Time) bool
}

// Coordinator owns the sync lifecycle. All triggers funnel through
// RequestSync, which coalesces overlapping requests into at most one
// active run plus one pending rerun.
type Coordinator struct {
	store    Store
	gateway  Gateway
	cfg      Config
	notifier Notifier
	logger   *slog.Logger

	mu             sync.Mutex
	runStartedAt   time.Time // zero when idle
	rerunRequested bool
	wg             sync.WaitGroup

	nowFunc func() time.Time
}

// NewCoordinator wires the coordinator. notifier may be nil.
func NewCoordinator(store Store, gateway Gateway, cfg Config, notifier Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	if notifier == nil {
		notifier = NotifierFunc(func(string, string) {})
	}

	return &Coordinator{
		store:    store,
		gateway:  gateway,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// RequestSync asks for a sync pass. If a run is already active and fresh,
// the request is recorded as a rerun and the active run repeats once it
// finishes, so data produced mid-run is never missed. Returns immediately;
// the run proceeds on its own goroutine.
func (c *Coordinator) RequestSync(ctx context.Context) {
	now := c.nowFunc()

	if c.cfg.ScheduleActive != nil && !c.cfg.ScheduleActive(now) {
		c.logger.Debug("sync request outside schedule window, ignored")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.runStartedAt.IsZero() && now.Sub(c.runStartedAt) < staleness {
		c.rerunRequested = true
		c.logger.Debug("sync already active, rerun scheduled")

		return
	}

	c.runStartedAt = now
	c.rerunRequested = false

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, now)
	}()
}

// Wait blocks until the active run (and any rerun it triggers) finishes.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// run executes sync passes until no rerun is pending, then releases the
// single-flight slot. claimed is the timestamp this run registered in
// runStartedAt; if a stale run was superseded by a newer one, the slot no
// longer belongs to it and must be left untouched.
func (c *Coordinator) run(ctx context.Context, claimed time.Time) {
	for {
		c.SyncOnce(ctx)

		c.mu.Lock()
		if !c.runStartedAt.Equal(claimed) {
			c.mu.Unlock()

			c.logger.Debug("sync run superseded while in flight, exiting")

			return
		}

		if c.rerunRequested && ctx.Err() == nil {
			c.rerunRequested = false
			claimed = c.nowFunc()
			c.runStartedAt = claimed
			c.mu.Unlock()

			c.logger.Debug("rerun requested during sync, running again")

			continue
		}

		c.runStartedAt = time.Time{}
		c.mu.Unlock()

		return
	}
}

// SyncOnce performs one full sync pass: the upload paths (readings,
// calibrations, device status) run concurrently when this device is the
// master, then the two-way treatment sync runs. Returns the treatment
// sync outcome; upload failures are logged but do not abort the pass.
func (c *Coordinator) SyncOnce(ctx context.Context) Outcome {
	start := c.nowFunc()
	c.logger.Info("sync pass starting", "master", c.cfg.Master)

	if c.cfg.Master {
		// A plain group, not WithContext: a failure in one upload path
		// stays local to its batch and must not cancel its siblings'
		// in-flight requests.
		var g errgroup.Group

		var readingsErr, calibrationsErr, statusErr error

		g.Go(func() error { readingsErr = c.uploadReadings(ctx); return readingsErr })
		g.Go(func() error { calibrationsErr = c.uploadCalibrations(ctx); return calibrationsErr })
		g.Go(func() error { statusErr = c.uploadStatus(ctx); return statusErr })

		_ = g.Wait()

		for _, err := range []error{readingsErr, calibrationsErr, statusErr} {
			if err != nil {
				c.reportAuthFailure(err)
				c.logger.Error("upload path failed", "error", err)
			}
		}
	}

	outcome := c.syncTreatments(ctx)
	if !outcome.OK {
		c.logger.Warn("treatment sync did not complete cleanly")
	}

	c.logger.Info("sync pass finished",
		"duration", c.nowFunc().Sub(start).Round(time.Millisecond),
		"ok", outcome.OK,
		"local_changes", outcome.LocalChanges)

	return outcome
}

// reportAuthFailure surfaces credential problems to the notifier. Other
// failures stay in the log; they resolve themselves on the next pass.
func (c *Coordinator) reportAuthFailure(err error) {
	if errors.Is(err, nightscout.ErrUnauthorized) || errors.Is(err, nightscout.ErrForbidden) {
		c.notifier.Notify("Nightscout upload rejected",
			"The server refused the configured credentials. Check the API secret or token.")
	}
}
