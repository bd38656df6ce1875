package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/dedup"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/resilience"
	"github.com/sells-group/leadscout/internal/sink"
	"github.com/sells-group/leadscout/internal/throttle"
)

var (
	// ErrInvalidMission is returned by Submit for malformed requests.
	ErrInvalidMission = eris.New("engine: invalid mission")
	// ErrUnknownMission is returned for ids the engine has never seen.
	ErrUnknownMission = eris.New("engine: unknown mission")
)

// MissionRequest is the Submit input.
type MissionRequest struct {
	Seeds   []model.SeedQuery    `json:"seed_queries"`
	Options model.MissionOptions `json:"options"`
}

// Store is the persistence surface the orchestrator writes through.
// Persistence is write-behind: the tracker stays authoritative and a
// store error is logged, never propagated into the state machine.
type Store interface {
	SaveMission(ctx context.Context, m *model.Mission) error
	SaveWorkItem(ctx context.Context, w *model.WorkItem) error
}

// Deps are the orchestrator's collaborators. Nil fields fall back to
// in-process defaults, which keeps tests and the dry-run CLI path free
// of external services.
type Deps struct {
	Executors []Executor
	Throttle  *throttle.DomainThrottle
	Dedup     dedup.Store
	Sink      sink.Sink
	Store     Store
}

// Orchestrator runs missions: it owns the per-stage queues, worker
// pools, retry scheduling, dedup short-circuiting, and all mission and
// work-item state transitions.
type Orchestrator struct {
	cfg       config.EngineConfig
	executors map[model.Stage]Executor
	throttle  *throttle.DomainThrottle
	dedup     dedup.Store
	sink      sink.Sink
	store     Store

	queues  map[model.Stage]*stageQueue
	tracker *tracker
	retry   resilience.RetryConfig
	now     func() time.Time
}

// New creates an orchestrator. Every registered executor gets its own
// queue and worker pool.
func New(cfg config.EngineConfig, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		executors: make(map[model.Stage]Executor),
		throttle:  deps.Throttle,
		dedup:     deps.Dedup,
		sink:      deps.Sink,
		store:     deps.Store,
		queues:    make(map[model.Stage]*stageQueue),
		tracker:   newTracker(time.Now),
		now:       time.Now,
		retry: resilience.RetryConfig{
			InitialBackoff: time.Duration(cfg.BackoffBaseMillis) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.BackoffMaxMillis) * time.Millisecond,
			Multiplier:     cfg.BackoffMultiplier,
			JitterFraction: cfg.BackoffJitter,
		},
	}

	if o.throttle == nil {
		o.throttle = throttle.New(throttle.Config{})
	}
	if o.dedup == nil {
		o.dedup = dedup.NewMemoryStore()
	}

	for _, stg := range model.AllStages() {
		o.queues[stg] = newStageQueue()
	}
	for _, ex := range deps.Executors {
		o.executors[ex.Stage()] = ex
	}
	return o
}

// Submit validates the request, registers the mission, and enqueues one
// Radar work item per seed query.
func (o *Orchestrator) Submit(ctx context.Context, req MissionRequest) (model.Mission, error) {
	if len(req.Seeds) == 0 {
		return model.Mission{}, eris.Wrap(ErrInvalidMission, "no seed queries")
	}
	if req.Options.MaxLeads < 0 {
		return model.Mission{}, eris.Wrap(ErrInvalidMission, "negative max_leads")
	}
	for _, seed := range req.Seeds {
		if strings.TrimSpace(seed.Query) == "" {
			return model.Mission{}, eris.Wrap(ErrInvalidMission, "seed query is empty")
		}
		if strings.TrimSpace(seed.Region) == "" && strings.TrimSpace(req.Options.RegionHint) == "" {
			return model.Mission{}, eris.Wrap(ErrInvalidMission, "seed has no region and no region hint")
		}
	}

	now := o.now().UTC()
	mission := model.Mission{
		ID:        uuid.NewString(),
		Seeds:     req.Seeds,
		Options:   req.Options,
		Status:    model.MissionStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.tracker.add(mission)
	o.persistMission(ctx, mission.ID)

	for _, seed := range req.Seeds {
		s := seed
		if strings.TrimSpace(s.Region) == "" {
			s.Region = req.Options.RegionHint
		}
		item := &model.WorkItem{
			ID:        uuid.NewString(),
			MissionID: mission.ID,
			Stage:     model.StageRadar,
			Status:    model.WorkItemQueued,
			Payload:   model.Payload{Seed: &s},
			CreatedAt: now,
		}
		o.enqueue(ctx, item)
	}

	zap.L().Info("mission submitted",
		zap.String("mission_id", mission.ID),
		zap.Int("seeds", len(req.Seeds)),
		zap.Int("max_leads", req.Options.MaxLeads),
	)

	m, _ := o.tracker.snapshot(mission.ID)
	return m, nil
}

// Status returns the mission's current status and counts.
func (o *Orchestrator) Status(missionID string) (model.Mission, error) {
	m, ok := o.tracker.snapshot(missionID)
	if !ok {
		return model.Mission{}, ErrUnknownMission
	}
	return m, nil
}

// Missions returns a snapshot of every mission the engine knows.
func (o *Orchestrator) Missions() []model.Mission {
	return o.tracker.snapshots()
}

// Cancel marks the mission cancelled. Idempotent. Queued and retry_wait
// items are dropped immediately; executing items finish and their
// results are recorded without advancing the mission.
func (o *Orchestrator) Cancel(ctx context.Context, missionID string) error {
	if !o.tracker.cancel(missionID) {
		return ErrUnknownMission
	}
	o.dropQueued(missionID)
	o.persistMission(ctx, missionID)
	zap.L().Info("mission cancelled", zap.String("mission_id", missionID))
	return nil
}

// Run starts the per-stage worker pools and blocks until ctx is
// cancelled. Pair with Drain for run-to-completion workloads.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for stg := range o.executors {
		q := o.queues[stg]
		for i := 0; i < o.workersFor(stg); i++ {
			stg, q := stg, q
			g.Go(func() error {
				o.workerLoop(ctx, stg, q)
				return nil
			})
		}
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Drain blocks until every known mission reaches a terminal status, or
// ctx is cancelled.
func (o *Orchestrator) Drain(ctx context.Context) error {
	ticker := time.NewTicker(o.pollInterval())
	defer ticker.Stop()
	for {
		if o.tracker.allSettled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitMission blocks until the mission settles or ctx is cancelled.
func (o *Orchestrator) WaitMission(ctx context.Context, missionID string) error {
	done, ok := o.tracker.doneCh(missionID)
	if !ok {
		return ErrUnknownMission
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (o *Orchestrator) workersFor(stg model.Stage) int {
	var n int
	switch stg {
	case model.StageRadar:
		n = o.cfg.RadarWorkers
	case model.StageResolver:
		n = o.cfg.ResolverWorkers
	case model.StageExtractor:
		n = o.cfg.ExtractorWorkers
	case model.StageEnricher:
		n = o.cfg.EnricherWorkers
	}
	if n <= 0 {
		n = 1
	}
	return n
}

func (o *Orchestrator) pollInterval() time.Duration {
	if o.cfg.PollIntervalMillis > 0 {
		return time.Duration(o.cfg.PollIntervalMillis) * time.Millisecond
	}
	return 50 * time.Millisecond
}

func (o *Orchestrator) workerLoop(ctx context.Context, stg model.Stage, q *stageQueue) {
	poll := time.NewTicker(o.pollInterval())
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item := q.Pop(o.now())
		if item == nil {
			select {
			case <-ctx.Done():
				return
			case <-poll.C:
			}
			continue
		}

		o.dispatch(ctx, stg, q, item)
	}
}

// dispatch runs one item through its stage executor and applies the
// resulting transition. It is the only writer of work-item state.
func (o *Orchestrator) dispatch(ctx context.Context, stg model.Stage, q *stageQueue, item *model.WorkItem) {
	// A stopped mission drops items at dispatch time.
	if o.tracker.isStopped(item.MissionID) {
		o.tracker.itemSettled(item.MissionID, outcomeDropped, false)
		o.persistMission(ctx, item.MissionID)
		return
	}

	// Domain rate budget. A dry bucket re-queues the item with the
	// limiter's suggested delay; no attempt is consumed and no worker
	// slot is held.
	if domain := item.Domain(); domain != "" {
		if ok, retryAfter := o.throttle.Acquire(domain); !ok {
			item.NotBefore = o.now().Add(retryAfter)
			q.Push(item)
			return
		}
	}

	if !o.tracker.itemExecuting(item.MissionID) {
		o.tracker.itemSettled(item.MissionID, outcomeDropped, false)
		o.persistMission(ctx, item.MissionID)
		return
	}
	item.Status = model.WorkItemExecuting
	o.persistItem(ctx, item)

	res := o.executors[stg].Execute(ctx, item)

	if res.BlockedDomain != "" {
		o.throttle.Penalize(res.BlockedDomain)
		zap.L().Warn("domain rate budget penalized",
			zap.String("mission_id", item.MissionID),
			zap.String("domain", res.BlockedDomain),
			zap.Float64("refill_per_sec", o.throttle.Rate(res.BlockedDomain)),
		)
	}

	switch res.Disposition {
	case DispositionSuccess:
		o.applySuccess(ctx, stg, item, res)
	case DispositionRetryable:
		o.applyRetry(ctx, stg, q, item, res)
	default:
		o.failItem(ctx, item, res.Err)
	}
}

// applySuccess advances the item. The terminal stage finalizes a lead;
// Radar fans out children; the middle stages move the same item forward,
// passing it through the dedup gate where a fingerprint is born.
func (o *Orchestrator) applySuccess(ctx context.Context, stg model.Stage, item *model.WorkItem, res StageResult) {
	// Mission may have stopped while the item was in flight; the result
	// is recorded, but nothing advances.
	stopped := o.tracker.isStopped(item.MissionID)

	next := item.Stage.Next()
	if next == "" {
		o.finalizeLead(ctx, item, res)
		return
	}

	switch stg {
	case model.StageRadar:
		item.Status = model.WorkItemAdvanced
		o.persistItem(ctx, item)
		if !stopped {
			o.fanOut(ctx, item, res.Outputs)
		}
		o.tracker.itemSettled(item.MissionID, outcomeAdvanced, true)
		o.persistMission(ctx, item.MissionID)

	default:
		if stopped || len(res.Outputs) == 0 {
			item.Status = model.WorkItemAdvanced
			o.persistItem(ctx, item)
			o.tracker.itemSettled(item.MissionID, outcomeAdvanced, true)
			o.persistMission(ctx, item.MissionID)
			return
		}

		payload := res.Outputs[0]

		// The Resolver's output is where URL identity appears; gate it.
		if stg == model.StageResolver && payload.Target != nil {
			fp := dedup.URL(payload.Target.URL)
			inserted, err := o.dedup.CheckAndInsert(ctx, fp, item.MissionID)
			if err != nil {
				zap.L().Error("dedup check failed, treating as new",
					zap.String("mission_id", item.MissionID),
					zap.Error(err),
				)
				inserted = true
			}
			if !inserted {
				item.Status = model.WorkItemDuplicate
				item.Fingerprint = fp
				o.persistItem(ctx, item)
				o.tracker.itemSettled(item.MissionID, outcomeDuplicate, true)
				o.persistMission(ctx, item.MissionID)
				return
			}
			item.Fingerprint = fp
		}

		item.Stage = next
		item.Payload = payload
		item.Status = model.WorkItemQueued
		item.NotBefore = time.Time{}
		item.LastError = ""
		o.tracker.itemRequeued(item.MissionID)
		o.persistItem(ctx, item)
		o.queues[next].Push(item)
	}
}

// fanOut creates one Resolver work item per discovered candidate,
// short-circuiting entity-level duplicates before they ever enqueue.
func (o *Orchestrator) fanOut(ctx context.Context, parent *model.WorkItem, outputs []model.Payload) {
	now := o.now().UTC()
	for _, payload := range outputs {
		if payload.Candidate == nil {
			continue
		}

		fp := dedup.Entity(*payload.Candidate)
		child := &model.WorkItem{
			ID:          uuid.NewString(),
			MissionID:   parent.MissionID,
			Stage:       model.StageResolver,
			Payload:     payload,
			Fingerprint: fp,
			CreatedAt:   now,
		}

		inserted, err := o.dedup.CheckAndInsert(ctx, fp, parent.MissionID)
		if err != nil {
			zap.L().Error("dedup check failed, treating as new",
				zap.String("mission_id", parent.MissionID),
				zap.Error(err),
			)
			inserted = true
		}
		if !inserted {
			child.Status = model.WorkItemDuplicate
			o.tracker.duplicateChild(parent.MissionID)
			o.persistItem(ctx, child)
			continue
		}

		child.Status = model.WorkItemQueued
		o.enqueue(ctx, child)
	}
}

// finalizeLead emits the finished lead and settles the item. A sink
// failure fails the item: a lead that was never delivered anywhere did
// not finalize.
func (o *Orchestrator) finalizeLead(ctx context.Context, item *model.WorkItem, res StageResult) {
	ext := item.Payload.Extraction
	if res.Enrichment == nil || ext == nil {
		o.failItem(ctx, item, eris.New("engine: terminal stage produced no enrichment"))
		return
	}

	lead := model.LeadRecord{
		ID:          uuid.NewString(),
		MissionID:   item.MissionID,
		Fingerprint: item.Fingerprint,
		SourceURL:   ext.Target.URL,
		Extracted:   *ext,
		Enriched:    *res.Enrichment,
		FinalizedAt: o.now().UTC(),
	}

	if o.sink != nil {
		if err := o.sink.Emit(ctx, lead); err != nil {
			o.failItem(ctx, item, eris.Wrap(err, "engine: lead emit failed"))
			return
		}
	}

	item.Status = model.WorkItemFinalized
	o.persistItem(ctx, item)

	capReached := o.tracker.itemSettled(item.MissionID, outcomeFinalized, true)
	o.persistMission(ctx, item.MissionID)

	zap.L().Info("lead finalized",
		zap.String("mission_id", item.MissionID),
		zap.String("lead_id", lead.ID),
		zap.String("source_url", lead.SourceURL),
		zap.Int("score", lead.Enriched.Score),
	)

	if capReached {
		zap.L().Info("mission lead cap reached, halting dispatch",
			zap.String("mission_id", item.MissionID),
		)
		o.dropQueued(item.MissionID)
		o.persistMission(ctx, item.MissionID)
	}
}

// applyRetry schedules another attempt or converts exhaustion into
// failure. Attempt counts are per stage.
func (o *Orchestrator) applyRetry(ctx context.Context, stg model.Stage, q *stageQueue, item *model.WorkItem, res StageResult) {
	attempt := item.BumpAttempt(stg)
	limit := o.cfg.StageAttempts(string(stg))

	if res.Err != nil {
		item.LastError = res.Err.Error()
	}

	if attempt >= limit {
		zap.L().Warn("retry budget exhausted",
			zap.String("mission_id", item.MissionID),
			zap.String("work_item_id", item.ID),
			zap.String("stage", string(stg)),
			zap.Int("attempts", attempt),
			zap.Error(res.Err),
		)
		o.settleFailed(ctx, item)
		return
	}

	delay := res.RetryAfter
	if delay <= 0 {
		// attempt is 1-based here; Backoff is zero-based.
		delay = resilience.Backoff(attempt-1, o.retry)
	}

	item.Status = model.WorkItemRetryWait
	item.NotBefore = o.now().Add(delay)
	o.tracker.itemRequeued(item.MissionID)
	o.persistItem(ctx, item)
	q.Push(item)

	zap.L().Debug("work item scheduled for retry",
		zap.String("mission_id", item.MissionID),
		zap.String("work_item_id", item.ID),
		zap.String("stage", string(stg)),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
}

func (o *Orchestrator) failItem(ctx context.Context, item *model.WorkItem, err error) {
	if err != nil {
		item.LastError = err.Error()
		zap.L().Warn("work item failed",
			zap.String("mission_id", item.MissionID),
			zap.String("work_item_id", item.ID),
			zap.String("stage", string(item.Stage)),
			zap.Error(err),
		)
	}
	o.settleFailed(ctx, item)
}

func (o *Orchestrator) settleFailed(ctx context.Context, item *model.WorkItem) {
	item.Status = model.WorkItemFailed
	o.persistItem(ctx, item)
	o.tracker.itemSettled(item.MissionID, outcomeFailed, true)
	o.persistMission(ctx, item.MissionID)
}

// dropQueued sweeps the mission's items out of every queue so a stopped
// mission settles without waiting out retry backoffs.
func (o *Orchestrator) dropQueued(missionID string) {
	for _, q := range o.queues {
		for range q.Remove(missionID) {
			o.tracker.itemSettled(missionID, outcomeDropped, false)
		}
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, item *model.WorkItem) {
	o.tracker.itemQueued(item.MissionID)
	o.persistItem(ctx, item)
	o.queues[item.Stage].Push(item)
}

func (o *Orchestrator) persistMission(ctx context.Context, missionID string) {
	if o.store == nil {
		return
	}
	m, ok := o.tracker.snapshot(missionID)
	if !ok {
		return
	}
	if err := o.store.SaveMission(ctx, &m); err != nil {
		zap.L().Error("persist mission failed",
			zap.String("mission_id", missionID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) persistItem(ctx context.Context, item *model.WorkItem) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveWorkItem(ctx, item); err != nil {
		zap.L().Error("persist work item failed",
			zap.String("work_item_id", item.ID),
			zap.Error(err),
		)
	}
}
