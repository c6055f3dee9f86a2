// Package sync drives mailbox synchronization runs and schedules them.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/crm-mailsync/internal/crossref"
	"github.com/nhle/crm-mailsync/internal/events"
	"github.com/nhle/crm-mailsync/internal/mailbox"
	"github.com/nhle/crm-mailsync/internal/model"
	"github.com/nhle/crm-mailsync/internal/store"
)

// Default limits for a single run.
const (
	DefaultRunTimeout  = 5 * time.Minute
	DefaultMaxMessages = 100

	// finalizeTimeout bounds closing a run, which happens after the run
	// context may have expired.
	finalizeTimeout = 30 * time.Second
)

// SecretSource supplies the mailbox secret for a target.
type SecretSource interface {
	Secret(targetID string) (string, error)
}

// Options tune an Orchestrator.
type Options struct {
	// RunTimeout bounds a whole run, including connection setup.
	RunTimeout time.Duration

	// MaxMessages caps how many listed messages one run handles.
	MaxMessages int
}

// Orchestrator runs fetch, parse, link, persist and publish for one target
// at a time. Runs for different targets may proceed concurrently.
type Orchestrator struct {
	store   store.Store
	fetcher mailbox.Fetcher
	secrets SecretSource
	linker  *crossref.Linker
	bus     events.Bus
	opts    Options
	logger  *zap.Logger

	mu       gosync.Mutex
	inflight map[string]struct{}
}

// NewOrchestrator creates an Orchestrator. Linking resolves against s.
func NewOrchestrator(
	s store.Store,
	fetcher mailbox.Fetcher,
	secrets SecretSource,
	bus events.Bus,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    s,
		fetcher:  fetcher,
		secrets:  secrets,
		linker:   crossref.NewLinker(s),
		bus:      bus,
		opts:     opts,
		logger:   logger.Named("sync"),
		inflight: make(map[string]struct{}),
	}
}

// RunSync performs one run for targetID and returns its finalized SyncRun.
//
// It returns model.ErrAlreadyRunning without starting anything when the
// target already has a run in flight, and model.ErrInactiveTarget for a
// disabled target. Failures inside the run are recorded on the returned
// SyncRun, not returned as errors. The run ignores cancellation of ctx and
// is bounded by the configured run timeout instead.
func (o *Orchestrator) RunSync(ctx context.Context, targetID string) (*model.SyncRun, error) {
	if !o.acquire(targetID) {
		return nil, model.ErrAlreadyRunning
	}
	defer o.release(targetID)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.RunTimeout)
	defer cancel()

	target, err := o.store.GetTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("loading target %s: %w", targetID, err)
	}
	if !target.Active {
		return nil, fmt.Errorf("syncing target %s: %w", targetID, model.ErrInactiveTarget)
	}

	run, err := o.store.StartRun(ctx, targetID)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyRunning) {
			return nil, model.ErrAlreadyRunning
		}
		return nil, fmt.Errorf("starting run for %s: %w", targetID, err)
	}

	log := o.logger.With(
		zap.String("target_id", target.ID),
		zap.String("user_id", target.UserID),
		zap.String("run_id", run.ID),
	)
	log.Info("sync started", zap.Timep("watermark", target.LastSyncAt))

	watermark, runErr := o.execute(ctx, log, target, run)
	if runErr != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		runErr = fmt.Errorf("run timed out after %s: %w", o.opts.RunTimeout, runErr)
	}

	finalCtx, cancelFinal := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancelFinal()

	if err := o.finalize(finalCtx, target, run, watermark, runErr); err != nil {
		log.Error("finalizing run", zap.Error(err))
		return run, err
	}

	if runErr != nil {
		log.Warn("sync failed",
			zap.Int("fetched", run.Fetched),
			zap.Int("processed", run.Processed),
			zap.Int("skipped", run.Skipped),
			zap.Error(runErr))
	} else {
		log.Info("sync finished",
			zap.Int("fetched", run.Fetched),
			zap.Int("processed", run.Processed),
			zap.Int("skipped", run.Skipped))
	}
	return run, nil
}

// execute does the work of one run, updating the counters on run as it
// goes. It returns the latest receipt time seen.
func (o *Orchestrator) execute(
	ctx context.Context,
	log *zap.Logger,
	target *model.SyncTarget,
	run *model.SyncRun,
) (*time.Time, error) {
	secret, err := o.secrets.Secret(target.ID)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	session, err := o.fetcher.Open(ctx, *target, secret)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug("closing session", zap.Error(err))
		}
	}()

	envelopes, err := session.List(ctx, target.LastSyncAt)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	envelopes, latest, err := o.dropProcessed(ctx, target.ID, envelopes)
	if err != nil {
		return nil, err
	}
	if len(envelopes) > o.opts.MaxMessages {
		// Messages past the cut wait for the next run, so the watermark
		// must not pass them.
		cut := envelopes[o.opts.MaxMessages].ReceivedAt
		if latest != nil && !cut.IsZero() && latest.After(cut) {
			latest = &cut
		}
		envelopes = envelopes[:o.opts.MaxMessages]
	}
	run.Fetched = len(envelopes)

	for _, env := range envelopes {
		raw, err := session.FetchRaw(ctx, env.UID)
		if err != nil {
			return nil, fmt.Errorf("fetching message uid %d: %w", env.UID, err)
		}

		latest = later(latest, env.ReceivedAt)

		parsed, err := mailbox.Parse(raw)
		if err != nil {
			run.Skipped++
			log.Warn("skipping unparseable message", zap.Uint32("uid", env.UID), zap.Error(err))
			continue
		}

		msg := newMessage(target, env, parsed)
		inserted, err := o.store.InsertMessage(ctx, msg)
		if err != nil {
			return nil, err
		}
		if !inserted {
			// A row left unprocessed by an interrupted run is finished by
			// the next run that lists it.
			existing, err := o.store.FindMessageByExternalID(ctx, target.ID, msg.ExternalID)
			if err != nil {
				return nil, err
			}
			if existing.IsProcessed {
				continue
			}
			log.Info("resuming unprocessed message", zap.String("message_id", existing.ID))
			msg = existing
		}

		pending, err := o.process(ctx, log, msg)
		if err != nil {
			return nil, err
		}
		run.Processed++

		o.publish(ctx, log, model.NewEmailReceived(*msg))
		for _, e := range pending {
			o.publish(ctx, log, e)
		}
	}

	return latest, nil
}

// dropProcessed removes envelopes whose message is already stored and
// processed, so the per-run cap is spent on new work only. It returns the
// latest receipt time among the removed envelopes.
func (o *Orchestrator) dropProcessed(
	ctx context.Context,
	targetID string,
	envelopes []mailbox.Envelope,
) ([]mailbox.Envelope, *time.Time, error) {
	var (
		kept   []mailbox.Envelope
		latest *time.Time
	)
	for _, env := range envelopes {
		if env.MessageID != "" {
			existing, err := o.store.FindMessageByExternalID(ctx, targetID, env.MessageID)
			switch {
			case err == nil && existing.IsProcessed:
				latest = later(latest, env.ReceivedAt)
				continue
			case err != nil && !errors.Is(err, model.ErrNotFound):
				return nil, nil, err
			}
		}
		kept = append(kept, env)
	}
	return kept, latest, nil
}

// process links msg, applies the first matching rule and marks msg
// processed. It returns the events the rule actions produced. Linking and
// rule failures are logged; only a failure to record the outcome is
// returned.
func (o *Orchestrator) process(ctx context.Context, log *zap.Logger, msg *model.IngestedMessage) ([]model.Event, error) {
	link, err := o.linker.Link(ctx, msg.UserID, msg.Subject, msg.Body)
	if err != nil {
		log.Warn("linking message", zap.String("message_id", msg.ID), zap.Error(err))
	}

	proc := model.Processing{
		ParsedINN:           link.INN,
		ParsedProjectNumber: link.ProjectNumber,
		CompanyID:           link.CompanyID,
		ProjectID:           link.ProjectID,
	}

	pending := o.applyRules(ctx, log, msg, &proc)

	if err := o.store.CompleteProcessing(ctx, msg.ID, proc); err != nil {
		return nil, err
	}

	msg.IsProcessed = true
	msg.IsImportant = msg.IsImportant || proc.Important
	msg.ParsedINN = proc.ParsedINN
	msg.ParsedProjectNumber = proc.ParsedProjectNumber
	msg.CompanyID = proc.CompanyID
	msg.ProjectID = proc.ProjectID
	return pending, nil
}

// applyRules evaluates the owner's active rules in priority order. Only
// the first matching rule acts.
func (o *Orchestrator) applyRules(
	ctx context.Context,
	log *zap.Logger,
	msg *model.IngestedMessage,
	proc *model.Processing,
) []model.Event {
	rules, err := o.store.ListActiveRules(ctx, msg.UserID)
	if err != nil {
		log.Warn("loading rules", zap.Error(err))
		return nil
	}

	for _, rule := range rules {
		if !rule.Matches(msg.Sender, msg.Subject, msg.Body) {
			continue
		}

		log := log.With(zap.String("rule_id", rule.ID), zap.String("message_id", msg.ID))
		var pending []model.Event

		if rule.MarkImportant {
			proc.Important = true
		}

		if rule.AutoCreateProject && proc.ProjectID == nil {
			sourceID := msg.ID
			project := &model.Project{
				UserID:          msg.UserID,
				Title:           msg.Subject,
				ProjectNumber:   proc.ParsedProjectNumber,
				CompanyID:       proc.CompanyID,
				SourceMessageID: &sourceID,
			}
			created, err := o.store.CreateProjectFromMessage(ctx, project)
			if err != nil {
				log.Warn("creating project", zap.Error(err))
			} else {
				projectID := project.ID
				proc.ProjectID = &projectID
				if created {
					pending = append(pending, model.NewProjectCreated(*project))
				}
			}
		}

		if rule.AutoCreateContact && msg.Sender != "" {
			if contact := contactFromMessage(msg); contact != nil {
				created, err := o.store.CreateContactIfAbsent(ctx, contact)
				switch {
				case err != nil:
					log.Warn("creating contact", zap.Error(err))
				case created:
					pending = append(pending, model.NewContactCreated(*contact))
				}
			}
		}

		return pending
	}
	return nil
}

// finalize closes run with the outcome of execute, updates the target's
// bookkeeping and notifies the owner.
func (o *Orchestrator) finalize(
	ctx context.Context,
	target *model.SyncTarget,
	run *model.SyncRun,
	watermark *time.Time,
	runErr error,
) error {
	if runErr != nil {
		run.Status = model.RunFailed
		run.Error = runErr.Error()
	} else {
		run.Status = model.RunSuccess
	}

	if err := o.store.FinishRun(ctx, run); err != nil {
		return err
	}

	var event model.Event
	if runErr != nil {
		if err := o.store.RecordSyncFailure(ctx, target.ID, run.Error); err != nil {
			return err
		}
		event = model.NewSystemNotification(target.UserID, model.LevelError,
			"Sync failed", fmt.Sprintf("%s: %s", target.Address, run.Error))
	} else {
		if err := o.store.RecordSyncSuccess(ctx, target.ID, watermark, run.Processed); err != nil {
			return err
		}
		event = model.NewSystemNotification(target.UserID, model.LevelSuccess,
			"Sync completed", fmt.Sprintf("%s: %d new message(s)", target.Address, run.Processed))
	}

	o.publish(ctx, o.logger.With(zap.String("run_id", run.ID)), event)
	return nil
}

// publish delivers event, logging failures. A failed publish never fails
// the run.
func (o *Orchestrator) publish(ctx context.Context, log *zap.Logger, event model.Event) {
	if o.bus == nil {
		return
	}
	if err := o.bus.Publish(ctx, event); err != nil {
		log.Warn("publishing event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

// later returns the later of cur and at. A zero at leaves cur unchanged.
func later(cur *time.Time, at time.Time) *time.Time {
	if at.IsZero() || (cur != nil && !at.After(*cur)) {
		return cur
	}
	return &at
}

func (o *Orchestrator) acquire(targetID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, held := o.inflight[targetID]; held {
		return false
	}
	o.inflight[targetID] = struct{}{}
	return true
}

func (o *Orchestrator) release(targetID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, targetID)
}
