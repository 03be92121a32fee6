// Package orchestrator runs the fetch -> poll -> match cycle on a fixed
// interval, accumulating a RunRecord per cycle and dispatching post-match
// actions.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/bankreconciler/internal/config"
	"github.com/fntelecomllc/bankreconciler/internal/dispatcher"
	"github.com/fntelecomllc/bankreconciler/internal/ingest"
	"github.com/fntelecomllc/bankreconciler/internal/logging"
	"github.com/fntelecomllc/bankreconciler/internal/model"
	"github.com/fntelecomllc/bankreconciler/internal/normalize"
	"github.com/fntelecomllc/bankreconciler/internal/retriever"
	"github.com/fntelecomllc/bankreconciler/internal/scoring"
	"github.com/fntelecomllc/bankreconciler/internal/source"
	"github.com/fntelecomllc/bankreconciler/internal/store"
	"github.com/fntelecomllc/bankreconciler/internal/websocket"
)

var log = logging.For("orchestrator")

// TriggerResult is returned by TriggerCycle and the manual-trigger admin
// route.
type TriggerResult struct {
	Started bool
	Reason  string // "poll_in_progress" when Started is false
	CycleID string
}

// Orchestrator runs the three-phase cycle on a ticker and serves manual
// triggers, start/stop, and status/history queries.
type Orchestrator struct {
	cfg        *config.Config
	repo       store.Repository
	aliases    *normalize.AliasTable
	emailSrc   source.EmailPuller
	txnSrc     source.TransactionPuller
	extractor  source.EmailExtractor
	retriever  *retriever.Retriever
	scorer     *scoring.Scorer
	dispatcher *dispatcher.Dispatcher
	broadcaster websocket.Broadcaster

	mu           sync.Mutex
	running      bool
	cycleRunning bool
	history      []*model.RunRecord
	lastRecord   *model.RunRecord

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

const historyWindow = 100

// SetBroadcaster wires a websocket broadcaster for real-time cycle/phase/
// match events. Optional: a nil broadcaster (the default) means runCycle
// simply skips publishing.
func (o *Orchestrator) SetBroadcaster(b websocket.Broadcaster) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcaster = b
}

func (o *Orchestrator) publish(msg websocket.Message, err error) {
	if o.broadcaster == nil {
		return
	}
	if err != nil {
		log.Warn("broadcast", "failed to build websocket message", logging.Fields{"error": err.Error()})
		return
	}
	o.broadcaster.Broadcast(msg)
}

// New builds an Orchestrator wired to its collaborators. emailSrc/txnSrc may
// be nil to disable the corresponding fetch phase (its PhaseResult records
// zero counts and succeeds trivially).
func New(cfg *config.Config, repo store.Repository, aliases *normalize.AliasTable, emailSrc source.EmailPuller, txnSrc source.TransactionPuller, extractor source.EmailExtractor, retr *retriever.Retriever, scorer *scoring.Scorer, disp *dispatcher.Dispatcher) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, repo: repo, aliases: aliases,
		emailSrc: emailSrc, txnSrc: txnSrc, extractor: extractor,
		retriever: retr, scorer: scorer, dispatcher: disp,
	}
}

// Start launches the background ticker loop. Idempotent: calling Start
// twice on an already-running orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return
	}
	o.running = true
	o.shutdownCtx, o.shutdownCancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	o.wg.Add(1)
	go o.loop(ctx)
}

// Stop requests the loop to exit. It sets the cancel flag and waits up to
// stopGraceSeconds for an in-progress cycle to finish; idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	cancel := o.shutdownCancel
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.cfg.Orchestrator.StopGrace()):
		log.Warn("stop", "stop grace period exceeded, cycle may still be running", nil)
	}
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer o.wg.Done()

	if o.cfg.EmailFetcher.StartImmediately {
		o.runCycle(ctx, "startup")
	}

	ticker := time.NewTicker(o.cfg.Orchestrator.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.shutdownCtx.Done():
			return
		case <-ticker.C:
			o.runCycle(ctx, "scheduled")
		}
	}
}

// TriggerCycle starts one cycle immediately, unless a cycle is already
// running, per the concurrent-cycle prevention rule in §5.
func (o *Orchestrator) TriggerCycle(ctx context.Context) TriggerResult {
	o.mu.Lock()
	if o.cycleRunning {
		o.mu.Unlock()
		return TriggerResult{Started: false, Reason: "poll_in_progress"}
	}
	o.mu.Unlock()

	record := o.runCycle(ctx, "manual")
	return TriggerResult{Started: true, CycleID: record.CycleID}
}

func (o *Orchestrator) runCycle(ctx context.Context, triggeredBy string) *model.RunRecord {
	o.mu.Lock()
	if o.cycleRunning {
		o.mu.Unlock()
		return model.NewRunRecord("skipped-" + uuid.NewString())
	}
	o.cycleRunning = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cycleRunning = false
		o.mu.Unlock()
	}()

	record := model.NewRunRecord(uuid.NewString())
	record.TriggeredBy = triggeredBy
	record.Started = time.Now().UTC()

	o.publish(websocket.NewCycleStartedMessage(websocket.CycleStartedPayload{
		CycleID: record.CycleID, TriggeredBy: triggeredBy,
	}))

	cycleCtx, cancel := context.WithTimeout(ctx, o.cfg.Orchestrator.Interval())
	defer cancel()

	anyError := false

	fetchResult := o.runFetchEmails(cycleCtx)
	record.Phases = append(record.Phases, fetchResult)
	anyError = anyError || !fetchResult.Succeeded
	o.publishPhase(record.CycleID, fetchResult)

	pollResult := o.runPollTransactions(cycleCtx)
	record.Phases = append(record.Phases, pollResult)
	anyError = anyError || !pollResult.Succeeded
	o.publishPhase(record.CycleID, pollResult)

	matchResult := o.runMatchPhase(cycleCtx, record)
	record.Phases = append(record.Phases, matchResult)
	anyError = anyError || !matchResult.Succeeded
	o.publishPhase(record.CycleID, matchResult)

	record.Ended = time.Now().UTC()
	record.Duration = record.Ended.Sub(record.Started)
	record.Finalize()

	switch {
	case fetchResult.Succeeded == false && pollResult.Succeeded == false && matchResult.Succeeded == false:
		record.Status = model.CycleFailed
	case anyError:
		record.Status = model.CycleCompletedWithErrors
	default:
		record.Status = model.CycleSuccess
	}

	o.recordHistory(record)
	log.Info("cycle_complete", "reconciliation cycle finished", logging.Fields{
		"cycleId": record.CycleID, "status": record.Status, "triggeredBy": triggeredBy,
		"durationMs": record.Duration.Milliseconds(),
	})

	matchesDecided := 0
	for _, p := range record.Phases {
		if p.Name == model.PhaseMatch {
			matchesDecided = p.MatchesDecided
		}
	}
	o.publish(websocket.NewCycleCompletedMessage(websocket.CycleCompletedPayload{
		CycleID: record.CycleID, Status: string(record.Status),
		Duration: record.Duration, MatchesDecided: matchesDecided,
	}))

	return record
}

func (o *Orchestrator) publishPhase(cycleID string, phase model.PhaseResult) {
	o.publish(websocket.NewCyclePhaseMessage(websocket.CyclePhasePayload{
		CycleID: cycleID, Phase: string(phase.Name), Succeeded: phase.Succeeded,
		Duration: phase.Duration, New: phase.New, Stored: phase.Stored,
		Failed: phase.Failed, Error: phase.Error,
	}))
}

func (o *Orchestrator) runFetchEmails(ctx context.Context) model.PhaseResult {
	phase := model.PhaseResult{Name: model.PhaseFetchEmails, Started: time.Now().UTC()}
	defer func() { phase.Ended = time.Now().UTC(); phase.Duration = phase.Ended.Sub(phase.Started) }()

	if o.emailSrc == nil {
		phase.Succeeded = true
		return phase
	}

	sourceCtx, cancel := context.WithTimeout(ctx, o.cfg.Orchestrator.SourceTimeout())
	defer cancel()

	until := time.Now().UTC()
	since := until.Add(-o.cfg.Orchestrator.Interval() * 2)
	raws, err := o.emailSrc.Fetch(sourceCtx, since, until, o.cfg.EmailFetcher.BatchSize, 0)
	if err != nil {
		phase.Error = err.Error()
		log.Error("fetch_emails", "email fetch failed", err, nil)
		return phase
	}

	prefilter := source.PreFilterConfig{
		SenderDomainAllowlist: o.cfg.EmailFetcher.SenderDomainAllowlist,
		SubjectKeywords:       o.cfg.EmailFetcher.SubjectKeywords,
		SubjectDenylist:       o.cfg.EmailFetcher.SubjectDenylist,
		MinBodyLength:         o.cfg.EmailFetcher.MinBodyLength,
	}
	batch := ingest.Emails(ctx, o.repo, o.aliases, o.extractor, prefilter, raws)
	phase.Fetched, phase.New, phase.Duplicate, phase.Stored, phase.Failed = batch.Fetched, batch.New, batch.Duplicate, batch.Stored, batch.Failed
	phase.Succeeded = true
	return phase
}

func (o *Orchestrator) runPollTransactions(ctx context.Context) model.PhaseResult {
	phase := model.PhaseResult{Name: model.PhasePollTxns, Started: time.Now().UTC()}
	defer func() { phase.Ended = time.Now().UTC(); phase.Duration = phase.Ended.Sub(phase.Started) }()

	if o.txnSrc == nil {
		phase.Succeeded = true
		return phase
	}

	sourceCtx, cancel := context.WithTimeout(ctx, o.cfg.Orchestrator.SourceTimeout())
	defer cancel()

	until := time.Now().UTC()
	since := until.Add(-o.cfg.Orchestrator.Interval() * 2)
	raws, err := o.txnSrc.Fetch(sourceCtx, since, until, o.cfg.EmailFetcher.BatchSize, 0)
	if err != nil {
		phase.Error = err.Error()
		log.Error("poll_transactions", "transaction fetch failed", err, nil)
		return phase
	}

	batch := ingest.Transactions(ctx, o.repo, o.aliases, o.txnSrc.SourceLabel(), raws)
	phase.Fetched, phase.New, phase.Duplicate, phase.Stored, phase.Failed = batch.Fetched, batch.New, batch.Duplicate, batch.Stored, batch.Failed
	phase.Succeeded = true
	return phase
}

func (o *Orchestrator) runMatchPhase(ctx context.Context, record *model.RunRecord) model.PhaseResult {
	phase := model.PhaseResult{Name: model.PhaseMatch, Started: time.Now().UTC()}
	defer func() { phase.Ended = time.Now().UTC(); phase.Duration = phase.Ended.Sub(phase.Started) }()

	emails, err := o.repo.ListUnmatchedEmails(ctx, 0)
	if err != nil {
		phase.Error = err.Error()
		log.Error("match", "listing unmatched emails failed", err, nil)
		return phase
	}
	phase.EmailsConsidered = len(emails)

	for _, raw := range emails {
		canonical, err := o.repo.GetCanonicalEmail(ctx, raw.MessageID)
		if err != nil || canonical == nil {
			continue
		}

		candidates, err := o.retriever.FindCandidates(ctx, *canonical)
		if err != nil {
			log.Error("match", "candidate retrieval failed", err, logging.Fields{"messageId": raw.MessageID})
			continue
		}

		result := o.scorer.RankAndDecide(raw.MessageID, *canonical, candidates)
		matchID, err := o.repo.WriteMatch(ctx, result)
		if err != nil {
			log.Error("match", "writing match failed", err, logging.Fields{"messageId": raw.MessageID})
			continue
		}
		result.ID = matchID
		record.RecordMatch(result)
		record.RetrievalCounts = append(record.RetrievalCounts, len(candidates))
		phase.MatchesDecided++

		o.publish(websocket.NewMatchDecidedMessage(websocket.MatchDecidedPayload{
			CycleID: record.CycleID, EmailID: result.EmailID,
			Status: string(result.Status), Confidence: result.Confidence,
		}))

		if o.cfg.Orchestrator.ActionsEnabled && o.dispatcher != nil {
			actions, err := o.dispatcher.Dispatch(ctx, result, *canonical)
			if err != nil {
				log.Error("match", "action dispatch failed", err, logging.Fields{"messageId": raw.MessageID})
			}
			for _, a := range actions {
				o.publish(websocket.NewActionDispatchedMessage(websocket.ActionDispatchedPayload{
					MatchID: matchID, ActionKind: string(a.Kind), Status: string(a.Status), OutcomeLabel: a.OutcomeLabel,
				}))
			}
		}
	}

	phase.Succeeded = true
	return phase
}

func (o *Orchestrator) recordHistory(record *model.RunRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastRecord = record
	o.history = append(o.history, record)
	if len(o.history) > historyWindow {
		o.history = o.history[len(o.history)-historyWindow:]
	}
}

// Status reports whether the orchestrator is running and its most recent
// cycle record.
func (o *Orchestrator) Status() (running bool, cycleInProgress bool, last *model.RunRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running, o.cycleRunning, o.lastRecord
}

// History returns a snapshot of the bounded rolling window of recent cycles.
func (o *Orchestrator) History() []*model.RunRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*model.RunRecord, len(o.history))
	copy(out, o.history)
	return out
}

// RematchEmail re-runs the retriever/scorer/dispatcher pipeline for a single
// email outside the normal cycle, per the admin API's manual-rematch verb.
// Per §9, a manual rematch DOES re-run post-match actions unless skipActions
// is set.
func (o *Orchestrator) RematchEmail(ctx context.Context, messageID string, skipActions bool) (model.MatchResult, error) {
	canonical, err := o.repo.GetCanonicalEmail(ctx, messageID)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("orchestrator: load canonical email: %w", err)
	}
	if canonical == nil {
		return model.MatchResult{}, fmt.Errorf("orchestrator: email %s not found", messageID)
	}

	candidates, err := o.retriever.FindCandidates(ctx, *canonical)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("orchestrator: candidate retrieval: %w", err)
	}

	result := o.scorer.RankAndDecide(messageID, *canonical, candidates)
	matchID, err := o.repo.WriteMatch(ctx, result)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("orchestrator: write match: %w", err)
	}
	result.ID = matchID

	if !skipActions && o.dispatcher != nil {
		if _, err := o.dispatcher.Dispatch(ctx, result, *canonical); err != nil {
			log.Error("rematch", "action dispatch failed", err, logging.Fields{"messageId": messageID})
		}
	}
	return result, nil
}
