// Package pipeline runs the dual-path intent decision: a slow authoritative
// oracle and a fast local student race under one deadline, an agreement gate
// picks the answer, and every decision is recorded as a training event. The
// hard guarantee is that Resolve always returns a result within the
// configured timeout, whatever the two paths do.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/intale-ai/intentd/internal/events"
	"github.com/intale-ai/intentd/internal/intent"
)

// Mode selects the decision strategy.
type Mode string

const (
	// ModeCloudMimic runs both paths concurrently on every request and
	// prefers the oracle.
	ModeCloudMimic Mode = "cloud_mimic"
	// ModeLocalFirst answers from the student when it is confident and
	// verifies against the oracle off the request path.
	ModeLocalFirst Mode = "local_first"
)

// The oracle gets slightly less than the full request budget so the gate
// has time to assemble and return a decision before the deadline.
const (
	oracleDeadlineMargin = 500 * time.Millisecond
	minOracleDeadline    = 100 * time.Millisecond
)

// OracleClient is the slow authoritative path.
type OracleClient interface {
	Classify(ctx context.Context, text string, reqContext map[string]string) (*intent.Result, error)
	IsAvailable() bool
}

// LocalClassifier is the fast student path. ok is false when no model is
// loaded.
type LocalClassifier interface {
	Classify(text string) (intent.Result, bool)
}

// EventSink receives decision events for the training corpus.
type EventSink interface {
	Append(events.DecisionEvent) error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	ObserveRequest(source string, latency time.Duration, agreement *bool)
	ObserveBackgroundVerification(agreement *bool)
	ObserveEventDropped()
}

// Config holds the resolver's decision parameters.
type Config struct {
	Mode Mode
	// Timeout bounds the whole decision.
	Timeout time.Duration
	// LocalAcceptConf is the student confidence needed to answer without
	// waiting for the oracle in local-first mode.
	LocalAcceptConf float64
	// AgreeMinConf is the oracle confidence required for a matching pair of
	// intents to count as agreement.
	AgreeMinConf float64
	// VerifyTimeout bounds deferred oracle verification calls.
	VerifyTimeout time.Duration
}

// Resolver coordinates the two paths and records every decision.
type Resolver struct {
	cfg     Config
	oracle  OracleClient
	local   LocalClassifier
	events  EventSink
	metrics Recorder
	logger  *slog.Logger

	// background tracks event appends and deferred verifications so a
	// shutdown can drain them.
	background sync.WaitGroup
}

// NewResolver wires a resolver. All collaborators are required.
func NewResolver(cfg Config, oracleClient OracleClient, local LocalClassifier, sink EventSink, rec Recorder, logger *slog.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3500 * time.Millisecond
	}
	if cfg.LocalAcceptConf <= 0 {
		cfg.LocalAcceptConf = 0.8
	}
	if cfg.AgreeMinConf <= 0 {
		cfg.AgreeMinConf = 0.75
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = cfg.Timeout
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeCloudMimic
	}
	return &Resolver{
		cfg:     cfg,
		oracle:  oracleClient,
		local:   local,
		events:  sink,
		metrics: rec,
		logger:  logger,
	}
}

// Mode returns the configured decision strategy.
func (r *Resolver) Mode() Mode { return r.cfg.Mode }

// Resolve classifies text and always returns a result: the oracle's when it
// answered in time, the student's otherwise, and the fallback sentinel when
// neither path produced anything.
func (r *Resolver) Resolve(ctx context.Context, text string, reqContext map[string]string) intent.Result {
	start := time.Now()

	var final intent.Result
	var agreement *bool
	if r.cfg.Mode == ModeLocalFirst {
		final, agreement = r.resolveLocalFirst(ctx, start, text, reqContext)
	} else {
		final, agreement = r.resolveDualPath(ctx, start, text, reqContext)
	}

	r.metrics.ObserveRequest(string(final.Source), time.Since(start), agreement)
	return final
}

// resolveDualPath launches both paths and joins whatever arrived by the
// deadline. Channels are buffered so a path that finishes late never blocks;
// its result is simply discarded.
func (r *Resolver) resolveDualPath(ctx context.Context, start time.Time, text string, reqContext map[string]string) (intent.Result, *bool) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	oracleCh := make(chan *intent.Result, 1)
	localCh := make(chan *intent.Result, 1)

	go func() {
		oracleCh <- r.callOracle(ctx, text, reqContext)
	}()
	go func() {
		if res, ok := r.local.Classify(text); ok {
			localCh <- &res
		} else {
			localCh <- nil
		}
	}()

	var oracleRes, localRes *intent.Result
	for pending := 2; pending > 0; {
		select {
		case oracleRes = <-oracleCh:
			oracleCh = nil
			pending--
		case localRes = <-localCh:
			localCh = nil
			pending--
		case <-ctx.Done():
			pending = 0
		}
	}

	final := Decide(oracleRes, localRes, time.Since(start).Milliseconds())
	agreement := Agreement(oracleRes, localRes, r.cfg.AgreeMinConf)
	r.appendAsync(events.NewDecisionEvent(text, reqContext, oracleRes, localRes, final, agreement))
	return final, agreement
}

// resolveLocalFirst answers from the student when it is confident enough,
// deferring oracle verification off the request path. A hesitant or missing
// student falls through to a synchronous dual-path decision.
func (r *Resolver) resolveLocalFirst(ctx context.Context, start time.Time, text string, reqContext map[string]string) (intent.Result, *bool) {
	localRes, ok := r.local.Classify(text)
	if ok && localRes.Confidence >= r.cfg.LocalAcceptConf {
		final := localRes
		final.LatencyMs = time.Since(start).Milliseconds()
		r.appendAsync(events.NewDecisionEvent(text, reqContext, nil, &localRes, final, nil))
		r.verifyAsync(text, reqContext, final)
		return final, nil
	}
	return r.resolveDualPath(ctx, start, text, reqContext)
}

func (r *Resolver) callOracle(ctx context.Context, text string, reqContext map[string]string) *intent.Result {
	if !r.oracle.IsAvailable() {
		return nil
	}

	// Leave margin for the gate under the request deadline, if one is set.
	if deadline, ok := ctx.Deadline(); ok {
		budget := time.Until(deadline) - oracleDeadlineMargin
		if budget < minOracleDeadline {
			budget = minOracleDeadline
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	res, err := r.oracle.Classify(ctx, text, reqContext)
	if err != nil {
		r.logger.Warn("oracle path failed", "error", err)
		return nil
	}
	return res
}

// verifyAsync checks a locally-served answer against the oracle after the
// response has gone out. The goroutine is rooted in context.Background so it
// survives the request; the event's Final stays the result the caller
// already received, and its latency records the oracle call's own duration.
func (r *Resolver) verifyAsync(text string, reqContext map[string]string, served intent.Result) {
	if !r.oracle.IsAvailable() {
		return
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.VerifyTimeout)
		defer cancel()

		oracleRes, err := r.oracle.Classify(ctx, text, reqContext)
		if err != nil {
			r.logger.Warn("background verification failed", "error", err)
			return
		}

		agreement := Agreement(oracleRes, &served, r.cfg.AgreeMinConf)
		ev := events.NewDecisionEvent(text, reqContext, oracleRes, &served, served, agreement)
		ev.Background = true
		ev.LatencyMs = oracleRes.LatencyMs
		if err := r.events.Append(ev); err != nil {
			r.logger.Warn("dropping verification event", "error", err)
			r.metrics.ObserveEventDropped()
		}
		r.metrics.ObserveBackgroundVerification(ev.Agreement)
	}()
}

// appendAsync persists the event off the request path. The store retries
// once internally; a failure after that drops the event and bumps a counter,
// it never fails the request.
func (r *Resolver) appendAsync(ev events.DecisionEvent) {
	r.background.Add(1)
	go func() {
		defer r.background.Done()
		if err := r.events.Append(ev); err != nil {
			r.logger.Warn("dropping decision event", "error", err)
			r.metrics.ObserveEventDropped()
		}
	}()
}

// Drain waits for in-flight appends and verifications to finish.
func (r *Resolver) Drain() {
	r.background.Wait()
}
