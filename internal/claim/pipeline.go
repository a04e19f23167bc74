package claim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zombor/expense-validator/internal/extraction"
)

// State is a step of a pipeline run
type State string

const (
	StateCreated       State = "created"
	StateTextExtracted State = "text_extracted"
	StateFieldsParsed  State = "fields_parsed"
	StateValidated     State = "validated"
	StateNotified      State = "notified"
	StateFailed        State = "failed"
)

// next lists the single legal successor of each non-terminal state
var next = map[State]State{
	StateCreated:       StateTextExtracted,
	StateTextExtracted: StateFieldsParsed,
	StateFieldsParsed:  StateValidated,
	StateValidated:     StateNotified,
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateNotified || s == StateFailed
}

// TextExtractor reads a stored receipt and returns its raw text. It is the one
// call in a run that may block on I/O.
type TextExtractor func(ctx context.Context, ref ReceiptRef) (string, error)

// Run holds the state and every intermediate output of one pipeline run
type Run struct {
	Claim   Claim
	State   State
	RawText string
	Parsed  *ParsedFields
	Verdict *Verdict
	Message string
	Err     error
}

func (r *Run) advance(to State) {
	if next[r.State] != to {
		panic(fmt.Sprintf("claim pipeline: illegal transition %s -> %s", r.State, to))
	}
	r.State = to
}

func (r *Run) fail(err error) {
	r.State = StateFailed
	r.Err = err
}

// Pipeline runs extract, parse, validate and compose for one claim at a time.
// A Pipeline is safe for concurrent use; runs only share the duplicate index.
type Pipeline struct {
	extract  TextExtractor
	parser   *Parser
	engine   *Engine
	composer Composer
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline from its stages
func NewPipeline(extract TextExtractor, parser *Parser, engine *Engine, composer Composer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		extract:  extract,
		parser:   parser,
		engine:   engine,
		composer: composer,
		logger:   logger,
	}
}

// Process runs a claim to completion and returns the notification message,
// or the error that stopped the run
func (p *Pipeline) Process(ctx context.Context, c Claim) (string, error) {
	run := p.Execute(ctx, c)
	if run.State == StateFailed {
		return "", run.Err
	}
	return run.Message, nil
}

// Execute runs a claim to Notified or Failed and returns the whole run.
// Extraction failures are reported as *extraction.ExtractionError; a run the
// caller abandoned fails with the context's error instead.
func (p *Pipeline) Execute(ctx context.Context, c Claim) *Run {
	run := &Run{Claim: c, State: StateCreated}
	log := p.logger.With("claim_id", c.ID, "employee_id", c.EmployeeID)

	text, err := p.extract(ctx, c.Receipt)
	if err != nil && ctx.Err() != nil {
		log.Warn("pipeline.abandoned", "state", run.State, "error", err)
		run.fail(ctx.Err())
		return run
	}
	if err != nil {
		var extractErr *extraction.ExtractionError
		if !errors.As(err, &extractErr) {
			err = &extraction.ExtractionError{Ref: c.Receipt.String(), Err: err}
		}
		log.Error("pipeline.extract.failed", "receipt", c.Receipt.Path, "error", err)
		run.fail(err)
		return run
	}
	run.RawText = text
	run.advance(StateTextExtracted)

	// the caller may abandon the run while extraction was in flight
	if err := ctx.Err(); err != nil {
		log.Warn("pipeline.abandoned", "state", run.State, "error", err)
		run.fail(err)
		return run
	}

	parsed := p.parser.Parse(text)
	run.Parsed = &parsed
	run.advance(StateFieldsParsed)
	log.Debug("pipeline.parsed",
		"amount_found", parsed.Amount != nil,
		"date_found", parsed.Date != nil,
		"merchant_found", parsed.Merchant != nil,
	)

	verdict, err := p.engine.Validate(c, parsed, text)
	if err != nil {
		log.Error("pipeline.validate.failed", "error", err)
		run.fail(err)
		return run
	}
	run.Verdict = &verdict
	run.advance(StateValidated)

	run.Message = p.composer.Compose(c, verdict)
	run.advance(StateNotified)

	log.Info("pipeline.completed",
		"approved", verdict.Approved,
		"amount_ok", verdict.AmountOK,
		"date_ok", verdict.DateOK,
		"name_ok", verdict.NameOK,
		"not_duplicate", verdict.NotDuplicate,
		"within_limit", verdict.WithinLimit,
		"fingerprint", verdict.Fingerprint.Short(),
	)
	return run
}
