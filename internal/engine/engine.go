package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/pagestate/internal/extract"
	"github.com/roach88/pagestate/internal/ir"
)

// Extractor turns one session's window into per-frame observations.
// extract.Extract is the production implementation.
type Extractor func(ctx context.Context, log extract.SessionLog, tabID int64, w ir.Window) *extract.Result

// Generator owns the session and state tables for one generator id.
//
// Thread-safety model:
//   - AddSession, AddState, Export, Import, StatesByName, State: safe from any
//     goroutine; they hold the table lock briefly and never wait on extraction.
//   - Evaluate: safe from any goroutine. Concurrent calls on one generator
//     are serialized; calls on different generators are independent.
//
// INVARIANTS:
//   - A state's session id set only grows.
//   - A session is attached to at most one state.
//   - Extraction results are cached per session id and never recomputed.
type Generator struct {
	id          string
	logger      *slog.Logger
	parallelism int
	extract     Extractor

	evalMu sync.Mutex // serializes Evaluate

	mu       sync.Mutex
	sessions map[string]*registration
	states   map[string]*state
	cache    map[string]*extract.Result
}

// registration is a session added with AddSession.
type registration struct {
	log    extract.SessionLog
	tabID  int64
	window ir.Window
	state  string // "" until AddState
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithParallelism bounds how many sessions are extracted, and how many
// states are reduced, at once. Default: GOMAXPROCS. Values below 1 mean 1.
func WithParallelism(n int) Option {
	return func(g *Generator) {
		g.parallelism = max(n, 1)
	}
}

// WithExtractor replaces the extractor. Used by tests to count or fail
// extractions.
func WithExtractor(fn Extractor) Option {
	return func(g *Generator) {
		if fn != nil {
			g.extract = fn
		}
	}
}

// New creates a Generator. The id namespaces state ids, so two generators
// with different ids never produce the same state id for a name.
func New(id string, opts ...Option) *Generator {
	g := &Generator{
		id:          id,
		logger:      slog.Default(),
		parallelism: runtime.GOMAXPROCS(0),
		extract:     extract.Extract,
		sessions:    make(map[string]*registration),
		states:      make(map[string]*state),
		cache:       make(map[string]*extract.Result),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ID returns the generator id.
func (g *Generator) ID() string {
	return g.id
}

// AddSession registers the tab of a recorded session for later evaluation
// and returns the session id. Nothing is extracted until Evaluate.
//
// Adding the same session with the same tab and window again is a no-op.
// Fails with a *ValidationError for a nil log, an invalid window, an
// unknown tab, or a session id re-added with a different tab or window.
func (g *Generator) AddSession(ctx context.Context, log extract.SessionLog, tabID int64, w ir.Window) (string, error) {
	if log == nil {
		return "", newValidationError(ErrCodeInvalidSession, "session log is nil")
	}
	sessionID := log.SessionID()
	if !utf8.ValidString(sessionID) {
		return "", newValidationError(ErrCodeInvalidSession, "session id %q is not valid UTF-8", sessionID)
	}
	if err := w.Validate(); err != nil {
		ve := newValidationError(ErrCodeInvalidWindow, "%v", err)
		ve.SessionID = sessionID
		return "", ve
	}

	ok, err := log.HasTab(ctx, tabID)
	if err != nil {
		return "", fmt.Errorf("add session %s: %w", sessionID, err)
	}
	if !ok {
		ve := newValidationError(ErrCodeUnknownTab, "session has no tab %d", tabID)
		ve.SessionID = sessionID
		return "", ve
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.sessions[sessionID]; ok {
		if existing.tabID == tabID && existing.window == w {
			return sessionID, nil
		}
		ve := newValidationError(ErrCodeDuplicateSession,
			"session already added with tab %d window [%d, %d)",
			existing.tabID, existing.window.Start, existing.window.End)
		ve.SessionID = sessionID
		return "", ve
	}

	g.sessions[sessionID] = &registration{log: log, tabID: tabID, window: w}
	g.logger.Debug("session added",
		"generator", g.id,
		"session", sessionID,
		"tab", tabID,
		"window_start", w.Start,
		"window_end", w.End,
	)
	return sessionID, nil
}

// AddState attaches a previously added session to the named state,
// creating the state on first use. Attaching a session to the state it
// already belongs to is a no-op; attaching it to a different state fails.
func (g *Generator) AddState(name, sessionID string) error {
	if err := validateStateName(name); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	reg, ok := g.sessions[sessionID]
	if !ok {
		ve := newValidationError(ErrCodeUnknownSession, "session was never added")
		ve.SessionID = sessionID
		ve.State = name
		return ve
	}
	if reg.state == name {
		return nil
	}
	if reg.state != "" {
		ve := newValidationError(ErrCodeSessionAttached, "session already belongs to state %q", reg.state)
		ve.SessionID = sessionID
		ve.State = name
		ve.Details = map[string]string{"attached_to": reg.state}
		return ve
	}

	st := g.stateLocked(name)
	reg.state = name
	st.members = append(st.members, sessionID)
	st.sessionIDs[sessionID] = struct{}{}
	return nil
}

func validateStateName(name string) error {
	if name == "" {
		return newValidationError(ErrCodeInvalidStateName, "state name is empty")
	}
	if !utf8.ValidString(name) {
		return newValidationError(ErrCodeInvalidStateName, "state name %q is not valid UTF-8", name)
	}
	return nil
}

// stateLocked returns the named state, creating it if needed.
// Caller must hold g.mu.
func (g *Generator) stateLocked(name string) *state {
	st, ok := g.states[name]
	if !ok {
		st = newState(name, ir.StateID(g.id, name))
		g.states[name] = st
	}
	return st
}

// Report summarises one Evaluate call.
type Report struct {
	// States lists every state, sorted by name.
	States []StateReport
	// Failures lists frame-level extraction failures of every session that
	// took part, sorted by session then frame.
	Failures []FrameFailure
	// Extracted counts sessions extracted by this call; cached ones are not.
	Extracted int
}

// StateReport describes one state after evaluation.
type StateReport struct {
	Name       string
	ID         string
	Sessions   int
	Frames     int
	Assertions int
}

// FrameFailure is a frame excluded from consensus because its session log
// could not be extracted.
type FrameFailure struct {
	SessionID string
	FrameID   int64
	Err       error
}

// Evaluate recomputes every state's consensus from its full session set.
//
// Sessions not yet extracted are extracted in parallel and cached. A frame
// that fails to extract is left out of that state's reduction and listed in
// the report; it never fails the call. Evaluate only returns an error when
// ctx is done, in which case no state or cache entry is changed.
func (g *Generator) Evaluate(ctx context.Context) (*Report, error) {
	g.evalMu.Lock()
	defer g.evalMu.Unlock()

	jobs, pending := g.plan()

	extracted, err := g.extractAll(ctx, pending)
	if err != nil {
		return nil, err
	}

	// The cache is only written once reduction has succeeded.
	g.mu.Lock()
	for _, job := range jobs {
		for _, sessionID := range job.members {
			res, ok := extracted[sessionID]
			if !ok {
				res = g.cache[sessionID]
			}
			job.inputs = append(job.inputs, res)
		}
	}
	g.mu.Unlock()

	results := make([]FrameMap, len(jobs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelism)
	for i, job := range jobs {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			results[i] = job.reduce()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	report := &Report{Extracted: len(extracted)}

	g.mu.Lock()
	for sessionID, res := range extracted {
		g.cache[sessionID] = res
	}
	for i, job := range jobs {
		st := g.states[job.name]
		st.asserts = results[i]
		report.States = append(report.States, st.report())
		for j, res := range job.inputs {
			for frameID, ferr := range res.Failures {
				report.Failures = append(report.Failures, FrameFailure{
					SessionID: job.members[j],
					FrameID:   frameID,
					Err:       ferr,
				})
			}
		}
	}
	g.mu.Unlock()

	slices.SortFunc(report.Failures, func(a, b FrameFailure) int {
		if c := cmp.Compare(a.SessionID, b.SessionID); c != 0 {
			return c
		}
		return cmp.Compare(a.FrameID, b.FrameID)
	})

	g.logger.Debug("evaluate complete",
		"generator", g.id,
		"states", len(report.States),
		"extracted", report.Extracted,
		"failures", len(report.Failures),
	)
	return report, nil
}

// reduceJob is one state's input to reduction.
type reduceJob struct {
	name     string
	baseline FrameMap
	members  []string
	inputs   []*extract.Result // parallel to members
}

func (j *reduceJob) reduce() FrameMap {
	sets := make([]FrameMap, 0, len(j.inputs)+1)
	if j.baseline != nil {
		sets = append(sets, j.baseline)
	}
	for _, res := range j.inputs {
		sets = append(sets, frameMapFromResult(res))
	}
	return Reduce(sets...)
}

// extractJob is one session awaiting extraction.
type extractJob struct {
	sessionID string
	reg       registration
}

// plan snapshots the tables: one reduce job per state, sorted by name, and
// the attached sessions that have no cached extraction.
func (g *Generator) plan() ([]*reduceJob, []extractJob) {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.states))
	for name := range g.states {
		names = append(names, name)
	}
	slices.Sort(names)

	jobs := make([]*reduceJob, 0, len(names))
	var pending []extractJob
	for _, name := range names {
		st := g.states[name]
		jobs = append(jobs, &reduceJob{
			name:     name,
			baseline: st.baseline,
			members:  slices.Clone(st.members),
		})
		for _, sessionID := range st.members {
			if _, cached := g.cache[sessionID]; !cached {
				pending = append(pending, extractJob{sessionID: sessionID, reg: *g.sessions[sessionID]})
			}
		}
	}
	return jobs, pending
}

// extractAll extracts the pending sessions with bounded parallelism.
func (g *Generator) extractAll(ctx context.Context, pending []extractJob) (map[string]*extract.Result, error) {
	results := make([]*extract.Result, len(pending))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelism)
	for i, job := range pending {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			res := g.extract(egCtx, job.reg.log, job.reg.tabID, job.reg.window)
			if res == nil {
				res = &extract.Result{SessionID: job.sessionID}
			}
			for frameID, ferr := range res.Failures {
				g.logger.Warn("frame extraction failed",
					"generator", g.id,
					"session", job.sessionID,
					"frame", frameID,
					"error", ferr,
				)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	// A cancelled context surfaces as read failures inside results, which
	// must not be cached.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	out := make(map[string]*extract.Result, len(pending))
	for i, job := range pending {
		out[job.sessionID] = results[i]
	}
	return out, nil
}
