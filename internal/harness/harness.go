package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/pagestate/internal/engine"
	"github.com/roach88/pagestate/internal/ir"
	"github.com/roach88/pagestate/internal/store"
	"github.com/roach88/pagestate/internal/testutil"
)

// scenarioEpoch stamps session creation times so stores built from the same
// scenario are identical.
const scenarioEpoch int64 = 1_700_000_000_000

// Recorded is a session written to the store by Record, together with the
// tab, window and state the scenario reads it under.
type Recorded struct {
	SessionID string
	TabID     int64
	Window    ir.Window
	State     string
}

// Harness runs scenarios against a store and a generator.
type Harness struct {
	store  *store.Store
	clock  *testutil.DeterministicClock
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database
// 2. Record every session's events
// 3. Attach the sessions to a new generator and evaluate it
// 4. Export every state and check the expect clauses
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context and generator options.
func RunContext(ctx context.Context, scenario *Scenario, opts ...engine.Option) (*Result, error) {
	clock := testutil.NewDeterministicClock(scenarioEpoch)
	st, err := store.Open(":memory:", store.WithClock(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  clock,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	recs, err := h.record(ctx, scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to record sessions: %w", err)
	}

	opts = append([]engine.Option{engine.WithLogger(h.logger)}, opts...)
	gen := engine.New(scenario.GeneratorID(), opts...)
	if err := Attach(ctx, st, gen, recs); err != nil {
		return nil, err
	}

	report, err := gen.Evaluate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate: %w", err)
	}

	result := NewResult()
	result.Failures = report.Failures
	for _, sr := range report.States {
		snap, err := gen.Export(sr.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to export state %q: %w", sr.Name, err)
		}
		result.Snapshots[sr.Name] = snap
	}

	for _, msg := range CheckExpectations(result.Snapshots, scenario.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

// Record writes every session of the scenario into st. Sessions already
// present are left as they are and their events appended again, so record
// into a fresh database.
func Record(ctx context.Context, st *store.Store, scenario *Scenario) ([]Recorded, error) {
	h := &Harness{store: st}
	return h.record(ctx, scenario)
}

func (h *Harness) record(ctx context.Context, scenario *Scenario) ([]Recorded, error) {
	var recs []Recorded
	for i, spec := range scenario.Sessions {
		for _, id := range spec.SessionIDs() {
			if err := h.recordSession(ctx, scenario.Name, id, spec); err != nil {
				return nil, fmt.Errorf("session %d (%s): %w", i, id, err)
			}
			recs = append(recs, Recorded{
				SessionID: id,
				TabID:     spec.TabID(),
				Window:    spec.Window.Window(),
				State:     spec.State,
			})
			if h.clock != nil {
				h.clock.Advance(1)
			}
		}
	}
	return recs, nil
}

func (h *Harness) recordSession(ctx context.Context, name, id string, spec SessionSpec) error {
	tab := spec.TabID()
	if err := h.store.CreateSessionWithID(ctx, id, name, tab); err != nil {
		return err
	}
	for _, f := range spec.Frames {
		parent := f.Parent
		if parent == 0 {
			parent = ir.TopFrameID
		}
		frame := ir.Frame{TabID: tab, FrameID: f.ID, ParentFrameID: parent, Name: f.Name}
		if err := h.store.WriteFrame(ctx, id, frame); err != nil {
			return err
		}
	}
	for j, e := range spec.Events {
		// Events are stored in file order; seq breaks timestamp ties.
		if err := h.writeEvent(ctx, id, tab, int64(j+1), e); err != nil {
			return fmt.Errorf("event %d: %w", j, err)
		}
	}
	return nil
}

func (h *Harness) writeEvent(ctx context.Context, sessionID string, tab, seq int64, e EventSpec) error {
	frame := e.FrameID()
	switch e.Do {
	case EventNavigate:
		return h.store.WriteNavigation(ctx, sessionID, ir.Navigation{
			TabID: tab, FrameID: frame, URL: e.URL, Reason: e.Reason, Timestamp: e.At, Seq: seq,
		})
	case EventReset:
		// A document replacement is always preceded by the navigation that
		// caused it.
		if e.URL != "" {
			reason := e.Reason
			if reason == "" {
				reason = "goto"
			}
			if err := h.store.WriteNavigation(ctx, sessionID, ir.Navigation{
				TabID: tab, FrameID: frame, URL: e.URL, Reason: reason, Timestamp: e.At, Seq: seq,
			}); err != nil {
				return err
			}
		}
		return h.writeDom(ctx, sessionID, tab, seq, e, ir.DomOpDocReset)
	case EventInsert:
		return h.writeDom(ctx, sessionID, tab, seq, e, ir.DomOpInsert)
	case EventRemove:
		return h.writeDom(ctx, sessionID, tab, seq, e, ir.DomOpRemove)
	case EventText:
		return h.writeDom(ctx, sessionID, tab, seq, e, ir.DomOpText)
	case EventAttr:
		return h.writeDom(ctx, sessionID, tab, seq, e, ir.DomOpAttr)
	case EventAttrDel:
		return h.writeDom(ctx, sessionID, tab, seq, e, ir.DomOpAttrDel)
	case EventStorage:
		action := ir.StorageAction(e.Action)
		if action == "" {
			action = ir.StorageAdd
		}
		return h.store.WriteStorageChange(ctx, sessionID, ir.StorageChange{
			TabID:          tab,
			FrameID:        frame,
			Timestamp:      e.At,
			Seq:            seq,
			Type:           ir.StorageType(e.Storage),
			Action:         action,
			SecurityOrigin: e.Origin,
			Key:            e.Key,
			Value:          e.Value,
			Database:       e.Database,
			Store:          e.Store,
		})
	case EventResource:
		return h.store.WriteResource(ctx, sessionID, ir.Resource{
			TabID:        tab,
			FrameID:      frame,
			Timestamp:    e.At,
			URL:          e.URL,
			Method:       e.Method,
			ResourceType: e.ResourceType,
			StatusCode:   e.Status,
		})
	default:
		return fmt.Errorf("unknown event %q", e.Do)
	}
}

func (h *Harness) writeDom(ctx context.Context, sessionID string, tab, seq int64, e EventSpec, op ir.DomOp) error {
	return h.store.WriteDomChange(ctx, sessionID, ir.DomChange{
		TabID:     tab,
		FrameID:   e.FrameID(),
		Timestamp: e.At,
		Seq:       seq,
		Op:        op,
		XPath:     e.XPath,
		HTML:      e.HTML,
		Name:      e.Name,
		Value:     e.Value,
		URL:       e.URL,
	})
}

// Attach adds each recorded session to gen and labels it with its state.
func Attach(ctx context.Context, st *store.Store, gen *engine.Generator, recs []Recorded) error {
	for _, rec := range recs {
		log, err := st.Session(ctx, rec.SessionID)
		if err != nil {
			return fmt.Errorf("attach %s: %w", rec.SessionID, err)
		}
		id, err := gen.AddSession(ctx, log, rec.TabID, rec.Window)
		if err != nil {
			return fmt.Errorf("attach %s: %w", rec.SessionID, err)
		}
		if err := gen.AddState(rec.State, id); err != nil {
			return fmt.Errorf("attach %s: %w", rec.SessionID, err)
		}
	}
	return nil
}
