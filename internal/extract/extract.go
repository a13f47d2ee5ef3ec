package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/pagestate/internal/ir"
)

// ErrInconsistentLog marks a log whose records cannot be replayed, such as
// a mutation addressing a node that does not exist.
var ErrInconsistentLog = errors.New("inconsistent session log")

// SessionLog is the read side of a recorded session.
// Implementations must be safe for concurrent use; the extractor never writes.
type SessionLog interface {
	SessionID() string
	HasTab(ctx context.Context, tabID int64) (bool, error)
	Frames(ctx context.Context, tabID int64) ([]ir.Frame, error)
	DomChanges(ctx context.Context, tabID, frameID int64, w ir.Window) ([]ir.DomChange, error)
	StorageChanges(ctx context.Context, tabID int64, w ir.Window) ([]ir.StorageChange, error)
	Resources(ctx context.Context, tabID int64, w ir.Window) ([]ir.Resource, error)
}

// Result holds one session's observations grouped by frame id.
//
// Frames only holds frames with at least one observation. A frame present
// in Failures is never present in Frames.
type Result struct {
	SessionID string
	Frames    map[int64][]ir.Observation
	Failures  map[int64]error
}

// Failed reports whether any frame failed to extract.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

// FrameIDs returns the ids of frames with observations, ascending.
func (r *Result) FrameIDs() []int64 {
	ids := make([]int64, 0, len(r.Frames))
	for id := range r.Frames {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Extract reads the tab's events in w and returns its observations.
// It never fails as a whole; per-frame problems land in Result.Failures.
func Extract(ctx context.Context, log SessionLog, tabID int64, w ir.Window) *Result {
	res := &Result{
		SessionID: log.SessionID(),
		Frames:    make(map[int64][]ir.Observation),
		Failures:  make(map[int64]error),
	}

	frames, err := log.Frames(ctx, tabID)
	if err != nil {
		res.Failures[ir.TopFrameID] = fmt.Errorf("read frames: %w", err)
		return res
	}

	obs := make(map[int64][]ir.Observation)
	for _, f := range frames {
		facts, err := domObservations(ctx, log, tabID, f.FrameID, w)
		if err != nil {
			res.Failures[f.FrameID] = fmt.Errorf("frame %d: %w", f.FrameID, err)
			continue
		}
		obs[f.FrameID] = append(obs[f.FrameID], facts...)
	}

	storage, err := log.StorageChanges(ctx, tabID, w)
	if err != nil {
		failAll(res, frames, fmt.Errorf("read storage changes: %w", err))
	} else {
		for frameID, facts := range storageObservations(storage) {
			obs[frameID] = append(obs[frameID], facts...)
		}
	}

	resources, err := log.Resources(ctx, tabID, w)
	if err != nil {
		failAll(res, frames, fmt.Errorf("read resources: %w", err))
	} else {
		for frameID, facts := range resourceObservations(resources) {
			obs[frameID] = append(obs[frameID], facts...)
		}
	}

	for frameID, facts := range obs {
		if _, failed := res.Failures[frameID]; failed || len(facts) == 0 {
			continue
		}
		ir.SortAssertions(facts)
		res.Frames[frameID] = facts
	}
	return res
}

// failAll marks every known frame as failed, keeping earlier errors.
func failAll(res *Result, frames []ir.Frame, err error) {
	for _, f := range frames {
		if _, ok := res.Failures[f.FrameID]; !ok {
			res.Failures[f.FrameID] = err
		}
	}
}
