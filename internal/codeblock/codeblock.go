// Package codeblock persists generated states for downstream listeners.
//
// Each state is written as its canonical snapshot to
//
//	<root>/pagestate/<generatorID>/<stateID>.json
//
// next to a states.json manifest mapping state names to ids. A listener
// refers to a state by the path @/pagestate/<generatorID>/<stateID>.json
// and runs one Tab.assert command per state against the frames listed in
// the manifest.
package codeblock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/moby/sys/atomicwriter"

	"github.com/roach88/pagestate/internal/engine"
)

// Dir is the directory under the root that holds all generators.
const Dir = "pagestate"

// ManifestFile is the per-generator index of persisted states.
const ManifestFile = "states.json"

// AssertCommand is the listener command that checks one state.
const AssertCommand = "Tab.assert"

// Manifest lists a generator's persisted states, sorted by name.
type Manifest struct {
	GeneratorID string  `json:"generatorId"`
	States      []Entry `json:"states"`
}

// Entry is one persisted state.
type Entry struct {
	Name   string  `json:"name"`
	ID     string  `json:"id"`
	Frames []int64 `json:"frames"`
}

// Lookup returns the entry for name.
func (m Manifest) Lookup(name string) (Entry, bool) {
	for _, e := range m.States {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Path returns the file a state is persisted to.
func Path(root, generatorID, stateID string) string {
	return filepath.Join(root, Dir, generatorID, stateID+".json")
}

// Reference returns the root-relative path a listener uses for a state.
func Reference(generatorID, stateID string) string {
	return "@/" + Dir + "/" + generatorID + "/" + stateID + ".json"
}

// Write persists the snapshots, keyed by state name, and merges them into
// the generator's manifest. States already in the manifest but not in
// snaps are kept. Files are replaced atomically.
func Write(root, generatorID string, snaps map[string]engine.Snapshot) (Manifest, error) {
	if err := validateSegment(generatorID); err != nil {
		return Manifest{}, fmt.Errorf("generator id: %w", err)
	}
	dir := filepath.Join(root, Dir, generatorID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("create %s: %w", dir, err)
	}

	manifest, err := readManifest(dir)
	if errors.Is(err, fs.ErrNotExist) {
		manifest = Manifest{GeneratorID: generatorID}
	} else if err != nil {
		return Manifest{}, err
	}

	names := make([]string, 0, len(snaps))
	for name := range snaps {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		snap := snaps[name]
		if err := validateSegment(snap.ID); err != nil {
			return Manifest{}, fmt.Errorf("state %q id: %w", name, err)
		}
		data, err := snap.MarshalCanonical()
		if err != nil {
			return Manifest{}, fmt.Errorf("state %q: %w", name, err)
		}
		if err := atomicwriter.WriteFile(Path(root, generatorID, snap.ID), data, 0o644); err != nil {
			return Manifest{}, fmt.Errorf("write state %q: %w", name, err)
		}
		manifest.put(Entry{Name: name, ID: snap.ID, Frames: frames(snap)})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := atomicwriter.WriteFile(filepath.Join(dir, ManifestFile), append(data, '\n'), 0o644); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// WriteGenerator exports every state of g and persists it under root.
func WriteGenerator(root string, g *engine.Generator) (Manifest, error) {
	snaps := make(map[string]engine.Snapshot)
	for name := range g.StatesByName() {
		snap, err := g.Export(name)
		if err != nil {
			return Manifest{}, err
		}
		snaps[name] = snap
	}
	return Write(root, g.ID(), snaps)
}

// Load reads back every state in the generator's manifest, keyed by name.
// A missing manifest yields an error wrapping fs.ErrNotExist.
func Load(root, generatorID string) (map[string]engine.Snapshot, Manifest, error) {
	if err := validateSegment(generatorID); err != nil {
		return nil, Manifest{}, fmt.Errorf("generator id: %w", err)
	}
	manifest, err := readManifest(filepath.Join(root, Dir, generatorID))
	if err != nil {
		return nil, Manifest{}, err
	}

	snaps := make(map[string]engine.Snapshot, len(manifest.States))
	for _, e := range manifest.States {
		data, err := os.ReadFile(Path(root, generatorID, e.ID))
		if err != nil {
			return nil, Manifest{}, fmt.Errorf("read state %q: %w", e.Name, err)
		}
		snap, err := engine.UnmarshalSnapshot(data)
		if err != nil {
			return nil, Manifest{}, fmt.Errorf("state %q: %w", e.Name, err)
		}
		if snap.ID != e.ID {
			return nil, Manifest{}, fmt.Errorf("state %q: file holds id %q, manifest says %q", e.Name, snap.ID, e.ID)
		}
		snaps[e.Name] = snap
	}
	return snaps, manifest, nil
}

func readManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

func (m *Manifest) put(e Entry) {
	i := slices.IndexFunc(m.States, func(x Entry) bool { return x.Name == e.Name })
	if i >= 0 {
		m.States[i] = e
	} else {
		m.States = append(m.States, e)
	}
	slices.SortFunc(m.States, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
}

// frames returns the distinct frame ids with assertions, ascending.
func frames(snap engine.Snapshot) []int64 {
	ids := []int64{}
	for _, a := range snap.Assertions {
		if !slices.Contains(ids, a.FrameID) {
			ids = append(ids, a.FrameID)
		}
	}
	slices.Sort(ids)
	return ids
}

// validateSegment rejects ids that would escape their directory.
func validateSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is not a valid path segment", s)
	case strings.ContainsAny(s, `/\`):
		return fmt.Errorf("%q contains a path separator", s)
	}
	return nil
}
