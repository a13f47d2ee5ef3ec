package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/pagestate/internal/ir"
)

// DefaultGeneratorID is used when a scenario does not name its generator.
const DefaultGeneratorID = "scenario"

// Scenario is a recorded-session fixture: one or more sessions with
// timestamped page events, the state each session demonstrates, and the
// expectations the resulting consensus must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Generator is the generator id that namespaces state ids.
	// Defaults to DefaultGeneratorID.
	Generator string `yaml:"generator,omitempty"`

	// Sessions are recorded into the store in order.
	Sessions []SessionSpec `yaml:"sessions"`

	// Expect validates the exported states after evaluation.
	Expect []Expectation `yaml:"expect"`
}

// GeneratorID returns the generator id the scenario runs under.
func (s *Scenario) GeneratorID() string {
	if s.Generator == "" {
		return DefaultGeneratorID
	}
	return s.Generator
}

// SessionSpec describes one recorded session and the state it demonstrates.
type SessionSpec struct {
	// ID is the session id. With Repeat > 1 each copy is suffixed "-1", "-2", ...
	ID string `yaml:"id"`

	// Tab is the tab the state is read from. Defaults to 1.
	Tab int64 `yaml:"tab,omitempty"`

	// State is the label this session is attached to.
	State string `yaml:"state"`

	// Window is the half-open time range the state is read from.
	Window WindowSpec `yaml:"window"`

	// Repeat records the same events under several session ids.
	Repeat int `yaml:"repeat,omitempty"`

	// Frames declares child frames. The top frame always exists.
	Frames []FrameSpec `yaml:"frames,omitempty"`

	// Events are the page events, in recording order.
	Events []EventSpec `yaml:"events"`
}

// TabID returns the tab with the default applied.
func (s SessionSpec) TabID() int64 {
	if s.Tab == 0 {
		return 1
	}
	return s.Tab
}

// SessionIDs returns the ids recorded for this spec.
func (s SessionSpec) SessionIDs() []string {
	if s.Repeat <= 1 {
		return []string{s.ID}
	}
	ids := make([]string, s.Repeat)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", s.ID, i+1)
	}
	return ids
}

// WindowSpec is a [start, end) range in epoch milliseconds.
type WindowSpec struct {
	Start int64 `yaml:"start"`
	End   int64 `yaml:"end"`
}

// Window converts to ir.Window.
func (w WindowSpec) Window() ir.Window {
	return ir.Window{Start: w.Start, End: w.End}
}

// FrameSpec declares a child frame.
type FrameSpec struct {
	ID     int64  `yaml:"id"`
	Parent int64  `yaml:"parent,omitempty"`
	Name   string `yaml:"name,omitempty"`
}

// EventSpec is one page event. Do selects which fields apply.
type EventSpec struct {
	At    int64  `yaml:"at"`
	Frame int64  `yaml:"frame,omitempty"`
	Do    string `yaml:"do"`

	// navigate, reset
	URL    string `yaml:"url,omitempty"`
	Reason string `yaml:"reason,omitempty"`

	// reset, insert, remove, text, attr, attr_del
	XPath string `yaml:"xpath,omitempty"`
	HTML  string `yaml:"html,omitempty"`
	Name  string `yaml:"name,omitempty"`
	Value string `yaml:"value,omitempty"`

	// storage
	Storage  string `yaml:"storage,omitempty"`
	Action   string `yaml:"action,omitempty"`
	Origin   string `yaml:"origin,omitempty"`
	Key      string `yaml:"key,omitempty"`
	Database string `yaml:"database,omitempty"`
	Store    string `yaml:"store,omitempty"`

	// resource
	Method       string `yaml:"method,omitempty"`
	ResourceType string `yaml:"resource_type,omitempty"`
	Status       int64  `yaml:"status,omitempty"`
}

// FrameID returns the frame with the default applied.
func (e EventSpec) FrameID() int64 {
	if e.Frame == 0 {
		return ir.TopFrameID
	}
	return e.Frame
}

// Event kinds.
const (
	EventNavigate = "navigate"
	EventReset    = "reset"
	EventInsert   = "insert"
	EventRemove   = "remove"
	EventText     = "text"
	EventAttr     = "attr"
	EventAttrDel  = "attr_del"
	EventStorage  = "storage"
	EventResource = "resource"
)

// Expectation validates one exported state.
type Expectation struct {
	// State names the state under test.
	State string `yaml:"state"`

	// Has lists facts the consensus must contain.
	Has []FactSpec `yaml:"has,omitempty"`

	// Absent lists facts whose key must not appear.
	Absent []FactSpec `yaml:"absent,omitempty"`

	// Frames, if set, is the exact set of frames holding assertions.
	Frames []int64 `yaml:"frames,omitempty"`

	// Sessions, if set, is the exact session history of the state.
	Sessions []string `yaml:"sessions,omitempty"`

	// Differs lists states whose consensus must not equal this one.
	Differs []string `yaml:"differs,omitempty"`

	// Count, if set, is the exact number of assertions across frames.
	Count *int `yaml:"count,omitempty"`
}

// FactSpec names an assertion by frame, type and args. Result is optional
// for Has: when omitted any result matches. An explicit `result: null`
// matches only a null result.
type FactSpec struct {
	Frame  int64     `yaml:"frame,omitempty"`
	Type   string    `yaml:"type"`
	Args   []any     `yaml:"args"`
	Result yaml.Node `yaml:"result,omitempty"`
}

// FrameID returns the frame with the default applied.
func (f FactSpec) FrameID() int64 {
	if f.Frame == 0 {
		return ir.TopFrameID
	}
	return f.Frame
}

// Key returns the assertion key the fact addresses.
func (f FactSpec) Key() (string, error) {
	args, err := f.irArgs()
	if err != nil {
		return "", err
	}
	return ir.AssertionKey(ir.Kind(f.Type), args)
}

// ExpectedResult decodes Result. ok is false when no result was given.
func (f FactSpec) ExpectedResult() (v ir.IRValue, ok bool, err error) {
	// A zero node means the key was absent; `null` decodes to a scalar node.
	if f.Result.Kind == 0 {
		return nil, false, nil
	}
	var raw any
	if err := f.Result.Decode(&raw); err != nil {
		return nil, true, fmt.Errorf("result: %w", err)
	}
	v, err = ir.FromAny(raw)
	if err != nil {
		return nil, true, fmt.Errorf("result: %w", err)
	}
	return v, true, nil
}

func (f FactSpec) irArgs() (ir.IRArray, error) {
	args := make(ir.IRArray, len(f.Args))
	for i, a := range f.Args {
		v, err := ir.FromAny(a)
		if err != nil {
			return nil, fmt.Errorf("args[%d]: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

// String renders the fact for error messages.
func (f FactSpec) String() string {
	args, err := f.irArgs()
	if err != nil {
		return fmt.Sprintf("frame %d %s %v", f.FrameID(), f.Type, f.Args)
	}
	b, _ := ir.MarshalCanonical(args)
	return fmt.Sprintf("frame %d %s %s", f.FrameID(), f.Type, b)
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "event:" vs "events:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the scenario files directly under dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	var paths []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("find scenarios: %w", err)
		}
		paths = append(paths, matches...)
	}
	slices.Sort(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sessions) == 0 {
		return fmt.Errorf("sessions list is required and must be non-empty")
	}

	ids := make(map[string]bool)
	states := make(map[string]bool)
	for i, sess := range s.Sessions {
		if err := validateSession(i, sess); err != nil {
			return err
		}
		for _, id := range sess.SessionIDs() {
			if ids[id] {
				return fmt.Errorf("sessions[%d]: duplicate session id %q", i, id)
			}
			ids[id] = true
		}
		states[sess.State] = true
	}

	for i, exp := range s.Expect {
		if exp.State == "" {
			return fmt.Errorf("expect[%d]: state is required", i)
		}
		if !states[exp.State] {
			return fmt.Errorf("expect[%d]: no session demonstrates state %q", i, exp.State)
		}
		for _, other := range exp.Differs {
			if !states[other] {
				return fmt.Errorf("expect[%d]: differs names unknown state %q", i, other)
			}
		}
		for j, f := range append(slices.Clone(exp.Has), exp.Absent...) {
			if !ir.ValidKinds[ir.Kind(f.Type)] {
				return fmt.Errorf("expect[%d]: fact %d: unknown type %q", i, j, f.Type)
			}
			if _, err := f.Key(); err != nil {
				return fmt.Errorf("expect[%d]: fact %d: %w", i, j, err)
			}
			if _, _, err := f.ExpectedResult(); err != nil {
				return fmt.Errorf("expect[%d]: fact %d: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateSession(index int, s SessionSpec) error {
	if s.ID == "" {
		return fmt.Errorf("sessions[%d]: id is required", index)
	}
	if s.State == "" {
		return fmt.Errorf("sessions[%d]: state is required", index)
	}
	if err := s.Window.Window().Validate(); err != nil {
		return fmt.Errorf("sessions[%d]: %w", index, err)
	}
	if s.Repeat < 0 {
		return fmt.Errorf("sessions[%d]: repeat must not be negative", index)
	}

	frames := map[int64]bool{ir.TopFrameID: true}
	for _, f := range s.Frames {
		if f.ID == ir.TopFrameID || f.ID <= 0 {
			return fmt.Errorf("sessions[%d]: invalid child frame id %d", index, f.ID)
		}
		frames[f.ID] = true
	}

	for j, e := range s.Events {
		if !frames[e.FrameID()] {
			return fmt.Errorf("sessions[%d].events[%d]: undeclared frame %d", index, j, e.FrameID())
		}
		if err := validateEvent(e); err != nil {
			return fmt.Errorf("sessions[%d].events[%d]: %w", index, j, err)
		}
	}
	return nil
}

func validateEvent(e EventSpec) error {
	switch e.Do {
	case EventNavigate:
		if e.URL == "" {
			return fmt.Errorf("url is required for navigate")
		}
	case EventReset:
		// An empty document is a valid reset.
	case EventInsert:
		if e.XPath == "" || e.HTML == "" {
			return fmt.Errorf("xpath and html are required for insert")
		}
	case EventRemove, EventText:
		if e.XPath == "" {
			return fmt.Errorf("xpath is required for %s", e.Do)
		}
	case EventAttr, EventAttrDel:
		if e.XPath == "" || e.Name == "" {
			return fmt.Errorf("xpath and name are required for %s", e.Do)
		}
	case EventStorage:
		switch ir.StorageType(e.Storage) {
		case ir.StorageLocal, ir.StorageSession, ir.StorageCookie, ir.StorageIndexedDB:
		default:
			return fmt.Errorf("unknown storage type %q", e.Storage)
		}
		switch ir.StorageAction(e.Action) {
		case "", ir.StorageAdd, ir.StorageUpdate, ir.StorageRemove:
		default:
			return fmt.Errorf("unknown storage action %q", e.Action)
		}
		if e.Origin == "" || e.Key == "" {
			return fmt.Errorf("origin and key are required for storage")
		}
	case EventResource:
		if e.URL == "" {
			return fmt.Errorf("url is required for resource")
		}
	case "":
		return fmt.Errorf("do is required")
	default:
		return fmt.Errorf("unknown event %q", e.Do)
	}
	return nil
}
