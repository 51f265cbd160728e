package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/itemsync/internal/notify"
)

// Scenario defines a coordinator test scenario.
// A scenario seeds a store from a CUE workspace, drives the coordinator
// through a list of steps, and asserts on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workspace is the CUE workspace directory that seeds the store.
	// Relative paths are resolved against the scenario file location.
	Workspace string `yaml:"workspace"`

	// Notify configures the notification port for shared entities.
	Notify NotifyConfig `yaml:"notify,omitempty"`

	// Steps run in order. The coordinator is flushed after every step.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// NotifyConfig selects the notifier behavior.
type NotifyConfig struct {
	// Policy is send (default), ask, skip or abort.
	Policy string `yaml:"policy,omitempty"`

	// FailMode is keep (default) or abort.
	FailMode string `yaml:"fail_mode,omitempty"`

	// Confirm holds the user's answers for policy ask, consumed in order.
	// Once exhausted every prompt is confirmed.
	Confirm []bool `yaml:"confirm,omitempty"`
}

// Step is one action against the coordinator or the store.
type Step struct {
	// Op is the step kind; see the Op constants.
	Op string `yaml:"op"`

	// Entity is the target id for change, delete and forget.
	Entity int64 `yaml:"entity,omitempty"`

	// Entities lists the targets of delete_many.
	Entities []int64 `yaml:"entities,omitempty"`

	// Collection names the workspace collection an add goes into.
	Collection string `yaml:"collection,omitempty"`

	// Kind is the entity kind of an add.
	Kind string `yaml:"kind,omitempty"`

	// Shared marks an added entity as group-shared.
	Shared bool `yaml:"shared,omitempty"`

	// Revision overrides the revision the caller believes the entity has,
	// simulating a cache that has not caught up with the store.
	Revision int64 `yaml:"revision,omitempty"`

	// Payload is the full payload of an add, or the fields a change sets.
	Payload map[string]any `yaml:"payload,omitempty"`

	// Atomic names an atomic operation opened by a begin step.
	Atomic string `yaml:"atomic,omitempty"`

	// UI is echoed back in every signal for the request.
	UI string `yaml:"ui,omitempty"`

	// Job is the store job seq a release step completes.
	Job int64 `yaml:"job,omitempty"`

	// Count is the number of sends a fail_sends step makes fail.
	Count int `yaml:"count,omitempty"`

	// Expect checks the request verdict. If nil, no validation is performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// Step ops.
const (
	OpAdd        = "add"
	OpChange     = "change"
	OpDelete     = "delete"
	OpDeleteMany = "delete_many"
	OpBegin      = "begin"
	OpEnd        = "end"
	OpRelease    = "release"
	OpReleaseAll = "release_all"
	OpForget     = "forget"
	OpFailSends  = "fail_sends"
)

// ExpectClause specifies the expected request verdict.
type ExpectClause struct {
	// Case is "accepted" or a reject code such as STALE_STATE.
	Case string `yaml:"case"`
}

// CaseAccepted is the expect case of an accepted request.
const CaseAccepted = "accepted"

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event matching Event and Args appears
	// - "trace_order": Events appear in order
	// - "trace_count": Event appears exactly Count times
	// - "final_state": query a store table and verify values
	Type string `yaml:"type"`

	// Event is an event type ("entity_gone") or a key ("entity_gone:10").
	Event string `yaml:"event,omitempty"`

	// Args are expected event fields (used by trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]any `yaml:"args,omitempty"`

	// Events is the expected event order (used by trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Table is the store table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts that no row matches Where (used by final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// workspace path relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the workspace path relative to the provided base path.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the workspace path BEFORE validation
	if scenario.Workspace != "" && !filepath.IsAbs(scenario.Workspace) && basePath != "" {
		scenario.Workspace = filepath.Join(basePath, scenario.Workspace)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if info, err := os.Stat(s.Workspace); err != nil || !info.IsDir() {
		return fmt.Errorf("workspace directory not found: %s", s.Workspace)
	}

	if s.Notify.Policy != "" {
		if _, err := notify.ParsePolicy(s.Notify.Policy); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	if s.Notify.FailMode != "" {
		if _, err := notify.ParseFailMode(s.Notify.FailMode); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks the fields each op needs.
func validateStep(index int, st *Step) error {
	switch st.Op {
	case OpAdd:
		if st.Collection == "" || st.Kind == "" {
			return fmt.Errorf("steps[%d]: add requires collection and kind", index)
		}
	case OpChange, OpDelete, OpForget:
		if st.Entity == 0 {
			return fmt.Errorf("steps[%d]: %s requires entity", index, st.Op)
		}
	case OpDeleteMany:
		if len(st.Entities) == 0 {
			return fmt.Errorf("steps[%d]: delete_many requires entities", index)
		}
	case OpBegin, OpEnd:
		if st.Atomic == "" {
			return fmt.Errorf("steps[%d]: %s requires atomic", index, st.Op)
		}
	case OpRelease:
		if st.Job <= 0 {
			return fmt.Errorf("steps[%d]: release requires a positive job", index)
		}
	case OpReleaseAll:
	case OpFailSends:
		if st.Count <= 0 {
			return fmt.Errorf("steps[%d]: fail_sends requires a positive count", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, st.Op)
	}

	if st.Expect != nil && st.Expect.Case == "" {
		return fmt.Errorf("steps[%d].expect: case is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
