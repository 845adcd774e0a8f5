// Package scenario loads YAML scenario files and runs them against a fresh
// mocking engine.
//
// A scenario declares the units to mock, a list of steps (calls, waits and
// expectation changes), and the history each unit must end up with:
//
//	version: "1.0.0"
//	name: checkout
//	units:
//	  - name: billing
//	    exports:
//	      - {op: charge, arity: 2, impl: {value: ok}}
//	    options: {passthrough: true}
//	steps:
//	  - call: {unit: billing, op: charge, args: [10, usd], want: {value: ok}}
//	history:
//	  - unit: billing
//	    lines: ['- billing.charge(10, "usd") -> "ok"']
package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/mimic/internal/log"
	"github.com/zjrosen/mimic/internal/mock/expect"
)

// SupportedVersions is the range of scenario format versions this build reads.
const SupportedVersions = ">=1.0.0, <2.0.0"

// WildcardArg in an args list matches any value at its position.
const WildcardArg = "_"

// ErrInvalidScenario wraps every load and validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

//go:embed scenario.schema.json
var schemaJSON []byte

const schemaURL = "scenario.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// Scenario is one parsed scenario file.
type Scenario struct {
	Version     string        `yaml:"version"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Units       []UnitSpec    `yaml:"units"`
	Steps       []Step        `yaml:"steps"`
	History     []HistorySpec `yaml:"history"`

	// Path is the file the scenario was loaded from, empty for Parse.
	Path string `yaml:"-"`
}

// UnitSpec declares one unit and how it is mocked.
type UnitSpec struct {
	Name          string       `yaml:"name"`
	Virtual       bool         `yaml:"virtual"` // no original implementation
	Exports       []ExportSpec `yaml:"exports"`
	Autogenerated []string     `yaml:"autogenerated"`
	Builtins      []string     `yaml:"builtins"`
	Options       OptionsSpec  `yaml:"options"`
	Expect        []ExpectSpec `yaml:"expect"`
}

// ExportSpec is one operation of the original implementation.
type ExportSpec struct {
	Op    string `yaml:"op"`
	Arity int    `yaml:"arity"`
	Impl  Rule   `yaml:"impl"`
}

// OptionsSpec mirrors the engine's per-unit options.
type OptionsSpec struct {
	Passthrough    bool  `yaml:"passthrough"`
	Unrestricted   bool  `yaml:"unrestricted"`
	Merge          bool  `yaml:"merge"`
	DisableHistory bool  `yaml:"disable_history"`
	StubAll        *Rule `yaml:"stub_all"`
}

// IsZero reports whether no option is set.
func (o OptionsSpec) IsZero() bool {
	return o == OptionsSpec{}
}

// ApplyDefaults gives every unit that sets no options a copy of d.
// Virtual units never pass through.
func (s *Scenario) ApplyDefaults(d OptionsSpec) {
	if d.IsZero() {
		return
	}
	for i := range s.Units {
		u := &s.Units[i]
		if !u.Options.IsZero() {
			continue
		}
		u.Options = d
		if u.Virtual {
			u.Options.Passthrough = false
		}
	}
}

// ExpectSpec sets the expectation for one operation.
type ExpectSpec struct {
	Unit    string       `yaml:"unit"`
	Op      string       `yaml:"op"`
	Arity   int          `yaml:"arity"`
	Clauses []ClauseSpec `yaml:"clauses"`
	// Error names the failure the step must produce, e.g. undefined_function.
	Error string `yaml:"error"`
}

// ClauseSpec is one (args, rule) clause. Nil args match any arguments.
type ClauseSpec struct {
	Args []any `yaml:"args"`
	Rule Rule  `yaml:"rule"`
}

// Step is one action. Exactly one field is set.
type Step struct {
	Name       string      `yaml:"name"`
	Call       *CallStep   `yaml:"call"`
	Concurrent []CallStep  `yaml:"concurrent"`
	Wait       *WaitStep   `yaml:"wait"`
	Expect     *ExpectSpec `yaml:"expect"`
	Delete     *DeleteStep `yaml:"delete"`
	Reset      string      `yaml:"reset"`
}

// CallStep invokes an operation through the installed code.
type CallStep struct {
	Unit   string `yaml:"unit"`
	Op     string `yaml:"op"`
	Args   []any  `yaml:"args"`
	Caller string `yaml:"caller"`
	Want   *Rule  `yaml:"want"`
	Error  string `yaml:"error"`
}

// WaitStep blocks until enough matching calls are recorded. A missing times
// means 1 and "times: 0" succeeds at once. A missing timeout uses the
// runner's default; "0s" only polls.
type WaitStep struct {
	Unit    string         `yaml:"unit"`
	Op      string         `yaml:"op"`
	Args    []any          `yaml:"args"`
	Caller  string         `yaml:"caller"`
	Times   *int           `yaml:"times"`
	Timeout *time.Duration `yaml:"timeout"`
	Error   string         `yaml:"error"`
}

func (w *WaitStep) times() int {
	if w.Times == nil {
		return 1
	}
	return *w.Times
}

// DeleteStep removes the expectation for one operation.
type DeleteStep struct {
	Unit  string `yaml:"unit"`
	Op    string `yaml:"op"`
	Arity int    `yaml:"arity"`
	Force bool   `yaml:"force"`
	Error string `yaml:"error"`
}

// HistorySpec is the rendered history a unit must have after the steps.
type HistorySpec struct {
	Unit string `yaml:"unit"`
	// Unordered compares the lines as a multiset, for concurrent steps.
	Unordered bool     `yaml:"unordered"`
	Lines     []string `yaml:"lines"`
}

// Load reads and validates the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied scenario path
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	log.Debug(log.CatScenario, "loaded scenario", "path", path, "name", s.Name, "steps", len(s.Steps))
	return s, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}

	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	return &s, nil
}

// validateSchema checks the raw document against the embedded JSON schema.
// The YAML tree is re-encoded as JSON so the validator sees JSON types.
func validateSchema(doc any) error {
	schema, err := compileSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("scenario is not representable as JSON: %w", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

// CheckVersion reports whether v is a readable scenario format version.
func CheckVersion(v string) error {
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("version %q: %w", v, err)
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(version) {
		return fmt.Errorf("version %s is not supported (want %s)", v, SupportedVersions)
	}
	return nil
}

// Validate checks cross references the schema cannot express.
func (s *Scenario) Validate() error {
	if err := CheckVersion(s.Version); err != nil {
		return err
	}

	units := make(map[string]bool, len(s.Units))
	for i, u := range s.Units {
		if units[u.Name] {
			return fmt.Errorf("units[%d]: duplicate unit %q", i, u.Name)
		}
		units[u.Name] = true
		if err := u.validate(); err != nil {
			return fmt.Errorf("units[%d] %s: %w", i, u.Name, err)
		}
	}

	known := func(name string) error {
		if !units[name] {
			return fmt.Errorf("unknown unit %q", name)
		}
		return nil
	}
	for i, st := range s.Steps {
		if err := st.validate(known); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, h := range s.History {
		if err := known(h.Unit); err != nil {
			return fmt.Errorf("history[%d]: %w", i, err)
		}
	}
	return nil
}

func (u UnitSpec) validate() error {
	if u.Virtual && len(u.Exports) > 0 {
		return errors.New("a virtual unit has no exports")
	}
	if u.Virtual && u.Options.Passthrough {
		return errors.New("a virtual unit cannot pass through")
	}
	for _, e := range u.Exports {
		if _, err := e.Impl.Func(); err != nil {
			return fmt.Errorf("export %s/%d: %w", e.Op, e.Arity, err)
		}
	}
	for _, k := range append(append([]string{}, u.Autogenerated...), u.Builtins...) {
		if _, err := expect.ParseKey(k); err != nil {
			return err
		}
	}
	if u.Options.StubAll != nil {
		if _, err := u.Options.StubAll.Result(); err != nil {
			return fmt.Errorf("stub_all: %w", err)
		}
	}
	for _, e := range u.Expect {
		if e.Unit != "" && e.Unit != u.Name {
			return fmt.Errorf("expectation for %s/%d names unit %q", e.Op, e.Arity, e.Unit)
		}
		if err := e.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (e ExpectSpec) validate() error {
	for i, c := range e.Clauses {
		if c.Args != nil && len(c.Args) != e.Arity {
			return fmt.Errorf("expect %s/%d clause %d: %d args", e.Op, e.Arity, i, len(c.Args))
		}
		if _, err := c.Rule.Result(); err != nil {
			return fmt.Errorf("expect %s/%d clause %d: %w", e.Op, e.Arity, i, err)
		}
	}
	return checkErrorName(e.Error)
}

func (st Step) validate(known func(string) error) error {
	set := 0
	for _, present := range []bool{st.Call != nil, len(st.Concurrent) > 0, st.Wait != nil, st.Expect != nil, st.Delete != nil, st.Reset != ""} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("a step needs exactly one action, got %d", set)
	}

	switch {
	case st.Call != nil:
		return st.Call.validate(known)
	case len(st.Concurrent) > 0:
		for i, c := range st.Concurrent {
			if err := c.validate(known); err != nil {
				return fmt.Errorf("concurrent[%d]: %w", i, err)
			}
		}
		return nil
	case st.Wait != nil:
		if (st.Wait.Times != nil && *st.Wait.Times < 0) || (st.Wait.Timeout != nil && *st.Wait.Timeout < 0) {
			return errors.New("wait times and timeout must not be negative")
		}
		if err := checkErrorName(st.Wait.Error); err != nil {
			return err
		}
		return known(st.Wait.Unit)
	case st.Expect != nil:
		if err := st.Expect.validate(); err != nil {
			return err
		}
		return known(st.Expect.Unit)
	case st.Delete != nil:
		if err := checkErrorName(st.Delete.Error); err != nil {
			return err
		}
		return known(st.Delete.Unit)
	default:
		return known(st.Reset)
	}
}

func (c CallStep) validate(known func(string) error) error {
	if c.Want != nil && c.Error != "" {
		return errors.New("a call has either want or error")
	}
	if c.Want != nil && c.Want.Kind != RuleValue && c.Want.Kind != RuleRaise {
		return fmt.Errorf("want must be a value or raise rule, not %s", c.Want.Kind)
	}
	if err := checkErrorName(c.Error); err != nil {
		return err
	}
	return known(c.Unit)
}

// matcher converts a scenario args list. Nil matches anything.
func matcher(args []any) expect.ArgsMatcher {
	if args == nil {
		return nil
	}
	values := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok && s == WildcardArg {
			values[i] = expect.Wildcard
			continue
		}
		values[i] = a
	}
	return expect.Eq(values...)
}
