package actor

import (
	"fmt"

	"github.com/zjrosen/mimic/internal/mock/expect"
	"github.com/zjrosen/mimic/internal/mock/types"
	"github.com/zjrosen/mimic/internal/mock/unit"
)

// Config is fixed when the actor is created.
type Config struct {
	// UnrestrictedSurface allows expectations for operations the unit does not
	// expose, including units with no original implementation at all.
	UnrestrictedSurface bool
	// PassthroughDefault installs a passthrough expectation for every export
	// and keeps deleted operations resolving to the original.
	PassthroughDefault bool
	// MergeOnSet appends the clauses of a new expectation to an existing one
	// instead of replacing it.
	MergeOnSet bool
	// DisableHistory drops every history record. Wait trackers still run.
	DisableHistory bool
	// StubAll installs a dummy expectation returning this rule for every export.
	StubAll *expect.Result
}

// Validate checks the configuration against the module being mocked.
func (c Config) Validate(name string, module *unit.Module) error {
	if name == "" {
		return fmt.Errorf("%w: unit name is required", types.ErrBadArg)
	}
	if module != nil && module.Name != name {
		return fmt.Errorf("%w: module %q does not match unit %q", types.ErrBadArg, module.Name, name)
	}
	if module == nil && !c.UnrestrictedSurface {
		return fmt.Errorf("%w: unit %s has no module; only an unrestricted surface can mock it", types.ErrBadArg, name)
	}
	if c.PassthroughDefault && c.StubAll != nil {
		return fmt.Errorf("%w: passthrough and stub_all cannot be combined", types.ErrBadArg)
	}
	if c.StubAll != nil {
		if c.StubAll.Stateful() || c.StubAll.IsPassthrough() {
			return fmt.Errorf("%w: stub_all must be a value, raise or func rule", types.ErrBadArg)
		}
		if err := c.StubAll.Validate(); err != nil {
			return fmt.Errorf("%w: stub_all: %w", types.ErrBadArg, err)
		}
	}
	return nil
}

// restricted reports whether set_expect is limited to the module's exports.
func (c Config) restricted() bool {
	return !c.UnrestrictedSurface
}

// concurrentMutationsAllowed reports whether mutations may be applied while a
// regeneration is in flight. Every call of an unrestricted passthrough unit
// already falls through to the live original, so structural changes are safe.
func (c Config) concurrentMutationsAllowed() bool {
	return c.UnrestrictedSurface && c.PassthroughDefault
}

// fastPath reports whether a mutation that keeps the key set can skip
// regeneration.
func (c Config) fastPath(keysChanged bool) bool {
	return c.PassthroughDefault && c.restricted() && !keysChanged
}
