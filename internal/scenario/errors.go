package scenario

import (
	"errors"
	"fmt"

	"github.com/zjrosen/mimic/pkg/mimic"
)

// errorNames maps the error names usable in scenario files to engine errors.
var errorNames = map[string]error{
	"not_mocked":                mimic.ErrNotMocked,
	"concurrent_reload":         mimic.ErrConcurrentReload,
	"cannot_mock_autogenerated": mimic.ErrCannotMockAutogenerated,
	"cannot_mock_builtin":       mimic.ErrCannotMockBuiltin,
	"undefined_function":        mimic.ErrUndefinedFunction,
	"timeout":                   mimic.ErrTimeout,
	"bad_arg":                   mimic.ErrBadArg,
	"no_matching_clause":        mimic.ErrNoMatchingClause,
	"reload_failed":             mimic.ErrReloadFailed,
}

func checkErrorName(name string) error {
	if name == "" {
		return nil
	}
	if _, ok := errorNames[name]; !ok {
		return fmt.Errorf("unknown error name %q", name)
	}
	return nil
}

// expectError compares a step's outcome with the error it names. An empty
// name expects success.
func expectError(name string, err error) error {
	if name == "" {
		return err
	}
	want := errorNames[name]
	if err == nil {
		return fmt.Errorf("want error %s, got success", name)
	}
	if !errors.Is(err, want) {
		return fmt.Errorf("want error %s, got: %w", name, err)
	}
	return nil
}
