package scenario

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/mimic/pkg/mimic"
)

// Rule is a result rule as written in a scenario file. Exactly one form is set:
//
//	passthrough
//	{value: 42}
//	{raise: {kind: error, reason: timeout}}
//	{echo: 0}
//	{seq: [{value: 1}, {value: 2}]}
//	{loop: [...]}
type Rule struct {
	Kind   RuleKind
	Value  any
	Raise  RaiseSpec
	Echo   int
	Nested []Rule
}

// RuleKind names the form of a Rule.
type RuleKind string

const (
	RuleValue       RuleKind = "value"
	RuleRaise       RuleKind = "raise"
	RulePassthrough RuleKind = "passthrough"
	RuleEcho        RuleKind = "echo"
	RuleSeq         RuleKind = "seq"
	RuleLoop        RuleKind = "loop"
)

// RaiseSpec is the exception a raise rule produces.
type RaiseSpec struct {
	Kind   string `yaml:"kind"`
	Reason string `yaml:"reason"`
}

// UnmarshalYAML accepts the scalar "passthrough" or a single-key mapping.
func (r *Rule) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		if n.Value != string(RulePassthrough) {
			return fmt.Errorf("line %d: unknown rule %q", n.Line, n.Value)
		}
		*r = Rule{Kind: RulePassthrough}
		return nil
	}
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return fmt.Errorf("line %d: a rule is a mapping with exactly one key", n.Line)
	}

	key, val := n.Content[0].Value, n.Content[1]
	switch RuleKind(key) {
	case RuleValue:
		var v any
		if err := val.Decode(&v); err != nil {
			return err
		}
		*r = Rule{Kind: RuleValue, Value: v}
	case RuleRaise:
		var spec RaiseSpec
		if val.Kind == yaml.ScalarNode {
			spec = RaiseSpec{Kind: "error", Reason: val.Value}
		} else if err := val.Decode(&spec); err != nil {
			return err
		}
		if spec.Kind == "" {
			spec.Kind = "error"
		}
		*r = Rule{Kind: RuleRaise, Raise: spec}
	case RulePassthrough:
		*r = Rule{Kind: RulePassthrough}
	case RuleEcho:
		var idx int
		if err := val.Decode(&idx); err != nil {
			return err
		}
		*r = Rule{Kind: RuleEcho, Echo: idx}
	case RuleSeq, RuleLoop:
		var nested []Rule
		if err := val.Decode(&nested); err != nil {
			return err
		}
		*r = Rule{Kind: RuleKind(key), Nested: nested}
	default:
		return fmt.Errorf("line %d: unknown rule %q", n.Line, key)
	}
	return nil
}

// Result converts the rule into an engine result rule.
func (r Rule) Result() (mimic.Result, error) {
	switch r.Kind {
	case RuleValue:
		return mimic.Val(r.Value), nil
	case RuleRaise:
		return mimic.Raise(r.Raise.Kind, r.Raise.Reason), nil
	case RulePassthrough:
		return mimic.Passthrough(), nil
	case RuleEcho:
		return mimic.Exec(echo(r.Echo)), nil
	case RuleSeq, RuleLoop:
		rules := make([]mimic.Result, len(r.Nested))
		for i, n := range r.Nested {
			res, err := n.Result()
			if err != nil {
				return mimic.Result{}, err
			}
			rules[i] = res
		}
		if r.Kind == RuleSeq {
			return mimic.Seq(rules...), nil
		}
		return mimic.Loop(rules...), nil
	default:
		return mimic.Result{}, errors.New("empty rule")
	}
}

// Func converts the rule into an original implementation. Only value, raise
// and echo rules describe an original.
func (r Rule) Func() (mimic.Func, error) {
	switch r.Kind {
	case RuleValue:
		v := r.Value
		return func(context.Context, []any) (any, error) { return v, nil }, nil
	case RuleRaise:
		kind, reason := r.Raise.Kind, r.Raise.Reason
		return func(context.Context, []any) (any, error) {
			return nil, &mimic.Exception{Kind: kind, Reason: reason}
		}, nil
	case RuleEcho:
		return echo(r.Echo), nil
	default:
		return nil, fmt.Errorf("an export implementation must be value, raise or echo, not %s", r.Kind)
	}
}

// Check compares a call outcome against a value or raise rule.
func (r Rule) Check(got any, err error) error {
	switch r.Kind {
	case RuleValue:
		if err != nil {
			return fmt.Errorf("want %#v, got error: %w", r.Value, err)
		}
		if !reflect.DeepEqual(r.Value, got) {
			return fmt.Errorf("want %#v, got %#v", r.Value, got)
		}
		return nil
	case RuleRaise:
		var exc *mimic.Exception
		if !errors.As(err, &exc) {
			return fmt.Errorf("want raise %s:%s, got %#v (err %v)", r.Raise.Kind, r.Raise.Reason, got, err)
		}
		if exc.Kind != r.Raise.Kind || (r.Raise.Reason != "" && exc.Reason != r.Raise.Reason) {
			return fmt.Errorf("want raise %s:%s, got raise %s", r.Raise.Kind, r.Raise.Reason, exc.Error())
		}
		return nil
	default:
		return fmt.Errorf("want must be a value or raise rule, not %s", r.Kind)
	}
}

func echo(idx int) mimic.Func {
	return func(_ context.Context, args []any) (any, error) {
		if idx < 0 || idx >= len(args) {
			return nil, &mimic.Exception{Kind: "error", Reason: "badarg"}
		}
		return args[idx], nil
	}
}
