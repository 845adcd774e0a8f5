package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/mimic/pkg/mimic"
)

func decodeRule(t *testing.T, doc string) Rule {
	t.Helper()
	var r Rule
	require.NoError(t, yaml.Unmarshal([]byte(doc), &r))
	return r
}

func TestRule_Decode(t *testing.T) {
	require.Equal(t, Rule{Kind: RulePassthrough}, decodeRule(t, "passthrough"))
	require.Equal(t, Rule{Kind: RulePassthrough}, decodeRule(t, "{passthrough: true}"))
	require.Equal(t, Rule{Kind: RuleValue, Value: "ok"}, decodeRule(t, "{value: ok}"))
	require.Equal(t, Rule{Kind: RuleValue, Value: nil}, decodeRule(t, "{value: null}"))
	require.Equal(t, Rule{Kind: RuleValue, Value: []any{1, "a"}}, decodeRule(t, "{value: [1, a]}"))
	require.Equal(t, Rule{Kind: RuleEcho, Echo: 1}, decodeRule(t, "{echo: 1}"))
	require.Equal(t,
		Rule{Kind: RuleRaise, Raise: RaiseSpec{Kind: "error", Reason: "boom"}},
		decodeRule(t, "{raise: boom}"))
	require.Equal(t,
		Rule{Kind: RuleRaise, Raise: RaiseSpec{Kind: "exit", Reason: "killed"}},
		decodeRule(t, "{raise: {kind: exit, reason: killed}}"))
	require.Equal(t,
		Rule{Kind: RuleRaise, Raise: RaiseSpec{Kind: "error", Reason: "x"}},
		decodeRule(t, "{raise: {reason: x}}"))

	loop := decodeRule(t, "{loop: [{value: 1}, passthrough]}")
	require.Equal(t, RuleLoop, loop.Kind)
	require.Equal(t, []Rule{{Kind: RuleValue, Value: 1}, {Kind: RulePassthrough}}, loop.Nested)
}

func TestRule_DecodeErrors(t *testing.T) {
	for _, doc := range []string{"bogus", "{value: 1, echo: 0}", "{nope: 1}", "[1, 2]", "{echo: x}"} {
		var r Rule
		require.Error(t, yaml.Unmarshal([]byte(doc), &r), doc)
	}
}

func TestRule_Result(t *testing.T) {
	res, err := Rule{Kind: RuleValue, Value: 3}.Result()
	require.NoError(t, err)
	require.Equal(t, mimic.Val(3), res)

	res, err = Rule{Kind: RuleSeq, Nested: []Rule{{Kind: RuleValue, Value: 1}, {Kind: RulePassthrough}}}.Result()
	require.NoError(t, err)
	require.Equal(t, mimic.Seq(mimic.Val(1), mimic.Passthrough()), res)

	_, err = Rule{}.Result()
	require.Error(t, err)
}

func TestRule_Func(t *testing.T) {
	ctx := context.Background()

	fn, err := Rule{Kind: RuleValue, Value: "v"}.Func()
	require.NoError(t, err)
	got, err := fn(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "v", got)

	fn, err = Rule{Kind: RuleRaise, Raise: RaiseSpec{Kind: "error", Reason: "boom"}}.Func()
	require.NoError(t, err)
	_, err = fn(ctx, nil)
	var exc *mimic.Exception
	require.True(t, errors.As(err, &exc))
	require.Equal(t, "error:boom", exc.Error())

	fn, err = Rule{Kind: RuleEcho, Echo: 1}.Func()
	require.NoError(t, err)
	got, err = fn(ctx, []any{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, "b", got)
	_, err = fn(ctx, []any{"a"})
	require.Error(t, err)

	_, err = Rule{Kind: RulePassthrough}.Func()
	require.Error(t, err)
}

func TestRule_Check(t *testing.T) {
	value := Rule{Kind: RuleValue, Value: 1}
	require.NoError(t, value.Check(1, nil))
	require.Error(t, value.Check(2, nil))
	require.Error(t, value.Check(nil, errors.New("x")))

	raise := Rule{Kind: RuleRaise, Raise: RaiseSpec{Kind: "error", Reason: "boom"}}
	require.NoError(t, raise.Check(nil, &mimic.Exception{Kind: "error", Reason: "boom"}))
	require.Error(t, raise.Check(nil, &mimic.Exception{Kind: "error", Reason: "other"}))
	require.Error(t, raise.Check(nil, errors.New("plain")))
	require.Error(t, raise.Check(1, nil))

	anyReason := Rule{Kind: RuleRaise, Raise: RaiseSpec{Kind: "error"}}
	require.NoError(t, anyReason.Check(nil, &mimic.Exception{Kind: "error", Reason: "whatever"}))
}
