package xmlrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a SelfDispatcher that remembers what it was asked.
type recorder struct {
	method string
	params []any
	result any
	err    error
}

func (r *recorder) Dispatch(ctx context.Context, method string, params []any) (any, error) {
	r.method = method
	r.params = params
	return r.result, r.err
}

type calculator struct {
	Version string
	Math    *mathMethods
	hidden  *mathMethods
}

func (c *calculator) Mul(a, b int) int { return a * b }

func requireNotSupported(t *testing.T, err error) {
	t.Helper()
	var nse *MethodNotSupportedError
	require.ErrorAs(t, err, &nse)
}

func TestDispatch_PrivateNames(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("_hidden", legacyAdd))
	require.NoError(t, reg.Register("ns._hidden", legacyAdd))
	reg.SetInstance(Namespace{
		"_secret": legacyAdd,
		"ns":      Namespace{"_secret": legacyAdd},
	})
	d := newTestDispatcher(t, reg, Config{AllowDottedNames: true})

	for _, method := range []string{"", "_hidden", "ns._hidden", "_secret", "ns._secret", "_a.b"} {
		t.Run(method, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), method, []any{1, 2})
			requireNotSupported(t, err)
		})
	}
}

func TestDispatch_DisabledNameSkipsInstance(t *testing.T) {
	reg := NewRegistry()
	reg.SetInstance(Namespace{"echo": func(s string) string { return s }})
	d := newTestDispatcher(t, reg, Config{})

	got, err := d.Dispatch(context.Background(), "echo", []any{"hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	reg.Disable("echo")
	_, err = d.Dispatch(context.Background(), "echo", []any{"hi"})
	requireNotSupported(t, err)
}

func TestDispatch_RegistryBeforeInstance(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("who", func() string { return "registry" }))
	reg.SetInstance(Namespace{"who": func() string { return "instance" }})
	d := newTestDispatcher(t, reg, Config{})

	got, err := d.Dispatch(context.Background(), "who", nil)
	require.NoError(t, err)
	assert.Equal(t, "registry", got)
}

func TestDispatch_SelfDispatcher(t *testing.T) {
	rec := &recorder{result: map[string]any{"ok": true}}
	reg := NewRegistry()
	reg.SetInstance(rec)
	d := newTestDispatcher(t, reg, Config{})

	params := []any{1, "two", []any{3}}
	got, err := d.Dispatch(context.Background(), "any.dotted.Name", params)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, got)
	assert.Equal(t, "any.dotted.Name", rec.method)
	assert.Equal(t, params, rec.params)

	// Faults come back unchanged.
	rec.err = NewFault(7, "custom")
	_, err = call(t, d, "anything")
	f := requireFault(t, err, 7)
	assert.Equal(t, "custom", f.String)
}

func TestDispatch_SelfDispatcherNeverSeesPrivateNames(t *testing.T) {
	rec := &recorder{result: "x"}
	reg := NewRegistry()
	reg.SetInstance(rec)
	d := newTestDispatcher(t, reg, Config{})

	_, err := d.Dispatch(context.Background(), "_private", nil)
	requireNotSupported(t, err)
	assert.Empty(t, rec.method)
}

func TestDispatch_ReflectionInstance(t *testing.T) {
	reg := NewRegistry()
	reg.SetInstance(&calculator{Version: "1.0", Math: &mathMethods{}, hidden: &mathMethods{}})
	d := newTestDispatcher(t, reg, Config{})

	for _, method := range []string{"Mul", "mul"} {
		got, err := d.Dispatch(context.Background(), method, []any{3, 4})
		require.NoError(t, err)
		assert.Equal(t, 12, got)
	}

	tests := []string{
		"version",    // not a func
		"Math",       // not a func
		"math.add",   // dotted names are off
		"hidden.Add", // unexported
		"missing",
	}
	for _, method := range tests {
		t.Run(method, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), method, []any{1, 2})
			requireNotSupported(t, err)
		})
	}
}

func TestDispatch_DottedNames(t *testing.T) {
	instance := &calculator{Math: &mathMethods{}, hidden: &mathMethods{}}

	reg := NewRegistry()
	reg.SetInstance(instance)
	d := newTestDispatcher(t, reg, Config{AllowDottedNames: true})

	got, err := d.Dispatch(context.Background(), "math.add", []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = d.Dispatch(context.Background(), "Math.Sub", []any{5, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	for _, method := range []string{"hidden.Add", "math..add", "math.", "math.pair", "math.add.more"} {
		t.Run(method, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), method, []any{1, 2})
			requireNotSupported(t, err)
		})
	}
}

func TestDispatch_Namespace(t *testing.T) {
	reg := NewRegistry()
	reg.SetInstance(Namespace{
		"math":    Namespace{"add": add},
		"nothing": nil,
		"text":    "not callable",
		"a.b":     func() string { return "literal" },
	})

	t.Run("dotted", func(t *testing.T) {
		d := newTestDispatcher(t, reg, Config{AllowDottedNames: true})
		got, err := d.Dispatch(context.Background(), "math.add", []any{2, 3})
		require.NoError(t, err)
		assert.Equal(t, 5, got)

		for _, method := range []string{"nothing", "text", "math", "a.b"} {
			_, err := d.Dispatch(context.Background(), method, nil)
			requireNotSupported(t, err)
		}
	})

	t.Run("whole name", func(t *testing.T) {
		d := newTestDispatcher(t, reg, Config{})
		got, err := d.Dispatch(context.Background(), "a.b", nil)
		require.NoError(t, err)
		assert.Equal(t, "literal", got)

		_, err = d.Dispatch(context.Background(), "math.add", []any{2, 3})
		requireNotSupported(t, err)
	})
}

func TestDispatch_InstanceReceivesContext(t *testing.T) {
	type key struct{}
	reg := NewRegistry()
	reg.SetInstance(Namespace{
		"value": func(ctx context.Context) string { return ctx.Value(key{}).(string) },
	})
	d := newTestDispatcher(t, reg, Config{})

	ctx := context.WithValue(context.Background(), key{}, "carried")
	got, err := d.Dispatch(ctx, "value", nil)
	require.NoError(t, err)
	assert.Equal(t, "carried", got)
}

func TestNamespace_ListMethods(t *testing.T) {
	ns := Namespace{
		"echo":    func(s string) string { return s },
		"_hidden": func() {},
		"data":    42,
		"math": Namespace{
			"add":    add,
			"_carry": func() {},
		},
	}
	assert.Equal(t, []string{"echo", "math.add"}, ns.ListMethods())
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"", true},
		{"_x", true},
		{"a._x", true},
		{"_a.x", true},
		{"a.b", false},
		{"a_b", false},
		{"a.b_", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPrivate(tt.name), "isPrivate(%q)", tt.name)
	}
}
