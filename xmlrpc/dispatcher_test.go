package xmlrpc

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestDispatcher(t *testing.T, reg *Registry, cfg Config, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(reg, cfg, opts...)
	require.NoError(t, err)
	return d
}

// call sends a methodCall through HandleRequest and decodes the response.
func call(t *testing.T, d *Dispatcher, method string, params ...any) (any, error) {
	t.Helper()
	req, err := EncodeMethodCall(method, params...)
	require.NoError(t, err)
	return DecodeMethodResponse(d.HandleRequest(context.Background(), req))
}

func requireFault(t *testing.T, err error, code int) *Fault {
	t.Helper()
	var f *Fault
	require.ErrorAs(t, err, &f)
	require.Equal(t, code, f.Code, "fault string: %s", f.String)
	return f
}

func add(ctx context.Context, a, b int) int {
	return a + b
}

func legacyAdd(a, b int) int {
	return a + b
}

func TestHandleRequest_ContextHandler(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("add", add))
	d := newTestDispatcher(t, reg, Config{})

	got, err := call(t, d, "add", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestHandleRequest_LegacyHandler(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("legacyAdd", legacyAdd))
	d := newTestDispatcher(t, reg, Config{})

	got, err := call(t, d, "legacyAdd", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestHandleRequest_MissingMethod(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry(), Config{})

	_, err := call(t, d, "missing")
	f := requireFault(t, err, CodeInternal)
	assert.Contains(t, f.String, "not supported")
	assert.Equal(t, `MethodNotSupported:method "missing" is not supported`, f.String)
}

func TestHandleRequest_FaultIsVerbatim(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("spend", func(amount int) (int, error) {
		return 0, NewFault(4, "quota exceeded")
	}))
	d := newTestDispatcher(t, reg, Config{})

	_, err := call(t, d, "spend", 10)
	f := requireFault(t, err, 4)
	assert.Equal(t, "quota exceeded", f.String)
}

func TestHandleRequest_WrappedFault(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("wrapped", func() error {
		return errors.Join(errors.New("context"), NewFault(9, "deep"))
	}))
	d := newTestDispatcher(t, reg, Config{})

	_, err := call(t, d, "wrapped")
	f := requireFault(t, err, 9)
	assert.Equal(t, "deep", f.String)
}

func TestHandleRequest_ErrorCategories(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("fails", func() (string, error) {
		return "", errors.New("boom")
	}))
	require.NoError(t, reg.Register("panics", func() string {
		panic("kaboom")
	}))
	require.NoError(t, reg.Register("big", func() int64 {
		return 1 << 40
	}))
	require.NoError(t, reg.Register("nothing", func() *int {
		return nil
	}))
	require.NoError(t, reg.Register("one", legacyAdd))
	d := newTestDispatcher(t, reg, Config{})

	tests := []struct {
		name   string
		method string
		params []any
		prefix string
	}{
		{"handler error", "fails", nil, "errors.errorString:boom"},
		{"panic", "panics", nil, "Panic:panics: kaboom"},
		{"int overflow", "big", nil, "MarshalError:"},
		{"nil without AllowNone", "nothing", nil, "MarshalError:"},
		{"too few params", "one", []any{1}, "ArgumentError:one: takes 2 params (1 given)"},
		{"wrong type", "one", []any{1, "two"}, "ArgumentError:one: param 2: cannot use string as int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, d, tt.method, tt.params...)
			f := requireFault(t, err, CodeInternal)
			assert.True(t, strings.HasPrefix(f.String, tt.prefix), "got %q", f.String)
		})
	}
}

func TestHandleRequest_ArgumentErrorSkipsBody(t *testing.T) {
	called := false
	reg := NewRegistry()
	require.NoError(t, reg.Register("strict", func(ctx context.Context, a int) int {
		called = true
		return a
	}))
	d := newTestDispatcher(t, reg, Config{})

	_, err := d.Dispatch(context.Background(), "strict", []any{1, 2})
	var ae *ArgumentError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, -1, ae.Index)
	assert.False(t, called)
}

func TestHandleRequest_AllowNone(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("nothing", func() any { return nil }))
	require.NoError(t, reg.Register("noResult", func(ctx context.Context) {}))
	d := newTestDispatcher(t, reg, Config{AllowNone: true})

	for _, method := range []string{"nothing", "noResult"} {
		got, err := call(t, d, method)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	out := d.HandleRequest(context.Background(), []byte(`<methodCall><methodName>nothing</methodName></methodCall>`))
	assert.Contains(t, string(out), "<nil/>")
}

func TestHandleRequest_MalformedRequest(t *testing.T) {
	d := newTestDispatcher(t, NewRegistry(), Config{})

	for _, body := range []string{
		"",
		"not xml",
		"<methodCall><params/></methodCall>",
		"<methodCall><methodName>x</methodName><params><param><value><int>NaN</int></value></param></params></methodCall>",
		"<methodResponse/>",
	} {
		_, err := DecodeMethodResponse(d.HandleRequest(context.Background(), []byte(body)))
		f := requireFault(t, err, CodeInternal)
		assert.True(t, strings.HasPrefix(f.String, "ParseError:malformed request"), "body %q: got %q", body, f.String)
	}
}

func TestHandleRequest_Charset(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("snow", func() string { return "snow ☃ Ł" }))
	d := newTestDispatcher(t, reg, Config{Encoding: "ISO-8859-2"})

	assert.Equal(t, "iso-8859-2", d.Config().Encoding)
	assert.Equal(t, "text/xml; charset=iso-8859-2", d.ContentType())

	out := d.HandleRequest(context.Background(), []byte(`<methodCall><methodName>snow</methodName></methodCall>`))
	assert.True(t, bytes.HasPrefix(out, []byte("<?xml version='1.0' encoding='iso-8859-2'?>")))
	assert.Contains(t, string(out), "&#9731;")
	assert.True(t, bytes.Contains(out, []byte{0xA3}), "Ł is a single byte in iso-8859-2")

	got, err := DecodeMethodResponse(out)
	require.NoError(t, err)
	assert.Equal(t, "snow ☃ Ł", got)
}

func TestHandleRequest_UnencodableText(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("bad", func() string { return "a\xffb" }))
	require.NoError(t, reg.Register("ctl", func() map[string]string { return map[string]string{"k\x01": "v"} }))
	require.NoError(t, reg.Register("fails", func() error { return errors.New("bad\x01\xff") }))

	for _, encoding := range []string{"", "iso-8859-1"} {
		t.Run("encoding "+encoding, func(t *testing.T) {
			d := newTestDispatcher(t, reg, Config{Encoding: encoding})

			for _, method := range []string{"bad", "ctl"} {
				_, err := call(t, d, method)
				f := requireFault(t, err, CodeInternal)
				assert.True(t, strings.HasPrefix(f.String, "MarshalError:string has"), "got %q", f.String)
			}

			_, err := call(t, d, "fails")
			f := requireFault(t, err, CodeInternal)
			assert.Equal(t, "errors.errorString:bad\uFFFD\uFFFD", f.String)
		})
	}
}

func TestHandleRequest_Latin1IsNotWindows1252(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("euro", func() string { return "€5" }))

	for _, name := range []string{"iso-8859-1", "ISO_8859-1", "latin1"} {
		t.Run(name, func(t *testing.T) {
			d := newTestDispatcher(t, reg, Config{Encoding: name})
			assert.Equal(t, "iso-8859-1", d.Config().Encoding)
			assert.Equal(t, "text/xml; charset=iso-8859-1", d.ContentType())

			out := d.HandleRequest(context.Background(), []byte(`<methodCall><methodName>euro</methodName></methodCall>`))
			assert.True(t, bytes.HasPrefix(out, []byte("<?xml version='1.0' encoding='iso-8859-1'?>")))
			// windows-1252 would write € as the byte 0x80.
			assert.Contains(t, string(out), "&#8364;5")
			assert.False(t, bytes.Contains(out, []byte{0x80}))

			got, err := DecodeMethodResponse(out)
			require.NoError(t, err)
			assert.Equal(t, "€5", got)
		})
	}
}

func TestCheckEncoding(t *testing.T) {
	for _, name := range []string{"", "utf-8", "UTF-8", "iso-8859-1", "latin1", "windows-1252", "ISO-8859-2"} {
		assert.NoError(t, CheckEncoding(name), name)
	}
	for _, name := range []string{"klingon", "x-user-defined"} {
		assert.Error(t, CheckEncoding(name), name)
	}
}

func TestHandleRequest_DefaultCharset(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("snow", func() string { return "☃" }))
	d := newTestDispatcher(t, reg, Config{})

	out := d.HandleRequest(context.Background(), []byte(`<methodCall><methodName>snow</methodName></methodCall>`))
	assert.True(t, bytes.HasPrefix(out, []byte("<?xml version='1.0'?>\n")))
	assert.Contains(t, string(out), "☃")
	assert.Equal(t, "text/xml; charset=utf-8", d.ContentType())
}

func TestNewDispatcher_InvalidConfig(t *testing.T) {
	_, err := NewDispatcher(NewRegistry(), Config{Encoding: "klingon"})
	assert.Error(t, err)

	_, err = NewDispatcher(nil, Config{})
	assert.Error(t, err)
}

func TestDispatcher_Middleware(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next DispatchFunc) DispatchFunc {
			return func(ctx context.Context, method string, params []any) (any, error) {
				order = append(order, name+">"+method)
				result, err := next(ctx, method, params)
				order = append(order, name+"<")
				return result, err
			}
		}
	}
	reg := NewRegistry()
	require.NoError(t, reg.Register("add", add))
	d := newTestDispatcher(t, reg, Config{}, WithMiddleware(mw("outer"), mw("inner")))

	got, err := d.Dispatch(context.Background(), "add", []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	assert.Equal(t, []string{"outer>add", "inner>add", "inner<", "outer<"}, order)
}

func TestDispatcher_MiddlewarePanicIsFault(t *testing.T) {
	boom := func(next DispatchFunc) DispatchFunc {
		return func(ctx context.Context, method string, params []any) (any, error) {
			panic(errors.New("middleware"))
		}
	}
	d := newTestDispatcher(t, NewRegistry(), Config{}, WithMiddleware(boom))

	_, err := call(t, d, "anything")
	f := requireFault(t, err, CodeInternal)
	assert.Equal(t, "Panic:anything: middleware", f.String)
}

func TestDispatcher_Logging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	reg := NewRegistry()
	require.NoError(t, reg.Register("fails", func() error { return errors.New("boom") }))
	require.NoError(t, reg.Register("panics", func() { panic("kaboom") }))
	d := newTestDispatcher(t, reg, Config{}, WithLogger(zap.New(core)))

	_, _ = call(t, d, "fails")
	_, _ = call(t, d, "panics")
	_, _ = call(t, d, "missing")

	warn := logs.FilterMessage("handler error").All()
	require.Len(t, warn, 1)
	assert.Equal(t, zapcore.WarnLevel, warn[0].Level)
	assert.Equal(t, "fails", warn[0].ContextMap()["method"])

	panics := logs.FilterMessage("handler panic").All()
	require.Len(t, panics, 1)
	assert.Equal(t, zapcore.ErrorLevel, panics[0].Level)

	assert.Equal(t, 1, logs.FilterMessage("method not supported").Len())
}

func TestRequestFromContext(t *testing.T) {
	_, ok := RequestFromContext(context.Background())
	assert.False(t, ok)

	r := httptest.NewRequest("POST", "/RPC2", nil)
	got, ok := RequestFromContext(WithRequest(context.Background(), r))
	assert.True(t, ok)
	assert.Same(t, r, got)
}

func TestHandleRequest_Concurrent(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("add", add))
	d := newTestDispatcher(t, reg, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := EncodeMethodCall("add", i, i)
			if !assert.NoError(t, err) {
				return
			}
			got, err := DecodeMethodResponse(d.HandleRequest(context.Background(), req))
			assert.NoError(t, err)
			assert.Equal(t, 2*i, got)
		}(i)
	}
	wg.Wait()
}
