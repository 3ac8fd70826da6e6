package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mnehpets/xmlserve/config"
	"github.com/mnehpets/xmlserve/endpoint"
	"github.com/mnehpets/xmlserve/middleware"
	"github.com/mnehpets/xmlserve/xmlrpc"
)

type MathMethods struct{}

func (m *MathMethods) Add(ctx context.Context, a, b int) int {
	return a + b
}

func (m *MathMethods) Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, xmlrpc.NewFault(4, "division by zero")
	}
	return a / b, nil
}

// Legacy handlers answer to names not in the registry, e.g.
// "legacy.strings.upper"
// when dotted names are enabled.
type Legacy struct {
	Strings *StringMethods
}

type StringMethods struct{}

func (StringMethods) Upper(s string) string {
	return strings.ToUpper(s)
}

func whoami(ctx context.Context) (string, error) {
	r, ok := xmlrpc.RequestFromContext(ctx)
	if !ok {
		return "", errors.New("no request")
	}
	return r.RemoteAddr, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}

func main() {
	configPath := flag.String("config", "", "HCL config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, ".env")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	reg := xmlrpc.NewRegistry()
	if err := reg.RegisterNamespace("math", &MathMethods{}); err != nil {
		logger.Fatal("register", zap.Error(err))
	}
	if err := reg.Register("whoami", whoami,
		xmlrpc.WithSignature("string"),
		xmlrpc.WithHelp("Returns the caller's address.")); err != nil {
		logger.Fatal("register", zap.Error(err))
	}
	reg.SetInstance(xmlrpc.Namespace{
		"legacy": &Legacy{Strings: &StringMethods{}},
		"echo":   func(v any) any { return v },
	})

	d, err := xmlrpc.NewDispatcher(reg, cfg.Dispatcher.XMLRPC(),
		xmlrpc.WithLogger(logger.Named("xmlrpc")),
		xmlrpc.WithMiddleware(timing(logger.Named("dispatch"))),
	)
	if err != nil {
		logger.Fatal("dispatcher", zap.Error(err))
	}
	if cfg.Introspection {
		if err := d.RegisterIntrospection(); err != nil {
			logger.Fatal("introspection", zap.Error(err))
		}
	}
	if cfg.Multicall {
		if err := d.RegisterMulticall(); err != nil {
			logger.Fatal("multicall", zap.Error(err))
		}
	}

	headers := middleware.NewHeadersProcessor()
	if len(cfg.CORSOrigins) > 0 {
		headers = middleware.NewHeadersProcessor(middleware.WithCORS(cfg.CORSOrigins, false))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, endpoint.HandleFunc(d.Endpoint,
		middleware.AccessLog(logger.Named("http")),
		headers,
		middleware.BodyLimit(cfg.MaxBodyBytes),
	))

	logger.Info("starting server", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
	if err := http.ListenAndServe(cfg.Addr, mux); err != nil {
		logger.Fatal("server", zap.Error(err))
	}
}

func timing(logger *zap.Logger) xmlrpc.Middleware {
	return func(next xmlrpc.DispatchFunc) xmlrpc.DispatchFunc {
		return func(ctx context.Context, method string, params []any) (any, error) {
			start := time.Now()
			result, err := next(ctx, method, params)
			logger.Debug("dispatch",
				zap.String("method", method),
				zap.Int("params", len(params)),
				zap.Duration("duration", time.Since(start)),
				zap.Bool("ok", err == nil),
			)
			return result, err
		}
	}
}
