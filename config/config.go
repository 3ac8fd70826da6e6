// Package config loads the server configuration.
//
// Values are applied in order, later ones winning:
//
//  1. Defaults
//  2. An HCL file
//  3. Variables from .env files
//  4. XMLRPC_* process environment variables
//
// The result is validated before it is returned.
//
// Example file:
//
//	addr      = ":8080"
//	path      = "/RPC2"
//	log_level = "info"
//
//	dispatcher {
//	  allow_none = true
//	  encoding   = "iso-8859-1"
//	}
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"

	"github.com/mnehpets/xmlserve/xmlrpc"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "XMLRPC_"

// Server is the configuration of the example server.
type Server struct {
	Addr          string   `validate:"required"`
	Path          string   `validate:"required,startswith=/"`
	LogLevel      string   `validate:"oneof=debug info warn error"`
	MaxBodyBytes  int64    `validate:"gt=0"`
	Introspection bool
	Multicall     bool
	CORSOrigins   []string `validate:"dive,required"`
	Dispatcher    Dispatcher
}

// Dispatcher holds the xmlrpc.Config values.
type Dispatcher struct {
	AllowNone        bool
	Encoding         string `validate:"omitempty,charset"`
	AllowDottedNames bool
}

// XMLRPC converts d to an xmlrpc.Config.
func (d Dispatcher) XMLRPC() xmlrpc.Config {
	return xmlrpc.Config{
		AllowNone:        d.AllowNone,
		Encoding:         d.Encoding,
		AllowDottedNames: d.AllowDottedNames,
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() *Server {
	return &Server{
		Addr:          ":8080",
		Path:          "/RPC2",
		LogLevel:      "info",
		MaxBodyBytes:  1 << 20,
		Introspection: true,
		Multicall:     true,
		Dispatcher: Dispatcher{
			Encoding: xmlrpc.DefaultEncoding,
		},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("charset", func(fl validator.FieldLevel) bool {
		return xmlrpc.CheckEncoding(fl.Field().String()) == nil
	})
	return v
}

// Validate checks s.
func (s *Server) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Load builds the configuration from path (skipped when empty) and the
// environment. envFiles that do not exist are ignored.
func Load(path string, envFiles ...string) (*Server, error) {
	cfg := Default()

	if path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := cfg.applyHCL(src, path); err != nil {
			return nil, err
		}
	}

	env, err := readEnvFiles(envFiles)
	if err != nil {
		return nil, err
	}
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, EnvPrefix) {
			env[k] = v
		}
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse builds the configuration from HCL source alone.
func Parse(src []byte, filename string) (*Server, error) {
	cfg := Default()
	if err := cfg.applyHCL(src, filename); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		existing = append(existing, f)
	}
	if len(existing) == 0 {
		return map[string]string{}, nil
	}
	env, err := godotenv.Read(existing...)
	if err != nil {
		return nil, fmt.Errorf("failed to read env files: %w", err)
	}
	return env, nil
}

// hclFile is the decoding target for the config file. It is filled with
// the current values first; gohcl leaves absent optional attributes alone.
type hclFile struct {
	Addr          string         `hcl:"addr,optional"`
	Path          string         `hcl:"path,optional"`
	LogLevel      string         `hcl:"log_level,optional"`
	MaxBodyBytes  int64          `hcl:"max_body_bytes,optional"`
	Introspection bool           `hcl:"introspection,optional"`
	Multicall     bool           `hcl:"multicall,optional"`
	CORSOrigins   []string       `hcl:"cors_origins,optional"`
	Dispatcher    *hclDispatcher `hcl:"dispatcher,block"`
}

// hclDispatcher is decoded into a fresh value, so absent attributes are
// zero, which matches the xmlrpc.Config defaults.
type hclDispatcher struct {
	AllowNone        bool   `hcl:"allow_none,optional"`
	Encoding         string `hcl:"encoding,optional"`
	AllowDottedNames bool   `hcl:"allow_dotted_names,optional"`
}

func (s *Server) applyHCL(src []byte, filename string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}

	parsed := hclFile{
		Addr:          s.Addr,
		Path:          s.Path,
		LogLevel:      s.LogLevel,
		MaxBodyBytes:  s.MaxBodyBytes,
		Introspection: s.Introspection,
		Multicall:     s.Multicall,
		CORSOrigins:   s.CORSOrigins,
	}
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	s.Addr = parsed.Addr
	s.Path = parsed.Path
	s.LogLevel = parsed.LogLevel
	s.MaxBodyBytes = parsed.MaxBodyBytes
	s.Introspection = parsed.Introspection
	s.Multicall = parsed.Multicall
	s.CORSOrigins = parsed.CORSOrigins
	if d := parsed.Dispatcher; d != nil {
		s.Dispatcher = Dispatcher{
			AllowNone:        d.AllowNone,
			Encoding:         d.Encoding,
			AllowDottedNames: d.AllowDottedNames,
		}
	}
	return nil
}

func (s *Server) applyEnv(env map[string]string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := env[EnvPrefix+key]; ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := env[EnvPrefix+key]; ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &s.Addr)
	str("PATH", &s.Path)
	str("LOG_LEVEL", &s.LogLevel)
	if v, ok := env[EnvPrefix+"MAX_BODY_BYTES"]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMAX_BODY_BYTES: %w", EnvPrefix, err))
		} else {
			s.MaxBodyBytes = n
		}
	}
	boolean("INTROSPECTION", &s.Introspection)
	boolean("MULTICALL", &s.Multicall)
	if v, ok := env[EnvPrefix+"CORS_ORIGINS"]; ok {
		s.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				s.CORSOrigins = append(s.CORSOrigins, o)
			}
		}
	}
	boolean("ALLOW_NONE", &s.Dispatcher.AllowNone)
	str("ENCODING", &s.Dispatcher.Encoding)
	boolean("ALLOW_DOTTED_NAMES", &s.Dispatcher.AllowDottedNames)

	return errors.Join(errs...)
}
