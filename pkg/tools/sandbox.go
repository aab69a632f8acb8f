package tools

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/npcforge/npcforge/pkg/model"
)

// AllowedPackages are the only imports dynamic tool code may use. None of
// them reach the filesystem, the network or other processes.
var AllowedPackages = []string{
	"bytes",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"time",
	"unicode",
}

// entryPoint is the function every dynamic tool must define.
const entryPoint = "Execute"

// callPackage carries the arguments of one call into the interpreter. It is
// not importable by tool code since it is not in AllowedPackages.
const callPackage = "npcforge/sandboxcall"

// invokeSource runs the entry point inside the tool's interpreter and
// leaves the outcome in REPL variables.
const invokeSource = `sandboxOut, sandboxErr := main.` + entryPoint + `(sandboxcall.Args, sandboxcall.Ctx)
sandboxMsg := ""
if sandboxErr != nil {
	sandboxMsg = sandboxErr.Error()
}`

// ExecuteFunc is the Go signature of a dynamic tool's entry point.
type ExecuteFunc = func(args map[string]interface{}, ctx map[string]interface{}) (map[string]interface{}, error)

// Sandbox interprets dynamic tool code with yaegi against a restricted
// symbol table.
type Sandbox struct {
	allowed map[string]bool
	symbols interp.Exports
	timeout time.Duration
}

// NewSandbox creates a sandbox whose calls are bounded by timeout.
func NewSandbox(timeout time.Duration) *Sandbox {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	allowed := make(map[string]bool, len(AllowedPackages))
	for _, p := range AllowedPackages {
		allowed[p] = true
	}
	return &Sandbox{
		allowed: allowed,
		symbols: filterSymbols(allowed),
		timeout: timeout,
	}
}

// filterSymbols keeps the stdlib exports of allowed packages. Export keys
// have the form "<import path>/<package name>".
func filterSymbols(allowed map[string]bool) interp.Exports {
	out := make(interp.Exports)
	for key, syms := range stdlib.Symbols {
		path := key
		if i := strings.LastIndex(key, "/"); i > 0 {
			path = key[:i]
		}
		if allowed[path] {
			out[key] = syms
		}
	}
	return out
}

// Compile checks that code is a valid tool program: package main, allowed
// imports only, and an Execute function with the expected signature.
func (s *Sandbox) Compile(code string) error {
	_, err := s.load(code)
	return err
}

// Run executes code with args and the call context. When ctx or the sandbox
// timeout ends first the interpreter is stopped at its next step and the
// call reports an error.
func (s *Sandbox) Run(ctx context.Context, code string, args, callCtx map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("execution canceled: %w", err)
	}
	i, err := s.load(code)
	if err != nil {
		return nil, err
	}
	err = i.Use(interp.Exports{callPackage + "/sandboxcall": {
		"Args": reflect.ValueOf(args),
		"Ctx":  reflect.ValueOf(callCtx),
	}})
	if err != nil {
		return nil, fmt.Errorf("tools: bind call arguments failed: %w", err)
	}
	if _, err := i.Eval(`import sandboxcall "` + callPackage + `"`); err != nil {
		return nil, fmt.Errorf("tools: bind call arguments failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := i.EvalWithContext(ctx, invokeSource); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("execution timed out: %w", ctxErr)
		}
		var p interp.Panic
		if errors.As(err, &p) {
			return nil, fmt.Errorf("panic: %v", p.Value)
		}
		return nil, err
	}

	if msg, err := i.Eval("sandboxMsg"); err == nil && msg.IsValid() && msg.String() != "" {
		return nil, errors.New(msg.String())
	}
	v, err := i.Eval("sandboxOut")
	if err != nil {
		return nil, fmt.Errorf("tools: read result failed: %w", err)
	}
	var out map[string]interface{}
	if v.IsValid() && v.CanInterface() {
		out, _ = v.Interface().(map[string]interface{})
	}
	return out, nil
}

// load builds a fresh interpreter per program so tools never share globals.
func (s *Sandbox) load(code string) (*interp.Interpreter, error) {
	if strings.TrimSpace(code) == "" {
		return nil, model.NewValidation("code", "is required")
	}
	src := wrapCode(code)
	if err := s.validateImports(src); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{Stdout: io.Discard, Stderr: io.Discard})
	if err := i.Use(s.symbols); err != nil {
		return nil, fmt.Errorf("tools: load sandbox symbols failed: %w", err)
	}
	if _, err := i.Eval(src); err != nil {
		return nil, model.NewValidation("code", "does not compile: %v", err)
	}
	v, err := i.Eval("main." + entryPoint)
	if err != nil {
		return nil, model.NewValidation("code", "must define func %s", entryPoint)
	}
	if _, ok := v.Interface().(ExecuteFunc); !ok {
		return nil, model.NewValidation("code",
			"%s must have signature func(args map[string]interface{}, ctx map[string]interface{}) (map[string]interface{}, error)", entryPoint)
	}
	return i, nil
}

func (s *Sandbox) validateImports(src string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "tool.go", src, parser.ImportsOnly)
	if err != nil {
		return model.NewValidation("code", "does not parse: %v", err)
	}
	if f.Name.Name != "main" {
		return model.NewValidation("code", "must be package main, got %s", f.Name.Name)
	}
	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !s.allowed[path] {
			forbidden = append(forbidden, imp.Path.Value)
		}
	}
	if len(forbidden) > 0 {
		allowed := append([]string(nil), AllowedPackages...)
		sort.Strings(allowed)
		return model.NewValidation("code", "forbidden imports %v (allowed: %s)", forbidden, strings.Join(allowed, ", "))
	}
	return nil
}

// wrapCode adds a package clause when the source has none.
func wrapCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if strings.HasPrefix(trimmed, "package ") {
		return code
	}
	return "package main\n\n" + code
}
