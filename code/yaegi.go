package code

import (
	"bytes"
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// ErrForbiddenImport is returned when a snippet imports a package outside
// the interpreter's allow-list.
var ErrForbiddenImport = errors.New("forbidden import")

// DefaultAllowedPackages is the stdlib allow-list of GoInterpreter. Packages
// with filesystem, process or network access are excluded.
var DefaultAllowedPackages = []string{
	"bytes", "encoding/base64", "encoding/json", "errors", "fmt", "math",
	"math/big", "regexp", "sort", "strconv", "strings", "time", "unicode",
	"unicode/utf8",
}

// GoOptions configure a GoInterpreter.
type GoOptions struct {
	// Timeout bounds a single execution. Zero disables the bound.
	Timeout time.Duration
	// AllowedPackages lists the importable stdlib packages.
	AllowedPackages []string
	// MaxOutput truncates captured output (bytes). Zero disables truncation.
	MaxOutput int
}

// GoInterpreter executes Go snippets with the yaegi interpreter. Every call
// gets a fresh interpreter, so executions share no state and the executor
// is safe for concurrent use.
type GoInterpreter struct {
	opts    GoOptions
	allowed map[string]bool
	symbols interp.Exports
}

// NewGoInterpreter creates a GoInterpreter.
func NewGoInterpreter(optFns ...func(o *GoOptions)) *GoInterpreter {
	opts := GoOptions{
		Timeout:         10 * time.Second,
		AllowedPackages: DefaultAllowedPackages,
		MaxOutput:       16 * 1024,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	allowed := make(map[string]bool, len(opts.AllowedPackages))
	for _, p := range opts.AllowedPackages {
		allowed[p] = true
	}

	symbols := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		// keys are "import/path/pkgname"
		idx := strings.LastIndex(key, "/")
		if idx < 0 || !allowed[key[:idx]] {
			continue
		}
		symbols[key] = syms
	}

	return &GoInterpreter{opts: opts, allowed: allowed, symbols: symbols}
}

// Language implements Executor.
func (g *GoInterpreter) Language() string { return "go" }

// Execute runs src. A complete program (package main with func main) is
// run and its standard output returned. Anything else is evaluated as a
// snippet; the value of a trailing expression is appended to the output.
func (g *GoInterpreter) Execute(ctx context.Context, src string) (string, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", errors.New("empty program")
	}

	if err := g.validateImports(src); err != nil {
		return "", err
	}

	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	i := interp.New(interp.Options{Stdout: &stdout, Stderr: &stderr})
	if err := i.Use(g.symbols); err != nil {
		return "", errors.Wrap(err, "load stdlib symbols")
	}

	v, err := i.EvalWithContext(ctx, src)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return g.truncate(stdout.String()), errors.Wrapf(ctxErr, "execution aborted after %s", g.opts.Timeout)
		}
		return g.truncate(stdout.String() + stderr.String()), errors.Wrap(err, "evaluation failed")
	}

	out := stdout.String()
	if s, ok := renderValue(v); ok {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += s
	}

	return g.truncate(out), nil
}

func renderValue(v reflect.Value) (string, bool) {
	if !v.IsValid() || !v.CanInterface() {
		return "", false
	}
	switch v.Kind() {
	case reflect.Func:
		return "", false
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan:
		if v.IsNil() {
			return "", false
		}
	}
	return fmt.Sprint(v.Interface()), true
}

func (g *GoInterpreter) truncate(s string) string {
	if g.opts.MaxOutput <= 0 || len(s) <= g.opts.MaxOutput {
		return s
	}
	return s[:g.opts.MaxOutput] + "\n... (truncated)"
}

// validateImports rejects imports outside the allow-list. Snippets without
// a package clause are parsed as if they were a main package.
func (g *GoInterpreter) validateImports(src string) error {
	fset := token.NewFileSet()

	parseSrc := src
	if !strings.HasPrefix(src, "package ") {
		parseSrc = "package main\n" + src
	}

	f, err := parser.ParseFile(fset, "snippet.go", parseSrc, parser.ImportsOnly)
	if err != nil {
		// Statement snippets are not valid files; yaegi reports real syntax errors.
		return nil
	}

	var forbidden []string
	for _, imp := range f.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if !g.allowed[path] {
			forbidden = append(forbidden, path)
		}
	}

	if len(forbidden) > 0 {
		sort.Strings(forbidden)
		return errors.Wrapf(ErrForbiddenImport, "%s", strings.Join(forbidden, ", "))
	}

	return nil
}
