// Package filter selects memory mappings with user-supplied expressions.
//
// Expressions are expr-lang programs evaluated against the fields of one
// mapping, e.g.:
//
//	path contains "libc"
//	perms startsWith "r" and size > 65536
//	"lo" in vmflags
package filter

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"memlock/internal/smaps"
)

// Evaluator matches mappings against one pre-compiled filter expression.
type Evaluator struct {
	source  string
	program *vm.Program
}

// exprEnv defines the fields available to expressions, for type checking
// at compile time.
func exprEnv() map[string]interface{} {
	return map[string]interface{}{
		"path":      "",
		"perms":     "",
		"dev":       "",
		"start":     uint64(0),
		"end":       uint64(0),
		"size":      uint64(0),
		"inode":     uint64(0),
		"rss_kb":    uint64(0),
		"locked_kb": uint64(0),
		"vmflags":   []string{},
	}
}

// New compiles a filter expression. The expression must evaluate to a
// boolean; anything else is rejected at compile time.
func New(expression string) (*Evaluator, error) {
	program, err := expr.Compile(expression, expr.Env(exprEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter %q: %w", expression, err)
	}

	return &Evaluator{
		source:  expression,
		program: program,
	}, nil
}

// Match evaluates the filter against m. A nil Evaluator matches everything.
func (e *Evaluator) Match(m *smaps.Mapping) (bool, error) {
	if e == nil {
		return true, nil
	}

	env := map[string]interface{}{
		"path":      m.Path,
		"perms":     m.Perms,
		"dev":       m.Dev,
		"start":     uint64(m.Start),
		"end":       uint64(m.End),
		"size":      uint64(m.Size()),
		"inode":     m.Inode,
		"rss_kb":    m.RssKB,
		"locked_kb": m.LockedKB,
		"vmflags":   m.VmFlags,
	}

	result, err := expr.Run(e.program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate filter %q: %w", e.source, err)
	}

	matched, ok := result.(bool)
	if !ok {
		// expr.AsBool guarantees this at compile time; guard anyway.
		return false, fmt.Errorf("filter %q returned %T, want bool", e.source, result)
	}
	return matched, nil
}

// String returns the source expression.
func (e *Evaluator) String() string {
	if e == nil {
		return ""
	}
	return e.source
}
