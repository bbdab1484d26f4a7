// Package template renders the `${...}` placeholders used throughout
// runbooks (job display names, step commands, workspace paths, agent
// prompts) and evaluates the small set of `$(...)` shell expressions that
// runbooks are allowed to embed in workspace and local-variable templates.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxInterpolationDepth bounds how many passes Interpolate will make when a
// variable's own value references another variable. A runbook author
// chaining `${a}` → `${b}` → `${c}` a few levels deep is normal; a cycle
// between two vars would otherwise loop forever.
const MaxInterpolationDepth = 8

// Vars is a flat namespace of template variables, keyed exactly as they
// appear inside `${...}` — e.g. "prompt", "workspace.id", "var.image.tag",
// "item.id", "local.branch_name".
type Vars map[string]string

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}`)

// Interpolate substitutes every `${name}` placeholder in tmpl with its
// value from vars. A placeholder referencing an unknown name is an error —
// runbooks are expected to declare every var they use, and a silent empty
// substitution would hide a typo in a workspace path or shell command.
func Interpolate(tmpl string, vars Vars) (string, error) {
	current := tmpl
	for pass := 0; pass < MaxInterpolationDepth; pass++ {
		next, missing, changed, err := interpolateOnce(current, vars)
		if err != nil {
			return "", err
		}
		if missing != "" {
			return "", fmt.Errorf("template references undeclared var %q", missing)
		}
		if !changed {
			return next, nil
		}
		current = next
	}
	return "", fmt.Errorf("template interpolation did not converge after %d passes (possible var cycle)", MaxInterpolationDepth)
}

func interpolateOnce(tmpl string, vars Vars) (result string, missing string, changed bool, err error) {
	var firstMissing string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			if firstMissing == "" {
				firstMissing = name
			}
			return match
		}
		changed = true
		return val
	})
	return out, firstMissing, changed, nil
}

// HasPlaceholder reports whether tmpl contains a `${name}` reference to
// the given var name.
func HasPlaceholder(tmpl, name string) bool {
	return strings.Contains(tmpl, "${"+name+"}")
}

// Merge layers override vars on top of base, returning a new Vars without
// mutating either argument.
func Merge(base, override Vars) Vars {
	out := make(Vars, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Namespaced prefixes every key in vars with prefix+".".
func Namespaced(prefix string, vars map[string]string) Vars {
	out := make(Vars, len(vars))
	for k, v := range vars {
		out[prefix+"."+k] = v
	}
	return out
}
