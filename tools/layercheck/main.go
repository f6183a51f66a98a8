// Command layercheck enforces the vault package layering: records at the
// bottom, domain packages above them, the engine above those and the
// transports on top. A lower layer importing a higher one is a violation.
//
// Usage:
//
//	go run ./tools/layercheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const modulePath = "github.com/Mindburn-Labs/vault/"

type rule struct {
	dir       string
	forbidden []string
}

var (
	transports = []string{"pkg/api", "pkg/auth", "pkg/config", "cmd"}
	aboveLeaf  = append([]string{"pkg/governance", "pkg/observability"}, transports...)
)

var rules = []rule{
	{"pkg/contracts", []string{"pkg"}},
	{"pkg/clock", []string{"pkg"}},
	{"pkg/events", []string{"pkg"}},
	{"pkg/budget", aboveLeaf},
	{"pkg/threshold", aboveLeaf},
	{"pkg/recipients", aboveLeaf},
	{"pkg/recurring", aboveLeaf},
	{"pkg/reputation", aboveLeaf},
	{"pkg/insurance", aboveLeaf},
	{"pkg/priority", aboveLeaf},
	{"pkg/store", aboveLeaf},
	{"pkg/governance", append([]string{"pkg/observability"}, transports...)},
	{"pkg/observability", append([]string{"pkg/governance"}, transports...)},
	{"pkg/api", []string{"pkg/auth", "pkg/config", "cmd"}},
}

type violation struct {
	file       string
	line       int
	importPath string
	rule       string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden in %s)", v.file, v.line, v.importPath, v.rule)
}

func matches(importPath, forbidden string) bool {
	target := modulePath + forbidden
	return importPath == target || strings.HasPrefix(importPath, target+"/")
}

// check scans non-test Go files under each rule's dir. Missing dirs are skipped.
func check(root string, rules []rule) ([]violation, error) {
	var out []violation
	fset := token.NewFileSet()
	for _, r := range rules {
		dir := filepath.Join(root, r.dir)
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
				continue
			}
			path := filepath.Join(dir, name)
			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, fb := range r.forbidden {
					if matches(importPath, fb) {
						rel, _ := filepath.Rel(root, path)
						out = append(out, violation{file: rel, line: fset.Position(imp.Pos()).Line, importPath: importPath, rule: r.dir})
						break
					}
				}
			}
		}
	}
	return out, nil
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root, rules)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		_, _ = fmt.Fprintf(stdout, "LAYER VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		_, _ = fmt.Fprintf(stdout, "\n%d layer violation(s) found\n", len(violations))
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "layer check passed")
	return 0
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}
