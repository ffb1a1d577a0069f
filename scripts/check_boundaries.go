package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "adpilot"

type violation struct {
	File   string
	Line   int
	Import string
	Rule   string
}

// layerRule lists what a layer of a service may import. Local entries are
// relative to the service root; external entries are full import paths.
type layerRule struct {
	local    []string
	external []string
	// adapters is true when the layer may import its own adapters.
	adapters bool
}

var layerRules = map[string]layerRule{
	"domain": {
		local:    []string{"domain"},
		external: []string{"github.com/shopspring/decimal"},
	},
	"ports": {
		local:    []string{"domain", "ports"},
		external: []string{modulePath + "/contracts"},
	},
	"application": {
		local:    []string{"application", "domain", "ports"},
		external: []string{modulePath + "/contracts", "golang.org/x/sync"},
	},
	"transport": {
		local: []string{"transport", "application", "domain"},
	},
}

func main() {
	violations := collectViolations("contexts")
	if len(violations) == 0 {
		fmt.Println("boundary checks passed")
		return
	}

	fmt.Println("boundary violations found:")
	for _, v := range violations {
		fmt.Printf("- %s:%d imports %q (%s)\n", v.File, v.Line, v.Import, v.Rule)
	}
	os.Exit(1)
}

func collectViolations(root string) []violation {
	var violations []violation

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(filepath.Dir(root), path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 4 || parts[0] != "contexts" {
			return nil
		}
		servicePrefix := fmt.Sprintf("%s/contexts/%s/%s", modulePath, parts[1], parts[2])
		violations = append(violations, validateFile(path, filepath.ToSlash(rel), parts[3], servicePrefix)...)
		return nil
	})

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		if violations[i].Line != violations[j].Line {
			return violations[i].Line < violations[j].Line
		}
		return violations[i].Import < violations[j].Import
	})
	return violations
}

func validateFile(path string, file string, layer string, servicePrefix string) []violation {
	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
	if err != nil {
		return []violation{{File: file, Line: 1, Rule: "file must parse"}}
	}

	var violations []violation
	for _, imp := range parsed.Imports {
		importPath := strings.Trim(imp.Path.Value, "\"")
		line := fset.Position(imp.Pos()).Line
		if rule := checkImport(layer, importPath, servicePrefix); rule != "" {
			violations = append(violations, violation{File: file, Line: line, Import: importPath, Rule: rule})
		}
	}
	return violations
}

// checkImport returns the broken rule, or "" when importPath is allowed.
func checkImport(layer string, importPath string, servicePrefix string) string {
	if strings.HasPrefix(importPath, modulePath+"/contexts/") && !hasPrefix(importPath, servicePrefix) {
		return "cross-module imports are forbidden"
	}
	rule, ok := layerRules[layer]
	if !ok || isStdlib(importPath) {
		return ""
	}
	if strings.Contains(importPath, "/adapters/") && !rule.adapters {
		return layer + " must not import adapters"
	}
	if hasPrefix(importPath, modulePath+"/internal") {
		return layer + " must not import runtime infrastructure"
	}
	for _, local := range rule.local {
		if hasPrefix(importPath, servicePrefix+"/"+local) {
			return ""
		}
	}
	for _, external := range rule.external {
		if hasPrefix(importPath, external) {
			return ""
		}
	}
	return layer + " import is outside explicit allowlist"
}

func hasPrefix(path string, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

func isStdlib(importPath string) bool {
	if hasPrefix(importPath, modulePath) {
		return false
	}
	first, _, _ := strings.Cut(importPath, "/")
	return !strings.Contains(first, ".")
}
