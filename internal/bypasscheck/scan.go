// Package bypasscheck is the CI guard over the rls.WithBypass escape
// hatch: it scans source for calls and rejects any call site missing
// from the YAML allowlist.
package bypasscheck

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strings"
)

const bypassFunc = "WithBypass"

// rlsImportSuffix identifies the package that owns the escape hatch.
const rlsImportSuffix = "/internal/rls"

// Check scans every non-test Go file under root and returns one
// violation per WithBypass call site not present in the allowlist.
func Check(root string, allow Allowlist) ([]CallSite, error) {
	sites, err := Scan(root)
	if err != nil {
		return nil, err
	}
	var violations []CallSite
	for _, s := range sites {
		if !allow.permits(s) {
			violations = append(violations, s)
		}
	}
	return violations, nil
}

// Scan returns every WithBypass call site under root, with file paths
// relative to root.
func Scan(root string) ([]CallSite, error) {
	var sites []CallSite
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name == "testdata" || name == "vendor" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		found, err := scanFile(path, rel)
		if err != nil {
			return err
		}
		sites = append(sites, found...)
		return nil
	})
	return sites, err
}

func scanFile(path string, rel string) ([]CallSite, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("bypasscheck: parse %s: %w", rel, err)
	}

	alias, ok := rlsAlias(f)
	if !ok {
		return nil, nil
	}

	var sites []CallSite
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if ok {
			name := funcName(fn)
			ast.Inspect(fn, func(n ast.Node) bool {
				if callsBypass(n, alias) {
					sites = append(sites, CallSite{File: filepath.ToSlash(rel), Function: name})
				}
				return true
			})
		}
	}
	return sites, nil
}

func rlsAlias(f *ast.File) (string, bool) {
	for _, imp := range f.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		if !strings.HasSuffix(path, rlsImportSuffix) {
			continue
		}
		if imp.Name != nil {
			return imp.Name.Name, true
		}
		return "rls", true
	}
	return "", false
}

func callsBypass(n ast.Node, alias string) bool {
	call, ok := n.(*ast.CallExpr)
	if !ok {
		return false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != bypassFunc {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	return ok && ident.Name == alias
}

func funcName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	recv := fn.Recv.List[0].Type
	if star, ok := recv.(*ast.StarExpr); ok {
		if ident, ok := star.X.(*ast.Ident); ok {
			return "(*" + ident.Name + ")." + fn.Name.Name
		}
	}
	if ident, ok := recv.(*ast.Ident); ok {
		return ident.Name + "." + fn.Name.Name
	}
	return fn.Name.Name
}
