package goSession

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"
)

func TestLifecycleStatesDocumented(t *testing.T) {
	file, err := parser.ParseFile(token.NewFileSet(), "state.go", nil, parser.ParseComments)
	if err != nil {
		t.Fatal(err)
	}
	for _, decl := range file.Decls {
		gen, ok := decl.(*ast.GenDecl)
		if !ok || gen.Tok != token.CONST {
			continue
		}
		for _, spec := range gen.Specs {
			vs := spec.(*ast.ValueSpec)
			for _, name := range vs.Names {
				if name.IsExported() && vs.Doc == nil {
					t.Errorf("%s has no doc comment", name.Name)
				}
			}
		}
	}
}

func TestLifecycleStateNames(t *testing.T) {
	want := map[LifecycleState]string{
		StateUnauthenticated: "unauthenticated",
		StateAuthenticating:  "authenticating",
		StateAuthenticated:   "authenticated",
		StateRefreshing:      "refreshing",
		StateLoggingOut:      "logging_out",
		LifecycleState(99):   "unknown",
	}
	for s, name := range want {
		if got := s.String(); got != name {
			t.Errorf("%d.String() = %q, want %q", s, got, name)
		}
	}
}
