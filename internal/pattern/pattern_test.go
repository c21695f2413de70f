package pattern

import "testing"

func TestCompile(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		def   Kind
		path  string
		match bool
	}{
		{name: "glob single segment", expr: "*.md", def: Glob, path: "README.md", match: true},
		{name: "glob does not cross dirs", expr: "*.md", def: Glob, path: "docs/README.md", match: false},
		{name: "glob double star", expr: "defaultconfigs/**", def: Glob, path: "defaultconfigs/a/b.toml", match: true},
		{name: "regex is substring", expr: "jei", def: Regex, path: "old-jei-1.0.jar", match: true},
		{name: "anchored regex", expr: `^jei-`, def: Regex, path: "old-jei-1.0.jar", match: false},
		{name: "glob prefix overrides default", expr: "glob:jei-*.jar", def: Regex, path: "jei-2.jar", match: true},
		{name: "regex prefix overrides default", expr: `regex:\.cfg$`, def: Glob, path: "config/a.cfg", match: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Compile(tt.expr, tt.def)
			if err != nil {
				t.Fatalf("Compile(%q) failed: %v", tt.expr, err)
			}
			if got := m.Match(tt.path); got != tt.match {
				t.Fatalf("Match(%q)=%t want=%t", tt.path, got, tt.match)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	if _, err := Compile("", Glob); err == nil {
		t.Fatalf("empty pattern should fail")
	}
	if _, err := Compile("regex:(", Glob); err == nil {
		t.Fatalf("invalid regex should fail")
	}
	if _, err := CompileAll([]string{"*.md", "regex:["}, Glob); err == nil {
		t.Fatalf("CompileAll should surface the first error")
	}
}

func TestAny(t *testing.T) {
	m, err := CompileAll([]string{"*.md", "scripts/**"}, Glob)
	if err != nil {
		t.Fatalf("CompileAll failed: %v", err)
	}
	if !m.Match("scripts/x/y.zs") || !m.Match("a.md") || m.Match("mods/a.jar") {
		t.Fatalf("unexpected Any results")
	}
}
