package profile

import (
	"testing"
)

func TestSaveLoadListDelete(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir, url, canary, conc := "/srv/pack", "https://packs.test/p", true, 4
	if err := Save("main", &Profile{InstanceDir: &dir, PackURL: &url, Canary: &canary, Concurrency: &conc}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	p, err := Load("main")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.InstanceDir == nil || *p.InstanceDir != dir || p.PackURL == nil || *p.PackURL != url {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.Canary == nil || !*p.Canary || p.Concurrency == nil || *p.Concurrency != 4 {
		t.Fatalf("unexpected profile flags: %+v", p)
	}
	if p.Side != nil || p.Verbose != nil {
		t.Fatalf("unset fields should stay nil: %+v", p)
	}

	names, err := List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(names) != 1 || names[0] != "main" {
		t.Fatalf("List=%v", names)
	}

	if err := Delete("main"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := Load("main"); err == nil {
		t.Fatalf("expected error loading deleted profile")
	}
}

func TestListWithoutDirectory(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	names, err := List()
	if err != nil || len(names) != 0 {
		t.Fatalf("List=%v err=%v", names, err)
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := ValidateName(name); err == nil {
			t.Fatalf("ValidateName(%q) should fail", name)
		}
	}
	if err := ValidateName("server-1"); err != nil {
		t.Fatalf("ValidateName(server-1) failed: %v", err)
	}
}
