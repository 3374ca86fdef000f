package compiler

import (
	"strings"
	"testing"
)

func TestDecodeName(t *testing.T) {
	tests := map[string]string{
		"main":                       "main",
		"lib$DOT$utils":              "lib.utils",
		"roles$SLASH$harvester":      "roles/harvester",
		"win$BACKSLASH$path$DOT$js":  `win\path.js`,
		"$DOT$$SLASH$$BACKSLASH$end": `./\end`,
	}
	for in, want := range tests {
		if got := DecodeName(in); got != want {
			t.Errorf("DecodeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompileCachesPerVersion(t *testing.T) {
	c := New()
	src := map[string]string{
		"main":            "module.exports.loop = function() {};",
		"roles$DOT$miner": "exports.run = () => 1;",
	}

	mods := c.Compile("t1", 1, src)
	if len(mods) != 2 || mods[0].Name != "main" || mods[1].Name != "roles.miner" {
		t.Fatalf("modules = %+v", mods)
	}
	for _, m := range mods {
		if m.Err != nil {
			t.Fatalf("%s: %v", m.Name, m.Err)
		}
		if !strings.HasPrefix(m.Code, "(function (module, exports, require) {") {
			t.Errorf("%s code not wrapped: %q", m.Name, m.Code)
		}
	}
	if c.compiles != 2 {
		t.Fatalf("compiles = %d, want 2", c.compiles)
	}

	c.Compile("t1", 1, src)
	if c.compiles != 2 {
		t.Errorf("same version recompiled: compiles = %d", c.compiles)
	}

	c.Compile("t1", 2, src)
	if c.compiles != 4 {
		t.Errorf("new version not recompiled: compiles = %d", c.compiles)
	}
	if v, _ := c.Version("t1"); v != 2 {
		t.Errorf("version = %d, want 2", v)
	}

	c.Forget("t1")
	if _, ok := c.Version("t1"); ok {
		t.Error("Forget kept tenant")
	}
}

func TestCompileErrorIsolatedToModule(t *testing.T) {
	c := New()
	mods := c.Compile("t1", 1, map[string]string{
		"broken": "function (",
		"main":   "module.exports.loop = function() {};",
	})
	if mods[0].Name != "broken" || mods[0].Err == nil {
		t.Fatalf("broken module compiled: %+v", mods[0])
	}
	if mods[0].Err.Module != "broken" {
		t.Errorf("error module = %q", mods[0].Err.Module)
	}
	if mods[1].Err != nil || mods[1].Code == "" {
		t.Errorf("main affected by sibling failure: %+v", mods[1])
	}
}

func TestCompileConvertsESM(t *testing.T) {
	c := New()
	mods := c.Compile("t1", 1, map[string]string{"main": "export function loop() { return 1 }"})
	if mods[0].Err != nil {
		t.Fatal(mods[0].Err)
	}
	if !strings.Contains(mods[0].Code, "module.exports") {
		t.Errorf("ESM not converted to CommonJS: %s", mods[0].Code)
	}
}

func TestBootstrapCached(t *testing.T) {
	src := "(function() {\n  var answer = 40 + 2;\n  globalThis.__answer = answer;\n})();\n"
	a, err := Bootstrap(src)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Bootstrap(src)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("bootstrap output differs between calls")
	}
	if len(a) >= len(src) {
		t.Errorf("bootstrap not minified: %q", a)
	}
	if _, err := Bootstrap("function ("); err == nil {
		t.Error("invalid bootstrap accepted")
	}
}
