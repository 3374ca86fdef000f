// Package compiler turns tenant modules into CommonJS factories and caches
// them per tenant and code version.
package compiler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/tickrun/internal/core"
)

// Module is one compiled tenant module.
type Module struct {
	Name    string // decoded name
	Source  string
	Version int64
	Code    string            // function(module, exports, require) expression
	Err     *core.ScriptError // set when compilation failed
}

type tenantModules struct {
	version int64
	modules map[string]*Module
}

// Cache holds compiled modules keyed by tenant, module name and version.
type Cache struct {
	mu      sync.Mutex
	tenants map[string]*tenantModules

	compiles int // number of Transform calls, for tests
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{tenants: make(map[string]*tenantModules)}
}

// Compile returns the tenant's modules at version, compiling whatever is
// not cached. A newer version replaces every older entry of the tenant.
// Modules are returned sorted by name; failed modules carry Err and do not
// affect the others.
func (c *Cache) Compile(tenantID string, version int64, sources map[string]string) []*Module {
	c.mu.Lock()
	tm, ok := c.tenants[tenantID]
	if !ok || tm.version != version {
		tm = &tenantModules{version: version, modules: make(map[string]*Module)}
		c.tenants[tenantID] = tm
	}
	c.mu.Unlock()

	out := make([]*Module, 0, len(sources))
	for encoded, src := range sources {
		name := DecodeName(encoded)

		c.mu.Lock()
		m, hit := tm.modules[name]
		c.mu.Unlock()
		if hit && m.Source == src {
			out = append(out, m)
			continue
		}

		m = c.compile(name, version, src)
		c.mu.Lock()
		tm.modules[name] = m
		c.mu.Unlock()
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Forget drops everything cached for a tenant.
func (c *Cache) Forget(tenantID string) {
	c.mu.Lock()
	delete(c.tenants, tenantID)
	c.mu.Unlock()
}

// Version returns the cached version for a tenant.
func (c *Cache) Version(tenantID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tm, ok := c.tenants[tenantID]
	if !ok {
		return 0, false
	}
	return tm.version, true
}

func (c *Cache) compile(name string, version int64, src string) *Module {
	c.mu.Lock()
	c.compiles++
	c.mu.Unlock()

	m := &Module{Name: name, Source: src, Version: version}
	result := api.Transform(src, api.TransformOptions{
		Loader:     api.LoaderJS,
		Format:     api.FormatCommonJS,
		Target:     api.ESNext,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		m.Err = &core.ScriptError{Module: name, Message: formatMessages(result.Errors)}
		return m
	}
	m.Code = "(function (module, exports, require) {\n" + string(result.Code) + "\n})"
	return m
}

func formatMessages(msgs []api.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
			continue
		}
		parts = append(parts, msg.Text)
	}
	return strings.Join(parts, "\n")
}
