package refactor

import (
	"encoding/json"

	"github.com/pleme-io/typemill/cache"
	"github.com/pleme-io/typemill/plan"
)

// WalkImports visits every parseable workspace file with its resolved
// workspace-internal imports. Parse products are cached by content hash when
// a store is available; resolution always runs fresh since it depends on
// which files exist.
func (e *Engine) WalkImports(visit func(rel string, resolved []string), store *cache.Store) error {
	return e.walkFiles(func(rel string) {
		adapter := e.adapters.ForPath(rel)
		if adapter == nil {
			return
		}
		data, err := e.files.Read(rel)
		if err != nil {
			return
		}
		sum := plan.Checksum(data)

		var modules []string
		if payload, ok := store.Get(rel, "imports", sum); ok {
			if err := json.Unmarshal(payload, &modules); err != nil {
				modules = nil
			}
		}
		if modules == nil {
			parsed, err := adapter.Parse(string(data), rel)
			if err != nil {
				return
			}
			modules = []string{}
			for _, imp := range adapter.ExtractImports(parsed) {
				modules = append(modules, imp.ModulePath)
			}
			if payload, err := json.Marshal(modules); err == nil {
				store.Put(rel, "imports", sum, payload)
			}
		}

		seen := map[string]bool{}
		resolved := []string{}
		for _, module := range modules {
			target, ok := e.resolveImport(adapter.Language(), rel, module)
			if !ok || seen[target] {
				continue
			}
			seen[target] = true
			resolved = append(resolved, target)
		}
		visit(rel, resolved)
	})
}
