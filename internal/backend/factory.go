package backend

import "fmt"

// Factory constructs a Backend from string parameters, validating required
// keys and applying defaults. Factories must not perform I/O beyond what's
// needed to validate and open the backend.
type Factory func(params map[string]string) (Backend, error)

// Factories is the registry of known backend types, keyed by the kind
// name callers pass to New.
var Factories = map[string]Factory{
	"memory": func(params map[string]string) (Backend, error) {
		return NewMemory(), nil
	},
	"file": func(params map[string]string) (Backend, error) {
		dir, ok := params["dir"]
		if !ok || dir == "" {
			return nil, fmt.Errorf("file backend: missing required param %q", "dir")
		}
		return NewFile(dir)
	},
}

// New builds a Backend of the named type using params.
func New(kind string, params map[string]string) (Backend, error) {
	factory, ok := Factories[kind]
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q", kind)
	}
	return factory(params)
}
