package preprocess

import (
	"fmt"

	"github.com/medplane/medplane/internal/pkg/medical"
)

//Operation names a transform and carries its parameters
type Operation struct {
	Type   string            `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

//Handler applies one transform to a payload. Handlers must be pure functions
//of (payload, params) so a single registry can serve concurrent pipelines.
type Handler func(payload []byte, params map[string]string) ([]byte, error)

//Registry is the dispatch table of named transforms. Registration is
//validated up front; Apply never discovers a bad handler at call time.
type Registry struct {
	handlers map[string]Handler
}

//NewRegistry creates an empty transform registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

//Register adds a named transform to the dispatch table
func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return fmt.Errorf("transform name must not be empty")
	}
	if h == nil {
		return fmt.Errorf("transform %q has a nil handler", name)
	}
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("transform %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

//Apply runs each operation in listed order. An unknown operation type fails
//with UnsupportedOperationError before any transform runs; a failing
//operation aborts the chain with a PreprocessingError naming the step. No
//partial output is ever returned.
func (r *Registry) Apply(payload []byte, ops []Operation) ([]byte, error) {
	resolved := make([]Handler, len(ops))
	for n, op := range ops {
		h, ok := r.handlers[op.Type]
		if !ok {
			return nil, &medical.UnsupportedOperationError{Op: op.Type}
		}
		resolved[n] = h
	}
	out := payload
	for n, op := range ops {
		next, err := resolved[n](out, op.Params)
		if err != nil {
			return nil, &medical.PreprocessingError{Op: op.Type, Err: err}
		}
		out = next
	}
	return out, nil
}
