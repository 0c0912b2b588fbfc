// Package codec provides the serialization formats of the administrative
// interface. The daemon answers control-socket commands in whichever format
// the client asked for by name.
package codec

import "fmt"

// Codec marshals typed administrative replies. Implementations must be
// deterministic so dumps can be diffed between invocations.
type Codec interface {
	// Name is the format alias a client passes on the command line.
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps format aliases to codecs.
type Registry struct {
	byName map[string]Codec
}

// NewRegistry returns a registry preloaded with every built-in format.
func NewRegistry() (*Registry, error) {
	r := &Registry{byName: make(map[string]Codec)}
	r.Register(JSON())
	c, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register(c)
	return r, nil
}

// Register adds or replaces a codec under its name.
func (r *Registry) Register(c Codec) { r.byName[c.Name()] = c }

// Get looks a codec up by its format alias.
func (r *Registry) Get(name string) (Codec, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown format %q", name)
	}
	return c, nil
}
