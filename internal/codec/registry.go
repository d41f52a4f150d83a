package codec

import "sync"

// Schema type strings, as understood by NetworkTables-style consumers.
const (
	SchemaTypeStruct = "structschema"
	SchemaTypeProto  = "proto:FileDescriptorProto"
)

// SchemaDef is one published schema.
type SchemaDef struct {
	// Name is the key suffix, e.g. "struct:Pose3d" or "proto:moenet.proto".
	Name string
	Type string
	Data []byte
}

// Registry collects the schemas needed to decode every published type.
// Nested schemas are added before the schemas that reference them.
type Registry struct {
	mu      sync.Mutex
	seen    map[string]bool
	entries []SchemaDef
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// AddStruct adds d and everything it embeds. It reports whether d was new.
func (r *Registry) AddStruct(d Descriptor) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addStructLocked(d)
}

func (r *Registry) addStructLocked(d Descriptor) bool {
	name := StructTypeString(d)
	if r.seen[name] {
		return false
	}
	r.seen[name] = true
	for _, n := range d.Nested() {
		r.addStructLocked(n)
	}
	r.entries = append(r.entries, SchemaDef{Name: name, Type: SchemaTypeStruct, Data: []byte(d.Schema())})
	return true
}

// AddProto adds a serialized FileDescriptorProto under the given file name.
func (r *Registry) AddProto(file string, fd []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := "proto:" + file
	if r.seen[name] {
		return false
	}
	r.seen[name] = true
	r.entries = append(r.entries, SchemaDef{Name: name, Type: SchemaTypeProto, Data: fd})
	return true
}

// Entries returns the schemas in dependency order.
func (r *Registry) Entries() []SchemaDef {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SchemaDef, len(r.entries))
	copy(out, r.entries)
	return out
}
