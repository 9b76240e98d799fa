package storage

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// attrKey addresses one attribute table.
type attrKey struct {
	kind ItemKind
	name string
}

// MemoryEngine is a thread-safe in-memory graph store.
//
// Use Cases:
//   - Unit testing (no disk I/O, fast cleanup)
//   - Running patterns over small fixture graphs loaded from YAML
//   - Scratch stores for the CLI's --in-memory mode
//
// Performance Characteristics:
//   - Object and link lookup by id: O(1)
//   - Attribute table scan: O(values)
//
// Thread Safety:
//
//	All public methods are thread-safe. Returned maps, sets and slices are
//	copies and may be modified by the caller.
//
// Example:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.CreateObject(1)
//	engine.CreateObject(2)
//	engine.CreateLink(storage.Link{ID: 1, O1: 1, O2: 2})
type MemoryEngine struct {
	mu      sync.RWMutex
	objects map[ItemID]struct{}
	links   map[ItemID]Link

	attrDefs   map[attrKey]AttrDef
	attrValues map[attrKey]map[ItemID][]any

	containers map[string]*Container

	closed bool
}

// NewMemoryEngine creates a new in-memory storage engine with empty indexes.
//
// All data lives in RAM and is lost when the process exits.
//
// Example:
//
//	func TestMyPattern(t *testing.T) {
//		engine := storage.NewMemoryEngine()
//		defer engine.Close()
//		engine.CreateObject(1)
//	}
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		objects:    make(map[ItemID]struct{}),
		links:      make(map[ItemID]Link),
		attrDefs:   make(map[attrKey]AttrDef),
		attrValues: make(map[attrKey]map[ItemID][]any),
		containers: make(map[string]*Container),
	}
}

// ============================================================================
// Graph
// ============================================================================

// CreateObject adds an object.
func (m *MemoryEngine) CreateObject(id ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.objects[id]; exists {
		return fmt.Errorf("object %d: %w", id, ErrAlreadyExists)
	}
	m.objects[id] = struct{}{}
	return nil
}

// CreateLink adds a link. Both endpoints must exist.
func (m *MemoryEngine) CreateLink(link Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, exists := m.links[link.ID]; exists {
		return fmt.Errorf("link %d: %w", link.ID, ErrAlreadyExists)
	}
	if _, ok := m.objects[link.O1]; !ok {
		return fmt.Errorf("link %d: %w", link.ID, ErrInvalidLink)
	}
	if _, ok := m.objects[link.O2]; !ok {
		return fmt.Errorf("link %d: %w", link.ID, ErrInvalidLink)
	}

	m.links[link.ID] = link
	return nil
}

// Objects returns the ids of all objects.
func (m *MemoryEngine) Objects() (IDSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make(IDSet, len(m.objects))
	for id := range m.objects {
		out.Add(id)
	}
	return out, nil
}

// Links returns all links ordered by id.
func (m *MemoryEngine) Links() ([]Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLink returns one link.
func (m *MemoryEngine) GetLink(id ItemID) (Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Link{}, ErrStorageClosed
	}
	l, ok := m.links[id]
	if !ok {
		return Link{}, fmt.Errorf("link %d: %w", id, ErrNotFound)
	}
	return l, nil
}

// ObjectCount returns the number of objects.
func (m *MemoryEngine) ObjectCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.objects)), nil
}

// LinkCount returns the number of links.
func (m *MemoryEngine) LinkCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrStorageClosed
	}
	return int64(len(m.links)), nil
}

// ============================================================================
// Attributes
// ============================================================================

// DefineAttribute declares an attribute. Redefining an attribute with the
// same type is a no-op; with a different type it fails.
func (m *MemoryEngine) DefineAttribute(def AttrDef) error {
	if def.Name == "" {
		return ErrInvalidData
	}
	if _, err := ParseValueType(string(def.Type)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	key := attrKey{def.Kind, def.Name}
	if existing, ok := m.attrDefs[key]; ok {
		if existing.Type != def.Type {
			return fmt.Errorf("%s attribute %q already defined as %s: %w", def.Kind, def.Name, existing.Type, ErrAlreadyExists)
		}
		return nil
	}
	m.attrDefs[key] = def
	m.attrValues[key] = make(map[ItemID][]any)
	return nil
}

// AttrDef returns the declaration of an attribute.
func (m *MemoryEngine) AttrDef(kind ItemKind, name string) (AttrDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return AttrDef{}, ErrStorageClosed
	}
	def, ok := m.attrDefs[attrKey{kind, name}]
	if !ok {
		return AttrDef{}, fmt.Errorf("%s attribute %q: %w", kind, name, ErrUnknownAttr)
	}
	return def, nil
}

// Attributes lists the attributes declared for a kind, ordered by name.
func (m *MemoryEngine) Attributes(kind ItemKind) ([]AttrDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	var out []AttrDef
	for k, def := range m.attrDefs {
		if k.kind == kind {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetAttribute appends a value for an item. The value is coerced to the
// attribute's declared type.
func (m *MemoryEngine) SetAttribute(kind ItemKind, name string, id ItemID, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	key := attrKey{kind, name}
	def, ok := m.attrDefs[key]
	if !ok {
		return fmt.Errorf("%s attribute %q: %w", kind, name, ErrUnknownAttr)
	}
	v, err := def.Type.Coerce(value)
	if err != nil {
		return fmt.Errorf("%s attribute %q of %d: %w", kind, name, id, err)
	}
	m.attrValues[key][id] = append(m.attrValues[key][id], v)
	return nil
}

// AttrValues returns the values of an attribute for every item that has one.
func (m *MemoryEngine) AttrValues(kind ItemKind, name string) (map[ItemID][]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	key := attrKey{kind, name}
	values, ok := m.attrValues[key]
	if !ok {
		return nil, fmt.Errorf("%s attribute %q: %w", kind, name, ErrUnknownAttr)
	}
	out := make(map[ItemID][]any, len(values))
	for id, vs := range values {
		out[id] = slices.Clone(vs)
	}
	return out, nil
}

// ============================================================================
// Containers
// ============================================================================

// SaveContainer stores a container under its name, replacing an existing one.
func (m *MemoryEngine) SaveContainer(c *Container) error {
	sealed, err := sealContainer(c)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	m.containers[sealed.Name] = sealed
	return nil
}

// GetContainer returns a copy of a stored container.
func (m *MemoryEngine) GetContainer(name string) (*Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	c, ok := m.containers[name]
	if !ok {
		return nil, fmt.Errorf("container %q: %w", name, ErrNotFound)
	}
	out := cloneContainer(c)
	if err := verifyContainer(out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteContainer removes a container.
func (m *MemoryEngine) DeleteContainer(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStorageClosed
	}
	if _, ok := m.containers[name]; !ok {
		return fmt.Errorf("container %q: %w", name, ErrNotFound)
	}
	delete(m.containers, name)
	return nil
}

// ContainerNames lists stored containers in name order.
func (m *MemoryEngine) ContainerNames() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]string, 0, len(m.containers))
	for name := range m.containers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Close marks the engine closed. Further calls fail with ErrStorageClosed.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Engine = (*MemoryEngine)(nil)
