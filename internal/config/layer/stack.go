package layer

import (
	"sort"
	"sync"
)

// Stack holds layers ordered by priority and serves merged lookups.
// It is safe for concurrent use.
type Stack struct {
	mu     sync.RWMutex
	layers []*Layer // ascending priority
	merged map[string]any
}

// NewStack creates a stack holding layers.
func NewStack(layers ...*Layer) *Stack {
	s := &Stack{}
	for _, l := range layers {
		s.add(l)
	}
	return s
}

// Add inserts a layer. A layer with the same name is replaced.
func (s *Stack) Add(l *Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(l)
}

func (s *Stack) add(l *Layer) {
	for i, existing := range s.layers {
		if existing.Name == l.Name {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			break
		}
	}
	s.layers = append(s.layers, l)
	sort.SliceStable(s.layers, func(i, j int) bool {
		return s.layers[i].Priority < s.layers[j].Priority
	})
	s.merged = nil
}

// Remove removes a layer by name and reports whether it existed.
func (s *Stack) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, l := range s.layers {
		if l.Name == name {
			s.layers = append(s.layers[:i], s.layers[i+1:]...)
			s.merged = nil
			return true
		}
	}
	return false
}

// Layer returns a layer by name, or nil.
func (s *Stack) Layer(name string) *Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// Layers returns the layers in ascending priority order.
func (s *Stack) Layers() []*Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Layer(nil), s.layers...)
}

// Merge returns a private copy of all layers merged together.
func (s *Stack) Merge() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CloneMap(s.mergedLocked())
}

func (s *Stack) mergedLocked() map[string]any {
	if s.merged == nil {
		merged := make(map[string]any)
		for _, l := range s.layers {
			merged = DeepMerge(merged, l.Data)
		}
		s.merged = merged
	}
	return s.merged
}

// Get returns the merged value at path.
// Map values are deep-merged across layers and returned as a copy.
func (s *Stack) Get(path string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := GetByPath(s.mergedLocked(), path)
	if !ok {
		return nil, false
	}
	return cloneValue(v), true
}

// Which returns the highest priority layer defining path, or nil.
func (s *Stack) Which(path string) *Layer {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.layers) - 1; i >= 0; i-- {
		if _, ok := GetByPath(s.layers[i].Data, path); ok {
			return s.layers[i]
		}
	}
	return nil
}

// Set assigns path in the named layer, creating the layer from source
// when it does not exist yet.
func (s *Stack) Set(source Source, path string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *Layer
	for _, l := range s.layers {
		if l.Name == source.String() {
			target = l
			break
		}
	}
	if target == nil {
		target = New(source, nil)
		s.add(target)
	}
	SetByPath(target.Data, path, value)
	s.merged = nil
}
