package ledger

// Value is a journaled storage slot. Writes go through a Tx so that a
// reverted transaction restores the previous value.
type Value[T any] struct {
	v T
}

// NewValue returns a slot holding v. Use it only while deploying, before
// the contract is reachable from transactions.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{v: v}
}

// Get returns the current value.
func (s *Value[T]) Get() T { return s.v }

// Set stores v as part of tx.
func (s *Value[T]) Set(tx *Tx, v T) {
	old := s.v
	tx.OnRevert(func() { s.v = old })
	s.v = v
}

// Map is a journaled key/value table. Entries are never deleted.
type Map[K comparable, V any] struct {
	m map[K]V
}

// NewMap returns an empty table.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Get returns the value for k and whether it has ever been written.
func (s *Map[K, V]) Get(k K) (V, bool) {
	v, ok := s.m[k]
	return v, ok
}

// Lookup returns the value for k, or the zero value.
func (s *Map[K, V]) Lookup(k K) V {
	return s.m[k]
}

// Set stores v under k as part of tx.
func (s *Map[K, V]) Set(tx *Tx, k K, v V) {
	if s.m == nil {
		s.m = make(map[K]V)
	}
	old, existed := s.m[k]
	tx.OnRevert(func() {
		if existed {
			s.m[k] = old
		} else {
			delete(s.m, k)
		}
	})
	s.m[k] = v
}

// Len returns the number of keys ever written.
func (s *Map[K, V]) Len() int { return len(s.m) }

// Range calls fn for each entry until fn returns false. Order is unspecified.
func (s *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range s.m {
		if !fn(k, v) {
			return
		}
	}
}

// Guard is a reentrancy mutex. A contract holds one and enters it at the
// top of every function that ends in an external call.
type Guard struct {
	entered bool
}

// Enter acquires the guard for the duration of the call. The returned
// release must be deferred by the caller.
func (g *Guard) Enter() (release func(), err error) {
	if g.entered {
		return nil, ErrReentrantCall
	}
	g.entered = true
	return func() { g.entered = false }, nil
}
