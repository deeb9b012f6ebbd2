package iova

import (
	"fmt"
	"math/rand"
	"sync"
)

const maxLevel = 8

// Mapping ties a registered virtual-address span to the IOVA the IOMMU
// knows it by.
type Mapping struct {
	VAddr     uintptr
	Len       uint64
	IOVA      uint64
	Ephemeral bool
}

func (m Mapping) contains(vaddr uintptr) bool {
	return vaddr >= m.VAddr && vaddr < m.VAddr+uintptr(m.Len)
}

type node struct {
	mapping Mapping
	forward []*node
}

// MappingIndex is the concurrent ordered index from virtual-address
// interval to (IOVA, length): an 8-level skip list guarded by a single
// mutex, exactly as described for the mapping table's structural
// operations. Lookups and mutations share the same lock; there is no
// separate read path, since skip list traversal mutates nothing but
// correctness still depends on a stable snapshot of the forward
// pointers while walking.
type MappingIndex struct {
	mu     sync.Mutex
	height int
	head   *node
	tail   *node
	rng    *rand.Rand
}

// NewMappingIndex builds an empty index.
func NewMappingIndex() *MappingIndex {
	tail := &node{mapping: Mapping{VAddr: ^uintptr(0)}}
	head := &node{forward: make([]*node, maxLevel)}
	for i := range head.forward {
		head.forward[i] = tail
	}

	return &MappingIndex{
		head: head,
		tail: tail,
		rng:  rand.New(rand.NewSource(1)),
	}
}

func (idx *MappingIndex) randomLevel() int {
	k := 0
	for k < maxLevel-1 && idx.rng.Intn(2) == 1 {
		k++
	}
	return k
}

// search walks from the top level down, filling update[k] with the
// rightmost node at level k whose span ends strictly before vaddr. It
// returns the node immediately following update[0], which is the only
// candidate that could contain vaddr.
func (idx *MappingIndex) search(vaddr uintptr, update []*node) *node {
	p := idx.head
	for k := idx.height; k >= 0; k-- {
		next := p.forward[k]
		for next != idx.tail && vaddr >= next.mapping.VAddr+uintptr(next.mapping.Len) {
			p = next
			next = p.forward[k]
		}
		if update != nil {
			update[k] = p
		}
	}
	return p.forward[0]
}

// ErrMappingExists is returned by Insert when vaddr already falls
// within a live mapping's span.
var ErrMappingExists = fmt.Errorf("iova: vaddr already mapped")

// ErrMappingNotFound is returned by Remove when vaddr does not fall
// within any live mapping's span.
var ErrMappingNotFound = fmt.Errorf("iova: no mapping contains vaddr")

// Insert adds a new mapping. It fails with ErrMappingExists if vaddr
// already falls inside a live mapping.
func (idx *MappingIndex) Insert(m Mapping) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	update := make([]*node, maxLevel)
	if found := idx.search(m.VAddr, update); found != idx.tail && found.mapping.contains(m.VAddr) {
		return ErrMappingExists
	}

	level := idx.randomLevel()
	if level > idx.height {
		for k := idx.height + 1; k <= level; k++ {
			update[k] = idx.head
		}
		idx.height = level
	}

	n := &node{mapping: m, forward: make([]*node, level+1)}
	for k := 0; k <= level; k++ {
		n.forward[k] = update[k].forward[k]
		update[k].forward[k] = n
	}

	return nil
}

// Remove deletes the mapping containing vaddr and returns it.
func (idx *MappingIndex) Remove(vaddr uintptr) (Mapping, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	update := make([]*node, maxLevel)
	target := idx.search(vaddr, update)
	if target == idx.tail || !target.mapping.contains(vaddr) {
		return Mapping{}, ErrMappingNotFound
	}

	for k := 0; k <= idx.height; k++ {
		if update[k].forward[k] != target {
			break
		}
		update[k].forward[k] = target.forward[k]
	}

	for idx.height > 0 && idx.head.forward[idx.height] == idx.tail {
		idx.height--
	}

	return target.mapping, nil
}

// Find returns the mapping whose span contains vaddr, if any.
func (idx *MappingIndex) Find(vaddr uintptr) (Mapping, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.search(vaddr, nil)
	if n == idx.tail || !n.mapping.contains(vaddr) {
		return Mapping{}, false
	}
	return n.mapping, true
}

// TranslateVAddr resolves vaddr to its IOVA, offset by however far into
// the mapping vaddr falls, matching iommu_vaddr_to_iova's semantics.
func (idx *MappingIndex) TranslateVAddr(vaddr uintptr) (uint64, bool) {
	m, ok := idx.Find(vaddr)
	if !ok {
		return 0, false
	}
	return m.IOVA + uint64(vaddr-m.VAddr), true
}

// Len reports the number of live mappings. Intended for tests and
// diagnostics, not the hot path; it walks the bottom level under lock.
func (idx *MappingIndex) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := 0
	for p := idx.head.forward[0]; p != idx.tail; p = p.forward[0] {
		n++
	}
	return n
}
