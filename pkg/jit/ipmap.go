//go:build linux && amd64

package jit

import "github.com/google/btree"

// bciEntry maps one bytecode index to the machine offset where its
// translation begins, ordered by BCI so ipMap can binary-search it.
type bciEntry struct {
	bci    int
	offset int
}

// ipMap resolves a bytecode index to the machine-code offset the
// compiler emitted for it. The Compiler uses it to mark a backward
// branch's Label at its target (labelFor), to bake a fault's machine
// offset into its landing (emitFaultLanding), and to translate the
// handler table (translateHandlers). Forward branches need no lookup
// here: their Labels are marked when the sweep reaches the target.
//
// Backed by a B-tree rather than a plain map because exception-table
// lookups (classfile.ExceptionHandler.StartBCI/EndBCI) need a
// nearest-match query — "what's the compiled offset for the bytecode
// index that begins this handler's range" — not just exact hits.
type ipMap struct {
	tree *btree.BTreeG[bciEntry]
}

func newIPMap() *ipMap {
	return &ipMap{tree: btree.NewG(32, func(a, b bciEntry) bool { return a.bci < b.bci })}
}

// Record associates a bytecode index with the machine offset where its
// translation starts. Called once per bytecode instruction as the
// compiler's single forward sweep emits it.
func (m *ipMap) Record(bci, offset int) {
	m.tree.ReplaceOrInsert(bciEntry{bci: bci, offset: offset})
}

// Offset returns the machine offset recorded for bci and whether it
// was found.
func (m *ipMap) Offset(bci int) (int, bool) {
	item, ok := m.tree.Get(bciEntry{bci: bci})
	return item.offset, ok
}

// FloorOffset returns the machine offset for the largest recorded BCI
// that is <= bci — used when a handler or line-table boundary falls
// between two instruction starts (it never should for a verified
// method, but §7 treats a missing exact entry as the verifier's
// failure to catch a malformed handler range, not the map's).
func (m *ipMap) FloorOffset(bci int) (int, bool) {
	var found bciEntry
	ok := false
	m.tree.DescendLessOrEqual(bciEntry{bci: bci}, func(item bciEntry) bool {
		found = item
		ok = true
		return false
	})
	return found.offset, ok
}

// Len reports the number of recorded bytecode indices.
func (m *ipMap) Len() int { return m.tree.Len() }
