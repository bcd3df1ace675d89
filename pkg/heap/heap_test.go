package heap

import (
	"testing"

	"methodjit/pkg/classfile"
	"methodjit/pkg/vmerrors"
)

func TestMakeNewSizesFieldsFromInstanceSize(t *testing.T) {
	h := NewSimpleHeap()
	class := &classfile.Class{Name: "Point", InstanceSize: 24} // three words
	id := h.MakeNew(class)

	obj := h.Get(id)
	if obj == nil {
		t.Fatal("Get returned nil for a just-allocated object")
	}
	if len(obj.Fields) != 3 {
		t.Errorf("len(Fields) = %d, want 3", len(obj.Fields))
	}
	if h.ClassOf(id) != class {
		t.Error("ClassOf did not return the allocating class")
	}
}

func TestMakeNewRoundsUpPartialWord(t *testing.T) {
	h := NewSimpleHeap()
	class := &classfile.Class{Name: "Odd", InstanceSize: 9}
	id := h.MakeNew(class)
	if got := len(h.Get(id).Fields); got != 2 {
		t.Errorf("len(Fields) = %d, want 2 (9 bytes rounds up to 2 words)", got)
	}
}

func TestMakeIntArrayLengthAndElements(t *testing.T) {
	h := NewSimpleHeap()
	id := h.MakeIntArray(4)
	if got := h.ArrayLength(id); got != 4 {
		t.Errorf("ArrayLength = %d, want 4", got)
	}
	if got := len(h.Get(id).Fields); got != 5 {
		t.Errorf("len(Fields) = %d, want 5 (length word plus 4 elements)", got)
	}
}

func TestMakeLongArrayDoublesWordCount(t *testing.T) {
	h := NewSimpleHeap()
	id := h.MakeLongArray(3)
	// ArrayLength reports the raw length word, which makeArray set to
	// 2*length for a long array since each element occupies two words.
	if got := h.ArrayLength(id); got != 6 {
		t.Errorf("ArrayLength = %d, want 6", got)
	}
}

func TestMakeStringStoresBytesAfterLength(t *testing.T) {
	h := NewSimpleHeap()
	id := h.MakeString("hi")
	obj := h.Get(id)
	if got := h.ArrayLength(id); got != 2 {
		t.Errorf("ArrayLength = %d, want 2", got)
	}
	if obj.Fields[1] != 'h' || obj.Fields[2] != 'i' {
		t.Errorf("Fields[1:3] = %v %v, want 'h' 'i'", obj.Fields[1], obj.Fields[2])
	}
}

func TestMakeNullPointerExceptionUsesWellKnownClassName(t *testing.T) {
	h := NewSimpleHeap()
	id := h.MakeNullPointerException()
	class := h.ClassOf(id)
	if class == nil || class.Name != vmerrors.ClassNullPointerException {
		t.Errorf("exception class = %v, want %s", class, vmerrors.ClassNullPointerException)
	}
}

func TestExceptionClassIsCachedAcrossAllocations(t *testing.T) {
	h := NewSimpleHeap()
	first := h.ClassOf(h.MakeNullPointerException())
	second := h.ClassOf(h.MakeNullPointerException())
	if first != second {
		t.Error("two exceptions of the same class did not share the same *classfile.Class")
	}
}

func TestGetUnknownObjectIDReturnsNil(t *testing.T) {
	h := NewSimpleHeap()
	if h.Get(ObjectID(9999)) != nil {
		t.Error("Get on an unallocated ID should return nil")
	}
}

func TestVisitLiveCoversEveryAllocation(t *testing.T) {
	h := NewSimpleHeap()
	ids := map[ObjectID]bool{
		h.MakeInt(1):  true,
		h.MakeInt(2):  true,
		h.MakeLong(3): true,
	}

	seen := make(map[ObjectID]bool)
	h.VisitLive(func(id ObjectID) { seen[id] = true })

	for id := range ids {
		if !seen[id] {
			t.Errorf("VisitLive did not visit id %d", id)
		}
	}
}
