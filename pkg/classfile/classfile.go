// Package classfile is the "parsed class-file representation" the JIT
// consumes as an external collaborator: method bytecode, exception and
// line-number tables, descriptor strings, and the class/field/method
// handles that constant-pool resolution produces.
//
// This package is intentionally minimal — it is the input shape the
// Compiler assumes, not a bytecode-file parser. A real VM would build
// these structures by reading a class file; tests here build them
// directly.
package classfile

import "methodjit/pkg/types"

// ReturnCode is the one-letter type code of a method's return type (or
// TypeVoid). Reused from pkg/types.TypeCode so descriptor parsing and
// return-value boxing share one vocabulary.
type ReturnCode = types.TypeCode

// MethodFlags is a small bitset of the method attributes the compiler
// and processor need to branch on.
type MethodFlags uint8

const (
	FlagStatic MethodFlags = 1 << iota
	FlagNative
	FlagFinal
	FlagSpecial // invokespecial target (constructor, private, or super call)
)

func (f MethodFlags) IsStatic() bool  { return f&FlagStatic != 0 }
func (f MethodFlags) IsNative() bool  { return f&FlagNative != 0 }
func (f MethodFlags) IsFinal() bool   { return f&FlagFinal != 0 }
func (f MethodFlags) IsSpecial() bool { return f&FlagSpecial != 0 }

// ExceptionHandler is one entry of a method's bytecode-level handler
// table: a half-open bytecode range, the handler's bytecode IP, and a
// 1-based constant-pool index for the catch type (0 = catch-all).
type ExceptionHandler struct {
	StartBCI    int
	EndBCI      int
	HandlerBCI  int
	CatchTypeCP int // 0 = catch-all
}

// LineNumberEntry maps a bytecode IP to a source line; the table is
// sorted by BCI and only contains entries where the line changes.
type LineNumberEntry struct {
	BCI  int
	Line int
}

// Code is the bytecode body of a method: the instruction stream plus the
// side-tables the Compiler walks while emitting.
type Code struct {
	Body              []byte
	MaxLocals         int
	MaxStack          int
	ExceptionHandlers []ExceptionHandler
	LineNumbers       []LineNumberEntry
	// Pool is appended to during compilation (see ConstantPool) and
	// becomes the method's post-compile "code" slot alongside the
	// Compiled Code Object.
	Pool *ConstantPool
}

func (c *Code) Length() int { return len(c.Body) }

// CompiledCode is implemented by *jit.CompiledCode; classfile only needs
// an opaque handle so Method can hold a compiled-slot pointer without
// importing pkg/jit (which imports classfile).
type CompiledCode interface {
	EntryPoint() uintptr
}

// Method is the parsed-method collaborator interface surface named in
// §6: methodCode, methodSpec, methodFlags, methodReturnCode,
// methodParameterFootprint, methodParameterCount, methodClass,
// methodOffset, methodCompiled.
type Method struct {
	Name        string
	Descriptor  string // e.g. "(II)I"
	Flags       MethodFlags
	Class       *Class
	VTableIndex int // offset into the declaring class's vtable, for virtual dispatch
	Code        *Code
	NativeSym   string // foreign symbol name, if IsNative

	compiled CompiledCode
}

func (m *Method) MethodCode() *Code          { return m.Code }
func (m *Method) MethodSpec() string         { return m.Descriptor }
func (m *Method) MethodFlags() MethodFlags   { return m.Flags }
func (m *Method) MethodClass() *Class        { return m.Class }
func (m *Method) MethodOffset() int          { return m.VTableIndex }
func (m *Method) MethodCompiled() CompiledCode { return m.compiled }
func (m *Method) SetCompiled(c CompiledCode) { m.compiled = c }

// MethodReturnCode parses the descriptor's return type code.
func (m *Method) MethodReturnCode() types.TypeCode {
	_, ret := ParseDescriptor(m.Descriptor)
	return ret
}

// MethodParameterCount returns the number of declared parameters
// (excluding receiver).
func (m *Method) MethodParameterCount() int {
	params, _ := ParseDescriptor(m.Descriptor)
	return len(params)
}

// MethodParameterFootprint returns the total word count of the method's
// declared arguments, counting long/double as two words and, for
// non-static methods, adding one word for the receiver.
func (m *Method) MethodParameterFootprint() int {
	params, _ := ParseDescriptor(m.Descriptor)
	footprint := 0
	for _, p := range params {
		footprint += p.WordCount()
	}
	if !m.Flags.IsStatic() {
		footprint++
	}
	return footprint
}

// Field is a resolved field handle: byte offset from the object header
// (or, for statics, from the class's static table base) and a type code
// selecting load/store width.
type Field struct {
	Name     string
	Type     types.TypeCode
	Offset   int
	IsStatic bool
	Class    *Class
}

// Class is a resolved class handle. VTable holds the method handle that
// currently overrides each VTableIndex slot for virtual dispatch — a
// method handle rather than a CompiledCode, since a slot must be
// resolvable before its override has ever been compiled (virtual
// dispatch then lazily compiles through the same method-stub path a
// direct invoke does); StaticFields is the class's static-field
// storage, addressed by Field.Offset.
type Class struct {
	Name            string
	Super           *Class
	VTable          []*Method
	Fields          []*Field
	StaticFields    []types.Word
	InstanceSize    int // bytes, excluding header
	Initialized     bool
	Initializing    bool
	InitStaticCause error
}

// IsAssignableFrom reports whether a value of class c can be assigned to
// a variable of class target — true if c equals target or target is a
// (possibly indirect) superclass of c.
func (c *Class) IsAssignableFrom(target *Class) bool {
	for cur := c; cur != nil; cur = cur.Super {
		if cur == target {
			return true
		}
	}
	return false
}

// ParseDescriptor parses a JVM-style method descriptor "(ARGS)RET" into
// the parameter type codes and the return type code. Arrays are reduced
// to TypeArray (one word, reference-shaped) regardless of element type
// or dimension — enough for the compiler and argument marshaller, which
// only need word count and root-ness, not element type, at this layer.
//
// Appears in exactly one place (here) per the §9 design note asking for
// a single descriptor-iterator abstraction consumed uniformly by the
// compiler's parameter-footprint computation and by the argument-list
// constructors.
func ParseDescriptor(desc string) (params []types.TypeCode, ret types.TypeCode) {
	i := 0
	if i < len(desc) && desc[i] == '(' {
		i++
	}
	for i < len(desc) && desc[i] != ')' {
		tc, next := parseOneType(desc, i)
		params = append(params, tc)
		i = next
	}
	if i < len(desc) && desc[i] == ')' {
		i++
	}
	if i < len(desc) {
		ret, _ = parseOneType(desc, i)
	} else {
		ret = types.TypeVoid
	}
	return params, ret
}

// parseOneType parses one field-descriptor element starting at i,
// returning its reduced TypeCode and the index just past it.
func parseOneType(desc string, i int) (types.TypeCode, int) {
	switch desc[i] {
	case 'L':
		j := i + 1
		for j < len(desc) && desc[j] != ';' {
			j++
		}
		return types.TypeReference, j + 1
	case '[':
		j := i + 1
		for j < len(desc) && desc[j] == '[' {
			j++
		}
		_, next := parseOneType(desc, j)
		return types.TypeArray, next
	default:
		return types.TypeCode(desc[i]), i + 1
	}
}

// ConstantPool is the per-method, append-only sequence of object handles
// the compiled code addresses through the pool register. Each Append
// returns the byte offset used as the pool-register displacement.
type ConstantPool struct {
	entries []any
}

func NewConstantPool() *ConstantPool { return &ConstantPool{} }

// Append adds a handle and returns its byte displacement from the pool
// base (entries are one word wide).
func (p *ConstantPool) Append(handle any) int {
	p.entries = append(p.entries, handle)
	return (len(p.entries) - 1) * types.BytesPerWord
}

func (p *ConstantPool) At(index int) any { return p.entries[index] }

func (p *ConstantPool) Len() int { return len(p.entries) }

// Words returns the pool packed as one word per entry, suitable for GC
// root scanning (entries are object handles or int32 constants) and for loading
// into the pool register's backing allocation.
func (p *ConstantPool) Words() []any { return p.entries }
