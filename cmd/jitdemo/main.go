// Command jitdemo JIT-compiles and runs a tiny hand-assembled bytecode
// program: square(x) computed via a static invoke, summed in a loop up
// to -n. It exists to exercise the compiler, the lazy method stub, and
// the Processor end to end outside of the test suite.
package main

import (
	"flag"
	"log"

	"methodjit/pkg/classfile"
	"methodjit/pkg/heap"
	"methodjit/pkg/jit"
	"methodjit/pkg/linker"
	"methodjit/pkg/types"
)

func main() {
	n := flag.Int("n", 5, "compute sum of squares from 0 to n-1")
	flag.Parse()

	l := linker.NewSimpleLinker()
	h := heap.NewSimpleHeap()

	mathClass := &classfile.Class{Name: "Math"}
	l.RegisterClass(mathClass)

	squareMethod := &classfile.Method{
		Name:       "square",
		Descriptor: "(I)I",
		Flags:      classfile.FlagStatic,
		Class:      mathClass,
		Code: &classfile.Code{
			// x -> x * x
			Body:      []byte{0x15, 0x00, 0x15, 0x00, 0x68, 0xac},
			MaxLocals: 1,
			Pool:      classfile.NewConstantPool(),
		},
	}
	l.RegisterMethod(squareMethod)

	sumPool := classfile.NewConstantPool()
	sumPool.Append(int32(1))
	sumPool.Append(squareMethod)

	sumMethod := &classfile.Method{
		Name:       "sum",
		Descriptor: "(I)I",
		Flags:      classfile.FlagStatic,
		Class:      mathClass,
		Code: &classfile.Code{
			Body:      sumOfSquaresBody(),
			MaxLocals: 4, // n, i, sum, sq
			Pool:      sumPool,
		},
	}
	l.RegisterMethod(sumMethod)

	p, err := jit.NewProcessor(l, h, jit.DefaultCodeSize)
	if err != nil {
		log.Fatalf("jitdemo: failed to start processor: %v", err)
	}
	defer p.Close()

	thread, err := jit.NewThread(jit.DefaultNativeStackSize)
	if err != nil {
		log.Fatalf("jitdemo: failed to create thread: %v", err)
	}
	defer thread.Free()

	result, err := p.Invoke(thread, sumMethod, 0, []types.Word{types.Word(uint32(*n))})
	if err != nil {
		log.Fatalf("jitdemo: sum(%d) raised: %v", *n, err)
	}

	log.Printf("sum of squares 0..%d = %d", *n-1, int32(uint32(result)))
}

// sumOfSquaresBody hand-assembles:
//
//	i = 0; sum = 0
//	while (i < n) {
//	    sq = square(i)
//	    sum = sum + sq
//	    i = i + 1
//	}
//	return sum
//
// Locals: 0=n (param), 1=i, 2=sum, 3=sq. Pool: 0=int32(1), 1=square.
func sumOfSquaresBody() []byte {
	b := []byte{
		0x03,             // 0:  iconst_0
		0x36, 0x01,       // 1:  istore 1        (i = 0)
		0x03,             // 3:  iconst_0
		0x36, 0x02,       // 4:  istore 2        (sum = 0)
		0x15, 0x01,       // 6:  iload 1         (i)        [loop start]
		0x15, 0x00,       // 8:  iload 0         (n)
		0xa2, 0x00, 0x00, // 10: if_icmpge -> 37 (patched below)
		0x15, 0x01,       // 13: iload 1         (i)
		0xb8, 0x00, 0x01, // 15: invokestatic square(i)
		0x36, 0x03,       // 18: istore 3        (sq = square(i))
		0x15, 0x02,       // 20: iload 2         (sum)
		0x15, 0x03,       // 22: iload 3         (sq)
		0x60,             // 24: iadd
		0x36, 0x02,       // 25: istore 2        (sum)
		0x15, 0x01,       // 27: iload 1         (i)
		0x12, 0x00,       // 29: ldc #0          (1)
		0x60,             // 31: iadd
		0x36, 0x01,       // 32: istore 1        (i)
		0xa7, 0x00, 0x00, // 34: goto -> 6       (patched below)
		0x15, 0x02,       // 37: iload 2         (sum)       [end]
		0xac,             // 39: ireturn
	}
	putS16(b, 11, 37-10)
	putS16(b, 35, 6-34)
	return b
}

func putS16(b []byte, at int, v int) {
	b[at] = byte(int16(v) >> 8)
	b[at+1] = byte(int16(v))
}
