//go:build linux && amd64

package jit

import "unsafe"

// threadHasExcOffset/threadPendingOffset let compiled code poll a
// Thread's pending-exception state directly out of memory instead of
// going through a helper call for every check — computed once via
// unsafe.Offsetof rather than hand-maintained, so a future field
// reorder in thread.go can't silently desynchronize the offsets baked
// into already-compiled code within the same process run.
func threadHasExcOffset() int32 { return int32(unsafe.Offsetof(threadLayoutProbe.hasExc)) }
func threadPendingOffset() int32 { return int32(unsafe.Offsetof(threadLayoutProbe.pending)) }

var threadLayoutProbe Thread
