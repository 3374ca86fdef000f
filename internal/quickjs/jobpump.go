package quickjs

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// jobQueue drives the QuickJS job queue, which the modernc.org/quickjs
// wrapper never runs on its own: without it Promise reactions would never
// fire. The C runtime handle is pulled out of the VM once, by reflection,
// and reused for every drain.
type jobQueue struct {
	cRuntime uintptr
	tls      *libc.TLS
}

func newJobQueue(vm *quickjs.VM) *jobQueue {
	rt, tls, ok := extractRuntime(vm)
	if !ok {
		return nil
	}
	return &jobQueue{cRuntime: rt, tls: tls}
}

// drain runs queued jobs until the queue is empty, a job throws, or stop
// reports true. It returns the number of jobs run. A nil queue runs none.
func (q *jobQueue) drain(stop func() bool) int {
	if q == nil {
		return 0
	}
	n := 0
	for !stop() {
		if lib.XJS_ExecutePendingJob(q.tls, q.cRuntime, 0) <= 0 {
			break
		}
		n++
	}
	return n
}

// extractRuntime reads the unexported C runtime and TLS out of a VM.
//
// Layout as of modernc.org/quickjs v0.17.1:
//
//	type VM struct {
//	    ...
//	    runtime *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func extractRuntime(vm *quickjs.VM) (cRuntime uintptr, tls *libc.TLS, ok bool) {
	rtField := reflect.ValueOf(vm).Elem().FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	c := rtVal.FieldByName("cRuntime")
	t := rtVal.FieldByName("tls")
	if !c.IsValid() || !t.IsValid() || t.IsNil() {
		return 0, nil, false
	}
	return uintptr(c.Uint()), (*libc.TLS)(unsafe.Pointer(t.Pointer())), true
}
