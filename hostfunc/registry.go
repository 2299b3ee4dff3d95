package hostfunc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// Registry maps function names to registered Go functions, per spec.md
// §4.7. Safe for concurrent Register/Invoke, though a single sandbox only
// ever calls Invoke from the one goroutine driving its vCPU.
type Registry struct {
	mu      sync.RWMutex
	fns     map[string]*thunk
	log     *logrus.Entry
}

// NewRegistry builds an empty registry. log is used only to warn on
// duplicate-name registration (spec.md §4.7: "Duplicate-name registrations
// overwrite with a warning").
func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{fns: make(map[string]*thunk), log: log}
}

// Register captures fn's signature via reflection and binds it to name.
// fn's parameters and return value (plus an optional trailing error) must
// be drawn from the closed set {i32, i64, u64, bool, string, []byte,
// GuestPtr}, with at most 10 parameters.
func (r *Registry) Register(name string, fn any) error {
	th, err := buildThunk(fn)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.fns[name]; exists {
		r.log.WithField("function", name).Warn("hostfunc: overwriting previously registered function")
	}
	r.fns[name] = th
	return nil
}

// Invoke services one guest->host call frame (dispatcher.FunctionInvoker).
// If name isn't registered, the returned error satisfies
// dispatcher.NotFoundError (structurally: error + NotFound() bool). A panic
// raised by the host function is recovered and returned as an error.
func (r *Registry) Invoke(frame *memmgr.CallFrame) (result memmgr.Value, err error) {
	r.mu.RLock()
	th, ok := r.fns[frame.FunctionName]
	r.mu.RUnlock()
	if !ok {
		return memmgr.Value{}, notFoundError{name: frame.FunctionName}
	}
	defer func() {
		if p := recover(); p != nil {
			result, err = memmgr.Value{}, fmt.Errorf("hostfunc: %s panicked: %v", frame.FunctionName, p)
		}
	}()
	return th.invoke(frame)
}

// PEBRecords renders every registered function as a memmgr.FunctionRecord
// for memmgr.WritePEB, in stable name order so the serialized PEB is
// deterministic across calls with an unchanged registry (spec.md §6's PEB
// function-record table).
func (r *Registry) PEBRecords() []memmgr.FunctionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]memmgr.FunctionRecord, 0, len(r.fns))
	for name, th := range r.fns {
		recs = append(recs, memmgr.FunctionRecord{Name: name, Signature: th.signature()})
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs
}
