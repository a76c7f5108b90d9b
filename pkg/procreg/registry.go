// Package procreg tracks the OS process IDs this run has spawned, so that
// shutdown can kill exactly our own children and nothing else on a shared
// host. See spec.md §4.2.
package procreg

import "sync"

// KillTreeFunc kills a process group rooted at pid. pkg/procexec.KillTree
// satisfies this; tests supply a fake to assert without touching real
// processes.
type KillTreeFunc func(pid int)

// Registry is a thread-safe set of live child PIDs.
type Registry struct {
	mu       sync.Mutex
	pids     map[int]struct{}
	killTree KillTreeFunc
}

// New creates an empty registry. killTree is invoked once per tracked PID
// when KillAll runs.
func New(killTree KillTreeFunc) *Registry {
	return &Registry{
		pids:     make(map[int]struct{}),
		killTree: killTree,
	}
}

// Register records pid as belonging to this run.
func (r *Registry) Register(pid int) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	r.pids[pid] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes pid once its supervisor has reaped it.
func (r *Registry) Unregister(pid int) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	delete(r.pids, pid)
	r.mu.Unlock()
}

// AllPIDs returns a snapshot of the currently tracked PIDs.
func (r *Registry) AllPIDs() []int {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	pids := make([]int, 0, len(r.pids))
	for pid := range r.pids {
		pids = append(pids, pid)
	}
	r.mu.Unlock()
	return pids
}

// KillAll signals every tracked PID via killTree. It snapshots the PID set
// under the mutex and releases it before invoking killTree, so that a
// concurrent Register/Unregister never deadlocks against an in-flight
// kill — the registry is not cleared by KillAll; individual supervisors
// unregister as they reap.
func (r *Registry) KillAll() {
	if r == nil {
		return
	}
	pids := r.AllPIDs()
	if r.killTree == nil {
		return
	}
	for _, pid := range pids {
		r.killTree(pid)
	}
}

// Len reports how many PIDs are currently tracked. Used by tests asserting
// the no-zombies invariant.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pids)
}
