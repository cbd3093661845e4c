// Package usecase contains application business logic.
package usecase

import "sync"

// MaliciousTracker is a process-lifetime blocklist of callers that failed an
// integrity check. Entries are removed only when the process dies.
type MaliciousTracker struct {
	mu   sync.Mutex
	pids map[int32]int32 // pid -> uid, uid < 0 when unknown
	uids map[int32]int   // uid -> number of blocked pids
}

// NewMaliciousTracker creates an empty tracker.
func NewMaliciousTracker() *MaliciousTracker {
	return &MaliciousTracker{
		pids: make(map[int32]int32),
		uids: make(map[int32]int),
	}
}

// Add blocks pid. A non-negative uid also blocks other processes of that uid.
func (t *MaliciousTracker) Add(pid, uid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pids[pid]; exists {
		return
	}
	t.pids[pid] = uid
	if uid >= 0 {
		t.uids[uid]++
	}
}

// Contains reports whether the (pid, uid) pair, or a blocked uid, is on the
// list. A pid entry matches only when either uid is unknown or both agree,
// so a recycled pid owned by another uid is not blocked.
func (t *MaliciousTracker) Contains(pid, uid int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if stored, found := t.pids[pid]; found && (stored < 0 || uid < 0 || stored == uid) {
		return true
	}
	return uid >= 0 && t.uids[uid] > 0
}

// Remove unblocks pid.
func (t *MaliciousTracker) Remove(pid int32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	uid, found := t.pids[pid]
	if !found {
		return
	}
	delete(t.pids, pid)
	if uid >= 0 {
		if t.uids[uid]--; t.uids[uid] <= 0 {
			delete(t.uids, uid)
		}
	}
}

// Len returns the number of blocked pids.
func (t *MaliciousTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pids)
}
