package analysis

import (
	"fmt"
	"sort"

	"github.com/alextreichler/threadViewer/internal/models"
)

// ContentionThreshold is the number of threads blocked on one monitor at
// which a contention finding is raised.
const ContentionThreshold = 3

type WaitKind string

const (
	WaitToLock WaitKind = "waiting_to_lock"
	WaitOn     WaitKind = "waiting_on"
	WaitPark   WaitKind = "parking"
)

type ThreadRef struct {
	ID     string              `json:"id,omitempty"`
	Name   string              `json:"name"`
	Nid    uint64              `json:"nid"`
	Status models.ThreadStatus `json:"status"`
}

type LockWaiter struct {
	Thread ThreadRef `json:"thread"`
	Kind   WaitKind  `json:"kind"`
}

// LockInfo is one lock object of one snapshot with its holder and waiters.
type LockInfo struct {
	FileID    string       `json:"file_id"`
	Address   string       `json:"address"`
	ClassName string       `json:"class_name,omitempty"`
	Owner     *ThreadRef   `json:"owner,omitempty"`
	Waiters   []LockWaiter `json:"waiters,omitempty"`
	addr      uint64
}

// Blocked counts the threads trying to acquire the lock.
func (l LockInfo) Blocked() int {
	n := 0
	for _, w := range l.Waiters {
		if w.Kind != WaitOn {
			n++
		}
	}
	return n
}

// BlockedChain is a wait-for path: each thread waits on a lock held by the
// next one. The last thread is not waiting on anything we can see.
type BlockedChain struct {
	FileID  string      `json:"file_id"`
	Threads []ThreadRef `json:"threads"`
	Locks   []string    `json:"locks"`
}

// Deadlock is a cycle in the wait-for graph.
type Deadlock struct {
	FileID  string      `json:"file_id"`
	Threads []ThreadRef `json:"threads"`
	Locks   []string    `json:"locks"`
}

type Finding struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	FileID   string `json:"file_id,omitempty"`
}

type LockReport struct {
	Locks     []LockInfo     `json:"locks"`
	Chains    []BlockedChain `json:"chains"`
	Deadlocks []Deadlock     `json:"deadlocks"`
	Findings  []Finding      `json:"findings"`
}

func lockAddress(addr uint64) string {
	return fmt.Sprintf("0x%016x", addr)
}

func refOf(t *models.Thread) ThreadRef {
	return ThreadRef{ID: t.ID, Name: t.Name, Nid: t.Nid, Status: t.Status}
}

// AnalyzeLocks builds the lock report for a set of threads. Lock addresses
// only identify an object within one snapshot, so threads are grouped by
// FileID and analyzed per snapshot.
func AnalyzeLocks(threads []*models.Thread) LockReport {
	report := LockReport{
		Locks:     []LockInfo{},
		Chains:    []BlockedChain{},
		Deadlocks: []Deadlock{},
		Findings:  []Finding{},
	}

	var order []string
	byFile := make(map[string][]*models.Thread)
	for _, t := range threads {
		if _, ok := byFile[t.FileID]; !ok {
			order = append(order, t.FileID)
		}
		byFile[t.FileID] = append(byFile[t.FileID], t)
	}
	for _, fileID := range order {
		analyzeSnapshot(fileID, byFile[fileID], &report)
	}

	sort.SliceStable(report.Locks, func(i, j int) bool {
		a, b := report.Locks[i], report.Locks[j]
		if a.Blocked() != b.Blocked() {
			return a.Blocked() > b.Blocked()
		}
		if a.FileID != b.FileID {
			return a.FileID < b.FileID
		}
		return a.addr < b.addr
	})
	return report
}

type snapshot struct {
	fileID  string
	threads []*models.Thread
	locks   map[uint64]*LockInfo
	owner   map[uint64]int
	// waitsFor holds the lock a thread is trying to acquire, innermost first.
	waitsFor map[int]uint64
}

func (s *snapshot) lock(addr uint64, class string) *LockInfo {
	l, ok := s.locks[addr]
	if !ok {
		l = &LockInfo{FileID: s.fileID, Address: lockAddress(addr), addr: addr}
		s.locks[addr] = l
	}
	if l.ClassName == "" {
		l.ClassName = class
	}
	return l
}

func analyzeSnapshot(fileID string, threads []*models.Thread, report *LockReport) {
	s := &snapshot{
		fileID:   fileID,
		threads:  threads,
		locks:    make(map[uint64]*LockInfo),
		owner:    make(map[uint64]int),
		waitsFor: make(map[int]uint64),
	}

	for i, t := range threads {
		// A thread in Object.wait() lists the monitor as locked further out,
		// but it released it while waiting.
		released := make(map[uint64]bool)
		for _, f := range t.Frames {
			if f.Frame.Kind == models.FrameMonitor && f.Frame.Action == models.ActionWaitingOn {
				released[f.Frame.Address] = true
			}
		}

		for _, f := range t.Frames {
			if !f.Frame.HasAddress() {
				continue
			}
			addr := f.Frame.Address
			l := s.lock(addr, f.ClassName)
			switch {
			case f.Frame.Kind == models.FrameLock:
				if released[addr] {
					continue
				}
				if _, taken := s.owner[addr]; !taken {
					s.owner[addr] = i
					ref := refOf(t)
					l.Owner = &ref
				}
			case f.Frame.Kind == models.FrameMonitor && f.Frame.Action == models.ActionWaitingOn:
				l.Waiters = append(l.Waiters, LockWaiter{Thread: refOf(t), Kind: WaitOn})
			case f.Frame.Kind == models.FrameMonitor && f.Frame.Action == models.ActionWaitingToLock:
				l.Waiters = append(l.Waiters, LockWaiter{Thread: refOf(t), Kind: WaitToLock})
				if _, ok := s.waitsFor[i]; !ok {
					s.waitsFor[i] = addr
				}
			case f.Frame.Kind == models.FrameParking:
				l.Waiters = append(l.Waiters, LockWaiter{Thread: refOf(t), Kind: WaitPark})
				if _, ok := s.waitsFor[i]; !ok {
					s.waitsFor[i] = addr
				}
			}
		}
	}

	addrs := make([]uint64, 0, len(s.locks))
	for addr := range s.locks {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		l := s.locks[addr]
		report.Locks = append(report.Locks, *l)
		if n := l.Blocked(); n >= ContentionThreshold {
			holder := "an unknown thread"
			if l.Owner != nil {
				holder = fmt.Sprintf("%q", l.Owner.Name)
			}
			report.Findings = append(report.Findings, Finding{
				Type:     "Contention",
				Severity: "Warning",
				Message:  fmt.Sprintf("%d threads are blocked on %s (a %s) held by %s.", n, l.Address, l.ClassName, holder),
				FileID:   fileID,
			})
		}
	}

	deadlocks := s.deadlocks()
	for _, d := range deadlocks {
		names := make([]string, len(d.Threads))
		for i, t := range d.Threads {
			names[i] = t.Name
		}
		report.Findings = append(report.Findings, Finding{
			Type:     "Deadlock",
			Severity: "Critical",
			Message:  fmt.Sprintf("Deadlock between %d threads: %q.", len(names), names),
			FileID:   fileID,
		})
	}
	report.Deadlocks = append(report.Deadlocks, deadlocks...)
	report.Chains = append(report.Chains, s.chains()...)
}

// next follows the wait-for edge of thread i, returning the holder of the
// lock it waits on.
func (s *snapshot) next(i int) (holder int, addr uint64, ok bool) {
	addr, waiting := s.waitsFor[i]
	if !waiting {
		return 0, 0, false
	}
	holder, held := s.owner[addr]
	if !held || holder == i {
		return 0, addr, false
	}
	return holder, addr, true
}

// deadlocks finds the cycles of the wait-for graph. Every thread has at most
// one outgoing edge, so each cycle is found by walking until a node repeats.
func (s *snapshot) deadlocks() []Deadlock {
	const (
		unvisited = iota
		onPath
		done
	)
	state := make([]int, len(s.threads))
	var out []Deadlock

	for start := range s.threads {
		if state[start] != unvisited {
			continue
		}
		var path []int
		i := start
		for {
			if state[i] == onPath {
				// cycle from the first occurrence of i on the path
				k := 0
				for path[k] != i {
					k++
				}
				out = append(out, s.deadlock(path[k:]))
				break
			}
			if state[i] == done {
				break
			}
			state[i] = onPath
			path = append(path, i)
			holder, _, ok := s.next(i)
			if !ok {
				break
			}
			i = holder
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return out
}

func (s *snapshot) deadlock(cycle []int) Deadlock {
	d := Deadlock{FileID: s.fileID}
	for _, i := range cycle {
		d.Threads = append(d.Threads, refOf(s.threads[i]))
		d.Locks = append(d.Locks, lockAddress(s.waitsFor[i]))
	}
	return d
}

// chains reports the wait-for paths that start at a thread nobody waits on.
// Paths feeding into a deadlock stop at the first repeated thread.
func (s *snapshot) chains() []BlockedChain {
	waitedOn := make(map[int]bool)
	for i := range s.threads {
		if holder, _, ok := s.next(i); ok {
			waitedOn[holder] = true
		}
	}

	var out []BlockedChain
	for start := range s.threads {
		if waitedOn[start] {
			continue
		}
		holder, addr, ok := s.next(start)
		if !ok {
			continue
		}
		c := BlockedChain{
			FileID:  s.fileID,
			Threads: []ThreadRef{refOf(s.threads[start])},
		}
		seen := map[int]bool{start: true}
		for ok && !seen[holder] {
			seen[holder] = true
			c.Threads = append(c.Threads, refOf(s.threads[holder]))
			c.Locks = append(c.Locks, lockAddress(addr))
			holder, addr, ok = s.next(holder)
		}
		if ok {
			c.Locks = append(c.Locks, lockAddress(addr))
		}
		out = append(out, c)
	}
	return out
}
