package diagnostics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alextreichler/threadViewer/internal/analysis"
	"github.com/alextreichler/threadViewer/internal/logutil"
	"github.com/alextreichler/threadViewer/internal/models"
	"github.com/alextreichler/threadViewer/internal/timeline"
)

type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityWarning  Severity = "Warning"
	SeverityInfo     Severity = "Info"
	SeverityPass     Severity = "Pass"
)

const (
	// BlockedWarnRatio and BlockedCriticalRatio bound the share of BLOCKED
	// threads in the worst snapshot.
	BlockedWarnRatio     = 0.25
	BlockedCriticalRatio = 0.50

	MaxThreads = 2000

	// A thread count rising by LeakGrowthRatio and at least LeakMinIncrease
	// between first and last snapshot is reported as a possible leak.
	LeakGrowthRatio = 1.5
	LeakMinIncrease = 20

	// StuckMinSnapshots is how many consecutive snapshots a busy thread must
	// show the same stack in to be reported as stuck.
	StuckMinSnapshots = 2

	HotStackMinThreads = 10
	HotStackMinShare   = 0.30

	maxNamesListed = 5
)

type CheckResult struct {
	Category      string   `json:"category"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	CurrentValue  string   `json:"current_value"`
	ExpectedValue string   `json:"expected_value"`
	Status        Severity `json:"status"`
	Remediation   string   `json:"remediation,omitempty"`
}

type DiagnosticsReport struct {
	Results []CheckResult `json:"results"`
}

// Worst returns the most severe status in the report, Pass when empty.
func (r DiagnosticsReport) Worst() Severity {
	worst := SeverityPass
	for _, res := range r.Results {
		if rank(res.Status) > rank(worst) {
			worst = res.Status
		}
	}
	return worst
}

func rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// Audit runs all health checks over the threads of one workspace. snaps
// gives the snapshot order; threads from files not in snaps are ignored by
// the cross-snapshot checks.
func Audit(threads []*models.Thread, snaps []timeline.Snapshot) DiagnosticsReport {
	report := analysis.AnalyzeLocks(threads)

	var results []CheckResult
	results = append(results, checkDeadlocks(report)...)
	results = append(results, checkContention(report)...)
	results = append(results, checkBlockedRatio(snaps)...)
	results = append(results, checkThreadCount(snaps)...)
	results = append(results, checkStuckThreads(threads, snaps)...)
	results = append(results, checkHotStack(threads, snaps)...)

	return DiagnosticsReport{Results: results}
}

func checkDeadlocks(report analysis.LockReport) []CheckResult {
	res := CheckResult{
		Category:      "Locking",
		Name:          "Deadlocks",
		Description:   "Cycles of threads each waiting for a lock held by the next",
		CurrentValue:  fmt.Sprintf("%d", len(report.Deadlocks)),
		ExpectedValue: "0",
		Status:        SeverityPass,
	}
	if len(report.Deadlocks) > 0 {
		var names []string
		for _, d := range report.Deadlocks {
			for _, t := range d.Threads {
				names = append(names, t.Name)
			}
		}
		res.Status = SeverityCritical
		res.Remediation = fmt.Sprintf("Threads %s will never make progress. Fix the lock ordering; the process needs a restart.", listNames(names))
	}
	return []CheckResult{res}
}

func checkContention(report analysis.LockReport) []CheckResult {
	var worst *analysis.LockInfo
	for i := range report.Locks {
		if worst == nil || report.Locks[i].Blocked() > worst.Blocked() {
			worst = &report.Locks[i]
		}
	}

	res := CheckResult{
		Category:      "Locking",
		Name:          "Monitor Contention",
		Description:   "Most threads blocked on a single lock in one snapshot",
		CurrentValue:  "0",
		ExpectedValue: fmt.Sprintf("< %d", analysis.ContentionThreshold),
		Status:        SeverityPass,
	}
	if worst == nil {
		return []CheckResult{res}
	}
	res.CurrentValue = fmt.Sprintf("%d on %s (a %s)", worst.Blocked(), worst.Address, worst.ClassName)
	if worst.Blocked() >= analysis.ContentionThreshold {
		res.Status = SeverityWarning
		res.Remediation = "Shrink the critical section or split the lock."
		if worst.Owner != nil {
			res.Remediation = fmt.Sprintf("Look at what %q does while holding the lock. %s", worst.Owner.Name, res.Remediation)
		}
	}
	return []CheckResult{res}
}

func checkBlockedRatio(snaps []timeline.Snapshot) []CheckResult {
	var (
		worstRatio float64
		worstSnap  *timeline.Snapshot
	)
	for i := range snaps {
		if snaps[i].Total == 0 {
			continue
		}
		ratio := float64(snaps[i].Counts[models.StatusBlocked]) / float64(snaps[i].Total)
		if worstSnap == nil || ratio > worstRatio {
			worstRatio, worstSnap = ratio, &snaps[i]
		}
	}
	if worstSnap == nil {
		return nil
	}

	res := CheckResult{
		Category:      "Thread States",
		Name:          "Blocked Threads",
		Description:   "Share of BLOCKED threads in the worst snapshot",
		CurrentValue:  fmt.Sprintf("%.0f%% (%d of %d in %s)", worstRatio*100, worstSnap.Counts[models.StatusBlocked], worstSnap.Total, worstSnap.Path),
		ExpectedValue: fmt.Sprintf("< %.0f%%", BlockedWarnRatio*100),
		Status:        SeverityPass,
	}
	switch {
	case worstRatio >= BlockedCriticalRatio:
		res.Status = SeverityCritical
		res.Remediation = "Most of the application is waiting on monitors. Check the lock report for the owner."
	case worstRatio >= BlockedWarnRatio:
		res.Status = SeverityWarning
		res.Remediation = "Check the lock report for contended monitors."
	}
	return []CheckResult{res}
}

func checkThreadCount(snaps []timeline.Snapshot) []CheckResult {
	var counted []timeline.Snapshot
	peak := 0
	for _, s := range snaps {
		if s.Total == 0 {
			continue
		}
		counted = append(counted, s)
		peak = max(peak, s.Total)
	}
	if len(counted) == 0 {
		return nil
	}

	results := []CheckResult{{
		Category:      "Thread Count",
		Name:          "Peak Thread Count",
		Description:   "Largest number of threads in one snapshot",
		CurrentValue:  fmt.Sprintf("%d", peak),
		ExpectedValue: fmt.Sprintf("< %d", MaxThreads),
		Status:        SeverityPass,
	}}
	if peak >= MaxThreads {
		results[0].Status = SeverityWarning
		results[0].Remediation = "Every thread costs stack memory. Bound the thread pools."
	}

	if len(counted) < 2 {
		return results
	}
	first, last := counted[0].Total, counted[len(counted)-1].Total
	growth := CheckResult{
		Category:      "Thread Count",
		Name:          "Thread Growth",
		Description:   "Thread count in the first and last snapshot",
		CurrentValue:  fmt.Sprintf("%d -> %d", first, last),
		ExpectedValue: "Stable",
		Status:        SeverityPass,
	}
	if float64(last) >= float64(first)*LeakGrowthRatio && last-first >= LeakMinIncrease {
		growth.Status = SeverityWarning
		growth.Remediation = "Thread count keeps rising. Look for executors created per request or threads that never exit."
	}
	return append(results, growth)
}

type occurrence struct {
	snap        int
	status      models.ThreadStatus
	fingerprint string
	top         string
}

// checkStuckThreads finds RUNNABLE or BLOCKED threads whose stack did not
// change over consecutive snapshots. Threads are matched by name and nid.
func checkStuckThreads(threads []*models.Thread, snaps []timeline.Snapshot) []CheckResult {
	if len(snaps) < StuckMinSnapshots {
		return nil
	}
	order := make(map[string]int, len(snaps))
	for i, s := range snaps {
		order[s.FileID] = i
	}

	seen := make(map[string][]occurrence)
	var keys []string
	for _, t := range threads {
		idx, ok := order[t.FileID]
		if !ok || len(t.Frames) == 0 {
			continue
		}
		key := fmt.Sprintf("%s\x00%x", t.Name, t.Nid)
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
		seen[key] = append(seen[key], occurrence{
			snap:        idx,
			status:      t.Status,
			fingerprint: logutil.StackFingerprint(t.Frames),
			top:         t.TopMethod(),
		})
	}

	var stuck []string
	for _, key := range keys {
		occ := seen[key]
		sort.SliceStable(occ, func(i, j int) bool { return occ[i].snap < occ[j].snap })
		run, best := 0, 0
		for i, cur := range occ {
			if !busy(cur.status) {
				run = 0
				continue
			}
			if run > 0 && cur.snap == occ[i-1].snap+1 && cur.fingerprint == occ[i-1].fingerprint {
				run++
			} else {
				run = 1
			}
			best = max(best, run)
		}
		if best >= StuckMinSnapshots {
			name := key[:strings.IndexByte(key, 0)]
			stuck = append(stuck, fmt.Sprintf("%s (%s)", name, occ[len(occ)-1].top))
		}
	}

	res := CheckResult{
		Category:      "Thread States",
		Name:          "Stuck Threads",
		Description:   fmt.Sprintf("Busy threads with an unchanged stack over %d consecutive snapshots", StuckMinSnapshots),
		CurrentValue:  fmt.Sprintf("%d", len(stuck)),
		ExpectedValue: "0",
		Status:        SeverityPass,
	}
	if len(stuck) > 0 {
		res.Status = SeverityWarning
		res.Remediation = fmt.Sprintf("Check %s for infinite loops, slow I/O or lock convoys.", listNames(stuck))
	}
	return []CheckResult{res}
}

func busy(s models.ThreadStatus) bool {
	return s == models.StatusRunnable || s == models.StatusBlocked
}

// checkHotStack looks for many busy threads sharing one stack in the latest
// snapshot, which usually means one code path is saturating a pool.
func checkHotStack(threads []*models.Thread, snaps []timeline.Snapshot) []CheckResult {
	if len(snaps) == 0 {
		return nil
	}
	latest := snaps[len(snaps)-1]

	var busyThreads []*models.Thread
	for _, t := range threads {
		if t.FileID == latest.FileID && busy(t.Status) {
			busyThreads = append(busyThreads, t)
		}
	}
	groups := logutil.GroupByStack(busyThreads)
	if len(groups) == 0 || latest.Total == 0 {
		return nil
	}
	top := groups[0]
	share := float64(top.Count) / float64(latest.Total)

	res := CheckResult{
		Category:      "Thread States",
		Name:          "Hot Stack",
		Description:   "Largest group of busy threads sharing one stack in the latest snapshot",
		CurrentValue:  fmt.Sprintf("%d threads at %s", top.Count, top.TopMethod),
		ExpectedValue: fmt.Sprintf("< %d threads or < %.0f%%", HotStackMinThreads, HotStackMinShare*100),
		Status:        SeverityPass,
	}
	if top.Count >= HotStackMinThreads && share >= HotStackMinShare {
		res.Status = SeverityWarning
		res.Remediation = "One code path occupies a large part of the application."
		if top.Insight != nil {
			res.Remediation = top.Insight.Action
		}
	}
	return []CheckResult{res}
}

func listNames(names []string) string {
	if len(names) > maxNamesListed {
		return strings.Join(names[:maxNamesListed], ", ") + fmt.Sprintf(" and %d more", len(names)-maxNamesListed)
	}
	return strings.Join(names, ", ")
}
