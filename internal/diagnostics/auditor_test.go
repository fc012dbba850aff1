package diagnostics

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextreichler/threadViewer/internal/models"
	"github.com/alextreichler/threadViewer/internal/parser"
	"github.com/alextreichler/threadViewer/internal/timeline"
)

func stanza(name string, nid int, state string, lines ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"%s\" #%d prio=5 os_prio=0 tid=0x%x nid=0x%x runnable [0x00007f1000000000]\n", name, nid, 0x7f0000+nid, nid)
	fmt.Fprintf(&b, "   java.lang.Thread.State: %s\n", state)
	for _, l := range lines {
		b.WriteString("\t" + l + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

// parseSnapshot parses one dump and tags its threads with fileID.
func parseSnapshot(t *testing.T, fileID string, stanzas ...string) ([]*models.Thread, timeline.Snapshot) {
	t.Helper()
	res, err := parser.ParseDump(strings.NewReader(strings.Join(stanzas, "")), parser.DumpOptions{})
	require.NoError(t, err)
	require.Empty(t, res.Failures)

	snap := timeline.Snapshot{FileID: fileID, Path: fileID + ".txt", Counts: map[models.ThreadStatus]int{}}
	for _, th := range res.Threads {
		th.FileID = fileID
		snap.Counts[th.Status]++
		snap.Total++
	}
	return res.Threads, snap
}

func findResult(t *testing.T, r DiagnosticsReport, name string) CheckResult {
	t.Helper()
	for _, res := range r.Results {
		if res.Name == name {
			return res
		}
	}
	t.Fatalf("check %q not in report", name)
	return CheckResult{}
}

var (
	cruncher = []string{
		"at com.example.Crunch.loop(Crunch.java:10)",
		"at java.lang.Thread.run(Thread.java:833)",
	}
	sleeper = []string{
		"at java.lang.Thread.sleep(Native Method)",
		"at com.example.Poller.run(Poller.java:5)",
	}
)

func blocker(addr string) []string {
	return []string{
		"at com.example.Cache.get(Cache.java:20)",
		"- waiting to lock <" + addr + "> (a com.example.Cache)",
		"at java.lang.Thread.run(Thread.java:833)",
	}
}

func TestAudit_HealthyBundle(t *testing.T) {
	threads, snap := parseSnapshot(t, "f1",
		stanza("worker-1", 0x11, "RUNNABLE", cruncher...),
		stanza("poller", 0x12, "TIMED_WAITING (sleeping)", sleeper...),
	)

	r := Audit(threads, []timeline.Snapshot{snap})

	assert.Equal(t, SeverityPass, r.Worst())
	assert.Equal(t, "0", findResult(t, r, "Deadlocks").CurrentValue)
	assert.Equal(t, "2", findResult(t, r, "Peak Thread Count").CurrentValue)
	for _, res := range r.Results {
		assert.NotEqual(t, "Stuck Threads", res.Name, "needs two snapshots")
		assert.NotEqual(t, "Thread Growth", res.Name, "needs two snapshots")
	}
}

func TestAudit_ContentionAndBlockedRatio(t *testing.T) {
	threads, snap := parseSnapshot(t, "f1",
		stanza("owner", 0x10, "RUNNABLE",
			"at com.example.Cache.load(Cache.java:40)",
			"- locked <0x00000000000000c0> (a com.example.Cache)",
			"at java.lang.Thread.run(Thread.java:833)",
		),
		stanza("reader-1", 0x11, "BLOCKED (on object monitor)", blocker("0x00000000000000c0")...),
		stanza("reader-2", 0x12, "BLOCKED (on object monitor)", blocker("0x00000000000000c0")...),
		stanza("reader-3", 0x13, "BLOCKED (on object monitor)", blocker("0x00000000000000c0")...),
	)

	r := Audit(threads, []timeline.Snapshot{snap})

	contention := findResult(t, r, "Monitor Contention")
	assert.Equal(t, SeverityWarning, contention.Status)
	assert.Equal(t, "3 on 0x00000000000000c0 (a com.example.Cache)", contention.CurrentValue)
	assert.Contains(t, contention.Remediation, `"owner"`)

	blocked := findResult(t, r, "Blocked Threads")
	assert.Equal(t, SeverityCritical, blocked.Status)
	assert.Equal(t, "75% (3 of 4 in f1.txt)", blocked.CurrentValue)

	assert.Equal(t, SeverityCritical, r.Worst())
}

func TestAudit_Deadlock(t *testing.T) {
	threads, snap := parseSnapshot(t, "f1",
		stanza("a", 0x1, "BLOCKED (on object monitor)",
			"at com.example.X.run(X.java:1)",
			"- waiting to lock <0x00000000000000b0> (a java.lang.Object)",
			"- locked <0x00000000000000a0> (a java.lang.Object)",
		),
		stanza("b", 0x2, "BLOCKED (on object monitor)",
			"at com.example.X.run(X.java:1)",
			"- waiting to lock <0x00000000000000a0> (a java.lang.Object)",
			"- locked <0x00000000000000b0> (a java.lang.Object)",
		),
	)

	res := findResult(t, Audit(threads, []timeline.Snapshot{snap}), "Deadlocks")
	assert.Equal(t, SeverityCritical, res.Status)
	assert.Equal(t, "1", res.CurrentValue)
	assert.Regexp(t, `Threads (a, b|b, a) will never`, res.Remediation)
}

func TestAudit_StuckThreads(t *testing.T) {
	t1, s1 := parseSnapshot(t, "f1",
		stanza("worker-1", 0x11, "RUNNABLE", cruncher...),
		stanza("worker-2", 0x12, "RUNNABLE", cruncher...),
		stanza("poller", 0x13, "TIMED_WAITING (sleeping)", sleeper...),
	)
	t2, s2 := parseSnapshot(t, "f2",
		stanza("worker-1", 0x11, "RUNNABLE", cruncher...),
		stanza("worker-2", 0x12, "RUNNABLE",
			"at com.example.Crunch.flush(Crunch.java:30)",
			"at java.lang.Thread.run(Thread.java:833)",
		),
		stanza("poller", 0x13, "TIMED_WAITING (sleeping)", sleeper...),
	)

	// snapshot order comes from snaps, not from thread order
	threads := append(t2, t1...)
	r := Audit(threads, []timeline.Snapshot{s1, s2})

	stuck := findResult(t, r, "Stuck Threads")
	assert.Equal(t, SeverityWarning, stuck.Status)
	assert.Equal(t, "1", stuck.CurrentValue)
	assert.Contains(t, stuck.Remediation, "worker-1 (com.example.Crunch.loop)")
	assert.NotContains(t, stuck.Remediation, "poller")

	growth := findResult(t, r, "Thread Growth")
	assert.Equal(t, SeverityPass, growth.Status)
	assert.Equal(t, "3 -> 3", growth.CurrentValue)
}

func TestAudit_StuckNeedsConsecutiveSnapshots(t *testing.T) {
	t1, s1 := parseSnapshot(t, "f1", stanza("worker-1", 0x11, "RUNNABLE", cruncher...))
	t2, s2 := parseSnapshot(t, "f2", stanza("worker-1", 0x11, "TIMED_WAITING (sleeping)", sleeper...))
	t3, s3 := parseSnapshot(t, "f3", stanza("worker-1", 0x11, "RUNNABLE", cruncher...))

	var threads []*models.Thread
	threads = append(threads, t1...)
	threads = append(threads, t2...)
	threads = append(threads, t3...)

	stuck := findResult(t, Audit(threads, []timeline.Snapshot{s1, s2, s3}), "Stuck Threads")
	assert.Equal(t, SeverityPass, stuck.Status)
}

func TestAudit_ThreadGrowthAndHotStack(t *testing.T) {
	t1, s1 := parseSnapshot(t, "f1", stanza("main", 0x1, "RUNNABLE", cruncher...))

	var stanzas []string
	for i := 0; i < 30; i++ {
		stanzas = append(stanzas, stanza(fmt.Sprintf("reader-%d", i), 0x100+i, "BLOCKED (on object monitor)", blocker(fmt.Sprintf("0x%016x", 0xd0+i))...))
	}
	t2, s2 := parseSnapshot(t, "f2", stanzas...)

	r := Audit(append(t1, t2...), []timeline.Snapshot{s1, s2})

	growth := findResult(t, r, "Thread Growth")
	assert.Equal(t, SeverityWarning, growth.Status)
	assert.Equal(t, "1 -> 30", growth.CurrentValue)

	hot := findResult(t, r, "Hot Stack")
	assert.Equal(t, SeverityWarning, hot.Status)
	assert.Equal(t, "30 threads at com.example.Cache.get", hot.CurrentValue)

	assert.Equal(t, "30", findResult(t, r, "Peak Thread Count").CurrentValue)
}

func TestAudit_Empty(t *testing.T) {
	r := Audit(nil, nil)
	assert.Equal(t, SeverityPass, r.Worst())
	assert.Len(t, r.Results, 2)
}
