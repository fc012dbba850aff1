package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alextreichler/threadViewer/internal/models"
)

var runnableStanza = []string{
	`"Thread-1" #1 prio=5 os_prio=0 tid=0x00007f3d70001800 nid=0x2f03 runnable [0x00007f3d80f21000]`,
	"java.lang.Thread.State: RUNNABLE",
	"at com.example.MyClass.myMethod(MyClass.java:10)",
	"at com.example.MyClass.run(MyClass.java:5)",
	"at java.lang.Thread.run(Thread.java:748)",
}

var blockedStanza = []string{
	`"Thread-2" #2 prio=5 os_prio=0 tid=0x00007f3d70002800 nid=0x2f04 waiting for monitor entry [0x00007f3d80f22000]`,
	"java.lang.Thread.State: BLOCKED (on object monitor)",
	"at com.example.MyClass.synchronizedMethod(MyClass.java:20)",
	"- waiting to lock <0x00000000c7c600d0> (a java.lang.Object)",
	"at com.example.MyClass.run(MyClass.java:15)",
	"at java.lang.Thread.run(Thread.java:748)",
}

func TestParseThread_Runnable(t *testing.T) {
	got, err := ParseThread(runnableStanza)
	require.NoError(t, err)

	prio := 5
	want := &models.Thread{
		ID:      "#1",
		Name:    "Thread-1",
		Prio:    &prio,
		OsPrio:  0,
		Tid:     0x00007f3d70001800,
		Nid:     0x2f03,
		Status:  models.StatusRunnable,
		Address: "0x00007f3d80f21000",
		Frames: []models.CallFrame{
			{ClassName: "com.example.MyClass", MethodName: "com.example.MyClass.myMethod", LineNumber: 10, Frame: models.MethodCall()},
			{ClassName: "com.example.MyClass", MethodName: "com.example.MyClass.run", LineNumber: 5, Frame: models.MethodCall()},
			{ClassName: "java.lang.Thread", MethodName: "java.lang.Thread.run", LineNumber: 748, Frame: models.MethodCall()},
		},
	}
	assert.Equal(t, want, got)
	assert.False(t, got.Daemon)
}

func TestParseThread_DecimalNid(t *testing.T) {
	got, err := ParseThread([]string{
		`"main" #1 [12345] prio=5 os_prio=0 cpu=10.50ms elapsed=3.20s tid=0x00007f0000001000 nid=12345 runnable  [0x00007f1000000000]`,
		"java.lang.Thread.State: RUNNABLE",
		"at com.example.Main.main(Main.java:3)",
	})
	require.NoError(t, err)
	assert.Equal(t, "#1", got.ID)
	assert.Equal(t, uint64(12345), got.Nid)
	assert.Equal(t, uint64(0x00007f0000001000), got.Tid)
	require.NotNil(t, got.Prio)
	assert.Equal(t, 5, *got.Prio)
	assert.Equal(t, "0x00007f1000000000", got.Address)

	_, err = ParseThread([]string{`"x" tid=0x1 nid=2f03 runnable`})
	assert.ErrorIs(t, err, ErrParseInt, "bare nid is decimal")
}

func TestParseThread_Deterministic(t *testing.T) {
	a, err := ParseThread(blockedStanza)
	require.NoError(t, err)
	b, err := ParseThread(blockedStanza)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseThread_BlockedOnMonitor(t *testing.T) {
	got, err := ParseThread(blockedStanza)
	require.NoError(t, err)

	assert.Equal(t, models.StatusBlocked, got.Status)
	require.Len(t, got.Frames, 4)

	var monitors []models.CallFrame
	for _, f := range got.Frames {
		if f.Frame.Kind == models.FrameMonitor {
			monitors = append(monitors, f)
		}
	}
	require.Len(t, monitors, 1)
	assert.Equal(t, models.ActionWaitingToLock, monitors[0].Frame.Action)
	assert.Equal(t, uint64(0x00000000c7c600d0), monitors[0].Frame.Address)
	assert.Equal(t, "java.lang.Object", monitors[0].ClassName)
	assert.Empty(t, monitors[0].MethodName)
	assert.Equal(t, 1, indexOfKind(got.Frames, models.FrameMonitor))
}

func TestParseThread_WaitingWithNativeAndLock(t *testing.T) {
	lines := []string{
		`"Thread-3" #3 prio=5 os_prio=0 tid=0x00007f3d70003800 nid=0x2f05 in Object.wait() [0x00007f3d80f23000]`,
		"java.lang.Thread.State: WAITING (on object monitor)",
		"at java.lang.Object.wait(Native Method)",
		"- waiting on <0x00000000c7c600d0> (a java.lang.Object)",
		"at java.lang.Object.wait(Object.java:502)",
		"at com.example.MyClass.waitMethod(MyClass.java:30)",
		"- locked <0x00000000c7c600d0> (a java.lang.Object)",
		"at com.example.MyClass.run(MyClass.java:25)",
		"at java.lang.Thread.run(Thread.java:748)",
	}
	got, err := ParseThread(lines)
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaiting, got.Status)
	require.Len(t, got.Frames, 7)
	assert.Equal(t, models.CallFrame{ClassName: "java.lang.Object", MethodName: "java.lang.Object.wait", Frame: models.NativeMethod()}, got.Frames[0])
	assert.Equal(t, models.Monitor(0xc7c600d0, models.ActionWaitingOn), got.Frames[1].Frame)
	assert.Equal(t, 502, got.Frames[2].LineNumber)
	assert.Equal(t, models.Lock(0xc7c600d0), got.Frames[4].Frame)
	assert.Equal(t, "java.lang.Object", got.Frames[4].ClassName)
}

func TestParseThread_Parking(t *testing.T) {
	lines := []string{
		`"pool-1-thread-1" #8 daemon prio=5 os_prio=0 cpu=1.25ms elapsed=10.50s tid=0x00007f3d70008800 nid=0x2f0a waiting on condition [0x00007f3d80f28000]`,
		"java.lang.Thread.State: TIMED_WAITING (parking)",
		"at jdk.internal.misc.Unsafe.park(java.base@17.0.2/Native Method)",
		"- parking to wait for  <0x00000002a5bdfc00> (a java.util.concurrent.locks.AbstractQueuedSynchronizer$ConditionObject)",
		"at java.base@17.0.2/java.util.concurrent.locks.LockSupport.parkNanos(LockSupport.java:252)",
	}
	got, err := ParseThread(lines)
	require.NoError(t, err)

	assert.True(t, got.Daemon)
	assert.Equal(t, "#8", got.ID)
	assert.Equal(t, models.StatusTimedWaiting, got.Status)
	assert.Equal(t, models.FrameNativeMethod, got.Frames[0].Frame.Kind)
	assert.Equal(t, models.Parking(0x2a5bdfc00), got.Frames[1].Frame)
	assert.Equal(t, "java.util.concurrent.locks.AbstractQueuedSynchronizer$ConditionObject", got.Frames[1].ClassName)
	assert.Equal(t, "java.util.concurrent.locks.LockSupport.parkNanos", got.Frames[2].MethodName)
	assert.Equal(t, 252, got.Frames[2].LineNumber)
}

func TestParseThread_HeaderOnly(t *testing.T) {
	cases := []struct {
		line string
		want models.ThreadStatus
	}{
		{`"VM Thread" os_prio=0 tid=0x00007f3d7006a800 nid=0x2efa runnable`, models.StatusRunnable},
		{`"VM Periodic Task Thread" os_prio=0 tid=0x00007f3d700b8000 nid=0x2f02 waiting on condition`, models.StatusWaiting},
		{`"Sleeper" #20 os_prio=0 tid=0x00007f3d700b9000 nid=0x2f09 sleeping [0x00007f3d80f29000]`, models.StatusTimedWaiting},
		{`"Mystery" os_prio=0 tid=0x01 nid=0x02 doing something else`, models.StatusUnknown},
	}
	for _, tc := range cases {
		got, err := ParseThread([]string{tc.line})
		require.NoError(t, err, tc.line)
		assert.Equal(t, tc.want, got.Status, tc.line)
		assert.Empty(t, got.Frames)
		assert.Nil(t, got.Prio)
	}
}

func TestParseThread_Errors(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		want  error
	}{
		{"missing tid", []string{`"Thread-1" #1 prio=5 os_prio=0 nid=0x2f03 runnable`}, ErrMissingField},
		{"missing nid", []string{`"Thread-1" #1 prio=5 os_prio=0 tid=0x2f03 runnable`}, ErrMissingField},
		{"bad hex", []string{`"Thread-1" tid=0xZZ nid=0x2f03 runnable`}, ErrParseInt},
		{"no quoted name", []string{`Thread-1 tid=0x1 nid=0x2f03 runnable`}, ErrParse},
		{"state line", []string{runnableStanza[0], "RUNNABLE", "at a.B.c(B.java:1)"}, ErrInvalidStatus},
		{"illegal state", []string{runnableStanza[0], "java.lang.Thread.State: DANCING", "at a.B.c(B.java:1)"}, ErrIllegalStatus},
		{"unknown frame", []string{runnableStanza[0], runnableStanza[1], "in a.B.c(B.java:1)"}, ErrUnknownFrame},
		{"unknown pseudo frame", []string{runnableStanza[0], runnableStanza[1], "- owning <0x01> (a X)"}, ErrUnknownFrame},
		{"lock without address", []string{runnableStanza[0], runnableStanza[1], "- locked <no object reference available>"}, ErrUnknownFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got *models.Thread
			var err error
			assert.NotPanics(t, func() { got, err = ParseThread(tc.lines) })
			assert.Nil(t, got)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestParseFrame_Variants(t *testing.T) {
	f, err := ParseFrame("\t- eliminated <owner is scalar replaced> (a java.lang.Object)")
	require.NoError(t, err)
	assert.Equal(t, models.Eliminated(), f.Frame)
	assert.Equal(t, "java.lang.Object", f.ClassName)

	f, err = ParseFrame("- waiting to re-lock in wait() <0x0000000700e0c1d8> (a java.lang.Object)")
	require.NoError(t, err)
	assert.Equal(t, models.Monitor(0x700e0c1d8, models.ActionLocked), f.Frame)

	f, err = ParseFrame("at com.example.Foo$$Lambda$14/0x0000000800c0.run(Unknown Source)")
	require.NoError(t, err)
	assert.Equal(t, "com.example.Foo$$Lambda$14/0x0000000800c0.run", f.MethodName)
	assert.Equal(t, 0, f.LineNumber)

	f, err = ParseFrame("at app//com.example.Foo.<init>(Foo.java:7)")
	require.NoError(t, err)
	assert.Equal(t, "com.example.Foo.<init>", f.MethodName)
	assert.Equal(t, "com.example.Foo", f.ClassName)
}

func TestIsSystemThread(t *testing.T) {
	assert.True(t, IsSystemThread([]string{`"GC task thread#0 (ParallelGC)" os_prio=0 tid=0x1 nid=0x2 runnable`}))
	assert.True(t, IsSystemThread([]string{`"VM Thread" os_prio=0 tid=0x1 nid=0x2 runnable`}))
	assert.False(t, IsSystemThread(runnableStanza))
	assert.False(t, IsSystemThread([]string{`"main" #1 prio=5 os_prio=0 tid=0x1 nid=0x2 runnable`}))
}

const sampleDump = `2024-08-09 22:37:14
Full thread dump Java HotSpot(TM) 64-Bit Server VM (25.181-b13 mixed mode):

"Thread-1" #1 prio=5 os_prio=0 tid=0x00007f3d70001800 nid=0x2f03 runnable [0x00007f3d80f21000]
   java.lang.Thread.State: RUNNABLE
	at com.example.MyClass.myMethod(MyClass.java:10)
	at com.example.MyClass.run(MyClass.java:5)
	at java.lang.Thread.run(Thread.java:748)

"broken" #9 prio=5 os_prio=0 nid=0x2f11 runnable
   java.lang.Thread.State: RUNNABLE

"Thread-2" #2 prio=5 os_prio=0 tid=0x00007f3d70002800 nid=0x2f04 waiting for monitor entry [0x00007f3d80f22000]
   java.lang.Thread.State: BLOCKED (on object monitor)
	at com.example.MyClass.synchronizedMethod(MyClass.java:20)
	- waiting to lock <0x00000000c7c600d0> (a java.lang.Object)
	at com.example.MyClass.run(MyClass.java:15)
	at java.lang.Thread.run(Thread.java:748)

   Locked ownable synchronizers:
	- None

"VM Thread" os_prio=0 tid=0x00007f3d7006a800 nid=0x2efa runnable

JNI global references: 12
`

func TestSplitStanzas(t *testing.T) {
	stanzas, err := SplitStanzas(strings.NewReader(sampleDump))
	require.NoError(t, err)
	require.Len(t, stanzas, 4)

	assert.Equal(t, 4, stanzas[0].StartLine)
	assert.Equal(t, 8, stanzas[0].EndLine)
	assert.Equal(t, "at com.example.MyClass.myMethod(MyClass.java:10)", stanzas[0].Lines[2])
	assert.Len(t, stanzas[2].Lines, 6)
	assert.Equal(t, []string{`"VM Thread" os_prio=0 tid=0x00007f3d7006a800 nid=0x2efa runnable`}, stanzas[3].Lines)
}

func TestParseDump_BestEffort(t *testing.T) {
	res, err := ParseDump(strings.NewReader(sampleDump), DumpOptions{SkipSystemThreads: true})
	require.NoError(t, err)

	require.Len(t, res.Threads, 2)
	assert.Equal(t, "Thread-1", res.Threads[0].Name)
	assert.Equal(t, 4, res.Threads[0].StartLine)
	assert.Equal(t, models.StatusRunnable, res.Threads[0].Status)
	assert.Equal(t, "Thread-2", res.Threads[1].Name)
	assert.Equal(t, models.StatusBlocked, res.Threads[1].Status)
	assert.Equal(t, 1, res.Skipped)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, 10, res.Failures[0].StartLine)
	assert.ErrorIs(t, res.Failures[0].Err, ErrMissingField)
	assert.Contains(t, res.Failures[0].Header, `"broken"`)
}

func indexOfKind(frames []models.CallFrame, kind models.FrameKind) int {
	for i, f := range frames {
		if f.Frame.Kind == kind {
			return i
		}
	}
	return -1
}
