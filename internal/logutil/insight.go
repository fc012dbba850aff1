package logutil

import (
	"regexp"

	"github.com/alextreichler/threadViewer/internal/models"
)

// insightDepth is how many innermost call frames are checked against the
// knowledge base.
const insightDepth = 3

type stackPattern struct {
	Pattern     string
	Description string
	Severity    string // "Critical", "Warning", "Info"
	Action      string
	regex       *regexp.Regexp
}

// StackInsight explains a well-known stack top.
type StackInsight struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Action      string `json:"action"`
}

var stackKnowledgeBase = []stackPattern{
	{
		Pattern:     `^java\.lang\.Thread\.sleep`,
		Description: "Sleeping. The thread is in Thread.sleep.",
		Severity:    "Info",
		Action:      "Usually a polling loop. Many sleepers on one path can hide a retry storm.",
	},
	{
		Pattern:     `^(sun\.misc|jdk\.internal\.misc)\.Unsafe\.park`,
		Description: "Parked. The thread waits on a java.util.concurrent lock or condition.",
		Severity:    "Info",
		Action:      "Idle pool workers park here. If the pool is busy elsewhere, check who holds the lock in the parking frame.",
	},
	{
		Pattern:     `^java\.lang\.Object\.wait`,
		Description: "Waiting on a monitor (Object.wait).",
		Severity:    "Info",
		Action:      "Check which thread is expected to call notify on the object in the waiting-on frame.",
	},
	{
		Pattern:     `(SocketInputStream\.socketRead|NioSocketImpl\.(read|park)|SocketDispatcher\.read)`,
		Description: "Blocking socket read.",
		Severity:    "Warning",
		Action:      "Threads stuck here wait for a remote peer. Verify read timeouts are set on the client.",
	},
	{
		Pattern:     `(EPoll(ArrayWrapper|SelectorImpl)\.(epollWait|doSelect)|KQueue(ArrayWrapper)?\.(kevent0|poll)|WEPoll\.wait)`,
		Description: "Selector wait. The thread is an I/O event loop waiting for readiness.",
		Severity:    "Info",
		Action:      "Normal for network event loops.",
	},
	{
		Pattern:     `^java\.net\.(PlainSocketImpl\.socketAccept|ServerSocket\.implAccept)`,
		Description: "Accepting connections.",
		Severity:    "Info",
		Action:      "Normal for acceptor threads.",
	},
	{
		Pattern:     `(FileDispatcherImpl\.(read|write|force)|RandomAccessFile\.(read|write)|FileOutputStream\.write)`,
		Description: "File I/O.",
		Severity:    "Warning",
		Action:      "Many threads in file I/O can point to a slow disk or fsync pressure.",
	},
	{
		Pattern:     `^java\.util\.regex\.Pattern`,
		Description: "Regular expression matching.",
		Severity:    "Warning",
		Action:      "Runnable threads deep in regex code may be backtracking on a pathological pattern.",
	},
	{
		Pattern:     `^java\.lang\.(ClassLoader\.loadClass|Class\.forName)`,
		Description: "Class loading.",
		Severity:    "Warning",
		Action:      "Class loading holds a loader lock; many threads here can serialize startup.",
	},
	{
		Pattern:     `(HashMap\.(getNode|putVal)|TreeNode\.(find|putTreeVal))`,
		Description: "Hot HashMap access.",
		Severity:    "Warning",
		Action:      "Runnable threads spinning in HashMap may be racing on an unsynchronized map. Use ConcurrentHashMap.",
	},
}

func init() {
	for i := range stackKnowledgeBase {
		stackKnowledgeBase[i].regex = regexp.MustCompile(stackKnowledgeBase[i].Pattern)
	}
}

// GetInsight finds the first pattern matching one of the innermost call
// frames of a stack.
func GetInsight(frames []models.CallFrame) *StackInsight {
	checked := 0
	for _, f := range frames {
		if !f.IsCall() {
			continue
		}
		for _, p := range stackKnowledgeBase {
			if p.regex.MatchString(f.MethodName) {
				return &StackInsight{
					Description: p.Description,
					Severity:    p.Severity,
					Action:      p.Action,
				}
			}
		}
		checked++
		if checked == insightDepth {
			break
		}
	}
	return nil
}
