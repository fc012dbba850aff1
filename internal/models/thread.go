package models

import (
	"encoding/json"
	"fmt"
)

type ThreadStatus int

const (
	StatusNew ThreadStatus = iota
	StatusRunnable
	StatusWaiting
	StatusTimedWaiting
	StatusBlocked
	StatusTerminated
	StatusUnknown
)

var statusNames = [...]string{
	StatusNew:          "NEW",
	StatusRunnable:     "RUNNABLE",
	StatusWaiting:      "WAITING",
	StatusTimedWaiting: "TIMED_WAITING",
	StatusBlocked:      "BLOCKED",
	StatusTerminated:   "TERMINATED",
	StatusUnknown:      "UNKNOWN",
}

// AllStatuses lists every status in display order.
var AllStatuses = []ThreadStatus{
	StatusNew, StatusRunnable, StatusWaiting, StatusTimedWaiting,
	StatusBlocked, StatusTerminated, StatusUnknown,
}

func (s ThreadStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return statusNames[StatusUnknown]
	}
	return statusNames[s]
}

// ParseThreadStatus maps the JVM spelling of a state ("TIMED_WAITING") back to a status.
func ParseThreadStatus(name string) (ThreadStatus, bool) {
	for i, n := range statusNames {
		if n == name {
			return ThreadStatus(i), true
		}
	}
	return StatusUnknown, false
}

func (s ThreadStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ThreadStatus) UnmarshalText(b []byte) error {
	st, ok := ParseThreadStatus(string(b))
	if !ok {
		return fmt.Errorf("unknown thread status %q", string(b))
	}
	*s = st
	return nil
}

type FrameKind int

const (
	FrameMethodCall FrameKind = iota
	FrameLock
	FrameMonitor
	FrameParking
	FrameNativeMethod
	FrameEliminated
)

var frameKindNames = [...]string{
	FrameMethodCall:   "MethodCall",
	FrameLock:         "Lock",
	FrameMonitor:      "Monitor",
	FrameParking:      "Parking",
	FrameNativeMethod: "NativeMethod",
	FrameEliminated:   "Eliminated",
}

func (k FrameKind) String() string {
	if k < 0 || int(k) >= len(frameKindNames) {
		return "Unknown"
	}
	return frameKindNames[k]
}

func (k FrameKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *FrameKind) UnmarshalText(b []byte) error {
	for i, n := range frameKindNames {
		if n == string(b) {
			*k = FrameKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown frame kind %q", string(b))
}

type MonitorAction int

const (
	ActionWaitingToLock MonitorAction = iota
	ActionWaitingOn
	ActionLocked
)

var monitorActionNames = [...]string{
	ActionWaitingToLock: "WaitingToLock",
	ActionWaitingOn:     "WaitingOn",
	ActionLocked:        "Locked",
}

func (a MonitorAction) String() string {
	if a < 0 || int(a) >= len(monitorActionNames) {
		return "Unknown"
	}
	return monitorActionNames[a]
}

func (a MonitorAction) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *MonitorAction) UnmarshalText(b []byte) error {
	for i, n := range monitorActionNames {
		if n == string(b) {
			*a = MonitorAction(i)
			return nil
		}
	}
	return fmt.Errorf("unknown monitor action %q", string(b))
}

// Frame is the variant of one stack line. Address is set for Lock, Monitor and
// Parking; Action only for Monitor.
type Frame struct {
	Kind    FrameKind     `json:"kind"`
	Address uint64        `json:"address,omitempty"`
	Action  MonitorAction `json:"action,omitempty"`
}

func MethodCall() Frame   { return Frame{Kind: FrameMethodCall} }
func NativeMethod() Frame { return Frame{Kind: FrameNativeMethod} }
func Eliminated() Frame   { return Frame{Kind: FrameEliminated} }

func Lock(addr uint64) Frame { return Frame{Kind: FrameLock, Address: addr} }

func Parking(addr uint64) Frame { return Frame{Kind: FrameParking, Address: addr} }

func Monitor(addr uint64, action MonitorAction) Frame {
	return Frame{Kind: FrameMonitor, Address: addr, Action: action}
}

// HasAddress reports whether the variant carries a lock object address.
func (f Frame) HasAddress() bool {
	return f.Kind == FrameLock || f.Kind == FrameMonitor || f.Kind == FrameParking
}

type CallFrame struct {
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
	Frame      Frame  `json:"frame"`
}

// IsCall reports whether the frame names a method (plain or native).
func (c CallFrame) IsCall() bool {
	return c.Frame.Kind == FrameMethodCall || c.Frame.Kind == FrameNativeMethod
}

func (c CallFrame) String() string {
	switch c.Frame.Kind {
	case FrameMethodCall, FrameNativeMethod:
		if c.LineNumber > 0 {
			return fmt.Sprintf("%s@%d", c.MethodName, c.LineNumber)
		}
		return c.MethodName
	case FrameMonitor:
		return fmt.Sprintf("%s <0x%016x> (a %s)", c.Frame.Action, c.Frame.Address, c.ClassName)
	case FrameLock, FrameParking:
		return fmt.Sprintf("%s <0x%016x> (a %s)", c.Frame.Kind, c.Frame.Address, c.ClassName)
	default:
		return fmt.Sprintf("%s (a %s)", c.Frame.Kind, c.ClassName)
	}
}

// StatusJSON is the serialized frame variant stored next to each stack row.
func (c CallFrame) StatusJSON() string {
	b, err := json.Marshal(c.Frame)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Thread is one parsed stanza. Frames are innermost first.
type Thread struct {
	ID        string       `json:"id,omitempty"`
	FileID    string       `json:"file_id,omitempty"`
	Name      string       `json:"name"`
	Daemon    bool         `json:"daemon"`
	Prio      *int         `json:"prio,omitempty"`
	OsPrio    int          `json:"os_prio"`
	Tid       uint64       `json:"tid"`
	Nid       uint64       `json:"nid"`
	Status    ThreadStatus `json:"status"`
	Address   string       `json:"address,omitempty"`
	Frames    []CallFrame  `json:"frames"`
	StartLine int          `json:"start_line"`
	EndLine   int          `json:"end_line"`
}

// TopMethod returns the innermost method name, or "" for threads without calls.
func (t *Thread) TopMethod() string {
	for _, f := range t.Frames {
		if f.IsCall() {
			return f.MethodName
		}
	}
	return ""
}

// MethodNames returns the distinct method names of the stack in frame order.
func (t *Thread) MethodNames() []string {
	seen := make(map[string]struct{}, len(t.Frames))
	var names []string
	for _, f := range t.Frames {
		if f.MethodName == "" {
			continue
		}
		if _, ok := seen[f.MethodName]; ok {
			continue
		}
		seen[f.MethodName] = struct{}{}
		names = append(names, f.MethodName)
	}
	return names
}
