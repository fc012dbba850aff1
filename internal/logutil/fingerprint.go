package logutil

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/alextreichler/threadViewer/internal/models"
)

// NormalizeName masks the generated parts of a class or method name so that
// equivalent frames compare equal across JVM runs: hidden-class addresses,
// lambda and accessor counters. It splits on name punctuation and masks tokens
// that carry variable data (digits, hex).
func NormalizeName(name string) string {
	if len(name) == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(len(name))

	n := len(name)
	for i := 0; i < n; i++ {
		c := name[i]
		if isDelimiter(c) {
			b.WriteByte(c)
			continue
		}

		start := i
		for i < n && !isDelimiter(name[i]) {
			i++
		}
		token := name[start:i]
		if marker, isVar := getVariableMarker(token); isVar {
			b.WriteString(marker)
		} else {
			b.WriteString(token)
		}

		// the outer loop increments
		i--
	}
	return b.String()
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '.', '$', '/', '<', '>', '(', ')', '[', ']', ';', ':', '-', '#', '@':
		return true
	default:
		return false
	}
}

func getVariableMarker(s string) (string, bool) {
	if len(s) == 0 {
		return "", false
	}

	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return "<HEX>", true
	}

	isNumeric := true
	hasDigit := false
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			hasDigit = true
		} else {
			isNumeric = false
		}
	}
	if isNumeric && hasDigit {
		return "<NUM>", true
	}
	if hasDigit {
		return "<*>", true
	}
	return "", false
}

// FrameSignature renders one frame without lock addresses. Call frames keep
// their line number; pseudo-frames keep kind, action and object class.
func FrameSignature(f models.CallFrame) string {
	switch f.Frame.Kind {
	case models.FrameMethodCall, models.FrameNativeMethod:
		sig := NormalizeName(f.MethodName)
		if f.LineNumber > 0 {
			sig += ":" + strconv.Itoa(f.LineNumber)
		}
		if f.Frame.Kind == models.FrameNativeMethod {
			sig += " (native)"
		}
		return sig
	case models.FrameMonitor:
		return fmt.Sprintf("- %s (a %s)", f.Frame.Action, NormalizeName(f.ClassName))
	default:
		return fmt.Sprintf("- %s (a %s)", f.Frame.Kind, NormalizeName(f.ClassName))
	}
}

// StackFingerprint hashes the frame signatures of a stack. Threads with the
// same code path share a fingerprint even when they hold different objects.
func StackFingerprint(frames []models.CallFrame) string {
	d := xxhash.New()
	for _, f := range frames {
		_, _ = d.WriteString(FrameSignature(f))
		_, _ = d.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

type GroupedThread struct {
	ID     string              `json:"id,omitempty"`
	FileID string              `json:"file_id,omitempty"`
	Name   string              `json:"name"`
	Status models.ThreadStatus `json:"status"`
}

// StackGroup is a set of threads sharing one stack fingerprint.
type StackGroup struct {
	Fingerprint string                      `json:"fingerprint"`
	Count       int                         `json:"count"`
	TopMethod   string                      `json:"top_method,omitempty"`
	Frames      []string                    `json:"frames"`
	Statuses    map[models.ThreadStatus]int `json:"statuses"`
	Threads     []GroupedThread             `json:"threads"`
	Insight     *StackInsight               `json:"insight,omitempty"`
}

// GroupByStack buckets threads by stack fingerprint, largest group first.
// Threads without frames are grouped too; they share the empty-stack hash.
func GroupByStack(threads []*models.Thread) []StackGroup {
	index := make(map[string]int)
	var groups []StackGroup

	for _, t := range threads {
		fp := StackFingerprint(t.Frames)
		i, ok := index[fp]
		if !ok {
			frames := make([]string, len(t.Frames))
			for j, f := range t.Frames {
				frames[j] = FrameSignature(f)
			}
			groups = append(groups, StackGroup{
				Fingerprint: fp,
				TopMethod:   t.TopMethod(),
				Frames:      frames,
				Statuses:    make(map[models.ThreadStatus]int),
				Insight:     GetInsight(t.Frames),
			})
			i = len(groups) - 1
			index[fp] = i
		}
		g := &groups[i]
		g.Count++
		g.Statuses[t.Status]++
		g.Threads = append(g.Threads, GroupedThread{ID: t.ID, FileID: t.FileID, Name: t.Name, Status: t.Status})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Fingerprint < groups[j].Fingerprint
	})
	return groups
}
