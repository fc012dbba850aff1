package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alextreichler/threadViewer/internal/models"
)

var (
	headerRegex  = regexp.MustCompile(`^"(.*)"(?:\s+#(\d+))?(?:\s+\[\d+\])?(\s+daemon)?(?:\s+prio=(-?\d+))?(?:\s+os_prio=(-?\d+))?(.*)$`)
	tidRegex     = regexp.MustCompile(`(?:^|\s)tid=(\S+)`)
	nidRegex     = regexp.MustCompile(`(?:^|\s)nid=(\S+)`)
	addressRegex = regexp.MustCompile(`\[(0x[0-9a-fA-F]+)\]\s*$`)
	stateRegex   = regexp.MustCompile(`State:\s(\w+)`)
)

// Header-only stanzas carry no State line; the descriptor after nid= is matched
// against these literals in order.
var descriptorStatuses = []struct {
	keyword string
	status  models.ThreadStatus
}{
	{"waiting for monitor entry", models.StatusBlocked},
	{"waiting on condition", models.StatusWaiting},
	{"in Object.wait()", models.StatusWaiting},
	{"sleeping", models.StatusTimedWaiting},
	{"runnable", models.StatusRunnable},
}

// StatusFromDescriptor maps the free-text state of a header line to a status.
func StatusFromDescriptor(text string) models.ThreadStatus {
	for _, d := range descriptorStatuses {
		if strings.Contains(text, d.keyword) {
			return d.status
		}
	}
	return models.StatusUnknown
}

type header struct {
	id         string
	name       string
	daemon     bool
	prio       *int
	osPrio     int
	tid, nid   uint64
	descriptor string
	address    string
}

func parseHeader(line string) (*header, error) {
	m := headerRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, lineErr(ErrParse, line, "header does not match")
	}

	h := &header{name: m[1], daemon: m[3] != ""}
	if m[2] != "" {
		h.id = "#" + m[2]
	}
	if m[4] != "" {
		p, err := strconv.Atoi(m[4])
		if err != nil {
			return nil, lineErr(ErrParseInt, line, "prio: "+err.Error())
		}
		h.prio = &p
	}
	if m[5] != "" {
		p, err := strconv.Atoi(m[5])
		if err != nil {
			return nil, lineErr(ErrParseInt, line, "os_prio: "+err.Error())
		}
		h.osPrio = p
	}

	rest := m[6]
	tidLoc := tidRegex.FindStringSubmatchIndex(rest)
	if tidLoc == nil {
		return nil, lineErr(ErrMissingField, line, "tid")
	}
	nidLoc := nidRegex.FindStringSubmatchIndex(rest)
	if nidLoc == nil {
		return nil, lineErr(ErrMissingField, line, "nid")
	}

	var err error
	if h.tid, err = parseHex(rest[tidLoc[2]:tidLoc[3]]); err != nil {
		return nil, lineErr(ErrParseInt, line, "tid: "+err.Error())
	}
	if h.nid, err = parseNid(rest[nidLoc[2]:nidLoc[3]]); err != nil {
		return nil, lineErr(ErrParseInt, line, "nid: "+err.Error())
	}

	descStart := max(tidLoc[1], nidLoc[1])
	desc := rest[descStart:]
	if am := addressRegex.FindStringSubmatchIndex(desc); am != nil {
		h.address = desc[am[2]:am[3]]
		desc = desc[:am[0]]
	}
	h.descriptor = strings.TrimSpace(desc)
	return h, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// parseNid reads the native thread id. JDK 19 and later print it in decimal
// without a 0x prefix.
func parseNid(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return parseHex(s)
	}
	return strconv.ParseUint(s, 10, 64)
}

// ParseThread turns one stanza (header, optional state line, frame lines) into a Thread.
func ParseThread(lines []string) (*models.Thread, error) {
	if len(lines) == 0 {
		return nil, lineErr(ErrParse, "", "empty stanza")
	}

	h, err := parseHeader(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, err
	}

	t := &models.Thread{
		ID:      h.id,
		Name:    h.name,
		Daemon:  h.daemon,
		Prio:    h.prio,
		OsPrio:  h.osPrio,
		Tid:     h.tid,
		Nid:     h.nid,
		Address: h.address,
	}

	if len(lines) == 1 {
		t.Status = StatusFromDescriptor(h.descriptor)
		t.Frames = []models.CallFrame{}
		return t, nil
	}

	stateLine := strings.TrimSpace(lines[1])
	sm := stateRegex.FindStringSubmatch(stateLine)
	if sm == nil {
		return nil, lineErr(ErrInvalidStatus, stateLine, "")
	}
	status, ok := models.ParseThreadStatus(sm[1])
	if !ok || status == models.StatusUnknown {
		return nil, lineErr(ErrIllegalStatus, stateLine, sm[1])
	}
	t.Status = status

	t.Frames = make([]models.CallFrame, 0, len(lines)-2)
	for _, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		f, err := ParseFrame(line)
		if err != nil {
			return nil, err
		}
		t.Frames = append(t.Frames, f)
	}
	return t, nil
}
