package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alextreichler/threadViewer/internal/models"
)

var callRegex = regexp.MustCompile(`^at\s+([^\s(]+)\(([^)]*)\)`)

// ParseFrame classifies one stack line.
func ParseFrame(line string) (models.CallFrame, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "at "):
		return parseCall(trimmed)
	case strings.HasPrefix(trimmed, "- "):
		return parsePseudo(trimmed)
	default:
		return models.CallFrame{}, lineErr(ErrUnknownFrame, trimmed, "")
	}
}

func parseCall(line string) (models.CallFrame, error) {
	m := callRegex.FindStringSubmatch(line)
	if m == nil {
		return models.CallFrame{}, lineErr(ErrParse, line, "frame does not match")
	}

	qualified := stripModule(m[1])
	dot := strings.LastIndex(qualified, ".")
	if dot <= 0 || dot == len(qualified)-1 {
		return models.CallFrame{}, lineErr(ErrParse, line, "no class in method name")
	}

	cf := models.CallFrame{
		ClassName:  qualified[:dot],
		MethodName: qualified,
		Frame:      models.MethodCall(),
	}

	source := m[2]
	if strings.HasSuffix(source, "Native Method") {
		cf.Frame = models.NativeMethod()
		return cf, nil
	}
	if i := strings.LastIndex(source, ":"); i >= 0 {
		if n, err := strconv.Atoi(source[i+1:]); err == nil {
			cf.LineNumber = n
		}
	}
	return cf, nil
}

// stripModule drops a "java.base@17/" or "app//" module prefix. Hidden lambda
// classes ("Foo$$Lambda$14/0x0000000800c0") keep their slash.
func stripModule(s string) string {
	i := strings.Index(s, "/")
	if i < 0 {
		return s
	}
	rest := s[i+1:]
	if strings.HasPrefix(rest, "0x") {
		return s
	}
	return strings.TrimPrefix(rest, "/")
}

func parsePseudo(line string) (models.CallFrame, error) {
	tokens := strings.Fields(line)
	if len(tokens) < 2 {
		return models.CallFrame{}, lineErr(ErrUnknownFrame, line, "")
	}

	cf := models.CallFrame{ClassName: ownerClass(line)}
	switch tokens[1] {
	case "locked":
		addr, err := extractAddress(line)
		if err != nil {
			return models.CallFrame{}, err
		}
		cf.Frame = models.Lock(addr)
	case "waiting":
		addr, err := extractAddress(line)
		if err != nil {
			return models.CallFrame{}, err
		}
		action := models.ActionLocked
		if strings.Contains(line, "waiting to lock") {
			action = models.ActionWaitingToLock
		} else if strings.Contains(line, "waiting on") {
			action = models.ActionWaitingOn
		}
		cf.Frame = models.Monitor(addr, action)
	case "parking":
		addr, err := extractAddress(line)
		if err != nil {
			return models.CallFrame{}, err
		}
		cf.Frame = models.Parking(addr)
	case "eliminated":
		cf.Frame = models.Eliminated()
	default:
		return models.CallFrame{}, lineErr(ErrUnknownFrame, line, tokens[1])
	}
	return cf, nil
}

// ownerClass returns X from a "(a X)" suffix.
func ownerClass(line string) string {
	i := strings.Index(line, "(a ")
	if i < 0 {
		return ""
	}
	rest := line[i+3:]
	if j := strings.Index(rest, ")"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func extractAddress(line string) (uint64, error) {
	open := strings.Index(line, "<")
	if open < 0 {
		return 0, lineErr(ErrUnknownFrame, line, "no address")
	}
	end := strings.Index(line[open:], ">")
	if end < 0 {
		return 0, lineErr(ErrUnknownFrame, line, "unterminated address")
	}
	raw := line[open+1 : open+end]
	if !strings.HasPrefix(raw, "0x") {
		return 0, lineErr(ErrUnknownFrame, line, "no address")
	}
	addr, err := strconv.ParseUint(raw[2:], 16, 64)
	if err != nil {
		return 0, lineErr(ErrUnknownFrame, line, "bad address: "+err.Error())
	}
	return addr, nil
}
