package stream

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	markerOSC = "7770"
	markerApp = "shellpilot"

	// DefaultPromptPattern matches the usual end of a shell prompt.
	DefaultPromptPattern = `[$#%>❯]\s*$`

	maxPromptWindow = 4096
)

// DualSignal makes the shell print an invisible OSC marker carrying $? before
// every prompt. A command is complete only once that marker and a prompt have
// both been seen.
type DualSignal struct {
	shell  string
	tag    string
	echo   bool
	prompt *regexp.Regexp
	marker *regexp.Regexp
}

type DualSignalOption func(*DualSignal)

// WithEcho tells the parsers whether the terminal echoes typed input.
// Echo is assumed on by default.
func WithEcho(on bool) DualSignalOption {
	return func(d *DualSignal) { d.echo = on }
}

// SupportsDualSignal reports whether the prompt hook can be installed in shell.
func SupportsDualSignal(shell string) bool {
	switch shellName(shell) {
	case "bash", "zsh":
		return true
	}
	return false
}

func NewDualSignal(shell, tag string, prompt *regexp.Regexp, opts ...DualSignalOption) (*DualSignal, error) {
	if !SupportsDualSignal(shell) {
		return nil, fmt.Errorf("no prompt hook for shell %q", shell)
	}
	if prompt == nil {
		prompt = regexp.MustCompile(DefaultPromptPattern)
	}
	d := &DualSignal{
		shell:  shellName(shell),
		tag:    tag,
		echo:   true,
		prompt: prompt,
		marker: regexp.MustCompile(`\x1b\]` + markerOSC + `;` + markerApp + `;` + regexp.QuoteMeta(tag) + `;(\d+)\x07`),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *DualSignal) Mode() Mode { return ModeDualSignal }

func (d *DualSignal) SetupCommand() string {
	printf := fmt.Sprintf(`printf "\033]%s;%s;%s;%%s\007" $?`, markerOSC, markerApp, d.tag)
	switch d.shell {
	case "zsh":
		return fmt.Sprintf(`__sp_precmd() { %s; }; precmd_functions+=(__sp_precmd)`, printf)
	default:
		return fmt.Sprintf(`PROMPT_COMMAND='%s;'"${PROMPT_COMMAND}"`, printf)
	}
}

// Marker renders the completion signal for exitCode, as the shell would print it.
func (d *DualSignal) Marker(exitCode int) string {
	return fmt.Sprintf("\x1b]%s;%s;%s;%d\x07", markerOSC, markerApp, d.tag, exitCode)
}

func (d *DualSignal) Prepare(command string, maxBytes int) (string, Parser) {
	return command, NewPromptStreamParser(command, d.marker, d.prompt, maxBytes, d.echo)
}

func shellName(shell string) string {
	shell = strings.TrimSpace(shell)
	if i := strings.LastIndexByte(shell, '/'); i >= 0 {
		shell = shell[i+1:]
	}
	return strings.TrimPrefix(shell, "-")
}

// PromptStreamParser detects completion via the dual-signal marker.
type PromptStreamParser struct {
	capture

	marker *regexp.Regexp
	prompt *regexp.Regexp

	state   State
	echo    string
	pending string

	markerSeen  bool
	afterMarker string
	exitCode    int
}

// NewPromptStreamParser starts capturing immediately when echo is false.
func NewPromptStreamParser(command string, marker, prompt *regexp.Regexp, maxBytes int, echo bool) *PromptStreamParser {
	p := &PromptStreamParser{
		capture: newCapture(maxBytes),
		marker:  marker,
		prompt:  prompt,
		state:   StateCapturing,
		echo:    strings.TrimRight(command, "\r\n"),
	}
	if echo {
		p.state = StateSkipEcho
	}
	return p
}

func (p *PromptStreamParser) State() State { return p.state }

func (p *PromptStreamParser) Feed(chunk []byte) FeedResult {
	if p.state == StateDone || len(chunk) == 0 {
		return FeedResult{}
	}
	p.pending += string(chunk)

	if p.state == StateSkipEcho {
		p.skipEcho()
		if p.state == StateSkipEcho {
			return FeedResult{}
		}
	}
	return p.captureOutput()
}

// skipEcho drops the terminal's echo of the typed command. The echo only
// counts once the whole command and the newline after it have been seen,
// tolerating line-wrap artifacts and interleaved escape sequences. Anything
// else means there was no echo, and all pending bytes are output.
func (p *PromptStreamParser) skipEcho() {
	s := p.pending
	pos := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c == esc {
			n, ok := escapeLen(s[i:])
			if !ok {
				return
			}
			if p.marker.MatchString(s[i : i+n]) {
				// the command finished before an echo was confirmed
				p.state = StateCapturing
				return
			}
			i += n
			continue
		}

		switch {
		case pos < len(p.echo) && c == p.echo[pos]:
			pos++
		case c == '\n' && pos == len(p.echo):
			p.pending = s[i+1:]
			p.state = StateCapturing
			return
		case c == '\r' || c == '\n' || c == ' ' || c == '\b':
			// wrap artifact
		default:
			p.state = StateCapturing
			return
		}
		i++
	}
}

func (p *PromptStreamParser) captureOutput() FeedResult {
	var res FeedResult

	if !p.markerSeen {
		loc := p.marker.FindStringSubmatchIndex(p.pending)
		if loc == nil {
			cut := safeBoundary(p.pending)
			res.NewContent = p.emit(p.pending[:cut])
			p.pending = p.pending[cut:]
			return res
		}
		res.NewContent = p.emit(p.pending[:loc[0]])
		p.exitCode, _ = strconv.Atoi(p.pending[loc[2]:loc[3]])
		p.markerSeen = true
		p.afterMarker = p.pending[loc[1]:]
	} else {
		p.afterMarker += p.pending
	}
	p.pending = ""

	if len(p.afterMarker) > maxPromptWindow {
		p.afterMarker = p.afterMarker[len(p.afterMarker)-maxPromptWindow:]
	}

	// matched on a stripped copy; afterMarker itself is left untouched
	if p.prompt.MatchString(StripANSI(p.afterMarker)) {
		p.state = StateDone
		res.Complete = true
		res.ExitCode = p.exitCode
	}
	return res
}

// ExitCode is meaningful once the parser is done.
func (p *PromptStreamParser) ExitCode() int { return p.exitCode }
