package transport

import (
	"context"
	"strings"

	"github.com/kardolus/shellpilot/agent/strategy"
	"github.com/kardolus/shellpilot/agent/types"
)

const probeCommand = `printf '%s\n%s\n%s\n' "$(uname -s 2>/dev/null)" "$(id -un 2>/dev/null)" "${SHELL:-}"`

// Probe asks the remote side for its OS, user and login shell over a one-shot
// channel. Fields it cannot learn keep the values of known.
func Probe(ctx context.Context, shell strategy.RemoteShell, known types.SessionInfo) types.SessionInfo {
	res, err := shell.ExecOneShot(ctx, probeCommand)
	if err != nil || res.ExitCode != 0 {
		return known
	}

	lines := strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n")
	field := func(i int) string {
		if i < len(lines) {
			return strings.TrimSpace(lines[i])
		}
		return ""
	}

	out := known
	if v := field(0); v != "" {
		out.OS = v
	}
	if v := field(1); v != "" && out.User == "" {
		out.User = v
	}
	if v := field(2); v != "" && out.Shell == "" {
		out.Shell = v[strings.LastIndex(v, "/")+1:]
	}
	return out
}
