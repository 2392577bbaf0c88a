package orchestrator

import (
	"strings"

	"github.com/nextlevelbuilder/snakehook-triage/internal/audit"
)

const failureTailLines = 6
const failureMaxChars = 350

type failureSignature struct {
	hint    string
	matches func(lower string) bool
}

var failureSignatures = []failureSignature{
	{
		hint: "hint: nsjail namespace clone blocked by container runtime; run with CAP_SYS_ADMIN or a privileged sandbox host",
		matches: func(lower string) bool {
			return strings.Contains(lower, "clone(") &&
				strings.Contains(lower, "operation not permitted") &&
				strings.Contains(lower, "couldn't launch the child process")
		},
	},
	{
		hint: "hint: cgroup v2 user-namespace delegation is unavailable on this host; enable nested cgroups or disable pids accounting",
		matches: func(lower string) bool {
			return strings.Contains(lower, "couldn't initialize cgroup user namespace") &&
				strings.Contains(lower, "launching child process failed")
		},
	},
	{
		hint: "hint: the sandbox image is missing the interpreter binary on its PATH; rebuild the jail rootfs",
		matches: func(lower string) bool {
			return strings.Contains(lower, "execve(") &&
				strings.Contains(lower, "no such file or directory") &&
				strings.Contains(lower, "couldn't launch the child process")
		},
	},
}

// SummarizeInstallFailure renders the single-line "pip install failed: ..."
// message for a failed install: the last few non-empty lines of stderr (or
// stdout, when stderr is empty), joined and middle-truncated, with a fixed
// remediation hint appended when the raw output matches one of the known
// sandbox-launcher failure signatures.
func SummarizeInstallFailure(stdout, stderr string) string {
	raw := stderr
	if strings.TrimSpace(raw) == "" {
		raw = stdout
	}

	tail := tailNonEmptyLines(raw, failureTailLines)
	body := audit.MiddleTruncate(strings.Join(tail, " | "), failureMaxChars)

	message := "pip install failed: " + body
	lower := strings.ToLower(raw)
	for _, sig := range failureSignatures {
		if sig.matches(lower) {
			return message + "; " + sig.hint
		}
	}
	return message
}

func tailNonEmptyLines(s string, n int) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
