package execenv

import (
	"os"
	"sort"
	"strings"

	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/pkg/provider"
)

// denylist holds the uppercased names a secret may never set.
var denylist = map[string]struct{}{}

func init() {
	for _, group := range [][]string{
		// dynamic linker and loader
		{"LD_PRELOAD", "LD_LIBRARY_PATH", "LD_AUDIT", "LD_DEBUG", "LD_BIND_NOW",
			"DYLD_INSERT_LIBRARIES", "DYLD_LIBRARY_PATH", "DYLD_FRAMEWORK_PATH", "DYLD_FALLBACK_LIBRARY_PATH"},
		// interpreter module search paths and startup hooks
		{"PYTHONPATH", "PYTHONHOME", "PYTHONSTARTUP", "PERL5LIB", "PERLLIB", "PERL5OPT",
			"RUBYLIB", "RUBYOPT", "NODE_PATH", "NODE_OPTIONS", "CLASSPATH", "JAVA_TOOL_OPTIONS", "GOFLAGS"},
		// shell control
		{"PATH", "IFS", "SHELL", "ENV", "BASH_ENV", "PS4", "PROMPT_COMMAND", "CDPATH", "SHELLOPTS", "BASHOPTS"},
		// identity, home and profile
		{"HOME", "USER", "LOGNAME", "USERNAME", "USERPROFILE", "HOMEDRIVE", "HOMEPATH", "APPDATA", "LOCALAPPDATA"},
		// temp and system directories
		{"TMPDIR", "TMP", "TEMP", "SYSTEMROOT", "WINDIR", "COMSPEC", "PATHEXT", "PROGRAMFILES"},
	} {
		for _, name := range group {
			denylist[name] = struct{}{}
		}
	}
}

// Denied reports whether name is on the denylist. The check ignores case.
func Denied(name string) bool {
	_, ok := denylist[strings.ToUpper(name)]
	return ok
}

// BuildEnvironment returns a copy of base with secrets applied. Secrets with
// an empty name, a NUL byte, or a denylisted name are skipped with a warning
// on logger. Secret values override base values of the same name.
func BuildEnvironment(base map[string]string, secrets []provider.Secret, logger *logging.Logger) map[string]string {
	env := make(map[string]string, len(base)+len(secrets))
	for k, v := range base {
		env[k] = v
	}

	for _, s := range secrets {
		switch {
		case s.Name == "":
			logger.Warn("Skipping secret with an empty name")
		case strings.ContainsRune(s.Name, 0):
			logger.Warn("Skipping secret %q: name contains a NUL byte", strings.ReplaceAll(s.Name, "\x00", `\0`))
		case strings.ContainsRune(s.Value, 0):
			logger.Warn("Skipping secret %s: value contains a NUL byte", s.Name)
		case strings.Contains(s.Name, "="):
			logger.Warn("Skipping secret %s: name contains '='", s.Name)
		case Denied(s.Name):
			logger.Warn("Skipping secret %s: refusing to override a protected variable", s.Name)
		default:
			env[s.Name] = s.Value
		}
	}

	return env
}

// OSEnvironment returns the current process environment as a map.
func OSEnvironment() map[string]string {
	return ParseEnviron(os.Environ())
}

// ParseEnviron turns KEY=VALUE pairs into a map. Entries without '=' are
// dropped.
func ParseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

// Environ turns env into a sorted KEY=VALUE slice for os/exec.
func Environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
