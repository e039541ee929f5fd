package execenv

import (
	"regexp"

	"github.com/systmms/envlock/internal/logging"
	"github.com/systmms/envlock/pkg/provider"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces every ${NAME} in content with the value of the secret
// called NAME. Unknown placeholders are left as written and reported once
// each on logger. When two secrets share a name the last one wins.
func Substitute(content string, secrets []provider.Secret, logger *logging.Logger) string {
	values := make(map[string]string, len(secrets))
	for _, s := range secrets {
		values[s.Name] = s.Value
	}

	warned := map[string]bool{}
	return placeholder.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := values[name]; ok {
			return value
		}
		if !warned[name] {
			warned[name] = true
			logger.Warn("No secret named %s; leaving ${%s} in place", name, name)
		}
		return match
	})
}

// Placeholders lists the distinct names referenced by content, in order of
// first appearance.
func Placeholders(content string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
