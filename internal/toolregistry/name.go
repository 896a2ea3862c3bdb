package toolregistry

import (
	"fmt"
	"regexp"
)

// toolNameRegex enforces the "server.tool" namespacing convention: a tool
// name identifies both its owning integration and the capability itself, so
// a malformed name is rejected before it ever reaches a planner.
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// SplitToolName splits a validated "server.tool" name into its two parts.
func SplitToolName(name string) (server, tool string, err error) {
	m := toolNameRegex.FindStringSubmatch(name)
	if m == nil {
		return "", "", fmt.Errorf("invalid tool name %q: expected format server.tool", name)
	}
	return m[1], m[2], nil
}

// ValidName reports whether name satisfies the server.tool convention.
func ValidName(name string) bool {
	return toolNameRegex.MatchString(name)
}
