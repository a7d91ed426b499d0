package bridge

import (
	"strings"
	"sync"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
)

// NameDelimiter separates the namespace segments of a fully-qualified tool
// name, e.g. mcp__xcode-tools__XcodeRead.
const NameDelimiter = "__"

// ToolDefinition is one tool advertised to the model for the current turn,
// keyed by its fully-qualified name.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// ToolCache holds the tool definitions most recently advertised for a
// conversation. The set is replaced wholesale on each refresh, never merged.
type ToolCache struct {
	mu     sync.RWMutex
	tools  []ToolDefinition
	logger *logging.Leveled
}

// NewToolCache creates an empty cache.
func NewToolCache(logger *logging.Leveled) *ToolCache {
	return &ToolCache{logger: logger}
}

// CacheTools replaces the cached set wholesale.
func (c *ToolCache) CacheTools(tools []ToolDefinition) {
	copied := make([]ToolDefinition, len(tools))
	copy(copied, tools)
	c.mu.Lock()
	c.tools = copied
	c.mu.Unlock()
	c.logger.Debugf("tool cache refreshed tools=%d", len(copied))
}

// CachedTools returns a copy of the current cached set.
func (c *ToolCache) CachedTools() []ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolDefinition, len(c.tools))
	copy(out, c.tools)
	return out
}

// ResolveToolName reconciles a possibly-abbreviated tool reference against
// the cached set. An exact match returns name unchanged. Otherwise name is
// treated as an unqualified suffix: a cached tool whose fully-qualified name
// ends with "__"+name wins if it is the only such match. Zero or multiple
// matches pass name through unchanged; the caller treats an unchanged name
// that is not an exact cached match as unresolved. The delimiter boundary
// keeps "Read" from matching a tool named "SomeXcodeRead".
func (c *ToolCache) ResolveToolName(name string) string {
	if name == "" {
		return name
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, t := range c.tools {
		if t.Name == name {
			return name
		}
	}

	suffix := NameDelimiter + name
	var match string
	matches := 0
	for _, t := range c.tools {
		if strings.HasSuffix(t.Name, suffix) {
			match = t.Name
			matches++
		}
	}
	switch matches {
	case 1:
		c.logger.Debugf("tool name %q resolved to %q", name, match)
		return match
	case 0:
		return name
	default:
		c.logger.Warnf("tool name %q is ambiguous (%d suffix matches), passing through", name, matches)
		return name
	}
}
