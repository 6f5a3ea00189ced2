// Package sanitize implements the argument sanitizer (C8): validating
// tool call arguments against regex/blocklist patterns before dispatch.
package sanitize

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmeerrkkaa/openrouter-kit/internal/bus"
	"github.com/mmeerrkkaa/openrouter-kit/pkg/orkit"
)

// maxDepth bounds how deep traversal descends into nested arrays/objects
// before giving up and logging a warning.
const maxDepth = 10

// GlobalPatterns are the built-in patterns applied to every string leaf
// of every tool's argument tree, covering shell metacharacters, path
// traversal, script injection, common SQL-injection shapes, and
// filesystem mutation commands.
var GlobalPatterns = []string{
	`[;&|` + "`" + `$]`,              // shell metacharacters
	`\.\./`,                          // path traversal
	`<script[\s>]`,                   // script tags
	`(?i)\bunion\s+select\b`,         // SQL injection shape
	`(?i)\bdrop\s+table\b`,           // SQL injection shape
	`(?i)\brm\s+-rf\b`,               // filesystem mutation
	`(?i)\b(exec|eval)\s*\(`,         // code execution shapes
}

// Config configures a Sanitizer.
type Config struct {
	// ToolPatterns holds additional regex patterns scoped to a tool name.
	ToolPatterns map[string][]string
	// UserPatterns are caller-supplied additional patterns applied
	// globally, alongside GlobalPatterns.
	UserPatterns []string
	// BlockedValues rejects any string leaf containing one of these
	// substrings verbatim.
	BlockedValues []string
	// AuditOnlyMode logs violations and emits an event instead of
	// rejecting the call.
	AuditOnlyMode bool
}

// Sanitizer validates tool arguments against configured patterns.
type Sanitizer struct {
	cfg      Config
	compiled []*regexp.Regexp
	bus      *bus.Bus
	logger   *slog.Logger
}

// New compiles cfg's patterns and constructs a Sanitizer. Patterns that
// fail to compile are skipped with a security:pattern_error event.
func New(cfg Config, eventBus *bus.Bus, logger *slog.Logger) *Sanitizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sanitizer{cfg: cfg, bus: eventBus, logger: logger}

	all := append(append([]string{}, GlobalPatterns...), cfg.UserPatterns...)
	for _, p := range all {
		s.compiled = append(s.compiled, s.compileOrSkip(p, ""))
	}
	return s
}

func (s *Sanitizer) compileOrSkip(pattern, toolName string) *regexp.Regexp {
	re, err := regexp.Compile(pattern)
	if err != nil {
		s.logger.Warn("failed to compile sanitizer pattern", "pattern", pattern, "error", err)
		if s.bus != nil {
			s.bus.Emit("security:pattern_error", map[string]any{"pattern": pattern, "tool": toolName, "error": err.Error()})
		}
		return nil
	}
	return re
}

// Violation describes one sanitizer rule that rejected a value.
type Violation struct {
	Path    string
	Value   string
	Pattern string
	Reason  string
}

// Check validates args (a JSON-encoded object) for toolName. If
// AuditOnlyMode is false, a non-empty violation list is also returned as
// a *orkit.Error of code DANGEROUS_ARGS.
func (s *Sanitizer) Check(toolName string, args json.RawMessage) ([]Violation, error) {
	var tree any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &tree); err != nil {
			return nil, orkit.Wrap(orkit.CodeValidationError, err, "tool arguments are not valid JSON")
		}
	}

	toolPatterns := s.toolRegexes(toolName)

	var violations []Violation
	s.walk("$", tree, 0, toolPatterns, &violations)

	if len(violations) == 0 {
		return nil, nil
	}
	if s.cfg.AuditOnlyMode {
		s.logger.Warn("sanitizer violations in audit-only mode", "tool", toolName, "count", len(violations))
		if s.bus != nil {
			s.bus.Emit("security:sanitizer_violation", map[string]any{"tool": toolName, "violations": violations, "audit_only": true})
		}
		return violations, nil
	}
	if s.bus != nil {
		s.bus.Emit("security:sanitizer_violation", map[string]any{"tool": toolName, "violations": violations, "audit_only": false})
	}
	return violations, orkit.New(orkit.CodeDangerousArgs, "tool arguments matched a blocked pattern").
		WithDetails(map[string]any{"violations": violations})
}

func (s *Sanitizer) toolRegexes(toolName string) []*regexp.Regexp {
	patterns := s.cfg.ToolPatterns[toolName]
	if len(patterns) == 0 {
		return nil
	}
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re := s.compileOrSkip(p, toolName); re != nil {
			out = append(out, re)
		}
	}
	return out
}

func (s *Sanitizer) walk(path string, value any, depth int, toolPatterns []*regexp.Regexp, violations *[]Violation) {
	if depth > maxDepth {
		s.logger.Warn("sanitizer traversal depth exceeded", "path", path, "max_depth", maxDepth)
		return
	}
	switch v := value.(type) {
	case string:
		s.checkLeaf(path, v, toolPatterns, violations)
	case []any:
		for i, item := range v {
			s.walk(indexPath(path, i), item, depth+1, toolPatterns, violations)
		}
	case map[string]any:
		for key, item := range v {
			s.walk(path+"."+key, item, depth+1, toolPatterns, violations)
		}
	}
}

func indexPath(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

func (s *Sanitizer) checkLeaf(path, value string, toolPatterns []*regexp.Regexp, violations *[]Violation) {
	for _, blocked := range s.cfg.BlockedValues {
		if blocked != "" && strings.Contains(value, blocked) {
			*violations = append(*violations, Violation{Path: path, Value: value, Reason: "blocked value", Pattern: blocked})
		}
	}
	check := func(re *regexp.Regexp) {
		if re != nil && re.MatchString(value) {
			*violations = append(*violations, Violation{Path: path, Value: value, Pattern: re.String(), Reason: "pattern match"})
		}
	}
	for _, re := range s.compiled {
		check(re)
	}
	for _, re := range toolPatterns {
		check(re)
	}
}
