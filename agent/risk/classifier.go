package risk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kardolus/shellpilot/agent/types"
)

type Classifier interface {
	Classify(command string) types.RiskAssessment
}

type Limits struct {
	// Blacklist and Whitelist hold regular expressions matched against the trimmed command.
	Blacklist []string
	Whitelist []string
}

type DefaultClassifier struct {
	blacklist []*regexp.Regexp
	whitelist []*regexp.Regexp
}

// PatternError reports a user-supplied pattern that failed to compile.
type PatternError struct {
	List    string
	Pattern string
	Err     error
}

func (e PatternError) Error() string {
	return fmt.Sprintf("invalid %s pattern %q: %v", e.List, e.Pattern, e.Err)
}

func (e PatternError) Unwrap() error { return e.Err }

func NewDefaultClassifier(limits Limits) (*DefaultClassifier, error) {
	black, err := compileAll("blacklist", limits.Blacklist)
	if err != nil {
		return nil, err
	}
	white, err := compileAll("whitelist", limits.Whitelist)
	if err != nil {
		return nil, err
	}
	return &DefaultClassifier{blacklist: black, whitelist: white}, nil
}

func compileAll(list string, patterns []string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, PatternError{List: list, Pattern: p, Err: err}
		}
		out = append(out, re)
	}
	return out, nil
}

// Classify is deterministic: the same command always yields the same assessment.
func (c *DefaultClassifier) Classify(command string) types.RiskAssessment {
	cmd := normalize(command)
	if cmd == "" {
		return types.RiskAssessment{
			Level:            types.RiskBlocked,
			Category:         CategoryInvalid,
			Reason:           "empty command",
			RequiresApproval: true,
		}
	}

	if re := firstMatch(c.blacklist, cmd); re != nil {
		return types.RiskAssessment{
			Level:            types.RiskBlocked,
			Category:         CategoryBlacklist,
			Reason:           fmt.Sprintf("matches blacklist pattern %q", re.String()),
			RequiresApproval: true,
		}
	}
	// The whitelist never overrides built-in blocked or obfuscation patterns.
	if re := firstMatch(c.whitelist, cmd); re != nil && !matchesAny(cmd, blockedRules, obfuscationRules) {
		return types.RiskAssessment{
			Level:    types.RiskSafe,
			Category: CategoryWhitelist,
			Reason:   fmt.Sprintf("matches whitelist pattern %q", re.String()),
		}
	}

	parts := SplitCompound(cmd)
	if len(parts) > 1 {
		return c.classifyCompound(cmd, parts)
	}
	return c.classifySingle(cmd)
}

func (c *DefaultClassifier) classifyCompound(whole string, parts []string) types.RiskAssessment {
	var worst types.RiskAssessment
	worstPart := ""
	for i, part := range parts {
		a := c.Classify(part)
		if i == 0 || a.Level.Severity() > worst.Level.Severity() {
			worst = a
			worstPart = part
		}
	}

	// Pipelines lose meaning once split, so the whole line is checked as well.
	if a, ok := matchRules(blockedRules, whole, types.RiskBlocked); ok && a.Level.Severity() > worst.Level.Severity() {
		return a
	}
	if a, ok := matchRules(obfuscationRules, whole, types.RiskDangerous); ok && a.Level.Severity() > worst.Level.Severity() {
		return a
	}

	worst.Reason = fmt.Sprintf("compound command; riskiest part %q: %s", worstPart, worst.Reason)
	return worst
}

func (c *DefaultClassifier) classifySingle(cmd string) types.RiskAssessment {
	a := classifyPatterns(cmd)

	stripped, ok := stripSudo(cmd)
	if !ok {
		return a
	}
	if s := classifyPatterns(stripped); s.Level.Severity() >= a.Level.Severity() || a.Category == CategoryUnknown {
		a = s
	}
	if a.Level == types.RiskSafe {
		a = types.RiskAssessment{
			Level:    types.RiskCaution,
			Category: CategoryPrivilege,
			Reason:   "runs with elevated privileges: " + a.Reason,
		}
	}
	return a
}

func classifyPatterns(cmd string) types.RiskAssessment {
	tiers := []struct {
		rules []rule
		level types.RiskLevel
	}{
		{blockedRules, types.RiskBlocked},
		{obfuscationRules, types.RiskDangerous},
		{dangerousRules, types.RiskDangerous},
		{cautionRules, types.RiskCaution},
		{safeRules, types.RiskSafe},
	}
	for _, t := range tiers {
		if a, ok := matchRules(t.rules, cmd, t.level); ok {
			return a
		}
	}
	return types.RiskAssessment{
		Level:    types.RiskCaution,
		Category: CategoryUnknown,
		Reason:   "command not recognized",
	}
}

func matchRules(rules []rule, cmd string, level types.RiskLevel) (types.RiskAssessment, bool) {
	for _, ru := range rules {
		if ru.re.MatchString(cmd) {
			return ru.assessment(level), true
		}
	}
	return types.RiskAssessment{}, false
}

func matchesAny(cmd string, sets ...[]rule) bool {
	for _, rules := range sets {
		for _, ru := range rules {
			if ru.re.MatchString(cmd) {
				return true
			}
		}
	}
	return false
}

func firstMatch(res []*regexp.Regexp, cmd string) *regexp.Regexp {
	for _, re := range res {
		if re.MatchString(cmd) {
			return re
		}
	}
	return nil
}

func stripSudo(cmd string) (string, bool) {
	if !strings.HasPrefix(cmd, "sudo ") {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(cmd, "sudo "))
	// drop sudo's own flags, e.g. "sudo -u deploy -E cmd"
	for strings.HasPrefix(rest, "-") {
		fields := strings.SplitN(rest, " ", 2)
		flag := fields[0]
		if len(fields) < 2 {
			return "", false
		}
		rest = strings.TrimSpace(fields[1])
		if flag == "-u" || flag == "-g" || flag == "-C" || flag == "-p" {
			arg := strings.SplitN(rest, " ", 2)
			if len(arg) < 2 {
				return "", false
			}
			rest = strings.TrimSpace(arg[1])
		}
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

func normalize(cmd string) string {
	return strings.Join(strings.Fields(cmd), " ")
}

// SplitCompound splits a command line on &&, ||, ; and | outside of quotes,
// command substitutions and subshells.
func SplitCompound(cmd string) []string {
	var (
		parts  []string
		cur    strings.Builder
		single bool
		double bool
		tick   bool
		depth  int
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}

	rs := []rune(cmd)
	for i := 0; i < len(rs); i++ {
		ch := rs[i]
		switch {
		case ch == '\\' && !single && i+1 < len(rs):
			cur.WriteRune(ch)
			cur.WriteRune(rs[i+1])
			i++
			continue
		case ch == '\'' && !double && !tick:
			single = !single
		case ch == '"' && !single && !tick:
			double = !double
		case ch == '`' && !single:
			tick = !tick
		case ch == '(' && !single:
			depth++
		case ch == ')' && !single && depth > 0:
			depth--
		}

		quoted := single || double || tick || depth > 0
		if !quoted {
			switch {
			case ch == ';' || ch == '\n':
				flush()
				continue
			case (ch == '&' || ch == '|') && i+1 < len(rs) && rs[i+1] == ch:
				flush()
				i++
				continue
			case ch == '|':
				flush()
				continue
			}
		}
		cur.WriteRune(ch)
	}
	flush()
	return parts
}

// Stricter merges two assessments of the same command without ever lowering
// the risk: the higher level wins, ties keep the classifier's category and
// reason, and approval requirements accumulate.
func Stricter(classified, reported types.RiskAssessment) types.RiskAssessment {
	if _, ok := types.ParseRiskLevel(string(reported.Level)); !ok {
		out := classified
		out.RequiresApproval = classified.RequiresApproval || reported.RequiresApproval
		return out
	}

	out := classified
	if reported.Level.Severity() > classified.Level.Severity() {
		out = reported
		if out.Category == "" {
			out.Category = classified.Category
		}
		if out.Reason == "" {
			out.Reason = classified.Reason
		}
	}
	out.RequiresApproval = classified.RequiresApproval || reported.RequiresApproval ||
		out.Level == types.RiskDangerous || out.Level == types.RiskBlocked
	if out.Warning == "" {
		if classified.Warning != "" {
			out.Warning = classified.Warning
		} else {
			out.Warning = reported.Warning
		}
	}
	return out
}
