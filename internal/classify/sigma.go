package classify

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	sigma "github.com/bradleyjkemp/sigma-go"
	sigmaevaluator "github.com/bradleyjkemp/sigma-go/evaluator"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

var techniqueTagRegex = regexp.MustCompile(`^attack\.t\d{4}(?:\.\d{3})?$`)

// SigmaLoadStats tracks the number of loaded and skipped rules.
type SigmaLoadStats struct {
	TotalFiles     int
	Loaded         int
	SkippedComplex int
	SkippedInvalid int
}

type compiledSigmaRule struct {
	eval       *sigmaevaluator.RuleEvaluator
	title      string
	risk       models.RiskLevel
	confidence float64
	techniques []string
}

// SigmaClassifier evaluates Sigma rules against individual events and emits
// a base finding for the strongest match.
type SigmaClassifier struct {
	rules []compiledSigmaRule
	ctx   context.Context
}

// NewSigmaClassifier loads Sigma rules from a file or directory and compiles
// evaluators. Unsupported or complex rules are skipped and counted in stats.
func NewSigmaClassifier(path string) (*SigmaClassifier, SigmaLoadStats, error) {
	var stats SigmaLoadStats

	resolved, err := filepath.Abs(path)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve rule path: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, stats, fmt.Errorf("stat rule path: %w", err)
	}

	files := make([]string, 0, 256)
	if info.IsDir() {
		err = filepath.WalkDir(resolved, func(filePath string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				return nil
			}
			if isYAMLFile(filePath) {
				files = append(files, filePath)
			}
			return nil
		})
		if err != nil {
			return nil, stats, fmt.Errorf("walk rule directory: %w", err)
		}
	} else {
		if !isYAMLFile(resolved) {
			return nil, stats, fmt.Errorf("rule file must end with .yml or .yaml: %s", resolved)
		}
		files = append(files, resolved)
	}

	stats.TotalFiles = len(files)
	compiled := make([]compiledSigmaRule, 0, len(files))
	for _, ruleFile := range files {
		raw, err := os.ReadFile(ruleFile)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		rule, err := sigma.ParseRule(raw)
		if err != nil {
			stats.SkippedInvalid++
			continue
		}
		if ok, _ := isSimpleSingleEventRule(rule); !ok {
			stats.SkippedComplex++
			continue
		}
		compiled = append(compiled, compileRule(rule))
		stats.Loaded++
	}

	return &SigmaClassifier{rules: compiled, ctx: context.Background()}, stats, nil
}

// Classify evaluates all loaded rules and builds a finding from the matches,
// taking risk and confidence from the most severe one.
func (c *SigmaClassifier) Classify(e *models.RawEvent) *models.BaseFinding {
	if c == nil || e == nil || len(c.rules) == 0 {
		return nil
	}

	eventMap := sigmaEventFrom(e)
	var (
		best       *compiledSigmaRule
		techniques []string
		titles     []string
	)
	for i := range c.rules {
		rule := &c.rules[i]
		res, err := rule.eval.Matches(c.ctx, eventMap)
		if err != nil || !res.Match {
			continue
		}
		titles = append(titles, rule.title)
		techniques = append(techniques, rule.techniques...)
		if best == nil || rule.risk > best.risk {
			best = rule
		}
	}
	if best == nil {
		return nil
	}

	return &models.BaseFinding{
		EventType:  string(models.Categorize(e)),
		Risk:       best.risk,
		Confidence: best.confidence,
		Summary:    "Matched detection rules: " + strings.Join(titles, ", "),
		Techniques: dedupe(techniques),
		Actions:    actionsFor(best.risk),
	}
}

func compileRule(rule sigma.Rule) compiledSigmaRule {
	risk := models.ParseRiskLevel(rule.Level)
	confidence := 50.0
	switch risk {
	case models.RiskCritical:
		confidence = 90
	case models.RiskHigh:
		confidence = 80
	case models.RiskMedium:
		confidence = 65
	}

	techniques := techniquesFromTags(rule.Tags)

	title := strings.TrimSpace(rule.Title)
	if title == "" {
		title = strings.TrimSpace(rule.ID)
	}

	return compiledSigmaRule{
		eval:       sigmaevaluator.ForRule(rule),
		title:      title,
		risk:       risk,
		confidence: confidence,
		techniques: techniques,
	}
}

// techniquesFromTags extracts MITRE technique ids from Sigma attack tags.
// Sub-techniques keep their dotted form (attack.t1110.001 -> T1110.001).
func techniquesFromTags(tags []string) []string {
	var techniques []string
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if techniqueTagRegex.MatchString(tag) {
			techniques = append(techniques, strings.ToUpper(strings.TrimPrefix(tag, "attack.")))
		}
	}
	return techniques
}

func actionsFor(risk models.RiskLevel) []string {
	switch risk {
	case models.RiskCritical, models.RiskHigh:
		return []string{"Investigate immediately", "Review related account and host activity"}
	default:
		return []string{"Review related account and host activity"}
	}
}

func isYAMLFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml")
}

func isSimpleSingleEventRule(rule sigma.Rule) (bool, string) {
	if rule.Detection.Timeframe > 0 {
		return false, "timeframe is not supported"
	}
	for _, cond := range rule.Detection.Conditions {
		if cond.Aggregation != nil {
			return false, "aggregation condition is not supported"
		}
		if !isSimpleSearchExpression(cond.Search) {
			return false, "complex condition expression is not supported"
		}
	}
	for _, search := range rule.Detection.Searches {
		if len(search.Keywords) > 0 {
			return false, "keyword search is not supported"
		}
		if len(search.EventMatchers) == 0 {
			return false, "search has no event matchers"
		}
	}
	return true, ""
}

func isSimpleSearchExpression(expr sigma.SearchExpr) bool {
	switch e := expr.(type) {
	case sigma.SearchIdentifier:
		return true
	case sigma.And:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Or:
		for _, child := range e {
			if !isSimpleSearchExpression(child) {
				return false
			}
		}
		return true
	case sigma.Not:
		return isSimpleSearchExpression(e.Expr)
	default:
		return false
	}
}

func sigmaEventFrom(e *models.RawEvent) map[string]interface{} {
	buf := map[string]interface{}{
		"EventID":  e.EventID,
		"event_id": e.EventID,
	}
	if e.Channel != "" {
		buf["Channel"] = e.Channel
	}
	if e.Hostname != "" {
		buf["Computer"] = e.Hostname
		buf["Hostname"] = e.Hostname
	}
	if e.Actor != "" {
		buf["User"] = e.Actor
		buf["TargetUserName"] = e.Actor
		buf["SubjectUserName"] = e.Actor
	}
	if e.Message != "" {
		buf["Message"] = e.Message
	}
	if e.RecordID != "" {
		buf["RecordID"] = e.RecordID
	}
	return buf
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
