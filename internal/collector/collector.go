// Package collector normalizes heterogeneous external event payloads
// (pull request events, CI events) into typed signals.
//
// Normalization is deterministic and total: missing optional fields default
// to empty values instead of erroring, and severity/impact are computed from
// fixed keyword and size heuristics.
package collector

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/ashita-ai/kizuki/internal/model"
)

// PREvent is the subset of a GitHub-style pull request webhook the collector
// reads. Every field is optional; absent fields decode to zero values.
type PREvent struct {
	Action      string `json:"action"`
	PullRequest struct {
		Title        string `json:"title"`
		Body         string `json:"body"`
		State        string `json:"state"`
		Merged       bool   `json:"merged"`
		Additions    int    `json:"additions"`
		Deletions    int    `json:"deletions"`
		ChangedFiles int    `json:"changed_files"`
		User         struct {
			Login string `json:"login"`
		} `json:"user"`
		MergedBy struct {
			Login string `json:"login"`
		} `json:"merged_by"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"repository"`
	// Files is the list of changed paths when the producer includes it.
	Files []string `json:"files"`
	Team  string   `json:"team"`
}

// CIEvent is the subset of a GitHub-style workflow/CI webhook the collector
// reads.
type CIEvent struct {
	Action      string `json:"action"`
	WorkflowRun struct {
		Name       string `json:"name"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		HeadBranch string `json:"head_branch"`
		Actor      struct {
			Login string `json:"login"`
		} `json:"actor"`
	} `json:"workflow_run"`
	HeadCommit struct {
		Message  string   `json:"message"`
		Modified []string `json:"modified"`
		Author   struct {
			Username string `json:"username"`
		} `json:"author"`
	} `json:"head_commit"`
	Repository struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"repository"`
	Team string `json:"team"`
}

// Keyword sets for PR severity classification. Critical keywords match
// title or body; high keywords match title only.
var (
	criticalKeywords = []string{"hotfix", "critical", "urgent", "production", "security"}
	highKeywords     = []string{"bug", "fix", "issue", "problem", "error"}
)

// Path fragments for PR impact classification.
var (
	customerPaths = []string{"api/", "public/", "frontend/", "ui/", "web/"}
	orgPaths      = []string{"shared/", "common/", "lib/", "utils/", "core/"}
)

// Collector turns external event payloads into signals.
type Collector struct {
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Collector. now is injectable for deterministic tests; pass
// nil for wall clock.
func New(logger *slog.Logger, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{logger: logger, now: now}
}

// FromPREvent normalizes a pull request event into a Signal.
func (c *Collector) FromPREvent(ev PREvent) model.Signal {
	pr := ev.PullRequest

	typ := model.SignalPRComment
	switch {
	case pr.Merged && ev.Action == "closed":
		typ = model.SignalPRApproval
	case ev.Action == "closed":
		typ = model.SignalPRRejection
	}

	repo := ev.Repository.FullName
	if repo == "" {
		repo = ev.Repository.Name
	}

	s := model.Signal{
		Type:        typ,
		Repo:        repo,
		Org:         orgFromFullName(ev.Repository.FullName),
		Team:        ev.Team,
		Files:       append([]string{}, ev.Files...),
		Author:      pr.User.Login,
		Reviewer:    pr.MergedBy.Login,
		Severity:    prSeverity(pr.Title, pr.Body, pr.Additions+pr.Deletions),
		ImpactScope: prImpact(ev.Files),
		Timestamp:   c.now().UTC(),
		Metadata: map[string]any{
			"action":        ev.Action,
			"title":         pr.Title,
			"additions":     pr.Additions,
			"deletions":     pr.Deletions,
			"changed_files": pr.ChangedFiles,
		},
		Tags: prTags(typ, ev),
	}
	s.EnsureDefaults(c.now())

	c.logger.Debug("collector: normalized PR event",
		"signal_id", s.ID, "type", s.Type, "severity", s.Severity, "impact", s.ImpactScope)
	return s
}

// FromCIEvent normalizes a CI/workflow event into a Signal.
func (c *Collector) FromCIEvent(ev CIEvent) model.Signal {
	run := ev.WorkflowRun

	// The terminal conclusion wins over the in-flight status when present.
	result := run.Conclusion
	if result == "" {
		result = run.Status
	}
	typ := model.SignalCIFailure
	if result == "success" || result == "completed" {
		typ = model.SignalCISuccess
	}

	text := payloadText(ev)

	repo := ev.Repository.FullName
	if repo == "" {
		repo = ev.Repository.Name
	}

	author := run.Actor.Login
	if author == "" {
		author = ev.HeadCommit.Author.Username
	}

	cause := ""
	if typ == model.SignalCIFailure {
		cause = ev.HeadCommit.Message
	}

	s := model.Signal{
		Type:        typ,
		Repo:        repo,
		Org:         orgFromFullName(ev.Repository.FullName),
		Team:        ev.Team,
		Files:       append([]string{}, ev.HeadCommit.Modified...),
		Cause:       cause,
		Author:      author,
		Severity:    ciSeverity(text),
		ImpactScope: ciImpact(text, len(ev.HeadCommit.Modified)),
		Timestamp:   c.now().UTC(),
		Metadata: map[string]any{
			"workflow":   run.Name,
			"status":     run.Status,
			"conclusion": run.Conclusion,
			"branch":     run.HeadBranch,
		},
		Tags: ciTags(typ, ev),
	}
	s.EnsureDefaults(c.now())

	c.logger.Debug("collector: normalized CI event",
		"signal_id", s.ID, "type", s.Type, "severity", s.Severity, "impact", s.ImpactScope)
	return s
}

// prSeverity classifies a pull request. Keyword rules take precedence over
// the size rule: a 50-line "Critical hotfix" is still critical.
func prSeverity(title, body string, linesChanged int) model.Severity {
	titleLower := strings.ToLower(title)
	bodyLower := strings.ToLower(body)

	for _, kw := range criticalKeywords {
		if strings.Contains(titleLower, kw) || strings.Contains(bodyLower, kw) {
			return model.SeverityCritical
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(titleLower, kw) {
			return model.SeverityHigh
		}
	}
	switch {
	case linesChanged > 1000:
		return model.SeverityHigh
	case linesChanged > 200:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// prImpact classifies blast radius from the touched paths.
func prImpact(files []string) model.ImpactScope {
	for _, f := range files {
		for _, p := range customerPaths {
			if strings.Contains(f, p) {
				return model.ImpactCustomer
			}
		}
	}
	for _, f := range files {
		for _, p := range orgPaths {
			if strings.Contains(f, p) {
				return model.ImpactOrg
			}
		}
	}
	if len(files) > 5 {
		return model.ImpactTeam
	}
	return model.ImpactLocal
}

func ciSeverity(payloadText string) model.Severity {
	if strings.Contains(payloadText, "deploy") {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}

func ciImpact(payloadText string, modifiedCount int) model.ImpactScope {
	if strings.Contains(payloadText, "deploy") || strings.Contains(payloadText, "release") {
		return model.ImpactCustomer
	}
	if modifiedCount > 10 {
		return model.ImpactTeam
	}
	return model.ImpactLocal
}

// payloadText renders the whole event as lowercased JSON for the keyword
// heuristics, so a "deploy" anywhere in the payload is seen.
func payloadText(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(string(raw))
}

// orgFromFullName derives the org by splitting full_name on the first "/".
// A bare repo name carries no org.
func orgFromFullName(fullName string) string {
	org, _, found := strings.Cut(fullName, "/")
	if !found {
		return ""
	}
	return org
}

func prTags(typ model.SignalType, ev PREvent) []string {
	tags := []string{"pr"}
	if ev.PullRequest.Merged {
		tags = append(tags, "merged")
	}
	if name := ev.Repository.Name; name != "" {
		tags = append(tags, "repo:"+name)
	}
	return tags
}

func ciTags(typ model.SignalType, ev CIEvent) []string {
	tags := []string{"ci"}
	if wf := ev.WorkflowRun.Name; wf != "" {
		tags = append(tags, "workflow:"+slugify(wf))
	}
	if typ == model.SignalCISuccess {
		tags = append(tags, "passing")
	}
	return tags
}

// slugify lowercases and snake-cases a free-form name for use as a tag.
func slugify(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
