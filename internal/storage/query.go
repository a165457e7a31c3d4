package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/kizuki/internal/model"
)

const signalColumns = "id, signal_type, repo, org, team, files, cause, resolution, " +
	"author, reviewer, severity, impact_scope, ts, metadata, tags"

// placeholderStyle selects the SQL parameter syntax of a backend.
type placeholderStyle int

const (
	placeholderDollar   placeholderStyle = iota // Postgres: $1, $2, ...
	placeholderQuestion                         // SQLite: ?
)

func (p placeholderStyle) param(n int) string {
	if p == placeholderDollar {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// buildSignalQuery renders the filtered signal SELECT shared by both
// backends. Filters are ANDed; results are newest first with a default
// limit of DefaultQueryLimit.
func buildSignalQuery(f QueryFilters, style placeholderStyle) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, val any) {
		args = append(args, val)
		where = append(where, fmt.Sprintf(clause, style.param(len(args))))
	}

	if f.Repo != "" {
		add("repo = %s", f.Repo)
	}
	if f.Org != "" {
		add("org = %s", f.Org)
	}
	if f.Type != "" {
		add("signal_type = %s", string(f.Type))
	}
	if f.Author != "" {
		add("author = %s", f.Author)
	}
	if f.SinceDays > 0 {
		add("ts > %s", time.Now().UTC().AddDate(0, 0, -f.SinceDays))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString("SELECT " + signalColumns + " FROM signals")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY ts DESC LIMIT " + style.param(len(args)))

	return b.String(), args
}

// decodeSignalJSON unpacks the JSON-encoded collection columns into the
// signal, normalizing nil collections to empty so callers never see nil.
func decodeSignalJSON(s *model.Signal, files, metadata, tags []byte) error {
	if len(files) > 0 {
		if err := json.Unmarshal(files, &s.Files); err != nil {
			return fmt.Errorf("storage: decode files: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return fmt.Errorf("storage: decode metadata: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &s.Tags); err != nil {
			return fmt.Errorf("storage: decode tags: %w", err)
		}
	}
	if s.Files == nil {
		s.Files = []string{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return nil
}
