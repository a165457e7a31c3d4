package inference

import (
	"strings"

	"github.com/ashita-ai/kizuki/internal/model"
)

// conditionMatches evaluates one policy condition against a signal. The
// operator set per field is fixed: file_path supports equals/contains over
// the signal's file list, author and team support equals, time supports
// in_list against the weekday name of the signal timestamp. Anything
// else — unknown field, unknown operator, operator on the wrong field —
// fails closed and the condition does not match.
func conditionMatches(c model.PolicyCondition, s model.Signal) bool {
	switch c.Field {
	case model.FieldFilePath:
		switch c.Operator {
		case model.OpEquals:
			for _, f := range s.Files {
				if f == c.Value {
					return true
				}
			}
		case model.OpContains:
			for _, f := range s.Files {
				if strings.Contains(f, c.Value) {
					return true
				}
			}
		}
		return false
	case model.FieldAuthor:
		return c.Operator == model.OpEquals && s.Author == c.Value
	case model.FieldTeam:
		return c.Operator == model.OpEquals && s.Team == c.Value
	case model.FieldTime:
		if c.Operator != model.OpInList {
			return false
		}
		day := s.Timestamp.Weekday().String()
		for _, v := range strings.Split(c.Value, ",") {
			if strings.TrimSpace(v) == day {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// policyMatches reports whether every condition of the policy matches the
// signal. A policy with no conditions matches nothing: refinement must not
// count unrelated outcomes as evidence.
func policyMatches(p model.Policy, s model.Signal) bool {
	if len(p.Conditions) == 0 {
		return false
	}
	for _, c := range p.Conditions {
		if !conditionMatches(c, s) {
			return false
		}
	}
	return true
}
