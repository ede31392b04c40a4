package portfolio

import (
	"fmt"
	"strings"
)

// ChangeSet carries the fields a client wants written. A nil field is left
// untouched. Blocks replace the stored list wholesale; layout, theme and SEO
// apply as shallow merges over the stored maps.
type ChangeSet struct {
	Blocks []Block        `json:"blocks,omitempty"`
	Layout map[string]any `json:"layout,omitempty"`
	Theme  map[string]any `json:"theme,omitempty"`
	SEO    map[string]any `json:"seo,omitempty"`
}

// FieldIssue describes a single field-level validation problem.
type FieldIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError aggregates field-level problems found in a change set.
type ValidationError struct {
	Issues []FieldIssue
}

// Error renders the aggregated issues as a single message.
func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "portfolio: invalid change set"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Message))
	}
	return "portfolio: invalid change set: " + strings.Join(parts, "; ")
}

// IsEmpty reports whether the change set touches no field at all.
func (cs ChangeSet) IsEmpty() bool {
	return cs.Blocks == nil && cs.Layout == nil && cs.Theme == nil && cs.SEO == nil
}

// Validate checks the change set shape and returns a ValidationError listing
// every problem found, or nil when the change set is well formed.
func (cs ChangeSet) Validate() error {
	var issues []FieldIssue

	if cs.IsEmpty() {
		issues = append(issues, FieldIssue{Field: "changes", Message: "at least one of blocks, layout, theme or seo is required"})
	}

	for index, block := range cs.Blocks {
		if strings.TrimSpace(block.ID) == "" {
			issues = append(issues, FieldIssue{Field: fmt.Sprintf("blocks[%d].id", index), Message: "block id is required"})
		}
		if strings.TrimSpace(block.Type) == "" {
			issues = append(issues, FieldIssue{Field: fmt.Sprintf("blocks[%d].type", index), Message: "block type is required"})
		}
		if block.Order < 0 {
			issues = append(issues, FieldIssue{Field: fmt.Sprintf("blocks[%d].order", index), Message: "block order must not be negative"})
		}
	}

	for field, section := range map[string]map[string]any{"layout": cs.Layout, "theme": cs.Theme, "seo": cs.SEO} {
		for key := range section {
			if strings.TrimSpace(key) == "" {
				issues = append(issues, FieldIssue{Field: field, Message: "keys must not be empty"})
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Merge folds a later change set over this one field by field: a later block
// list supersedes the earlier one entirely, while map sections merge key-wise
// with later keys winning. Neither input is mutated.
func (cs ChangeSet) Merge(later ChangeSet) ChangeSet {
	merged := ChangeSet{
		Blocks: cs.Blocks,
		Layout: mergeSection(cs.Layout, later.Layout),
		Theme:  mergeSection(cs.Theme, later.Theme),
		SEO:    mergeSection(cs.SEO, later.SEO),
	}
	if later.Blocks != nil {
		merged.Blocks = later.Blocks
	}
	return merged
}

func mergeSection(earlier, later map[string]any) map[string]any {
	if earlier == nil && later == nil {
		return nil
	}
	merged := make(map[string]any, len(earlier)+len(later))
	for key, value := range earlier {
		merged[key] = value
	}
	for key, value := range later {
		merged[key] = value
	}
	return merged
}
