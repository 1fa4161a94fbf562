package planning

import (
	"fmt"
	"strings"
)

// ItemStatus tracks progress of one plan item.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemDone    ItemStatus = "done"
	ItemFailed  ItemStatus = "failed"
)

// PlanItem is one line of a TaskPlan.
type PlanItem struct {
	Description string     `json:"description"`
	Tool        string     `json:"tool,omitempty"`
	Status      ItemStatus `json:"status"`
}

// TaskPlan is the ordered checklist derived from a task.
type TaskPlan struct {
	OriginalTask string      `json:"original_task"`
	Items        []*PlanItem `json:"items"`
}

// NewTaskPlan creates an empty plan for task.
func NewTaskPlan(task string) *TaskPlan {
	return &TaskPlan{OriginalTask: task}
}

func normalizeDescription(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AddItem appends a pending item unless one with the same normalized
// description already exists. It reports whether the item was added.
func (p *TaskPlan) AddItem(description, tool string) bool {
	key := normalizeDescription(description)
	if key == "" {
		return false
	}
	for _, item := range p.Items {
		if normalizeDescription(item.Description) == key {
			return false
		}
	}
	p.Items = append(p.Items, &PlanItem{
		Description: strings.TrimSpace(description),
		Tool:        tool,
		Status:      ItemPending,
	})
	return true
}

// Mark sets the status of the first item whose normalized description matches.
func (p *TaskPlan) Mark(description string, status ItemStatus) bool {
	key := normalizeDescription(description)
	for _, item := range p.Items {
		if normalizeDescription(item.Description) == key {
			item.Status = status
			return true
		}
	}
	return false
}

// Pending returns items not yet done or failed.
func (p *TaskPlan) Pending() []*PlanItem {
	var out []*PlanItem
	for _, item := range p.Items {
		if item.Status == ItemPending {
			out = append(out, item)
		}
	}
	return out
}

// Complete reports whether every item has settled.
func (p *TaskPlan) Complete() bool {
	return len(p.Items) > 0 && len(p.Pending()) == 0
}

// String renders the plan as a checklist.
func (p *TaskPlan) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan for: %s\n", p.OriginalTask)
	for i, item := range p.Items {
		mark := " "
		switch item.Status {
		case ItemDone:
			mark = "x"
		case ItemFailed:
			mark = "!"
		}
		fmt.Fprintf(&sb, "  %d. [%s] %s\n", i+1, mark, item.Description)
	}
	return sb.String()
}
