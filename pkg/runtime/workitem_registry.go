package runtime

import "sort"

// AddWorkItem registers a newly created work item with the case.
func (c *Case) AddWorkItem(wi *WorkItem) {
	c.WorkItems[wi.ID] = wi
}

// GetWorkItem looks up a work item by ID.
func (c *Case) GetWorkItem(id string) (*WorkItem, bool) {
	wi, ok := c.WorkItems[id]
	return wi, ok
}

// WorkItemFilter selects a subset of a case's work items for listWorkItems
// (A.4.6). A nil field means "don't filter on this dimension".
type WorkItemFilter struct {
	TaskID *string
	Status *WorkItemStatus
}

// ListWorkItems returns a read-only snapshot of work items matching filter, in a
// stable order (by ID) so repeated calls with no intervening mutation are
// identical.
func (c *Case) ListWorkItems(filter WorkItemFilter) []*WorkItem {
	out := make([]*WorkItem, 0, len(c.WorkItems))
	for _, wi := range c.WorkItems {
		if filter.TaskID != nil && wi.TaskID != *filter.TaskID {
			continue
		}
		if filter.Status != nil && wi.Status != *filter.Status {
			continue
		}
		out = append(out, wi.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
