package views

import "github.com/MarcoPoloResearchLab/strata/backend/internal/schema"

// ChangeType classifies a view change.
type ChangeType string

const (
	ChangeAdded    ChangeType = "ADDED"
	ChangeRemoved  ChangeType = "REMOVED"
	ChangeRenamed  ChangeType = "RENAMED"
	ChangeModified ChangeType = "MODIFIED"
)

// Change describes how one view differs between two documents.
type Change struct {
	ViewID     string     `json:"viewId"`
	ChangeType ChangeType `json:"changeType"`
	OldName    string     `json:"oldName,omitempty"`
	NewName    string     `json:"newName,omitempty"`
	// Position orders changes: views of the new document first, then removed views.
	Position int `json:"-"`
}

// Diff compares two documents view by view, matching views by id. A view whose only difference
// is its name is RENAMED.
func Diff(from, to Document) []Change {
	previous := make(map[string]View, len(from.Views))
	for _, view := range from.Views {
		previous[view.ID] = view
	}
	var changes []Change
	position := 0
	seen := make(map[string]struct{}, len(to.Views))
	for _, view := range to.Views {
		seen[view.ID] = struct{}{}
		old, existed := previous[view.ID]
		switch {
		case !existed:
			changes = append(changes, Change{ViewID: view.ID, ChangeType: ChangeAdded, NewName: view.Name, Position: position})
		case !sameContent(old, view):
			changes = append(changes, Change{ViewID: view.ID, ChangeType: ChangeModified, OldName: old.Name, NewName: view.Name, Position: position})
		case old.Name != view.Name:
			changes = append(changes, Change{ViewID: view.ID, ChangeType: ChangeRenamed, OldName: old.Name, NewName: view.Name, Position: position})
		}
		position++
	}
	for _, view := range from.Views {
		if _, ok := seen[view.ID]; ok {
			continue
		}
		changes = append(changes, Change{ViewID: view.ID, ChangeType: ChangeRemoved, OldName: view.Name, Position: position})
		position++
	}
	return changes
}

func sameContent(left, right View) bool {
	left.Name = ""
	right.Name = ""
	return schema.Equal(left, right)
}
