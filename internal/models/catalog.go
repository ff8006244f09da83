package models

// StyleModifier describes one stylistic transformation. Its position in the catalog is
// the slot index it fills.
type StyleModifier struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// Milestone is a point on the inactivity timeline.
type Milestone struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Short string `json:"short"`
	Mood  string `json:"mood"`
}

// Catalog is the ordered set of styles and milestones exposed to the UI.
type Catalog struct {
	Styles                []StyleModifier `json:"styles"`
	Milestones            []Milestone     `json:"milestones"`
	DefaultMilestoneIndex int             `json:"defaultMilestoneIndex"`
}
