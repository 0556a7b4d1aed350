package models

// View is a named, predicate-defined slice of the ticket set. Views are
// never persisted; membership is derived from ticket fields per request.
type View string

const (
	ViewAll        View = "all"
	ViewMine       View = "mine"
	ViewUnassigned View = "unassigned"
	ViewTeam       View = "team"
	ViewArchived   View = "archived"
)

// Valid reports whether v is one of the known views.
func (v View) Valid() bool {
	switch v {
	case ViewAll, ViewMine, ViewUnassigned, ViewTeam, ViewArchived:
		return true
	}
	return false
}

// ViewCounts is a snapshot of approximate per-view ticket counts used
// for tab badges. It is recomputed on demand and never authoritative.
type ViewCounts struct {
	All        int `json:"all"`
	Mine       int `json:"mine"`
	Unassigned int `json:"unassigned"`
	Team       int `json:"team"`
	Archived   int `json:"archived"`
}

// Get returns the count for a single view.
func (c ViewCounts) Get(v View) int {
	switch v {
	case ViewMine:
		return c.Mine
	case ViewUnassigned:
		return c.Unassigned
	case ViewTeam:
		return c.Team
	case ViewArchived:
		return c.Archived
	default:
		return c.All
	}
}
