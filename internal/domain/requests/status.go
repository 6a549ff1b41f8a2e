package requests

// Status is the moderation state shared by place and edit requests.
//
//	submitted -> pending (first admin view)
//	submitted | pending -> refused
//	submitted | pending | refused -> accepted
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRefused   Status = "refused"
)

// Valid reports whether s is one of the four moderation states.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusPending, StatusAccepted, StatusRefused:
		return true
	}
	return false
}

// CanBeViewed reports whether a first view moves or records anything.
func CanBeViewed(s Status) bool {
	return s == StatusSubmitted || s == StatusPending
}

// CanBeRefused guards refusal. Only open requests can be refused.
func CanBeRefused(s Status) bool {
	return s == StatusSubmitted || s == StatusPending
}

// CanBeModerated guards acceptance. Refused requests stay eligible so an
// admin can overturn a refusal.
func CanBeModerated(s Status) bool {
	return s == StatusSubmitted || s == StatusPending || s == StatusRefused
}

// IsTerminal reports whether the request has been processed.
func IsTerminal(s Status) bool {
	return s == StatusAccepted || s == StatusRefused
}

// Kind selects the request table.
type Kind string

const (
	KindPlace Kind = "place"
	KindEdit  Kind = "edit"
)

// EditType distinguishes a content change proposal from a problem report.
type EditType string

const (
	EditModification EditType = "modification"
	EditReport       EditType = "signalement"
)

// Valid reports whether t is a known edit request type.
func (t EditType) Valid() bool {
	return t == EditModification || t == EditReport
}
