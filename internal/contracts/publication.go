package contracts

import "time"

// PublicationState is the value of a publication flag
type PublicationState string

const (
	NotPublished PublicationState = "not_published"
	Published    PublicationState = "published"
)

// PublicationFlag is the explicit publication decision for one unit.
// It is independent of the status of the cells under the unit.
type PublicationFlag struct {
	UnitKey   string           `json:"unit_key"`
	Level     Level            `json:"level"`
	State     PublicationState `json:"state"`
	ChangedBy string           `json:"changed_by"`
	ChangedAt time.Time        `json:"changed_at"`
}

// PublicationStatus answers isPublished for a unit
type PublicationStatus struct {
	Unit      UnitRef          `json:"unit"`
	State     PublicationState `json:"state"`
	DecidedBy string           `json:"decided_by,omitempty"` // key of the unit whose flag decided
	Flag      *PublicationFlag `json:"flag,omitempty"`
}

// IsPublished reports whether the status is Published
func (s PublicationStatus) IsPublished() bool {
	return s.State == Published
}
