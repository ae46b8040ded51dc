package contracts

// Sponsor is the party or group backing a candidate
type Sponsor struct {
	Code    string `json:"code" yaml:"code"`
	Name    string `json:"name" yaml:"name"`
	LogoURL string `json:"logo_url,omitempty" yaml:"logo_url"`
}

// Candidate labels one score slot. Slot is the 1-based display order and
// maps to LedgerRow.Scores[Slot-1].
type Candidate struct {
	Slot     int      `json:"slot" yaml:"slot"`
	Name     string   `json:"name" yaml:"name"`
	Sponsor  *Sponsor `json:"sponsor,omitempty" yaml:"sponsor"`
	PhotoURL string   `json:"photo_url,omitempty" yaml:"photo_url"`
}

// Index returns the score array index of the candidate
func (c Candidate) Index() int {
	return c.Slot - 1
}
