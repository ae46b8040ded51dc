package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/tally/internal/contracts"
)

// ErrInvalidSeed is returned when reference data violates a catalog invariant
var ErrInvalidSeed = errors.New("invalid catalog seed")

// Catalog is the read-only geographic reference.
// ⭐ SSOT: 지리 단위 조회와 하위 CEL 계산은 여기서만
//
// Every lookup goes through full composite keys. Local codes are only
// indexed for the explicit ResolveLocal/ResolveWithin modes, which report
// ambiguity instead of picking a match.
type Catalog struct {
	election    string
	hash        string
	builtAt     time.Time
	units       map[string]*contracts.GeoUnit
	children    map[string][]string
	byLocal     map[contracts.Level]map[string][]*contracts.GeoUnit
	cells       map[string]*contracts.Cell
	cellsByUnit map[string][]string
	candidates  []contracts.Candidate
}

// Stats summarizes catalog contents
type Stats struct {
	Election   string                  `json:"election"`
	Hash       string                  `json:"hash"`
	BuiltAt    time.Time               `json:"built_at"`
	Units      map[contracts.Level]int `json:"units"`
	Cells      int                     `json:"cells"`
	Candidates int                     `json:"candidates"`
}

// Build validates seed and constructs a catalog
func Build(seed *Seed) (*Catalog, error) {
	if seed == nil {
		return nil, fmt.Errorf("%w: nil seed", ErrInvalidSeed)
	}

	hash, err := Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("hash seed: %w", err)
	}

	c := &Catalog{
		election:    seed.Election,
		hash:        hash,
		builtAt:     time.Now(),
		units:       make(map[string]*contracts.GeoUnit),
		children:    make(map[string][]string),
		byLocal:     make(map[contracts.Level]map[string][]*contracts.GeoUnit),
		cells:       make(map[string]*contracts.Cell),
		cellsByUnit: make(map[string][]string),
	}

	var problems []string
	add := func(level contracts.Level, code, key, label, parentKey string) {
		if err := validateCode(code); err != nil {
			problems = append(problems, fmt.Sprintf("%s %q under %q: %v", level, code, parentKey, err))
			return
		}
		if _, exists := c.units[key]; exists {
			problems = append(problems, fmt.Sprintf("duplicate %s key %q", level, key))
			return
		}
		unit := &contracts.GeoUnit{Level: level, Code: code, Key: key, Label: label, ParentKey: parentKey}
		c.units[key] = unit
		c.children[parentKey] = append(c.children[parentKey], key)
		if c.byLocal[level] == nil {
			c.byLocal[level] = make(map[string][]*contracts.GeoUnit)
		}
		c.byLocal[level][code] = append(c.byLocal[level][code], unit)
	}

	// National root
	c.units[contracts.NationalKey] = &contracts.GeoUnit{
		Level: contracts.LevelNational,
		Key:   contracts.NationalKey,
		Label: nationalLabel(seed.Election),
	}

	for _, r := range seed.Regions {
		regionKey := contracts.RegionKey(r.Code)
		add(contracts.LevelRegion, r.Code, regionKey, r.Label, contracts.NationalKey)

		for _, d := range r.Departments {
			deptKey := contracts.JoinKey(d.Code)
			add(contracts.LevelDepartment, d.Code, deptKey, d.Label, regionKey)

			for _, sp := range d.SubPrefectures {
				spKey := contracts.JoinKey(d.Code, sp.Code)
				add(contracts.LevelSubPrefecture, sp.Code, spKey, sp.Label, deptKey)

				for _, cm := range sp.Communes {
					communeKey := contracts.JoinKey(d.Code, sp.Code, cm.Code)
					add(contracts.LevelCommune, cm.Code, communeKey, cm.Label, spKey)

					for _, vp := range cm.VotingPlaces {
						vpKey := contracts.JoinKey(d.Code, sp.Code, cm.Code, vp.Code)
						add(contracts.LevelVotingPlace, vp.Code, vpKey, vp.Label, communeKey)

						if vp.Stations < 0 {
							problems = append(problems, fmt.Sprintf("voting place %q has negative station count", vpKey))
						}
						for n := 1; n <= vp.Stations; n++ {
							code := strconv.Itoa(n)
							add(contracts.LevelPollingStation, code, contracts.JoinKey(vpKey, code), fmt.Sprintf("BV %02d", n), vpKey)
						}
					}
				}
			}
		}
	}

	for _, cs := range seed.Cells {
		if msg := c.addCell(cs); msg != "" {
			problems = append(problems, msg)
		}
	}

	slots := make(map[int]bool)
	for _, cand := range seed.Candidates {
		if cand.Slot < 1 || cand.Slot > contracts.MaxCandidateSlots {
			problems = append(problems, fmt.Sprintf("candidate %q slot %d out of range 1..%d", cand.Name, cand.Slot, contracts.MaxCandidateSlots))
			continue
		}
		if slots[cand.Slot] {
			problems = append(problems, fmt.Sprintf("duplicate candidate slot %d", cand.Slot))
			continue
		}
		slots[cand.Slot] = true
		c.candidates = append(c.candidates, cand)
	}
	sort.Slice(c.candidates, func(i, j int) bool { return c.candidates[i].Slot < c.candidates[j].Slot })

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSeed, strings.Join(problems, "; "))
	}

	for key := range c.children {
		sort.Strings(c.children[key])
	}
	for key := range c.cellsByUnit {
		sort.Strings(c.cellsByUnit[key])
	}
	for _, byCode := range c.byLocal {
		for code := range byCode {
			units := byCode[code]
			sort.Slice(units, func(i, j int) bool { return units[i].Key < units[j].Key })
		}
	}

	return c, nil
}

// addCell registers a cell under every unit of its full path.
// Returns a problem description, or "" when the cell is valid.
func (c *Catalog) addCell(cs CellSeed) string {
	if cs.Code == "" {
		return "cell with empty code"
	}
	if _, exists := c.cells[cs.Code]; exists {
		return fmt.Sprintf("duplicate cell %q", cs.Code)
	}

	path := cs.Path()
	if !path.Complete() {
		return fmt.Sprintf("cell %q has partial path %+v; department, sub-prefecture and commune are all required", cs.Code, path)
	}

	communeKey := path.CommuneKey()
	commune, ok := c.units[communeKey]
	if !ok || commune.Level != contracts.LevelCommune {
		return fmt.Sprintf("cell %q references unknown commune %q", cs.Code, communeKey)
	}

	cell := &contracts.Cell{
		Code:         cs.Code,
		Label:        cs.Label,
		StationCount: cs.StationCount,
		Path:         path,
	}

	seen := make(map[string]bool)
	for _, vp := range cs.VotingPlaces {
		vpKey := contracts.JoinKey(communeKey, vp)
		unit, ok := c.units[vpKey]
		if !ok || unit.Level != contracts.LevelVotingPlace {
			return fmt.Sprintf("cell %q references unknown voting place %q", cs.Code, vpKey)
		}
		if !seen[vpKey] {
			seen[vpKey] = true
			cell.VotingPlaces = append(cell.VotingPlaces, vpKey)
		}
	}
	sort.Strings(cell.VotingPlaces)

	c.cells[cs.Code] = cell

	// 상위 단위 전체에 등록 (전체 키 기준)
	for _, key := range c.chain(communeKey) {
		c.cellsByUnit[key] = append(c.cellsByUnit[key], cs.Code)
	}
	for _, vpKey := range cell.VotingPlaces {
		c.cellsByUnit[vpKey] = append(c.cellsByUnit[vpKey], cs.Code)
	}

	return ""
}

// chain returns key and every ancestor key up to national
func (c *Catalog) chain(key string) []string {
	keys := []string{key}
	for {
		unit, ok := c.units[key]
		if !ok || unit.Level == contracts.LevelNational {
			return keys
		}
		key = unit.ParentKey
		keys = append(keys, key)
	}
}

// Resolve parses scopeKey and matches each segment at its own level.
// The result is Resolved or Unresolved; full keys are never ambiguous.
// A malformed key is Unresolved with Invalid set.
func (c *Catalog) Resolve(scopeKey string) contracts.Resolution {
	res := contracts.Resolution{Input: scopeKey}

	scope, err := contracts.ParseScope(scopeKey)
	if err != nil {
		res.Invalid = err
		return res
	}

	unit, ok := c.units[scope.Key()]
	if !ok || unit.Level != scope.Level {
		return res
	}

	res.Kind = contracts.Resolved
	res.Unit = unit
	return res
}

// ResolveLocal looks up a bare local code at level across the whole catalog.
// This is the discouraged input mode: more than one match is Ambiguous.
func (c *Catalog) ResolveLocal(level contracts.Level, code string) contracts.Resolution {
	return c.ResolveWithin(contracts.NationalKey, level, code)
}

// ResolveWithin looks up a local code at level among the descendants of
// ancestorKey, e.g. a commune code qualified by its department only.
func (c *Catalog) ResolveWithin(ancestorKey string, level contracts.Level, code string) contracts.Resolution {
	input := code
	if ancestorKey != contracts.NationalKey {
		input = ancestorKey + "/" + code
	}
	res := contracts.Resolution{Input: input}

	var matches []*contracts.GeoUnit
	for _, unit := range c.byLocal[level][code] {
		if c.isDescendant(unit.Key, ancestorKey) {
			matches = append(matches, unit)
		}
	}

	switch len(matches) {
	case 0:
	case 1:
		res.Kind = contracts.Resolved
		res.Unit = matches[0]
	default:
		res.Kind = contracts.Ambiguous
		res.Matches = matches
	}

	return res
}

// isDescendant reports whether key lies under ancestorKey (or equals it)
func (c *Catalog) isDescendant(key, ancestorKey string) bool {
	if ancestorKey == contracts.NationalKey {
		return true
	}
	for _, k := range c.chain(key) {
		if k == ancestorKey {
			return true
		}
	}
	return false
}

// Unit returns the unit with the given composite key
func (c *Catalog) Unit(key string) (*contracts.GeoUnit, bool) {
	unit, ok := c.units[key]
	return unit, ok
}

// Children returns the direct children of key ordered by key
func (c *Catalog) Children(key string) []*contracts.GeoUnit {
	keys := c.children[key]
	out := make([]*contracts.GeoUnit, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.units[k])
	}
	return out
}

// Ancestors returns the ancestors of key, nearest first, ending at national
func (c *Catalog) Ancestors(key string) []*contracts.GeoUnit {
	chain := c.chain(key)
	out := make([]*contracts.GeoUnit, 0, len(chain))
	for _, k := range chain[1:] {
		if unit, ok := c.units[k]; ok {
			out = append(out, unit)
		}
	}
	return out
}

// IsWithin reports whether unit key lies under ancestorKey (inclusive)
func (c *Catalog) IsWithin(key, ancestorKey string) bool {
	return c.isDescendant(key, ancestorKey)
}

// DescendantCells returns every cell whose full path falls under unit.
// The returned slice is shared; callers must not modify it.
func (c *Catalog) DescendantCells(unit *contracts.GeoUnit) []string {
	if unit == nil {
		return nil
	}
	return c.cellsByUnit[unit.Key]
}

// Cell returns the cell with the given code
func (c *Catalog) Cell(code string) (*contracts.Cell, bool) {
	cell, ok := c.cells[code]
	return cell, ok
}

// CellUnitKey returns the commune key owning the cell
func (c *Catalog) CellUnitKey(code string) (string, bool) {
	cell, ok := c.cells[code]
	if !ok {
		return "", false
	}
	return cell.Path.CommuneKey(), true
}

// Candidates returns candidates ordered by slot
func (c *Catalog) Candidates() []contracts.Candidate {
	return c.candidates
}

// Candidate returns the candidate in slot
func (c *Catalog) Candidate(slot int) (contracts.Candidate, bool) {
	for _, cand := range c.candidates {
		if cand.Slot == slot {
			return cand, true
		}
	}
	return contracts.Candidate{}, false
}

// Hash returns the seed hash the catalog was built from
func (c *Catalog) Hash() string {
	return c.hash
}

// Stats returns catalog counts
func (c *Catalog) Stats() Stats {
	units := make(map[contracts.Level]int)
	for _, u := range c.units {
		units[u.Level]++
	}
	return Stats{
		Election:   c.election,
		Hash:       c.hash,
		BuiltAt:    c.builtAt,
		Units:      units,
		Cells:      len(c.cells),
		Candidates: len(c.candidates),
	}
}

func validateCode(code string) error {
	if code == "" {
		return errors.New("empty code")
	}
	if strings.Contains(code, contracts.KeyDelimiter) {
		return fmt.Errorf("code contains delimiter %q", contracts.KeyDelimiter)
	}
	if strings.ContainsAny(code, " /:") {
		return errors.New("code contains a reserved character")
	}
	// "national" 은 전국 단위 키로 예약됨
	if strings.EqualFold(code, "national") {
		return fmt.Errorf("code %q is reserved for the national scope", code)
	}
	return nil
}

func nationalLabel(election string) string {
	if election == "" {
		return "NATIONAL"
	}
	return election
}
