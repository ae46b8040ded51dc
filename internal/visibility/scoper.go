// Package visibility decides which part of the catalog a caller may query.
package visibility

import (
	"fmt"
	"sort"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/pkg/logger"
)

// AllowedScope is a resolved unit narrowed to the cells a caller may see
type AllowedScope struct {
	Unit *contracts.GeoUnit
	// Cells are the descendant cells the caller may aggregate, sorted
	Cells []string
	// Narrowed is set when Cells is a strict subset of the unit's cells
	Narrowed bool
	// Withheld are visible cells removed because they are not published
	Withheld []string
}

// Without returns the scope with codes moved from Cells to Withheld.
// Codes outside Cells are ignored.
func (a AllowedScope) Without(codes []string) AllowedScope {
	drop := make(map[string]bool, len(codes))
	for _, c := range codes {
		drop[c] = true
	}

	out := AllowedScope{Unit: a.Unit, Narrowed: a.Narrowed, Cells: []string{}}
	out.Withheld = append(out.Withheld, a.Withheld...)
	for _, c := range a.Cells {
		if drop[c] {
			out.Withheld = append(out.Withheld, c)
			continue
		}
		out.Cells = append(out.Cells, c)
	}
	sort.Strings(out.Withheld)
	return out
}

// Scoper applies role and assignment rules
// ⭐ SSOT: 사용자 가시 범위 판단은 여기서만
type Scoper struct {
	logger *logger.Logger
}

// NewScoper creates a new scoper
func NewScoper(log *logger.Logger) *Scoper {
	return &Scoper{logger: log.Component("visibility")}
}

// unrestricted: SuperAdmin always, Admin without assignments, and the
// public reader (which the publication gate restricts instead)
func unrestricted(id contracts.Identity) bool {
	switch id.Role {
	case contracts.RoleSuperAdmin, contracts.RolePublic:
		return true
	case contracts.RoleAdmin:
		return !id.HasAssignments()
	}
	return false
}

// Narrow confirms the caller may query unit and returns the cells to sum.
//
// A restricted caller sees the union of the cells of its assigned
// departments and its assigned cells. A unit inside an assigned department
// is fully visible; a unit that only partly overlaps is narrowed to the
// overlap; no overlap is ErrForbidden.
func (s *Scoper) Narrow(cat *catalog.Catalog, unit *contracts.GeoUnit, id contracts.Identity) (AllowedScope, error) {
	all := cat.DescendantCells(unit)
	scope := AllowedScope{Unit: unit, Cells: all}

	if unrestricted(id) {
		return scope, nil
	}
	if id.Role != contracts.RoleAdmin && id.Role != contracts.RoleUser {
		return AllowedScope{}, fmt.Errorf("%w: role %q", contracts.ErrForbidden, id.Role)
	}

	for _, dept := range id.Departments {
		if dept != "" && cat.IsWithin(unit.Key, contracts.JoinKey(dept)) {
			return scope, nil
		}
	}

	allowed := s.assignedCells(cat, id)
	var cells []string
	for _, code := range all {
		if allowed[code] {
			cells = append(cells, code)
		}
	}

	if len(cells) == 0 {
		s.logger.WithFields(logger.Fields{
			"user":  id.Actor(),
			"scope": unit.Key,
		}).Warn("Scope outside caller assignments")
		return AllowedScope{}, fmt.Errorf("%w: %s is outside the assignments of %s", contracts.ErrForbidden, unitName(unit), id.Actor())
	}

	scope.Cells = cells
	scope.Narrowed = len(cells) < len(all)
	if scope.Narrowed {
		s.logger.WithFields(logger.Fields{
			"user":    id.Actor(),
			"scope":   unit.Key,
			"visible": len(cells),
			"total":   len(all),
		}).Debug("Scope narrowed to assigned cells")
	}

	return scope, nil
}

// CanSee reports whether the caller may browse unit: units inside an
// assigned department, and units on the path of an assigned cell.
func (s *Scoper) CanSee(cat *catalog.Catalog, unit *contracts.GeoUnit, id contracts.Identity) bool {
	if unrestricted(id) {
		return true
	}
	if id.Role != contracts.RoleAdmin && id.Role != contracts.RoleUser {
		return false
	}

	for _, dept := range id.Departments {
		if dept == "" {
			continue
		}
		deptKey := contracts.JoinKey(dept)
		if cat.IsWithin(unit.Key, deptKey) || cat.IsWithin(deptKey, unit.Key) {
			return true
		}
	}
	for _, code := range id.Cells {
		communeKey, ok := cat.CellUnitKey(code)
		if !ok {
			continue
		}
		if cat.IsWithin(communeKey, unit.Key) {
			return true
		}
		if cell, _ := cat.Cell(code); cell != nil {
			for _, vp := range cell.VotingPlaces {
				if cat.IsWithin(unit.Key, vp) {
					return true
				}
			}
		}
	}
	return false
}

// assignedCells expands assignments into cell codes.
// Unknown departments and cells are ignored.
func (s *Scoper) assignedCells(cat *catalog.Catalog, id contracts.Identity) map[string]bool {
	allowed := make(map[string]bool)
	for _, dept := range id.Departments {
		unit, ok := cat.Unit(contracts.JoinKey(dept))
		if !ok || unit.Level != contracts.LevelDepartment {
			s.logger.WithFields(logger.Fields{"user": id.Actor(), "department": dept}).Warn("Unknown assigned department")
			continue
		}
		for _, code := range cat.DescendantCells(unit) {
			allowed[code] = true
		}
	}
	for _, code := range id.Cells {
		if _, ok := cat.Cell(code); !ok {
			s.logger.WithFields(logger.Fields{"user": id.Actor(), "cell": code}).Warn("Unknown assigned cell")
			continue
		}
		allowed[code] = true
	}
	return allowed
}

// AssignedCells lists the cells a restricted caller may see, sorted.
// Unrestricted callers get nil.
func (s *Scoper) AssignedCells(cat *catalog.Catalog, id contracts.Identity) []string {
	if unrestricted(id) {
		return nil
	}
	allowed := s.assignedCells(cat, id)
	out := make([]string, 0, len(allowed))
	for code := range allowed {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

func unitName(u *contracts.GeoUnit) string {
	if u.Key == contracts.NationalKey {
		return "national scope"
	}
	return fmt.Sprintf("%s %s", u.Level, u.Key)
}
