// Package publication owns the per-unit publication flags and the gate that
// keeps unpublished results away from external readers.
package publication

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/pkg/logger"
)

// =============================================================================
// Publication Gate
// =============================================================================

// GateMode 게이트 동작 모드
type GateMode string

const (
	GateModeEnforce GateMode = "enforce" // 실제 차단
	GateModeShadow  GateMode = "shadow"  // 로깅만, 실제 차단 안함
	GateModeOff     GateMode = "off"     // 비활성화
)

// ParseGateMode normalizes a configured gate mode
func ParseGateMode(s string) (GateMode, error) {
	switch mode := GateMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case GateModeEnforce, GateModeShadow, GateModeOff:
		return mode, nil
	case "":
		return GateModeEnforce, nil
	}
	return "", fmt.Errorf("unknown publication gate mode %q", s)
}

// Audience tells the gate who the result is for
type Audience string

const (
	AudienceInternal Audience = "internal" // staff tools, never gated
	AudienceExternal Audience = "external" // public site and feeds
)

// Decision is the outcome of a gate check
type Decision struct {
	Allowed    bool                        `json:"allowed"`
	Mode       GateMode                    `json:"mode"`
	WouldBlock bool                        `json:"would_block"` // shadow 모드에서 차단됐을지 여부
	Status     contracts.PublicationStatus `json:"status"`
	Reason     string                      `json:"reason"`
	// Withheld lists descendant cells held back by a nearer unpublished
	// flag. The unit may be served, but only without these cells.
	Withheld []string `json:"withheld,omitempty"`
}

// Gate decides publication state and serves publish/unpublish
// ⭐ SSOT: 공표 여부 판단은 여기서만
type Gate struct {
	flags  contracts.PublicationRepository
	mode   GateMode
	logger *logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	sinks []Sink
}

// NewGate creates a new publication gate
func NewGate(flags contracts.PublicationRepository, mode GateMode, log *logger.Logger, sinks ...Sink) *Gate {
	return &Gate{
		flags:  flags,
		mode:   mode,
		logger: log.Component("publication"),
		now:    time.Now,
		sinks:  sinks,
	}
}

// WithClock overrides the time source used for flag timestamps
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// AddSink registers a sink for publication events
func (g *Gate) AddSink(s Sink) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sinks = append(g.sinks, s)
}

// Mode returns the configured gate mode
func (g *Gate) Mode() GateMode {
	return g.mode
}

// Status resolves the publication state of unit. The nearest explicit flag
// on the unit or one of its ancestors decides; no flag is NotPublished.
func (g *Gate) Status(ctx context.Context, cat *catalog.Catalog, unit *contracts.GeoUnit) (contracts.PublicationStatus, error) {
	chain := append([]*contracts.GeoUnit{unit}, cat.Ancestors(unit.Key)...)
	keys := make([]string, len(chain))
	for i, u := range chain {
		keys[i] = u.Key
	}

	flags, err := g.flags.Flags(ctx, keys)
	if err != nil {
		return contracts.PublicationStatus{}, fmt.Errorf("load publication flags: %w", err)
	}

	status := contracts.PublicationStatus{Unit: unit.Ref(), State: contracts.NotPublished}
	for _, key := range keys {
		flag, ok := flags[key]
		if !ok {
			continue
		}
		f := flag
		status.State = f.State
		status.DecidedBy = key
		status.Flag = &f
		break
	}
	return status, nil
}

// Withheld returns the cells whose own publication state is not Published.
// A cell follows the nearest flag on any of its voting places or their
// ancestors; one unpublished voting place withholds the whole cell.
func (g *Gate) Withheld(ctx context.Context, cat *catalog.Catalog, cells []string) ([]string, error) {
	chains := make(map[string][]string)
	var keys []string
	placesOf := func(cell *contracts.Cell) []string {
		if len(cell.VotingPlaces) > 0 {
			return cell.VotingPlaces
		}
		return []string{cell.Path.CommuneKey()}
	}

	for _, code := range cells {
		cell, ok := cat.Cell(code)
		if !ok {
			continue
		}
		for _, place := range placesOf(cell) {
			if _, seen := chains[place]; seen {
				continue
			}
			chain := []string{place}
			for _, a := range cat.Ancestors(place) {
				chain = append(chain, a.Key)
			}
			chains[place] = chain
			keys = append(keys, chain...)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	flags, err := g.flags.Flags(ctx, dedupe(keys))
	if err != nil {
		return nil, fmt.Errorf("load publication flags: %w", err)
	}

	published := func(chain []string) bool {
		for _, key := range chain {
			if flag, ok := flags[key]; ok {
				return flag.State == contracts.Published
			}
		}
		return false
	}

	var withheld []string
	for _, code := range cells {
		cell, ok := cat.Cell(code)
		if !ok {
			continue
		}
		for _, place := range placesOf(cell) {
			if !published(chains[place]) {
				withheld = append(withheld, code)
				break
			}
		}
	}
	return withheld, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// IsPublished reports whether unit is published
func (g *Gate) IsPublished(ctx context.Context, cat *catalog.Catalog, unit *contracts.GeoUnit) (bool, error) {
	status, err := g.Status(ctx, cat, unit)
	if err != nil {
		return false, err
	}
	return status.IsPublished(), nil
}

// Check decides whether a result for unit may be served to id.
// Only external readers are gated; administrative identities bypass it.
func (g *Gate) Check(ctx context.Context, cat *catalog.Catalog, unit *contracts.GeoUnit, id contracts.Identity, audience Audience) (*Decision, error) {
	decision := &Decision{Mode: g.mode}

	// 게이트가 꺼져있으면 통과
	if g.mode == GateModeOff {
		decision.Allowed = true
		decision.Reason = "gate disabled"
		return decision, nil
	}
	if audience != AudienceExternal {
		decision.Allowed = true
		decision.Reason = "internal audience"
		return decision, nil
	}
	if id.IsAdministrative() {
		decision.Allowed = true
		decision.Reason = "administrative bypass"
		return decision, nil
	}

	status, err := g.Status(ctx, cat, unit)
	if err != nil {
		return nil, err
	}
	decision.Status = status

	if status.IsPublished() {
		decision.Allowed = true
		decision.Reason = "published"

		withheld, err := g.Withheld(ctx, cat, cat.DescendantCells(unit))
		if err != nil {
			return nil, err
		}
		if len(withheld) > 0 {
			if g.mode == GateModeShadow {
				g.logger.WithFields(logger.Fields{
					"scope":    unit.Key,
					"user":     id.Actor(),
					"withheld": len(withheld),
				}).Warn("Publication gate would withhold cells (shadow)")
			} else {
				decision.Withheld = withheld
				decision.Reason = "published, some cells withheld"
			}
		}
		return decision, nil
	}

	decision.WouldBlock = true
	decision.Reason = "not yet published"

	switch g.mode {
	case GateModeShadow:
		decision.Allowed = true
		g.logger.WithFields(logger.Fields{
			"scope": unit.Key,
			"user":  id.Actor(),
		}).Warn("Publication gate would block (shadow)")
	default:
		decision.Allowed = false
		g.logger.WithFields(logger.Fields{
			"scope": unit.Key,
			"user":  id.Actor(),
		}).Debug("Publication gate blocked result")
	}

	return decision, nil
}

// Publish marks unit published. Descendants without their own flag follow.
func (g *Gate) Publish(ctx context.Context, unit *contracts.GeoUnit, id contracts.Identity) (*contracts.PublicationFlag, error) {
	return g.set(ctx, unit, id, contracts.Published)
}

// Unpublish marks unit not published. The explicit flag overrides a
// published ancestor.
func (g *Gate) Unpublish(ctx context.Context, unit *contracts.GeoUnit, id contracts.Identity) (*contracts.PublicationFlag, error) {
	return g.set(ctx, unit, id, contracts.NotPublished)
}

func (g *Gate) set(ctx context.Context, unit *contracts.GeoUnit, id contracts.Identity, state contracts.PublicationState) (*contracts.PublicationFlag, error) {
	if !id.IsAdministrative() {
		g.logger.WithFields(logger.Fields{
			"scope": unit.Key,
			"user":  id.Actor(),
			"role":  string(id.Role),
		}).Warn("Publication change refused")
		return nil, fmt.Errorf("%w: role %q may not change publication", contracts.ErrForbidden, id.Role)
	}

	flag := contracts.PublicationFlag{
		UnitKey:   unit.Key,
		Level:     unit.Level,
		State:     state,
		ChangedBy: id.Actor(),
		ChangedAt: g.now(),
	}
	if err := g.flags.SetFlag(ctx, flag); err != nil {
		return nil, fmt.Errorf("set publication flag: %w", err)
	}

	g.logger.WithFields(logger.Fields{
		"scope": unit.Key,
		"level": unit.Level.String(),
		"state": string(state),
		"user":  id.Actor(),
	}).Info("Publication flag changed")

	g.emit(ctx, Event{
		Type:  eventTypeFor(state),
		Unit:  unit.Ref(),
		State: state,
		Actor: flag.ChangedBy,
		At:    flag.ChangedAt,
	})

	return &flag, nil
}

// Flags lists every explicit flag ordered by key
func (g *Gate) Flags(ctx context.Context) ([]contracts.PublicationFlag, error) {
	flags, err := g.flags.ListFlags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list publication flags: %w", err)
	}
	return flags, nil
}

func (g *Gate) emit(ctx context.Context, ev Event) {
	g.mu.RLock()
	sinks := make([]Sink, len(g.sinks))
	copy(sinks, g.sinks)
	g.mu.RUnlock()

	for _, s := range sinks {
		s.Notify(ctx, ev)
	}
}
