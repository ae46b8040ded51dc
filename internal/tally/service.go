package tally

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/ledger"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/visibility"
	"github.com/wonny/tally/pkg/logger"
	"github.com/wonny/tally/pkg/redis"
)

// ResponseStatus tells the caller whether a result is attached
type ResponseStatus string

const (
	StatusOK                 ResponseStatus = "ok"
	StatusPendingPublication ResponseStatus = "pending_publication"
)

// Query is one results request
type Query struct {
	ScopeKey string
	Identity contracts.Identity
	Audience publication.Audience
}

// Response is what the engine returns for a results request.
// Result is nil when the publication gate is closed.
type Response struct {
	Status      ResponseStatus               `json:"status"`
	Scope       contracts.UnitRef            `json:"scope"`
	Result      *contracts.AggregateResult   `json:"result,omitempty"`
	Publication *contracts.PublicationStatus `json:"publication,omitempty"`
	Gate        *publication.Decision        `json:"gate,omitempty"`
}

// Deps bundles the collaborators of the service
type Deps struct {
	Catalog  *catalog.Holder
	Ledger   contracts.LedgerRepository
	Importer *ledger.Importer
	Scoper   *visibility.Scoper
	Gate     *publication.Gate
	Cache    *redis.Cache // optional
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// Service is the engine facade used by the API and the CLI
// ⭐ SSOT: 결과 조회 흐름(resolve → narrow → gate → aggregate)은 여기서만
type Service struct {
	catalog    *catalog.Holder
	store      contracts.LedgerRepository
	importer   *ledger.Importer
	aggregator *Aggregator
	scoper     *visibility.Scoper
	gate       *publication.Gate
	cache      *redis.Cache
	cacheTTL   time.Duration
	logger     *logger.Logger
}

// NewService wires the engine
func NewService(d Deps) *Service {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = redis.TTLResults
	}
	return &Service{
		catalog:    d.Catalog,
		store:      d.Ledger,
		importer:   d.Importer,
		aggregator: NewAggregator(d.Ledger, d.Logger),
		scoper:     d.Scoper,
		gate:       d.Gate,
		cache:      d.Cache,
		cacheTTL:   ttl,
		logger:     d.Logger.Component("tally.service"),
	}
}

// Catalog returns the catalog in effect
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog.Current()
}

// Gate returns the publication gate
func (s *Service) Gate() *publication.Gate {
	return s.gate
}

// =============================================================================
// Results
// =============================================================================

// Results aggregates the unit named by a full composite scope key
func (s *Service) Results(ctx context.Context, q Query) (*Response, error) {
	cat := s.catalog.Current()
	res := cat.Resolve(q.ScopeKey)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return s.resultsFor(ctx, cat, res.Unit, q)
}

// ResultsByLocal aggregates the unit matching a bare local code at level.
// More than one match is an *AmbiguousError listing every match.
func (s *Service) ResultsByLocal(ctx context.Context, level contracts.Level, code string, q Query) (*Response, error) {
	cat := s.catalog.Current()
	res := cat.ResolveLocal(level, code)
	if err := res.Err(); err != nil {
		s.logger.WithFields(logger.Fields{
			"level": level.String(),
			"code":  code,
			"kind":  int(res.Kind),
		}).Debug("Local code did not resolve to one unit")
		return nil, err
	}
	return s.resultsFor(ctx, cat, res.Unit, q)
}

func (s *Service) resultsFor(ctx context.Context, cat *catalog.Catalog, unit *contracts.GeoUnit, q Query) (*Response, error) {
	if unit.Level == contracts.LevelPollingStation {
		return nil, fmt.Errorf("%w: polling stations are not aggregation scopes", contracts.ErrInvalidScope)
	}

	allowed, err := s.scoper.Narrow(cat, unit, q.Identity)
	if err != nil {
		return nil, err
	}

	audience := q.Audience
	if audience == "" {
		audience = publication.AudienceExternal
	}

	decision, err := s.gate.Check(ctx, cat, unit, q.Identity, audience)
	if err != nil {
		return nil, err
	}

	resp := &Response{Scope: unit.Ref()}
	if decision.WouldBlock {
		resp.Gate = decision
	}
	// 공표 취소된 하위 단위는 상위 합계에서도 제외
	if len(decision.Withheld) > 0 {
		allowed = allowed.Without(decision.Withheld)
		resp.Gate = decision
	}
	if !decision.Allowed {
		status := decision.Status
		resp.Status = StatusPendingPublication
		resp.Publication = &status
		return resp, nil
	}

	result, err := s.aggregate(ctx, cat, allowed)
	if err != nil {
		return nil, err
	}

	resp.Status = StatusOK
	resp.Result = result
	return resp, nil
}

// aggregate serves from the result cache when the store revision matches
func (s *Service) aggregate(ctx context.Context, cat *catalog.Catalog, allowed visibility.AllowedScope) (*contracts.AggregateResult, error) {
	if s.cache == nil {
		return s.aggregator.Aggregate(ctx, cat, allowed)
	}

	revision, err := s.store.Revision(ctx)
	if err != nil {
		return nil, fmt.Errorf("read revision: %w", err)
	}
	key := redis.ResultKey(allowed.Unit.Key, cellsDigest(cat, allowed), revision)

	var cached contracts.AggregateResult
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Result cache read failed")
	}
	if hit {
		return &cached, nil
	}

	result, err := s.aggregator.Aggregate(ctx, cat, allowed)
	if err != nil {
		return nil, err
	}

	// 다른 쓰기가 끼어들었으면 캐시하지 않음
	if result.Revision == revision {
		if err := s.cache.Set(ctx, key, result, s.cacheTTL); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Result cache write failed")
		}
	}
	return result, nil
}

// cellsDigest identifies the catalog, the summed cells and the withheld ones
func cellsDigest(cat *catalog.Catalog, allowed visibility.AllowedScope) string {
	h := sha256.New()
	h.Write([]byte(cat.Hash()))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(allowed.Cells, ",")))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(allowed.Withheld, ",")))
	if allowed.Narrowed {
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// =============================================================================
// Publication
// =============================================================================

// IsPublished returns the publication status of a scope
func (s *Service) IsPublished(ctx context.Context, scopeKey string) (contracts.PublicationStatus, error) {
	cat := s.catalog.Current()
	unit, err := resolve(cat, scopeKey)
	if err != nil {
		return contracts.PublicationStatus{}, err
	}
	return s.gate.Status(ctx, cat, unit)
}

// Publish marks a scope published
func (s *Service) Publish(ctx context.Context, scopeKey string, id contracts.Identity) (*contracts.PublicationFlag, error) {
	unit, err := resolve(s.catalog.Current(), scopeKey)
	if err != nil {
		return nil, err
	}
	return s.gate.Publish(ctx, unit, id)
}

// Unpublish marks a scope not published
func (s *Service) Unpublish(ctx context.Context, scopeKey string, id contracts.Identity) (*contracts.PublicationFlag, error) {
	unit, err := resolve(s.catalog.Current(), scopeKey)
	if err != nil {
		return nil, err
	}
	return s.gate.Unpublish(ctx, unit, id)
}

// PublicationFlags lists every explicit flag
func (s *Service) PublicationFlags(ctx context.Context) ([]contracts.PublicationFlag, error) {
	return s.gate.Flags(ctx)
}

// =============================================================================
// Cells
// =============================================================================

// Import hands a validated batch to the ledger
func (s *Service) Import(ctx context.Context, batch contracts.ImportBatch, id contracts.Identity) (*contracts.ImportReceipt, error) {
	if err := s.authorizeCell(s.catalog.Current(), batch.CellCode, id); err != nil {
		return nil, err
	}
	if batch.Actor == "" {
		batch.Actor = id.Actor()
	}
	return s.importer.Import(ctx, batch)
}

// Release publishes every imported cell the caller may see under scope
func (s *Service) Release(ctx context.Context, scopeKey string, id contracts.Identity) (*contracts.TransitionReport, error) {
	if !id.IsAdministrative() {
		return nil, fmt.Errorf("%w: role %q may not release cells", contracts.ErrForbidden, id.Role)
	}

	cat := s.catalog.Current()
	unit, err := resolve(cat, scopeKey)
	if err != nil {
		return nil, err
	}
	allowed, err := s.scoper.Narrow(cat, unit, id)
	if err != nil {
		return nil, err
	}
	return s.importer.Release(ctx, allowed.Cells, id.Actor())
}

// Withdraw returns a published cell to Imported
func (s *Service) Withdraw(ctx context.Context, code string, id contracts.Identity) (*contracts.TransitionReport, error) {
	if !id.IsAdministrative() {
		return nil, fmt.Errorf("%w: role %q may not withdraw cells", contracts.ErrForbidden, id.Role)
	}
	if err := s.authorizeCell(s.catalog.Current(), code, id); err != nil {
		return nil, err
	}
	return s.importer.Withdraw(ctx, code, id.Actor())
}

// CellView is the ledger state and history of one cell
type CellView struct {
	Cell    *contracts.Cell         `json:"cell"`
	Ledger  contracts.CellLedger    `json:"ledger"`
	History []contracts.ImportEvent `json:"history"`
}

// Cell returns the ledger view of one cell
func (s *Service) Cell(ctx context.Context, code string, id contracts.Identity) (*CellView, error) {
	cat := s.catalog.Current()
	if err := s.authorizeCell(cat, code, id); err != nil {
		return nil, err
	}
	cell, _ := cat.Cell(code)

	snap, err := s.store.Snapshot(ctx, []string{code})
	if err != nil {
		return nil, fmt.Errorf("read ledger snapshot: %w", err)
	}
	history, err := s.importer.History(ctx, code, 20)
	if err != nil {
		return nil, err
	}

	return &CellView{Cell: cell, Ledger: snap.Cell(code), History: history}, nil
}

// authorizeCell checks that id may act on a single cell
func (s *Service) authorizeCell(cat *catalog.Catalog, code string, id contracts.Identity) error {
	if _, ok := cat.Cell(code); !ok {
		return fmt.Errorf("%w: cell %s", contracts.ErrNotFound, code)
	}
	if id.Role == contracts.RolePublic {
		return fmt.Errorf("%w: public readers have no cell access", contracts.ErrForbidden)
	}

	assigned := s.scoper.AssignedCells(cat, id)
	if assigned == nil {
		return nil
	}
	if i := sort.SearchStrings(assigned, code); i < len(assigned) && assigned[i] == code {
		return nil
	}
	return fmt.Errorf("%w: cell %s is outside the assignments of %s", contracts.ErrForbidden, code, id.Actor())
}

// =============================================================================
// Catalog browsing
// =============================================================================

// UnitView is a catalog unit with the neighbours the caller may see
type UnitView struct {
	Unit      *contracts.GeoUnit   `json:"unit"`
	Ancestors []*contracts.GeoUnit `json:"ancestors"`
	Children  []*contracts.GeoUnit `json:"children"`
	Cells     []string             `json:"cells"`
}

// Unit returns a browsable view of a catalog unit
func (s *Service) Unit(scopeKey string, id contracts.Identity) (*UnitView, error) {
	cat := s.catalog.Current()
	unit, ok := cat.Unit(strings.TrimSpace(scopeKey))
	if !ok {
		return nil, fmt.Errorf("%w: unit %q", contracts.ErrNotFound, scopeKey)
	}
	if !s.scoper.CanSee(cat, unit, id) {
		return nil, fmt.Errorf("%w: unit %q", contracts.ErrForbidden, scopeKey)
	}

	view := &UnitView{Unit: unit, Ancestors: cat.Ancestors(unit.Key), Children: []*contracts.GeoUnit{}, Cells: []string{}}
	for _, child := range cat.Children(unit.Key) {
		if s.scoper.CanSee(cat, child, id) {
			view.Children = append(view.Children, child)
		}
	}
	if allowed, err := s.scoper.Narrow(cat, unit, id); err == nil {
		view.Cells = allowed.Cells
	}
	return view, nil
}

// Resolve resolves a local code, optionally qualified by an ancestor key
func (s *Service) Resolve(ancestorKey string, level contracts.Level, code string) contracts.Resolution {
	return s.catalog.Current().ResolveWithin(ancestorKey, level, code)
}

func resolve(cat *catalog.Catalog, scopeKey string) (*contracts.GeoUnit, error) {
	res := cat.Resolve(scopeKey)
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res.Unit, nil
}
