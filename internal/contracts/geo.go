package contracts

import (
	"fmt"
	"strings"
)

// KeyDelimiter separates the segments of a composite geographic key
// ⭐ SSOT: 복합 키 구분자는 여기서만 정의
const KeyDelimiter = "-"

// RegionKeyPrefix marks region keys, which live outside the department chain
const RegionKeyPrefix = "region:"

// NationalKey is the composite key of the national unit
const NationalKey = ""

// Level is a tier of the administrative hierarchy
type Level int

const (
	LevelNational Level = iota
	LevelRegion
	LevelDepartment
	LevelSubPrefecture
	LevelCommune
	LevelVotingPlace
	LevelPollingStation
)

var levelNames = map[Level]string{
	LevelNational:       "national",
	LevelRegion:         "region",
	LevelDepartment:     "department",
	LevelSubPrefecture:  "sub_prefecture",
	LevelCommune:        "commune",
	LevelVotingPlace:    "voting_place",
	LevelPollingStation: "polling_station",
}

// String returns the wire name of the level
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// MarshalText implements encoding.TextMarshaler
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a wire name into a Level
func ParseLevel(s string) (Level, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for level, name := range levelNames {
		if name == normalized {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown level %q", ErrInvalidScope, s)
}

// GeoUnit is one node of the geographic catalog
type GeoUnit struct {
	Level     Level  `json:"level"`
	Code      string `json:"code"` // local code, unique only within the parent
	Key       string `json:"key"`  // composite key, globally unique
	Label     string `json:"label"`
	ParentKey string `json:"parent_key,omitempty"`
}

// Ref returns the lightweight reference used in responses
func (u *GeoUnit) Ref() UnitRef {
	return UnitRef{Level: u.Level, Key: u.Key, Label: u.Label}
}

// UnitRef identifies a unit in API responses
type UnitRef struct {
	Level Level  `json:"level"`
	Key   string `json:"key"`
	Label string `json:"label"`
}

// JoinKey builds a composite key from local codes ordered root to leaf
func JoinKey(codes ...string) string {
	return strings.Join(codes, KeyDelimiter)
}

// RegionKey builds the composite key of a region
func RegionKey(code string) string {
	return RegionKeyPrefix + code
}

// Scope is a parsed scope key
type Scope struct {
	Level    Level
	Segments []string // local codes, department first (empty for national/region)
	Region   string   // region code when Level == LevelRegion
}

// Key returns the canonical composite key of the scope
func (s Scope) Key() string {
	switch s.Level {
	case LevelNational:
		return NationalKey
	case LevelRegion:
		return RegionKey(s.Region)
	default:
		return JoinKey(s.Segments...)
	}
}

// ParseScope parses a scope key string.
//
// Accepted forms:
//
//	""                          national
//	"national"                  national
//	"region:<r>"                region
//	"<d>"                       department
//	"<d>-<s>"                   sub-prefecture
//	"<d>-<s>-<c>"               commune
//	"<d>-<s>-<c>-<v>"           voting place
//
// Polling stations are catalog labels only and are not aggregation scopes.
func ParseScope(raw string) (Scope, error) {
	key := strings.TrimSpace(raw)

	if key == NationalKey || strings.EqualFold(key, "national") {
		return Scope{Level: LevelNational}, nil
	}

	if strings.HasPrefix(key, RegionKeyPrefix) {
		code := strings.TrimPrefix(key, RegionKeyPrefix)
		if code == "" || strings.Contains(code, KeyDelimiter) {
			return Scope{}, fmt.Errorf("%w: malformed region key %q", ErrInvalidScope, raw)
		}
		return Scope{Level: LevelRegion, Region: code}, nil
	}

	segments := strings.Split(key, KeyDelimiter)
	if len(segments) > 4 {
		return Scope{}, fmt.Errorf("%w: %q has %d segments, at most 4 allowed", ErrInvalidScope, raw, len(segments))
	}
	for i, seg := range segments {
		if seg == "" {
			return Scope{}, fmt.Errorf("%w: empty segment %d in %q", ErrInvalidScope, i, raw)
		}
	}

	return Scope{
		Level:    LevelDepartment + Level(len(segments)-1),
		Segments: segments,
	}, nil
}
