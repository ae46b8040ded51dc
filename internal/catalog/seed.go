package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wonny/tally/internal/contracts"
)

// Seed is the reference data the catalog is built from.
// It is produced by the catalog loader (YAML file or Postgres) and never by
// the aggregation path.
type Seed struct {
	Election   string                `yaml:"election" json:"election"`
	Regions    []RegionSeed          `yaml:"regions" json:"regions"`
	Cells      []CellSeed            `yaml:"cells" json:"cells"`
	Candidates []contracts.Candidate `yaml:"candidates" json:"candidates"`
}

// RegionSeed is a region and its departments
type RegionSeed struct {
	Code        string           `yaml:"code" json:"code"`
	Label       string           `yaml:"label" json:"label"`
	Departments []DepartmentSeed `yaml:"departments" json:"departments"`
}

// DepartmentSeed is a department and its sub-prefectures
type DepartmentSeed struct {
	Code           string              `yaml:"code" json:"code"`
	Label          string              `yaml:"label" json:"label"`
	SubPrefectures []SubPrefectureSeed `yaml:"sub_prefectures" json:"sub_prefectures"`
}

// SubPrefectureSeed is a sub-prefecture and its communes
type SubPrefectureSeed struct {
	Code     string        `yaml:"code" json:"code"`
	Label    string        `yaml:"label" json:"label"`
	Communes []CommuneSeed `yaml:"communes" json:"communes"`
}

// CommuneSeed is a commune and its voting places
type CommuneSeed struct {
	Code         string            `yaml:"code" json:"code"`
	Label        string            `yaml:"label" json:"label"`
	VotingPlaces []VotingPlaceSeed `yaml:"voting_places" json:"voting_places"`
}

// VotingPlaceSeed is a voting place with its polling station count
type VotingPlaceSeed struct {
	Code     string `yaml:"code" json:"code"`
	Label    string `yaml:"label" json:"label"`
	Stations int    `yaml:"stations" json:"stations"`
}

// CellSeed links a cell to its full geographic path.
// VotingPlaces holds local voting place codes within the commune.
type CellSeed struct {
	Code          string   `yaml:"code" json:"code"`
	Label         string   `yaml:"label" json:"label"`
	StationCount  int      `yaml:"station_count" json:"station_count"`
	Department    string   `yaml:"department" json:"department"`
	SubPrefecture string   `yaml:"sub_prefecture" json:"sub_prefecture"`
	Commune       string   `yaml:"commune" json:"commune"`
	VotingPlaces  []string `yaml:"voting_places" json:"voting_places"`
}

// Path returns the full geographic path of the cell
func (c CellSeed) Path() contracts.CellPath {
	return contracts.CellPath{
		Department:    c.Department,
		SubPrefecture: c.SubPrefecture,
		Commune:       c.Commune,
	}
}

// LoadSeedFile reads a YAML seed file
// KnownFields(true): 알 수 없는 필드는 즉시 실패
func LoadSeedFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	return ParseSeed(data)
}

// ParseSeed decodes YAML seed bytes
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	return &seed, nil
}

// Hash returns the SHA256 of the canonical JSON form of the seed.
// Used to skip catalog rebuilds when reference data did not change.
func Hash(seed *Seed) (string, error) {
	jsonBytes, err := json.Marshal(seed)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(sum[:]), nil
}
