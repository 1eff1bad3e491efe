package bench

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v2"
)

// DefaultSkewness is used for distributions that do not override it.
const DefaultSkewness = "1"

// Default window query parameters used by the generated query files.
const (
	DefaultSelectivity = 0.0001
	DefaultAspect      = 1.0
)

// Profile overrides the dataset parameters of a named distribution.
// A zero Cardinality or empty Skewness keeps the configured value.
type Profile struct {
	Cardinality uint64 `yaml:"cardinality"`
	Skewness    string `yaml:"skewness"`
}

// Profiles maps distribution names to their overrides.
type Profiles map[string]Profile

// DefaultProfiles returns the reserved distribution names and their fixed parameters.
func DefaultProfiles() Profiles {
	return Profiles{
		"skewed": {Skewness: "4"},
		"japan":  {Cardinality: 2030818},
		"china":  {Cardinality: 2677695},
		"usa":    {Cardinality: 17383488},
	}
}

// Resolve returns the effective parameters for the named distribution.
func (p Profiles) Resolve(name string, cardinality uint64) Profile {
	resolved := Profile{Cardinality: cardinality, Skewness: DefaultSkewness}
	if override, ok := p[name]; ok {
		if override.Cardinality != 0 {
			resolved.Cardinality = override.Cardinality
		}
		if override.Skewness != "" {
			resolved.Skewness = override.Skewness
		}
	}
	return resolved
}

// Merge returns a copy of p with the entries of other added or replaced.
func (p Profiles) Merge(other Profiles) Profiles {
	merged := make(Profiles, len(p)+len(other))
	for name, profile := range p {
		merged[name] = profile
	}
	for name, profile := range other {
		merged[name] = profile
	}
	return merged
}

// ParseProfiles decodes a YAML document of the form
//
//	usa:
//	  cardinality: 17383488
//	skewed:
//	  skewness: "4"
func ParseProfiles(data []byte) (Profiles, error) {
	var profiles Profiles
	if err := yaml.UnmarshalStrict(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse profiles: %w", err)
	}
	return profiles, nil
}

// LoadProfiles reads a YAML profile file and merges it over DefaultProfiles.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles %s: %w", path, err)
	}
	profiles, err := ParseProfiles(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug().Msgf("Loaded %d distribution profiles from %s", len(profiles), path)
	return DefaultProfiles().Merge(profiles), nil
}

// Files holds the input paths of one benchmark run.
type Files struct {
	Dataset string
	Windows string
	Knn     string
}

// FileSet builds the conventional dataset and query paths under root:
//
//	<root>/<dist>_<card>_<skew>_<dims>_.csv
//	<root>/query/window/<dist>_<card>_<skew>_<selectivity>_<aspect>.csv
//	<root>/query/knn/<dist>_<card>_<skew>.csv
func FileSet(root, distribution string, p Profile, dims int, selectivity, aspect float64) Files {
	card := strconv.FormatUint(p.Cardinality, 10)
	stem := distribution + "_" + card + "_" + p.Skewness
	return Files{
		Dataset: filepath.Join(root, fmt.Sprintf("%s_%d_.csv", stem, dims)),
		Windows: filepath.Join(root, "query", "window", fmt.Sprintf("%s_%f_%f.csv", stem, selectivity, aspect)),
		Knn:     filepath.Join(root, "query", "knn", stem+".csv"),
	}
}
