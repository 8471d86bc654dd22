// Package source provides source adapters for the ingestion pipeline.
//
// A source adapter turns one configured external source (an HTTP API or a
// delimited file) into a finite sequence of opaque raw items plus a resumable
// cursor. Adapters know nothing about normalization or storage; they only
// fetch and classify failures as transport-level (retryable by the caller) or
// per-record (skipped and counted).
package source

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Kind identifies the transport of a configured source.
type Kind string

const (
	// KindAPI fetches records from an HTTP endpoint returning JSON.
	KindAPI Kind = "api"

	// KindFile reads records from a local CSV file with a header row.
	KindFile Kind = "file"
)

// Sentinel errors for source configuration.
var (
	// ErrUnknownKind is returned for a source kind that is neither "api" nor "file".
	ErrUnknownKind = errors.New("unknown source kind")

	// ErrSourceNameEmpty is returned when a source has no name.
	ErrSourceNameEmpty = errors.New("source name cannot be empty")

	// ErrLocationEmpty is returned when a source has no endpoint URL or file path.
	ErrLocationEmpty = errors.New("source location cannot be empty")
)

// IsValid reports whether the Kind is a supported source kind.
func (k Kind) IsValid() bool {
	return k == KindAPI || k == KindFile
}

// String returns the string representation of the Kind.
func (k Kind) String() string {
	return string(k)
}

// Config describes one declarative source entry.
//
// The ingestion core treats this purely as input: beyond "is this a known
// kind" no validation of the remote side happens until a run fetches it.
type Config struct {
	// Name is the logical source name used as provenance on every record
	// ("jsonplaceholder", "github_trends", "sample_csv").
	Name string `yaml:"name"`

	// Kind selects the adapter: "api" or "file".
	Kind Kind `yaml:"kind"`

	// Location is the HTTP endpoint URL for api sources or the file path
	// for file sources.
	Location string `yaml:"location"`

	// Headers are additional HTTP headers sent with every api request.
	// Ignored for file sources.
	Headers map[string]string `yaml:"headers,omitempty"`

	// AuthToken, when set, is sent as "Authorization: Bearer <token>".
	AuthToken string `yaml:"auth_token,omitempty"`

	// Enabled excludes the source from scheduled runs when false.
	Enabled bool `yaml:"enabled"`
}

// Validate checks the structural validity of a source entry.
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrSourceNameEmpty
	}

	if !c.Kind.IsValid() {
		return fmt.Errorf("%w: %q (source %s)", ErrUnknownKind, c.Kind, c.Name)
	}

	if c.Location == "" {
		return fmt.Errorf("%w: source %s", ErrLocationEmpty, c.Name)
	}

	return nil
}

// sourcesFile is the on-disk shape of the declarative source list.
type sourcesFile struct {
	Sources []Config `yaml:"sources"`
}

// LoadSources reads a YAML source list from path.
//
// Every entry is validated; a single malformed entry fails the whole load so
// that a typo in the config never silently drops a source from ingestion.
func LoadSources(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file: %w", err)
	}

	for i := range file.Sources {
		if err := file.Sources[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid source entry %d: %w", i, err)
		}
	}

	return file.Sources, nil
}

// EnabledSources filters a source list down to the enabled entries.
func EnabledSources(sources []Config) []Config {
	enabled := make([]Config, 0, len(sources))

	for _, s := range sources {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}

	return enabled
}
