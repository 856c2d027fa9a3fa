// Package config loads corpusctl settings: embedded defaults, then an
// optional YAML file, then environment overrides. Flags are applied by the
// caller on top.
package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/examfit/corpus/engine/merge"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// Duration accepts Go durations plus "Nd" days and "Nw" weeks.
type Duration time.Duration

// ParseDuration parses s in any of the accepted forms.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n := len(s); n > 1 && (s[n-1] == 'd' || s[n-1] == 'w') {
		v, err := strconv.Atoi(s[:n-1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit := 24 * time.Hour
		if s[n-1] == 'w' {
			unit *= 7
		}
		return time.Duration(v) * unit, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Paths struct {
	Affairs string `yaml:"affairs"`
	Exams   string `yaml:"exams"`
}

type Dedup struct {
	Threshold float64 `yaml:"threshold"`
}

type Retention struct {
	Min    int      `yaml:"min"`
	Max    int      `yaml:"max"`
	Window Duration `yaml:"window"`
}

// Source types.
const (
	SourceRSS  = "rss"
	SourceFile = "file"
	SourceNATS = "nats"
)

type Source struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Kind    string   `yaml:"kind"`
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls,omitempty"`
	Path    string   `yaml:"path,omitempty"`
	Subject string   `yaml:"subject,omitempty"`
}

type Sources struct {
	Workers    int      `yaml:"workers"`
	RequireAll bool     `yaml:"require_all"`
	Timeout    Duration `yaml:"timeout"`
	List       []Source `yaml:"list"`
}

// Enabled returns the enabled sources of the given kind. An empty kind
// matches every source.
func (s Sources) Enabled(kind string) []Source {
	var out []Source
	for _, src := range s.List {
		if !src.Enabled {
			continue
		}
		if kind != "" && src.Kind != kind {
			continue
		}
		out = append(out, src)
	}
	return out
}

type Mongo struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type Neo4j struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Store backends.
const (
	BackendMongo = "mongo"
	BackendNeo4j = "neo4j"
)

type Store struct {
	Backend   string   `yaml:"backend"`
	Timeout   Duration `yaml:"timeout"`
	BatchSize int      `yaml:"batch_size"`
	Mongo     Mongo    `yaml:"mongo"`
	Neo4j     Neo4j    `yaml:"neo4j"`
}

type NATS struct {
	URL string `yaml:"url"`
}

type Metrics struct {
	Port int `yaml:"port"`
}

type RunLog struct {
	Path     string   `yaml:"path"`
	LeaseTTL Duration `yaml:"lease_ttl"`
}

type Config struct {
	Paths     Paths       `yaml:"paths"`
	Dedup     Dedup       `yaml:"dedup"`
	Retention Retention   `yaml:"retention"`
	Sources   Sources     `yaml:"sources"`
	Store     Store       `yaml:"store"`
	NATS      NATS        `yaml:"nats"`
	Metrics   Metrics     `yaml:"metrics"`
	RunLog    RunLog      `yaml:"runlog"`
	Organize  merge.Rules `yaml:"organize"`
}

// Defaults returns the embedded default configuration.
func Defaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("config: reading embedded defaults: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads path over the defaults and applies environment overrides. A
// missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parsing %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CORPUS_AFFAIRS_PATH", &c.Paths.Affairs)
	str("CORPUS_EXAMS_PATH", &c.Paths.Exams)
	str("CORPUS_STORE", &c.Store.Backend)
	str("MONGO_URI", &c.Store.Mongo.URI)
	str("MONGO_DB", &c.Store.Mongo.Database)
	str("NEO4J_URL", &c.Store.Neo4j.URL)
	str("NEO4J_USER", &c.Store.Neo4j.User)
	str("NEO4J_PASS", &c.Store.Neo4j.Password)
	str("NATS_URL", &c.NATS.URL)
	str("CORPUS_RUNLOG", &c.RunLog.Path)
	if v, ok := lookup("METRICS_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: METRICS_PORT: %w", err)
		}
		c.Metrics.Port = port
	}
	if v, ok := lookup("CORPUS_DEDUP_THRESHOLD"); ok && v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: CORPUS_DEDUP_THRESHOLD: %w", err)
		}
		c.Dedup.Threshold = th
	}
	return nil
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error
	if c.Paths.Affairs == "" || c.Paths.Exams == "" {
		errs = append(errs, errors.New("paths.affairs and paths.exams are required"))
	}
	if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 1 {
		errs = append(errs, fmt.Errorf("dedup.threshold %v outside (0, 1]", c.Dedup.Threshold))
	}
	if c.Retention.Min < 0 || c.Retention.Max < c.Retention.Min {
		errs = append(errs, fmt.Errorf("retention: need 0 <= min (%d) <= max (%d)", c.Retention.Min, c.Retention.Max))
	}
	if c.Retention.Window <= 0 {
		errs = append(errs, errors.New("retention.window must be positive"))
	}
	switch c.Store.Backend {
	case BackendMongo, BackendNeo4j:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want %s or %s", c.Store.Backend, BackendMongo, BackendNeo4j))
	}
	seen := map[string]bool{}
	for i, s := range c.Sources.List {
		where := fmt.Sprintf("sources.list[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s: name is required", where))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q", where, s.Name))
		}
		seen[s.Name] = true
		if s.Kind != "records" && s.Kind != "questions" {
			errs = append(errs, fmt.Errorf("%s: kind %q: want records or questions", where, s.Kind))
		}
		switch s.Type {
		case SourceRSS:
			if len(s.URLs) == 0 {
				errs = append(errs, fmt.Errorf("%s: rss source needs urls", where))
			}
			if s.Kind == "questions" {
				errs = append(errs, fmt.Errorf("%s: rss sources only yield records", where))
			}
		case SourceFile:
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("%s: file source needs a path", where))
			}
		case SourceNATS:
			if s.Subject == "" {
				errs = append(errs, fmt.Errorf("%s: nats source needs a subject", where))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown type %q", where, s.Type))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
