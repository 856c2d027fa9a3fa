package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Defaults()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if cfg.Dedup.Threshold != 0.8 || cfg.Retention.Min != 50 || cfg.Retention.Max != 200 {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Dedup, cfg.Retention)
	}
	if cfg.Retention.Window.Std() != 6*7*24*time.Hour {
		t.Fatalf("window = %s", cfg.Retention.Window.Std())
	}
	if cfg.Store.BatchSize != 1000 || cfg.Store.Backend != BackendMongo {
		t.Fatalf("store %+v", cfg.Store)
	}
	if cfg.Organize.Fallback.ExamID != "general" || len(cfg.Organize.Rules) != 1 {
		t.Fatalf("organize %+v", cfg.Organize)
	}
	if got := cfg.Sources.Enabled("questions"); len(got) != 1 || got[0].Name != "scraped-questions" {
		t.Fatalf("enabled question sources %+v", got)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.Affairs != "data/currentAffairs.json" {
		t.Fatal(cfg.Paths.Affairs)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	body := `
paths:
  affairs: /srv/corpus/affairs.json
retention:
  window: 14d
sources:
  list:
    - name: only
      type: file
      kind: records
      enabled: true
      path: in.json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.Affairs != "/srv/corpus/affairs.json" || cfg.Paths.Exams != "data/exams.json" {
		t.Fatalf("paths %+v", cfg.Paths)
	}
	if cfg.Retention.Window.Std() != 14*24*time.Hour || cfg.Retention.Min != 50 {
		t.Fatalf("retention %+v", cfg.Retention)
	}
	if len(cfg.Sources.List) != 1 || cfg.Sources.Workers != 4 {
		t.Fatalf("sources %+v", cfg.Sources)
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.yaml")
	os.WriteFile(path, []byte("retention:\n  window: soon\n"), 0o644)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "soon") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	cfg, _ := Defaults()
	env := map[string]string{
		"CORPUS_AFFAIRS_PATH":    "/tmp/a.json",
		"NEO4J_URL":              "neo4j://graph:7687",
		"CORPUS_STORE":           "neo4j",
		"METRICS_PORT":           "9464",
		"CORPUS_DEDUP_THRESHOLD": "0.9",
		"MONGO_URI":              "",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatal(err)
	}
	if cfg.Paths.Affairs != "/tmp/a.json" || cfg.Store.Neo4j.URL != "neo4j://graph:7687" || cfg.Store.Backend != BackendNeo4j {
		t.Fatalf("env not applied %+v", cfg)
	}
	if cfg.Metrics.Port != 9464 || cfg.Dedup.Threshold != 0.9 {
		t.Fatalf("numeric env %+v %+v", cfg.Metrics, cfg.Dedup)
	}
	if cfg.Store.Mongo.URI != "mongodb://localhost:27017" {
		t.Fatal("empty env value must not clear the setting")
	}

	env["METRICS_PORT"] = "ninety"
	if err := cfg.applyEnv(lookup); err == nil {
		t.Fatal("expected port parse error")
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg, _ := Defaults()
	cfg.Dedup.Threshold = 1.5
	cfg.Retention.Min = 300
	cfg.Store.Backend = "postgres"
	cfg.Sources.List = append(cfg.Sources.List,
		Source{Name: "pib", Type: SourceRSS, Kind: "records"},
		Source{Name: "x", Type: "ftp", Kind: "videos"},
	)
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"threshold", "min (300)", "postgres", `duplicate name "pib"`, "needs urls", `unknown type "ftp"`, `kind "videos"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"6w":  6 * 7 * 24 * time.Hour,
		"3d":  72 * time.Hour,
		"90m": 90 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Errorf("%s: got %s err %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "xd", "w", "later"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}
