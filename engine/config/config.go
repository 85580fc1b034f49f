// Package config loads the dealer configuration: technology groups with
// their dealers, run filters, orchestrator tuning, extra site profiles and
// sink endpoints.
//
// Files are JSON5. Next to dealers.json5 an optional dealers.local.json5 is
// merged on top, so credentials and local tweaks stay out of version
// control. Non-zero values in the local file win; slices such as groups are
// replaced whole.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"

	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/profile"
)

// Duration reads "90s"-style strings or plain milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json5.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var ms int64
	if err := json5.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("config: duration must be a string or milliseconds: %s", b)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Options tune the orchestrator. Zero values take the defaults.
type Options struct {
	Concurrency      int      `json:"concurrency"`
	DealerDelay      Duration `json:"dealerDelay"`
	GroupDelay       Duration `json:"groupDelay"`
	DealerTimeout    Duration `json:"dealerTimeout"`
	BreakerThreshold int      `json:"breakerThreshold"`
	// Classify fingerprints dealers that have no verified profile.
	Classify bool `json:"classify"`
	// Headless is false only for debugging against a visible browser.
	Headless *bool `json:"headless,omitempty"`
}

type NATS struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
}

type Neo4j struct {
	URI      string `json:"uri"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

type Qdrant struct {
	Addr       string `json:"addr"`
	Collection string `json:"collection"`
}

// Output names where runs go. Empty endpoints disable that sink.
type Output struct {
	ArtifactDir string `json:"artifactDir"`
	NATS        NATS   `json:"nats"`
	Neo4j       Neo4j  `json:"neo4j"`
	Qdrant      Qdrant `json:"qdrant"`
}

// File is the whole configuration.
type File struct {
	Groups   []domain.GroupConfig `json:"groups"`
	Filters  domain.FilterConfig  `json:"filters"`
	Options  Options              `json:"options"`
	Profiles []domain.SiteProfile `json:"profiles"`
	Output   Output               `json:"output"`
	// Schedule is the cron spec used by `serve` when no flag is given.
	Schedule string `json:"schedule"`
}

// Default is the configuration used when no file exists.
func Default() File {
	return File{Output: Output{ArtifactDir: "runs", Qdrant: Qdrant{Collection: "listings"}}}
}

func splitExt(f string) (string, string) {
	for i := len(f) - 1; i >= 0; i-- {
		if f[i] == '.' {
			return f[0:i], f[i+1:]
		}
	}
	return f, ""
}

// LocalPath is the override file read next to name: dealers.json5 becomes
// dealers.local.json5.
func LocalPath(name string) string {
	prefix, ext := splitExt(filepath.Base(name))
	if ext == "" {
		return filepath.Join(filepath.Dir(name), prefix+".local")
	}
	return filepath.Join(filepath.Dir(name), fmt.Sprintf("%s.local.%s", prefix, ext))
}

// Load reads name and its local override over Default. It returns
// os.ErrNotExist when neither file exists.
func Load(name string, log *slog.Logger) (File, error) {
	if log == nil {
		log = slog.Default()
	}
	out := Default()
	found := false

	base, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, fmt.Errorf("config: %w", err)
	}
	if len(base) > 0 {
		var f File
		if err := json5.Unmarshal(base, &f); err != nil {
			return out, fmt.Errorf("config: %s: %w", name, err)
		}
		if err := mergo.Merge(&out, f, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("config: %w", err)
		}
		found = true
	}

	local := LocalPath(name)
	override, err := os.ReadFile(local)
	if err != nil && !os.IsNotExist(err) {
		return out, fmt.Errorf("config: %w", err)
	}
	if len(override) > 0 {
		var f File
		if err := json5.Unmarshal(override, &f); err != nil {
			return out, fmt.Errorf("config: %s: %w", local, err)
		}
		if err := mergo.Merge(&out, f, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("config: %w", err)
		}
		log.Info("merging config with local overrides", "local", local)
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// RunOptions converts Options and Filters for the orchestrator.
func (f File) RunOptions() domain.RunOptions {
	return domain.RunOptions{
		Concurrency:      f.Options.Concurrency,
		DealerDelay:      time.Duration(f.Options.DealerDelay),
		GroupDelay:       time.Duration(f.Options.GroupDelay),
		DealerTimeout:    time.Duration(f.Options.DealerTimeout),
		BreakerThreshold: f.Options.BreakerThreshold,
		Filters:          f.Filters,
	}
}

// Registry builds the profile registry: built-ins overlaid with Profiles.
func (f File) Registry() *profile.Registry {
	return profile.NewRegistry(f.Profiles...)
}

// Only returns the configured groups restricted to names, keeping
// configured order. No names returns every group.
func (f File) Only(names ...string) []domain.GroupConfig {
	if len(names) == 0 {
		return f.Groups
	}
	var out []domain.GroupConfig
	for _, g := range f.Groups {
		if slices.Contains(names, string(g.Group)) {
			out = append(out, g)
		}
	}
	return out
}

// Problems lists configuration mistakes worth a warning. None of them stop
// a run: unknown groups become group errors and bad dealers dealer errors.
func (f File) Problems() []string {
	var out []string
	seenGroup := map[domain.TechGroup]bool{}
	for _, g := range f.Groups {
		if !g.Group.Valid() {
			out = append(out, fmt.Sprintf("unknown group %q", g.Group))
		}
		if seenGroup[g.Group] {
			out = append(out, fmt.Sprintf("group %q configured twice", g.Group))
		}
		seenGroup[g.Group] = true
		seen := map[string]bool{}
		for _, d := range g.Dealers {
			if err := d.Validate(); err != nil {
				out = append(out, fmt.Sprintf("%s: %v", g.Group, err))
			}
			if k := strings.ToLower(d.Key()); seen[k] {
				out = append(out, fmt.Sprintf("%s: dealer %q listed twice", g.Group, d.Key()))
			} else {
				seen[k] = true
			}
		}
	}
	for _, p := range f.Profiles {
		if p.Domain == "" {
			out = append(out, "profile without domain")
		} else if !p.Group.Valid() {
			out = append(out, fmt.Sprintf("profile %s: unknown group %q", p.Domain, p.Group))
		}
	}
	return out
}
