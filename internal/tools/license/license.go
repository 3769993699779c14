// Package license resolves the licenses of the third-party packages a source
// or build file depends on.
package license

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"devguard/internal/codeparse"
)

var (
	// ErrUnsupported is returned for files the checker cannot read dependencies from
	ErrUnsupported = errors.New("unsupported file type or structure")
	// ErrGradleNotImplemented is returned for .gradle build files
	ErrGradleNotImplemented = errors.New("gradle support is not yet implemented")
)

// Default endpoints
const (
	DefaultPyPIURL        = "https://pypi.org/pypi"
	DefaultMavenSearchURL = "https://search.maven.org/solrsearch/select"
	DefaultMavenRepoURL   = "https://repo1.maven.org/maven2"
)

// Entry is one dependency with its license
type Entry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	License string `json:"license"`
	Rating  string `json:"rating"`
}

// Checker looks up licenses. Lookups are cached for the checker's lifetime.
type Checker struct {
	HTTPClient     *http.Client
	PyPIURL        string
	MavenSearchURL string
	MavenRepoURL   string
	Concurrency    int

	mu    sync.Mutex
	cache map[string]Entry
}

// NewChecker creates a checker against the public registries
func NewChecker() *Checker {
	return &Checker{
		HTTPClient:     &http.Client{Timeout: 15 * time.Second},
		PyPIURL:        DefaultPyPIURL,
		MavenSearchURL: DefaultMavenSearchURL,
		MavenRepoURL:   DefaultMavenRepoURL,
		Concurrency:    4,
		cache:          make(map[string]Entry),
	}
}

// Check reads the dependencies of path and resolves their licenses. Results
// are deduplicated by name (first wins) and sorted by name.
func (c *Checker) Check(ctx context.Context, path string) ([]Entry, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}

	base := strings.ToLower(filepath.Base(path))
	var lookups []func(context.Context) Entry

	switch ext := filepath.Ext(base); {
	case ext == ".py":
		pkgs, err := PythonPackages(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, pkg := range pkgs {
			lookups = append(lookups, func(ctx context.Context) Entry { return c.pypi(ctx, pkg) })
		}
	case ext == ".java":
		imports, err := JavaImports(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, imp := range imports {
			group, artifact, ok := mavenCoordinates(imp)
			if !ok {
				lookups = append(lookups, unknownEntry(imp, "?"))
				continue
			}
			lookups = append(lookups, func(ctx context.Context) Entry { return c.maven(ctx, group, artifact, "") })
		}
	case ext == ".xml" && strings.Contains(base, "pom"):
		deps, err := ParsePOM(path)
		if err != nil {
			return nil, err
		}
		for _, d := range deps {
			lookups = append(lookups, func(ctx context.Context) Entry { return c.maven(ctx, d.GroupID, d.ArtifactID, d.Version) })
		}
	case ext == ".txt" && strings.Contains(base, "requirements"):
		reqs, err := ParseRequirements(path)
		if err != nil {
			return nil, err
		}
		for _, r := range reqs {
			lookups = append(lookups, func(ctx context.Context) Entry {
				e := c.pypi(ctx, r.Name)
				if r.Version != "" {
					e.Version = r.Version
				}
				return e
			})
		}
	case ext == ".gradle":
		return nil, ErrGradleNotImplemented
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}

	entries := make([]Entry, len(lookups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for i, lookup := range lookups {
		g.Go(func() error {
			entries[i] = lookup(gctx)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dedupe(entries), nil
}

func unknownEntry(name, version string) func(context.Context) Entry {
	return func(context.Context) Entry {
		return Entry{Name: name, Version: version, License: "Unknown", Rating: RateLicense("Unknown")}
	}
}

func dedupe(entries []Entry) []Entry {
	seen := make(map[string]bool)
	var out []Entry
	for _, e := range entries {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PythonPackages returns the distribution names imported by a python file,
// skipping relative and standard library imports
func PythonPackages(ctx context.Context, path string) ([]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := codeparse.Parse(ctx, path, src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var out []string
	for _, imp := range f.Imports() {
		if imp.Relative {
			continue
		}
		name := distributionName(imp.Module)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// JavaImports returns the non-JDK imports of a java file
func JavaImports(ctx context.Context, path string) ([]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := codeparse.Parse(ctx, path, src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seen := make(map[string]bool)
	var out []string
	for _, imp := range f.Imports() {
		if isJDKImport(imp.Module) || seen[imp.Module] {
			continue
		}
		seen[imp.Module] = true
		out = append(out, imp.Module)
	}
	return out, nil
}

// Requirement is one line of a pip requirements file. Version is set only
// for exact pins (==).
type Requirement struct {
	Name    string
	Version string
}

// ParseRequirements reads package names from a requirements file, skipping
// comments, pip options, editable installs and URLs
func ParseRequirements(path string) ([]Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []Requirement
	for _, line := range strings.Split(string(data), "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		if i := strings.Index(line, ";"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") || strings.Contains(line, "://") {
			continue
		}

		name, version := line, ""
		if i := strings.IndexAny(line, "=<>!~ "); i >= 0 {
			name = line[:i]
			if rest, ok := strings.CutPrefix(line[i:], "=="); ok {
				version = strings.TrimSpace(strings.Split(rest, ",")[0])
			}
		}
		if i := strings.Index(name, "["); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, Requirement{Name: name, Version: version})
	}
	return out, nil
}

// Dependency is a Maven dependency declared in a pom
type Dependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

type pomProject struct {
	Dependencies []Dependency `xml:"dependencies>dependency"`
	Licenses     []struct {
		Name string `xml:"name"`
	} `xml:"licenses>license"`
}

// ParsePOM reads <dependencies> from a pom.xml. Property placeholders are
// treated as missing versions.
func ParsePOM(path string) ([]Dependency, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var project pomProject
	if err := xml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("invalid pom.xml: %w", err)
	}
	var out []Dependency
	for _, d := range project.Dependencies {
		d.GroupID = strings.TrimSpace(d.GroupID)
		d.ArtifactID = strings.TrimSpace(d.ArtifactID)
		d.Version = strings.TrimSpace(d.Version)
		if strings.HasPrefix(d.Version, "${") {
			d.Version = ""
		}
		if d.GroupID != "" && d.ArtifactID != "" {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Checker) cached(key string, fetch func() Entry) Entry {
	c.mu.Lock()
	if c.cache == nil {
		c.cache = make(map[string]Entry)
	}
	if e, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()

	e := fetch()
	c.mu.Lock()
	c.cache[key] = e
	c.mu.Unlock()
	return e
}

func (c *Checker) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Checker) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "devguard-license-checker")
	resp, err := c.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

type pypiResponse struct {
	Info struct {
		Version     string   `json:"version"`
		License     string   `json:"license"`
		Classifiers []string `json:"classifiers"`
	} `json:"info"`
}

func (c *Checker) pypi(ctx context.Context, pkg string) Entry {
	return c.cached("pypi:"+strings.ToLower(pkg), func() Entry {
		entry := Entry{Name: pkg, Version: "?", License: "Unknown"}
		body, err := c.get(ctx, fmt.Sprintf("%s/%s/json", strings.TrimRight(c.PyPIURL, "/"), url.PathEscape(pkg)))
		if err != nil {
			log.Printf("[WARN] License lookup failed for %s: %v", pkg, err)
			entry.Rating = RateLicense(entry.License)
			return entry
		}
		var resp pypiResponse
		if err := json.Unmarshal(body, &resp); err == nil {
			if resp.Info.Version != "" {
				entry.Version = resp.Info.Version
			}
			entry.License = pypiLicense(resp.Info.License, resp.Info.Classifiers)
		}
		entry.Rating = RateLicense(entry.License)
		return entry
	})
}

// pypiLicense prefers a short license field, then License :: classifiers
func pypiLicense(field string, classifiers []string) string {
	field = strings.TrimSpace(field)
	// some packages paste the whole license text into the field
	if field != "" && !strings.Contains(field, "\n") && len(field) <= 100 && !strings.EqualFold(field, "unknown") {
		return field
	}
	for _, cl := range classifiers {
		if strings.HasPrefix(cl, "License ::") {
			parts := strings.Split(cl, "::")
			return strings.TrimSpace(parts[len(parts)-1])
		}
	}
	return "Unknown"
}

type mavenSearchResponse struct {
	Response struct {
		Docs []struct {
			LatestVersion string `json:"latestVersion"`
		} `json:"docs"`
	} `json:"response"`
}

// LatestVersion asks Maven Central for the newest version of group:artifact
func (c *Checker) LatestVersion(ctx context.Context, group, artifact string) (string, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf(`g:"%s" AND a:"%s"`, group, artifact))
	q.Set("rows", "1")
	q.Set("wt", "json")
	body, err := c.get(ctx, c.MavenSearchURL+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	var resp mavenSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if len(resp.Response.Docs) == 0 || resp.Response.Docs[0].LatestVersion == "" {
		return "", fmt.Errorf("no versions found for %s:%s", group, artifact)
	}
	return resp.Response.Docs[0].LatestVersion, nil
}

func (c *Checker) maven(ctx context.Context, group, artifact, version string) Entry {
	name := group + ":" + artifact
	return c.cached("maven:"+name+":"+version, func() Entry {
		entry := Entry{Name: name, Version: version, License: "Unknown"}
		if entry.Version == "" {
			v, err := c.LatestVersion(ctx, group, artifact)
			if err != nil {
				log.Printf("[WARN] Could not resolve version for %s: %v", name, err)
				entry.Version = "?"
				entry.Rating = RateLicense(entry.License)
				return entry
			}
			entry.Version = v
		}

		pomURL := fmt.Sprintf("%s/%s/%s/%s/%s-%s.pom", strings.TrimRight(c.MavenRepoURL, "/"),
			strings.ReplaceAll(group, ".", "/"), artifact, entry.Version, artifact, entry.Version)
		body, err := c.get(ctx, pomURL)
		if err != nil {
			log.Printf("[WARN] License lookup failed for %s: %v", name, err)
		} else {
			var project pomProject
			if err := xml.Unmarshal(body, &project); err == nil && len(project.Licenses) > 0 {
				if n := strings.TrimSpace(project.Licenses[0].Name); n != "" {
					entry.License = n
				}
			}
		}
		entry.Rating = RateLicense(entry.License)
		return entry
	})
}
