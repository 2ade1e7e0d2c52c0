package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"depsync/internal/data"

	"gopkg.in/yaml.v3"
)

// LoadFleet reads and validates the fleet file at path. Non-empty org and
// baseDir override the values in the file.
//
// Repositories listed without an owner get the fleet org. Relative base_dir
// values resolve against the fleet file's directory, and each repository's
// checkout defaults to <base_dir>/<name>.
func LoadFleet(path, org, baseDir string) (*data.Fleet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet: %w", err)
	}
	fleet, err := ParseFleet(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if org = strings.TrimSpace(org); org != "" {
		fleet.Org = org
	}
	if baseDir = strings.TrimSpace(baseDir); baseDir != "" {
		fleet.BaseDir = baseDir
	} else if fleet.BaseDir != "" && !filepath.IsAbs(fleet.BaseDir) {
		fleet.BaseDir = filepath.Join(filepath.Dir(path), fleet.BaseDir)
	}

	if err := normalizeFleet(fleet); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fleet, nil
}

// ParseFleet decodes fleet YAML. Unknown keys are rejected.
func ParseFleet(raw []byte) (*data.Fleet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var fleet data.Fleet
	if err := dec.Decode(&fleet); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("fleet file is empty")
		}
		return nil, fmt.Errorf("parse fleet: %w", err)
	}
	return &fleet, nil
}

func normalizeFleet(f *data.Fleet) error {
	f.Org = strings.TrimSpace(f.Org)

	if len(f.Packages) == 0 {
		return errors.New("fleet tracks no packages")
	}
	pkgs := make(map[string]bool, len(f.Packages))
	for i := range f.Packages {
		p := &f.Packages[i]
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			return fmt.Errorf("packages[%d]: name is required", i)
		}
		if pkgs[p.Name] {
			return fmt.Errorf("duplicate package %q", p.Name)
		}
		pkgs[p.Name] = true

		switch data.Registry(normalizeEnumValue(string(p.Registry))) {
		case "", data.RegistryCrates:
			p.Registry = data.RegistryCrates
		case data.RegistryGo:
			p.Registry = data.RegistryGo
		default:
			return fmt.Errorf("package %q: unsupported registry %q (must be one of: crates, go)", p.Name, p.Registry)
		}
		if p.ChangelogRepo != "" && !validSlug(p.ChangelogRepo) {
			return fmt.Errorf("package %q: changelog_repo must be OWNER/REPO, got %q", p.Name, p.ChangelogRepo)
		}
	}

	seen := make(map[string]bool, len(f.Repos))
	for i := range f.Repos {
		r := &f.Repos[i]
		r.Repo = strings.TrimSpace(r.Repo)
		if r.Repo == "" {
			return fmt.Errorf("repos[%d]: repo is required", i)
		}
		if !strings.Contains(r.Repo, "/") {
			if f.Org == "" {
				return fmt.Errorf("repo %q has no owner and no org is configured", r.Repo)
			}
			r.Repo = f.Org + "/" + r.Repo
		}
		if !validSlug(r.Repo) {
			return fmt.Errorf("invalid repository slug %q (expected OWNER/REPO)", r.Repo)
		}
		key := strings.ToLower(r.Repo)
		if seen[key] {
			return fmt.Errorf("duplicate repo %q", r.Repo)
		}
		seen[key] = true

		if len(r.Manifests) == 0 && len(r.Workflows) == 0 {
			return fmt.Errorf("repo %q lists no manifests or workflows", r.Repo)
		}
		for _, file := range append(append([]string(nil), r.Manifests...), r.Workflows...) {
			if err := validateRepoPath(file); err != nil {
				return fmt.Errorf("repo %q: %w", r.Repo, err)
			}
		}

		switch {
		case r.LocalPath == "" && f.BaseDir != "":
			r.LocalPath = filepath.Join(f.BaseDir, r.Name())
		case r.LocalPath != "" && !filepath.IsAbs(r.LocalPath) && f.BaseDir != "":
			r.LocalPath = filepath.Join(f.BaseDir, r.LocalPath)
		}
	}
	return nil
}

func validSlug(s string) bool {
	owner, name, ok := strings.Cut(s, "/")
	return ok && owner != "" && name != "" && !strings.Contains(name, "/")
}

func validateRepoPath(p string) error {
	switch {
	case strings.TrimSpace(p) == "":
		return errors.New("empty file path")
	case strings.HasPrefix(p, "/"):
		return fmt.Errorf("file path %q must be relative to the repository root", p)
	case p != filepath.ToSlash(filepath.Clean(p)) || strings.HasPrefix(p, "../"):
		return fmt.Errorf("file path %q is not clean", p)
	}
	return nil
}
