package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"docsieve/internal/logging"
)

// domainFile is the YAML shape of a user-declared schema file. A file may
// hold a single domain or a list of domains.
type domainFile struct {
	Domain  *DomainDefinition  `yaml:"domain"`
	Domains []DomainDefinition `yaml:"domains"`
}

// LoadDomainFile reads one YAML schema file and registers its domains.
func LoadDomainFile(r *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	var df domainFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}

	var domains []DomainDefinition
	if df.Domain != nil {
		domains = append(domains, *df.Domain)
	}
	domains = append(domains, df.Domains...)

	if len(domains) == 0 {
		return fmt.Errorf("schema file %s declares no domains", path)
	}

	for _, d := range domains {
		if err := validateDomain(&d); err != nil {
			return fmt.Errorf("schema file %s: %w", path, err)
		}
		if err := r.Register(d); err != nil {
			return fmt.Errorf("schema file %s: domain %q: %w", path, d.Name, err)
		}
	}

	logging.Registry("Loaded %d domain(s) from %s", len(domains), path)
	return nil
}

// LoadDomainDir registers every .yaml/.yml file in a directory, in sorted
// filename order so registration order is deterministic.
func LoadDomainDir(r *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read schema dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := LoadDomainFile(r, p); err != nil {
			return err
		}
	}
	return nil
}

// validateDomain enforces the structural invariants a definition must hold
// before registration: non-empty names, unique sub-domain names within the
// domain, unique field names within each sub-domain, known field types.
func validateDomain(d *DomainDefinition) error {
	if d.Name == "" {
		return fmt.Errorf("domain name is required")
	}
	if len(d.SubDomains) == 0 {
		return fmt.Errorf("domain %q: %w", d.Name, ErrSchemaEmpty)
	}

	seenSub := make(map[string]bool)
	for _, sd := range d.SubDomains {
		if sd.Name == "" {
			return fmt.Errorf("domain %q: sub-domain name is required", d.Name)
		}
		if seenSub[sd.Name] {
			return fmt.Errorf("domain %q: duplicate sub-domain %q", d.Name, sd.Name)
		}
		seenSub[sd.Name] = true

		seenField := make(map[string]bool)
		for _, f := range sd.Fields {
			if f.Name == "" {
				return fmt.Errorf("domain %q sub-domain %q: field name is required", d.Name, sd.Name)
			}
			if seenField[f.Name] {
				return fmt.Errorf("domain %q sub-domain %q: duplicate field %q", d.Name, sd.Name, f.Name)
			}
			seenField[f.Name] = true

			switch f.Type {
			case TypeString, TypeNumber, TypeDate, TypeList, TypeObject, TypeBool:
			case "":
				return fmt.Errorf("domain %q field %q: type is required", d.Name, f.Name)
			default:
				return fmt.Errorf("domain %q field %q: unknown type %q", d.Name, f.Name, f.Type)
			}
		}
	}
	return nil
}
