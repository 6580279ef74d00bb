// SPDX-License-Identifier: MPL-2.0

package hostmod

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/modhost/modhost/internal/cueutil"
	"github.com/modhost/modhost/pkg/semver"
)

const (
	// MaxIDLength bounds module ids.
	MaxIDLength = 100
	// MaxNameLength bounds display names, in runes.
	MaxNameLength = 100
)

//go:embed manifest_schema.cue
var manifestSchema []byte

var (
	// ErrInvalidManifest is the sentinel error wrapped by InvalidManifestError.
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrInvalidModuleID is the sentinel error wrapped by InvalidModuleIDError.
	ErrInvalidModuleID = errors.New("invalid module id")

	moduleIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)
)

type (
	// Manifest is the declarative descriptor shipped as manifest.json at the
	// root of every module archive.
	Manifest struct {
		ID           string       `json:"id"`
		Name         string       `json:"name"`
		Version      string       `json:"version"`
		Description  string       `json:"description,omitempty"`
		Entry        Entry        `json:"entry"`
		Host         HostBounds   `json:"host,omitempty"`
		Dependencies []Dependency `json:"dependencies"`
	}

	// Entry names the library to open and the symbol to instantiate.
	// Assembly is a path relative to lib/; it is empty only for built-ins.
	Entry struct {
		Assembly string `json:"assembly"`
		Type     string `json:"type"`
	}

	// HostBounds is the optional host-compatibility window (inclusive).
	HostBounds struct {
		Min string `json:"min,omitempty"`
		Max string `json:"max,omitempty"`
	}

	// Dependency declares another module id and the version range it must satisfy.
	Dependency struct {
		ID    string `json:"id"`
		Range string `json:"range"`
	}

	// ValidateOptions tunes Manifest.Validate.
	ValidateOptions struct {
		// BuiltIn relaxes the entry assembly requirement.
		BuiltIn bool
		// LibDir, when set, is checked for the entry assembly.
		LibDir string
	}

	// manifestDocument is the decoded form of manifest.json. Fields a
	// manifest may set to null are pointers or slices here.
	manifestDocument struct {
		ID           string          `json:"id"`
		Name         string          `json:"name"`
		Version      string          `json:"version"`
		Description  string          `json:"description"`
		Entry        Entry           `json:"entry"`
		Host         *hostBoundsJSON `json:"host"`
		Dependencies []Dependency    `json:"dependencies"`
	}

	hostBoundsJSON struct {
		Min *string `json:"min"`
		Max *string `json:"max"`
	}

	// InvalidManifestError collects every field-level problem found in a manifest.
	InvalidManifestError struct {
		ModuleID    string
		FieldErrors []error
	}

	// InvalidModuleIDError is returned when a module id does not match the id pattern.
	InvalidModuleIDError struct {
		Value string
	}
)

// Error implements the error interface.
func (e *InvalidManifestError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	if e.ModuleID != "" {
		return fmt.Sprintf("invalid manifest for %q: %s", e.ModuleID, strings.Join(msgs, "; "))
	}
	return "invalid manifest: " + strings.Join(msgs, "; ")
}

// Unwrap returns ErrInvalidManifest for errors.Is() compatibility.
func (e *InvalidManifestError) Unwrap() error { return ErrInvalidManifest }

// Error implements the error interface.
func (e *InvalidModuleIDError) Error() string {
	return fmt.Sprintf("invalid module id %q (must match [A-Za-z0-9._-]{1,%d} and not be only dots)", e.Value, MaxIDLength)
}

// Unwrap returns ErrInvalidModuleID for errors.Is() compatibility.
func (e *InvalidModuleIDError) Unwrap() error { return ErrInvalidModuleID }

// ValidateID checks a module id. Ids double as directory names, so "." and
// ".." style ids are refused on top of the character pattern.
func ValidateID(id string) error {
	if !moduleIDRegex.MatchString(id) || strings.Trim(id, ".") == "" {
		return &InvalidModuleIDError{Value: id}
	}
	return nil
}

// ParseManifest decodes manifest bytes against the embedded schema and
// normalizes the result. It does not run Validate.
func ParseManifest(data []byte, filename string) (*Manifest, error) {
	if filename == "" {
		filename = ManifestFileName
	}
	doc, err := cueutil.Decode[manifestDocument](manifestSchema, data, "#Manifest", filename, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	m := doc.manifest()
	m.Normalize()
	return m, nil
}

func (d *manifestDocument) manifest() *Manifest {
	m := &Manifest{
		ID:           d.ID,
		Name:         d.Name,
		Version:      d.Version,
		Description:  d.Description,
		Entry:        d.Entry,
		Dependencies: d.Dependencies,
	}
	if d.Host != nil {
		if d.Host.Min != nil {
			m.Host.Min = *d.Host.Min
		}
		if d.Host.Max != nil {
			m.Host.Max = *d.Host.Max
		}
	}
	return m
}

// ReadManifest reads and parses the manifest.json inside dir.
func ReadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data, path)
}

// Normalize trims every string field and replaces nil collections with empty
// ones, so a null or absent dependency list reads as no dependencies.
func (m *Manifest) Normalize() {
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Description = strings.TrimSpace(m.Description)
	m.Entry.Assembly = strings.TrimSpace(m.Entry.Assembly)
	m.Entry.Type = strings.TrimSpace(m.Entry.Type)
	m.Host.Min = strings.TrimSpace(m.Host.Min)
	m.Host.Max = strings.TrimSpace(m.Host.Max)
	if m.Dependencies == nil {
		m.Dependencies = []Dependency{}
	}
	for i := range m.Dependencies {
		m.Dependencies[i].ID = strings.TrimSpace(m.Dependencies[i].ID)
		m.Dependencies[i].Range = strings.TrimSpace(m.Dependencies[i].Range)
	}
}

// Validate checks identity, version, entry point, host bounds and dependency
// declarations. All problems are reported together in an InvalidManifestError.
func (m *Manifest) Validate(opts ValidateOptions) error {
	var errs []error

	if err := ValidateID(m.ID); err != nil {
		errs = append(errs, fmt.Errorf("id: %w", err))
	}

	switch n := utf8.RuneCountInString(m.Name); {
	case n == 0:
		errs = append(errs, errors.New("name: is required"))
	case n > MaxNameLength:
		errs = append(errs, fmt.Errorf("name: exceeds %d characters", MaxNameLength))
	}

	if !semver.IsValid(m.Version) {
		errs = append(errs, fmt.Errorf("version: %q is not a valid x.y.z version", m.Version))
	}

	if m.Entry.Type == "" {
		errs = append(errs, errors.New("entry.type: is required"))
	}
	errs = append(errs, m.validateAssembly(opts)...)
	errs = append(errs, m.validateHostBounds()...)
	errs = append(errs, m.validateDependencies()...)

	if len(errs) > 0 {
		return &InvalidManifestError{ModuleID: m.ID, FieldErrors: errs}
	}
	return nil
}

func (m *Manifest) validateAssembly(opts ValidateOptions) []error {
	assembly := m.Entry.Assembly
	if assembly == "" {
		if opts.BuiltIn {
			return nil
		}
		return []error{errors.New("entry.assembly: is required for uploaded modules")}
	}
	if !filepath.IsLocal(filepath.FromSlash(assembly)) {
		return []error{fmt.Errorf("entry.assembly: %q must be a relative path inside %s/", assembly, LibDirName)}
	}
	if opts.BuiltIn || opts.LibDir == "" {
		return nil
	}
	info, err := os.Stat(filepath.Join(opts.LibDir, filepath.FromSlash(assembly)))
	if err != nil || !info.Mode().IsRegular() {
		return []error{fmt.Errorf("entry.assembly: %s/%s not found in package", LibDirName, assembly)}
	}
	return nil
}

func (m *Manifest) validateHostBounds() []error {
	var errs []error
	minV, minOK := semver.Parse(m.Host.Min)
	maxV, maxOK := semver.Parse(m.Host.Max)
	if m.Host.Min != "" && !minOK {
		errs = append(errs, fmt.Errorf("host.min: %q is not a valid x.y.z version", m.Host.Min))
	}
	if m.Host.Max != "" && !maxOK {
		errs = append(errs, fmt.Errorf("host.max: %q is not a valid x.y.z version", m.Host.Max))
	}
	if minOK && maxOK && maxV.Less(minV) {
		errs = append(errs, fmt.Errorf("host: min %s is greater than max %s", minV, maxV))
	}
	return errs
}

func (m *Manifest) validateDependencies() []error {
	var errs []error
	seen := make(map[string]bool, len(m.Dependencies))
	for i, dep := range m.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)
		if err := ValidateID(dep.ID); err != nil {
			errs = append(errs, fmt.Errorf("%s.id: %w", field, err))
			continue
		}
		if dep.ID == m.ID {
			errs = append(errs, fmt.Errorf("%s.id: module cannot depend on itself", field))
		}
		if seen[dep.ID] {
			errs = append(errs, fmt.Errorf("%s.id: duplicate dependency %q", field, dep.ID))
		}
		seen[dep.ID] = true
		if _, ok := semver.ParseRange(dep.Range); !ok {
			errs = append(errs, fmt.Errorf("%s.range: %q is not a valid version range", field, dep.Range))
		}
	}
	return errs
}

// ParsedVersion returns the manifest version. It reports false when Version
// does not parse, which Validate would also have flagged.
func (m *Manifest) ParsedVersion() (semver.Version, bool) {
	return semver.Parse(m.Version)
}
