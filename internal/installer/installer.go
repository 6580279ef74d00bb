// SPDX-License-Identifier: MPL-2.0

package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modhost/modhost/internal/pkgstore"
	"github.com/modhost/modhost/internal/statestore"
	"github.com/modhost/modhost/pkg/hostmod"
	"github.com/modhost/modhost/pkg/semver"
)

const (
	opInstall       = "install"
	opEnable        = "enable"
	opDisable       = "disable"
	opSetActive     = "set active version"
	opRemove        = "remove"
	opRemoveVersion = "remove version"
	opPrune         = "prune"
	opVerify        = "verify"
)

type (
	// Options wires an Installer to its collaborators.
	Options struct {
		Layout hostmod.Layout
		State  statestore.Store
		// Packages defaults to a filesystem store under Layout.
		Packages pkgstore.Store
		// Catalog may be nil when the host ships no built-ins.
		Catalog     *hostmod.Catalog
		HostVersion semver.Version
		Extract     hostmod.ExtractOptions
		Logger      *log.Logger
		Metrics     *Metrics
	}

	// Installer drives the module lifecycle: install, enable, disable,
	// version switches and removal. Every call performs its own
	// load/mutate/save round trip on the state store; concurrent calls for
	// the same module must be serialized by the caller.
	Installer struct {
		layout   hostmod.Layout
		state    statestore.Store
		packages pkgstore.Store
		catalog  *hostmod.Catalog
		host     semver.Version
		extract  hostmod.ExtractOptions
		logger   *log.Logger
		metrics  *Metrics
	}

	// InstallResult describes a successful install.
	InstallResult struct {
		ID      string
		Version string
		// Active reports whether this version became the active version.
		Active bool
		// Enabled reports whether the module is enabled after the call.
		Enabled bool
		// PackageStored is false when the archive was already retained.
		PackageStored bool
		// EnableErr is set when enable-after-install was requested but the
		// enable checks failed. The install itself still succeeded.
		// Enable-after-install runs the same checks as Enable, dependency
		// satisfaction included.
		EnableErr error
	}
)

// New validates opts and prepares the module root.
func New(opts Options) (*Installer, error) {
	if opts.Layout.Root == "" {
		return nil, errors.New("installer: layout root is required")
	}
	if opts.State == nil {
		return nil, errors.New("installer: state store is required")
	}
	if err := opts.Layout.Ensure(); err != nil {
		return nil, fmt.Errorf("installer: %w", err)
	}
	if opts.Packages == nil {
		opts.Packages = pkgstore.NewFSStore(opts.Layout)
	}
	if opts.Extract == (hostmod.ExtractOptions{}) {
		opts.Extract = hostmod.DefaultExtractOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Installer{
		layout:   opts.Layout,
		state:    opts.State,
		packages: opts.Packages,
		catalog:  opts.Catalog,
		host:     opts.HostVersion,
		extract:  opts.Extract,
		logger:   logger.WithPrefix("installer"),
		metrics:  opts.Metrics,
	}, nil
}

// HostVersion returns the version built-ins are pinned to.
func (i *Installer) HostVersion() semver.Version { return i.host }

// Install extracts archive into staging, validates it and moves it into
// installed/<id>/<version>. fileName only contributes the retained archive's
// extension. With enable set, the module is enabled afterwards through the
// same checks Enable performs.
func (i *Installer) Install(ctx context.Context, archive []byte, fileName string, enable bool) (res *InstallResult, err error) {
	defer i.track(opInstall, time.Now(), &err)

	if len(archive) == 0 {
		return nil, invalidArgument(opInstall, "archive is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	staging, err := i.layout.NewStagingDir()
	if err != nil {
		return nil, fsError(opInstall, "", "create staging directory", i.layout.StagingDir(), err)
	}
	// Idempotent: after a successful move the directory is already gone.
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			i.logger.Warn("failed to remove staging directory", "path", staging, "err", rmErr)
		}
	}()

	m, err := i.stage(archive, staging)
	if err != nil {
		return nil, err
	}

	if err := m.CheckHost(i.host); err != nil {
		return nil, newError(opInstall, m.ID, KindCompatibility, err, "")
	}

	target := i.layout.VersionDir(m.ID, m.Version)
	if i.layout.VersionInstalled(m.ID, m.Version) {
		return nil, newError(opInstall, m.ID, KindConflict, ErrAlreadyInstalled, "version %s is already installed", m.Version)
	}

	stored, err := i.packages.Put(ctx, m.ID, m.Version, hostmod.PackageExt(fileName), archive)
	if err != nil {
		return nil, fsError(opInstall, m.ID, "store package", i.layout.PackageDir(m.ID), err)
	}
	rollbackPackage := func() {
		if stored {
			if delErr := i.packages.Delete(context.WithoutCancel(ctx), m.ID, m.Version); delErr != nil {
				i.logger.Warn("failed to roll back stored package", "id", m.ID, "version", m.Version, "err", delErr)
			}
		}
	}

	if err := os.MkdirAll(i.layout.ModuleDir(m.ID), 0o755); err != nil {
		rollbackPackage()
		return nil, fsError(opInstall, m.ID, "create module directory", i.layout.ModuleDir(m.ID), err)
	}
	if err := os.Rename(staging, target); err != nil {
		rollbackPackage()
		if i.layout.VersionInstalled(m.ID, m.Version) {
			return nil, newError(opInstall, m.ID, KindConflict, ErrAlreadyInstalled, "version %s is already installed", m.Version)
		}
		return nil, fsError(opInstall, m.ID, "move module into place", target, err)
	}

	res = &InstallResult{ID: m.ID, Version: m.Version, PackageStored: stored}
	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		it := s.Upsert(m.ID)
		it.AddVersion(m.Version)
		if it.ActiveVersion == "" {
			it.ActiveVersion = m.Version
			res.Active = true
		}
		res.Enabled = it.Enabled
		return nil
	})
	if err != nil {
		// Roll the files back so state and disk keep agreeing.
		if rmErr := os.RemoveAll(target); rmErr != nil {
			i.logger.Warn("failed to roll back installed files", "path", target, "err", rmErr)
		}
		removeIfEmpty(i.layout.ModuleDir(m.ID))
		rollbackPackage()
		return nil, fsError(opInstall, m.ID, "save module state", i.layout.StatePath(), err)
	}

	i.logger.Info("module installed", "id", m.ID, "version", m.Version, "active", res.Active)

	if enable {
		if enableErr := i.Enable(ctx, m.ID, ""); enableErr != nil {
			res.EnableErr = enableErr
			i.logger.Warn("module installed but not enabled", "id", m.ID, "err", enableErr)
		} else {
			res.Enabled = true
		}
	}
	return res, nil
}

// stage extracts and validates an archive inside staging.
func (i *Installer) stage(archive []byte, staging string) (*hostmod.Manifest, error) {
	if err := hostmod.Extract(archive, staging, i.extract); err != nil {
		if errors.Is(err, hostmod.ErrUnsafePath) || errors.Is(err, hostmod.ErrArchiveTooLarge) || errors.Is(err, hostmod.ErrInvalidArchive) {
			return nil, newError(opInstall, "", KindValidation, err, "")
		}
		return nil, fsError(opInstall, "", "extract archive", staging, err)
	}

	if err := hostmod.LocateManifest(staging); err != nil {
		if errors.Is(err, hostmod.ErrMissingManifest) {
			return nil, newError(opInstall, "", KindValidation, err, "")
		}
		return nil, fsError(opInstall, "", "locate manifest", staging, err)
	}

	m, err := hostmod.ReadManifest(staging)
	if err != nil {
		return nil, newError(opInstall, "", KindValidation, err, "")
	}
	if err := m.Validate(hostmod.ValidateOptions{LibDir: filepath.Join(staging, hostmod.LibDirName)}); err != nil {
		return nil, newError(opInstall, m.ID, KindValidation, err, "")
	}
	if i.catalog.IsBuiltIn(m.ID) {
		return nil, newError(opInstall, m.ID, KindConflict, ErrBuiltIn, "id %q is reserved by a built-in module", m.ID)
	}
	return m, nil
}

// Enable turns a module on after re-checking host compatibility and every
// declared dependency. An explicit version becomes the active version; an
// empty version enables the current active version. Dependencies are checked
// but never enabled on the module's behalf.
func (i *Installer) Enable(ctx context.Context, id, version string) (err error) {
	defer i.track(opEnable, time.Now(), &err)

	if id == "" {
		return invalidArgument(opEnable, "module id is required")
	}

	if i.catalog.IsBuiltIn(id) {
		return i.enableBuiltIn(ctx, id, version)
	}

	current, err := i.state.Load(ctx)
	if err != nil {
		return i.stateError(opEnable, id, err)
	}
	item := current.Find(id)
	if item == nil {
		return newError(opEnable, id, KindNotFound, ErrNotInstalled, "module is not installed")
	}

	target := version
	if target == "" {
		target = item.ActiveVersion
	}
	if target == "" {
		return newError(opEnable, id, KindConflict, ErrNotInstalled, "no active version to enable")
	}
	if !semver.IsValid(target) {
		return newError(opEnable, id, KindValidation, ErrInvalidArgument, "%q is not a valid version", target)
	}
	if !item.HasVersion(target) || !i.layout.VersionInstalled(id, target) {
		return newError(opEnable, id, KindNotFound, ErrNotInstalled, "version %s is not installed", target)
	}

	m, err := hostmod.ReadManifest(i.layout.VersionDir(id, target))
	if err != nil {
		return newError(opEnable, id, KindValidation, err, "")
	}
	if m.ID != id || m.Version != target {
		return newError(opEnable, id, KindValidation, hostmod.ErrInvalidManifest,
			"installed manifest declares %s@%s", m.ID, m.Version)
	}
	if err := m.CheckHost(i.host); err != nil {
		return newError(opEnable, id, KindCompatibility, err, "")
	}

	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		if err := i.checkDependencies(s, m); err != nil {
			return err
		}
		it := s.Find(id)
		if it == nil {
			return newError(opEnable, id, KindNotFound, ErrNotInstalled, "module is not installed")
		}
		it.SetActive(target)
		it.Enabled = true
		return nil
	})
	if err != nil {
		return i.stateError(opEnable, id, err)
	}

	i.logger.Info("module enabled", "id", id, "version", target)
	return nil
}

func (i *Installer) enableBuiltIn(ctx context.Context, id, version string) error {
	host := i.host.String()
	if version != "" && version != host {
		return newError(opEnable, id, KindConflict, ErrBuiltIn, "built-in modules are pinned to host version %s", host)
	}
	m, err := i.catalog.Manifest(id, i.host)
	if err != nil {
		return newError(opEnable, id, KindNotFound, err, "")
	}
	if err := m.CheckHost(i.host); err != nil {
		return newError(opEnable, id, KindCompatibility, err, "")
	}

	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		if err := i.checkDependencies(s, &m); err != nil {
			return err
		}
		it := s.Upsert(id)
		it.BuiltIn = true
		it.ActiveVersion = host
		it.LastGoodVersion = ""
		it.InstalledVersions = []string{host}
		it.Enabled = true
		return nil
	})
	if err != nil {
		return i.stateError(opEnable, id, err)
	}

	i.logger.Info("built-in module enabled", "id", id, "version", host)
	return nil
}

// checkDependencies verifies every declared dependency in order and reports
// the first one that fails.
func (i *Installer) checkDependencies(s *statestore.State, m *hostmod.Manifest) error {
	for _, dep := range m.Dependencies {
		fail := func(format string, args ...any) error {
			reason := fmt.Sprintf("dependency %q ", dep.ID) + fmt.Sprintf(format, args...)
			return newError(opEnable, m.ID, KindDependency, ErrDependency, "%s", reason)
		}

		it := s.Find(dep.ID)
		switch {
		case it == nil && i.catalog.IsBuiltIn(dep.ID):
			return fail("is a built-in module that is not enabled")
		case it == nil:
			return fail("is not installed")
		case it.ActiveVersion == "":
			return fail("has no active version")
		case !it.Enabled:
			return fail("is disabled")
		}

		active, ok := semver.Parse(it.ActiveVersion)
		if !ok {
			return fail("has unparsable active version %q", it.ActiveVersion)
		}
		rng, ok := semver.ParseRange(dep.Range)
		if !ok {
			return fail("declares invalid range %q", dep.Range)
		}
		if !rng.Contains(active) {
			return fail("version %s does not satisfy %s", active, rng)
		}
	}
	return nil
}

// Disable turns a module off. Modules depending on it are not consulted.
// Disabling a built-in that was never enabled is a no-op.
func (i *Installer) Disable(ctx context.Context, id string) (err error) {
	defer i.track(opDisable, time.Now(), &err)

	if id == "" {
		return invalidArgument(opDisable, "module id is required")
	}
	builtIn := i.catalog.IsBuiltIn(id)

	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		it := s.Find(id)
		if it == nil {
			if builtIn {
				return nil
			}
			return newError(opDisable, id, KindNotFound, ErrNotInstalled, "module is not installed")
		}
		it.Enabled = false
		return nil
	})
	if err != nil {
		return i.stateError(opDisable, id, err)
	}

	i.logger.Info("module disabled", "id", id)
	return nil
}

// SetActiveVersion switches the version the host loads. Host compatibility
// and dependencies are not re-checked here; that happens on the next Enable.
func (i *Installer) SetActiveVersion(ctx context.Context, id, version string) (err error) {
	defer i.track(opSetActive, time.Now(), &err)

	if id == "" || version == "" {
		return invalidArgument(opSetActive, "module id and version are required")
	}
	if i.catalog.IsBuiltIn(id) {
		return newError(opSetActive, id, KindConflict, ErrBuiltIn, "built-in modules are pinned to the host version")
	}
	if !semver.IsValid(version) {
		return newError(opSetActive, id, KindValidation, ErrInvalidArgument, "%q is not a valid version", version)
	}
	if !i.layout.VersionInstalled(id, version) {
		return newError(opSetActive, id, KindNotFound, ErrNotInstalled, "version %s is not installed", version)
	}

	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		it := s.Find(id)
		if it == nil {
			return newError(opSetActive, id, KindNotFound, ErrNotInstalled, "module is not installed")
		}
		it.AddVersion(version)
		it.SetActive(version)
		return nil
	})
	if err != nil {
		return i.stateError(opSetActive, id, err)
	}

	i.logger.Info("active version changed", "id", id, "version", version)
	return nil
}

// RemoveModule deletes every version of an uploaded module. The module is
// disabled and saved first, so a crash mid-deletion never leaves an enabled,
// partially deleted module behind.
func (i *Installer) RemoveModule(ctx context.Context, id string) (err error) {
	defer i.track(opRemove, time.Now(), &err)

	if id == "" {
		return invalidArgument(opRemove, "module id is required")
	}
	if err := hostmod.ValidateID(id); err != nil {
		return newError(opRemove, id, KindValidation, err, "")
	}
	if i.catalog.IsBuiltIn(id) {
		return newError(opRemove, id, KindConflict, ErrBuiltIn, "built-in modules cannot be removed")
	}

	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		it := s.Find(id)
		if it == nil {
			return newError(opRemove, id, KindNotFound, ErrNotInstalled, "module is not installed")
		}
		it.Enabled = false
		return nil
	})
	if err != nil {
		return i.stateError(opRemove, id, err)
	}

	if err := os.RemoveAll(i.layout.ModuleDir(id)); err != nil {
		return fsError(opRemove, id, "delete installed files", i.layout.ModuleDir(id), err)
	}
	if err := i.packages.DeleteModule(ctx, id); err != nil {
		return fsError(opRemove, id, "delete retained packages", i.layout.PackageDir(id), err)
	}

	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		s.Remove(id)
		return nil
	})
	if err != nil {
		return i.stateError(opRemove, id, err)
	}

	i.logger.Info("module removed", "id", id)
	return nil
}

// RemoveModuleVersion deletes one installed version. The active version is
// refused. The module entry disappears with its last version.
func (i *Installer) RemoveModuleVersion(ctx context.Context, id, version string) (err error) {
	defer i.track(opRemoveVersion, time.Now(), &err)
	return i.removeVersion(ctx, id, version)
}

func (i *Installer) removeVersion(ctx context.Context, id, version string) error {
	if id == "" || version == "" {
		return invalidArgument(opRemoveVersion, "module id and version are required")
	}
	if i.catalog.IsBuiltIn(id) {
		return newError(opRemoveVersion, id, KindConflict, ErrBuiltIn, "built-in modules cannot be removed")
	}
	if !semver.IsValid(version) {
		return newError(opRemoveVersion, id, KindValidation, ErrInvalidArgument, "%q is not a valid version", version)
	}

	current, err := i.state.Load(ctx)
	if err != nil {
		return i.stateError(opRemoveVersion, id, err)
	}
	it := current.Find(id)
	if it == nil {
		return newError(opRemoveVersion, id, KindNotFound, ErrNotInstalled, "module is not installed")
	}
	if it.ActiveVersion == version {
		return newError(opRemoveVersion, id, KindConflict, ErrActiveVersion, "version %s is the active version", version)
	}
	if !it.HasVersion(version) && !i.layout.VersionInstalled(id, version) {
		return newError(opRemoveVersion, id, KindNotFound, ErrNotInstalled, "version %s is not installed", version)
	}

	dir := i.layout.VersionDir(id, version)
	if err := os.RemoveAll(dir); err != nil {
		return fsError(opRemoveVersion, id, "delete installed files", dir, err)
	}
	if err := i.packages.Delete(ctx, id, version); err != nil {
		return fsError(opRemoveVersion, id, "delete retained package", i.layout.PackageDir(id), err)
	}

	removedModule := false
	_, err = i.state.Update(ctx, func(s *statestore.State) error {
		it := s.Find(id)
		if it == nil {
			return nil
		}
		if it.ActiveVersion == version {
			return newError(opRemoveVersion, id, KindConflict, ErrActiveVersion, "version %s became the active version", version)
		}
		it.RemoveVersion(version)
		if it.LastGoodVersion == version {
			it.LastGoodVersion = ""
		}
		if len(it.InstalledVersions) == 0 {
			s.Remove(id)
			removedModule = true
		}
		return nil
	})
	if err != nil {
		return i.stateError(opRemoveVersion, id, err)
	}
	if removedModule {
		removeIfEmpty(i.layout.ModuleDir(id))
	}

	i.logger.Info("module version removed", "id", id, "version", version, "moduleRemoved", removedModule)
	return nil
}

// PruneOldVersions removes every installed version except the active and
// last good ones, oldest first, stopping at the first failure. It returns the
// versions that were removed.
func (i *Installer) PruneOldVersions(ctx context.Context, id string) (removed []string, err error) {
	defer i.track(opPrune, time.Now(), &err)

	if id == "" {
		return nil, invalidArgument(opPrune, "module id is required")
	}
	if i.catalog.IsBuiltIn(id) {
		return nil, newError(opPrune, id, KindConflict, ErrBuiltIn, "built-in modules have a single version")
	}

	current, err := i.state.Load(ctx)
	if err != nil {
		return nil, i.stateError(opPrune, id, err)
	}
	it := current.Find(id)
	if it == nil {
		return nil, newError(opPrune, id, KindNotFound, ErrNotInstalled, "module is not installed")
	}

	keep := map[string]bool{}
	for _, v := range []string{it.ActiveVersion, it.LastGoodVersion} {
		if v != "" {
			keep[v] = true
		}
	}

	// InstalledVersions is kept in ascending version order.
	for _, v := range it.InstalledVersions {
		if keep[v] {
			continue
		}
		if err := i.removeVersion(ctx, id, v); err != nil {
			return removed, err
		}
		removed = append(removed, v)
	}

	i.logger.Info("module pruned", "id", id, "removed", removed)
	return removed, nil
}

// stateError passes installer errors from an Update callback through and
// wraps store failures as filesystem errors.
func (i *Installer) stateError(op, id string, err error) error {
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fsError(op, id, "update module state", i.layout.StatePath(), err)
}

func (i *Installer) track(op string, start time.Time, errp *error) {
	i.metrics.observe(op, start, *errp)
}

func removeIfEmpty(dir string) {
	// os.Remove refuses non-empty directories, which is the point.
	_ = os.Remove(dir)
}
