// Package resolver validates user-supplied paths against the configured root.
// It is the only place in the engine that performs path arithmetic; every
// other component receives absolute paths produced here.
package resolver

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/smoosense/smoosense/internal/errors"
)

// Entry is a stat'ed filesystem entry under the root.
type Entry struct {
	// Name is the base name
	Name string `json:"name"`

	// Path is the absolute path
	Path string `json:"-"`

	// RelPath is the root-relative slash path
	RelPath string `json:"path"`

	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Hidden reports whether the entry name starts with a dot.
func (e Entry) Hidden() bool {
	return strings.HasPrefix(e.Name, ".")
}

// Resolver confines filesystem access to a single root directory.
type Resolver struct {
	root string
}

// New creates a Resolver for root. The root is made absolute and its
// symlinks are evaluated so containment checks compare canonical paths.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolver: invalid root %q: %w", root, err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolver: root %q: %w", root, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return nil, fmt.Errorf("resolver: root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("resolver: root %q is not a directory", root)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve normalizes requested (relative to the root, or absolute) and
// returns its canonical absolute path. It fails with InvalidPathError when
// the path escapes the root and NotFoundError when it does not exist.
func (r *Resolver) Resolve(requested string) (string, error) {
	if strings.ContainsRune(requested, 0) {
		return "", apperrors.NewInvalidPathError(requested, "contains NUL byte")
	}

	candidate, err := r.lexical(requested)
	if err != nil {
		return "", err
	}

	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NewNotFoundError(requested, err)
		}
		return "", apperrors.NewInvalidPathError(requested, err.Error())
	}

	// Symlinks may point outside even when the lexical path did not.
	if !r.contains(canonical) {
		return "", apperrors.NewInvalidPathError(requested, "resolves outside the root")
	}
	return canonical, nil
}

// lexical cleans requested and checks containment before touching the disk.
func (r *Resolver) lexical(requested string) (string, error) {
	p := filepath.FromSlash(strings.TrimSpace(requested))
	if p == "" {
		return r.root, nil
	}

	var joined string
	if filepath.IsAbs(p) {
		joined = filepath.Clean(p)
	} else {
		joined = filepath.Join(r.root, p)
	}

	if !r.contains(joined) {
		return "", apperrors.NewInvalidPathError(requested, "outside the root")
	}
	return joined, nil
}

func (r *Resolver) contains(abs string) bool {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Rel returns the root-relative slash path for an absolute path produced
// by Resolve. The root itself is ".".
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// target evaluates the symlinks of abs and reports whether the resolved path
// is still under the root.
func (r *Resolver) target(abs string) (string, error) {
	if !r.contains(abs) {
		return "", apperrors.NewInvalidPathError(abs, "outside the root")
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.NewNotFoundError(r.Rel(abs), err)
		}
		return "", fmt.Errorf("resolver: evaluate %s: %w", r.Rel(abs), err)
	}
	if !r.contains(resolved) {
		return "", apperrors.NewInvalidPathError(r.Rel(abs), "resolves outside the root")
	}
	return resolved, nil
}

// Stat returns the entry for an absolute path produced by Resolve.
func (r *Resolver) Stat(abs string) (Entry, error) {
	resolved, err := r.target(abs)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Entry{}, apperrors.NewNotFoundError(r.Rel(abs), err)
		}
		return Entry{}, fmt.Errorf("resolver: stat %s: %w", r.Rel(abs), err)
	}
	return r.entry(abs, resolved, info), nil
}

// List returns the entries of directory abs, directories first and then by
// name. Hidden entries are filtered unless showHidden is set. Entries whose
// symlinks lead outside the root are dropped, and Path holds the resolved path.
func (r *Resolver) List(abs string, showHidden bool) ([]Entry, error) {
	if !r.contains(abs) {
		return nil, apperrors.NewInvalidPathError(abs, "outside the root")
	}
	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(r.Rel(abs), err)
		}
		return nil, fmt.Errorf("resolver: list %s: %w", r.Rel(abs), err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !showHidden && strings.HasPrefix(de.Name(), ".") {
			continue
		}
		full := filepath.Join(abs, de.Name())
		resolved, err := r.target(full)
		if err != nil {
			// Dangling or escaping symlinks and races with deletion are skipped.
			continue
		}
		info, err := os.Stat(resolved)
		if err != nil {
			continue
		}
		entries = append(entries, r.entry(full, resolved, info))
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Walk lists every regular file below abs, skipping hidden files and
// directories. Symlinked directories are not followed and symlinked files
// leading outside the root are dropped.
func (r *Resolver) Walk(abs string) ([]Entry, error) {
	if !r.contains(abs) {
		return nil, apperrors.NewInvalidPathError(abs, "outside the root")
	}
	var entries []Entry
	err := filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != abs && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		resolved, err := r.target(p)
		if err != nil {
			return nil
		}
		info, err := os.Stat(resolved)
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			entries = append(entries, r.entry(p, resolved, info))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolver: walk %s: %w", r.Rel(abs), err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

// Open opens a regular file for reading. The resolved path must be under the
// root.
func (r *Resolver) Open(abs string) (*os.File, error) {
	resolved, err := r.target(abs)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(r.Rel(abs), err)
		}
		return nil, fmt.Errorf("resolver: open %s: %w", r.Rel(abs), err)
	}
	return f, nil
}

// ResolveFrom resolves ref relative to the directory of base, as used for
// media references stored next to a dataset (e.g. "./images/cat.jpg").
func (r *Resolver) ResolveFrom(base, ref string) (string, error) {
	if filepath.IsAbs(filepath.FromSlash(ref)) {
		return r.Resolve(ref)
	}
	dir := base
	if info, err := os.Stat(base); err == nil && !info.IsDir() {
		dir = filepath.Dir(base)
	}
	return r.Resolve(filepath.Join(r.Rel(dir), filepath.FromSlash(ref)))
}

// entry names the entry after its location in the tree and points Path at
// the resolved file.
func (r *Resolver) entry(abs, resolved string, info os.FileInfo) Entry {
	return Entry{
		Name:    filepath.Base(abs),
		Path:    resolved,
		RelPath: r.Rel(abs),
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
