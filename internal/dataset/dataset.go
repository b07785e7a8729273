// Package dataset maps user paths to logical, file-backed datasets and
// tracks the fingerprint used to detect stale cached schemas.
package dataset

import (
	"encoding/binary"
	"path"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/spaolacci/murmur3"

	"github.com/smoosense/smoosense/internal/resolver"
)

// File is one physical constituent of a dataset.
type File struct {
	Path    string    `json:"-"`
	RelPath string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Fingerprint summarizes constituent file sizes and mtimes.
type Fingerprint uint64

// Dataset is a logical queryable table backed by one or more files.
type Dataset struct {
	// ID is the logical identifier: the root-relative path, with a
	// "#format" suffix when chosen from a mixed-format directory
	ID string `json:"id"`

	// Path is the absolute file or directory path
	Path string `json:"-"`

	// RelPath is Path relative to the root
	RelPath string `json:"path"`

	Format      Format      `json:"format"`
	Files       []File      `json:"files"`
	Fingerprint Fingerprint `json:"fingerprint"`
	IsDir       bool        `json:"is_dir"`
	LastAccess  time.Time   `json:"last_access"`
}

// FilePaths returns the absolute constituent paths in a stable order.
func (d *Dataset) FilePaths() []string {
	paths := make([]string, len(d.Files))
	for i, f := range d.Files {
		paths[i] = f.Path
	}
	return paths
}

// TotalSize returns the summed size of all constituent files.
func (d *Dataset) TotalSize() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.Size
	}
	return total
}

// TableName derives a SQL-safe identifier from the dataset base name.
func (d *Dataset) TableName() string {
	return TableNameFor(d.RelPath)
}

// TableNameFor derives a SQL-safe identifier from a root-relative path.
func TableNameFor(relPath string) string {
	base := path.Base(strings.TrimSuffix(relPath, "/"))
	if base == "." || base == "/" || base == "" {
		base = "root"
	}
	for {
		ext := path.Ext(base)
		if ext == "" || DetectFormat(base) == FormatUnknown && !isCompression(ext) {
			break
		}
		base = strings.TrimSuffix(base, ext)
	}

	var b strings.Builder
	for _, r := range base {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "dataset"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	return name
}

func isCompression(ext string) bool {
	for _, s := range compressionSuffixes {
		if strings.EqualFold(ext, s) {
			return true
		}
	}
	return false
}

// ComputeFingerprint hashes the sorted (path, size, mtime) tuple of each
// file plus the file count. It is O(len(files)) and allocation light.
func ComputeFingerprint(files []File) Fingerprint {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := murmur3.New64()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(sorted)))
	h.Write(buf[:])
	for _, f := range sorted {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		binary.LittleEndian.PutUint64(buf[:], uint64(f.Size))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(f.ModTime.UnixNano()))
		h.Write(buf[:])
	}
	return Fingerprint(h.Sum64())
}

func filesFromEntries(entries []resolver.Entry) []File {
	files := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		files = append(files, File{Path: e.Path, RelPath: e.RelPath, Size: e.Size, ModTime: e.ModTime})
	}
	return files
}
