package canon

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/xerrors"
)

// TreeEntry is one normalized filesystem entry: paths relative,
// '/'-separated, sorted lexicographically, timestamps stripped, permissions
// collapsed to a single executable bit.
type TreeEntry struct {
	RelPath    string `json:"path"`
	Executable bool   `json:"executable"`
	Symlink    string `json:"symlink,omitempty"`
	// ContentDigest is the sha256 of the file's bytes (empty for symlinks
	// and directories). Every file of a tree, however large the package,
	// is listed here by its digest; trees are not chunked into
	// content-addressed sub-trees.
	ContentDigest string `json:"content_digest,omitempty"`
	Dir           bool   `json:"dir,omitempty"`
}

// NormalizeTree walks root and returns a sorted list of TreeEntry, suitable
// for embedding in a pkg-build or runtime canonical payload. It strips
// ownership, mtimes, and xattrs; only the executable bit survives from the
// file mode.
func NormalizeTree(root string) ([]TreeEntry, error) {
	var entries []TreeEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.Type()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			entries = append(entries, TreeEntry{RelPath: rel, Symlink: target})
		case d.IsDir():
			entries = append(entries, TreeEntry{RelPath: rel, Dir: true})
		case info.Mode().IsRegular():
			digest, err := DigestFile(path)
			if err != nil {
				return err
			}
			entries = append(entries, TreeEntry{
				RelPath:       rel,
				Executable:    info.Mode()&0o111 != 0,
				ContentDigest: digest,
			})
		default:
			return xerrors.Errorf("encoding_error: unsupported file type at %s", path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries, nil
}

// DigestFile returns the hex sha256 of the file at path, memory-mapping it
// when it is large enough to make mmap worthwhile. distri's internal/install
// uses golang.org/x/exp/mmap for exactly this reason when reading large
// pkg-build trees off disk.
func DigestFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() < mmapThreshold {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return Digest(b), nil
	}
	return digestViaMmap(path, info.Size())
}

// mmapThreshold is the file size above which DigestFile prefers a
// memory-mapped read over a single ReadFile allocation.
const mmapThreshold = 4 << 20 // 4 MiB
