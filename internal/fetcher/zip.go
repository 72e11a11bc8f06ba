package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Unzip writes the archive members whose base name matches pattern into
// destDir, keeping their relative paths. pattern is matched against the
// base name as in matchName. It returns the written file paths in archive
// order.
func Unzip(zipPath, destDir, pattern string) ([]string, error) {
	members, closeFn, err := openMembers(zipPath, pattern)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	paths := make([]string, 0, len(members))
	for _, m := range members {
		p, err := writeMember(m, destDir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// UnzipOne extracts the one member matching pattern. Registry dumps bundle
// several tables per archive, so zero or multiple matches is an error.
func UnzipOne(zipPath, destDir, pattern string) (string, error) {
	members, closeFn, err := openMembers(zipPath, pattern)
	if err != nil {
		return "", err
	}
	defer closeFn()

	if len(members) != 1 {
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.Name
		}
		return "", eris.Errorf("zip: %q matched %d members %v, want 1", pattern, len(members), names)
	}
	return writeMember(members[0], destDir)
}

// openMembers lists the non-directory members selected by pattern.
func openMembers(zipPath, pattern string) ([]*zip.File, func(), error) {
	if _, err := matchName(pattern, ""); err != nil {
		return nil, nil, err
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "zip: open %s", zipPath)
	}

	var out []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if ok, _ := matchName(pattern, filepath.Base(f.Name)); ok {
			out = append(out, f)
		}
	}
	return out, func() { _ = r.Close() }, nil
}

func writeMember(f *zip.File, destDir string) (string, error) {
	root := filepath.Clean(destDir) + string(os.PathSeparator)
	dst := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(dst, root) {
		return "", eris.Errorf("zip: member %q escapes %s (zip slip)", f.Name, destDir)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", eris.Wrapf(err, "zip: mkdir for %s", f.Name)
	}

	src, err := f.Open()
	if err != nil {
		return "", eris.Wrapf(err, "zip: read %s", f.Name)
	}
	defer src.Close() //nolint:errcheck

	out, err := os.Create(dst)
	if err != nil {
		return "", eris.Wrapf(err, "zip: create %s", dst)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return "", eris.Wrapf(err, "zip: write %s", dst)
	}
	return dst, eris.Wrapf(out.Close(), "zip: close %s", dst)
}
