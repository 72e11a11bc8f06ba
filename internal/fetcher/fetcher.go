// Package fetcher downloads postings and registry files over HTTP, FTP or
// the local filesystem and streams their CSV, JSON and XLSX rows.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Fetcher downloads a single remote file.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to path. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)
}

// Router dispatches a source to the fetcher for its scheme. Sources without
// a scheme, or with file://, are opened from disk.
type Router struct {
	HTTP Fetcher
	FTP  Fetcher
}

// NewRouter creates a Router. Either fetcher may be nil, in which case
// sources of that scheme are rejected.
func NewRouter(httpFetcher, ftpFetcher Fetcher) *Router {
	return &Router{HTTP: httpFetcher, FTP: ftpFetcher}
}

// Download opens src for reading.
func (r *Router) Download(ctx context.Context, src string) (io.ReadCloser, error) {
	scheme, path := splitSource(src)
	switch scheme {
	case "http", "https":
		if r.HTTP == nil {
			return nil, eris.Errorf("fetcher: no http fetcher for %s", src)
		}
		return r.HTTP.Download(ctx, src)
	case "ftp":
		if r.FTP == nil {
			return nil, eris.Errorf("fetcher: no ftp fetcher for %s", src)
		}
		return r.FTP.Download(ctx, src)
	case "", "file":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		return f, nil
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme %q", scheme)
	}
}

// DownloadToFile copies src to path.
func (r *Router) DownloadToFile(ctx context.Context, src string, path string) (int64, error) {
	rc, err := r.Download(ctx, src)
	if err != nil {
		return 0, err
	}
	return copyToFile(rc, path)
}

// Lister lists a remote directory.
type Lister interface {
	List(ctx context.Context, dirURL, pattern string) ([]Entry, error)
}

// List returns the files of the directory src whose names match pattern.
// Local directories are read from disk; ftp directories need an FTP fetcher
// that is also a Lister.
func (r *Router) List(ctx context.Context, src, pattern string) ([]Entry, error) {
	scheme, dir := splitSource(src)
	switch scheme {
	case "ftp":
		l, ok := r.FTP.(Lister)
		if !ok {
			return nil, eris.Errorf("fetcher: cannot list %s", src)
		}
		return l.List(ctx, src, pattern)
	case "", "file":
		return listLocal(dir, pattern)
	default:
		return nil, eris.Errorf("fetcher: cannot list %q sources", scheme)
	}
}

func listLocal(dir, pattern string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read dir %s", dir)
	}
	var out []Entry
	for _, de := range des {
		if de.IsDir() {
			continue
		}
		ok, err := matchName(pattern, de.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: stat %s", de.Name())
		}
		p := filepath.Join(dir, de.Name())
		out = append(out, Entry{Name: de.Name(), URL: p, Size: info.Size(), Modified: info.ModTime()})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// matchName reports whether name matches the glob pattern, ignoring case.
// An empty pattern matches everything.
func matchName(pattern, name string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(name))
	if err != nil {
		return false, eris.Wrapf(err, "fetcher: bad pattern %q", pattern)
	}
	return ok, nil
}

func splitSource(src string) (scheme, path string) {
	if !strings.Contains(src, "://") {
		return "", src
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", src
	}
	if u.Scheme == "file" {
		return "file", u.Path
	}
	return strings.ToLower(u.Scheme), src
}

// copyToFile drains rc into a new file at path and closes rc.
func copyToFile(rc io.ReadCloser, path string) (int64, error) {
	defer rc.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}
