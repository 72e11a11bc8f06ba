package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Entry is one file in a remote or local directory listing.
type Entry struct {
	Name     string
	URL      string
	Size     int64
	Modified time.Time
}

// FTPOptions configures the FTP fetcher.
type FTPOptions struct {
	Timeout time.Duration
	// Resume continues a partial DownloadToFile from the size already on
	// disk. Registry dumps are several GB and the public mirror drops
	// connections.
	Resume bool
}

// FTPFetcher downloads and lists files over FTP. Logins are anonymous unless
// the URL carries credentials.
type FTPFetcher struct {
	opts FTPOptions
	dial func(ctx context.Context, loc ftpLocation) (ftpSession, error)
}

func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	f := &FTPFetcher{opts: opts}
	f.dial = f.login
	return f
}

// ftpSession is the slice of an FTP control connection the fetcher drives.
type ftpSession interface {
	retr(file string, offset uint64) (io.ReadCloser, error)
	list(dir string) ([]*ftp.Entry, error)
	quit() error
}

type serverSession struct{ conn *ftp.ServerConn }

func (s serverSession) retr(file string, offset uint64) (io.ReadCloser, error) {
	var (
		resp *ftp.Response
		err  error
	)
	if offset > 0 {
		resp, err = s.conn.RetrFrom(file, offset)
	} else {
		resp, err = s.conn.Retr(file)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s serverSession) list(dir string) ([]*ftp.Entry, error) { return s.conn.List(dir) }
func (s serverSession) quit() error                          { return s.conn.Quit() }

func (f *FTPFetcher) login(ctx context.Context, loc ftpLocation) (ftpSession, error) {
	zap.L().Debug("ftp: connecting", zap.String("addr", loc.addr), zap.String("path", loc.path))
	conn, err := ftp.Dial(loc.addr, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", loc.addr)
	}
	if err := conn.Login(loc.user, loc.password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp: login as %s", loc.user)
	}
	return serverSession{conn: conn}, nil
}

type ftpLocation struct {
	addr     string
	path     string
	user     string
	password string
	base     *url.URL
}

func parseFTPURL(raw string) (ftpLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ftpLocation{}, eris.Wrap(err, "ftp: parse url")
	}
	if u.Scheme != "ftp" {
		return ftpLocation{}, eris.Errorf("ftp: expected ftp scheme, got %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		return ftpLocation{}, eris.New("ftp: empty path in url")
	}

	loc := ftpLocation{addr: u.Host, path: u.Path, user: "anonymous", password: "anonymous@", base: u}
	if _, _, err := net.SplitHostPort(loc.addr); err != nil {
		loc.addr = net.JoinHostPort(loc.addr, "21")
	}
	if name := u.User.Username(); name != "" {
		loc.user = name
		loc.password, _ = u.User.Password()
	}
	return loc, nil
}

// sessionReader ends the session when the transfer is closed.
type sessionReader struct {
	io.ReadCloser
	s ftpSession
}

func (r sessionReader) Close() error {
	err := r.ReadCloser.Close()
	if qerr := r.s.quit(); err == nil && qerr != nil {
		return eris.Wrap(qerr, "ftp: quit")
	}
	return eris.Wrap(err, "ftp: close transfer")
}

func (f *FTPFetcher) open(ctx context.Context, raw string, offset uint64) (io.ReadCloser, error) {
	loc, err := parseFTPURL(raw)
	if err != nil {
		return nil, err
	}
	s, err := f.dial(ctx, loc)
	if err != nil {
		return nil, err
	}
	body, err := s.retr(loc.path, offset)
	if err != nil {
		_ = s.quit()
		return nil, eris.Wrapf(err, "ftp: retrieve %s", loc.path)
	}
	return sessionReader{ReadCloser: body, s: s}, nil
}

// Download opens the file for reading. Closing the reader ends the session.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	return f.open(ctx, ftpURL, 0)
}

// DownloadToFile writes ftpURL to dest and returns the size of dest. With
// Resume set, an existing partial file is continued rather than replaced.
func (f *FTPFetcher) DownloadToFile(ctx context.Context, ftpURL string, dest string) (int64, error) {
	var have int64
	if f.opts.Resume {
		if st, err := os.Stat(dest); err == nil {
			have = st.Size()
		}
	}
	if have == 0 {
		rc, err := f.open(ctx, ftpURL, 0)
		if err != nil {
			return 0, err
		}
		return copyToFile(rc, dest)
	}

	rc, err := f.open(ctx, ftpURL, uint64(have))
	if err != nil {
		return have, err
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return have, eris.Wrap(err, "ftp: reopen partial file")
	}
	defer out.Close() //nolint:errcheck

	zap.L().Info("ftp: resuming download", zap.String("file", dest), zap.Int64("offset", have))
	n, err := io.Copy(out, rc)
	if err != nil {
		return have + n, eris.Wrap(err, "ftp: write file")
	}
	return have + n, nil
}

// List returns the files in the directory at dirURL whose names match
// pattern (case-insensitive, "" for all), sorted by name.
func (f *FTPFetcher) List(ctx context.Context, dirURL, pattern string) ([]Entry, error) {
	loc, err := parseFTPURL(dirURL)
	if err != nil {
		return nil, err
	}
	s, err := f.dial(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer s.quit() //nolint:errcheck

	listing, err := s.list(loc.path)
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: list %s", loc.path)
	}

	var out []Entry
	for _, e := range listing {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		ok, err := matchName(pattern, e.Name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		u := *loc.base
		u.Path = path.Join(loc.path, e.Name)
		out = append(out, Entry{Name: e.Name, URL: u.String(), Size: int64(e.Size), Modified: e.Time})
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
