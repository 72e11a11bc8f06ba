package fetcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	args := m.Called(ctx, url)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *mockFetcher) DownloadToFile(ctx context.Context, url, path string) (int64, error) {
	args := m.Called(ctx, url, path)
	return args.Get(0).(int64), args.Error(1)
}

func TestRouter_DispatchesByScheme(t *testing.T) {
	ctx := context.Background()
	httpF := &mockFetcher{}
	ftpF := &mockFetcher{}
	httpF.On("Download", ctx, "https://example.com/a.csv").Return(io.NopCloser(strings.NewReader("h")), nil)
	ftpF.On("Download", ctx, "ftp://example.com/a.csv").Return(io.NopCloser(strings.NewReader("f")), nil)

	r := NewRouter(httpF, ftpF)

	rc, err := r.Download(ctx, "https://example.com/a.csv")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "h", string(b))

	rc, err = r.Download(ctx, "ftp://example.com/a.csv")
	require.NoError(t, err)
	b, _ = io.ReadAll(rc)
	assert.Equal(t, "f", string(b))

	httpF.AssertExpectations(t)
	ftpF.AssertExpectations(t)
}

func TestRouter_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "postings.json")
	require.NoError(t, os.WriteFile(src, []byte("[]"), 0o644))

	r := NewRouter(nil, nil)
	for _, s := range []string{src, "file://" + src} {
		rc, err := r.Download(context.Background(), s)
		require.NoError(t, err, s)
		b, _ := io.ReadAll(rc)
		_ = rc.Close()
		assert.Equal(t, "[]", string(b))
	}

	dst := filepath.Join(dir, "copy.json")
	n, err := r.DownloadToFile(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRouter_Errors(t *testing.T) {
	r := NewRouter(nil, nil)

	_, err := r.Download(context.Background(), "https://example.com/a")
	assert.Error(t, err)
	_, err = r.Download(context.Background(), "ftp://example.com/a")
	assert.Error(t, err)
	_, err = r.Download(context.Background(), "s3://bucket/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
	_, err = r.Download(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestRouter_ListLocal(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Empresas1.zip", "Empresas0.zip", "Socios0.zip"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "Empresas9.zip"), 0o755))

	got, err := NewRouter(nil, nil).List(context.Background(), dir, "EMPRESAS*")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Empresas0.zip", got[0].Name)
	assert.Equal(t, filepath.Join(dir, "Empresas0.zip"), got[0].URL)
	assert.Equal(t, int64(len("Empresas0.zip")), got[0].Size)
	assert.Equal(t, "Empresas1.zip", got[1].Name)
}

func TestRouter_ListFTP(t *testing.T) {
	s := &fakeSession{}
	ftpF, dialed := fakeFTP(FTPOptions{}, s)

	_, err := NewRouter(nil, ftpF).List(context.Background(), "ftp://h/CNPJ/", "")
	require.NoError(t, err)
	require.Len(t, *dialed, 1)

	_, err = NewRouter(nil, &mockFetcher{}).List(context.Background(), "ftp://h/CNPJ/", "")
	assert.Error(t, err, "fetcher without listing support")

	_, err = NewRouter(nil, nil).List(context.Background(), "https://example.com/dir/", "")
	assert.Error(t, err)
}
