package artifactstore

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, srv *httptest.Server) *Store {
	t.Helper()
	store, err := New(context.Background(), Config{
		Bucket:          "dg-snapshots",
		Prefix:          "artifacts",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	return store
}

func TestPutFile_UploadsToPrefixedKey(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t, srv)

	dir := t.TempDir()
	path := filepath.Join(dir, "vmlinuz")
	require.NoError(t, os.WriteFile(path, []byte("kernel bytes"), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := store.PutFile(context.Background(), logger, path, "snap1/vmlinuz")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Contains(t, gotPath, "/dg-snapshots/artifacts/snap1/vmlinuz")
}

func TestMirrorSnapshotArtifacts_UploadsAllThreeFiles(t *testing.T) {
	var uploaded []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploaded = append(uploaded, r.URL.Path)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t, srv)

	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinuz")
	initrd := filepath.Join(dir, "initrd.img")
	ipxe := filepath.Join(dir, "boot.ipxe")
	for _, p := range []string{kernel, initrd, ipxe} {
		require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	err := store.MirrorSnapshotArtifacts(context.Background(), logger, "snap-at-20260101", kernel, initrd, ipxe)
	require.NoError(t, err)
	assert.Len(t, uploaded, 3)
}
