package backend

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTarball(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "world", "region"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "server.properties"), []byte("motd=hello\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(src, "world", "region", "r.0.0.mca"), []byte{0x01, 0x02}, 0o640))

	dst := filepath.Join(t.TempDir(), "backup.tar.gz")
	require.NoError(t, writeTarball(src, dst))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := map[string]string{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			entries[hdr.Name] = ""
			continue
		}
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = string(body)
	}

	assert.Equal(t, "motd=hello\n", entries["server.properties"])
	assert.Contains(t, entries, filepath.Join("world", "region", "r.0.0.mca"))
}
