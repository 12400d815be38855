package ca

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	s := FileStorage{
		KeyPath:  filepath.Join(dir, "nested", "ca.key"),
		CertPath: filepath.Join(dir, "nested", "ca.pem"),
	}

	t.Run("missing pair", func(t *testing.T) {
		_, _, err := s.Load()
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("save and load", func(t *testing.T) {
		require.NoError(t, s.Save([]byte("key"), []byte("cert")))

		key, cert, err := s.Load()
		require.NoError(t, err)
		assert.Equal(t, []byte("key"), key)
		assert.Equal(t, []byte("cert"), cert)

		info, err := os.Stat(s.KeyPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		info, err = os.Stat(s.CertPath)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	})

	t.Run("overwrite leaves no temp files", func(t *testing.T) {
		require.NoError(t, s.Save([]byte("key2"), []byte("cert2")))

		entries, err := os.ReadDir(filepath.Dir(s.KeyPath))
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})
}
