package ca

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Storage persists the root key and certificate PEM.
type Storage interface {
	// Load returns the stored PEM blocks. A missing pair returns an error
	// wrapping os.ErrNotExist.
	Load() (keyPEM, certPEM []byte, err error)
	Save(keyPEM, certPEM []byte) error
}

// FileStorage keeps the root in two files.
type FileStorage struct {
	KeyPath  string
	CertPath string
}

func (s FileStorage) Load() ([]byte, []byte, error) {
	keyPEM, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, nil, err
	}

	certPEM, err := os.ReadFile(s.CertPath)
	if err != nil {
		return nil, nil, err
	}

	return keyPEM, certPEM, nil
}

func (s FileStorage) Save(keyPEM, certPEM []byte) error {
	if err := writeFileAtomic(s.KeyPath, keyPEM, 0o600); err != nil {
		return err
	}

	return writeFileAtomic(s.CertPath, certPEM, 0o644)
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it into place.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	name := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()

	if err := errors.Join(werr, cerr, os.Chmod(name, perm)); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	return nil
}
