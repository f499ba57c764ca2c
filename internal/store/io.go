package store

import (
	"errors"
	"os"
	"path/filepath"
)

// file is one state file in the data directory. Writes replace it
// atomically so a crash leaves either the old or the new contents.
type file struct {
	path string
	mode os.FileMode
}

func newFile(dir, name string) file {
	return file{path: filepath.Join(dir, name), mode: 0o600}
}

// read returns the contents, or nil when the file does not exist yet.
func (f file) read() ([]byte, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// replace writes b to a temp file beside the target and renames it over.
func (f file) replace(b []byte) (err error) {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(b); err == nil {
		err = tmp.Chmod(f.mode)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
