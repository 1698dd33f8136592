package revision

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// File is a State persisted in a plain file, so the agent survives pod
// restarts with a writable volume and nothing else.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) GetRevision(ctx context.Context) (string, error) {
	data, err := ioutil.ReadFile(f.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "reading revision state %s", f.path)
	}
	return strings.TrimSpace(string(data)), nil
}

// UpdateMarker writes the revision atomically (write-then-rename), so
// a crash mid-write cannot leave a truncated marker behind.
func (f *File) UpdateMarker(ctx context.Context, revision string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating state dir %s", dir)
	}
	tmp, err := ioutil.TempFile(dir, ".revision-")
	if err != nil {
		return errors.Wrap(err, "creating temp state file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(revision + "\n"); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp state file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp state file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), f.path), "renaming state file into place")
}

func (f *File) DeleteMarker(ctx context.Context) error {
	err := os.Remove(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *File) String() string { return "file " + f.path }
