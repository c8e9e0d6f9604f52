package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"github.com/nainya/folio/pkg/resource"
)

// DiskScheme prefixes ids of the disk adapter.
const DiskScheme = "disk://"

// Disk stores content under a base directory as <owner id>/<filename>.
type Disk struct {
	fs afero.Fs
}

var _ Adapter = (*Disk)(nil)

// NewDisk roots the adapter at base on the given filesystem;
// afero.NewOsFs() in production, afero.NewMemMapFs() in tests.
func NewDisk(fsys afero.Fs, base string) *Disk {
	return &Disk{fs: afero.NewBasePathFs(fsys, base)}
}

func (d *Disk) Handles(id resource.ID) bool {
	return id.HasScheme(DiskScheme)
}

func (d *Disk) filePath(id resource.ID) (string, error) {
	rel := strings.TrimPrefix(id.String(), DiskScheme)
	clean := path.Clean("/" + rel)
	if rel == "" || clean != "/"+rel {
		return "", fmt.Errorf("disk: invalid id %s", id)
	}
	return clean, nil
}

func (d *Disk) Upload(ctx context.Context, src Upload, owner *resource.Resource) (*File, error) {
	defer closeSource(src)
	loc, err := location(owner, src.Filename)
	if err != nil {
		return nil, fmt.Errorf("disk upload: %w", err)
	}
	id := resource.ID(DiskScheme + loc)
	p, err := d.filePath(id)
	if err != nil {
		return nil, err
	}

	if err := d.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("disk upload: %w", err)
	}
	f, err := d.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("disk upload: %w", err)
	}
	if _, err := io.Copy(f, src.Reader); err != nil {
		f.Close()
		return nil, fmt.Errorf("disk upload %s: %w", id, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("disk upload %s: %w", id, err)
	}
	return d.FindBy(ctx, id)
}

func (d *Disk) FindBy(ctx context.Context, id resource.ID) (*File, error) {
	if !d.Handles(id) {
		return nil, notFound(id)
	}
	p, err := d.filePath(id)
	if err != nil {
		return nil, err
	}
	f, err := d.fs.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("disk open %s: %w", id, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("disk stat %s: %w", id, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, notFound(id)
	}
	return &File{ID: id, ReadCloser: f, Size: info.Size()}, nil
}

func (d *Disk) Delete(ctx context.Context, id resource.ID) error {
	p, err := d.filePath(id)
	if err != nil {
		return err
	}
	if err := d.fs.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("disk delete %s: %w", id, err)
	}
	return nil
}
