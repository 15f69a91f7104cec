package wgconf

import (
	"fmt"
	"os"
	"time"

	"github.com/facebookgo/atomicfile"

	apperrors "github.com/chiquitav2/vpn-leased/internal/shared/errors"
)

// File is an interface config read from disk together with the stat
// snapshot taken when it was read.
type File struct {
	Path   string
	Config *Config

	modTime time.Time
	size    int64
	mode    os.FileMode
}

// Load reads and parses the config at path.
func Load(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError,
			"cannot stat interface config", false, err).WithMetadata("path", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError,
			"cannot read interface config", false, err).WithMetadata("path", path)
	}

	return &File{
		Path:    path,
		Config:  Parse(data),
		modTime: info.ModTime(),
		size:    info.Size(),
		mode:    info.Mode().Perm(),
	}, nil
}

// Changed reports whether the file on disk differs from the snapshot.
func (f *File) Changed() (bool, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return false, err
	}
	return !info.ModTime().Equal(f.modTime) || info.Size() != f.size, nil
}

// Save writes the config back with temp-file + rename. It refuses to
// overwrite a file that was modified after Load.
func (f *File) Save() error {
	changed, err := f.Changed()
	if err != nil {
		return apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError,
			"cannot stat interface config before rewrite", false, err).WithMetadata("path", f.Path)
	}
	if changed {
		return apperrors.DomainErrConfigChanged.WithMetadata("path", f.Path)
	}

	if err := writeAtomic(f.Path, f.Config.Bytes(), f.mode); err != nil {
		return apperrors.NewTunnelError(apperrors.ErrCodeConfigFileError,
			"cannot rewrite interface config", false, err).WithMetadata("path", f.Path)
	}

	info, err := os.Stat(f.Path)
	if err == nil {
		f.modTime = info.ModTime()
		f.size = info.Size()
	}
	return nil
}

func writeAtomic(path string, data []byte, mode os.FileMode) error {
	af, err := atomicfile.New(path, mode)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := af.Write(data); err != nil {
		af.Abort()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := af.Sync(); err != nil {
		af.Abort()
		return fmt.Errorf("sync temp file: %w", err)
	}
	return af.Close()
}
