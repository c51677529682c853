package feed

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oshokin/pkgdeploy/internal/logger"
)

// Pack computes the checksum of every file under dir and writes the manifest into dir.
// Identity, conflicts and properties are taken from m, the file list is rebuilt.
func Pack(ctx context.Context, dir string, m *Manifest) error {
	m.Files = make(map[string]string)

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if name == ManifestFilename {
			return nil
		}

		sum, err := FileChecksum(p)
		if err != nil {
			return err
		}

		m.Files[name] = base64.StdEncoding.EncodeToString(sum)
		logger.DebugKV(ctx, "Packed file", "file", name)

		return nil
	})
	if err != nil {
		return fmt.Errorf("pack %s: %w", dir, err)
	}

	if err = m.Validate(); err != nil {
		return err
	}

	return m.Save(dir)
}

// PackagePath returns the folder of a package version inside a feed root.
func PackagePath(feedRoot, name, version string) string {
	return filepath.Join(feedRoot, name, version)
}

// Publish copies the contents of src into the feed root and packs them there.
// It returns the published package folder.
func Publish(ctx context.Context, src, feedRoot string, m *Manifest) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}

	dst := PackagePath(feedRoot, m.Name, m.Version)
	if err := os.RemoveAll(dst); err != nil {
		return "", fmt.Errorf("clean %s: %w", dst, err)
	}

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		if filepath.ToSlash(rel) == ManifestFilename {
			return nil
		}

		return copyFile(p, target)
	})
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", m.ID(), err)
	}

	if err = Pack(ctx, dst, m); err != nil {
		return "", err
	}

	logger.InfoKV(ctx, "Package published", "package", m.ID().String(), "path", dst, "files", len(m.Files))

	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}
