package stage

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// copyFile copies the regular file at src to dst, replacing dst and preserving the permission bits of src.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf(`%q is not a regular file`, src)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// copyTree recursively copies the directory at src to dst.  Symbolic links are followed, so the copy contains the
// files they refer to, but a link back into a directory that is still being copied is an error.
func copyTree(src, dst string) error {
	root, err := resolve(src)
	if err != nil {
		return err
	}
	return copyLinked(src, dst, []string{root})
}

// resolve returns the absolute path of path with every symbolic link replaced by its target.
func resolve(path string) (string, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return ``, err
	}
	return filepath.EvalSymlinks(path)
}

// copyLinked copies src to dst, where expanding lists the real paths of the directories being copied that led here.
func copyLinked(src, dst string, expanding []string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.Errorf(`%q is not a directory`, src)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()|0o700); err != nil {
		return err
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == src {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return copyFile(path, target)
			}
			resolved, err := resolve(path)
			if err != nil {
				return err
			}
			for _, dir := range expanding {
				if within(resolved, dir) {
					return errors.Errorf(`symbolic link %q leads back to %q`, path, dir)
				}
			}
			return copyLinked(path, target, append(expanding[:len(expanding):len(expanding)], resolved))
		}
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		return copyFile(path, target)
	})
}
