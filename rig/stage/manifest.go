package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// A File describes one file in the staging directory.
type File struct {
	Path   string `json:"path"` // slash separated, relative to the staging directory
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// A Manifest lists the files in a staging directory, sorted by path.
type Manifest []File

// Scan walks dir and returns a manifest of every regular file below it.
func Scan(dir string) (Manifest, error) {
	var seq Manifest
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		file, err := scanFile(path)
		if err != nil {
			return err
		}
		file.Path = filepath.ToSlash(rel)
		seq = append(seq, file)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(seq, func(i, j int) bool { return seq[i].Path < seq[j].Path })
	return seq, nil
}

func scanFile(path string) (File, error) {
	var file File
	f, err := os.Open(path)
	if err != nil {
		return file, err
	}
	defer f.Close()
	h := sha256.New()
	file.Size, err = io.Copy(h, f)
	if err != nil {
		return file, err
	}
	file.SHA256 = hex.EncodeToString(h.Sum(nil))
	return file, nil
}

// Paths returns the path of each file in the manifest.
func (seq Manifest) Paths() []string {
	paths := make([]string, len(seq))
	for i, file := range seq {
		paths[i] = file.Path
	}
	return paths
}

// Size returns the total size of the files in the manifest.
func (seq Manifest) Size() int64 {
	var n int64
	for _, file := range seq {
		n += file.Size
	}
	return n
}

// Digest returns a hash of the paths and contents of the manifest; two staging directories with the same digest are
// byte-identical.
func (seq Manifest) Digest() string {
	h := sha256.New()
	for _, file := range seq {
		io.WriteString(h, file.Path)
		h.Write([]byte{0})
		io.WriteString(h, file.SHA256)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
