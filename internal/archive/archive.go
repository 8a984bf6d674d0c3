// Package archive bundles Cold-tier quarter directories into single
// tar.gz artifacts and reads individual records back out of them.
package archive

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ShayCichocki/tierlearn/internal/docstore"
	"github.com/ShayCichocki/tierlearn/pkg/models"
)

// Ext is the suffix of a compressed quarter.
const Ext = ".tar.gz"

// ErrMemberNotFound is returned when an archive has no entry with the given name.
var ErrMemberNotFound = errors.New("archive member not found")

// Path returns the compressed artifact path for a quarter under coldDir.
func Path(coldDir string, q models.Quarter) string {
	return filepath.Join(coldDir, q.String()+Ext)
}

// Write atomically replaces path with a tar.gz holding members, sorted by
// name. An empty member set removes the archive instead.
func Write(path string, members map[string][]byte, level int, modTime time.Time) error {
	if len(members) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove empty archive: %w", err)
		}
		return nil
	}

	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return fmt.Errorf("gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	for _, name := range names {
		data := members[name]
		hdr := &tar.Header{
			Name:    name,
			Mode:    0644,
			Size:    int64(len(data)),
			ModTime: modTime,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("tar header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("tar write %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	return docstore.WriteFileAtomic(path, buf.Bytes(), 0644)
}

// ReadAll returns every member of the archive. A missing archive yields an
// empty map.
func ReadAll(path string) (map[string][]byte, error) {
	members := make(map[string][]byte)
	err := walk(path, func(name string, r io.Reader) (bool, error) {
		data, err := io.ReadAll(r)
		if err != nil {
			return false, err
		}
		members[name] = data
		return true, nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return members, nil
	}
	return members, err
}

// Members lists the archive's entry names in stored order.
func Members(path string) ([]string, error) {
	var names []string
	err := walk(path, func(name string, _ io.Reader) (bool, error) {
		names = append(names, name)
		return true, nil
	})
	return names, err
}

// Extract returns one member's content.
func Extract(path, member string) ([]byte, error) {
	var out []byte
	found := false
	err := walk(path, func(name string, r io.Reader) (bool, error) {
		if name != member {
			return true, nil
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return false, err
		}
		out, found = data, true
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s in %s", ErrMemberNotFound, member, filepath.Base(path))
	}
	return out, nil
}

// Remove rewrites the archive without member. Removing the last member
// deletes the archive.
func Remove(path, member string, level int, modTime time.Time) error {
	members, err := ReadAll(path)
	if err != nil {
		return err
	}
	if _, ok := members[member]; !ok {
		return fmt.Errorf("%w: %s in %s", ErrMemberNotFound, member, filepath.Base(path))
	}
	delete(members, member)
	return Write(path, members, level, modTime)
}

// walk streams each regular-file member to fn until fn returns false.
func walk(path string, fn func(name string, r io.Reader) (bool, error)) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("corrupt archive %s: %w", path, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("corrupt archive %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		more, err := fn(hdr.Name, tr)
		if err != nil {
			return fmt.Errorf("read %s from %s: %w", hdr.Name, path, err)
		}
		if !more {
			return nil
		}
	}
}
