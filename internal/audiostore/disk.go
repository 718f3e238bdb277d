package audiostore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Disk stores audio under a local directory and returns URLs below a
// configured prefix (default /audio/) that the HTTP server serves.
type Disk struct {
	dir    string
	prefix string
}

// NewDisk creates a disk store rooted at dir. An empty urlPrefix defaults
// to /audio/.
func NewDisk(dir, urlPrefix string) *Disk {
	if dir == "" {
		dir = "audio"
	}
	if urlPrefix == "" {
		urlPrefix = "/audio/"
	}
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	return &Disk{dir: dir, prefix: urlPrefix}
}

// Dir returns the backing directory, for the HTTP file server.
func (d *Disk) Dir() string { return d.dir }

func (d *Disk) Put(ctx context.Context, logicalPath string, data []byte) (string, error) {
	logical, file, err := d.resolve(logicalPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	if err := os.WriteFile(file, data, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return d.prefix + logical, nil
}

func (d *Disk) Get(ctx context.Context, url string) ([]byte, error) {
	_, file, err := d.resolve(strings.TrimPrefix(url, d.prefix))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}
	return data, nil
}

// resolve maps a logical path to its canonical form and a file below the
// store directory; traversal is cleaned away rather than escaping the root.
func (d *Disk) resolve(logicalPath string) (logical, file string, err error) {
	clean := path.Clean("/" + logicalPath)
	if clean == "/" {
		return "", "", fmt.Errorf("empty audio path")
	}
	logical = strings.TrimPrefix(clean, "/")
	return logical, filepath.Join(d.dir, filepath.FromSlash(logical)), nil
}

var _ Store = (*Disk)(nil)
