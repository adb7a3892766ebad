package resolve

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

var (
	// ErrNotFound reports a path with no file (or no directory index) behind it.
	ErrNotFound = errors.New("resolve: not found")
	// ErrBadRequest reports a path that cannot be served for any other reason.
	ErrBadRequest = errors.New("resolve: bad request")
)

// NewServedDirectory validates that path can be opened as a directory and returns
// it as an absolute root.
func NewServedDirectory(path string) (ServedDirectory, error) {
	if path == "" {
		return ServedDirectory{}, errors.New("resolve: empty root directory")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ServedDirectory{}, fmt.Errorf("resolve: root %s: %w", path, err)
	}
	// Targets are bound-checked after symlink resolution, so the root must be too.
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return ServedDirectory{}, fmt.Errorf("resolve: root: %w", err)
	}
	f, err := os.Open(abs)
	if err != nil {
		return ServedDirectory{}, fmt.Errorf("resolve: root: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ServedDirectory{}, fmt.Errorf("resolve: root: %w", err)
	}
	if !info.IsDir() {
		return ServedDirectory{}, fmt.Errorf("resolve: root %s is not a directory", abs)
	}
	return ServedDirectory{root: abs}, nil
}

// Root returns the absolute root path.
func (d ServedDirectory) Root() string { return d.root }

// Resolve maps a request path onto a file below the root.
//
// "/" becomes "/index.html"; a path naming a directory is re-resolved to the
// index.html inside it. Paths containing ".." segments and files whose symlinks
// lead outside the root are refused. The query string is dropped and the
// remainder percent-decoded before anything else.
func (d ServedDirectory) Resolve(urlPath string) (Target, error) {
	p, _, _ := strings.Cut(urlPath, "?")
	p, err := url.PathUnescape(p)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if p == "/" {
		p = "/" + IndexFile
	}
	if hasDotDot(p) {
		return Target{}, fmt.Errorf("%w: %q escapes the served directory", ErrBadRequest, urlPath)
	}

	t := Target{AbsolutePath: d.root + p}
	if !d.contains(t.AbsolutePath) {
		return Target{}, fmt.Errorf("%w: %q escapes the served directory", ErrBadRequest, urlPath)
	}

	info, err := os.Stat(t.AbsolutePath)
	if err != nil {
		return t, classify(err)
	}
	if info.IsDir() {
		t.IsDirectory = true
		t.AbsolutePath = strings.TrimRight(t.AbsolutePath, "/") + "/" + IndexFile
		info, err = os.Stat(t.AbsolutePath)
		if err != nil {
			return t, classify(err)
		}
		if info.IsDir() {
			return t, fmt.Errorf("%w: %s is a directory", ErrNotFound, t.AbsolutePath)
		}
	}
	canonical, err := filepath.EvalSymlinks(t.AbsolutePath)
	if err != nil {
		return t, classify(err)
	}
	if !d.contains(canonical) {
		return Target{}, fmt.Errorf("%w: %q links outside the served directory", ErrBadRequest, urlPath)
	}
	if !info.Mode().IsRegular() {
		return t, fmt.Errorf("%w: %s is not a regular file", ErrBadRequest, t.AbsolutePath)
	}

	t.Exists = true
	t.Size = info.Size()
	t.ContentType = ContentType(t.AbsolutePath)
	return t, nil
}

// Open opens a resolved target for reading. Failures are classified like Resolve's.
func Open(t Target) (*os.File, error) {
	f, err := os.Open(t.AbsolutePath)
	if err != nil {
		return nil, classify(err)
	}
	return f, nil
}

// ContentType returns the MIME type for path's extension.
func ContentType(path string) string {
	if ct, ok := contentTypes[filepath.Ext(path)]; ok {
		return ct
	}
	return DefaultContentType
}

func (d ServedDirectory) contains(path string) bool {
	rel, err := filepath.Rel(d.root, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func hasDotDot(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func classify(err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}
