// Package resolve maps request paths onto files below the served directory.
package resolve

// IndexFile is substituted for "/" and for any path naming a directory.
const IndexFile = "index.html"

// DefaultContentType is used for every extension outside the content-type table.
const DefaultContentType = "application/octet-stream"

// ServedDirectory is the root every request path is resolved against.
// It is built once at startup and never changes afterwards.
type ServedDirectory struct {
	root string
}

// Target is the outcome of resolving a request path.
// It describes the file that will be streamed back to the client.
type Target struct {
	// AbsolutePath is the file to open, after index substitution.
	AbsolutePath string
	// Exists is true once the file has been found on disk.
	Exists bool
	// IsDirectory reports that the request named a directory and was
	// re-resolved to the index file inside it.
	IsDirectory bool
	// Size is the file length in bytes, sent as Content-Length.
	Size int64
	// ContentType is derived from the file extension only.
	ContentType string
}

// contentTypes is matched on the exact extension; anything else is
// DefaultContentType.
var contentTypes = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}
