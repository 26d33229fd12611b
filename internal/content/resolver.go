// Package content maps request paths to files under the served root and
// renders them into HTTP responses. Resolution and rendering are side-effect
// free so they can run before authorization: the access gate uses the
// rendered outcome to describe a request to the operator.
package content

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// indexCandidates is the directory index search order. The first existing
// entry wins. The list is case-sensitive.
var indexCandidates = []string{
	"index.html",
	"index.htm",
	"index.md",
	"index.markdown",
	"README.md",
	"README.markdown",
	"index.txt",
	"README.txt",
	"index",
	"README",
}

// TargetKind classifies what a request path resolved to.
type TargetKind int

const (
	// KindFile is a regular file, either requested directly or found
	// through the directory index search.
	KindFile TargetKind = iota

	// KindDirectory is a directory containing none of the index candidates;
	// a generated listing page is served instead.
	KindDirectory

	// KindNotFound is a path with no corresponding file or directory.
	// Paths escaping the served root also resolve to KindNotFound so the
	// response never reveals anything outside the root.
	KindNotFound
)

// Target is the result of resolving a request path against the served root.
type Target struct {
	// Kind classifies the target.
	Kind TargetKind

	// Path is the absolute filesystem path of the file or directory.
	// Empty for KindNotFound.
	Path string

	// RequestPath is the cleaned URL path the target was resolved from.
	// Links in generated pages are built relative to it.
	RequestPath string

	// IndexName is the name of the matched index file when a directory
	// request resolved to a file ("" otherwise). Used in prompt text.
	IndexName string
}

// Resolve maps a URL path to a filesystem target under root.
//
// Resolution rules:
//   - a regular file is served as-is
//   - a directory is searched for index candidates in order; the first hit wins
//   - a directory with no index yields a listing target
//   - anything else, including traversal attempts, is not found
//
// Resolve never touches the filesystem beyond stat calls.
func Resolve(root, requestPath string) Target {
	// Roots arrive from flags and config; a trailing slash would defeat the
	// containment check below and reject every request.
	root = filepath.Clean(root)
	cleaned := path.Clean("/" + requestPath)

	fsPath := filepath.Join(root, filepath.FromSlash(cleaned))

	// filepath.Join cleans the result, so a crafted path cannot climb out of
	// root; this check guards against a root that is itself a prefix of a
	// sibling directory (e.g. /srv/docs vs /srv/docs-private).
	if fsPath != root && !strings.HasPrefix(fsPath, root+string(filepath.Separator)) {
		return Target{Kind: KindNotFound, RequestPath: cleaned}
	}

	info, err := os.Stat(fsPath)
	if err != nil {
		return Target{Kind: KindNotFound, RequestPath: cleaned}
	}

	if !info.IsDir() {
		return Target{Kind: KindFile, Path: fsPath, RequestPath: cleaned}
	}

	for _, name := range indexCandidates {
		candidate := filepath.Join(fsPath, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return Target{
				Kind:        KindFile,
				Path:        candidate,
				RequestPath: cleaned,
				IndexName:   name,
			}
		}
	}

	return Target{Kind: KindDirectory, Path: fsPath, RequestPath: cleaned}
}
