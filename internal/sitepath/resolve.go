package sitepath

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrNotFound is returned when a folder path does not exist.
var ErrNotFound = errors.New("sitepath: folder not found")

// Node is a folder in a site: the site root, a document library root or a
// folder inside a library.
type Node struct {
	ID      string
	Name    string
	DriveID string
	Root    bool // the site root above the libraries
}

// Tree is the folder structure of one site.
type Tree interface {
	// SiteRoot returns the node above the document libraries.
	SiteRoot() Node
	// Folders lists the sub-folders of parent.
	Folders(ctx context.Context, parent Node) ([]Node, error)
	// DefaultLibraryRoot returns the root folder of the default document library.
	DefaultLibraryRoot(ctx context.Context) (Node, error)
}

// ResolveFolder walks path from the site root, matching names after
// Unicode NFC normalization.
//
// A first component that names no library resolves to the default library
// root, so "Shared Documents/x" and "Documents/x" (the library's URL name
// and display name) both work. The fallback applies only at the top level.
func ResolveFolder(ctx context.Context, tree Tree, path string) (Node, error) {
	folder := tree.SiteRoot()

	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}

		children, err := tree.Folders(ctx, folder)
		if err != nil {
			return Node{}, fmt.Errorf("sitepath: listing %s: %w", folder.Name, err)
		}

		next, ok := findByName(children, part)
		if !ok {
			if !folder.Root {
				return Node{}, fmt.Errorf("%w: %s does not exist", ErrNotFound, path)
			}

			next, err = fallbackToDefaultLibrary(ctx, tree)
			if err != nil {
				return Node{}, err
			}
		}

		folder = next
	}

	return folder, nil
}

// fallbackToDefaultLibrary maps an unknown top-level name to the default
// library root.
func fallbackToDefaultLibrary(ctx context.Context, tree Tree) (Node, error) {
	n, err := tree.DefaultLibraryRoot(ctx)
	if err != nil {
		return Node{}, fmt.Errorf("sitepath: default document library: %w", err)
	}

	return n, nil
}

func findByName(nodes []Node, name string) (Node, bool) {
	want := norm.NFC.String(name)

	for _, n := range nodes {
		if norm.NFC.String(n.Name) == want {
			return n, true
		}
	}

	return Node{}, false
}
