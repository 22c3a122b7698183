package sitepath

import (
	"context"

	"github.com/tonimelisma/spo/internal/graph"
)

// GraphTree is a Tree backed by Microsoft Graph.
type GraphTree struct {
	client *graph.Client
	siteID string
}

// NewGraphTree returns the tree of the site with the given Graph id.
func NewGraphTree(client *graph.Client, siteID string) *GraphTree {
	return &GraphTree{client: client, siteID: siteID}
}

func (g *GraphTree) SiteRoot() Node {
	return Node{ID: g.siteID, Name: "/", Root: true}
}

func (g *GraphTree) Folders(ctx context.Context, parent Node) ([]Node, error) {
	if parent.Root {
		drives, err := g.client.SiteDrives(ctx, g.siteID)
		if err != nil {
			return nil, err
		}

		nodes := make([]Node, 0, len(drives))
		for _, d := range drives {
			nodes = append(nodes, Node{ID: "root", Name: d.Name, DriveID: d.ID})
		}

		return nodes, nil
	}

	items, err := g.client.Children(ctx, parent.DriveID, parent.ID)
	if err != nil {
		return nil, err
	}

	var nodes []Node

	for _, it := range items {
		if it.IsFolder {
			nodes = append(nodes, Node{ID: it.ID, Name: it.Name, DriveID: parent.DriveID})
		}
	}

	return nodes, nil
}

func (g *GraphTree) DefaultLibraryRoot(ctx context.Context) (Node, error) {
	d, err := g.client.DefaultDrive(ctx, g.siteID)
	if err != nil {
		return Node{}, err
	}

	return Node{ID: "root", Name: d.Name, DriveID: d.ID}, nil
}
