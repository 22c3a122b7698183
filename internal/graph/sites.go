package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// User is the signed-in account.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Site is a SharePoint site.
type Site struct {
	ID          string
	Name        string
	DisplayName string
	WebURL      string
}

// Drive is a document library of a site.
type Drive struct {
	ID     string
	Name   string
	WebURL string
}

type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Mail        string `json:"mail"`
	UPN         string `json:"userPrincipalName"`
}

type siteResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	WebURL      string `json:"webUrl"`
}

type driveResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	WebURL string `json:"webUrl"`
}

type drivesListResponse struct {
	Value []driveResponse `json:"value"`
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var ur userResponse
	if err := c.getJSON(ctx, "/me", &ur); err != nil {
		return nil, err
	}

	email := ur.Mail
	if email == "" {
		email = ur.UPN
	}

	return &User{ID: ur.ID, DisplayName: ur.DisplayName, Email: email}, nil
}

// Site resolves a site by host name and server-relative path, for example
// ("contoso.sharepoint.com", "/sites/team"). An empty path is the root site.
func (c *Client) Site(ctx context.Context, hostname, sitePath string) (*Site, error) {
	path := "/sites/" + url.PathEscape(hostname)
	if p := strings.Trim(sitePath, "/"); p != "" {
		path += ":/" + escapeSegments(p) + ":"
	}

	var sr siteResponse
	if err := c.getJSON(ctx, path, &sr); err != nil {
		return nil, err
	}

	c.logger.Debug("resolved site", slog.String("id", sr.ID), slog.String("web_url", sr.WebURL))

	return &Site{ID: sr.ID, Name: sr.Name, DisplayName: sr.DisplayName, WebURL: sr.WebURL}, nil
}

// SiteDrives lists a site's document libraries.
func (c *Client) SiteDrives(ctx context.Context, siteID string) ([]Drive, error) {
	var dlr drivesListResponse
	if err := c.getJSON(ctx, "/sites/"+siteID+"/drives", &dlr); err != nil {
		return nil, err
	}

	drives := make([]Drive, 0, len(dlr.Value))
	for _, d := range dlr.Value {
		drives = append(drives, Drive{ID: d.ID, Name: d.Name, WebURL: d.WebURL})
	}

	c.logger.Debug("listed site drives", slog.String("site_id", siteID), slog.Int("count", len(drives)))

	return drives, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("graph: decoding %s: %w", path, err)
	}

	return nil
}

func escapeSegments(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}

	return strings.Join(parts, "/")
}

// Item is a drive item. Only folders matter to path resolution.
type Item struct {
	ID       string
	Name     string
	IsFolder bool
}

type itemResponse struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Folder *json.RawMessage `json:"folder"`
}

type itemsListResponse struct {
	Value    []itemResponse `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// DefaultDrive returns the site's default document library.
func (c *Client) DefaultDrive(ctx context.Context, siteID string) (*Drive, error) {
	var dr driveResponse
	if err := c.getJSON(ctx, "/sites/"+siteID+"/drive", &dr); err != nil {
		return nil, err
	}

	return &Drive{ID: dr.ID, Name: dr.Name, WebURL: dr.WebURL}, nil
}

// Children lists the items under itemID ("root" for the drive root),
// following @odata.nextLink pages.
func (c *Client) Children(ctx context.Context, driveID, itemID string) ([]Item, error) {
	path := "/drives/" + driveID + "/items/" + itemID + "/children"

	var items []Item

	for path != "" {
		var page itemsListResponse
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}

		for _, it := range page.Value {
			items = append(items, Item{ID: it.ID, Name: it.Name, IsFolder: it.Folder != nil})
		}

		path = ""

		if page.NextLink != "" {
			next, err := c.relative(page.NextLink)
			if err != nil {
				return nil, err
			}

			path = next
		}
	}

	return items, nil
}

// relative strips the base URL from an absolute nextLink.
func (c *Client) relative(link string) (string, error) {
	if !strings.HasPrefix(link, c.baseURL) {
		return "", fmt.Errorf("graph: nextLink %q outside base URL", link)
	}

	return strings.TrimPrefix(link, c.baseURL), nil
}
