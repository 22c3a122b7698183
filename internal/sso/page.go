package sso

import (
	"fmt"
	"io"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

// Page is the part of an HTML page the login flow reads: the single
// auto-submitting form the identity provider returns between hops.
type Page interface {
	// FormAction returns the action URL of the first form.
	FormAction() (string, bool)
	// FormFields returns every named input on the page with its value.
	FormFields() (url.Values, bool)
}

type htmlPage struct {
	doc *goquery.Document
}

// ParsePage parses an HTML document.
func ParsePage(r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("sso: parsing HTML: %w", err)
	}

	return &htmlPage{doc: doc}, nil
}

func (p *htmlPage) FormAction() (string, bool) {
	action, ok := p.doc.Find("form").First().Attr("action")
	if !ok || action == "" {
		return "", false
	}

	return action, true
}

func (p *htmlPage) FormFields() (url.Values, bool) {
	fields := url.Values{}

	p.doc.Find("input[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		if name == "" {
			return
		}

		value, _ := s.Attr("value")
		fields.Set(name, value)
	})

	if len(fields) == 0 {
		return nil, false
	}

	return fields, true
}

// absoluteAction returns the form action if it is an absolute http(s) URL.
func absoluteAction(p Page) (string, bool) {
	action, ok := p.FormAction()
	if !ok {
		return "", false
	}

	u, err := url.Parse(action)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}

	return action, true
}
