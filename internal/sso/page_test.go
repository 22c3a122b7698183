package sso

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, html string) Page {
	t.Helper()

	p, err := ParsePage(strings.NewReader(html))
	require.NoError(t, err)

	return p
}

func TestPage_FirstFormAndNamedInputs(t *testing.T) {
	p := parse(t, `<html><body>
<form action="https://login.example.com/first"><input name="a" value="1"/><input value="unnamed"/></form>
<form action="https://login.example.com/second"><input name="b"/></form>
</body></html>`)

	action, ok := p.FormAction()
	require.True(t, ok)
	assert.Equal(t, "https://login.example.com/first", action)

	fields, ok := p.FormFields()
	require.True(t, ok)
	assert.Equal(t, url.Values{"a": {"1"}, "b": {""}}, fields)
}

func TestPage_NoForm(t *testing.T) {
	p := parse(t, `<html><body><p>Incorrect user ID or password.</p></body></html>`)

	_, ok := p.FormAction()
	assert.False(t, ok)

	_, ok = p.FormFields()
	assert.False(t, ok)
}

func TestAbsoluteAction(t *testing.T) {
	cases := map[string]bool{
		`<form action="https://login.example.com/x"></form>`: true,
		`<form action="http://adfs.example.com/x"></form>`:   true,
		`<form action="/relative"></form>`:                   false,
		`<form action="javascript:void(0)"></form>`:          false,
		`<form action=""></form>`:                            false,
		`<form></form>`:                                      false,
	}

	for html, want := range cases {
		_, ok := absoluteAction(parse(t, html))
		assert.Equal(t, want, ok, html)
	}
}

func TestReadForm(t *testing.T) {
	action, fields, ok := readForm([]byte(`<form action="https://x.example.com/p"><input name="t" value="v"/></form>`))
	require.True(t, ok)
	assert.Equal(t, "https://x.example.com/p", action)
	assert.Equal(t, "v", fields.Get("t"))

	_, _, ok = readForm([]byte(`<form action="https://x.example.com/p"></form>`))
	assert.False(t, ok)
}
