package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "unknown"},
		{"future", now.Add(45 * time.Minute), "2026-10-19 12:45 UTC (in 45m0s)"},
		{"past", now.Add(-90 * time.Second), "2026-10-19 11:58 UTC (expired 1m30s ago)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatExpiry(tt.t, now))
		})
	}
}

func TestPrintFields(t *testing.T) {
	var buf bytes.Buffer

	printFields(&buf, [][2]string{
		{"Mode", "oauth2"},
		{"Tenant ID", "abc"},
		{"Skipped", ""},
	})

	assert.Equal(t, "Mode:      oauth2\nTenant ID: abc\n", buf.String())
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"LIBRARY", "ID", "URL"}
	rows := [][]string{
		{"Documents", "b!1", "https://contoso.sharepoint.com/sites/team/Shared%20Documents"},
		{"Archive", "b!22", "https://contoso.sharepoint.com/sites/team/Archive"},
	}

	printTable(&buf, headers, rows)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "LIBRARY    ID    URL"))
	assert.True(t, strings.HasPrefix(lines[1], "Documents  b!1   https://"))
	assert.True(t, strings.HasPrefix(lines[2], "Archive    b!22  https://"))
}
