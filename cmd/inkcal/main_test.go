package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkcal/internal/config"
)

const sample = "BEGIN:VCALENDAR\nBEGIN:VEVENT\nSUMMARY:Gig\nEND:VEVENT\nEND:VCALENDAR\n"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	return cfg
}

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestParseFromStdin(t *testing.T) {
	doc, err := parseFlags{}.read(context.Background(), strings.NewReader(sample))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeDocument(&buf, doc))
	assert.Equal(t, map[string]any{
		"VCALENDAR": []any{map[string]any{
			"VEVENT": []any{map[string]any{"SUMMARY": "Gig"}},
		}},
	}, decode(t, buf.Bytes()))
}

func TestParseFromFileAndText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "basic.ics")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	fromFile, err := parseFlags{file: path}.read(context.Background(), nil)
	require.NoError(t, err)
	fromText, err := parseFlags{text: sample}.read(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, fromFile, fromText)

	_, err = parseFlags{file: filepath.Join(t.TempDir(), "nope.ics")}.read(context.Background(), nil)
	assert.Error(t, err)
}

func TestWriteDocumentKeepsMarkup(t *testing.T) {
	doc, err := parseFlags{text: "DESCRIPTION:<b>Info</b>: soon\n"}.read(context.Background(), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeDocument(&buf, doc))
	assert.Contains(t, buf.String(), `"DESCRIPTION": "<b>Info</b>: soon"`)
}

func TestOpenPanelModes(t *testing.T) {
	cfg := testConfig(t)

	p, err := openPanel(cfg, runFlags{renderOnly: true})
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = openPanel(cfg, runFlags{dump: true})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.DirExists(t, filepath.Join(cfg.StateDir, "dump"))
}
