package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTable struct{}

func (testTable) Header() []string { return []string{"ID", "TOKENS"} }

func (testTable) Rows() [][]string {
	return [][]string{{"a", "10"}, {"long-id", "2000"}}
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "", want: FormatText},
		{in: "text", want: FormatText},
		{in: "JSON", want: FormatJSON},
		{in: "csv", want: FormatCSV},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTextFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&TextFormatter{}).FormatTo(&buf, "plain message"))
	assert.Equal(t, "plain message\n", buf.String())

	buf.Reset()
	require.NoError(t, (&TextFormatter{}).FormatTo(&buf, testTable{}))
	assert.Equal(t, "ID       TOKENS\na        10\nlong-id  2000\n", buf.String())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).FormatTo(&buf, map[string]int{"requests": 3}))
	assert.JSONEq(t, `{"requests":3}`, buf.String())

	buf.Reset()
	require.NoError(t, (&JSONFormatter{Indent: true}).FormatTo(&buf, map[string]int{"requests": 3}))
	assert.Equal(t, "{\n  \"requests\": 3\n}\n", buf.String())
}

func TestCSVFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&CSVFormatter{}).FormatTo(&buf, testTable{}))
	assert.Equal(t, "ID,TOKENS\na,10\nlong-id,2000\n", buf.String())

	assert.Error(t, (&CSVFormatter{}).FormatTo(&buf, "not a table"))
}

func TestNewFormatter(t *testing.T) {
	assert.IsType(t, &TextFormatter{}, NewFormatter(FormatText))
	assert.IsType(t, &JSONFormatter{}, NewFormatter(FormatJSON))
	assert.IsType(t, &CSVFormatter{}, NewFormatter(FormatCSV))
	assert.IsType(t, &TextFormatter{}, NewFormatter("unknown"))
}
