package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"imgharvest/pkg/config"
	errs "imgharvest/pkg/errors"
)

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input    string
		expected []int
		wantErr  bool
	}{
		{input: "", expected: nil},
		{input: "3", expected: []int{3}},
		{input: "1, 3,5,", expected: []int{1, 3, 5}},
		{input: "a,2", wantErr: true},
		{input: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseSelection(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCollectFlagsOnlyChanged(t *testing.T) {
	require.NoError(t, downloadCmd.ParseFlags([]string{"--max-workers", "8", "--exclude-gifs=false", "-o", "/tmp/out"}))

	flags := collectFlags(downloadCmd)
	assert.Equal(t, 8, flags["max-workers"])
	assert.Equal(t, false, flags["exclude-gifs"])
	assert.Equal(t, "/tmp/out", flags["output"])
	assert.NotContains(t, flags, "max-retries")
	assert.NotContains(t, flags, "exclude-small")

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 8, cfg.Download.MaxWorkers)
	assert.False(t, cfg.Filter.ExcludeGifs)
	assert.True(t, cfg.Filter.ExcludeSmall)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, yaml.Unmarshal([]byte(exampleConfig), cfg))
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "12345678", shortID("12345678-aaaa"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestSelectionTotal(t *testing.T) {
	tests := []struct {
		name     string
		selected []int
		kept     int
		expected int
	}{
		{name: "all kept", selected: nil, kept: 4, expected: 4},
		{name: "distinct", selected: []int{3, 1}, kept: 4, expected: 2},
		{name: "repeated", selected: []int{4, 4, 1, 4}, kept: 4, expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := append([]int(nil), tt.selected...)
			assert.Equal(t, tt.expected, selectionTotal(tt.selected, tt.kept))
			assert.Equal(t, before, tt.selected, "selection is not reordered")
		})
	}
}
