package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoIncludes)

	_, err = New(Config{Includes: []string{"refs/[abc"}})
	require.Error(t, err)
	var pe *PatternError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "refs/[abc", pe.Pattern)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = New(Config{Includes: []string{"**"}, Excludes: []string{"{a"}})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = Include(" ")
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		key  string
		want bool
	}{
		{"submission input", Config{Includes: []string{"*/input.fq.gz"}}, "6ba7b810/input.fq.gz", true},
		{"submission metadata skipped", Config{Includes: []string{"*/input.fq.gz"}}, "6ba7b810/metadata.json", false},
		{"submission nested skipped", Config{Includes: []string{"*/input.fq.gz"}}, "a/b/input.fq.gz", false},
		{"xls result", Config{Includes: []string{"*/*_result.{xls,csv}.gz"}}, "job/output_result.xls.gz", true},
		{"csv result", Config{Includes: []string{"*/*_result.{xls,csv}.gz"}}, "job/output_result.csv.gz", true},
		{"bam intermediate", Config{Includes: []string{"*/*_result.{xls,csv}.gz"}}, "job/output_result.sort.bam", false},
		{"all references", Config{Includes: []string{"**"}}, "hg38/chrY.fa.bwt", true},
		{"hidden skipped", Config{Includes: []string{"**"}}, ".DS_Store", false},
		{"hidden allowed", Config{Includes: []string{"**"}, IncludeHidden: true}, ".DS_Store", true},
		{"excluded", Config{Includes: []string{"**"}, Excludes: []string{"**/*.md"}}, "hg38/README.md", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Match(tt.key))
		})
	}
}

func TestMatcher_PrefixesAndString(t *testing.T) {
	m, err := Include("hg38/chrY*", "hg38/**/*.fai", "mm10/*.fa")
	require.NoError(t, err)
	assert.Equal(t, []string{"hg38/", "mm10/"}, m.Prefixes())
	assert.Equal(t, "hg38/chrY*,hg38/**/*.fai,mm10/*.fa", m.String())

	m, err = Include("**", "hg38/*")
	require.NoError(t, err)
	assert.Equal(t, []string{""}, m.Prefixes())
}

func TestDerivePrefix(t *testing.T) {
	cases := map[string]string{
		"chrY/**/*.fa":    "chrY/",
		"*.fa":            "",
		"hg38/chrY.fa":    "hg38/chrY.fa",
		`a\*b/*`:          "a*b/",
		"ref-{a,b}/x":     "ref-",
		"data/[0-9]*.csv": "data/",
	}
	for pattern, want := range cases {
		assert.Equal(t, want, DerivePrefix(pattern), pattern)
	}
	assert.Nil(t, DerivePrefixes(nil))
}

func TestIsHidden(t *testing.T) {
	assert.False(t, IsHidden("job/input.fq.gz"))
	assert.True(t, IsHidden("job/.geneflow-put-123"))
	assert.True(t, IsHidden(".cache/x"))
	assert.False(t, IsHidden("chrY.fa."))
}
