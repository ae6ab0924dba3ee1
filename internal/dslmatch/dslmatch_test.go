package dslmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_WildcardArgs(t *testing.T) {
	p, err := Parse(`os.Exit(*)`)
	require.NoError(t, err)
	assert.Equal(t, []string{"os", "Exit"}, p.Path)
	assert.True(t, p.Args.Wildcard)
}

func TestParse_NoArgs(t *testing.T) {
	p, err := Parse(`fmt.Println()`)
	require.NoError(t, err)
	assert.Empty(t, p.Args.Args)
	assert.False(t, p.Args.Wildcard)
}

func TestParse_ExactArg(t *testing.T) {
	p, err := Parse(`fmt.Println("debug")`)
	require.NoError(t, err)
	require.Len(t, p.Args.Args, 1)
	require.NotNil(t, p.Args.Args[0].Exact)
	assert.Equal(t, `"debug"`, *p.Args.Args[0].Exact)
}

func TestPattern_Matches_Wildcard(t *testing.T) {
	p, err := Parse(`os.Exit(*)`)
	require.NoError(t, err)
	assert.True(t, p.Matches(CallSite{Path: []string{"os", "Exit"}, Args: []string{"1"}}))
	assert.False(t, p.Matches(CallSite{Path: []string{"os", "Getenv"}, Args: []string{"X"}}))
}

func TestPattern_Matches_ExactArg(t *testing.T) {
	p, err := Parse(`fmt.Println("debug")`)
	require.NoError(t, err)
	assert.True(t, p.Matches(CallSite{Path: []string{"fmt", "Println"}, Args: []string{"debug"}}))
	assert.False(t, p.Matches(CallSite{Path: []string{"fmt", "Println"}, Args: []string{"other"}}))
}

func TestPattern_Matches_NoArgs(t *testing.T) {
	p, err := Parse(`fmt.Println()`)
	require.NoError(t, err)
	assert.True(t, p.Matches(CallSite{Path: []string{"fmt", "Println"}}))
	assert.False(t, p.Matches(CallSite{Path: []string{"fmt", "Println"}, Args: []string{"x"}}))
}
