package astcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validGo = `package sample

func main() {}
`

func TestCache_ParsesAndCaches(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	entry := c.Get("sample.go", []byte(validGo))
	require.NoError(t, entry.ParseErr)
	require.NotNil(t, entry.File)
	assert.Equal(t, "sample", entry.File.Name.Name)
	assert.Equal(t, 1, c.Len())

	// second Get with identical content should hit cache, not grow it
	c.Get("sample.go", []byte(validGo))
	assert.Equal(t, 1, c.Len())
}

func TestCache_CachesParseFailureSentinel(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	entry := c.Get("broken.go", []byte("not valid go {{{"))
	require.Error(t, entry.ParseErr)

	again := c.Get("broken.go", []byte("not valid go {{{"))
	require.Error(t, again.ParseErr)
	assert.Equal(t, 1, c.Len())
}

func TestCache_DifferentContentDifferentKey(t *testing.T) {
	c, err := New(10, nil)
	require.NoError(t, err)

	c.Get("a.go", []byte(validGo))
	c.Get("b.go", []byte(validGo+"\nvar x int\n"))
	assert.Equal(t, 2, c.Len())
}
