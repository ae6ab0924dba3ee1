package atomicfile

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerouihq/constitution-core/pkg/corerr"
)

func TestWriter_WriteThenRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/data/doc.json", 2)

	require.NoError(t, w.Write([]byte(`{"v":1}`)))
	got, err := w.Read()
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))
}

func TestWriter_NoTempFileLeftOnTarget(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/data/doc.json", 1)
	require.NoError(t, w.Write([]byte("v1")))

	exists, err := afero.DirExists(fs, "/data")
	require.NoError(t, err)
	assert.True(t, exists)

	matches, err := afero.Glob(fs, "/data/doc.json.tmp.*")
	require.NoError(t, err)
	assert.Empty(t, matches, "no temp file should remain after a successful write")
}

func TestWriter_BackupRotation(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/data/doc.json", 2)

	require.NoError(t, w.Write([]byte("v1")))
	require.NoError(t, w.Write([]byte("v2")))
	require.NoError(t, w.Write([]byte("v3")))

	b1, err := afero.ReadFile(fs, "/data/doc.json.bak.1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b1))

	b2, err := afero.ReadFile(fs, "/data/doc.json.bak.2")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(b2))
}

func TestWriter_RestoreLatestBackup(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/data/doc.json", 2)
	require.NoError(t, w.Write([]byte("good")))
	require.NoError(t, w.Write([]byte("corrupt-me")))

	// simulate the live target becoming unparseable
	require.NoError(t, afero.WriteFile(fs, "/data/doc.json", []byte("{{{not json"), 0o644))

	restored, err := w.RestoreLatestBackup(func(b []byte) bool { return string(b) == "good" })
	require.NoError(t, err)
	assert.Equal(t, "good", string(restored))

	current, err := w.Read()
	require.NoError(t, err)
	assert.Equal(t, "good", string(current))
}

func TestWriter_RestoreLatestBackup_AllCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	w := New(fs, "/data/doc.json", 1)
	require.NoError(t, w.Write([]byte("not-the-expected-value")))
	require.NoError(t, w.Write([]byte("also-not-it")))

	_, err := w.RestoreLatestBackup(func(b []byte) bool { return string(b) == "never-matches" })
	require.Error(t, err)
	var ce *corerr.CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, corerr.BackendCorrupt, ce.Kind)
}
