package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/convertino-dsp/dspnode/internal/evlog"
)

func TestRegistryClosesLoggerOnLastRelease(t *testing.T) {
	dir := t.TempDir()
	l, err := evlog.New(filepath.Join(dir, "run"))
	require.NoError(t, err)

	reg := NewRegistry(l)

	got1 := reg.Acquire()
	got2 := reg.Acquire()
	require.Same(t, l, got1)
	require.Same(t, l, got2)

	require.NoError(t, reg.Release())
	require.NoError(t, l.Info("still open"))

	require.NoError(t, reg.Release())
	require.Error(t, l.Info("closed by now"))

	_, statErr := os.Stat(filepath.Join(dir, "run.log"))
	require.NoError(t, statErr)
}
