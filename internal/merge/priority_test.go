package merge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/people-lookup/internal/model"
)

func TestOrderFor_FallsBackToDefault(t *testing.T) {
	p := DefaultPriority()

	assert.Equal(t, []model.Backend{
		model.BackendCloudIdentity,
		model.BackendDirectory,
		model.BackendContactCenter,
	}, p.OrderFor(model.FieldDisplayName))

	assert.Equal(t, []model.Backend{model.BackendContactCenter}, p.OrderFor(model.FieldAgentID))
}

func TestLoadPriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.yaml")
	doc := `
default: [directory, cloudid, contactcenter]
fields:
  title: [cloudid]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	p, err := LoadPriority(path)
	require.NoError(t, err)

	assert.Equal(t, []model.Backend{
		model.BackendDirectory,
		model.BackendCloudIdentity,
		model.BackendContactCenter,
	}, p.Default)
	assert.Equal(t, []model.Backend{model.BackendCloudIdentity}, p.OrderFor(model.FieldTitle))
}

func TestLoadPriority_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "priority.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  email: [directory]\n"), 0o600))

	p, err := LoadPriority(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPriority().Default, p.Default)
	assert.Equal(t, []model.Backend{model.BackendDirectory}, p.OrderFor(model.FieldEmail))
}

func TestLoadPriority_MissingFile(t *testing.T) {
	_, err := LoadPriority(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
