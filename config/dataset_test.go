package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownDataset(t *testing.T) {
	d, info, err := Lookup("citations")
	require.NoError(t, err)
	assert.Equal(t, Citations, d)
	assert.Equal(t, "citations", info.Table)
	assert.True(t, info.HasSecondary)
	assert.Equal(t, "citingcorpusid", info.SecondaryCol)
}

func TestLookupUnknownDatasetFailsFast(t *testing.T) {
	_, _, err := Lookup("not-a-real-dataset")
	require.Error(t, err)
}

func TestLookupEveryRegisteredDatasetHasTableAndPrimaryKey(t *testing.T) {
	for _, name := range []string{
		"papers", "abstracts", "tldrs", "authors", "publication_venues",
		"citations", "s2orc", "s2orc_v2", "embeddings_specter_v1",
		"embeddings_specter_v2", "paper_ids",
	} {
		_, info, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, info.Table, name)
		assert.NotEmpty(t, info.PrimaryKey, name)
	}
}
