package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourcesString(t *testing.T) {
	r := Resources{Nodes: 2, ProcsPerNode: 4, VMemMegabytes: 8192}
	assert.Equal(t, "nodes=2:ppn=4,vmem=8192m", r.String())
}

func TestResourcesStringOmitsUndefinedFields(t *testing.T) {
	assert.Equal(t, "", Resources{}.String())
	assert.Equal(t, "nodes=1", Resources{Nodes: 1}.String())
	assert.Equal(t, "vmem=512m", Resources{VMemMegabytes: 512}.String())
}

func TestParseResourceStringRoundTrip(t *testing.T) {
	r, err := ParseResourceString("nodes=2:ppn=4,vmem=8192m")
	require.NoError(t, err)
	assert.Equal(t, Resources{Nodes: 2, ProcsPerNode: 4, VMemMegabytes: 8192}, r)
	assert.Equal(t, "nodes=2:ppn=4,vmem=8192m", r.String())
}

func TestParseResourceStringEmpty(t *testing.T) {
	r, err := ParseResourceString("")
	require.NoError(t, err)
	assert.Equal(t, Resources{}, r)
}
