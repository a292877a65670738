package labels_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/flightsurety/labels"
)

func TestIndexesRedrawsCollisions(t *testing.T) {
	d := labels.NewDrawer(labels.NewSequence(2, 12, 22, 5, 15, 8))
	got := d.Indexes()
	assert.Equal(t, labels.Set{2, 5, 8}, got)
}

func TestIndexWrapsModuloCount(t *testing.T) {
	d := labels.NewDrawer(labels.NewSequence(47))
	assert.Equal(t, labels.Label(7), d.Index())
}

func TestHashEntropyIsDeterministic(t *testing.T) {
	a := labels.NewDrawer(labels.NewHashEntropy([]byte("block"), "ORACLE1"))
	b := labels.NewDrawer(labels.NewHashEntropy([]byte("block"), "ORACLE1"))
	for range 20 {
		require.Equal(t, a.Index(), b.Index())
	}
}

func TestParseSet(t *testing.T) {
	s, err := labels.ParseSet("2, 5,8")
	require.NoError(t, err)
	assert.True(t, s.Contains(5))
	assert.False(t, s.Contains(3))
	assert.Equal(t, "2,5,8", s.String())

	_, err = labels.ParseSet("2,2,8")
	assert.Error(t, err)
	_, err = labels.ParseSet("1,2")
	assert.Error(t, err)
	_, err = labels.ParseSet("1,2,10")
	assert.Error(t, err)
}

func TestSortedDoesNotMutate(t *testing.T) {
	s := labels.Set{8, 2, 5}
	assert.Equal(t, labels.Set{2, 5, 8}, s.Sorted())
	assert.Equal(t, labels.Set{8, 2, 5}, s)
}

// Every oracle assignment holds exactly three distinct labels in 0..9.
func TestIndexesAlwaysDistinct(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("draws are three distinct labels", prop.ForAll(
		func(seed []byte, account uint32) bool {
			d := labels.NewDrawer(labels.NewHashEntropy(seed, fmt.Sprintf("%08X", account)))
			s := d.Indexes()
			return s.Distinct()
		},
		gen.SliceOf(gen.UInt8()),
		gen.UInt32(),
	))

	properties.TestingRun(t)
}
