package domain

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantKey(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
		want string
	}{
		{"empty selection", []string{}, DefaultVariantKey},
		{"nil selection", nil, DefaultVariantKey},
		{"single id", []string{"red"}, "red"},
		{"sorted ids", []string{"large", "red"}, "large+red"},
		{"unsorted ids", []string{"red", "large"}, "large+red"},
		{"duplicates kept", []string{"red", "red"}, "red+red"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VariantKey(tt.ids))
		})
	}
}

func TestVariantKey_PermutationInvariant(t *testing.T) {
	ids := []string{"c7", "a1", "b2", "z9", "m5"}
	want := VariantKey(ids)
	rng := rand.New(rand.NewSource(42))

	for range 50 {
		shuffled := append([]string(nil), ids...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		assert.Equal(t, want, VariantKey(shuffled))
	}
}

func TestVariantKey_DoesNotMutateInput(t *testing.T) {
	ids := []string{"red", "large"}
	VariantKey(ids)
	assert.Equal(t, []string{"red", "large"}, ids)
}

func TestSplitVariantKey(t *testing.T) {
	assert.Nil(t, SplitVariantKey(DefaultVariantKey))
	assert.Nil(t, SplitVariantKey(""))
	assert.Equal(t, []string{"large", "red"}, SplitVariantKey("large+red"))
}

func colorSize() []VariantType {
	return []VariantType{
		{ID: "color", Name: "Color", Items: []VariantItem{{ID: "red", Name: "Red"}, {ID: "blue", Name: "Blue"}}},
		{ID: "size", Name: "Size", Items: []VariantItem{{ID: "s", Name: "Small"}, {ID: "m", Name: "Medium"}, {ID: "l", Name: "Large"}}},
	}
}

func TestGenerateCombinations_Empty(t *testing.T) {
	combos := GenerateCombinations(nil)
	require.Len(t, combos, 1)
	assert.Equal(t, DefaultVariantKey, combos[0].Key)
	assert.Equal(t, "Default", combos[0].Label)
	assert.Empty(t, combos[0].ItemIDs)
}

func TestGenerateCombinations_CartesianProduct(t *testing.T) {
	combos := GenerateCombinations(colorSize())
	require.Len(t, combos, 6)

	keys := make(map[string]struct{})
	for _, c := range combos {
		keys[c.Key] = struct{}{}
		assert.Len(t, c.ItemIDs, 2)
		assert.Equal(t, VariantKey(c.ItemIDs), c.Key)
	}
	assert.Len(t, keys, 6, "keys must be unique")

	// Labels follow declaration order, keys are sorted.
	assert.Equal(t, "Color: Red, Size: Small", combos[0].Label)
	assert.Equal(t, "red+s", combos[0].Key)
	assert.Equal(t, []string{"red", "s"}, combos[0].ItemIDs)
	assert.Equal(t, "Color: Blue, Size: Large", combos[5].Label)
	assert.Equal(t, "blue+l", combos[5].Key)
}

func TestGenerateCombinations_ItemIDsIndependent(t *testing.T) {
	combos := GenerateCombinations(colorSize())
	combos[0].ItemIDs[0] = "mutated"
	assert.Equal(t, "red", combos[1].ItemIDs[0])
}

func TestGenerateCombinations_EmptyType(t *testing.T) {
	types := append(colorSize(), VariantType{ID: "finish", Name: "Finish"})
	assert.Empty(t, GenerateCombinations(types))
	assert.Equal(t, 0, CountCombinations(types))
}

func TestCountCombinations(t *testing.T) {
	assert.Equal(t, 1, CountCombinations(nil))
	assert.Equal(t, 6, CountCombinations(colorSize()))

	wide := make([]VariantItem, 1<<16)
	huge := []VariantType{{Items: wide}, {Items: wide}, {Items: wide}, {Items: wide}, {Items: wide}}
	assert.Equal(t, math.MaxInt, CountCombinations(huge))
}

func TestValidateCombinationCount(t *testing.T) {
	assert.NoError(t, ValidateCombinationCount("op", colorSize(), 6))

	err := ValidateCombinationCount("op", colorSize(), 5)
	require.Error(t, err)
	assert.Equal(t, EINVALID, ErrorCode(err))

	items := make([]VariantItem, 40)
	assert.Error(t, ValidateCombinationCount("op", []VariantType{{Items: items}, {Items: items}}, 0),
		"zero limit falls back to the default cap")
}
