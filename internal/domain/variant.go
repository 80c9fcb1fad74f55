package domain

import (
	"math"
	"slices"
	"strings"
)

// DefaultVariantKey identifies the single stock slot of a product that
// declares no variants, and the combination produced by an empty selection.
const DefaultVariantKey = "default"

const variantKeySeparator = "+"

// DefaultMaxVariantCombinations caps how many combinations a product may
// expand to before generation is refused.
const DefaultMaxVariantCombinations = 1000

// VariantItem is one selectable option within a variant type, e.g. "Red".
type VariantItem struct {
	ID   string `json:"id" bson:"id" validate:"required"`
	Name string `json:"name" bson:"name" validate:"required"`
}

// VariantType is a dimension of choice such as "Color" with its items.
type VariantType struct {
	ID    string        `json:"id"`
	Name  string        `json:"name"`
	Items []VariantItem `json:"items"`
}

// ProductVariant records which items of a variant type a product offers.
type ProductVariant struct {
	VariantTypeID   string        `json:"variantTypeId" bson:"variantTypeId" validate:"required"`
	VariantTypeName string        `json:"variantTypeName" bson:"variantTypeName" validate:"required"`
	SelectedItems   []VariantItem `json:"selectedItems" bson:"selectedItems" validate:"min=1,dive"`
}

// VariantCombination is one element of the cartesian product of a
// product's variant types.
type VariantCombination struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	ItemIDs []string `json:"itemIds"`
}

// VariantKey encodes a selection of variant item ids as a canonical key.
// The ids are sorted lexicographically and joined with "+", so the order of
// selection never matters. An empty selection yields DefaultVariantKey.
// Duplicate ids are kept, which means such a key never matches a generated
// combination.
func VariantKey(itemIDs []string) string {
	if len(itemIDs) == 0 {
		return DefaultVariantKey
	}
	ids := slices.Clone(itemIDs)
	slices.Sort(ids)
	return strings.Join(ids, variantKeySeparator)
}

// SplitVariantKey is the inverse of VariantKey. The default key splits to nil.
func SplitVariantKey(key string) []string {
	if key == "" || key == DefaultVariantKey {
		return nil
	}
	return strings.Split(key, variantKeySeparator)
}

// GenerateCombinations enumerates every combination of one item per type.
// Types keep their input order and items keep their order within a type, so
// the result is deterministic. No types yields the single default
// combination; a type with no items yields none at all.
func GenerateCombinations(types []VariantType) []VariantCombination {
	if len(types) == 0 {
		return []VariantCombination{{Key: DefaultVariantKey, Label: "Default", ItemIDs: []string{}}}
	}

	combos := make([]VariantCombination, 0, min(CountCombinations(types), DefaultMaxVariantCombinations))
	ids := make([]string, 0, len(types))
	labels := make([]string, 0, len(types))

	var walk func(depth int, ids, labels []string)
	walk = func(depth int, ids, labels []string) {
		if depth == len(types) {
			combos = append(combos, VariantCombination{
				Key:     VariantKey(ids),
				Label:   strings.Join(labels, ", "),
				ItemIDs: slices.Clone(ids),
			})
			return
		}
		vt := types[depth]
		for _, item := range vt.Items {
			walk(depth+1, append(ids, item.ID), append(labels, vt.Name+": "+item.Name))
		}
	}
	walk(0, ids, labels)

	return combos
}

// CountCombinations returns the number of combinations GenerateCombinations
// would produce without building them. The result saturates at math.MaxInt.
func CountCombinations(types []VariantType) int {
	if len(types) == 0 {
		return 1
	}
	total := 1
	for _, vt := range types {
		n := len(vt.Items)
		if n == 0 {
			return 0
		}
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}

// ValidateCombinationCount rejects variant sets that expand beyond limit.
// A limit of zero or less applies DefaultMaxVariantCombinations.
func ValidateCombinationCount(op string, types []VariantType, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxVariantCombinations
	}
	if n := CountCombinations(types); n > limit {
		return Errorf(EINVALID, op, "variants expand to %d combinations, the limit is %d", n, limit)
	}
	return nil
}
