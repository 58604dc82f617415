package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMergesNestedObjects(t *testing.T) {
	ours := map[string]interface{}{
		"a": 1,
		"b": map[string]interface{}{"x": 1},
	}
	theirs := map[string]interface{}{
		"b": map[string]interface{}{"y": 2},
		"c": 3,
	}

	merged := Deep(ours, theirs)

	expected := map[string]interface{}{
		"a": 1,
		"b": map[string]interface{}{"x": 1, "y": 2},
		"c": 3,
	}
	assert.Equal(t, expected, merged)
}

func TestDeepTheirsWinsOnScalarCollision(t *testing.T) {
	ours := map[string]interface{}{"k": "ours", "nested": map[string]interface{}{"v": 1}}
	theirs := map[string]interface{}{"k": "theirs", "nested": "flattened"}

	merged := Deep(ours, theirs)

	assert.Equal(t, "theirs", merged["k"])
	assert.Equal(t, "flattened", merged["nested"])
}

func TestDeepDoesNotMutateInputs(t *testing.T) {
	ours := map[string]interface{}{"shared": map[string]interface{}{"a": 1}}
	theirs := map[string]interface{}{"shared": map[string]interface{}{"b": 2}}

	_ = Deep(ours, theirs)

	assert.Equal(t, map[string]interface{}{"a": 1}, ours["shared"])
	assert.Equal(t, map[string]interface{}{"b": 2}, theirs["shared"])
}

func TestDeepEmptySides(t *testing.T) {
	theirs := map[string]interface{}{"k": 1}
	assert.Equal(t, theirs, Deep(nil, theirs))
	assert.Equal(t, map[string]interface{}{"k": 1}, Deep(theirs, nil))
}
