package docdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() Document {
	return Document{
		"student":   map[string]any{"id": float64(42)},
		"educator":  false,
		"classroom": map[string]any{"size": float64(20), "class_info": map[string]any{"id": float64(300)}},
		"story_state": map[string]any{
			"piggybank_total": float64(10),
			"max_route_index": nil,
			"stage_states": map[string]any{
				"distance_measurements": map[string]any{
					"current_step": float64(3),
					"max_step":     float64(3),
					"free_responses": map[string]any{
						"fr1": map[string]any{"tag": "fr1", "response": "hi"},
					},
				},
				"explore_data": map[string]any{"current_step": float64(1)},
			},
			"class_data_students": []any{float64(1), float64(2)},
		},
	}
}

func TestDiff_SelfIsEmpty(t *testing.T) {
	doc := sampleDoc()
	assert.Empty(t, Diff(doc, doc))
	assert.Empty(t, Diff(doc, Clone(doc)))
}

func TestDiff_OnlyChangedBranches(t *testing.T) {
	old := sampleDoc()
	updated := Clone(old)

	stage := updated["story_state"].(map[string]any)["stage_states"].(map[string]any)["distance_measurements"].(map[string]any)
	stage["current_step"] = float64(4)
	stage["max_step"] = float64(4)

	diff := Diff(old, updated)

	assert.Equal(t, Document{
		"story_state": map[string]any{
			"stage_states": map[string]any{
				"distance_measurements": map[string]any{
					"current_step": float64(4),
					"max_step":     float64(4),
				},
			},
		},
	}, diff)
	assert.Equal(t, 2, Leaves(diff))
}

func TestDiff_RemovedKeysBecomeNull(t *testing.T) {
	old := Document{"a": float64(1), "b": map[string]any{"c": "x"}}
	updated := Document{"a": float64(1)}

	diff := Diff(old, updated)
	require.Contains(t, diff, "b")
	assert.Nil(t, diff["b"])
	assert.True(t, Equal(Apply(old, diff), updated))
}

func TestApply_InvertsDiff(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(Document)
	}{
		{"scalar change", func(d Document) { d["educator"] = true }},
		{"new nested key", func(d Document) {
			d["story_state"].(map[string]any)["last_route"] = "explore-data"
		}},
		{"null to value", func(d Document) {
			d["story_state"].(map[string]any)["max_route_index"] = float64(3)
		}},
		{"slice replaced", func(d Document) {
			d["story_state"].(map[string]any)["class_data_students"] = []any{float64(7)}
		}},
		{"map replaced by scalar", func(d Document) { d["classroom"] = "gone" }},
		{"scalar replaced by map", func(d Document) { d["educator"] = map[string]any{"role": "teacher"} }},
		{"new stage", func(d Document) {
			d["story_state"].(map[string]any)["stage_states"].(map[string]any)["professional_data"] = map[string]any{}
		}},
		{"key removed", func(d Document) { delete(d, "student") }},
		{"nothing", func(Document) {}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			old := sampleDoc()
			updated := Clone(old)
			tc.mutate(updated)

			patched := Apply(old, Diff(old, updated))
			assert.True(t, Equal(patched, updated), "apply(old, diff(old, new)) != new")
			assert.True(t, Equal(old, sampleDoc()), "apply must not modify its input")
		})
	}
}

func TestApply_DoesNotAliasPatch(t *testing.T) {
	patch := Document{"m": map[string]any{"k": "v"}}
	out := Apply(Document{}, patch)

	out["m"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", patch["m"].(map[string]any)["k"])
}

func TestFromValueAndDecode(t *testing.T) {
	type inner struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	doc, err := FromValue(inner{Name: "x", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, Document{"name": "x", "count": float64(3)}, doc)

	target := inner{Name: "default", Count: 1}
	require.NoError(t, Decode(Document{"count": 9}, &target))
	assert.Equal(t, inner{Name: "default", Count: 9}, target)
}

func TestLookup(t *testing.T) {
	doc := sampleDoc()

	v, ok := Lookup(doc, "classroom", "class_info", "id")
	require.True(t, ok)
	assert.Equal(t, float64(300), v)

	_, ok = Lookup(doc, "classroom", "missing")
	assert.False(t, ok)

	_, ok = Lookup(doc, "educator", "deeper")
	assert.False(t, ok)
}
