package avatar

import (
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func faceDocument() *gltf.Document {
	return &gltf.Document{
		Meshes: []*gltf.Mesh{
			{
				Name:    "Face",
				Weights: []float64{0, 0.25, 0},
				Extras: map[string]any{
					"targetNames": []any{"Fcl_MTH_A", "Fcl_MTH_I", "Fcl_EYE_Close"},
				},
			},
			{
				Name:    "Body",
				Weights: []float64{0},
			},
		},
	}
}

func TestFromDocumentMorphChannels(t *testing.T) {
	model, err := FromDocument("hannah", faceDocument())
	require.NoError(t, err)

	assert.Equal(t, FormatGLTF, model.Format)
	assert.Nil(t, model.Expressions())
	require.Len(t, model.MorphMeshes(), 2)

	face, ok := model.Mesh("Face")
	require.True(t, ok)
	assert.Equal(t, []string{"Fcl_MTH_A", "Fcl_MTH_I", "Fcl_EYE_Close"}, face.MorphTargetNames())
	assert.Equal(t, float32(0.25), face.MorphWeight(1))

	body, ok := model.Mesh("Body")
	require.True(t, ok)
	assert.Equal(t, []string{"target_0"}, body.MorphTargetNames())
}

func TestFromDocumentRequiresMeshes(t *testing.T) {
	_, err := FromDocument("empty", &gltf.Document{})
	assert.ErrorIs(t, err, ErrNoMeshes)
}

func TestMeshWeightsClampAndIgnoreOutOfRange(t *testing.T) {
	mesh := NewMesh("m", []MorphTarget{{Name: "a"}}, nil)

	mesh.SetMorphWeight(0, 1.7)
	assert.Equal(t, float32(1), mesh.MorphWeight(0))
	mesh.SetMorphWeight(0, -1)
	assert.Equal(t, float32(0), mesh.MorphWeight(0))

	mesh.SetMorphWeight(5, 1)
	assert.Equal(t, float32(0), mesh.MorphWeight(5))
}

func TestRecomputeDeformsGeometry(t *testing.T) {
	base := []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}}
	mesh := NewMesh("jaw", []MorphTarget{
		{Name: "open", PositionDeltas: []mgl32.Vec3{{0, -1, 0}, {0, -2, 0}}},
		{Name: "wide", PositionDeltas: []mgl32.Vec3{{1, 0, 0}}},
	}, base)
	model := NewModel("test", []*Mesh{mesh}, nil)

	mesh.SetMorphWeight(0, 0.5)
	mesh.SetMorphWeight(1, 1)
	model.Recompute(0.05)

	got := mesh.DeformedPositions()
	assert.True(t, got[0].ApproxEqual(mgl32.Vec3{1, -0.5, 0}))
	assert.True(t, got[1].ApproxEqual(mgl32.Vec3{1, -1, 0}))
	assert.InDelta(t, 0.05, model.Elapsed(), 1e-6)

	mesh.SetMorphWeight(0, 0)
	mesh.SetMorphWeight(1, 0)
	model.Recompute(0.05)
	assert.Equal(t, base, mesh.DeformedPositions())
}

func TestVRM0Expressions(t *testing.T) {
	doc := faceDocument()
	doc.Extensions = gltf.Extensions{
		"VRM": map[string]any{
			"blendShapeMaster": map[string]any{
				"blendShapeGroups": []any{
					map[string]any{
						"name": "A", "presetName": "a",
						"binds": []any{map[string]any{"mesh": 0, "index": 0, "weight": 100}},
					},
					map[string]any{
						"name": "Joy", "presetName": "joy",
						"binds": []any{map[string]any{"mesh": 0, "index": 0, "weight": 50}},
					},
					map[string]any{
						"name": "Smirk", "presetName": "unknown",
						"binds": []any{map[string]any{"mesh": 7, "index": 0, "weight": 100}},
					},
				},
			},
		},
	}

	model, err := FromDocument("vrm0", doc)
	require.NoError(t, err)
	assert.Equal(t, FormatVRM0, model.Format)

	exprs := model.Expressions()
	require.NotNil(t, exprs)
	assert.Equal(t, []string{"Smirk", "aa", "happy"}, exprs.Names())
	assert.True(t, exprs.Has("aa"))
	assert.False(t, exprs.Has("a"))

	face, _ := model.Mesh("Face")

	exprs.SetValue("aa", 0.6)
	exprs.Update()
	assert.InDelta(t, 0.6, face.MorphWeight(0), 1e-6)

	// binds on the same channel accumulate and clamp
	exprs.SetValue("happy", 1)
	exprs.Update()
	assert.InDelta(t, 1.0, face.MorphWeight(0), 1e-6)

	exprs.SetValue("aa", 0)
	exprs.SetValue("happy", 0)
	exprs.Update()
	assert.Zero(t, face.MorphWeight(0))
	assert.Equal(t, float32(0.25), face.MorphWeight(1), "unbound channels are untouched")

	exprs.SetValue("nope", 1)
	assert.Zero(t, exprs.Value("nope"))
}

func TestVRM1Expressions(t *testing.T) {
	doc := faceDocument()
	doc.Nodes = []*gltf.Node{
		{Name: "Root"},
		{Name: "FaceNode", Mesh: gltf.Index(0)},
	}
	doc.Extensions = gltf.Extensions{
		"VRMC_vrm": map[string]any{
			"expressions": map[string]any{
				"preset": map[string]any{
					"ih": map[string]any{
						"morphTargetBinds": []any{map[string]any{"node": 1, "index": 1, "weight": 0.8}},
					},
				},
				"custom": map[string]any{
					"wink": map[string]any{
						"morphTargetBinds": []any{map[string]any{"node": 0, "index": 2, "weight": 1}},
					},
				},
			},
		},
	}

	model, err := FromDocument("vrm1", doc)
	require.NoError(t, err)
	assert.Equal(t, FormatVRM1, model.Format)

	exprs := model.Expressions()
	require.NotNil(t, exprs)
	assert.Equal(t, []string{"ih", "wink"}, exprs.Names())

	face, _ := model.Mesh("Face")
	exprs.SetValue("ih", 1)
	exprs.SetValue("wink", 1)
	exprs.Update()
	assert.InDelta(t, 0.8, face.MorphWeight(1), 1e-6)
	assert.Zero(t, face.MorphWeight(2), "node without a mesh binds nothing")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.gltf")
	require.NoError(t, gltf.Save(faceDocument(), path))

	model, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "face", model.ID)

	face, ok := model.Mesh("Face")
	require.True(t, ok)
	assert.Equal(t, []string{"Fcl_MTH_A", "Fcl_MTH_I", "Fcl_EYE_Close"}, face.MorphTargetNames())
}
