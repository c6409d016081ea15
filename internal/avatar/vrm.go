package avatar

import (
	"fmt"

	"github.com/qmuntal/gltf"
)

const (
	extVRM0 = "VRM"
	extVRM1 = "VRMC_vrm"
)

// VRM 0.x preset names mapped onto the VRM 1.0 vocabulary.
var vrm0Presets = map[string]string{
	"a":         "aa",
	"e":         "ee",
	"i":         "ih",
	"o":         "oh",
	"u":         "ou",
	"joy":       "happy",
	"angry":     "angry",
	"sorrow":    "sad",
	"fun":       "relaxed",
	"blink":     "blink",
	"neutral":   "neutral",
	"blink_l":   "blinkLeft",
	"blink_r":   "blinkRight",
	"lookup":    "lookUp",
	"lookdown":  "lookDown",
	"lookleft":  "lookLeft",
	"lookright": "lookRight",
}

type vrm0Extension struct {
	BlendShapeMaster struct {
		BlendShapeGroups []struct {
			Name       string `json:"name"`
			PresetName string `json:"presetName"`
			Binds      []struct {
				Mesh   int     `json:"mesh"`
				Index  int     `json:"index"`
				Weight float32 `json:"weight"`
			} `json:"binds"`
		} `json:"blendShapeGroups"`
	} `json:"blendShapeMaster"`
}

type vrm1Expression struct {
	MorphTargetBinds []struct {
		Node   int     `json:"node"`
		Index  int     `json:"index"`
		Weight float32 `json:"weight"`
	} `json:"morphTargetBinds"`
}

type vrm1Extension struct {
	Expressions struct {
		Preset map[string]vrm1Expression `json:"preset"`
		Custom map[string]vrm1Expression `json:"custom"`
	} `json:"expressions"`
}

// parseExpressions returns nil when the document carries no VRM extension.
func parseExpressions(doc *gltf.Document, meshes []*Mesh) (*Expressions, error) {
	if raw, ok := doc.Extensions[extVRM1]; ok {
		var ext vrm1Extension
		if err := decodeJSON(raw, &ext); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidModel, extVRM1, err)
		}
		return vrm1Expressions(doc, meshes, ext), nil
	}
	if raw, ok := doc.Extensions[extVRM0]; ok {
		var ext vrm0Extension
		if err := decodeJSON(raw, &ext); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidModel, extVRM0, err)
		}
		return vrm0Expressions(meshes, ext), nil
	}
	return nil, nil
}

func vrm0Expressions(meshes []*Mesh, ext vrm0Extension) *Expressions {
	var exprs []Expression
	for _, group := range ext.BlendShapeMaster.BlendShapeGroups {
		name := group.Name
		if preset, ok := vrm0Presets[group.PresetName]; ok {
			name = preset
		}
		if name == "" {
			continue
		}

		expr := Expression{Name: name}
		for _, b := range group.Binds {
			if b.Mesh < 0 || b.Mesh >= len(meshes) {
				continue
			}
			// VRM 0.x bind weights are percentages
			expr.Binds = append(expr.Binds, Bind{Mesh: meshes[b.Mesh], Index: b.Index, Weight: b.Weight / 100})
		}
		exprs = append(exprs, expr)
	}
	return NewExpressions(FormatVRM0, exprs)
}

func vrm1Expressions(doc *gltf.Document, meshes []*Mesh, ext vrm1Extension) *Expressions {
	var exprs []Expression
	collect := func(set map[string]vrm1Expression) {
		for name, def := range set {
			expr := Expression{Name: name}
			for _, b := range def.MorphTargetBinds {
				mesh := nodeMesh(doc, meshes, b.Node)
				if mesh == nil {
					continue
				}
				expr.Binds = append(expr.Binds, Bind{Mesh: mesh, Index: b.Index, Weight: b.Weight})
			}
			exprs = append(exprs, expr)
		}
	}
	collect(ext.Expressions.Preset)
	collect(ext.Expressions.Custom)
	return NewExpressions(FormatVRM1, exprs)
}

// nodeMesh resolves a VRM 1.0 node reference to the mesh it instantiates.
func nodeMesh(doc *gltf.Document, meshes []*Mesh, node int) *Mesh {
	if node < 0 || node >= len(doc.Nodes) {
		return nil
	}
	n := doc.Nodes[node]
	if n == nil || n.Mesh == nil {
		return nil
	}
	idx := int(*n.Mesh)
	if idx < 0 || idx >= len(meshes) {
		return nil
	}
	return meshes[idx]
}
