package avatar

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

// Load opens a .glb, .gltf or .vrm file.
func Load(path string) (*Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return FromDocument(id, doc)
}

// FromDocument builds a model from a decoded glTF document. Each glTF mesh
// becomes one Mesh; primitives are concatenated.
func FromDocument(id string, doc *gltf.Document) (*Model, error) {
	if len(doc.Meshes) == 0 {
		return nil, ErrNoMeshes
	}

	meshes := make([]*Mesh, len(doc.Meshes))
	for i, gm := range doc.Meshes {
		mesh, err := buildMesh(doc, i, gm)
		if err != nil {
			return nil, fmt.Errorf("mesh %d: %w", i, err)
		}
		meshes[i] = mesh
	}

	exprs, err := parseExpressions(doc, meshes)
	if err != nil {
		return nil, err
	}
	return NewModel(id, meshes, exprs), nil
}

func buildMesh(doc *gltf.Document, index int, gm *gltf.Mesh) (*Mesh, error) {
	names := targetNames(gm.Extras)

	count := len(gm.Weights)
	if len(names) > count {
		count = len(names)
	}
	for _, prim := range gm.Primitives {
		if len(prim.Targets) > count {
			count = len(prim.Targets)
		}
	}

	targets := make([]MorphTarget, count)
	for i := range targets {
		if i < len(names) && names[i] != "" {
			targets[i].Name = names[i]
		} else {
			targets[i].Name = fmt.Sprintf("target_%d", i)
		}
	}

	var base []mgl32.Vec3
	for _, prim := range gm.Primitives {
		posIdx, ok := prim.Attributes[gltf.POSITION]
		if !ok {
			continue
		}
		positions, err := readVec3(doc, int(posIdx))
		if err != nil {
			return nil, fmt.Errorf("read positions: %w", err)
		}

		for ti := range targets {
			var deltas []mgl32.Vec3
			if ti < len(prim.Targets) {
				if idx, ok := prim.Targets[ti][gltf.POSITION]; ok {
					deltas, err = readVec3(doc, int(idx))
					if err != nil {
						return nil, fmt.Errorf("read target %d: %w", ti, err)
					}
				}
			}
			// keep deltas aligned with the concatenated vertex list
			padded := make([]mgl32.Vec3, len(positions))
			copy(padded, deltas)
			targets[ti].PositionDeltas = append(targets[ti].PositionDeltas, padded...)
		}
		base = append(base, positions...)
	}

	name := gm.Name
	if name == "" {
		name = fmt.Sprintf("mesh_%d", index)
	}

	mesh := NewMesh(name, targets, base)
	for i, w := range gm.Weights {
		mesh.SetMorphWeight(i, float32(w))
	}
	mesh.Deform()
	return mesh, nil
}

func readVec3(doc *gltf.Document, accessor int) ([]mgl32.Vec3, error) {
	if accessor < 0 || accessor >= len(doc.Accessors) {
		return nil, fmt.Errorf("%w: accessor %d out of range", ErrInvalidModel, accessor)
	}
	raw, err := modeler.ReadPosition(doc, doc.Accessors[accessor], nil)
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec3, len(raw))
	for i, p := range raw {
		out[i] = mgl32.Vec3{p[0], p[1], p[2]}
	}
	return out, nil
}

// targetNames reads the conventional extras.targetNames list.
func targetNames(extras any) []string {
	var decoded struct {
		TargetNames []string `json:"targetNames"`
	}
	if err := decodeJSON(extras, &decoded); err != nil {
		return nil
	}
	return decoded.TargetNames
}

// decodeJSON converts a loosely typed extension or extras value, which may
// be a decoded map or raw JSON, into dst.
func decodeJSON(src any, dst any) error {
	if src == nil {
		return fmt.Errorf("%w: empty value", ErrInvalidModel)
	}
	var data []byte
	switch v := src.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		data, err = json.Marshal(v)
		if err != nil {
			return err
		}
	}
	return json.Unmarshal(data, dst)
}
