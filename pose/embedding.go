package pose

import (
	iface "CheatDetServer/interface"
	"fmt"
	"math"
)

const (
	// TorsoSizeMultiplier scales the torso length into a whole-body size.
	TorsoSizeMultiplier = 2.5
	// MinPoseSize is the smallest pose size accepted as a scale reference.
	MinPoseSize = 1e-6
)

type vec2 struct {
	x, y float64
}

func (a vec2) sub(b vec2) vec2 { return vec2{a.x - b.x, a.y - b.y} }

func (a vec2) norm() float64 { return math.Hypot(a.x, a.y) }

func midpoint(a, b vec2) vec2 {
	return vec2{a.x*0.5 + b.x*0.5, a.y*0.5 + b.y*0.5}
}

// LandmarksToEmbedding flattens 17 keypoints into the classifier input.
//
// Coordinates are centered on the hip midpoint and divided by the pose size,
// max(torso length * TorsoSizeMultiplier, farthest keypoint from the center).
// The torso length is the distance between the shoulder and hip midpoints.
// Scores are copied unchanged. Output order follows BodyPart.
func LandmarksToEmbedding(keypoints [iface.NumBodyParts]iface.Keypoint) ([]float32, error) {
	var pts [iface.NumBodyParts]vec2
	for i, kp := range keypoints {
		if kp.BodyPart != iface.BodyPart(i) {
			return nil, fmt.Errorf("%w: keypoint %d is %s", iface.ErrShapeMismatch, i, kp.BodyPart)
		}
		pts[i] = vec2{float64(kp.Coordinate.X), float64(kp.Coordinate.Y)}
	}

	center := midpoint(pts[iface.LeftHip], pts[iface.RightHip])
	shoulders := midpoint(pts[iface.LeftShoulder], pts[iface.RightShoulder])
	size := shoulders.sub(center).norm() * TorsoSizeMultiplier
	for _, p := range pts {
		size = math.Max(size, p.sub(center).norm())
	}
	if size < MinPoseSize || math.IsNaN(size) {
		return nil, fmt.Errorf("%w: pose size %g", iface.ErrDegeneratePose, size)
	}

	embedding := make([]float32, 0, iface.EmbeddingSize)
	for i, p := range pts {
		d := p.sub(center)
		embedding = append(embedding,
			float32(d.x/size),
			float32(d.y/size),
			keypoints[i].Score,
		)
	}
	return embedding, nil
}

// EmbeddingFromPerson is LandmarksToEmbedding applied to a person's keypoints.
func EmbeddingFromPerson(person iface.Person) ([]float32, error) {
	return LandmarksToEmbedding(person.Keypoints)
}
