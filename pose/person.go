package pose

import (
	iface "CheatDetServer/interface"
	"fmt"
	"math"
)

// DefaultKeypointScoreThreshold is the score a keypoint must exceed to count
// towards the person score.
const DefaultKeypointScoreThreshold = 0.1

// PersonFromKeypointsWithScores builds a Person from one [17][3] pose model
// output row set (x, y, score), already in image pixel space.
// The person score is NaN when no keypoint is above threshold.
func PersonFromKeypointsWithScores(keypointsWithScores [][]float32, imageHeight, imageWidth int, threshold float32) (iface.Person, error) {
	var person iface.Person
	if imageHeight <= 0 || imageWidth <= 0 {
		return person, fmt.Errorf("%w: invalid image size %dx%d", iface.ErrDetectionUnavailable, imageWidth, imageHeight)
	}
	if len(keypointsWithScores) != iface.NumBodyParts {
		return person, fmt.Errorf("%w: expected %d keypoints, got %d", iface.ErrDetectionUnavailable, iface.NumBodyParts, len(keypointsWithScores))
	}

	minX, minY := float32(math.MaxFloat32), float32(math.MaxFloat32)
	maxX, maxY := float32(-math.MaxFloat32), float32(-math.MaxFloat32)
	var sum float32
	var above int
	for i, row := range keypointsWithScores {
		if len(row) != 3 {
			return iface.Person{}, fmt.Errorf("%w: keypoint %d has %d values, expected 3", iface.ErrDetectionUnavailable, i, len(row))
		}
		x := truncate(row[0])
		y := truncate(row[1])
		score := row[2]
		person.Keypoints[i] = iface.Keypoint{
			BodyPart:   iface.BodyPart(i),
			Coordinate: iface.Point{X: x, Y: y},
			Score:      score,
		}
		minX = min(minX, x)
		minY = min(minY, y)
		maxX = max(maxX, x)
		maxY = max(maxY, y)
		if score > threshold {
			sum += score
			above++
		}
	}

	person.BoundingBox = iface.Rectangle{
		Start: iface.Point{X: minX, Y: minY},
		End:   iface.Point{X: maxX, Y: maxY},
	}
	if above == 0 {
		person.Score = float32(math.NaN())
	} else {
		person.Score = sum / float32(above)
	}
	return person, nil
}

// IsConfident reports whether the person score is defined and at least minScore.
func IsConfident(person iface.Person, minScore float32) bool {
	s := float64(person.Score)
	return !math.IsNaN(s) && person.Score >= minScore
}

func truncate(v float32) float32 {
	return float32(math.Trunc(float64(v)))
}
