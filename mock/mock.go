// Package mock holds in-memory detector and classifier backends for tests.
package mock

import (
	iface "CheatDetServer/interface"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

type Detector struct {
	mu        sync.Mutex
	Persons   []iface.Person
	Err       error
	Panic     bool
	Calls     int
	Destroyed bool
}

func (m *Detector) Detect(image gocv.Mat) ([]iface.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Panic {
		panic("mock detector panic")
	}
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]iface.Person, len(m.Persons))
	copy(out, m.Persons)
	return out, nil
}

func (m *Detector) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Destroyed = true
}

// Classifier returns Rows in order, one per Predict call, and repeats the last
// row once they run out.
type Classifier struct {
	mu        sync.Mutex
	Rows      [][iface.NumClasses]float32
	Err       error
	Labels    []string
	Calls     int
	Batches   [][][]float32
	Destroyed bool
}

func (m *Classifier) Predict(batch [][]float32) ([][iface.NumClasses]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, batch)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][iface.NumClasses]float32, 0, len(batch))
	for _, emb := range batch {
		if len(emb) != iface.EmbeddingSize {
			return nil, fmt.Errorf("%w: got %d values", iface.ErrShapeMismatch, len(emb))
		}
		if len(m.Rows) == 0 {
			out = append(out, [iface.NumClasses]float32{0, 0, 1})
			continue
		}
		i := min(m.Calls, len(m.Rows)-1)
		out = append(out, m.Rows[i])
		m.Calls++
	}
	return out, nil
}

func (m *Classifier) CheckConfig() iface.ClassifierConfig {
	return iface.ClassifierConfig{ModelPath: "mock", Labels: m.Labels}
}

func (m *Classifier) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Destroyed = true
}

// Person builds an upright skeleton whose bounding box starts at (x, y).
func Person(x, y float32) iface.Person {
	offsets := [iface.NumBodyParts][2]float32{
		{45, 10}, {35, 0}, {55, 0}, {25, 5}, {65, 5},
		{15, 60}, {75, 60}, {5, 120}, {85, 120}, {0, 170}, {90, 170},
		{25, 180}, {65, 180}, {23, 260}, {67, 260}, {21, 340}, {69, 340},
	}
	var p iface.Person
	for i, o := range offsets {
		p.Keypoints[i] = iface.Keypoint{
			BodyPart:   iface.BodyPart(i),
			Coordinate: iface.Point{X: x + o[0], Y: y + o[1]},
			Score:      0.9,
		}
	}
	p.BoundingBox = iface.Rectangle{
		Start: iface.Point{X: x, Y: y},
		End:   iface.Point{X: x + 90, Y: y + 340},
	}
	p.Score = 0.9
	return p
}

// Collapsed is a person with every keypoint at one spot.
func Collapsed(x, y float32) iface.Person {
	var p iface.Person
	for i := range p.Keypoints {
		p.Keypoints[i] = iface.Keypoint{BodyPart: iface.BodyPart(i), Coordinate: iface.Point{X: x, Y: y}, Score: 0.9}
	}
	p.BoundingBox = iface.Rectangle{Start: iface.Point{X: x, Y: y}, End: iface.Point{X: x, Y: y}}
	p.Score = 0.9
	return p
}
