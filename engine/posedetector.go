package engine

import (
	"CheatDetServer/config"
	iface "CheatDetServer/interface"
	"CheatDetServer/pose"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

const (
	singlePoseValues = iface.NumBodyParts * 3
	// 17 (y, x, score) triples, then ymin, xmin, ymax, xmax, score.
	multiPoseValues = singlePoseValues + 5
)

// PoseDetector runs a MoveNet style model and turns its output into persons.
// With a person detector attached, the model runs on every person box and the
// keypoints are mapped back to the frame.
type PoseDetector struct {
	mu                sync.Mutex
	ModelPath         string
	WeightsPath       string
	InputWidth        int
	InputHeight       int
	UseGPU            bool
	MultiPose         bool
	KeypointThreshold float32
	MinPersonScore    float32
	Blob              config.Blob
	State             int
	net               *gocv.Net
	persons           *PersonBoxDetector
}

// NewPoseDetector loads the pose model. persons may be nil, in which case the
// model sees the whole frame.
func NewPoseDetector(cfg config.PoseModel, persons *PersonBoxDetector) (*PoseDetector, error) {
	net, err := readNet(cfg.Model, cfg.Weights, cfg.UseGPU)
	if err != nil {
		return nil, err
	}
	return &PoseDetector{
		ModelPath:         cfg.Model,
		WeightsPath:       cfg.Weights,
		InputWidth:        cfg.InputWidth,
		InputHeight:       cfg.InputHeight,
		UseGPU:            cfg.UseGPU,
		MultiPose:         cfg.MultiPose,
		KeypointThreshold: cfg.KeypointScoreThreshold,
		MinPersonScore:    cfg.MinPersonScore,
		Blob:              cfg.Blob,
		State:             IDLE,
		net:               net,
		persons:           persons,
	}, nil
}

func (d *PoseDetector) Detect(img gocv.Mat) ([]iface.Person, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", iface.ErrDetectionUnavailable)
	}
	var boxes []image.Rectangle
	if d.persons != nil {
		var err error
		if boxes, err = d.persons.Boxes(img); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != IDLE || d.net == nil {
		return nil, fmt.Errorf("%w: detector is %s", iface.ErrDetectionUnavailable, stateName(d.State))
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	if d.persons == nil {
		data, err := forward(d.net, img, d.InputWidth, d.InputHeight, d.Blob)
		if err != nil {
			return nil, err
		}
		return ParseMoveNet(data, d.MultiPose, img.Cols(), img.Rows(), d.KeypointThreshold, d.MinPersonScore)
	}

	outputs := make([][]float32, len(boxes))
	for i, box := range boxes {
		crop := img.Region(box)
		data, err := forward(d.net, crop, d.InputWidth, d.InputHeight, d.Blob)
		crop.Close()
		if err != nil {
			return nil, err
		}
		outputs[i] = data
	}
	return ParseMoveNetCrops(outputs, boxes, img.Cols(), img.Rows(), d.KeypointThreshold, d.MinPersonScore)
}

func (d *PoseDetector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.net != nil {
		_ = d.net.Close()
	}
	if d.persons != nil {
		d.persons.Destroy()
	}
	d.net = nil
	d.State = UNREGISTERED
}

// ParseMoveNet converts raw MoveNet output, with coordinates normalized to
// [0, 1] in (y, x) order, into persons in pixel space. Persons whose score is
// undefined or below minPersonScore are dropped.
func ParseMoveNet(data []float32, multiPose bool, width, height int, threshold, minPersonScore float32) ([]iface.Person, error) {
	return parseMoveNet(data, multiPose, image.Rect(0, 0, width, height), width, height, threshold, minPersonScore)
}

// ParseMoveNetCrops maps single-pose outputs, one per person box, back to
// frame pixels. Person IDs follow the box order, starting at 1.
func ParseMoveNetCrops(outputs [][]float32, boxes []image.Rectangle, width, height int, threshold, minPersonScore float32) ([]iface.Person, error) {
	if len(outputs) != len(boxes) {
		return nil, fmt.Errorf("%w: %d pose outputs for %d boxes", iface.ErrDetectionUnavailable, len(outputs), len(boxes))
	}
	var persons []iface.Person
	for i, data := range outputs {
		found, err := parseMoveNet(data, false, boxes[i], width, height, threshold, minPersonScore)
		if err != nil {
			return nil, err
		}
		for _, p := range found {
			p.ID = i + 1
			persons = append(persons, p)
		}
	}
	return persons, nil
}

// parseMoveNet scales normalized coordinates to area and offsets them by its
// origin. width and height are the frame size.
func parseMoveNet(data []float32, multiPose bool, area image.Rectangle, width, height int, threshold, minPersonScore float32) ([]iface.Person, error) {
	stride := singlePoseValues
	if multiPose {
		stride = multiPoseValues
	}
	if len(data) == 0 || len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: output has %d values, expected a multiple of %d", iface.ErrDetectionUnavailable, len(data), stride)
	}

	ox, oy := float32(area.Min.X), float32(area.Min.Y)
	aw, ah := float32(area.Dx()), float32(area.Dy())
	var persons []iface.Person
	for n := 0; n < len(data)/stride; n++ {
		inst := data[n*stride : (n+1)*stride]
		if multiPose && inst[stride-1] < minPersonScore {
			continue
		}
		raw := make([][]float32, iface.NumBodyParts)
		for k := range raw {
			y, x, s := inst[k*3], inst[k*3+1], inst[k*3+2]
			raw[k] = []float32{ox + x*aw, oy + y*ah, s}
		}
		person, err := pose.PersonFromKeypointsWithScores(raw, height, width, threshold)
		if err != nil {
			return nil, err
		}
		if !pose.IsConfident(person, minPersonScore) {
			continue
		}
		if multiPose {
			person.ID = n + 1
		}
		persons = append(persons, person)
	}
	return persons, nil
}
