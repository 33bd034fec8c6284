package engine

import (
	"CheatDetServer/config"
	iface "CheatDetServer/interface"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// (image, label, score, xmin, ymin, xmax, ymax) per detection.
const ssdValues = 7

// PersonBoxDetector finds person boxes with an SSD style model.
type PersonBoxDetector struct {
	mu          sync.Mutex
	ModelPath   string
	WeightsPath string
	InputWidth  int
	InputHeight int
	UseGPU      bool
	MinScore    float32
	ClassID     int
	Blob        config.Blob
	State       int
	net         *gocv.Net
}

func NewPersonBoxDetector(cfg config.PersonModel) (*PersonBoxDetector, error) {
	net, err := readNet(cfg.Model, cfg.Weights, cfg.UseGPU)
	if err != nil {
		return nil, err
	}
	return &PersonBoxDetector{
		ModelPath:   cfg.Model,
		WeightsPath: cfg.Weights,
		InputWidth:  cfg.InputWidth,
		InputHeight: cfg.InputHeight,
		UseGPU:      cfg.UseGPU,
		MinScore:    cfg.MinScore,
		ClassID:     cfg.ClassID,
		Blob:        cfg.Blob,
		State:       IDLE,
		net:         net,
	}, nil
}

// Boxes returns the person boxes of img in pixel space, in model order.
func (d *PersonBoxDetector) Boxes(img gocv.Mat) ([]image.Rectangle, error) {
	if img.Empty() {
		return nil, fmt.Errorf("%w: empty image", iface.ErrDetectionUnavailable)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != IDLE || d.net == nil {
		return nil, fmt.Errorf("%w: person detector is %s", iface.ErrDetectionUnavailable, stateName(d.State))
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	data, err := forward(d.net, img, d.InputWidth, d.InputHeight, d.Blob)
	if err != nil {
		return nil, err
	}
	return ParseSSD(data, img.Cols(), img.Rows(), d.ClassID, d.MinScore)
}

func (d *PersonBoxDetector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.net != nil {
		_ = d.net.Close()
	}
	d.net = nil
	d.State = UNREGISTERED
}

// ParseSSD converts a DetectionOutput blob into pixel boxes clipped to the
// frame. Detections of another class, below minScore or without area are
// dropped. A negative classID keeps every class.
func ParseSSD(data []float32, width, height, classID int, minScore float32) ([]image.Rectangle, error) {
	if len(data)%ssdValues != 0 {
		return nil, fmt.Errorf("%w: person output has %d values, expected a multiple of %d", iface.ErrDetectionUnavailable, len(data), ssdValues)
	}
	frame := image.Rect(0, 0, width, height)
	var boxes []image.Rectangle
	for n := 0; n < len(data)/ssdValues; n++ {
		det := data[n*ssdValues : (n+1)*ssdValues]
		if classID >= 0 && int(det[1]) != classID {
			continue
		}
		if !(det[2] >= minScore) {
			continue
		}
		box := image.Rect(
			int(det[3]*float32(width)),
			int(det[4]*float32(height)),
			int(det[5]*float32(width)),
			int(det[6]*float32(height)),
		).Intersect(frame)
		if box.Empty() {
			continue
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

func readNet(model, weights string, useGPU bool) (*gocv.Net, error) {
	for _, p := range []string{model, weights} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %v", iface.ErrModelLoad, err)
		}
	}
	net := gocv.ReadNet(model, weights)
	if net.Empty() {
		_ = net.Close()
		return nil, fmt.Errorf("%w: %s is not a readable model", iface.ErrModelLoad, model)
	}
	setTarget(&net, useGPU)
	return &net, nil
}

// forward runs img through net and returns a copy of the flattened output.
func forward(net *gocv.Net, img gocv.Mat, width, height int, blob config.Blob) ([]float32, error) {
	m := blob.InputMean
	input := gocv.BlobFromImage(img, blob.InputScale, image.Pt(width, height), gocv.NewScalar(m, m, m, 0), blob.SwapRB, false)
	defer input.Close()
	net.SetInput(input, "")
	out := net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", iface.ErrDetectionUnavailable, err)
	}
	return append([]float32(nil), data...), nil
}
