package engine

import (
	iface "CheatDetServer/interface"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// Classifier runs the pose classification model through the OpenCV DNN module.
// Calls into the net are serialized.
type Classifier struct {
	mu        sync.Mutex
	ModelPath string
	Names     []string
	UseGPU    bool
	State     int
	net       *gocv.Net
}

// NewClassifier loads the model or fails with iface.ErrModelLoad.
func NewClassifier(modelPath string, names NamesConf, useGPU bool) (*Classifier, error) {
	c := &Classifier{State: UNREGISTERED}
	if err := c.LoadModel(modelPath, names, useGPU); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Classifier) LoadModel(modelPath string, names NamesConf, useGPU bool) error {
	labels, err := names.Load()
	if err != nil {
		return fmt.Errorf("%w: labels: %v", iface.ErrModelLoad, err)
	}
	if len(labels) != iface.NumClasses {
		return fmt.Errorf("%w: expected %d labels, got %d", iface.ErrModelLoad, iface.NumClasses, len(labels))
	}
	if modelPath == "" {
		return fmt.Errorf("%w: empty model path", iface.ErrModelLoad)
	}
	net, err := readNet(modelPath, "", useGPU)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.net != nil {
		_ = c.net.Close()
	}
	c.net = net
	c.ModelPath = modelPath
	c.Names = labels
	c.UseGPU = useGPU
	c.State = IDLE
	return nil
}

func (c *Classifier) CheckConfig() iface.ClassifierConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return iface.ClassifierConfig{
		UseGPU:    c.UseGPU,
		ModelPath: c.ModelPath,
		Labels:    append([]string(nil), c.Names...),
	}
}

func (c *Classifier) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.net != nil {
		_ = c.net.Close()
	}
	c.net = nil
	c.ModelPath = ""
	c.Names = nil
	c.UseGPU = false
	c.State = UNREGISTERED
}

// Predict scores a batch of embeddings, one probability row per embedding.
func (c *Classifier) Predict(batch [][]float32) ([][iface.NumClasses]float32, error) {
	if err := checkBatch(batch); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != IDLE || c.net == nil {
		return nil, fmt.Errorf("classifier is %s", stateName(c.State))
	}
	c.State = BUSY
	defer func() { c.State = IDLE }()

	input := gocv.NewMatWithSize(len(batch), iface.EmbeddingSize, gocv.MatTypeCV32F)
	defer input.Close()
	for i, row := range batch {
		for j, v := range row {
			input.SetFloatAt(i, j, v)
		}
	}
	c.net.SetInput(input, "")
	out := c.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read classifier output: %w", err)
	}
	if len(data) != len(batch)*iface.NumClasses {
		return nil, fmt.Errorf("%w: model returned %d values for %d rows", iface.ErrShapeMismatch, len(data), len(batch))
	}
	probs := make([][iface.NumClasses]float32, len(batch))
	for i := range probs {
		var row [iface.NumClasses]float32
		copy(row[:], data[i*iface.NumClasses:(i+1)*iface.NumClasses])
		if err := checkFinite(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		probs[i] = ToDistribution(row)
	}
	return probs, nil
}

func checkBatch(batch [][]float32) error {
	for i, row := range batch {
		if len(row) != iface.EmbeddingSize {
			return fmt.Errorf("%w: row %d has width %d, expected %d", iface.ErrShapeMismatch, i, len(row), iface.EmbeddingSize)
		}
	}
	return nil
}

func checkFinite(row [iface.NumClasses]float32) error {
	for j, v := range row {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: class %d is %v", iface.ErrNonFiniteOutput, j, v)
		}
	}
	return nil
}

// ToDistribution returns row unchanged when it already is a probability
// distribution, and its softmax otherwise.
func ToDistribution(row [iface.NumClasses]float32) [iface.NumClasses]float32 {
	var sum float64
	valid := true
	for _, v := range row {
		if v < 0 || math.IsNaN(float64(v)) {
			valid = false
		}
		sum += float64(v)
	}
	if valid && math.Abs(sum-1) <= 1e-3 {
		return row
	}

	m := float64(max(row[0], row[1], row[2]))
	var exps [iface.NumClasses]float64
	var total float64
	for i, v := range row {
		exps[i] = math.Exp(float64(v) - m)
		total += exps[i]
	}
	var out [iface.NumClasses]float32
	for i := range out {
		out[i] = float32(exps[i] / total)
	}
	return out
}
