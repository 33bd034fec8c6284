package iface

import (
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrDetectionUnavailable means the pose detector failed or returned malformed data.
	ErrDetectionUnavailable = errors.New("detection unavailable")
	// ErrDegeneratePose means the pose has no usable scale reference.
	ErrDegeneratePose = errors.New("degenerate pose")
	// ErrShapeMismatch means an embedding of the wrong width reached the classifier.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNonFiniteOutput means the classifier produced NaN or an infinity.
	ErrNonFiniteOutput = errors.New("non-finite classifier output")
	// ErrModelLoad means a model artifact is missing or unreadable.
	ErrModelLoad = errors.New("model load failed")
)

// PoseDetector is the pose-estimation boundary.
type PoseDetector interface {
	Detect(image gocv.Mat) ([]Person, error)
	Destroy()
}

// Classifier scores embeddings. Every returned row is a probability
// distribution over NumClasses classes.
type Classifier interface {
	Predict(batch [][]float32) ([][NumClasses]float32, error)
	CheckConfig() ClassifierConfig
	Destroy()
}
