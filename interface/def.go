package iface

// BodyPart identifies one of the 17 landmarks produced by the pose model.
// The numeric value is the column group in the embedding vector; never reorder.
type BodyPart int

const (
	Nose BodyPart = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
)

// NumBodyParts is the number of keypoints in one skeleton.
const NumBodyParts = 17

// EmbeddingSize is the width of the classifier input: (x, y, score) per body part.
const EmbeddingSize = NumBodyParts * 3

// NumClasses is the width of the classifier output.
const NumClasses = 3

var bodyPartNames = [NumBodyParts]string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

func (b BodyPart) String() string {
	if b < 0 || int(b) >= NumBodyParts {
		return "unknown"
	}
	return bodyPartNames[b]
}

// BodyParts returns every body part in embedding order.
func BodyParts() []BodyPart {
	parts := make([]BodyPart, NumBodyParts)
	for i := range parts {
		parts[i] = BodyPart(i)
	}
	return parts
}

type Point struct {
	X, Y float32
}

type Rectangle struct {
	Start Point
	End   Point
}

type Keypoint struct {
	BodyPart   BodyPart
	Coordinate Point
	Score      float32
}

// Person is one detected skeleton. Keypoints[i].BodyPart == BodyPart(i).
type Person struct {
	Keypoints   [NumBodyParts]Keypoint
	BoundingBox Rectangle
	Score       float32
	// ID is 0 when the detector does not assign one.
	ID int
}

type Category struct {
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// Decision is the outcome of the decision rule for one person.
type Decision int

const (
	Cheating Decision = iota
	NotCheating
	Uncertain
)

func (d Decision) String() string {
	switch d {
	case Cheating:
		return "CHEATING"
	case NotCheating:
		return "NOT_CHEATING"
	case Uncertain:
		return "UNCERTAIN"
	default:
		return "UNKNOWN"
	}
}

// Verdict is the classified result for one person in a frame.
type Verdict struct {
	Person        Person
	Probabilities [NumClasses]float32
	Decision      Decision
	Category      Category
}

// Box pairs a bounding box with the decision taken for it.
type Box struct {
	Rect     Rectangle
	Decision Decision
}

type ClassifierConfig struct {
	UseGPU    bool
	ModelPath string
	Labels    []string
}
