package stream

type Frame struct {
	FrameMeta

	Payload []byte
}

type FrameMeta struct {
	JobID     string `json:"jobID"`
	ID        string `json:"id"`
	Sequence  int32  `json:"seq"`
	Rows      int32  `json:"rows"`
	Cols      int32  `json:"cols"`
	FrameType int32  `json:"frame_type"`
}

// Verdict is published for every frame with at least one classified person.
type Verdict struct {
	ID               string `json:"id"`
	JobID            string `json:"jobID"`
	Sequence         int32  `json:"seq"`
	CheatingDetected bool   `json:"cheatingDetected"`
	Persons          []any  `json:"persons"`
}
