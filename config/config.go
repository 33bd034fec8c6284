package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Blob is the preprocessing applied by gocv.BlobFromImage. The result is
// always NCHW float32: pixel' = (pixel - InputMean) * InputScale.
type Blob struct {
	InputScale float64 `yaml:"inputScale"`
	InputMean  float64 `yaml:"inputMean"`
	SwapRB     bool    `yaml:"swapRB"`
}

// PoseModel configures the pose estimation backend.
type PoseModel struct {
	Model       string `yaml:"model"`
	Weights     string `yaml:"weights"`
	InputWidth  int    `yaml:"inputWidth"`
	InputHeight int    `yaml:"inputHeight"`
	UseGPU      bool   `yaml:"useGPU"`
	Blob        `yaml:",inline"`
	// MultiPose selects the multi-person output layout ([1,N,56]) over the
	// single-person one ([1,1,17,3]).
	MultiPose              bool    `yaml:"multiPose"`
	KeypointScoreThreshold float32 `yaml:"keypointScoreThreshold"`
	MinPersonScore         float32 `yaml:"minPersonScore"`
}

// PersonModel configures the optional SSD person detector. When Model is set,
// the pose model runs once per detected box instead of on the whole frame.
type PersonModel struct {
	Model       string  `yaml:"model"`
	Weights     string  `yaml:"weights"`
	InputWidth  int     `yaml:"inputWidth"`
	InputHeight int     `yaml:"inputHeight"`
	UseGPU      bool    `yaml:"useGPU"`
	MinScore    float32 `yaml:"minScore"`
	// ClassID is the label kept from the SSD output, -1 keeps every label.
	ClassID int `yaml:"classID"`
	Blob    `yaml:",inline"`
}

func (p PersonModel) Enabled() bool {
	return p.Model != ""
}

type ClassifierModel struct {
	Model      string   `yaml:"model"`
	UseGPU     bool     `yaml:"useGPU"`
	Labels     []string `yaml:"labels"`
	LabelsFile string   `yaml:"labelsFile"`
}

type Decision struct {
	DominanceFactor     float32 `yaml:"dominanceFactor"`
	SeparateNotCheating bool    `yaml:"separateNotCheating"`
}

type Annotation struct {
	Thickness int      `yaml:"thickness"`
	Color     [3]uint8 `yaml:"color"` // R, G, B
}

type Stream struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	FramesTopic   string   `yaml:"framesTopic"`
	VerdictTopic  string   `yaml:"verdictTopic"`
	RedisAddr     string   `yaml:"redisAddr"`
	RedisPassword string   `yaml:"redisPassword"`
	RedisDB       int      `yaml:"redisDB"`
}

type Config struct {
	RPCPort       int    `yaml:"RPCPort"`
	HTTPPort      int    `yaml:"HTTPPort"`
	AdhocPort     int    `yaml:"AdhocPort"`
	WorkersNum    int    `yaml:"workersNum"`
	InstanceClass string `yaml:"instanceClass"`
	UseRegServer  bool   `yaml:"UseRegServer"`
	RegServerPort int    `yaml:"RegServerPort"`
	RegServerHost string `yaml:"RegServerHost"`
	// SessionIdleMs closes idle WebSocket sessions.
	SessionIdleMs int    `yaml:"sessionIdleMs"`
	LogMode       string `yaml:"logMode"`

	Person     PersonModel     `yaml:"personModel"`
	Pose       PoseModel       `yaml:"poseModel"`
	Classifier ClassifierModel `yaml:"classifier"`
	Decision   Decision        `yaml:"decision"`
	Annotation Annotation      `yaml:"annotation"`
	Stream     Stream          `yaml:"stream"`
}

// Default returns a config with every optional field filled in.
func Default() Config {
	return Config{
		RPCPort:       50051,
		HTTPPort:      8080,
		AdhocPort:     50053,
		WorkersNum:    1,
		InstanceClass: "Cpu",
		SessionIdleMs: 1000,
		LogMode:       "production",
		Person: PersonModel{
			InputWidth:  320,
			InputHeight: 320,
			MinScore:    0.5,
			ClassID:     1,
			Blob:        Blob{InputScale: 1.0 / 127.5, InputMean: 127.5, SwapRB: true},
		},
		Pose: PoseModel{
			InputWidth:             192,
			InputHeight:            192,
			KeypointScoreThreshold: 0.1,
			Blob:                   Blob{InputScale: 1, SwapRB: true},
		},
		Classifier: ClassifierModel{
			Labels: []string{"cheating", "not_cheating", "uncertain"},
		},
		Decision: Decision{
			DominanceFactor: 10000,
		},
		Annotation: Annotation{
			Thickness: 2,
			Color:     [3]uint8{255, 0, 0},
		},
		Stream: Stream{
			FramesTopic:  "inference",
			VerdictTopic: "verdict",
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Pose.Model == "" {
		errs = append(errs, errors.New("poseModel.model cannot be empty"))
	}
	if c.Pose.InputWidth <= 0 || c.Pose.InputHeight <= 0 {
		errs = append(errs, fmt.Errorf("poseModel input size must be positive, got %dx%d", c.Pose.InputWidth, c.Pose.InputHeight))
	}
	if c.Pose.KeypointScoreThreshold < 0 || c.Pose.KeypointScoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("keypointScoreThreshold must be between 0.0 and 1.0, got %f", c.Pose.KeypointScoreThreshold))
	}
	if c.Pose.InputScale <= 0 {
		errs = append(errs, fmt.Errorf("poseModel.inputScale must be positive, got %f", c.Pose.InputScale))
	}
	if c.Person.Enabled() {
		if c.Person.InputWidth <= 0 || c.Person.InputHeight <= 0 {
			errs = append(errs, fmt.Errorf("personModel input size must be positive, got %dx%d", c.Person.InputWidth, c.Person.InputHeight))
		}
		if c.Person.MinScore < 0 || c.Person.MinScore > 1 {
			errs = append(errs, fmt.Errorf("personModel.minScore must be between 0.0 and 1.0, got %f", c.Person.MinScore))
		}
		if c.Person.InputScale <= 0 {
			errs = append(errs, fmt.Errorf("personModel.inputScale must be positive, got %f", c.Person.InputScale))
		}
		if c.Pose.MultiPose {
			errs = append(errs, errors.New("poseModel.multiPose cannot be combined with personModel"))
		}
	}
	if c.Classifier.Model == "" {
		errs = append(errs, errors.New("classifier.model cannot be empty"))
	}
	if c.Classifier.LabelsFile == "" && len(c.Classifier.Labels) != 3 {
		errs = append(errs, fmt.Errorf("classifier.labels must have 3 entries, got %d", len(c.Classifier.Labels)))
	}
	if c.Decision.DominanceFactor <= 0 {
		errs = append(errs, fmt.Errorf("decision.dominanceFactor must be positive, got %f", c.Decision.DominanceFactor))
	}
	if c.Annotation.Thickness <= 0 {
		errs = append(errs, fmt.Errorf("annotation.thickness must be positive, got %d", c.Annotation.Thickness))
	}
	if c.Stream.Enabled && (len(c.Stream.Brokers) == 0 || c.Stream.RedisAddr == "") {
		errs = append(errs, errors.New("stream requires brokers and redisAddr"))
	}
	return errors.Join(errs...)
}
