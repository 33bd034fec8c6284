// Package pipeline runs the per-frame cheating detection: detect persons,
// embed, classify, decide and annotate.
package pipeline

import (
	"CheatDetServer/annotate"
	"CheatDetServer/decision"
	iface "CheatDetServer/interface"
	"CheatDetServer/monitor"
	"CheatDetServer/pose"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Result is the outcome of one frame. The frame itself is annotated in place.
type Result struct {
	CheatingDetected bool
	Verdicts         []iface.Verdict
	// Skipped counts persons left out because of a per-person failure.
	Skipped int
}

type Pipeline struct {
	detector   iface.PoseDetector
	classifier iface.Classifier
	rule       decision.Rule
	style      annotate.Style
	logger     *zap.Logger
}

func New(detector iface.PoseDetector, classifier iface.Classifier, rule decision.Rule, style annotate.Style, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		detector:   detector,
		classifier: classifier,
		rule:       rule,
		style:      style,
		logger:     logger.Named("pipeline"),
	}
}

func (p *Pipeline) Rule() decision.Rule {
	return p.rule
}

func (p *Pipeline) Classifier() iface.Classifier {
	return p.classifier
}

// Close destroys both model handles.
func (p *Pipeline) Close() {
	p.detector.Destroy()
	p.classifier.Destroy()
}

// DetectCheating annotates frame and reports whether anyone in it is cheating.
func (p *Pipeline) DetectCheating(frame *gocv.Mat) bool {
	return p.Process(frame).CheatingDetected
}

// Process never fails: a detector failure yields an unchanged frame and no
// verdicts, and a failure for one person only drops that person.
func (p *Pipeline) Process(frame *gocv.Mat) Result {
	monitor.FramesTotal.Inc()
	if frame == nil || frame.Empty() {
		p.logger.Warn("empty frame")
		return Result{}
	}

	persons, err := p.detect(*frame)
	if err != nil {
		p.logger.Warn("pose detection failed", zap.Error(err))
		return Result{}
	}
	if len(persons) == 0 {
		return Result{}
	}

	var res Result
	boxes := make([]iface.Box, 0, len(persons))
	for i, person := range persons {
		verdict, err := p.classifyPerson(person)
		if err != nil {
			res.Skipped++
			monitor.SkippedTotal.WithLabelValues(skipReason(err)).Inc()
			p.logger.Warn("person skipped", zap.Int("person", i), zap.Int("id", person.ID), zap.Error(err))
			continue
		}
		monitor.DecisionsTotal.WithLabelValues(verdict.Decision.String()).Inc()
		res.Verdicts = append(res.Verdicts, verdict)
		boxes = append(boxes, iface.Box{Rect: person.BoundingBox, Decision: verdict.Decision})
	}

	res.CheatingDetected = annotate.Annotate(frame, boxes, p.style)
	if res.CheatingDetected {
		monitor.CheatingFramesTotal.Inc()
		p.logger.Info("cheating detected", zap.Int("persons", len(persons)), zap.Int("skipped", res.Skipped))
	}
	return res
}

func (p *Pipeline) detect(frame gocv.Mat) (persons []iface.Person, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: detector panic: %v", iface.ErrDetectionUnavailable, r)
		}
	}()
	return p.detector.Detect(frame)
}

func (p *Pipeline) classifyPerson(person iface.Person) (verdict iface.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classify panic: %v", r)
		}
	}()
	embedding, err := pose.EmbeddingFromPerson(person)
	if err != nil {
		return verdict, err
	}
	probs, err := p.classifier.Predict([][]float32{embedding})
	if err != nil {
		return verdict, err
	}
	if len(probs) != 1 {
		return verdict, fmt.Errorf("%w: classifier returned %d rows for 1 embedding", iface.ErrShapeMismatch, len(probs))
	}
	for _, v := range probs[0] {
		if finite(v) != v {
			return verdict, fmt.Errorf("%w: %v", iface.ErrNonFiniteOutput, probs[0])
		}
	}
	return iface.Verdict{
		Person:        person,
		Probabilities: probs[0],
		Decision:      p.rule.Decide(probs[0]),
		Category:      p.rule.TopCategory(probs[0]),
	}, nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, iface.ErrDegeneratePose):
		return "degenerate_pose"
	case errors.Is(err, iface.ErrShapeMismatch):
		return "shape_mismatch"
	case errors.Is(err, iface.ErrNonFiniteOutput):
		return "non_finite_output"
	default:
		return "error"
	}
}

// Summary flattens the result into plain maps and slices, ready for JSON or
// structpb.
func (r Result) Summary() map[string]any {
	persons := make([]any, 0, len(r.Verdicts))
	for _, v := range r.Verdicts {
		box := v.Person.BoundingBox
		persons = append(persons, map[string]any{
			"id":            v.Person.ID,
			"box":           []any{box.Start.X, box.Start.Y, box.End.X, box.End.Y},
			"score":         finite(v.Person.Score),
			"probabilities": []any{v.Probabilities[0], v.Probabilities[1], v.Probabilities[2]},
			"decision":      v.Decision.String(),
			"label":         v.Category.Label,
		})
	}
	return map[string]any{
		"cheatingDetected": r.CheatingDetected,
		"persons":          persons,
		"skipped":          r.Skipped,
	}
}

func finite(v float32) float32 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0
	}
	return v
}
