// Package msg defines the records exchanged between the controller and the
// co-processor. Records are values; once built they are not mutated.
package msg

import (
	"fmt"

	"github.com/mailmindlin/MOEnet-2024/internal/clock"
	"github.com/mailmindlin/MOEnet-2024/internal/geom"
)

// Timestamped pairs a value with the time it was recorded.
type Timestamped[D clock.Domain, V any] struct {
	Timestamp clock.Timestamp[D]
	Value     V
}

// PositionEstimate is a field-relative robot pose with velocity and their
// covariances.
type PositionEstimate[D clock.Domain] struct {
	Timestamp       clock.Timestamp[D]
	Pose            geom.Pose3D
	PoseCovariance  geom.Mat66
	Twist           geom.Twist3D
	TwistCovariance geom.Mat66
}

// ObjectDetection is a single detected object. Either position may be nil
// when the co-processor could not localize the object in that frame.
type ObjectDetection[D clock.Domain] struct {
	Label         string
	Confidence    float64
	Timestamp     clock.Timestamp[D]
	PositionField *geom.Translation3D
	PositionRobot *geom.Translation3D
}

// Validate checks that the confidence is a probability.
func (d ObjectDetection[D]) Validate() error {
	if !(d.Confidence >= 0 && d.Confidence <= 1) {
		return fmt.Errorf("detection %q: confidence %v outside [0, 1]", d.Label, d.Confidence)
	}
	return nil
}

func (d ObjectDetection[D]) String() string {
	return fmt.Sprintf("ObjectDetection{label=%s confidence=%.3f field=%v robot=%v}",
		d.Label, d.Confidence, d.PositionField, d.PositionRobot)
}

// ObjectDetections is a batch of detections from one co-processor frame.
type ObjectDetections[D clock.Domain] []ObjectDetection[D]

// Labels returns the distinct labels in first-seen order.
func (ds ObjectDetections[D]) Labels() []string {
	seen := make(map[string]struct{}, len(ds))
	var labels []string
	for _, d := range ds {
		if _, ok := seen[d.Label]; ok {
			continue
		}
		seen[d.Label] = struct{}{}
		labels = append(labels, d.Label)
	}
	return labels
}
