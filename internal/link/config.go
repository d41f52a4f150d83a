package link

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mailmindlin/MOEnet-2024/internal/geom"
)

var (
	// ErrConfigDecode is returned when the co-processor's configuration blob
	// cannot be decoded.
	ErrConfigDecode = errors.New("link: config decode failed")

	// ErrConfigEncode is returned when an outbound configuration cannot be
	// encoded. Nothing is published.
	ErrConfigEncode = errors.New("link: config encode failed")
)

// TransformDirection says which side publishes a transform channel.
type TransformDirection int

const (
	// CamToRio: the co-processor publishes and the controller subscribes.
	CamToRio TransformDirection = iota
	// RioToCam: the controller publishes and the co-processor subscribes.
	RioToCam
	// Disabled: neither side uses the channel.
	Disabled
)

func (d TransformDirection) String() string {
	switch d {
	case CamToRio:
		return "CamToRio"
	case RioToCam:
		return "RioToCam"
	case Disabled:
		return "Disabled"
	}
	return fmt.Sprintf("TransformDirection(%d)", int(d))
}

// Directions are named from the co-processor's point of view: "pub" means
// it publishes.
func (d TransformDirection) MarshalJSON() ([]byte, error) {
	switch d {
	case CamToRio:
		return []byte(`"pub"`), nil
	case RioToCam:
		return []byte(`"sub"`), nil
	case Disabled:
		return []byte(`false`), nil
	}
	return nil, fmt.Errorf("invalid transform direction %d", int(d))
}

func (d *TransformDirection) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"pub"`:
		*d = CamToRio
	case `"sub"`:
		*d = RioToCam
	case `false`:
		*d = Disabled
	default:
		return fmt.Errorf("invalid transform direction %s", b)
	}
	return nil
}

// NetworkTableConfig controls what the co-processor exchanges over the
// transport.
type NetworkTableConfig struct {
	LogLevel          string             `json:"log_level"`
	SubscribeSleep    bool               `json:"subscribeSleep"`
	PublishLog        bool               `json:"publishLog"`
	PublishPing       bool               `json:"publishPing"`
	PublishErrors     bool               `json:"publishErrors"`
	PublishStatus     bool               `json:"publishStatus"`
	PublishConfig     bool               `json:"publishConfig"`
	PublishSystemInfo bool               `json:"publishSystemInfo"`
	PublishDetections bool               `json:"publishDetections"`
	TfFieldToRobot    TransformDirection `json:"tfFieldToRobot"`
	TfFieldToOdom     TransformDirection `json:"tfFieldToOdom"`
	TfOdomToRobot     TransformDirection `json:"tfOdomToRobot"`

	// SubscribeConfig is reported by the co-processor but is not ours to set;
	// it is decoded and never encoded.
	SubscribeConfig bool `json:"-"`
}

// DefaultNetworkTableConfig returns the co-processor's defaults: everything
// published, all transforms flowing from the co-processor.
func DefaultNetworkTableConfig() NetworkTableConfig {
	return NetworkTableConfig{
		LogLevel:          "ERROR",
		SubscribeSleep:    true,
		SubscribeConfig:   true,
		PublishLog:        true,
		PublishPing:       true,
		PublishErrors:     true,
		PublishStatus:     true,
		PublishConfig:     true,
		PublishSystemInfo: true,
		PublishDetections: true,
		TfFieldToRobot:    CamToRio,
		TfFieldToOdom:     CamToRio,
		TfOdomToRobot:     CamToRio,
	}
}

func (c *NetworkTableConfig) UnmarshalJSON(b []byte) error {
	type plain NetworkTableConfig
	aux := struct {
		*plain
		SubscribeConfig *bool `json:"subscribeConfig"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	if aux.SubscribeConfig != nil {
		c.SubscribeConfig = *aux.SubscribeConfig
	}
	return nil
}

// SlamConfig configures the co-processor's localization pipeline.
type SlamConfig struct {
	Backend        string `json:"backend"`
	SyncNN         bool   `json:"syncNN"`
	SLAM           bool   `json:"slam"`
	VIO            bool   `json:"vio"`
	DebugImage     bool   `json:"debugImage"`
	DebugImageRate int    `json:"debugImageRate"`
}

// DefaultSlamConfig returns SLAM enabled on the default backend.
func DefaultSlamConfig() SlamConfig {
	return SlamConfig{Backend: "sai", SLAM: true}
}

// CameraConfig describes one camera attached to the co-processor.
type CameraConfig struct {
	ID       string `json:"id"`
	Selector string `json:"selector"`
	Optional bool   `json:"optional"`
	SLAM     bool   `json:"slam"`

	// RobotToCamera is the camera's mounting pose in the robot frame.
	RobotToCamera geom.Transform3D `json:"robotToCamera"`

	// ObjectDetection names the detection model to run, if any.
	ObjectDetection *string `json:"objectDetection,omitempty"`
}

// Validate checks the fields the co-processor requires.
func (c CameraConfig) Validate() error {
	if c.ID == "" {
		return errors.New("camera id is required")
	}
	if c.Selector == "" {
		return fmt.Errorf("camera %s: selector is required", c.ID)
	}
	return nil
}

func (c CameraConfig) clone() CameraConfig {
	if c.ObjectDetection != nil {
		od := *c.ObjectDetection
		c.ObjectDetection = &od
	}
	return c
}

// FullConfig is the configuration the co-processor reports it is running.
type FullConfig struct {
	NT      NetworkTableConfig `json:"nt"`
	SLAM    SlamConfig         `json:"slam"`
	Cameras []CameraConfig     `json:"cameras"`
}

// DecodeFullConfig parses a configuration blob. Sections and fields missing
// from the blob keep their defaults.
func DecodeFullConfig(b []byte) (FullConfig, error) {
	cfg := FullConfig{NT: DefaultNetworkTableConfig(), SLAM: DefaultSlamConfig()}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return FullConfig{}, err
	}
	return cfg, nil
}

// Clone returns a deep copy of c.
func (c FullConfig) Clone() FullConfig {
	out := c
	if c.Cameras != nil {
		out.Cameras = make([]CameraConfig, len(c.Cameras))
		for i, cam := range c.Cameras {
			out.Cameras[i] = cam.clone()
		}
	}
	return out
}

// RemoteConfig is the configuration the controller asks the co-processor to
// run. Nil sections are left to the co-processor's defaults.
type RemoteConfig struct {
	NT      *NetworkTableConfig `json:"nt,omitempty"`
	SLAM    *SlamConfig         `json:"slam,omitempty"`
	Cameras []CameraConfig      `json:"cameras,omitempty"`
}

// NewRemoteConfig returns a request that mirrors src. Nothing is shared
// with src.
func NewRemoteConfig(src FullConfig) *RemoteConfig {
	src = src.Clone()
	return &RemoteConfig{NT: &src.NT, SLAM: &src.SLAM, Cameras: src.Cameras}
}

// AddCamera appends cam.
func (c *RemoteConfig) AddCamera(cam CameraConfig) *RemoteConfig {
	c.Cameras = append(c.Cameras, cam.clone())
	return c
}

// AddSLAMCamera appends a camera used for localization.
func (c *RemoteConfig) AddSLAMCamera(id, selector string, robotToCamera geom.Transform3D) *RemoteConfig {
	return c.AddCamera(CameraConfig{ID: id, Selector: selector, RobotToCamera: robotToCamera, SLAM: true})
}

// AddObjectDetectionCamera appends a camera that runs the named detection
// model.
func (c *RemoteConfig) AddObjectDetectionCamera(id, selector string, robotToCamera geom.Transform3D, model string) *RemoteConfig {
	return c.AddCamera(CameraConfig{ID: id, Selector: selector, RobotToCamera: robotToCamera, ObjectDetection: &model})
}

// Validate checks every camera.
func (c *RemoteConfig) Validate() error {
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if err := cam.Validate(); err != nil {
			return err
		}
		if seen[cam.ID] {
			return fmt.Errorf("duplicate camera id %s", cam.ID)
		}
		seen[cam.ID] = true
	}
	return nil
}

// Encode returns the JSON form published to the co-processor.
func (c *RemoteConfig) Encode() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigEncode, err)
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigEncode, err)
	}
	return b, nil
}
