// Package config provides configuration management for the road-traffic
// analytics engine. Configuration lives in a single TOML file and is
// hot-reloaded on write.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
)

// Config is the root configuration document.
type Config struct {
	Input     InputConfig     `toml:"input"`
	Detection DetectionConfig `toml:"detection"`
	Tracking  TrackingConfig  `toml:"tracking"`
	Worker    WorkerConfig    `toml:"worker"`
	RestAPI   RestAPIConfig   `toml:"rest_api"`
	Output    OutputConfig    `toml:"output"`
	RoadLanes []RoadLane      `toml:"road_lanes"`

	mu       sync.RWMutex    `toml:"-"`
	path     string          `toml:"-"`
	watchers []func(*Config) `toml:"-"`
}

// InputConfig describes the capture source.
type InputConfig struct {
	VideoSrc string  `toml:"video_src"`
	Type     string  `toml:"type"` // "file", "rtsp", "device"
	ScaleX   float64 `toml:"scale_x"`
	ScaleY   float64 `toml:"scale_y"`
}

// DetectionConfig describes the detector collaborator's tuning knobs.
type DetectionConfig struct {
	NetWidth      int      `toml:"net_width"`
	NetHeight     int      `toml:"net_height"`
	ConfThreshold float64  `toml:"conf_threshold"`
	NMSThreshold  float64  `toml:"nms_threshold"`
	NetClasses    []string `toml:"net_classes"`
}

// TrackingConfig configures the association engine and track lifecycle.
type TrackingConfig struct {
	Engine           string  `toml:"engine"` // "centroid", "iou", "bytetrack"
	MaxNoMatch       int     `toml:"max_no_match"`
	MaxPointsInTrack int     `toml:"max_points_in_track"`
	IOUThreshold     float64 `toml:"iou_threshold"`
	HighThresh       float64 `toml:"high_thresh"`
	LowThresh        float64 `toml:"low_thresh"`
	MinTrackAge      int     `toml:"min_track_age"`
	MinThresholdDist float64 `toml:"min_threshold_distance"`
}

// WorkerConfig configures the rollup worker.
type WorkerConfig struct {
	ResetDataMilliseconds int64 `toml:"reset_data_milliseconds"`
}

// RestAPIConfig configures the HTTP read/write surface.
type RestAPIConfig struct {
	Enable      bool   `toml:"enable"`
	Host        string `toml:"host"`
	BackEndPort int    `toml:"back_end_port"`
}

// OutputConfig configures the optional MJPEG output.
type OutputConfig struct {
	Enable bool `toml:"enable"`
	Width  int  `toml:"width"`
	Height int  `toml:"height"`
}

// RoadLane is the on-disk representation of a zone, as persisted to TOML.
type RoadLane struct {
	PixelPoints   [4][2]float64 `toml:"pixel_points"`
	WGS84Points   [4][2]float64 `toml:"wgs84_points"`
	LaneNumber    int           `toml:"lane_number"`
	LaneDirection string        `toml:"lane_direction"`
	ColorRGB      [3]int        `toml:"color_rgb"`
	VirtualLine   *VirtualLine  `toml:"virtual_line,omitempty"`
}

// VirtualLine is the on-disk representation of a zone's virtual line.
type VirtualLine struct {
	A         [2]float64 `toml:"a"`
	B         [2]float64 `toml:"b"`
	Direction string     `toml:"direction"` // "LRTB" or "RLBT"
}

// DefaultFilteredClasses is the default detection class whitelist.
var DefaultFilteredClasses = []string{"car", "motorbike", "bus", "train", "truck"}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if len(c.Detection.NetClasses) == 0 {
		c.Detection.NetClasses = append([]string(nil), DefaultFilteredClasses...)
	}
	if c.Tracking.Engine == "" {
		c.Tracking.Engine = "centroid"
	}
	if c.Tracking.MaxNoMatch == 0 {
		c.Tracking.MaxNoMatch = 15
	}
	if c.Tracking.MaxPointsInTrack == 0 {
		c.Tracking.MaxPointsInTrack = 150
	}
	if c.Tracking.MinTrackAge == 0 {
		c.Tracking.MinTrackAge = 5
	}
	if c.Tracking.IOUThreshold == 0 {
		c.Tracking.IOUThreshold = 0.3
	}
	if c.Tracking.HighThresh == 0 {
		c.Tracking.HighThresh = 0.7
	}
	if c.Tracking.LowThresh == 0 {
		c.Tracking.LowThresh = 0.3
	}
	if c.Worker.ResetDataMilliseconds == 0 {
		c.Worker.ResetDataMilliseconds = 1000
	}
	if c.RestAPI.Host == "" {
		c.RestAPI.Host = "0.0.0.0"
	}
	if c.RestAPI.BackEndPort == 0 {
		c.RestAPI.BackEndPort = 8080
	}
}

// validate rejects configurations that would be fatal at startup.
func (c *Config) validate() error {
	for i, lane := range c.RoadLanes {
		if lane.VirtualLine != nil {
			a, b := lane.VirtualLine.A, lane.VirtualLine.B
			if a == b {
				return fmt.Errorf("road_lanes[%d]: virtual line endpoints must be distinct", i)
			}
		}
	}
	if c.Worker.ResetDataMilliseconds < 0 {
		return fmt.Errorf("worker.reset_data_milliseconds must be non-negative")
	}
	return nil
}

// Save persists the configuration to its TOML file atomically.
func (c *Config) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveUnlocked()
}

func (c *Config) saveUnlocked() error {
	cfgCopy := Config{
		Input:     c.Input,
		Detection: c.Detection,
		Tracking:  c.Tracking,
		Worker:    c.Worker,
		RestAPI:   c.RestAPI,
		Output:    c.Output,
		RoadLanes: c.RoadLanes,
	}

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := "# Road-traffic analytics configuration\n# Auto-generated - manual edits are preserved\n\n"
	data = append([]byte(header), data...)

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmpPath, c.path)
}

// Watch starts watching the configuration file for external changes and
// reloads on write, notifying registered callbacks (e.g. the pipeline's
// zone set).
func (c *Config) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond)
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback invoked after every successful reload.
func (c *Config) OnChange(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *Config) reload() {
	newCfg, err := Load(c.path)
	if err != nil {
		slog.Error("failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Input = newCfg.Input
	c.Detection = newCfg.Detection
	c.Tracking = newCfg.Tracking
	c.Worker = newCfg.Worker
	c.RestAPI = newCfg.RestAPI
	c.Output = newCfg.Output
	c.RoadLanes = newCfg.RoadLanes
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("configuration reloaded")
	for _, fn := range watchers {
		fn(c)
	}
}

// SetPath overrides the path used by Save/Watch (tests, or first-run).
func (c *Config) SetPath(path string) { c.path = path }

// GetPath returns the path this configuration was loaded from or will
// save to.
func (c *Config) GetPath() string { return c.path }

// Lanes returns a snapshot copy of the configured road lanes.
func (c *Config) Lanes() []RoadLane {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RoadLane, len(c.RoadLanes))
	copy(out, c.RoadLanes)
	return out
}

// ReplaceLanes atomically swaps the configured road lane set and persists
// it, used by the replace_all mutation endpoint.
func (c *Config) ReplaceLanes(lanes []RoadLane) error {
	if len(lanes) == 0 {
		return fmt.Errorf("replace_all requires at least one zone")
	}
	c.mu.Lock()
	c.RoadLanes = lanes
	err := c.saveUnlocked()
	c.mu.Unlock()
	return err
}
