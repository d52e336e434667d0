// Package config loads the settings of the simulator from a YAML file, a
// .env file and SATASIM_* environment variables.
package config

// Config is the whole configuration file.
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Drive     DriveConfig     `yaml:"drive"`
	Array     ArrayConfig     `yaml:"array"`
	BIST      BISTConfig      `yaml:"bist"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Recording RecordingConfig `yaml:"recording"`
}

// ---- LINK ----

// LinkConfig sets up every link and channel.
type LinkConfig struct {
	FrameTimeoutMs int  `yaml:"frame_timeout_ms"`
	PendingFrames  int  `yaml:"pending_frames"`
	LoopbackDepth  int  `yaml:"loopback_depth"`
	Cont           bool `yaml:"cont"`
}

// ---- DRIVE ----

// DriveConfig sets up the simulated drives and the command layers that talk
// to them.
type DriveConfig struct {
	Sectors          uint64 `yaml:"sectors"`
	QueueDepth       int    `yaml:"queue_depth"`
	CommandTimeoutMs int    `yaml:"command_timeout_ms"`
	Window           int    `yaml:"window"`
	Serial           string `yaml:"serial"`
	Model            string `yaml:"model"`
}

// ---- ARRAY ----

// ArrayConfig sets up the array.
type ArrayConfig struct {
	Mode              string `yaml:"mode"`
	Endpoints         int    `yaml:"endpoints"`
	StripeUnitSize    int    `yaml:"stripe_unit_size"`
	ReadPolicy        string `yaml:"read_policy"`
	TransferTimeoutMs int    `yaml:"transfer_timeout_ms"`
}

// ---- BIST ----

// BISTConfig is the traffic and the fault profile of a BIST run.
type BISTConfig struct {
	Pattern string        `yaml:"pattern"`
	Frames  int           `yaml:"frames"`
	Words   int           `yaml:"words"`
	Seed    uint64        `yaml:"seed"`
	Faults  []FaultConfig `yaml:"faults,omitempty"`
	Rate    *float64      `yaml:"rate"`

	// Position is the data word hit by faults. Unset means random.
	Position *int `yaml:"position,omitempty"`
}

// FaultConfig is one fault of a profile.
type FaultConfig struct {
	Kind      string `yaml:"kind"`
	Bits      int    `yaml:"bits"`
	Count     int    `yaml:"count"`
	Primitive string `yaml:"primitive"`
}

// ---- MONITOR ----

// MonitorConfig sets up the HTTP monitor. Port 0 picks a free port.
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	Open    bool `yaml:"open"`
}

// ---- RECORDING ----

// RecordingConfig sets up the SQLite recorder. An empty path generates a
// file name.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Trace   bool   `yaml:"trace"`
}
