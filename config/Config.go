// Package config loads experiment configurations from YAML files. A
// configuration is a flat list of hyperparameters; invalid values are
// reported at load time so that a bad experiment never starts running.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentType selects which learning algorithm an experiment runs
type AgentType string

// Available agent types
const (
	DDPG AgentType = "ddpg"
	DQN  AgentType = "dqn"
)

// EnvType selects which racing environment an experiment runs on
type EnvType string

// Available environment types
const (
	Native EnvType = "native"
	Gym    EnvType = "gym"
)

// Config describes a full experiment: which agent learns on which
// environment, and every hyperparameter either needs.
type Config struct {
	Agent       AgentType `yaml:"agent"`
	Environment EnvType   `yaml:"environment"`
	Seed        int64     `yaml:"seed"`

	// Episode loop
	NumEpisodes           int    `yaml:"num_episodes"`
	MaxStepsWithoutReward int    `yaml:"max_steps_without_reward"`
	Render                bool   `yaml:"render"`
	SaveEvery             int    `yaml:"save_every"`
	SaveDir               string `yaml:"save_dir"`

	// Observation preprocessing: frames are grayscaled, scaled to
	// [0, 1], and resized to FrameSize x FrameSize before the agent
	// sees them.
	FrameSize int `yaml:"frame_size"`

	// Shared learning hyperparameters
	Gamma            float64 `yaml:"gamma"`
	ReplayBufferSize int     `yaml:"replay_buffer_size"`
	ReplayMinSize    int     `yaml:"replay_min_size"`
	BatchSize        int     `yaml:"batch_size"`
	HiddenSizes      []int   `yaml:"hidden_sizes"`

	// DDPG
	ActorLR    float64 `yaml:"actor_lr"`
	CriticLR   float64 `yaml:"critic_lr"`
	Tau        float64 `yaml:"tau"`
	Noise      float64 `yaml:"noise"`
	NoiseDecay float64 `yaml:"noise_decay"`
	NoiseMin   float64 `yaml:"noise_min"`

	// DQN
	LR                   float64   `yaml:"lr"`
	EpsilonInitial       float64   `yaml:"epsilon_initial"`
	EpsilonFinal         float64   `yaml:"epsilon_final"`
	EpsilonDecaySteps    int       `yaml:"epsilon_decay_steps"`
	MemoryAlpha          float64   `yaml:"memory_alpha"`
	MemoryBeta           float64   `yaml:"memory_beta"`
	TargetUpdateInterval int       `yaml:"target_update_interval"`
	TurnLevels           []float64 `yaml:"turn_levels"`
	GasLevels            []float64 `yaml:"gas_levels"`
	BrakeLevels          []float64 `yaml:"brake_levels"`

	// Tracking. An empty MetricsDB disables the SQLite metric store,
	// an empty PlotDir disables plotting.
	MetricsDB string `yaml:"metrics_db"`
	PlotDir   string `yaml:"plot_dir"`
}

// Default returns a Config with sensible defaults for every field.
// Loading a file overrides only the fields the file sets.
func Default() Config {
	return Config{
		Agent:       DDPG,
		Environment: Native,
		Seed:        1,

		NumEpisodes:           1000,
		MaxStepsWithoutReward: 50,
		SaveEvery:             10,
		SaveDir:               "checkpoints",

		FrameSize: 64,

		Gamma:            0.99,
		ReplayBufferSize: 100_000,
		ReplayMinSize:    1,
		BatchSize:        64,
		HiddenSizes:      []int{256, 256},

		ActorLR:    1e-4,
		CriticLR:   1e-3,
		Tau:        0.01,
		Noise:      0.5,
		NoiseDecay: 0.99,
		NoiseMin:   0.05,

		LR:                   1e-4,
		EpsilonInitial:       1.0,
		EpsilonFinal:         0.05,
		EpsilonDecaySteps:    100_000,
		MemoryAlpha:          0.6,
		MemoryBeta:           0.4,
		TargetUpdateInterval: 1000,
		TurnLevels:           []float64{-1.0, 0.0, 1.0},
		GasLevels:            []float64{0.0, 0.5, 1.0},
		BrakeLevels:          []float64{0.0, 0.8},
	}
}

// Load reads a Config from a YAML file, filling unset fields with
// defaults and validating the result.
func Load(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("load: could not read config file: %v",
			err)
	}
	return Parse(data)
}

// Parse reads a Config from YAML data, filling unset fields with
// defaults and validating the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse: invalid config: %v", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate returns an error describing the first invalid
// hyperparameter found, or nil if the Config is usable.
func (c Config) Validate() error {
	if c.Agent != DDPG && c.Agent != DQN {
		return fmt.Errorf("validate: unknown agent type %q", c.Agent)
	}
	if c.Environment != Native && c.Environment != Gym {
		return fmt.Errorf("validate: unknown environment type %q",
			c.Environment)
	}

	if c.NumEpisodes < 1 {
		return fmt.Errorf("validate: num_episodes must be positive "+
			"\n\thave(%v)", c.NumEpisodes)
	}
	if c.MaxStepsWithoutReward < 1 {
		return fmt.Errorf("validate: max_steps_without_reward must be "+
			"positive \n\thave(%v)", c.MaxStepsWithoutReward)
	}
	if c.SaveEvery < 1 {
		return fmt.Errorf("validate: save_every must be positive "+
			"\n\thave(%v)", c.SaveEvery)
	}
	if c.FrameSize < 1 {
		return fmt.Errorf("validate: frame_size must be positive "+
			"\n\thave(%v)", c.FrameSize)
	}

	if c.Gamma < 0.0 || c.Gamma >= 1.0 {
		return fmt.Errorf("validate: gamma must be in [0, 1) \n\thave(%v)",
			c.Gamma)
	}
	if c.ReplayBufferSize < 1 {
		return fmt.Errorf("validate: replay_buffer_size must be positive "+
			"\n\thave(%v)", c.ReplayBufferSize)
	}
	if c.BatchSize < 1 || c.BatchSize > c.ReplayBufferSize {
		return fmt.Errorf("validate: batch_size must be in [1, "+
			"replay_buffer_size] \n\thave(%v)", c.BatchSize)
	}
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("validate: at least one hidden layer is required")
	}

	switch c.Agent {
	case DDPG:
		return c.validateDDPG()
	case DQN:
		return c.validateDQN()
	}
	return nil
}

func (c Config) validateDDPG() error {
	if c.ActorLR <= 0.0 || c.CriticLR <= 0.0 {
		return fmt.Errorf("validate: learning rates must be positive "+
			"\n\thave(actor %v, critic %v)", c.ActorLR, c.CriticLR)
	}
	if c.Tau <= 0.0 || c.Tau > 1.0 {
		return fmt.Errorf("validate: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}
	if c.Noise < 0.0 || c.NoiseMin < 0.0 {
		return fmt.Errorf("validate: noise scales cannot be negative "+
			"\n\thave(noise %v, noise_min %v)", c.Noise, c.NoiseMin)
	}
	if c.NoiseDecay <= 0.0 || c.NoiseDecay > 1.0 {
		return fmt.Errorf("validate: noise_decay must be in (0, 1] "+
			"\n\thave(%v)", c.NoiseDecay)
	}
	return nil
}

func (c Config) validateDQN() error {
	if c.LR <= 0.0 {
		return fmt.Errorf("validate: lr must be positive \n\thave(%v)", c.LR)
	}
	if c.EpsilonInitial < 0.0 || c.EpsilonInitial > 1.0 ||
		c.EpsilonFinal < 0.0 || c.EpsilonFinal > c.EpsilonInitial {
		return fmt.Errorf("validate: epsilon schedule must satisfy 0 <= "+
			"epsilon_final <= epsilon_initial <= 1 \n\thave(%v, %v)",
			c.EpsilonInitial, c.EpsilonFinal)
	}
	if c.EpsilonDecaySteps < 1 {
		return fmt.Errorf("validate: epsilon_decay_steps must be positive "+
			"\n\thave(%v)", c.EpsilonDecaySteps)
	}
	if c.MemoryAlpha < 0.0 {
		return fmt.Errorf("validate: memory_alpha cannot be negative "+
			"\n\thave(%v)", c.MemoryAlpha)
	}
	if c.MemoryBeta < 0.0 || c.MemoryBeta > 1.0 {
		return fmt.Errorf("validate: memory_beta must be in [0, 1] "+
			"\n\thave(%v)", c.MemoryBeta)
	}
	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("validate: target_update_interval must be "+
			"positive \n\thave(%v)", c.TargetUpdateInterval)
	}
	if len(c.TurnLevels) == 0 || len(c.GasLevels) == 0 ||
		len(c.BrakeLevels) == 0 {
		return fmt.Errorf("validate: action discretization needs at least "+
			"one level per dimension \n\thave(turn %v, gas %v, brake %v)",
			len(c.TurnLevels), len(c.GasLevels), len(c.BrakeLevels))
	}
	return nil
}
