package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MertAtesmen/deep-racing-gymnasium/agent"
	"github.com/MertAtesmen/deep-racing-gymnasium/agent/ddpg"
	"github.com/MertAtesmen/deep-racing-gymnasium/agent/dqn"
	"github.com/MertAtesmen/deep-racing-gymnasium/config"
	env "github.com/MertAtesmen/deep-racing-gymnasium/environment"
	"github.com/MertAtesmen/deep-racing-gymnasium/environment/gym"
	"github.com/MertAtesmen/deep-racing-gymnasium/environment/racing"
	"github.com/MertAtesmen/deep-racing-gymnasium/experiment"
	"github.com/MertAtesmen/deep-racing-gymnasium/experiment/checkpointer"
	"github.com/MertAtesmen/deep-racing-gymnasium/experiment/tracker"
	"github.com/MertAtesmen/deep-racing-gymnasium/initwfn"
	"github.com/MertAtesmen/deep-racing-gymnasium/network"
	"github.com/MertAtesmen/deep-racing-gymnasium/preprocess"
	"github.com/MertAtesmen/deep-racing-gymnasium/replay"
	"github.com/MertAtesmen/deep-racing-gymnasium/solver"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "deep-racing",
		Short: "Train and evaluate deep RL agents on car racing",
	}
	root.AddCommand(trainCommand(), evalCommand())
	return root
}

func trainCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train an agent from a YAML configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return train(cfg)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "config.yml",
		"Experiment configuration file")
	return cmd
}

func evalCommand() *cobra.Command {
	var configFile string
	var checkpointDir string
	var episodes int

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a trained agent from a checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			return eval(cfg, checkpointDir, episodes)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "config.yml",
		"Experiment configuration file")
	cmd.Flags().StringVar(&checkpointDir, "checkpoint", "",
		"Checkpoint directory to restore weights from")
	cmd.Flags().IntVar(&episodes, "episodes", 10,
		"Number of evaluation episodes")
	cmd.MarkFlagRequired("checkpoint")
	return cmd
}

func train(cfg config.Config) error {
	e, err := buildEnvironment(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	a, err := buildAgent(cfg, e)
	if err != nil {
		return err
	}

	c, err := checkpointer.NewEpisodic(cfg.SaveEvery, a, cfg.SaveDir)
	if err != nil {
		return err
	}

	trackers := []tracker.Tracker{
		tracker.NewReturn(filepath.Join(cfg.SaveDir, "returns.bin")),
		tracker.NewEpisodeLength(filepath.Join(cfg.SaveDir,
			"lengths.bin")),
	}
	if cfg.MetricsDB != "" {
		trackers = append(trackers, tracker.NewSQLite(cfg.MetricsDB))
	}
	if cfg.PlotDir != "" {
		trackers = append(trackers, tracker.NewPlot(cfg.PlotDir))
	}

	exp, err := experiment.NewOnline(e, a, cfg.NumEpisodes,
		cfg.MaxStepsWithoutReward, cfg.Render, c, trackers...)
	if err != nil {
		return err
	}

	if err := exp.Run(); err != nil {
		return err
	}
	return exp.Save()
}

func eval(cfg config.Config, checkpointDir string, episodes int) error {
	e, err := buildEnvironment(cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	a, err := buildAgent(cfg, e)
	if err != nil {
		return err
	}
	if err := a.Load(checkpointDir); err != nil {
		return err
	}
	a.Eval()

	for episode := 0; episode < episodes; episode++ {
		step, err := e.Reset()
		if err != nil {
			return err
		}

		var ret float64
		for !step.Last() {
			action := a.SelectAction(step)

			step, _, err = e.Step(action)
			if err != nil {
				return err
			}
			ret += step.Reward

			if cfg.Render {
				if err := e.Render(); err != nil {
					return err
				}
			}
		}
		fmt.Printf("Episode %v finished after %v timesteps with total "+
			"reward %v\n", episode, step.Number, ret)
	}
	return nil
}

func buildEnvironment(cfg config.Config) (env.Environment, error) {
	processor, err := preprocess.NewProcessor(cfg.FrameSize)
	if err != nil {
		return nil, err
	}

	switch cfg.Environment {
	case config.Native:
		renderDir := ""
		if cfg.Render {
			renderDir = filepath.Join(cfg.SaveDir, "frames")
		}
		e, _, err := racing.New(processor, cfg.Gamma, uint64(cfg.Seed),
			renderDir)
		return e, err

	case config.Gym:
		e, _, err := gym.New(processor, cfg.Gamma, uint64(cfg.Seed))
		return e, err
	}
	return nil, fmt.Errorf("unknown environment type %q", cfg.Environment)
}

func buildAgent(cfg config.Config, e env.Environment) (agent.Saver, error) {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, err
	}

	hidden := cfg.HiddenSizes
	biases := make([]bool, len(hidden))
	activations := make([]*network.Activation, len(hidden))
	for i := range hidden {
		biases[i] = true
		activations[i] = network.ReLU()
	}

	switch cfg.Agent {
	case config.DDPG:
		actorSolver, err := solver.NewDefaultAdam(cfg.ActorLR,
			cfg.BatchSize)
		if err != nil {
			return nil, err
		}
		criticSolver, err := solver.NewDefaultAdam(cfg.CriticLR,
			cfg.BatchSize)
		if err != nil {
			return nil, err
		}

		return ddpg.New(e, ddpg.Config{
			HiddenSizes:  hidden,
			Biases:       biases,
			Activations:  activations,
			InitWFn:      init,
			ActorSolver:  actorSolver,
			CriticSolver: criticSolver,
			Tau:          cfg.Tau,
			Replay: replay.Config{
				Type:        replay.Uniform,
				MaxCapacity: cfg.ReplayBufferSize,
				MinCapacity: max(cfg.ReplayMinSize, cfg.BatchSize),
				BatchSize:   cfg.BatchSize,
			},
			Noise:      cfg.Noise,
			NoiseDecay: cfg.NoiseDecay,
			NoiseMin:   cfg.NoiseMin,
		}, cfg.Seed)

	case config.DQN:
		sol, err := solver.NewDefaultAdam(cfg.LR, cfg.BatchSize)
		if err != nil {
			return nil, err
		}

		return dqn.New(e, dqn.Config{
			HiddenSizes:       hidden,
			Biases:            biases,
			Activations:       activations,
			InitWFn:           init,
			Solver:            sol,
			EpsilonInitial:    cfg.EpsilonInitial,
			EpsilonFinal:      cfg.EpsilonFinal,
			EpsilonDecaySteps: cfg.EpsilonDecaySteps,
			Replay: replay.Config{
				Type:             replay.Prioritized,
				MaxCapacity:      cfg.ReplayBufferSize,
				MinCapacity:      max(cfg.ReplayMinSize, cfg.BatchSize),
				BatchSize:        cfg.BatchSize,
				Alpha:            cfg.MemoryAlpha,
				Beta:             cfg.MemoryBeta,
				NormalizeWeights: true,
			},
			TargetUpdateInterval: cfg.TargetUpdateInterval,
			TurnLevels:           cfg.TurnLevels,
			GasLevels:            cfg.GasLevels,
			BrakeLevels:          cfg.BrakeLevels,
		}, cfg.Seed)
	}
	return nil, fmt.Errorf("unknown agent type %q", cfg.Agent)
}
