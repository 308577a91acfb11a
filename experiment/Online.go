// Package experiment implements the episode loop that runs an agent
// online on an environment.
package experiment

import (
	"fmt"
	"time"

	"github.com/samuelfneumann/progressbar"

	"github.com/MertAtesmen/deep-racing-gymnasium/agent"
	env "github.com/MertAtesmen/deep-racing-gymnasium/environment"
	"github.com/MertAtesmen/deep-racing-gymnasium/experiment/checkpointer"
	"github.com/MertAtesmen/deep-racing-gymnasium/experiment/tracker"
	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

// Online is an Experiment that runs an agent online only: the agent
// learns from every environmental step as it happens.
//
// An episode ends when the environment reports a final timestep or
// when the agent has gone maxStepsWithoutReward consecutive steps
// without positive reward, whichever comes first. The starvation
// cutoff keeps a car stuck on the grass from burning the rest of the
// step budget.
type Online struct {
	environment env.Environment
	agent       agent.Agent

	numEpisodes           int
	maxStepsWithoutReward int
	render                bool

	checkpointer *checkpointer.Episodic
	trackers     []tracker.Tracker
}

// NewOnline creates and returns a new online experiment of numEpisodes
// episodes. The c parameter may be nil to disable checkpointing, and
// the t parameter determines what data is tracked and saved.
func NewOnline(e env.Environment, a agent.Agent, numEpisodes,
	maxStepsWithoutReward int, render bool, c *checkpointer.Episodic,
	t ...tracker.Tracker) (*Online, error) {
	if numEpisodes < 1 {
		return nil, fmt.Errorf("newonline: episodes must be positive "+
			"\n\thave(%v)", numEpisodes)
	}
	if maxStepsWithoutReward < 1 {
		return nil, fmt.Errorf("newonline: steps without reward must be "+
			"positive \n\thave(%v)", maxStepsWithoutReward)
	}

	return &Online{
		environment:           e,
		agent:                 a,
		numEpisodes:           numEpisodes,
		maxStepsWithoutReward: maxStepsWithoutReward,
		render:                render,
		checkpointer:          c,
		trackers:              t,
	}, nil
}

// Register registers a tracker.Tracker with the experiment so that
// data generated during the experiment can be tracked and saved.
func (o *Online) Register(t tracker.Tracker) {
	o.trackers = append(o.trackers, t)
}

// RunEpisode runs a single episode of the experiment
func (o *Online) RunEpisode(episode int) error {
	step, err := o.environment.Reset()
	if err != nil {
		return fmt.Errorf("runepisode: could not reset environment: %v",
			err)
	}
	if err := o.agent.ObserveFirst(step); err != nil {
		return fmt.Errorf("runepisode: %v", err)
	}
	o.track(step)

	lastRewardStep := 0
	for !step.Last() {
		action := o.agent.SelectAction(step)

		next, last, err := o.environment.Step(action)
		if err != nil {
			return fmt.Errorf("runepisode: could not step environment: %v",
				err)
		}

		if next.Reward > 0 {
			lastRewardStep = next.Number
		}
		if !last && next.Number-lastRewardStep > o.maxStepsWithoutReward {
			// Starve-out: end the episode with no successor state
			next.StepType = ts.Last
			next.Discount = 0.0
		}

		o.track(next)
		if err := o.agent.Observe(action, next); err != nil {
			return fmt.Errorf("runepisode: %v", err)
		}
		if err := o.agent.Step(); err != nil {
			return fmt.Errorf("runepisode: could not step agent: %v", err)
		}

		if o.render {
			if err := o.environment.Render(); err != nil {
				return fmt.Errorf("runepisode: could not render: %v", err)
			}
		}

		step = next
	}
	o.agent.EndEpisode()

	if o.checkpointer != nil {
		if err := o.checkpointer.Checkpoint(episode); err != nil {
			return fmt.Errorf("runepisode: %v", err)
		}
	}
	return nil
}

// Run runs the entire experiment for all episodes
func (o *Online) Run() error {
	bar := progressbar.New(80, o.numEpisodes, time.Second, true)
	bar.Display()
	defer bar.Close()

	for episode := 0; episode < o.numEpisodes; episode++ {
		if err := o.RunEpisode(episode); err != nil {
			return fmt.Errorf("run: episode %v: %v", episode, err)
		}
		bar.Increment()
	}
	return nil
}

// Save saves all the data cached by the experiment's trackers to disk
func (o *Online) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return fmt.Errorf("save: %v", err)
		}
	}
	return nil
}

// track caches the current timestep's data in each tracker
func (o *Online) track(t ts.TimeStep) {
	for _, tr := range o.trackers {
		tr.Track(t)
	}
}
