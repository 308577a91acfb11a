// Package racing provides a native top-down car racing environment.
//
// The agent drives a car around a closed loop track using a
// three-dimensional continuous action [turn, gas, brake]. Observations
// are preprocessed pixel frames of the scene rendered from above. The
// track is built from consecutive checkpoint tiles: visiting a new
// tile pays a fraction of the track reward, every frame costs a small
// penalty, and leaving the playfield ends the episode.
package racing

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/ByteArena/box2d"
	"github.com/fogleman/gg"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distuv"

	env "github.com/MertAtesmen/deep-racing-gymnasium/environment"
	"github.com/MertAtesmen/deep-racing-gymnasium/preprocess"
	ts "github.com/MertAtesmen/deep-racing-gymnasium/timestep"
)

const (
	FPS float64 = 50.0

	// Pixels per world unit
	Scale float64 = 2.0

	// Rendered frame size in pixels
	FrameW int = 96
	FrameH int = 96

	// Playfield size in world units
	PlayfieldW float64 = float64(FrameW) / Scale
	PlayfieldH float64 = float64(FrameH) / Scale

	// Track layout
	Tiles       int     = 24
	TrackRadius float64 = PlayfieldW * 0.35
	TrackJitter float64 = PlayfieldW * 0.04
	TrackWidth  float64 = PlayfieldW * 0.10

	// Car geometry in world units
	CarWidth  float64 = 1.0
	CarLength float64 = 2.0

	// Car dynamics
	EnginePower  float64 = 40.0
	BrakePower   float64 = 30.0
	SteerTorque  float64 = 15.0
	LateralGrip  float64 = 0.9
	AngularDrag  float64 = 0.3
	ForwardDrag  float64 = 0.2

	// Rewards
	TrackReward  float64 = 1000.0
	FramePenalty float64 = 0.1
	CrashPenalty float64 = 100.0

	// Episode cutoff in frames
	EpisodeCutoff int = 1000

	velocityIterations int = 8
	positionIterations int = 3
)

// Action bounds: [turn, gas, brake]
const ActionDims int = 3

var (
	actionLowerBound = []float64{-1.0, 0.0, 0.0}
	actionUpperBound = []float64{1.0, 1.0, 1.0}
)

// Racing implements a native top-down car racing Environment
type Racing struct {
	world box2d.B2World
	car   *box2d.B2Body

	checkpoints [][2]float64
	visited     []bool
	tilesLeft   int

	processor *preprocess.Processor
	discount  float64

	rng      distuv.Uniform
	prevStep ts.TimeStep
	frames   int

	// Rendered frames are saved as PNGs under renderDir when set
	renderDir string

	grassShade color.RGBA
	trackShade color.RGBA
	carShade   color.RGBA
}

// New returns a new Racing environment along with the first timestep
// of the first episode. Observations are produced by the given
// processor; renderDir may be empty to disable frame recording.
func New(processor *preprocess.Processor, discount float64, seed uint64,
	renderDir string) (env.Environment, ts.TimeStep, error) {
	if discount < 0.0 || discount > 1.0 {
		return nil, ts.TimeStep{}, fmt.Errorf("new: discount must be in "+
			"[0, 1] \n\thave(%v)", discount)
	}

	r := &Racing{
		world:     box2d.MakeB2World(box2d.B2Vec2{X: 0.0, Y: 0.0}),
		processor: processor,
		discount:  discount,
		rng: distuv.Uniform{
			Min: -1.0,
			Max: 1.0,
			Src: rand.NewSource(seed),
		},
		renderDir:  renderDir,
		grassShade: color.RGBA{R: 102, G: 204, B: 102, A: 255},
		trackShade: color.RGBA{R: 105, G: 105, B: 105, A: 255},
		carShade:   color.RGBA{R: 204, G: 0, B: 0, A: 255},
	}

	step, err := r.Reset()
	if err != nil {
		return nil, ts.TimeStep{}, fmt.Errorf("new: could not reset "+
			"environment: %v", err)
	}

	return r, step, nil
}

// Reset builds a fresh track and car and returns the first timestep of
// the new episode.
func (r *Racing) Reset() (ts.TimeStep, error) {
	r.destroy()
	r.buildTrack()
	r.buildCar()
	r.frames = 0

	obs, err := r.observe()
	if err != nil {
		return ts.TimeStep{}, fmt.Errorf("reset: %v", err)
	}

	step := ts.New(ts.First, 0, r.discount, obs, 0)
	r.prevStep = step
	return step, nil
}

// destroy removes all bodies from the world between episodes
func (r *Racing) destroy() {
	if r.car == nil {
		return
	}
	r.world.DestroyBody(r.car)
	r.car = nil
}

// buildTrack lays the checkpoint loop: a circle around the playfield
// center with a seeded radial jitter per checkpoint.
func (r *Racing) buildTrack() {
	centerX := PlayfieldW / 2.0
	centerY := PlayfieldH / 2.0

	r.checkpoints = make([][2]float64, Tiles)
	for i := 0; i < Tiles; i++ {
		angle := 2.0 * math.Pi * float64(i) / float64(Tiles)
		radius := TrackRadius + TrackJitter*r.rng.Rand()
		r.checkpoints[i] = [2]float64{
			centerX + radius*math.Cos(angle),
			centerY + radius*math.Sin(angle),
		}
	}

	r.visited = make([]bool, Tiles)
	r.tilesLeft = Tiles

	// The car starts on the first tile
	r.visited[0] = true
	r.tilesLeft--
}

// buildCar places the car body on the first checkpoint facing along
// the track.
func (r *Racing) buildCar() {
	start := r.checkpoints[0]
	next := r.checkpoints[1]
	heading := math.Atan2(next[1]-start[1], next[0]-start[0])

	carDef := box2d.MakeB2BodyDef()
	carDef.Type = box2d.B2BodyType.B2_dynamicBody
	carDef.Position = box2d.MakeB2Vec2(start[0], start[1])
	carDef.Angle = heading
	carDef.LinearDamping = ForwardDrag
	carDef.AngularDamping = AngularDrag

	r.car = r.world.CreateBody(&carDef)

	carShape := box2d.NewB2PolygonShape()
	carShape.SetAsBox(CarLength/2.0, CarWidth/2.0)

	carFix := box2d.MakeB2FixtureDef()
	carFix.Shape = carShape
	carFix.Density = 1.0
	carFix.Friction = 0.1
	r.car.CreateFixtureFromDef(&carFix)
}

// Step applies a [turn, gas, brake] action for one frame
func (r *Racing) Step(a *mat.VecDense) (ts.TimeStep, bool, error) {
	if a.Len() != ActionDims {
		return ts.TimeStep{}, true, fmt.Errorf("step: illegal number of "+
			"action dimensions \n\twant(%v) \n\thave(%v)", ActionDims,
			a.Len())
	}

	turn := clip(a.AtVec(0), actionLowerBound[0], actionUpperBound[0])
	gas := clip(a.AtVec(1), actionLowerBound[1], actionUpperBound[1])
	brake := clip(a.AtVec(2), actionLowerBound[2], actionUpperBound[2])

	forward := [2]float64{
		math.Cos(r.car.GetAngle()),
		math.Sin(r.car.GetAngle()),
	}

	// Engine
	force := box2d.MakeB2Vec2(forward[0]*EnginePower*gas,
		forward[1]*EnginePower*gas)
	r.car.ApplyForceToCenter(force, true)

	// Brake opposes the current velocity
	vel := r.car.GetLinearVelocity()
	speed := math.Hypot(vel.X, vel.Y)
	if brake > 0.0 && speed > 1e-8 {
		braking := box2d.MakeB2Vec2(-vel.X/speed*BrakePower*brake,
			-vel.Y/speed*BrakePower*brake)
		r.car.ApplyForceToCenter(braking, true)
	}

	// Steering. Negative turn steers left, matching screen coordinates
	// where y grows downward.
	r.car.ApplyTorque(-turn*SteerTorque, true)

	// Tires grip the road: cancel a fraction of the lateral velocity
	lateral := [2]float64{-forward[1], forward[0]}
	lateralSpeed := vel.X*lateral[0] + vel.Y*lateral[1]
	impulse := box2d.MakeB2Vec2(
		-lateral[0]*lateralSpeed*LateralGrip*r.car.GetMass(),
		-lateral[1]*lateralSpeed*LateralGrip*r.car.GetMass(),
	)
	r.car.ApplyLinearImpulse(impulse, r.car.GetWorldCenter(), true)

	r.world.Step(1.0/FPS, velocityIterations, positionIterations)
	r.frames++

	// Visiting a new tile pays a fraction of the track reward, every
	// frame costs a small penalty.
	reward := -FramePenalty
	pos := r.car.GetPosition()
	for i, checkpoint := range r.checkpoints {
		if r.visited[i] {
			continue
		}
		if math.Hypot(pos.X-checkpoint[0], pos.Y-checkpoint[1]) <
			TrackWidth {
			r.visited[i] = true
			r.tilesLeft--
			reward += TrackReward / float64(Tiles)
		}
	}

	stepType := ts.Mid
	discount := r.discount
	offField := pos.X < 0.0 || pos.X > PlayfieldW || pos.Y < 0.0 ||
		pos.Y > PlayfieldH
	if offField {
		reward -= CrashPenalty
		stepType = ts.Last
		discount = 0.0
	} else if r.tilesLeft == 0 {
		stepType = ts.Last
		discount = 0.0
	} else if r.frames >= EpisodeCutoff {
		// Cutoff, not termination: the value of the final state still
		// bootstraps.
		stepType = ts.Last
	}

	obs, err := r.observe()
	if err != nil {
		return ts.TimeStep{}, true, fmt.Errorf("step: %v", err)
	}

	step := ts.New(stepType, reward, discount, obs, r.prevStep.Number+1)
	r.prevStep = step

	return step, step.Last(), nil
}

// observe renders the scene and preprocesses it into an observation
// vector.
func (r *Racing) observe() (*mat.VecDense, error) {
	frame := r.draw().Image()
	return r.processor.Process(frame)
}

// draw renders the playfield, track, and car
func (r *Racing) draw() *gg.Context {
	dc := gg.NewContext(FrameW, FrameH)
	dc.SetColor(r.grassShade)
	dc.Clear()

	// Track: thick segments between consecutive checkpoints
	dc.SetColor(r.trackShade)
	dc.SetLineWidth(TrackWidth * 2.0 * Scale)
	for i := 0; i < Tiles; i++ {
		p1 := worldToPixel(r.checkpoints[i])
		p2 := worldToPixel(r.checkpoints[(i+1)%Tiles])
		dc.DrawLine(p1[0], p1[1], p2[0], p2[1])
	}
	dc.Stroke()

	// Car
	fix := r.car.GetFixtureList()
	shape := fix.M_shape.(*box2d.B2PolygonShape)
	dc.ClearPath()
	for i := 0; i < shape.M_count; i++ {
		vertex := box2d.B2TransformVec2Mul(r.car.M_xf, shape.M_vertices[i])
		pixel := worldToPixel([2]float64{vertex.X, vertex.Y})
		dc.LineTo(pixel[0], pixel[1])
	}
	dc.ClosePath()
	dc.SetColor(r.carShade)
	dc.Fill()

	return dc
}

// Render saves the current frame as a PNG under the environment's
// render directory. Render is a no-op when no directory was given.
func (r *Racing) Render() error {
	if r.renderDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.renderDir, 0o755); err != nil {
		return fmt.Errorf("render: could not create render directory: %v",
			err)
	}

	filename := filepath.Join(r.renderDir, fmt.Sprintf("%06d.png",
		r.prevStep.Number))
	if err := r.draw().SavePNG(filename); err != nil {
		return fmt.Errorf("render: could not save frame: %v", err)
	}
	return nil
}

// Frame returns the current rendered frame
func (r *Racing) Frame() image.Image {
	return r.draw().Image()
}

// CurrentTimeStep returns the last timestep of the environment
func (r *Racing) CurrentTimeStep() ts.TimeStep {
	return r.prevStep
}

// TilesLeft returns the number of track tiles not yet visited in the
// current episode.
func (r *Racing) TilesLeft() int {
	return r.tilesLeft
}

// ObservationSpec returns the observation specification of the
// environment.
func (r *Racing) ObservationSpec() env.Spec {
	features := r.processor.Features()
	shape := mat.NewVecDense(features, nil)

	low := make([]float64, features)
	high := make([]float64, features)
	for i := range high {
		high[i] = 1.0
	}

	return env.NewSpec(shape, env.Observation, mat.NewVecDense(features, low),
		mat.NewVecDense(features, high), env.Continuous)
}

// ActionSpec returns the action specification of the environment
func (r *Racing) ActionSpec() env.Spec {
	shape := mat.NewVecDense(ActionDims, nil)
	low := mat.NewVecDense(ActionDims, actionLowerBound)
	high := mat.NewVecDense(ActionDims, actionUpperBound)

	return env.NewSpec(shape, env.Action, low, high, env.Continuous)
}

// Close releases the environment's resources
func (r *Racing) Close() error {
	r.destroy()
	return nil
}

func worldToPixel(coords [2]float64) [2]float64 {
	return [2]float64{coords[0] * Scale, coords[1] * Scale}
}

func clip(v, min, max float64) float64 {
	return math.Min(math.Max(v, min), max)
}

// ActionBounds returns the per-dimension action intervals of the
// environment.
func ActionBounds() []r1.Interval {
	bounds := make([]r1.Interval, ActionDims)
	for i := range bounds {
		bounds[i] = r1.Interval{
			Min: actionLowerBound[i],
			Max: actionUpperBound[i],
		}
	}
	return bounds
}
