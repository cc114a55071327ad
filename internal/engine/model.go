package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/urbansim/internal/config"
	"github.com/talgya/urbansim/internal/urban"
	"github.com/talgya/urbansim/internal/world"
)

var tracer = otel.Tracer("github.com/talgya/urbansim/internal/engine")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ErrInvalidTransition is returned when a model is asked to move between
// lifecycle states out of order.
var ErrInvalidTransition = errors.New("invalid status transition")

// errHalted stops the loop after the checkpoint writer has failed; the
// writer's error is reported instead.
var errHalted = errors.New("halted by checkpoint writer")

func allowedTransition(from, to Status) bool {
	switch from {
	case StatusCreated:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Checkpoint is every cell's snapshot at one timestep.
type Checkpoint struct {
	RunID     string
	Timestep  int
	Snapshots []urban.Snapshot
	Stats     Stats
}

// Sink accepts checkpoints. The model hands them over from a single writer
// goroutine, in timestep order.
type Sink interface {
	WriteCheckpoint(ctx context.Context, cp Checkpoint) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, cp Checkpoint) error

func (f SinkFunc) WriteCheckpoint(ctx context.Context, cp Checkpoint) error {
	return f(ctx, cp)
}

var discardSink = SinkFunc(func(context.Context, Checkpoint) error { return nil })

// Stats tracks aggregate city statistics.
type Stats struct {
	Timestep            int     `json:"timestep"`
	Cells               int     `json:"cells"`
	TotalPopulation     float64 `json:"total_population"`
	AvgRent             float64 `json:"avg_rent"`
	AvgDisplacementRisk float64 `json:"avg_displacement_risk"`
	AvgSafety           float64 `json:"avg_safety"`
	AvgCongestion       float64 `json:"avg_congestion"`
	AvgGentrification   float64 `json:"avg_gentrification"`
}

// Options configures a Model.
type Options struct {
	RunID           string
	Seed            int64
	Shuffle         bool
	NeighborMode    string // config.NeighborBuffered or config.NeighborSequential
	CheckpointEvery int
	QueueSize       int // checkpoints buffered ahead of the writer
	Bounds          urban.Bounds
	Logger          *slog.Logger
}

// OptionsFromConfig fills Options from the engine section.
func OptionsFromConfig(runID string, seed int64, cfg *config.Config) Options {
	return Options{
		RunID:           runID,
		Seed:            seed,
		Shuffle:         cfg.Engine.Shuffle,
		NeighborMode:    cfg.Engine.NeighborMode,
		CheckpointEvery: cfg.Engine.CheckpointEvery,
		QueueSize:       cfg.Engine.CheckpointQueue,
		Bounds:          cfg.Bounds(),
	}
}

// Model ties the cells, their adjacency, and the module list together and
// runs them through the timestep loop. It owns the live cells of one run and
// is never shared between runs.
type Model struct {
	opts    Options
	logger  *slog.Logger
	cells   []*urban.Cell
	byID    map[string]*urban.Cell
	ids     []string
	nbIdx   [][]int // arena indices of each cell's neighbors
	modules ModuleSet
	sink    Sink
	rng     *rand.Rand

	status   Status
	timestep int
	failedAt int
	err      error
	stats    Stats

	mu        sync.Mutex
	writerErr *StepError
}

// NewModel builds the arena and resolves adjacency once. Cells keep their
// input order; adjacency may only name cells in the arena.
func NewModel(opts Options, cells []*urban.Cell, adj world.Adjacency, modules ModuleSet, sink Sink) (*Model, error) {
	if len(cells) == 0 {
		return nil, fmt.Errorf("%w: model needs at least one cell", urban.ErrConfiguration)
	}
	switch opts.NeighborMode {
	case config.NeighborBuffered, config.NeighborSequential:
	case "":
		opts.NeighborMode = config.NeighborBuffered
	default:
		return nil, fmt.Errorf("%w: unknown neighbor mode %q", urban.ErrConfiguration, opts.NeighborMode)
	}
	if opts.CheckpointEvery < 1 {
		return nil, fmt.Errorf("%w: checkpoint cadence %d", urban.ErrConfiguration, opts.CheckpointEvery)
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	if sink == nil {
		sink = discardSink
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	index := make(map[string]int, len(cells))
	byID := make(map[string]*urban.Cell, len(cells))
	ids := make([]string, len(cells))
	for i, c := range cells {
		if _, dup := index[c.ID()]; dup {
			return nil, fmt.Errorf("%w: duplicate cell %s", urban.ErrConfiguration, c.ID())
		}
		index[c.ID()] = i
		byID[c.ID()] = c
		ids[i] = c.ID()
	}

	nbIdx := make([][]int, len(cells))
	for i, c := range cells {
		for _, nid := range adj.Neighbors(c.ID()) {
			j, ok := index[nid]
			if !ok {
				return nil, fmt.Errorf("%w: cell %s lists unknown neighbor %s", urban.ErrConfiguration, c.ID(), nid)
			}
			if j != i {
				nbIdx[i] = append(nbIdx[i], j)
			}
		}
	}

	for _, c := range cells {
		if err := c.Enforce(opts.Bounds, "initialize"); err != nil {
			return nil, err
		}
	}

	return &Model{
		opts:    opts,
		logger:  logger.With("run_id", opts.RunID),
		cells:   cells,
		byID:    byID,
		ids:     ids,
		nbIdx:   nbIdx,
		modules: modules,
		sink:    sink,
		rng:     rand.New(rand.NewSource(opts.Seed + 500)),
		status:  StatusCreated,
	}, nil
}

// Status returns the lifecycle state.
func (m *Model) Status() Status { return m.status }

// Timestep returns the last completed timestep.
func (m *Model) Timestep() int { return m.timestep }

// FailedAt returns the timestep at which a failed run stopped.
func (m *Model) FailedAt() int { return m.failedAt }

// Err returns the error that failed the run, if any.
func (m *Model) Err() error { return m.err }

// Stats returns the statistics from the most recent checkpoint.
func (m *Model) Stats() Stats { return m.stats }

// Modules returns the module names in execution order.
func (m *Model) Modules() []string { return m.modules.Names() }

func (m *Model) transition(to Status) error {
	if !allowedTransition(m.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.status, to)
	}
	m.status = to
	return nil
}

// Run executes timesteps 1..total. Checkpoints go to the sink from a
// separate writer goroutine so the loop does not wait on the sink; a sink
// failure is noticed at the next timestep boundary. Any failure marks the
// run Failed and stops it without rolling back the timestep in progress.
func (m *Model) Run(ctx context.Context, total int) error {
	if err := m.transition(StatusRunning); err != nil {
		return err
	}
	if total < 1 {
		return m.fail(0, fmt.Errorf("%w: total timesteps %d", urban.ErrConfiguration, total))
	}

	ctx, span := tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.String("run.id", m.opts.RunID),
		attribute.Int("run.timesteps", total),
		attribute.Int("run.cells", len(m.cells)),
		attribute.String("run.neighbor_mode", m.opts.NeighborMode),
	))
	defer span.End()

	m.logger.Info("run started",
		"cells", len(m.cells),
		"timesteps", total,
		"modules", m.modules.Names(),
		"neighbor_mode", m.opts.NeighborMode,
		"seed", m.opts.Seed,
	)

	g, gctx := errgroup.WithContext(ctx)
	queue := make(chan Checkpoint, m.opts.QueueSize)
	g.Go(func() error { return m.drain(gctx, queue) })

	clock := &Clock{
		Total:           total,
		CheckpointEvery: m.opts.CheckpointEvery,
		BeforeStep:      m.beforeStep,
		OnStep:          m.step,
		OnCheckpoint: func(ctx context.Context, t int) error {
			return m.checkpoint(ctx, t, queue)
		},
	}
	runErr := clock.Run(gctx)
	close(queue)
	waitErr := g.Wait()

	var failure error
	switch {
	case waitErr != nil:
		failure = waitErr
	case runErr != nil:
		failure = runErr
	}
	if failure != nil {
		var se *StepError
		at := m.timestep
		if errors.As(failure, &se) {
			at, failure = se.Timestep, se.Err
		}
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
		return m.fail(at, failure)
	}

	if err := m.transition(StatusCompleted); err != nil {
		return err
	}
	m.logger.Info("run completed",
		"timesteps", m.timestep,
		"population", fmt.Sprintf("%.0f", m.stats.TotalPopulation),
		"avg_rent", fmt.Sprintf("%.2f", m.stats.AvgRent),
	)
	return nil
}

func (m *Model) fail(t int, err error) error {
	m.failedAt = t
	m.err = err
	if terr := m.transition(StatusFailed); terr != nil {
		return terr
	}
	m.logger.Error("run failed", "timestep", t, "error", err)
	return &StepError{Timestep: t, Err: err}
}

// drain is the checkpoint writer. It stops at the first sink error.
func (m *Model) drain(ctx context.Context, queue <-chan Checkpoint) error {
	for cp := range queue {
		if err := m.sink.WriteCheckpoint(ctx, cp); err != nil {
			se := &StepError{Timestep: cp.Timestep, Err: fmt.Errorf("%w: %w", urban.ErrPersistence, err)}
			m.mu.Lock()
			m.writerErr = se
			m.mu.Unlock()
			return se
		}
	}
	return nil
}

func (m *Model) writerFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writerErr != nil
}

func (m *Model) beforeStep(ctx context.Context, _ int) error {
	if m.writerFailed() {
		return errHalted
	}
	return ctx.Err()
}

// step applies every module to every cell once.
func (m *Model) step(_ context.Context, t int) error {
	m.timestep = t
	for _, c := range m.cells {
		c.BeginTimestep()
	}

	var frozen []urban.View
	var deltas *deltaBuffer
	if m.opts.NeighborMode == config.NeighborBuffered {
		frozen = make([]urban.View, len(m.cells))
		for i, c := range m.cells {
			frozen[i] = c.Freeze()
		}
		deltas = newDeltaBuffer(m.ids)
	}

	for _, i := range m.order() {
		c := m.cells[i]
		nb := m.neighborhood(i, frozen, deltas)
		for _, mod := range m.modules {
			if err := mod.Apply(c, nb); err != nil {
				return fmt.Errorf("cell %s, module %s: %w", c.ID(), mod.Name(), err)
			}
			if err := c.Enforce(m.opts.Bounds, mod.Name()); err != nil {
				return err
			}
		}
	}

	if deltas != nil {
		return deltas.merge(m.byID, m.opts.Bounds)
	}
	return nil
}

// order returns the cell processing order for one timestep.
func (m *Model) order() []int {
	order := make([]int, len(m.cells))
	for i := range order {
		order[i] = i
	}
	if m.opts.Shuffle {
		m.rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
	}
	return order
}

func (m *Model) neighborhood(i int, frozen []urban.View, deltas *deltaBuffer) Neighborhood {
	views := make([]urban.View, len(m.nbIdx[i]))
	if frozen != nil {
		for k, j := range m.nbIdx[i] {
			views[k] = frozen[j]
		}
		return &bufferedNeighborhood{views: views, deltas: deltas}
	}
	for k, j := range m.nbIdx[i] {
		views[k] = m.cells[j]
	}
	return &liveNeighborhood{views: views, cells: m.byID, bounds: m.opts.Bounds}
}

// checkpoint snapshots every cell and queues the batch for the writer.
func (m *Model) checkpoint(ctx context.Context, t int, queue chan<- Checkpoint) error {
	ctx, span := tracer.Start(ctx, "engine.Checkpoint", trace.WithAttributes(
		attribute.Int("checkpoint.timestep", t),
	))
	defer span.End()

	snaps := make([]urban.Snapshot, 0, len(m.cells))
	for _, c := range m.cells {
		s, err := c.Snapshot(m.opts.RunID, t)
		if err != nil {
			return err
		}
		snaps = append(snaps, s)
	}
	m.updateStats(t)

	m.logger.Info("checkpoint report",
		"timestep", t,
		"cells", m.stats.Cells,
		"population", fmt.Sprintf("%.0f", m.stats.TotalPopulation),
		"avg_rent", fmt.Sprintf("%.2f", m.stats.AvgRent),
		"avg_displacement", fmt.Sprintf("%.3f", m.stats.AvgDisplacementRisk),
		"avg_safety", fmt.Sprintf("%.3f", m.stats.AvgSafety),
		"avg_congestion", fmt.Sprintf("%.3f", m.stats.AvgCongestion),
		"avg_gentrification", fmt.Sprintf("%.3f", m.stats.AvgGentrification),
	)

	cp := Checkpoint{RunID: m.opts.RunID, Timestep: t, Snapshots: snaps, Stats: m.stats}
	select {
	case queue <- cp:
		return nil
	case <-ctx.Done():
		if m.writerFailed() {
			return errHalted
		}
		return ctx.Err()
	}
}

// updateStats recomputes aggregate statistics.
func (m *Model) updateStats(t int) {
	s := Stats{Timestep: t, Cells: len(m.cells)}
	for _, c := range m.cells {
		s.TotalPopulation += c.Get(urban.Population)
		s.AvgRent += c.Get(urban.AvgRent)
		s.AvgDisplacementRisk += c.Get(urban.DisplacementRisk)
		s.AvgSafety += c.Get(urban.SafetyScore)
		s.AvgCongestion += c.Get(urban.TrafficCongestion)
		s.AvgGentrification += c.Get(urban.GentrificationIndex)
	}
	n := float64(len(m.cells))
	s.AvgRent /= n
	s.AvgDisplacementRisk /= n
	s.AvgSafety /= n
	s.AvgCongestion /= n
	s.AvgGentrification /= n
	m.stats = s
}
