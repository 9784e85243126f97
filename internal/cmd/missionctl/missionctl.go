// Package missionctl parses missionctl flags and runs its maintenance and
// simulation modes against the mission store.
package missionctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/metis/internal/clock"
	"github.com/louisbranch/metis/internal/engine"
	"github.com/louisbranch/metis/internal/mission"
	entrypoint "github.com/louisbranch/metis/internal/platform/cmd"
	"github.com/louisbranch/metis/internal/platform/id"
	"github.com/louisbranch/metis/internal/sandbox"
	"github.com/louisbranch/metis/internal/storage"
	"github.com/louisbranch/metis/internal/storage/sqlite"
)

// Modes accepted by -mode.
const (
	ModeImport   = "import"
	ModeList     = "list"
	ModeValidate = "validate"
	ModeMigrate  = "migrate"
	ModeSimulate = "simulate"
)

const defaultMaxRounds = 100

// Config holds missionctl configuration.
type Config struct {
	DBPath    string `env:"METIS_DB_PATH" envDefault:"data/missions.db"`
	Mode      string
	MissionID string
	File      string
	Save      bool
	// MaxRounds bounds the simulate loop.
	MaxRounds int `env:"METIS_SIMULATE_MAX_ROUNDS" envDefault:"100"`

	Engine engine.Config
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to the mission SQLite database")
	fs.StringVar(&cfg.Engine.EnvironmentsDir, "environments", cfg.Engine.EnvironmentsDir, "Directory of scripted target environments")
	fs.StringVar(&cfg.Mode, "mode", ModeValidate, "One of import, list, validate, migrate, simulate")
	fs.StringVar(&cfg.MissionID, "mission", "", "Mission id; validate and migrate default to every stored mission")
	fs.StringVar(&cfg.File, "file", "", "Mission snapshot file for import")
	fs.BoolVar(&cfg.Save, "save", false, "Store the final mission state after simulate")
	fs.IntVar(&cfg.MaxRounds, "max-rounds", cfg.MaxRounds, "Upper bound on simulate rounds")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch cfg.Mode {
	case ModeImport, ModeList, ModeValidate, ModeMigrate, ModeSimulate:
	default:
		return Config{}, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeImport && strings.TrimSpace(cfg.File) == "" {
		return Config{}, errors.New("-file is required for import")
	}
	if cfg.Mode == ModeSimulate && strings.TrimSpace(cfg.MissionID) == "" {
		return Config{}, errors.New("-mission is required for simulate")
	}
	return cfg, nil
}

// Run executes the configured mode with telemetry enabled.
func Run(ctx context.Context, cfg Config, stdout, stderr io.Writer) error {
	logger := engine.NewLogger(cfg.Engine, stderr)
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMissionCtl, func(ctx context.Context) error {
		return run(ctx, cfg, stdout, logger)
	}, entrypoint.WithLogger(logger))
}

type runner struct {
	cfg    Config
	outMu  sync.Mutex
	out    io.Writer
	logger *slog.Logger
	store  storage.MissionStore
	engine *engine.Engine
	// clock drives simulated time; nil outside simulate.
	clock *clock.Fake
}

func run(ctx context.Context, cfg Config, stdout io.Writer, logger *slog.Logger) error {
	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open mission store: %w", err)
	}
	defer store.Close()

	opts := engine.Options{Config: cfg.Engine, Logger: logger}
	var simClock *clock.Fake
	if cfg.Mode == ModeSimulate {
		simClock = clock.NewFake(time.Now().UTC())
		opts.Clock = simClock
	}
	eng, err := engine.New(ctx, opts)
	if err != nil {
		return err
	}

	r := &runner{cfg: cfg, out: stdout, logger: logger, store: store, engine: eng, clock: simClock}
	switch cfg.Mode {
	case ModeImport:
		return r.importFile(ctx)
	case ModeList:
		return r.list(ctx)
	case ModeValidate:
		return r.validate(ctx)
	case ModeMigrate:
		return r.migrate(ctx)
	case ModeSimulate:
		return r.simulate(ctx)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func (r *runner) importFile(ctx context.Context) error {
	data, err := os.ReadFile(r.cfg.File)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if _, err := r.engine.Hydrate(data); err != nil {
		return fmt.Errorf("import %s: %w", r.cfg.File, err)
	}
	record, err := r.store.PutMission(ctx, data)
	if err != nil {
		return err
	}
	r.printf("imported %s (%s)\n", record.ID, record.Name)
	return nil
}

func (r *runner) list(ctx context.Context) error {
	summaries, err := r.store.ListMissions(ctx)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		r.printf("%s\t%s\t%s\n", s.ID, s.Name, s.UpdatedAt.Format("2006-01-02T15:04:05Z"))
	}
	return nil
}

func (r *runner) validate(ctx context.Context) error {
	ids, err := r.missionIDs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, missionID := range ids {
		if _, err := r.load(ctx, missionID); err != nil {
			r.printf("invalid %s: %v\n", missionID, err)
			errs = append(errs, err)
			continue
		}
		r.printf("ok %s\n", missionID)
	}
	return errors.Join(errs...)
}

func (r *runner) migrate(ctx context.Context) error {
	ids, err := r.missionIDs(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, missionID := range ids {
		m, err := r.load(ctx, missionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		changed, err := r.engine.MigrateMission(m)
		if err != nil {
			r.logger.Warn("mission migration incomplete", "mission_id", missionID, "error", err)
			errs = append(errs, err)
		}
		if changed > 0 {
			if err := r.save(ctx, m); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		r.printf("%s: %d effects migrated\n", missionID, changed)
	}
	return errors.Join(errs...)
}

type simulation struct {
	opened    int
	executed  int
	succeeded int
	failed    int
	aborted   int
}

func (r *runner) simulate(ctx context.Context) error {
	m, err := r.load(ctx, r.cfg.MissionID)
	if err != nil {
		return err
	}
	sessionID, err := id.Generator("session_")()
	if err != nil {
		return err
	}
	instanceID, err := id.NewID()
	if err != nil {
		return err
	}
	host := sandbox.NewLocalHost(sessionID, instanceID)
	host.SetState(sandbox.StateStarted)

	session, err := r.engine.Setup(ctx, host, m)
	if err != nil {
		return err
	}
	stopOutputs := session.Outputs().Subscribe(func(o sandbox.Output) {
		r.printf("[%s] %s: %s\n", o.ForceID, o.Prefix, o.Message)
	})
	defer stopOutputs()
	settled := make(chan mission.ExecutionEvent, 16)
	stopSettled := session.Settled().Subscribe(func(ev mission.ExecutionEvent) {
		select {
		case settled <- ev:
		default:
		}
	})
	defer stopSettled()

	result, runErr := r.play(ctx, session, settled)
	if err := session.Teardown(ctx); err != nil {
		r.logger.Warn("session teardown reported errors", "session_id", sessionID, "error", err)
	}
	host.SetState(sandbox.StateEnded)
	if runErr != nil {
		return runErr
	}

	r.printf("simulated %s: opened=%d executed=%d succeeded=%d failed=%d aborted=%d\n",
		m.ID, result.opened, result.executed, result.succeeded, result.failed, result.aborted)
	if r.cfg.Save {
		return r.save(ctx, m)
	}
	return nil
}

// play opens every revealed openable node and runs the first action of
// every ready node, once each, until a round makes no progress. Each
// execution resolves by advancing the simulated clock past its end.
func (r *runner) play(ctx context.Context, session *engine.Session, settled <-chan mission.ExecutionEvent) (simulation, error) {
	var result simulation
	attempted := make(map[string]bool)
	m := session.Mission()
	rounds := r.cfg.MaxRounds
	if rounds <= 0 {
		rounds = defaultMaxRounds
	}
	for round := 0; round < rounds; round++ {
		progressed := false
		for _, f := range m.Forces() {
			for _, n := range f.Nodes() {
				if n.Openable() && n.Revealed() {
					if err := session.Open(n.ID); err == nil {
						result.opened++
						progressed = true
					}
					continue
				}
				if attempted[n.ID] || !n.ReadyToExecute() {
					continue
				}
				attempted[n.ID] = true
				actions := n.Actions()
				execution, err := session.Execute(ctx, n.ID, actions[0].ID, mission.Cheats{})
				if err != nil {
					r.logger.Info("action skipped", "node_id", n.ID, "action_id", actions[0].ID, "error", err)
					continue
				}
				progressed = true
				result.executed++
				r.clock.Advance(execution.TimeRemaining())
				ev, err := awaitSettled(ctx, settled, execution.ID)
				if err != nil {
					return result, err
				}
				switch ev.Kind {
				case mission.ExecutionSucceeded:
					result.succeeded++
				case mission.ExecutionFailed:
					result.failed++
				default:
					result.aborted++
				}
			}
		}
		if !progressed {
			return result, nil
		}
	}
	r.logger.Warn("simulation stopped at round limit", "mission_id", m.ID, "max_rounds", rounds)
	return result, nil
}

func awaitSettled(ctx context.Context, settled <-chan mission.ExecutionEvent, executionID string) (mission.ExecutionEvent, error) {
	for {
		select {
		case ev := <-settled:
			if ev.Execution.ID == executionID {
				return ev, nil
			}
		case <-ctx.Done():
			return mission.ExecutionEvent{}, ctx.Err()
		}
	}
}

// printf serializes writes from the run and from output subscribers.
func (r *runner) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *runner) missionIDs(ctx context.Context) ([]string, error) {
	if missionID := strings.TrimSpace(r.cfg.MissionID); missionID != "" {
		return []string{missionID}, nil
	}
	summaries, err := r.store.ListMissions(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}
	return ids, nil
}

func (r *runner) load(ctx context.Context, missionID string) (*mission.Mission, error) {
	record, err := r.store.GetMission(ctx, missionID)
	if err != nil {
		return nil, fmt.Errorf("load mission %s: %w", missionID, err)
	}
	m, err := r.engine.Hydrate(record.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("hydrate mission %s: %w", missionID, err)
	}
	return m, nil
}

func (r *runner) save(ctx context.Context, m *mission.Mission) error {
	data, err := m.MarshalSnapshot(mission.SnapshotOptions{})
	if err != nil {
		return err
	}
	if _, err := r.store.PutMission(ctx, data); err != nil {
		return fmt.Errorf("save mission %s: %w", m.ID, err)
	}
	return nil
}
