// Command ipistress exercises the interrupt pipeline under load: N
// simulated CPUs exchange in-band and out-of-band IPIs while stalling
// and unstalling their stages, then the per-CPU dispatch statistics
// are printed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/irqpipe/internal/ipi"
	"github.com/tinyrange/irqpipe/internal/lineset"
	"github.com/tinyrange/irqpipe/internal/pipeline"
)

const virqBase = 64

// Scenario is the stress run description, loadable from YAML.
type Scenario struct {
	CPUs     int     `yaml:"cpus,omitempty"`
	Seconds  float64 `yaml:"seconds,omitempty"`
	SendRate float64 `yaml:"sendRate,omitempty"` // messages per second per CPU
	OOB      bool    `yaml:"oob,omitempty"`
	Stop     bool    `yaml:"broadcastStop,omitempty"`
}

func (s *Scenario) normalize() {
	if s.CPUs == 0 {
		s.CPUs = 4
	}
	if s.Seconds == 0 {
		s.Seconds = 2
	}
	if s.SendRate == 0 {
		s.SendRate = 20000
	}
}

func loadScenario(path string) (*Scenario, error) {
	s := &Scenario{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read scenario: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parse scenario: %w", err)
		}
	}
	s.normalize()
	return s, nil
}

// stressPeer does token work for every in-band message.
type stressPeer struct {
	work atomic.Uint64
}

func (p *stressPeer) Reschedule(cpu int)     { p.work.Add(1) }
func (p *stressPeer) CallFunction(cpu int)   { p.work.Add(1) }
func (p *stressPeer) IRQWork(cpu int)        { p.work.Add(1) }
func (p *stressPeer) TimerBroadcast(cpu int) { p.work.Add(1) }

func (p *stressPeer) CrashSave(cpu int, regs *pipeline.Regs) {}
func (p *stressPeer) StopWait(cpu int)                       {}

func main() {
	var (
		configPath = flag.String("config", "", "YAML scenario file")
		cpus       = flag.Int("cpus", 0, "Number of simulated CPUs (overrides scenario)")
		seconds    = flag.Float64("seconds", 0, "Run duration in seconds (overrides scenario)")
		sendRate   = flag.Float64("rate", 0, "IPI send rate per CPU (overrides scenario)")
		oob        = flag.Bool("oob", false, "Also send out-of-band timer IPIs")
		stop       = flag.Bool("stop", false, "Finish with a broadcast stop")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
		&slog.HandlerOptions{Level: level})))

	cfg, err := loadScenario(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ipistress: %v\n", err)
		os.Exit(1)
	}
	if *cpus > 0 {
		cfg.CPUs = *cpus
	}
	if *seconds > 0 {
		cfg.Seconds = *seconds
	}
	if *sendRate > 0 {
		cfg.SendRate = *sendRate
	}
	if *oob {
		cfg.OOB = true
	}
	if *stop {
		cfg.Stop = true
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "ipistress: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *Scenario) error {
	rt := pipeline.New(cfg.CPUs)
	lines := lineset.New(cfg.CPUs, slog.Default())
	peer := &stressPeer{}
	sub := ipi.New(rt, lines, peer)

	sub.Configure(virqBase, ipi.NumMessages, true)
	if !sub.Configured() {
		return errors.New("IPI subsystem did not configure")
	}

	var oobTicks atomic.Uint64
	if _, err := lines.Request(sub.TimerOOB(), "oob timer",
		func(int) { oobTicks.Add(1) }); err != nil {
		return fmt.Errorf("request oob timer line: %w", err)
	}

	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		rt.SetOnline(cpu, true)
		sub.EnableAll(cpu)
	}

	duration := time.Duration(cfg.Seconds * float64(time.Second))
	slog.Debug("starting stress run", "cpus", cfg.CPUs, "duration", duration,
		"rate", cfg.SendRate)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		cpu := cpu
		g.Go(func() error {
			lim := rate.NewLimiter(rate.Limit(cfg.SendRate), 64)
			rng := rand.New(rand.NewPCG(uint64(cpu)+1, 0))
			c := rt.CPU(cpu)

			for ctx.Err() == nil && rt.Online(cpu) {
				lines.DispatchPending(cpu)

				if err := lim.Wait(ctx); err != nil {
					break
				}

				target := rng.IntN(cfg.CPUs)
				switch rng.IntN(8) {
				case 0:
					// Briefly stall the local stage the way a
					// critical section would.
					flags := c.SaveFlags()
					c.Disable()
					c.Restore(flags)
				case 1:
					if cfg.OOB {
						sub.SendOOB(sub.TimerOOB(), 1<<target)
					}
				case 2:
					sub.Send(ipi.CallFunction, target)
				case 3:
					sub.Send(ipi.IRQWork, target)
				case 4:
					sub.Send(ipi.Timer, target)
				default:
					sub.Send(ipi.Reschedule, target)
				}
			}
			return nil
		})
	}

	bar := progressbar.Default(int64(duration / (100 * time.Millisecond)))
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
progress:
	for {
		select {
		case <-ctx.Done():
			break progress
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	_ = bar.Finish()

	// Final drain so the statistics account for every message sent.
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		lines.DispatchPending(cpu)
	}

	if cfg.Stop {
		shutdown(rt, lines, sub)
	}

	title := "IPI statistics"
	if term.IsTerminal(int(os.Stdout.Fd())) {
		title = ansi.Style{}.Bold().Styled(title)
	}
	fmt.Println(title)
	sub.Stats(os.Stdout)
	if cfg.OOB {
		fmt.Printf("out-of-band timer ticks: %d\n", oobTicks.Load())
	}

	return nil
}

// shutdown mimics the SMP teardown path: secondaries service their
// lines until the stop message takes them offline.
func shutdown(rt *pipeline.Runtime, lines *lineset.Set, sub *ipi.Subsystem) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for rt.NumOnline() > 1 {
			for cpu := 1; cpu < rt.NumCPUs(); cpu++ {
				if rt.Online(cpu) {
					lines.DispatchPending(cpu)
				}
			}
			time.Sleep(50 * time.Microsecond)
		}
	}()

	sub.BroadcastStop(0)
	<-done
	slog.Debug("secondary CPUs stopped", "online", rt.NumOnline())
}
