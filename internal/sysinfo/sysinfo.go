// Package sysinfo holds the stateless host collaborators served next to the network telemetry:
// CPU, temperatures, memory, disks, processes, GPU, battery, host details and power plans.
//
// Every read is synchronous and returns a value or an error. Nothing is cached and nothing is
// invented: when a platform cannot report a value the call returns ErrUnavailable.
package sysinfo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"hostpulse/internal/network/probe"
	"hostpulse/pkg/logx"
)

var (
	ErrUnavailable = errors.New("not available on this host")
	ErrUnknownPlan = errors.New("unknown power plan")
	ErrNoBattery   = fmt.Errorf("no battery detected: %w", ErrUnavailable)
)

const (
	defaultSampleInterval = time.Second
	defaultPowerSupplyDir = "/sys/class/power_supply"
)

type Collector struct {
	log            logx.Logger
	run            probe.CommandRunner
	goos           string
	powerSupplyDir string
	sample         time.Duration
	pid            int32

	mu     sync.Mutex
	gaming bool
}

type Option func(*Collector)

func WithRunner(r probe.CommandRunner) Option { return func(c *Collector) { c.run = r } }
func WithGOOS(goos string) Option             { return func(c *Collector) { c.goos = goos } }

// WithPowerSupplyDir points battery reads at a sysfs-like directory.
func WithPowerSupplyDir(dir string) Option { return func(c *Collector) { c.powerSupplyDir = dir } }

// WithSampleInterval sets how long CPU percentages are sampled. 0 compares against the
// previous call.
func WithSampleInterval(d time.Duration) Option { return func(c *Collector) { c.sample = d } }

func WithPID(pid int32) Option { return func(c *Collector) { c.pid = pid } }

func New(log logx.Logger, opts ...Option) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		log:            log,
		run:            probe.ExecRunner,
		goos:           runtime.GOOS,
		powerSupplyDir: defaultPowerSupplyDir,
		sample:         defaultSampleInterval,
		pid:            int32(os.Getpid()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Collector) command(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.run(cctx, name, args...)
}
