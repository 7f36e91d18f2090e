// Package display holds the display IP probes and the case catalog they are registered under.
package display

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// Catalog is the YAML case catalog matching the probes returned by Suite.Probes.
//
//go:embed catalog.yaml
var Catalog []byte

const (
	DefaultDriver = "NB2"
	DefaultHold   = 15 * time.Second
	DefaultPause  = 5 * time.Second
)

// Paths are the device and sysfs locations the probes touch
type Paths struct {
	Framebuffer  string // framebuffer device
	BitsPerPixel string // sysfs attribute with the framebuffer depth
	DRMClass     string // DRM class directory holding one entry per connector
	FbconRotate  string // framebuffer console rotation attribute
	Backlight    string // backlight class directory
	Images       string // root of the lvds/ and mipi/ image trees
	Console      string // console the kernel log is written to
}

// DefaultPaths returns the locations used on the target board
func DefaultPaths() Paths {
	return Paths{
		Framebuffer:  "/dev/fb0",
		BitsPerPixel: "/sys/devices/platform/display-subsystem/graphics/fb0/bits_per_pixel",
		DRMClass:     "/sys/class/drm",
		FbconRotate:  "/sys/class/graphics/fbcon/rotate",
		Backlight:    "/sys/class/backlight",
		Images:       "/opt",
		Console:      "/dev/tty1",
	}
}

func (p Paths) withDefaults() Paths {
	d := DefaultPaths()
	for _, f := range []struct{ v, def *string }{
		{&p.Framebuffer, &d.Framebuffer},
		{&p.BitsPerPixel, &d.BitsPerPixel},
		{&p.DRMClass, &d.DRMClass},
		{&p.FbconRotate, &d.FbconRotate},
		{&p.Backlight, &d.Backlight},
		{&p.Images, &d.Images},
		{&p.Console, &d.Console},
	} {
		if *f.v == "" {
			*f.v = *f.def
		}
	}
	return p
}

// Config holds configuration for the display probes
type Config struct {
	Log       log.Logger
	Commander probe.Commander
	Paths     Paths
	Driver    string        // DRM driver passed to modetest -M
	Hold      time.Duration // how long programs that never exit are left running
	Pause     time.Duration // time given to look at the screen after each step, 0 for none
	Seed      uint64        // seed for image and plane geometry selection, 0 picks one
}

// Suite builds the probes for every case in Catalog
type Suite struct {
	log    log.Logger
	cmd    probe.Commander
	paths  Paths
	driver string
	hold   time.Duration
	pause  time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

// New creates the display probe suite
func New(cfg Config) (*Suite, error) {
	if cfg.Commander == nil {
		return nil, fmt.Errorf("commander is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Driver == "" {
		cfg.Driver = DefaultDriver
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	cfg.Log.Debug("Using the random seed for the display probes", "seed", cfg.Seed)

	return &Suite{
		log:    cfg.Log,
		cmd:    cfg.Commander,
		paths:  cfg.Paths.withDefaults(),
		driver: cfg.Driver,
		hold:   cfg.Hold,
		pause:  cfg.Pause,
		rand:   rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>1|1)),
	}, nil
}

// Probes returns the probe for each case number in Catalog
func (s *Suite) Probes() map[int]probe.Probe {
	return map[int]probe.Probe{
		1:  s.iterate(s.framebufferPresent),
		2:  s.iterate(s.displayInfo),
		3:  s.iterate(s.framebufferPresent),
		4:  s.iterate(s.fbString),
		5:  s.iterate(s.logToConsole),
		6:  s.iterate(s.fbCommand("fbtest", "260x260+740-+480")),
		7:  s.iterate(s.fbCommand("fbtest", "-r")),
		8:  s.iterate(s.fbCommand("fbtest", "-g")),
		9:  s.iterate(s.fbCommand("fbtest", "-b")),
		10: s.iterate(s.fbCommand("fbtest", "-w")),
		11: s.iterate(s.fbMark("fb_sierpinski")),
		12: s.iterate(s.fbMark("fb_mandelbrot")),
		13: s.iterate(s.fbMark("fb_rectangle")),
		14: s.iterate(s.renderImages),
		15: s.iterate(s.renderImages),
		16: s.iterate(s.renderImages),
		17: s.iterate(s.renderImages),
		18: s.iterate(s.rotate),
		19: s.iterate(s.backlight),
		20: s.iterate(s.fbCommand("modeset")),
		21: s.iterate(s.fbCommand("modeset-double-buffered")),
		22: s.iterate(s.fbCommand("modeset-vsync")),
		23: s.iterate(s.vblank),
		24: s.iterate(s.drm(drmCheck{name: "resolution and frequency", modes: true})),
		25: s.iterate(s.drm(drmCheck{name: "hardware cursor", flags: []string{"-C"}})),
		26: s.iterate(s.drm(drmCheck{name: "vertical sync", flags: []string{"-v"}})),
		27: s.iterate(s.drm(drmCheck{name: "overlay", overlay: true})),
		28: s.iterate(s.drm(drmCheck{name: "alpha blending", overlay: true, alpha: true})),
		29: s.iterate(s.drm(drmCheck{name: "vsync page flip with resolution change", modes: true, flags: []string{"-v"}})),
		30: s.iterate(s.drm(drmCheck{name: "hardware cursor with resolution change", modes: true, flags: []string{"-C"}})),
		31: s.iterate(s.drm(drmCheck{name: "hardware cursor and vsync page flip with resolution change", modes: true, flags: []string{"-C", "-v"}})),
	}
}

// Hooks returns the setup and teardown run around every display case
func (s *Suite) Hooks() probe.Hooks {
	return probe.Hooks{
		Setup: func(ctx context.Context, desc types.CaseDescriptor) error {
			s.log.Debug("Setting up Display",
				"case", desc.Number,
				"driver", s.driver,
				"framebuffer", s.paths.Framebuffer,
				"hold", s.hold,
				"pause", s.pause)
			return nil
		},
		Teardown: func(ctx context.Context, desc types.CaseDescriptor) error {
			s.log.Debug("Cleaning-up the resources used for the Display testing", "case", desc.Number)
			return s.resetRotation()
		},
	}
}

// resetRotation puts the framebuffer console back upright when a case left it rotated
func (s *Suite) resetRotation() error {
	rotation, err := readInt(s.paths.FbconRotate)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if rotation == 0 {
		return nil
	}
	s.log.Info("Restoring the console rotation", "rotation", rotation)
	return writeFile(s.paths.FbconRotate, []byte("0\n"))
}

// step is one iteration of a probe
type step func(ctx context.Context, env probe.Env) error

func (s *Suite) iterate(fn step) probe.Probe {
	return probe.Func(func(ctx context.Context, env probe.Env) error {
		return probe.Iterate(ctx, env, func(ctx context.Context, _ int) error {
			return fn(ctx, env)
		})
	})
}

// requireFramebuffer fails the case as Fatal when the framebuffer device is missing
func (s *Suite) requireFramebuffer(env probe.Env) error {
	env.Log.Info("Checking fb0 status", "path", s.paths.Framebuffer)
	if _, err := os.Stat(s.paths.Framebuffer); err != nil {
		env.Log.Error("fb0 not available", "err", err)
		return types.NewFailure(types.ResultFatal, "Test Failure - 'fb0' Framebuffer not available in path (%s)", s.paths.Framebuffer)
	}
	return nil
}

// wait sleeps for d unless ctx ends first
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// commandFailure classifies a failed program run. Programs the probes depend on failing is Fatal.
func commandFailure(name string, err error) error {
	if code, ok := probe.ExitCode(err); ok {
		return types.NewFailure(types.ResultFatal, "Test Execution Failure: %s exited with status %d", name, code)
	}
	return types.NewFailure(types.ResultFatal, "Test Cmd Execution Failure, cannot proceed: %v", err)
}
