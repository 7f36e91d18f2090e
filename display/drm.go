package display

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// baseMode is the resolution used by the checks that do not change resolution
const baseMode = "640x480"

// Mode is a display mode advertised by a connector
type Mode struct {
	Index   int
	Name    string // eg. 1920x1080
	Refresh string // vertical refresh as printed, eg. 60.00
}

// Resources are the DRM objects modetest reports for a driver
type Resources struct {
	Connector    int // first connected connector, or the first connector when none is connected
	CRTC         int
	Planes       []int
	PlaneFormats map[int][]string
	Modes        []Mode // modes of Connector
}

// ParseModetest reads the resource listing printed by modetest -M <driver>.
// Object rows start at the first column, their details are indented below them.
func ParseModetest(out []byte) (*Resources, error) {
	res := &Resources{PlaneFormats: make(map[int][]string)}

	var (
		section        string
		current        int // id of the last object row in the section
		haveConnected  bool
		modesByConnect = make(map[int][]Mode)
	)

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		indented := line != strings.TrimLeft(line, " \t")
		if !indented && strings.HasSuffix(trimmed, ":") {
			section = strings.TrimSuffix(trimmed, ":")
			current = 0
			continue
		}

		fields := strings.Fields(trimmed)
		if !indented {
			id, err := strconv.Atoi(fields[0])
			if err != nil {
				// column header
				continue
			}
			current = id
			switch section {
			case "Connectors":
				connected := len(fields) > 2 && fields[2] == "connected"
				if res.Connector == 0 || (connected && !haveConnected) {
					res.Connector = id
					haveConnected = connected
				}
			case "CRTCs":
				if res.CRTC == 0 {
					res.CRTC = id
				}
			case "Planes":
				res.Planes = append(res.Planes, id)
			}
			continue
		}

		switch {
		case section == "Connectors" && strings.HasPrefix(fields[0], "#") && current != 0:
			if m, ok := parseMode(fields); ok {
				modesByConnect[current] = append(modesByConnect[current], m)
			}
		case section == "Planes" && fields[0] == "formats:" && current != 0:
			res.PlaneFormats[current] = append([]string(nil), fields[1:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading modetest output")
	}

	if res.Connector == 0 {
		return nil, errors.New("no connector reported")
	}
	if res.CRTC == 0 {
		return nil, errors.New("no CRTC reported")
	}
	res.Modes = modesByConnect[res.Connector]
	return res, nil
}

func parseMode(fields []string) (Mode, bool) {
	if len(fields) < 3 {
		return Mode{}, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(fields[0], "#"))
	if err != nil {
		return Mode{}, false
	}
	if _, err := strconv.ParseFloat(fields[2], 64); err != nil {
		return Mode{}, false
	}
	return Mode{Index: idx, Name: fields[1], Refresh: fields[2]}, true
}

// uniqueModes drops repeated name and refresh pairs, keeping the first occurrence
func uniqueModes(modes []Mode) []Mode {
	seen := make(map[string]bool, len(modes))
	var unique []Mode
	for _, m := range modes {
		key := m.Name + "-" + m.Refresh
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, m)
	}
	return unique
}

// hasAlpha reports whether a DRM fourcc carries an alpha channel (AR24, RA24, ...)
func hasAlpha(format string) bool {
	return len(format) >= 2 && (format[0] == 'A' || format[1] == 'A')
}

// ParseVblankFrequencies extracts the frequencies from vbltest output lines such as "freq: 60.00Hz"
func ParseVblankFrequencies(out []byte) []float64 {
	var freqs []float64
	fields := strings.Fields(string(out))
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] != "freq:" {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSuffix(fields[i+1], "Hz"), 64)
		if err == nil {
			freqs = append(freqs, v)
		}
	}
	return freqs
}

func (s *Suite) vblank(ctx context.Context, env probe.Env) error {
	env.Log.Info("Reading the display frequency", "hold", s.hold)
	out, err := probe.Hold(ctx, s.cmd, s.hold, "vbltest", "-s")
	if err != nil {
		env.Log.Error("vbltest failed", "err", err, "output", string(out))
		return commandFailure("vbltest", err)
	}
	freqs := ParseVblankFrequencies(out)
	if len(freqs) == 0 {
		return types.NewFailure(types.ResultCritical, "vbltest reported no display frequency")
	}
	peak := freqs[0]
	for _, f := range freqs[1:] {
		peak = math.Max(peak, f)
	}
	env.Log.Info("Display frequency", "hz", peak, "samples", len(freqs))
	env.Note(types.ResultPass, "Display frequency is %.0fHz", math.Round(peak))
	return nil
}

// drmCheck describes one modetest based check
type drmCheck struct {
	name    string
	flags   []string // extra modetest flags: -C for the hardware cursor, -v for vsync page flipping
	modes   bool     // set every advertised mode instead of the base mode
	overlay bool     // place an overlay plane on top of the base mode
	alpha   bool     // restrict the overlay to formats with an alpha channel
}

func (s *Suite) drm(check drmCheck) step {
	return func(ctx context.Context, env probe.Env) error {
		res, err := s.queryDRM(ctx, env)
		if err != nil {
			return err
		}
		configs, err := s.drmConfigs(check, res)
		if err != nil {
			return err
		}

		accepted := 0
		for _, args := range configs {
			ok, err := s.attempt(ctx, env, args)
			if err != nil {
				return err
			}
			if ok {
				accepted++
			}
		}
		if accepted == 0 {
			return types.NewFailure(types.ResultCritical, "DRM %s test failed, all %d configuration(s) were rejected", check.name, len(configs))
		}
		env.Log.Info("DRM test completed", "test", check.name, "accepted", accepted, "total", len(configs))
		return nil
	}
}

func (s *Suite) queryDRM(ctx context.Context, env probe.Env) (*Resources, error) {
	out, err := s.cmd.Run(ctx, "modetest", "-M", s.driver)
	if err != nil {
		env.Log.Error("Cannot query DRM resources", "driver", s.driver, "err", err)
		return nil, commandFailure("modetest", err)
	}
	res, err := ParseModetest(out)
	if err != nil {
		env.Log.Error("Cannot parse DRM resources", "driver", s.driver, "err", err)
		return nil, types.NewFailure(types.ResultError, "Cannot parse the DRM resources of %s: %v", s.driver, err)
	}
	env.Log.Debug("DRM resources", "connector", res.Connector, "crtc", res.CRTC, "planes", fmt.Sprint(res.Planes), "modes", len(res.Modes))
	return res, nil
}

// drmConfigs expands a check into the modetest argument lists to try
func (s *Suite) drmConfigs(check drmCheck, res *Resources) ([][]string, error) {
	var configs [][]string
	add := func(args ...string) {
		cfg := append([]string{"-M", s.driver}, args...)
		configs = append(configs, append(cfg, check.flags...))
	}

	switch {
	case check.modes:
		modes := uniqueModes(res.Modes)
		if len(modes) == 0 {
			return nil, types.NewFailure(types.ResultError, "No modes reported for connector %d", res.Connector)
		}
		for _, m := range modes {
			add("-s", fmt.Sprintf("%d@%d:%s-%s", res.Connector, res.CRTC, m.Name, m.Refresh))
		}

	case check.overlay:
		if len(res.Planes) < 2 {
			return nil, types.NewFailure(types.ResultSkip, "No overlay plane available")
		}
		plane := res.Planes[1]
		formats := res.PlaneFormats[plane]
		if check.alpha {
			var alpha []string
			for _, f := range formats {
				if hasAlpha(f) {
					alpha = append(alpha, f)
				}
			}
			formats = alpha
		}
		if len(formats) == 0 {
			return nil, types.NewFailure(types.ResultSkip, "Overlay plane %d has no usable formats", plane)
		}
		for _, f := range formats {
			add("-s", fmt.Sprintf("%d@%d:%s", res.Connector, res.CRTC, baseMode),
				"-P", fmt.Sprintf("%d@%d:%s@%s", plane, res.CRTC, s.planeGeometry(), f))
		}

	default:
		if len(res.Planes) == 0 || len(res.PlaneFormats[res.Planes[0]]) == 0 {
			return nil, types.NewFailure(types.ResultError, "No pixel formats reported for the primary plane")
		}
		for _, f := range res.PlaneFormats[res.Planes[0]] {
			add("-s", fmt.Sprintf("%d@%d:%s@%s", res.Connector, res.CRTC, baseMode, f))
		}
	}
	return configs, nil
}

// planeGeometry picks a random overlay size and position: WxH+X+Y
func (s *Suite) planeGeometry() string {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	w := 100 + 50*s.rand.IntN(6)
	h := 100 + 50*s.rand.IntN(6)
	x := 10 + 10*s.rand.IntN(5)
	y := 10 + 10*s.rand.IntN(5)
	return fmt.Sprintf("%dx%d+%d+%d", w, h, x, y)
}

// attempt runs one modetest configuration for the hold period. A configuration that is
// rejected is noted and does not stop the check.
func (s *Suite) attempt(ctx context.Context, env probe.Env, args []string) (bool, error) {
	env.Log.Info("Testing configuration", "cmd", "modetest "+strings.Join(args, " "), "hold", s.hold)
	out, err := probe.Hold(ctx, s.cmd, s.hold, "modetest", args...)
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && rejected(out) {
		err = errors.New(firstFailureLine(out))
	}
	if err != nil {
		env.Log.Warn("Configuration rejected", "args", strings.Join(args, " "), "err", err)
		env.Note(types.ResultNotice, "modetest rejected %s: %v", strings.Join(args, " "), err)
		return false, nil
	}
	return true, nil
}

func rejected(out []byte) bool {
	return firstFailureLine(out) != ""
}

func firstFailureLine(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		l := strings.ToLower(line)
		if strings.Contains(l, "failed") || strings.Contains(l, "invalid") {
			return strings.TrimSpace(line)
		}
	}
	return ""
}
