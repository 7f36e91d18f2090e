package display

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// Connector is a DRM connector as exposed under the DRM class directory
type Connector struct {
	Name   string // connector name without the card prefix, eg. LVDS-1
	Status string // connected, disconnected or unknown
	Modes  []string
}

// readConnectors lists every connector with a status attribute under dir
func readConnectors(dir string) ([]Connector, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*", "status"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing connectors in %s", dir)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no DRM connectors found in %s", dir)
	}
	sort.Strings(paths)

	connectors := make([]Connector, 0, len(paths))
	for _, p := range paths {
		status, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", p)
		}
		entry := filepath.Dir(p)
		c := Connector{
			Name:   connectorName(filepath.Base(entry)),
			Status: strings.TrimSpace(string(status)),
		}
		// modes is absent on some connectors
		if modes, err := os.ReadFile(filepath.Join(entry, "modes")); err == nil {
			c.Modes = strings.Fields(string(modes))
		}
		connectors = append(connectors, c)
	}
	return connectors, nil
}

// connectorName strips the cardN- prefix from a DRM class entry
func connectorName(entry string) string {
	if strings.HasPrefix(entry, "card") {
		if i := strings.IndexByte(entry, '-'); i >= 0 {
			return entry[i+1:]
		}
	}
	return entry
}

// backlightDevice is one entry of the backlight class
type backlightDevice struct {
	name string
	dir  string
	max  int
}

func readBacklights(dir string) ([]backlightDevice, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*", "max_brightness"))
	if err != nil {
		return nil, errors.Wrapf(err, "listing backlights in %s", dir)
	}
	sort.Strings(paths)
	devices := make([]backlightDevice, 0, len(paths))
	for _, p := range paths {
		maxLevel, err := readInt(p)
		if err != nil {
			return nil, err
		}
		devices = append(devices, backlightDevice{
			name: filepath.Base(filepath.Dir(p)),
			dir:  filepath.Dir(p),
			max:  maxLevel,
		})
	}
	return devices, nil
}

// backlight steps every backlight device through off, half and full brightness and
// reads each level back before restoring the original setting
func (s *Suite) backlight(ctx context.Context, env probe.Env) error {
	devices, err := readBacklights(s.paths.Backlight)
	if err != nil {
		env.Log.Error("Cannot read the backlight devices", "err", err)
		return types.NewFailure(types.ResultError, "Cannot read the backlight devices: %v", err)
	}
	if len(devices) == 0 {
		env.Log.Warn("No backlight device found", "dir", s.paths.Backlight)
		return types.NewFailure(types.ResultSkip, "No backlight device found in %s", s.paths.Backlight)
	}

	for _, dev := range devices {
		brightness := filepath.Join(dev.dir, "brightness")
		original, err := readInt(brightness)
		if err != nil {
			return types.NewFailure(types.ResultError, "Cannot read the brightness of %s: %v", dev.name, err)
		}

		for _, level := range []int{0, dev.max / 2, dev.max} {
			env.Log.Info("Setting brightness", "device", dev.name, "level", level, "max", dev.max)
			if err := writeFile(brightness, []byte(strconv.Itoa(level)+"\n")); err != nil {
				env.Log.Error("Cannot set brightness", "device", dev.name, "err", err)
				return types.NewFailure(types.ResultCritical, "Cannot set the brightness of %s to %d: %v", dev.name, level, err)
			}
			if err := wait(ctx, s.pause); err != nil {
				return err
			}
			actual, err := readInt(brightness)
			if err != nil {
				return types.NewFailure(types.ResultError, "Cannot read the brightness of %s: %v", dev.name, err)
			}
			if actual != level {
				env.Log.Error("Brightness did not change", "device", dev.name, "want", level, "got", actual)
				env.Note(types.ResultCritical, "Backlight %s reports brightness %d after setting %d", dev.name, actual, level)
			}
		}

		if err := writeFile(brightness, []byte(strconv.Itoa(original)+"\n")); err != nil {
			env.Log.Warn("Cannot restore brightness", "device", dev.name, "err", err)
		}
	}
	return nil
}
