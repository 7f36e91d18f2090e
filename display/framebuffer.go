package display

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ethereum-optimism/infra/op-dispval/probe"
	"github.com/ethereum-optimism/infra/op-dispval/types"
)

// fbStrings are rendered by the string test, each in two colours
var fbStrings = []string{
	"NB2 Linux BSP!",
	"NB2 Linux BSP - ExaleapSemi",
	"NB2 Linux BSP - ExaleapSemi DisplaySS",
}

var fbStringColours = []string{"0xff", "0xffff"}

// imagesPerRun is how many images from the matching directory are rendered
const imagesPerRun = 4

func (s *Suite) framebufferPresent(ctx context.Context, env probe.Env) error {
	if err := s.requireFramebuffer(env); err != nil {
		return err
	}
	env.Log.Info("fb0 found in the system", "path", s.paths.Framebuffer)
	env.Note(types.ResultPass, "fb0 Framebuffer Device available.")
	return nil
}

func (s *Suite) displayInfo(ctx context.Context, env probe.Env) error {
	env.Log.Info("Trying to fetch display interfaces and info")
	if err := s.requireFramebuffer(env); err != nil {
		return err
	}

	fbInfo, err := s.cmd.Run(ctx, "fbset")
	if err != nil {
		env.Log.Error("fbset failed", "err", err, "output", string(fbInfo))
		return commandFailure("fbset", err)
	}
	connectors, err := readConnectors(s.paths.DRMClass)
	if err != nil {
		env.Log.Error("Cannot read DRM connectors", "err", err)
		return types.NewFailure(types.ResultFatal, "Test Execution Failure, cannot proceed: %v", err)
	}

	env.Log.Info("Framebuffer settings", "fbset", strings.TrimSpace(string(fbInfo)))
	for _, c := range connectors {
		env.Log.Info("Display interface", "connector", c.Name, "status", c.Status, "modes", strings.Join(c.Modes, " "))
	}
	env.Note(types.ResultPass, "All the Display Configs are available.")
	return nil
}

func (s *Suite) fbString(ctx context.Context, env probe.Env) error {
	if err := s.requireFramebuffer(env); err != nil {
		return err
	}
	for _, str := range fbStrings {
		for _, colour := range fbStringColours {
			env.Log.Info("Rendering string", "string", str, "colour", colour)
			if out, err := s.cmd.Run(ctx, "fbstring", "120", "100", str, colour, "0"); err != nil {
				env.Log.Error("fbstring failed", "err", err, "output", string(out))
				return commandFailure("fbstring", err)
			}
			if err := wait(ctx, s.pause); err != nil {
				return err
			}
		}
		env.Log.Info("Test completed successfully for FbString", "string", str)
	}
	return nil
}

func (s *Suite) logToConsole(ctx context.Context, env probe.Env) error {
	if err := s.requireFramebuffer(env); err != nil {
		return err
	}
	out, err := s.cmd.Run(ctx, "dmesg")
	if err != nil {
		env.Log.Error("dmesg failed", "err", err)
		return commandFailure("dmesg", err)
	}
	if err := writeFile(s.paths.Console, out); err != nil {
		env.Log.Error("Cannot write to the console", "console", s.paths.Console, "err", err)
		return types.NewFailure(types.ResultFatal, "Test Execution Failure: %v", err)
	}
	env.Log.Info("Kernel log written to the console", "console", s.paths.Console, "bytes", len(out))
	return nil
}

// fbCommand runs a framebuffer program that exits on its own
func (s *Suite) fbCommand(name string, args ...string) step {
	return func(ctx context.Context, env probe.Env) error {
		if err := s.requireFramebuffer(env); err != nil {
			return err
		}
		env.Log.Info("Proceeding test execution", "cmd", name, "args", strings.Join(args, " "))
		if out, err := s.cmd.Run(ctx, name, args...); err != nil {
			env.Log.Error("Test execution failure", "cmd", name, "err", err, "output", string(out))
			return commandFailure(name, err)
		}
		env.Log.Info("Test completed successfully", "cmd", name)
		return nil
	}
}

// fbMark runs a fb-mark renderer once the attached panel has been identified
func (s *Suite) fbMark(name string) step {
	run := s.fbCommand(name)
	return func(ctx context.Context, env probe.Env) error {
		if _, err := s.detectInterface(env); err != nil {
			return err
		}
		return run(ctx, env)
	}
}

func (s *Suite) renderImages(ctx context.Context, env probe.Env) error {
	if err := s.requireFramebuffer(env); err != nil {
		return err
	}

	env.Log.Info("Checking Display BPP Value")
	bpp, err := readInt(s.paths.BitsPerPixel)
	if err != nil {
		env.Log.Error("Cannot read the display bpp", "err", err)
		return types.NewFailure(types.ResultFatal, "Test Cmd Execution Failure, cannot proceed: %v", err)
	}
	env.Log.Info("Current Display BPP Value", "bpp", bpp)

	iface, err := s.detectInterface(env)
	if err != nil {
		return err
	}

	switch bpp {
	case 32, 24, 16:
	default:
		env.Log.Error("Cannot locate image directory", "display", iface, "bpp", bpp)
		return types.NewFailure(types.ResultError, "Cannot locate %s image directory for %d bpp", iface, bpp)
	}

	dir := filepath.Join(s.paths.Images, strings.ToLower(string(iface)), fmt.Sprintf("%dbpp", bpp))
	images, err := listImages(dir)
	if err != nil {
		env.Log.Error("Cannot locate image directory", "dir", dir, "err", err)
		return types.NewFailure(types.ResultError, "Cannot locate %s image directory %s", iface, dir)
	}
	env.Log.Info("Found images in path", "dir", dir, "images", strings.Join(images, " "))

	s.randMu.Lock()
	s.rand.Shuffle(len(images), func(i, j int) { images[i], images[j] = images[j], images[i] })
	s.randMu.Unlock()
	if len(images) > imagesPerRun {
		images = images[:imagesPerRun]
	}
	for _, img := range images {
		src := filepath.Join(dir, img)
		env.Log.Info("Rendering image", "image", src)
		if err := copyFile(s.paths.Framebuffer, src); err != nil {
			env.Log.Error("Test execution failure", "image", src, "err", err)
			return types.NewFailure(types.ResultFatal, "Test Execution Failure: %v", err)
		}
		if err := wait(ctx, s.pause); err != nil {
			return err
		}
		env.Log.Info("Test completed successfully for rendering image", "image", img)
	}
	return nil
}

func (s *Suite) rotate(ctx context.Context, env probe.Env) error {
	if err := s.requireFramebuffer(env); err != nil {
		return err
	}
	for rotation := 0; rotation < 3; rotation++ {
		env.Log.Info("Proceeding test execution for rotate", "rotation", rotation)
		if err := writeFile(s.paths.FbconRotate, []byte(fmt.Sprintf("%d\n", rotation))); err != nil {
			env.Log.Error("fbcon unavailable", "err", err)
			return types.NewFailure(types.ResultFatal, "Test Cmd Execution Failure, fbcon unavailable cannot proceed: %v", err)
		}
		if err := wait(ctx, s.pause); err != nil {
			return err
		}
		env.Log.Info("Test completed successfully for rotate", "rotation", rotation)
	}
	if err := writeFile(s.paths.FbconRotate, []byte("0\n")); err != nil {
		env.Log.Warn("Cannot restore the console rotation", "err", err)
	}
	return nil
}

type displayInterface string

const (
	interfaceLVDS displayInterface = "LVDS"
	interfaceMIPI displayInterface = "MIPI"
)

// detectInterface identifies the attached panel from the DRM connector names.
// Anything other than an LVDS or DSI panel is Fatal.
func (s *Suite) detectInterface(env probe.Env) (displayInterface, error) {
	env.Log.Info("Checking if the connected display is LVDS or MIPI")
	connectors, err := readConnectors(s.paths.DRMClass)
	if err != nil {
		env.Log.Error("Cannot read DRM connectors", "err", err)
		return "", types.NewFailure(types.ResultFatal, "Test Cmd Execution Failure, cannot proceed: %v", err)
	}
	for _, c := range connectors {
		if strings.Contains(c.Name, "LVDS") {
			env.Log.Info("LVDS display connected", "connector", c.Name)
			return interfaceLVDS, nil
		}
	}
	for _, c := range connectors {
		if strings.Contains(c.Name, "DSI") {
			env.Log.Info("MIPI display connected", "connector", c.Name)
			return interfaceMIPI, nil
		}
	}
	env.Log.Error("Error checking the display connection")
	return "", types.NewFailure(types.ResultFatal, "Error checking the Display connection")
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", dir)
	}
	var images []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			images = append(images, e.Name())
		}
	}
	if len(images) == 0 {
		return nil, errors.Errorf("no images in %s", dir)
	}
	sort.Strings(images)
	return images, nil
}

// copyFile writes the contents of src to the start of dst, which must already exist
func copyFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "writing %s to %s", src, dst)
	}
	return errors.Wrapf(out.Close(), "closing %s", dst)
}

// writeFile replaces the contents of an existing device or sysfs attribute, the way a shell redirect does
func writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "reading %s", path)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", path)
	}
	return v, nil
}
