package display

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-dispval/types"
)

const modetestListing = `Encoders:
id	crtc	type	possible crtcs	possible clones
31	30	LVDS	0x00000001	0x00000000

Connectors:
id	encoder	status		name		size (mm)	modes	encoders
33	0	disconnected	HDMI-A-1	0x0		0	0
32	31	connected	LVDS-1		217x136		3	31
  modes:
	index name refresh (Hz) hdisp hss hse htot vdisp vss vse vtot
  #0 1280x800 60.00 1280 1328 1360 1440 800 803 809 823 71100 flags: phsync, nvsync; type: preferred, driver
  #1 1280x800 50.00 1280 1328 1360 1440 800 803 809 823 59250 flags: phsync, nvsync; type: driver
  #2 1024x768 60.00 1024 1048 1184 1344 768 771 777 806 65000 flags: nhsync, nvsync; type: driver
  #3 1280x800 60.00 1280 1328 1360 1440 800 803 809 823 71100 flags: phsync, nvsync; type: driver
  props:
	1 EDID:
		flags: immutable blob
		blobs:

	2 DPMS:
		flags: enum
		enums: On=0 Standby=1 Suspend=2 Off=3
		value: 0
CRTCs:
id	fb	pos	size
30	40	(0,0)	(1280x800)
  #0 1280x800 60.00 1280 1328 1360 1440 800 803 809 823 71100 flags: phsync, nvsync; type: preferred, driver
  props:
Planes:
id	crtc	fb	CRTC x,y	x,y	gamma size	possible crtcs
28	30	40	0,0		0,0	0       	0x00000001
  formats: XR24 AR24 RG16
  props:
	8 type:
		flags: immutable enum
		enums: Overlay=0 Primary=1 Cursor=2
		value: 1
29	0	0	0,0		0,0	0       	0x00000001
  formats: XR24 AR24 AB24 RA24 BG16
  props:
	8 type:
		flags: immutable enum
		enums: Overlay=0 Primary=1 Cursor=2
		value: 0
Frame buffers:
id	size	pitch
40	(1280x800)	5120
`

func TestParseModetest(t *testing.T) {
	res, err := ParseModetest([]byte(modetestListing))
	require.NoError(t, err)

	assert.Equal(t, 32, res.Connector, "the connected connector wins over the first one")
	assert.Equal(t, 30, res.CRTC)
	assert.Equal(t, []int{28, 29}, res.Planes, "frame buffer rows are not planes")
	assert.Equal(t, []string{"XR24", "AR24", "RG16"}, res.PlaneFormats[28])
	assert.Equal(t, []string{"XR24", "AR24", "AB24", "RA24", "BG16"}, res.PlaneFormats[29])
	require.Len(t, res.Modes, 4, "crtc modes are not connector modes")
	assert.Equal(t, Mode{Index: 2, Name: "1024x768", Refresh: "60.00"}, res.Modes[2])

	unique := uniqueModes(res.Modes)
	assert.Equal(t, []Mode{
		{Index: 0, Name: "1280x800", Refresh: "60.00"},
		{Index: 1, Name: "1280x800", Refresh: "50.00"},
		{Index: 2, Name: "1024x768", Refresh: "60.00"},
	}, unique)
}

func TestParseModetestErrors(t *testing.T) {
	_, err := ParseModetest(nil)
	require.Error(t, err)

	noCRTC := strings.SplitN(modetestListing, "CRTCs:", 2)[0]
	_, err = ParseModetest([]byte(noCRTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRTC")
}

func TestHasAlpha(t *testing.T) {
	for _, f := range []string{"AR24", "AB24", "RA24", "BA24", "AR15"} {
		assert.True(t, hasAlpha(f), f)
	}
	for _, f := range []string{"XR24", "RG16", "BG16", "X", ""} {
		assert.False(t, hasAlpha(f), f)
	}
}

func TestParseVblankFrequencies(t *testing.T) {
	out := []byte("freq: 60.00Hz\nfreq: 59.98Hz\nnoise freq: bogus\nfreq:")
	assert.Equal(t, []float64{60.00, 59.98}, ParseVblankFrequencies(out))
	assert.Empty(t, ParseVblankFrequencies([]byte("vblank failed")))
}

// isQuery matches the resource listing call
func isQuery(args []string) bool {
	return len(args) == 2
}

func isSetMode(args []string) bool {
	return len(args) > 2 && args[2] == "-s"
}

func TestDRMChecks(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want [][]string
	}{
		{
			name: "hardware cursor",
			n:    25,
			want: [][]string{
				{"-M", "NB2", "-s", "32@30:640x480@XR24", "-C"},
				{"-M", "NB2", "-s", "32@30:640x480@AR24", "-C"},
				{"-M", "NB2", "-s", "32@30:640x480@RG16", "-C"},
			},
		},
		{
			name: "vertical sync",
			n:    26,
			want: [][]string{
				{"-M", "NB2", "-s", "32@30:640x480@XR24", "-v"},
				{"-M", "NB2", "-s", "32@30:640x480@AR24", "-v"},
				{"-M", "NB2", "-s", "32@30:640x480@RG16", "-v"},
			},
		},
		{
			name: "resolution change",
			n:    24,
			want: [][]string{
				{"-M", "NB2", "-s", "32@30:1280x800-60.00"},
				{"-M", "NB2", "-s", "32@30:1280x800-50.00"},
				{"-M", "NB2", "-s", "32@30:1024x768-60.00"},
			},
		},
		{
			name: "cursor and vsync with resolution change",
			n:    31,
			want: [][]string{
				{"-M", "NB2", "-s", "32@30:1280x800-60.00", "-C", "-v"},
				{"-M", "NB2", "-s", "32@30:1280x800-50.00", "-C", "-v"},
				{"-M", "NB2", "-s", "32@30:1024x768-60.00", "-C", "-v"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBoard(t)
			cmd := &mockCommander{}
			cmd.On("Run", "modetest", []string{"-M", "NB2"}).Return([]byte(modetestListing), nil)
			for _, args := range tt.want {
				cmd.On("Run", "modetest", args).Return([]byte("setting mode 640x480-60.00Hz on connectors 32, crtc 30\n"), nil).Once()
			}

			notes, err := runCase(t, b.suite(cmd), tt.n, 1)
			require.NoError(t, err)
			assert.Empty(t, notes)
			cmd.AssertExpectations(t)
			cmd.AssertNumberOfCalls(t, "Run", len(tt.want)+1)
		})
	}
}

func TestDRMOverlay(t *testing.T) {
	geometry := `^29@30:[1-3][05]0x[1-3][05]0\+[1-5]0\+[1-5]0@`

	t.Run("every overlay format", func(t *testing.T) {
		b := newBoard(t)
		cmd := &mockCommander{}
		var planes []string
		cmd.On("Run", "modetest", []string{"-M", "NB2"}).Return([]byte(modetestListing), nil)
		cmd.On("Run", "modetest", mock.MatchedBy(isSetMode)).Run(func(args mock.Arguments) {
			a := args.Get(1).([]string)
			require.Len(t, a, 6)
			assert.Equal(t, "32@30:640x480", a[3])
			assert.Equal(t, "-P", a[4])
			planes = append(planes, a[5])
		}).Return(nil, nil)

		_, err := runCase(t, b.suite(cmd), 27, 1)
		require.NoError(t, err)
		require.Len(t, planes, 5)
		for _, p := range planes {
			assert.Regexp(t, geometry, p)
		}
	})

	t.Run("alpha formats only", func(t *testing.T) {
		b := newBoard(t)
		cmd := &mockCommander{}
		var formats []string
		cmd.On("Run", "modetest", []string{"-M", "NB2"}).Return([]byte(modetestListing), nil)
		cmd.On("Run", "modetest", mock.MatchedBy(isSetMode)).Run(func(args mock.Arguments) {
			a := args.Get(1).([]string)
			formats = append(formats, a[5][strings.LastIndex(a[5], "@")+1:])
		}).Return(nil, nil)

		_, err := runCase(t, b.suite(cmd), 28, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"AR24", "AB24", "RA24"}, formats)
	})

	t.Run("no overlay plane", func(t *testing.T) {
		b := newBoard(t)
		cmd := &mockCommander{}
		single := strings.SplitN(modetestListing, "29\t0\t0", 2)[0]
		cmd.On("Run", "modetest", []string{"-M", "NB2"}).Return([]byte(single), nil)

		_, err := runCase(t, b.suite(cmd), 27, 1)
		assert.Equal(t, types.ResultSkip, types.CodeOf(err))
		cmd.AssertNumberOfCalls(t, "Run", 1)
	})
}

func TestDRMRejectedConfigurations(t *testing.T) {
	t.Run("some rejected", func(t *testing.T) {
		b := newBoard(t)
		cmd := &mockCommander{}
		cmd.On("Run", "modetest", []string{"-M", "NB2"}).Return([]byte(modetestListing), nil)
		cmd.On("Run", "modetest", []string{"-M", "NB2", "-s", "32@30:640x480@RG16", "-C"}).
			Return([]byte("failed to set mode: Invalid argument\n"), nil)
		cmd.On("Run", "modetest", mock.MatchedBy(isSetMode)).Return(nil, nil)

		notes, err := runCase(t, b.suite(cmd), 25, 1)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, types.ResultNotice, notes[0].code)
		assert.Contains(t, notes[0].msg, "RG16")
	})

	t.Run("all rejected", func(t *testing.T) {
		b := newBoard(t)
		cmd := &mockCommander{}
		cmd.On("Run", "modetest", []string{"-M", "NB2"}).Return([]byte(modetestListing), nil)
		cmd.On("Run", "modetest", mock.MatchedBy(isSetMode)).Return(nil, errors.New("exit status 1"))

		notes, err := runCase(t, b.suite(cmd), 29, 1)
		assert.Equal(t, types.ResultCritical, types.CodeOf(err))
		assert.Len(t, notes, 3)
	})

	t.Run("resources unavailable", func(t *testing.T) {
		b := newBoard(t)
		cmd := &mockCommander{}
		cmd.On("Run", "modetest", mock.MatchedBy(isQuery)).Return(nil, errors.New("no such driver"))

		_, err := runCase(t, b.suite(cmd), 26, 1)
		assert.True(t, types.IsFatal(err))
	})
}
