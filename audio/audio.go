package audio

import (
	"fmt"
	"strings"
)

const (
	WAVHeaderSize = 44

	SampleRate    = 16000
	Channels      = 1
	BytesPerFrame = 2 // 16-bit mono
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// SubsystemError reports a failure of the host audio layer: opening it,
// enumerating devices, or capturing from a device.
type SubsystemError struct {
	Op  string // "open", "enumerate", "capture"
	Err error
}

func (e *SubsystemError) Error() string {
	return fmt.Sprintf("audio %s: %v", e.Op, e.Err)
}

func (e *SubsystemError) Unwrap() error { return e.Err }

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

// DeviceInfo is one entry of an enumeration snapshot. Index is the position
// in the filtered input list and is only meaningful within that snapshot.
type DeviceInfo struct {
	Index    int
	ID       string // opaque platform-specific identifier
	Name     string
	Channels int
}

func (d DeviceInfo) Label() string {
	return fmt.Sprintf("%d: %s", d.Index, d.Name)
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// ListDevices returns the input-capable devices of ctx, indexed in
// enumeration order. An empty result is not an error.
func ListDevices(ctx Context) ([]DeviceInfo, error) {
	all, err := ctx.Devices()
	if err != nil {
		return nil, &SubsystemError{Op: "enumerate", Err: err}
	}
	devices := make([]DeviceInfo, 0, len(all))
	for _, d := range all {
		if d.Channels <= 0 {
			continue
		}
		d.Index = len(devices)
		devices = append(devices, d)
	}
	return devices, nil
}

// FindDevice looks a device up by name in a snapshot.
func FindDevice(devices []DeviceInfo, name string) (DeviceInfo, bool) {
	for _, d := range devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceInfo{}, false
}
