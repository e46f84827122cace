package audio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gordonklaus/portaudio"
)

// Device describes an audio input or output endpoint.
type Device struct {
	Index           int
	Name            string
	HostAPI         string
	MaxInput        int
	MaxOutput       int
	DefaultSampleHz float64
	IsDefaultInput  bool
	IsDefaultOutput bool
}

func (d Device) String() string {
	var tags []string
	if d.IsDefaultInput {
		tags = append(tags, "default-in")
	}
	if d.IsDefaultOutput {
		tags = append(tags, "default-out")
	}
	s := fmt.Sprintf("[%s] %s (in:%d out:%d @%.0fHz)", d.HostAPI, d.Name, d.MaxInput, d.MaxOutput, d.DefaultSampleHz)
	if len(tags) > 0 {
		s += " " + strings.Join(tags, ",")
	}
	return s
}

// ListDevices returns all devices across host APIs sorted by host and name.
// PortAudio must be initialized.
func ListDevices() ([]Device, error) {
	hosts, err := portaudio.HostApis()
	if err != nil {
		return nil, fmt.Errorf("host apis: %w", err)
	}

	defaultIn := -1
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultIn = def.Index
	}

	var devices []Device
	for _, host := range hosts {
		for _, d := range host.Devices {
			devices = append(devices, Device{
				Index:           d.Index,
				Name:            d.Name,
				HostAPI:         host.Name,
				MaxInput:        d.MaxInputChannels,
				MaxOutput:       d.MaxOutputChannels,
				DefaultSampleHz: d.DefaultSampleRate,
				IsDefaultInput:  d.Index == defaultIn,
				IsDefaultOutput: host.DefaultOutputDevice != nil && d.Index == host.DefaultOutputDevice.Index,
			})
		}
	}
	sortDevices(devices)
	return devices, nil
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].HostAPI == devices[j].HostAPI {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].HostAPI < devices[j].HostAPI
	})
}

// loopbackKeywords mark devices that capture what the machine is playing.
var loopbackKeywords = []string{"monitor", "loopback", "mix", "stereo mix", "what u hear"}

// inputScore ranks a capture candidate; higher is better, negative unusable.
func inputScore(name string, channels int, isDefault, isHostDefault bool) int {
	if channels <= 0 {
		return -1
	}
	score := channels
	if isDefault {
		score += 50
	}
	if isHostDefault {
		score += 40
	}
	lower := strings.ToLower(name)
	for _, kw := range loopbackKeywords {
		if strings.Contains(lower, kw) {
			score += 20
			break
		}
	}
	if strings.Contains(lower, "default") {
		score += 10
	}
	return score
}
