package capture

import (
	"github.com/gordonklaus/portaudio"

	"github.com/BradleyFarquharson/Listen/internal/errkind"
)

// Device describes one capture-capable audio device.
type Device struct {
	Index    int    `json:"index"`
	Name     string `json:"name"`
	Channels int    `json:"channels"`
}

// ListDevices enumerates all devices that offer at least one input channel.
// It is a pure query: PortAudio is initialised and released within the call.
func ListDevices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, errkind.Wrap(errkind.Device, "initialise portaudio", err)
	}
	defer portaudio.Terminate()

	all, err := portaudio.Devices()
	if err != nil {
		return nil, errkind.Wrap(errkind.Device, "enumerate devices", err)
	}

	var devices []Device
	for i, d := range all {
		if d.MaxInputChannels <= 0 {
			continue
		}
		devices = append(devices, Device{
			Index:    i,
			Name:     d.Name,
			Channels: d.MaxInputChannels,
		})
	}
	return devices, nil
}
