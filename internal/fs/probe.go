package fs

import (
	"errors"

	"github.com/gil0mendes/Initium-sub000/internal/device"
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// Registry holds every compiled-in filesystem driver capable of probing a
// device's Mount method. Probe tries each in registration order and stops
// at the first one that recognises the device, matching the original
// loader's fs_probe.
type Registry struct {
	drivers []Ops
}

func NewRegistry(drivers ...Ops) *Registry {
	return &Registry{drivers: drivers}
}

// Probe implements device.FSProbeFunc: it returns (mount, true, nil) on
// the first driver that mounts successfully, (nil, false, nil) if every
// driver reports UnknownFs, or a propagated error for anything else.
func (r *Registry) Probe(dev *device.Device) (device.Mounter, bool, error) {
	for _, drv := range r.drivers {
		m, err := drv.Mount(dev)
		if err == nil {
			return m, true, nil
		}
		var st *status.Status
		if errors.As(err, &st) && st.Code == status.UnknownFs {
			continue
		}
		return nil, false, err
	}
	return nil, false, nil
}
