// Package device implements the polymorphic device tree: disks,
// partitions, network devices and raw images registered under a unique
// name, with bare/uuid:/label: lookup and disk->partition discovery via
// pluggable partition schemes.
package device

import (
	"strconv"
	"strings"
	"sync"

	"github.com/gil0mendes/Initium-sub000/internal/bootlog"
	"github.com/gil0mendes/Initium-sub000/internal/status"
	multierror "github.com/hashicorp/go-multierror"
)

// Type classifies a device.
type Type int

const (
	Disk Type = iota
	Partition
	Network
	ImageDevice
)

// Ops is the minimal device operation every device exposes.
type Ops interface {
	Read(buf []byte, count int, offset uint64) (int, error)
}

// DiskOps additionally exposes block-level reads; the generic bounce-buffer
// path in disk.go is built on top of it.
type DiskOps interface {
	Ops
	ReadBlocks(buf []byte, blockCount uint64, lba uint64) (int, error)
	BlockSize() uint64
}

// Mounter is the minimal view the device tree needs of a mounted
// filesystem (internal/fs.Mount implements it) so that device can offer
// uuid:/label: lookup without importing internal/fs.
type Mounter interface {
	UUID() string
	Label() string
}

// Device is a node in the tree: hdN/cdromN/floppyN disks, "parent,id"
// partitions, network devices, or raw image devices. A Device is born at
// probe/registration time and lives until process exit.
type Device struct {
	Name   string
	Type   Type
	Ops    Ops
	Boot   bool
	Parent *Device

	mu    sync.Mutex
	mount Mounter
}

func (d *Device) SetMount(m Mounter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mount = m
}

func (d *Device) Mount() Mounter {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mount
}

// PartitionInfo describes one partition a PartitionScheme found on a disk.
type PartitionInfo struct {
	Index    int
	StartLBA uint64
	Size     uint64
	Ops      DiskOps
}

// PartitionScheme probes a disk for its partitions (MBR, GPT, ...).
type PartitionScheme interface {
	Name() string
	Probe(disk *Device) ([]PartitionInfo, error)
	// IsBootPartition reports whether the partition starting at startLBA
	// is the one firmware identified as the boot source, letting the
	// tree propagate Device.Boot through discovery.
	IsBootPartition(startLBA uint64) bool
}

// FSProbeFunc attempts to mount a filesystem on d. It is supplied by the
// filesystem layer (internal/fs) to avoid device importing fs.
type FSProbeFunc func(d *Device) (Mounter, bool, error)

// Tree owns every registered device, keyed by unique name.
type Tree struct {
	mu       sync.Mutex
	byName   map[string]*Device
	schemes  []PartitionScheme
	fsProbe  FSProbeFunc
	bootName string
}

func NewTree() *Tree {
	return &Tree{byName: make(map[string]*Device)}
}

// SetFSProbe installs the filesystem layer's mount-probe hook.
func (t *Tree) SetFSProbe(fn FSProbeFunc) { t.fsProbe = fn }

// RegisterScheme adds a partition scheme consulted during disk
// registration, in registration order.
func (t *Tree) RegisterScheme(s PartitionScheme) {
	t.schemes = append(t.schemes, s)
}

// Register adds d to the tree, probes it for a filesystem, and (for disks
// with no filesystem of their own) synthesizes child partition devices.
// A duplicate name is a fatal internal error: names are unique
// process-wide by invariant, never recoverable.
func (t *Tree) Register(d *Device) error {
	t.mu.Lock()
	if _, exists := t.byName[d.Name]; exists {
		t.mu.Unlock()
		panic(bootlog.NewInternalError("device: duplicate device name %q", d.Name))
	}
	t.byName[d.Name] = d
	t.mu.Unlock()

	if t.fsProbe != nil {
		if m, ok, err := t.fsProbe(d); err != nil {
			bootlog.Log.WithError(err).WithField("device", d.Name).Debug("device: fs probe failed")
		} else if ok {
			d.SetMount(m)
		}
	}

	if d.Mount() == nil && d.Type == Disk {
		if err := t.probePartitions(d); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) probePartitions(disk *Device) error {
	var errs error
	for _, scheme := range t.schemes {
		parts, err := scheme.Probe(disk)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if len(parts) == 0 {
			continue
		}
		for _, p := range parts {
			child := &Device{
				Name:   partitionName(disk.Name, p.Index),
				Type:   Partition,
				Ops:    p.Ops,
				Parent: disk,
				Boot:   disk.Boot && scheme.IsBootPartition(p.StartLBA),
			}
			if err := t.Register(child); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
		return errs // first scheme to find partitions wins.
	}
	return errs
}

func partitionName(parent string, index int) string {
	return parent + "," + strconv.Itoa(index)
}

// Lookup resolves a bare name, "uuid:<x>", or "label:<x>" form.
func (t *Tree) Lookup(name string) (*Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case strings.HasPrefix(name, "uuid:"):
		want := strings.TrimPrefix(name, "uuid:")
		for _, d := range t.byName {
			if m := d.Mount(); m != nil && m.UUID() == want {
				return d, nil
			}
		}
	case strings.HasPrefix(name, "label:"):
		want := strings.TrimPrefix(name, "label:")
		for _, d := range t.byName {
			if m := d.Mount(); m != nil && m.Label() == want {
				return d, nil
			}
		}
	default:
		if d, ok := t.byName[name]; ok {
			return d, nil
		}
	}
	return nil, status.Newf(status.NotFound, "no device matches %q", name)
}

// BootDevice returns the device firmware marked as the boot source, if
// any survives through partition discovery.
func (t *Tree) BootDevice() *Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.byName {
		if d.Boot {
			return d
		}
	}
	return nil
}

// All returns every registered device, for iteration (lsdevice, menu
// diagnostics).
func (t *Tree) All() []*Device {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Device, 0, len(t.byName))
	for _, d := range t.byName {
		out = append(out, d)
	}
	return out
}
