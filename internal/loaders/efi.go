package loaders

import (
	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// EFIFirmware is the subset of EFI boot services the raw EFI image loader
// needs: converting a loader-relative path to a device path, loading an
// image from it, and handing control over. Real firmware glue implements
// this against actual EFI_BOOT_SERVICES calls; tests and the host harness
// use a fake, the same split memmgr.Firmware uses for the UEFI allocator.
type EFIFirmware interface {
	DevicePathFromPath(path string) (EFIDevicePath, error)
	LoadImage(path EFIDevicePath, data []byte) (EFIHandle, error)
	SetLoadOptions(h EFIHandle, options string) error
	ResetConsole() error
	ExitBootServices() error
	StartImage(h EFIHandle) (EFIStatus, error)
}

// EFIDevicePath opaquely identifies a loaded image's on-disk origin; its
// representation is entirely firmware-defined.
type EFIDevicePath any

// EFIHandle identifies an image LoadImage has placed in firmware-owned
// memory, not yet started.
type EFIHandle any

// EFIStatus is the EFI_STATUS an image returned if StartImage returns at
// all (most do not: control normally never comes back).
type EFIStatus uint64

const EFIStatusSuccess EFIStatus = 0

// RunEFIImage implements the raw EFI-executable loading contract: resolve
// path, LoadImage, apply the command line as LoadOptions, quiesce the
// console, release the loader's own boot-services resources, then
// StartImage. If StartImage returns instead of the chain ending in a reset
// or handoff, its status is propagated to the caller exactly as received:
// a returning EFI image is not itself a loader failure.
func RunEFIImage(fw EFIFirmware, path, args string, data []byte) (EFIStatus, error) {
	devPath, err := fw.DevicePathFromPath(path)
	if err != nil {
		return 0, status.Newf(status.DeviceError, "resolving device path for %q: %v", path, err)
	}
	handle, err := fw.LoadImage(devPath, data)
	if err != nil {
		return 0, status.Newf(status.MalformedImage, "LoadImage %q: %v", path, err)
	}
	if args != "" {
		if err := fw.SetLoadOptions(handle, args); err != nil {
			return 0, status.Newf(status.SystemError, "SetLoadOptions: %v", err)
		}
	}
	if err := fw.ResetConsole(); err != nil {
		return 0, status.Newf(status.SystemError, "resetting console before handoff: %v", err)
	}
	if err := fw.ExitBootServices(); err != nil {
		return 0, status.Newf(status.SystemError, "ExitBootServices: %v", err)
	}
	return fw.StartImage(handle)
}
