package device

import (
	"unsafe"

	"github.com/gil0mendes/Initium-sub000/internal/status"
)

// alignedAddr reports whether buf's backing array starts on an 8-byte
// boundary. Some firmware block-read backends reject unaligned buffers
// outright; the bounce path below is also taken for that reason, not only
// for offset/length misalignment.
func alignedAddr(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))%8 == 0
}

// DiskRead implements the generic disk-device read: it maps a
// byte-granular (count, offset) read onto a disk's block-granular
// ReadBlocks, bouncing through a block-sized scratch buffer whenever the
// request does not land on whole, aligned blocks.
func DiskRead(d *Device, buf []byte, count int, offset uint64) (int, error) {
	disk, ok := d.Ops.(DiskOps)
	if !ok {
		return 0, status.New(status.UnsupportedOp, "device does not support block reads")
	}
	blockSize := disk.BlockSize()
	if blockSize == 0 {
		return 0, status.New(status.InvalidArg, "disk reports zero block size")
	}

	if count == 0 {
		return 0, nil
	}

	startLBA := offset / blockSize
	endOffset := offset + uint64(count)
	endLBA := (endOffset + blockSize - 1) / blockSize

	written := 0
	bounce := make([]byte, blockSize)

	for lba := startLBA; lba < endLBA; lba++ {
		blockStart := lba * blockSize
		// Slice of buf this block contributes to, in absolute offsets.
		loAbs := maxU64(blockStart, offset)
		hiAbs := minU64(blockStart+blockSize, endOffset)
		if hiAbs <= loAbs {
			continue
		}
		dst := buf[loAbs-offset : hiAbs-offset]

		full := loAbs == blockStart && hiAbs == blockStart+blockSize && alignedAddr(dst)
		if full {
			n, err := disk.ReadBlocks(dst, 1, lba)
			if err != nil {
				return written, err
			}
			written += n
			continue
		}

		// Partial or unaligned: bounce through a whole-block buffer.
		if _, err := disk.ReadBlocks(bounce, 1, lba); err != nil {
			return written, err
		}
		n := copy(dst, bounce[loAbs-blockStart:hiAbs-blockStart])
		written += n
	}

	return written, nil
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
