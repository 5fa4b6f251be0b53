package surface

import (
	"fmt"
	"image"

	"golang.org/x/sys/unix"

	"github.com/veldt/ledge/internal/logger"
	"github.com/veldt/ledge/internal/protocols"
)

// slot is one shared-memory buffer: an anonymous memfd mapped on both
// sides, with the wl_buffer carved out of it.
type slot struct {
	fd     int
	data   []byte
	buffer *protocols.Buffer
	busy   bool // attached and not yet released by the compositor
}

// pool is the two-deep buffer pool: one buffer can be drawn into while
// the previous is still on screen.
type pool struct {
	slots  [2]*slot
	width  int32 // pixel dimensions
	height int32
	stride int32
}

func newPool(shm *protocols.Shm, width, height int32) (*pool, error) {
	p := &pool{width: width, height: height, stride: width * 4}
	size := p.stride * height

	for i := range p.slots {
		s, err := newSlot(shm, size, width, height, p.stride)
		if err != nil {
			p.destroy()
			return nil, fmt.Errorf("buffer slot %d: %w", i, err)
		}
		p.slots[i] = s
	}
	return p, nil
}

func newSlot(shm *protocols.Shm, size, width, height, stride int32) (*slot, error) {
	fd, err := unix.MemfdCreate("ledge-buffer", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create failed: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate failed: %w", err)
	}
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	shmPool, err := shm.CreatePool(fd, size)
	if err != nil {
		unix.Munmap(data)
		unix.Close(fd)
		return nil, err
	}
	buffer, err := shmPool.CreateBuffer(0, width, height, stride, protocols.FormatARGB8888)
	if err != nil {
		shmPool.Destroy()
		unix.Munmap(data)
		unix.Close(fd)
		return nil, err
	}
	// The buffer keeps the pool storage alive server-side.
	if err := shmPool.Destroy(); err != nil {
		logger.Warnf("Failed to destroy shm pool: %v", err)
	}

	s := &slot{fd: fd, data: data, buffer: buffer}
	buffer.OnRelease = func() { s.busy = false }
	return s, nil
}

// acquire returns a buffer the compositor is not reading.
func (p *pool) acquire() (*slot, bool) {
	for _, s := range p.slots {
		if !s.busy {
			return s, true
		}
	}
	return nil, false
}

// write copies an RGBA image into the slot, swapping to the ARGB8888
// little-endian byte order wl_shm expects.
func (s *slot) write(img *image.RGBA, stride int32) {
	h := img.Rect.Dy()
	w := img.Rect.Dx()
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dst := s.data[int32(y)*stride:]
		for x := 0; x < w; x++ {
			dst[x*4+0] = src[x*4+2] // B
			dst[x*4+1] = src[x*4+1] // G
			dst[x*4+2] = src[x*4+0] // R
			dst[x*4+3] = src[x*4+3] // A
		}
	}
}

func (p *pool) destroy() {
	for i, s := range p.slots {
		if s == nil {
			continue
		}
		if s.buffer != nil {
			if err := s.buffer.Destroy(); err != nil {
				logger.Warnf("Failed to destroy buffer: %v", err)
			}
		}
		unix.Munmap(s.data)
		unix.Close(s.fd)
		p.slots[i] = nil
	}
}
