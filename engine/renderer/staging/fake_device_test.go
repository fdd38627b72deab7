package staging

import (
	"errors"
	"fmt"
)

// fakeUploadBuffer is an in-memory UploadBuffer that records flushes.
type fakeUploadBuffer struct {
	label    string
	data     []byte
	flushes  [][2]int
	released bool
}

func (b *fakeUploadBuffer) Bytes() []byte { return b.data }
func (b *fakeUploadBuffer) Cap() int      { return len(b.data) }
func (b *fakeUploadBuffer) Flush(offset, size int) {
	if b.released {
		panic("flush on released buffer")
	}
	b.flushes = append(b.flushes, [2]int{offset, size})
}
func (b *fakeUploadBuffer) Release() { b.released = true }

type fakeViewDesc struct {
	buf            UploadBuffer
	offset, size   int
	stride         int
}

// fakeDevice is an in-memory DeviceBuffers that tracks live buffers and
// structured views.
type fakeDevice struct {
	buffers    []*fakeUploadBuffer
	nextView   uint32
	liveViews  map[uint32]fakeViewDesc
	failAllocs bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{liveViews: make(map[uint32]fakeViewDesc)}
}

func (d *fakeDevice) CreateUploadBuffer(label string, size int) (UploadBuffer, error) {
	if d.failAllocs {
		return nil, errors.New("device out of memory")
	}
	buf := &fakeUploadBuffer{label: label, data: make([]byte, size)}
	d.buffers = append(d.buffers, buf)
	return buf, nil
}

func (d *fakeDevice) CreateStructuredView(buf UploadBuffer, offset, size, stride int) (uint32, error) {
	if offset+size > buf.Cap() {
		return 0, fmt.Errorf("view range [%d,%d) exceeds buffer capacity %d", offset, offset+size, buf.Cap())
	}
	d.nextView++
	d.liveViews[d.nextView] = fakeViewDesc{buf: buf, offset: offset, size: size, stride: stride}
	return d.nextView, nil
}

func (d *fakeDevice) ReleaseStructuredView(index uint32) {
	if index == InvalidBindingIndex {
		return
	}
	delete(d.liveViews, index)
}

// liveBuffers counts buffers that have not been released.
func (d *fakeDevice) liveBuffers() int {
	n := 0
	for _, b := range d.buffers {
		if !b.released {
			n++
		}
	}
	return n
}

// recorderProvider records lifecycle events for broadcast-order assertions.
type recorderProvider struct {
	name   string
	events *[]string
}

func (p *recorderProvider) OnFrameStart(slot int, fence uint64) {
	*p.events = append(*p.events, fmt.Sprintf("%s:start(%d,%d)", p.name, slot, fence))
}

func (p *recorderProvider) RetireCompleted(fence uint64) {
	*p.events = append(*p.events, fmt.Sprintf("%s:retire(%d)", p.name, fence))
}
