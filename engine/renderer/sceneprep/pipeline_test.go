package sceneprep

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdes/oxygen/common"
	"github.com/abdes/oxygen/engine/renderer/staging"
	"github.com/abdes/oxygen/engine/view"
)

// fakeUploadBuffer / fakeDevice are the in-memory device stand-ins for
// pipeline tests; structured views are decoded back out of the buffer bytes
// to assert on uploaded rows.

type fakeUploadBuffer struct {
	data     []byte
	released bool
}

func (b *fakeUploadBuffer) Bytes() []byte          { return b.data }
func (b *fakeUploadBuffer) Cap() int               { return len(b.data) }
func (b *fakeUploadBuffer) Flush(offset, size int) {}
func (b *fakeUploadBuffer) Release()               { b.released = true }

type fakeViewDesc struct {
	buf    staging.UploadBuffer
	offset int
	size   int
	stride int
}

type fakeDevice struct {
	buffers  []*fakeUploadBuffer
	nextView uint32
	views    map[uint32]fakeViewDesc
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{views: make(map[uint32]fakeViewDesc)}
}

func (d *fakeDevice) CreateUploadBuffer(label string, size int) (staging.UploadBuffer, error) {
	buf := &fakeUploadBuffer{data: make([]byte, size)}
	d.buffers = append(d.buffers, buf)
	return buf, nil
}

func (d *fakeDevice) CreateStructuredView(buf staging.UploadBuffer, offset, size, stride int) (uint32, error) {
	if offset+size > buf.Cap() {
		return 0, fmt.Errorf("view range [%d,%d) exceeds buffer capacity %d", offset, offset+size, buf.Cap())
	}
	d.nextView++
	d.views[d.nextView] = fakeViewDesc{buf: buf, offset: offset, size: size, stride: stride}
	return d.nextView, nil
}

func (d *fakeDevice) ReleaseStructuredView(index uint32) {
	delete(d.views, index)
}

// viewBytes returns the buffer range a binding describes.
func (d *fakeDevice) viewBytes(t *testing.T, b staging.Binding) []byte {
	t.Helper()
	desc, ok := d.views[b.Index]
	require.True(t, ok, "binding %d must reference a live view", b.Index)
	return desc.buf.Bytes()[desc.offset : desc.offset+desc.size]
}

type fakeRenderable struct {
	pos      [3]float32
	radius   float32
	material uint32
	mesh     MeshRef
}

func (r *fakeRenderable) WorldMatrix() [16]float32 {
	m := make([]float32, 16)
	common.Translation(m, r.pos[0], r.pos[1], r.pos[2])
	var out [16]float32
	copy(out[:], m)
	return out
}

func (r *fakeRenderable) Bounds() common.Sphere {
	radius := r.radius
	if radius == 0 {
		radius = 1
	}
	return common.Sphere{Center: r.pos, Radius: radius}
}

func (r *fakeRenderable) Material() uint32 { return r.material }
func (r *fakeRenderable) Mesh() MeshRef    { return r.mesh }

type fakeSource struct {
	items []Renderable
}

func (s *fakeSource) Renderables() []Renderable { return s.items }

func resolvedViewAt(t *testing.T, eyeX, eyeY, eyeZ, targetX, targetY, targetZ float32) *view.ResolvedView {
	t.Helper()
	viewMat := make([]float32, 16)
	proj := make([]float32, 16)
	vp := make([]float32, 16)
	common.LookAt(viewMat, eyeX, eyeY, eyeZ, targetX, targetY, targetZ, 0, 1, 0)
	common.Perspective(proj, 1.0, 1.0, 0.1, 100.0)
	common.Mul4(vp, proj, viewMat)
	return &view.ResolvedView{Frustum: common.ExtractFrustumFromMatrix(vp)}
}

func newTestPipeline(t *testing.T) (Pipeline, *fakeDevice, staging.InlineTransfersCoordinator) {
	t.Helper()
	dev := newFakeDevice()
	coord := staging.NewInlineTransfersCoordinator(staging.WithFramesInFlight(2))
	p, err := NewPipeline(dev, coord, WithPrepWorkers(2))
	require.NoError(t, err)
	return p, dev, coord
}

// decodeDrawRecords reads uploaded GPUDrawRecord rows back out of a binding.
func decodeDrawRecords(t *testing.T, dev *fakeDevice, b staging.Binding) []GPUDrawRecord {
	t.Helper()
	raw := dev.viewBytes(t, b)
	out := make([]GPUDrawRecord, b.ElementCount)
	for i := range out {
		row := raw[i*GPUDrawRecordSize:]
		out[i].TransformIndex = binary.LittleEndian.Uint32(row[0:])
		out[i].MaterialIndex = binary.LittleEndian.Uint32(row[4:])
		out[i].MeshID = binary.LittleEndian.Uint32(row[8:])
	}
	return out
}

func TestPrepareFrameAssignsStableIndicesAndUploadsTables(t *testing.T) {
	p, dev, coord := newTestPipeline(t)
	defer p.Release()

	src := &fakeSource{items: []Renderable{
		&fakeRenderable{pos: [3]float32{1, 0, 0}, material: 7, mesh: 3},
		nil, // skipped
		&fakeRenderable{pos: [3]float32{2, 0, 0}, material: 9, mesh: 4},
	}}

	coord.BeginFrame()
	frame, err := p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Count)
	require.True(t, frame.Transforms.IsValid())
	require.True(t, frame.Objects.IsValid())
	assert.Equal(t, uint32(2), frame.Transforms.ElementCount)
	assert.Equal(t, uint32(GPUTransformSize), frame.Transforms.Stride)

	// Row 0 carries the first renderable's translation (column-major m[12]).
	transforms := dev.viewBytes(t, frame.Transforms)
	tx := binary.LittleEndian.Uint32(transforms[12*4:])
	assert.Equal(t, float32(1), float32FromBits(tx))
	tx = binary.LittleEndian.Uint32(transforms[GPUTransformSize+12*4:])
	assert.Equal(t, float32(2), float32FromBits(tx))

	objects := dev.viewBytes(t, frame.Objects)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(objects[0:]))
	assert.Equal(t, uint32(9), binary.LittleEndian.Uint32(objects[GPUObjectDataSize:]))

	stats := coord.FinishFrame()
	assert.Equal(t, 2, stats.Writes, "transforms and objects each flush once per frame")
}

func TestPrepareViewCullsPerViewAgainstSharedTables(t *testing.T) {
	p, _, coord := newTestPipeline(t)
	defer p.Release()

	// Two clusters far apart; each view's camera sees its own cluster plus
	// the shared middle object.
	shared := &fakeRenderable{pos: [3]float32{0, 0, 0}, material: 1, mesh: 1}
	leftOnly := &fakeRenderable{pos: [3]float32{-80, 0, 0}, material: 2, mesh: 2}
	rightOnly := &fakeRenderable{pos: [3]float32{80, 0, 0}, material: 3, mesh: 3}
	src := &fakeSource{items: []Renderable{leftOnly, shared, rightOnly}}

	coord.BeginFrame()
	frame, err := p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 3, frame.Count)

	statsBefore := coord.FinishFrame()
	require.Equal(t, 2, statsBefore.Writes)
	coord.BeginFrame()
	frame, err = p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)

	leftView := resolvedViewAt(t, -80, 0, 20, -80, 0, 0)
	rightView := resolvedViewAt(t, 80, 0, 20, 80, 0, 0)

	left, err := p.PrepareView(context.Background(), view.ID(1), leftView)
	require.NoError(t, err)
	right, err := p.PrepareView(context.Background(), view.ID(2), rightView)
	require.NoError(t, err)

	// leftOnly collected first, so it holds transform row 0; shared row 1;
	// rightOnly row 2. Indices are identical across views.
	assert.Equal(t, 1, left.Count)
	assert.Equal(t, 1, right.Count)
	assert.NotEqual(t, left.Draws.Index, right.Draws.Index,
		"each view owns its draw-list binding")
	coord.FinishFrame()
}

func TestPrepareViewSharedIndicesAcrossViews(t *testing.T) {
	p, dev, coord := newTestPipeline(t)
	defer p.Release()

	// All three objects sit in front of both cameras, but each camera is
	// positioned so exactly two fall inside its frustum.
	a := &fakeRenderable{pos: [3]float32{-6, 0, 0}, material: 1, mesh: 1}
	b := &fakeRenderable{pos: [3]float32{0, 0, 0}, material: 2, mesh: 2}
	c := &fakeRenderable{pos: [3]float32{6, 0, 0}, material: 3, mesh: 3}
	src := &fakeSource{items: []Renderable{a, b, c}}

	coord.BeginFrame()
	_, err := p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)

	// Camera 1 centered between a and b, camera 2 between b and c. Near
	// distance keeps the third object outside the horizontal FOV.
	v1 := resolvedViewAt(t, -3, 0, 6, -3, 0, 0)
	v2 := resolvedViewAt(t, 3, 0, 6, 3, 0, 0)

	p1, err := p.PrepareView(context.Background(), view.ID(1), v1)
	require.NoError(t, err)
	p2, err := p.PrepareView(context.Background(), view.ID(2), v2)
	require.NoError(t, err)
	require.Equal(t, 2, p1.Count)
	require.Equal(t, 2, p2.Count)

	rec1 := decodeDrawRecords(t, dev, p1.Draws)
	rec2 := decodeDrawRecords(t, dev, p2.Draws)

	// View 1 sees rows {0,1}, view 2 rows {1,2}: the shared object keeps
	// the same transform index in both draw lists.
	assert.Equal(t, uint32(0), rec1[0].TransformIndex)
	assert.Equal(t, uint32(1), rec1[1].TransformIndex)
	assert.Equal(t, uint32(1), rec2[0].TransformIndex)
	assert.Equal(t, uint32(2), rec2[1].TransformIndex)
	coord.FinishFrame()
}

func TestPrepareViewSortsByMaterialThenMesh(t *testing.T) {
	p, dev, coord := newTestPipeline(t)
	defer p.Release()

	src := &fakeSource{items: []Renderable{
		&fakeRenderable{material: 9, mesh: 1},
		&fakeRenderable{material: 1, mesh: 5},
		&fakeRenderable{material: 1, mesh: 2},
		&fakeRenderable{material: 4, mesh: 0},
	}}

	coord.BeginFrame()
	_, err := p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)

	rv := resolvedViewAt(t, 0, 0, 10, 0, 0, 0)
	prepared, err := p.PrepareView(context.Background(), view.ID(1), rv)
	require.NoError(t, err)
	require.Equal(t, 4, prepared.Count)

	records := decodeDrawRecords(t, dev, prepared.Draws)
	assert.Equal(t, []uint32{1, 1, 4, 9}, []uint32{
		records[0].MaterialIndex, records[1].MaterialIndex,
		records[2].MaterialIndex, records[3].MaterialIndex,
	})
	assert.Equal(t, uint32(2), records[0].MeshID, "equal materials order by mesh")
	assert.Equal(t, uint32(5), records[1].MeshID)
	coord.FinishFrame()
}

func TestPrepareViewWithNothingVisibleIsBenign(t *testing.T) {
	p, _, coord := newTestPipeline(t)
	defer p.Release()

	src := &fakeSource{items: []Renderable{
		&fakeRenderable{pos: [3]float32{500, 0, 0}},
	}}

	coord.BeginFrame()
	_, err := p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)

	rv := resolvedViewAt(t, 0, 0, 10, 0, 0, 0)
	prepared, err := p.PrepareView(context.Background(), view.ID(1), rv)
	require.NoError(t, err)
	assert.Zero(t, prepared.Count)
	assert.False(t, prepared.Draws.IsValid())
	coord.FinishFrame()
}

func TestPrepareFrameWithEmptySource(t *testing.T) {
	p, _, coord := newTestPipeline(t)
	defer p.Release()

	coord.BeginFrame()
	frame, err := p.PrepareFrame(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, frame.Count)
	assert.False(t, frame.Transforms.IsValid())
	assert.False(t, frame.Objects.IsValid())
	coord.FinishFrame()
}

func TestPrepareViewIsIdempotentWithinFrame(t *testing.T) {
	p, _, coord := newTestPipeline(t)
	defer p.Release()

	src := &fakeSource{items: []Renderable{&fakeRenderable{material: 1, mesh: 1}}}
	coord.BeginFrame()
	_, err := p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)

	rv := resolvedViewAt(t, 0, 0, 10, 0, 0, 0)
	first, err := p.PrepareView(context.Background(), view.ID(1), rv)
	require.NoError(t, err)
	second, err := p.PrepareView(context.Background(), view.ID(1), rv)
	require.NoError(t, err)
	assert.Equal(t, first.Count, second.Count,
		"re-preparing a view rebuilds the same draw list")
	coord.FinishFrame()
}

func TestLargeSceneUsesParallelMarshal(t *testing.T) {
	dev := newFakeDevice()
	coord := staging.NewInlineTransfersCoordinator(staging.WithFramesInFlight(2))
	p, err := NewPipeline(dev, coord, WithPrepWorkers(4), WithParallelThreshold(64))
	require.NoError(t, err)
	defer p.Release()

	items := make([]Renderable, 512)
	for i := range items {
		items[i] = &fakeRenderable{pos: [3]float32{float32(i), 0, 0}, material: uint32(i % 7)}
	}

	coord.BeginFrame()
	frame, err := p.PrepareFrame(context.Background(), &fakeSource{items: items})
	require.NoError(t, err)
	require.Equal(t, 512, frame.Count)

	// Spot-check rows written by different worker chunks.
	transforms := dev.viewBytes(t, frame.Transforms)
	for _, row := range []int{0, 100, 300, 511} {
		bits := binary.LittleEndian.Uint32(transforms[row*GPUTransformSize+12*4:])
		assert.Equal(t, float32(row), float32FromBits(bits), "row %d translation", row)
	}
	coord.FinishFrame()
}

func TestUnregisterViewReleasesDrawList(t *testing.T) {
	p, dev, coord := newTestPipeline(t)
	defer p.Release()

	src := &fakeSource{items: []Renderable{&fakeRenderable{}}}
	coord.BeginFrame()
	_, err := p.PrepareFrame(context.Background(), src)
	require.NoError(t, err)

	rv := resolvedViewAt(t, 0, 0, 10, 0, 0, 0)
	prepared, err := p.PrepareView(context.Background(), view.ID(1), rv)
	require.NoError(t, err)
	require.True(t, prepared.Draws.IsValid())

	p.UnregisterView(view.ID(1))
	_, live := dev.views[prepared.Draws.Index]
	assert.False(t, live, "unregistering a view releases its draw-list view")

	p.UnregisterView(view.ID(99)) // unknown views are ignored
	coord.FinishFrame()
}

func TestPreparePhasesHonorCancellation(t *testing.T) {
	p, _, coord := newTestPipeline(t)
	defer p.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	coord.BeginFrame()
	_, err := p.PrepareFrame(ctx, &fakeSource{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = p.PrepareView(ctx, view.ID(1), nil)
	assert.ErrorIs(t, err, context.Canceled)
	coord.FinishFrame()
}

func float32FromBits(bits uint32) float32 {
	return math.Float32frombits(bits)
}
