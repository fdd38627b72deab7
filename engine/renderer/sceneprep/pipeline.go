package sceneprep

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/abdes/oxygen/engine/renderer/staging"
	"github.com/abdes/oxygen/engine/view"
)

// FrameData is the output of the frame phase: bindings for the shared
// transform and object tables, valid for every view rendered this frame.
type FrameData struct {
	Transforms staging.Binding
	Objects    staging.Binding
	Count      int
}

// PreparedView is the output of the per-view phase: the binding for the
// view's sorted draw list.
type PreparedView struct {
	Draws staging.Binding
	Count int
}

// Pipeline is the two-phase scene prep pipeline. PrepareFrame runs exactly
// once per frame and uploads the view-independent tables; PrepareView runs
// once per rendered view and uploads that view's culled, sorted draw list.
// Both phases run on the frame goroutine; the frame phase fans its marshal
// work out across a persistent worker pool when the item count warrants it.
type Pipeline interface {
	// PrepareFrame collects the frame's renderables, assigns each one a
	// stable transform-table row, and uploads the shared transform and
	// object tables once for all views.
	//
	// Parameters:
	//   - ctx: frame context, checked before CPU-heavy phases
	//   - src: the frame's scene content; nil or empty yields empty tables
	//
	// Returns:
	//   - FrameData: table bindings shared by every view this frame
	//   - error: the context error if the frame was canceled
	PrepareFrame(ctx context.Context, src Source) (FrameData, error)

	// PrepareView culls the frame's collected items against the view's
	// frustum, sorts survivors by material/mesh/transform, and uploads the
	// view's draw list. A view with nothing visible returns a zero count
	// and an invalid binding; that is a benign frame.
	//
	// Parameters:
	//   - ctx: frame context, checked before CPU-heavy phases
	//   - id: the view whose draw list is being built
	//   - rv: the resolved view; its frustum drives culling
	//
	// Returns:
	//   - PreparedView: the draw-list binding and visible draw count
	//   - error: the context error if the frame was canceled
	PrepareView(ctx context.Context, id view.ID, rv *view.ResolvedView) (PreparedView, error)

	// UnregisterView releases the per-view upload resources held for a
	// view. Unknown views are ignored.
	UnregisterView(id view.ID)

	// Release frees every upload buffer the pipeline owns.
	Release()
}

type viewState struct {
	draws staging.TransientStructuredBuffer
}

type pipeline struct {
	dev   staging.DeviceBuffers
	coord staging.InlineTransfersCoordinator

	transforms staging.TransientStructuredBuffer
	objects    staging.TransientStructuredBuffer
	views      map[view.ID]*viewState

	state *State

	pool              worker.DynamicWorkerPool
	workers           int
	parallelThreshold int
}

var _ Pipeline = &pipeline{}

// PipelineBuilderOption configures a Pipeline during construction.
type PipelineBuilderOption func(*pipeline)

// WithPrepWorkers sets the worker count for the frame phase's parallel
// marshal. Values below 1 are ignored.
func WithPrepWorkers(n int) PipelineBuilderOption {
	return func(p *pipeline) {
		if n >= 1 {
			p.workers = n
		}
	}
}

// WithParallelThreshold sets the item count below which the frame phase
// marshals serially instead of fanning out to the pool.
func WithParallelThreshold(n int) PipelineBuilderOption {
	return func(p *pipeline) {
		if n >= 0 {
			p.parallelThreshold = n
		}
	}
}

// defaultParallelThreshold keeps small scenes off the pool; fan-out overhead
// beats the marshal cost below a few hundred rows.
const defaultParallelThreshold = 256

// minMarshalChunk is the smallest item range worth a pool task.
const minMarshalChunk = 64

// NewPipeline creates a scene prep pipeline and its shared upload buffers.
//
// Parameters:
//   - dev: the device contract for upload buffers and structured views
//   - coord: the coordinator driving frame lifecycles
//   - options: optional configuration (worker count, parallel threshold)
//
// Returns:
//   - Pipeline: the new pipeline, with its buffers registered on coord
//   - error: an error if an upload buffer cannot be allocated
func NewPipeline(dev staging.DeviceBuffers, coord staging.InlineTransfersCoordinator, options ...PipelineBuilderOption) (Pipeline, error) {
	if dev == nil {
		panic("sceneprep: NewPipeline requires a device")
	}
	if coord == nil {
		panic("sceneprep: NewPipeline requires a coordinator")
	}

	p := &pipeline{
		dev:               dev,
		coord:             coord,
		views:             make(map[view.ID]*viewState),
		state:             NewState(),
		workers:           max(runtime.NumCPU()-1, 1),
		parallelThreshold: defaultParallelThreshold,
	}
	for _, option := range options {
		option(p)
	}

	transforms, err := staging.NewTransientStructuredBuffer(dev, coord, GPUTransformSize,
		staging.WithTransientLabel("sceneprep-transforms"))
	if err != nil {
		return nil, fmt.Errorf("sceneprep: transform table allocation failed: %w", err)
	}
	objects, err := staging.NewTransientStructuredBuffer(dev, coord, GPUObjectDataSize,
		staging.WithTransientLabel("sceneprep-objects"))
	if err != nil {
		transforms.Release()
		return nil, fmt.Errorf("sceneprep: object table allocation failed: %w", err)
	}
	p.transforms = transforms
	p.objects = objects

	// Queue size of 256 accommodates the marshal chunk counts of large
	// scenes with headroom; workers idle-exit between frames bursts.
	p.pool = worker.NewDynamicWorkerPool(p.workers, 256, 1*time.Second)
	return p, nil
}

func (p *pipeline) PrepareFrame(ctx context.Context, src Source) (FrameData, error) {
	if err := ctx.Err(); err != nil {
		return FrameData{}, fmt.Errorf("sceneprep: frame prep canceled: %w", err)
	}

	p.state.ResetFrameData()
	if src != nil {
		for _, r := range src.Renderables() {
			if r == nil {
				continue
			}
			p.state.appendItem(CollectedItem{
				Renderable:     r,
				TransformIndex: uint32(len(p.state.Items())),
				MaterialIndex:  r.Material(),
			})
		}
	}

	items := p.state.Items()
	transformWindow := p.transforms.Allocate(len(items))
	objectWindow := p.objects.Allocate(len(items))
	if len(items) > 0 {
		p.marshalTables(items, transformWindow, objectWindow)
		p.transforms.Flush()
		p.objects.Flush()
	}

	return FrameData{
		Transforms: p.transforms.Binding(),
		Objects:    p.objects.Binding(),
		Count:      len(items),
	}, nil
}

// marshalTables writes the transform and object rows for items into the
// mapped windows, fanning out across the pool for large scenes. Chunks touch
// disjoint row ranges, so workers never contend.
func (p *pipeline) marshalTables(items []CollectedItem, transformWindow, objectWindow []byte) {
	n := len(items)
	if n < p.parallelThreshold {
		marshalTableRange(items, transformWindow, objectWindow, 0, n)
		return
	}

	chunk := max((n+p.workers-1)/p.workers, minMarshalChunk)
	var wg sync.WaitGroup
	taskID := 0
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		s, e := start, end
		p.pool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				marshalTableRange(items, transformWindow, objectWindow, s, e)
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()
}

func marshalTableRange(items []CollectedItem, transformWindow, objectWindow []byte, start, end int) {
	for i := start; i < end; i++ {
		t := GPUTransform{World: items[i].Renderable.WorldMatrix()}
		t.Marshal(transformWindow[i*GPUTransformSize:])

		o := GPUObjectData{MaterialIndex: items[i].MaterialIndex}
		o.Marshal(objectWindow[i*GPUObjectDataSize:])
	}
}

func (p *pipeline) PrepareView(ctx context.Context, id view.ID, rv *view.ResolvedView) (PreparedView, error) {
	if err := ctx.Err(); err != nil {
		return PreparedView{}, fmt.Errorf("sceneprep: view %d prep canceled: %w", id, err)
	}

	vs := p.ensureView(id)
	p.state.ResetViewData()
	for _, item := range p.state.Items() {
		if rv != nil && !rv.Frustum.ContainsSphere(item.Renderable.Bounds()) {
			continue
		}
		mesh := item.Renderable.Mesh()
		p.state.appendDraw(DrawRecord{
			TransformIndex: item.TransformIndex,
			MaterialIndex:  item.MaterialIndex,
			Mesh:           mesh,
			SortKey:        makeSortKey(item.MaterialIndex, mesh, item.TransformIndex),
		})
	}

	draws := p.state.Draws()
	sort.Slice(draws, func(i, j int) bool { return draws[i].SortKey < draws[j].SortKey })

	window := vs.draws.Allocate(len(draws))
	if len(draws) > 0 {
		for i := range draws {
			rec := GPUDrawRecord{
				TransformIndex: draws[i].TransformIndex,
				MaterialIndex:  draws[i].MaterialIndex,
				MeshID:         uint32(draws[i].Mesh),
			}
			rec.Marshal(window[i*GPUDrawRecordSize:])
		}
		vs.draws.Flush()
	}

	return PreparedView{
		Draws: vs.draws.Binding(),
		Count: len(draws),
	}, nil
}

// ensureView lazily creates the per-view upload state on first render.
func (p *pipeline) ensureView(id view.ID) *viewState {
	if vs, ok := p.views[id]; ok {
		return vs
	}
	draws, err := staging.NewTransientStructuredBuffer(p.dev, p.coord, GPUDrawRecordSize,
		staging.WithTransientLabel(fmt.Sprintf("sceneprep-view-%d-draws", id)))
	if err != nil {
		panic(fmt.Sprintf("sceneprep: draw list allocation for view %d failed: %v", id, err))
	}
	vs := &viewState{draws: draws}
	p.views[id] = vs
	return vs
}

func (p *pipeline) UnregisterView(id view.ID) {
	vs, ok := p.views[id]
	if !ok {
		return
	}
	vs.draws.Release()
	delete(p.views, id)
}

func (p *pipeline) Release() {
	for id, vs := range p.views {
		vs.draws.Release()
		delete(p.views, id)
	}
	if p.objects != nil {
		p.objects.Release()
		p.objects = nil
	}
	if p.transforms != nil {
		p.transforms.Release()
		p.transforms = nil
	}
}
