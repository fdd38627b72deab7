package scene

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"

	"github.com/abdes/oxygen/engine/game_object"
	"github.com/abdes/oxygen/engine/renderer/sceneprep"
)

// parallelUpdateThreshold is the object count below which Update runs on the
// calling goroutine; the pool dispatch overhead is not worth it for small scenes.
const parallelUpdateThreshold = 512

type scene struct {
	mu *sync.Mutex

	active  bool
	nextID  uint64
	order   []uint64
	objects map[uint64]game_object.GameObject

	computeWorkers int
	computePool    worker.DynamicWorkerPool

	// scratch slice reused across frames to avoid per-frame allocations
	renderables []sceneprep.Renderable
}

// Scene is a registry of GameObjects that feeds the renderer. It implements
// sceneprep.Source, so a scene can be passed directly to RenderFrame as the
// frame's content. Object updates run on a reusable worker pool for large
// scenes.
type Scene interface {
	sceneprep.Source

	// Active returns whether the scene participates in updates.
	//
	// Returns:
	//   - bool: true if the scene is active
	Active() bool

	// SetActive sets whether the scene participates in updates.
	//
	// Parameters:
	//   - active: true to activate the scene
	SetActive(active bool)

	// Add registers an object with the scene and assigns it a unique ID.
	// Objects are returned by Renderables in insertion order.
	//
	// Parameters:
	//   - obj: the object to add
	//
	// Returns:
	//   - uint64: the assigned object ID
	Add(obj game_object.GameObject) uint64

	// Remove unregisters the object with the given ID. Unknown IDs are a no-op.
	//
	// Parameters:
	//   - id: the object ID to remove
	Remove(id uint64)

	// Object returns the object with the given ID, or nil if not present.
	//
	// Parameters:
	//   - id: the object ID to look up
	//
	// Returns:
	//   - game_object.GameObject: the object or nil
	Object(id uint64) game_object.GameObject

	// ObjectCount returns the number of registered objects.
	//
	// Returns:
	//   - int: the object count
	ObjectCount() int

	// Update advances all enabled objects by the given time step. Large
	// scenes are chunked across the compute pool; small scenes update on the
	// calling goroutine. Does nothing when the scene is inactive.
	//
	// Parameters:
	//   - deltaTime: elapsed time in seconds
	Update(deltaTime float32)
}

var _ Scene = &scene{}

// NewScene creates a new Scene configured with the given options.
// Scenes default to active with NumCPU-1 compute workers.
//
// Parameters:
//   - options: functional options to configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:             &sync.Mutex{},
		active:         true,
		objects:        make(map[uint64]game_object.GameObject),
		computeWorkers: max(runtime.NumCPU()-1, 1),
	}
	for _, option := range options {
		option(s)
	}
	s.computePool = worker.NewDynamicWorkerPool(s.computeWorkers, 256, 1*time.Second)
	return s
}

func (s *scene) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) Add(obj game_object.GameObject) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	obj.SetID(id)
	s.order = append(s.order, id)
	s.objects[id] = obj
	return id
}

func (s *scene) Remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return
	}
	delete(s.objects, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *scene) Object(id uint64) game_object.GameObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[id]
}

func (s *scene) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Renderables returns the enabled objects in insertion order. The returned
// slice is reused across calls; callers must not retain it past the frame.
//
// Returns:
//   - []sceneprep.Renderable: the enabled objects
func (s *scene) Renderables() []sceneprep.Renderable {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renderables = s.renderables[:0]
	for _, id := range s.order {
		obj := s.objects[id]
		if obj == nil || !obj.Enabled() {
			continue
		}
		s.renderables = append(s.renderables, obj)
	}
	return s.renderables
}

func (s *scene) Update(deltaTime float32) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	objs := make([]game_object.GameObject, 0, len(s.order))
	for _, id := range s.order {
		if obj := s.objects[id]; obj != nil && obj.Enabled() {
			objs = append(objs, obj)
		}
	}
	pool := s.computePool
	workers := s.computeWorkers
	s.mu.Unlock()

	if len(objs) < parallelUpdateThreshold {
		for _, obj := range objs {
			obj.Advance(deltaTime)
		}
		return
	}

	// Chunked dispatch to the compute pool. Workers are reused across frames
	// (no goroutine spawn overhead). A WaitGroup provides per-frame barrier
	// sync since pool.Wait() blocks until workers idle-exit which is
	// unsuitable for frame-rate workloads.
	chunk := (len(objs) + workers - 1) / workers
	var wg sync.WaitGroup
	taskID := 0
	for start := 0; start < len(objs); start += chunk {
		end := min(start+chunk, len(objs))
		batch := objs[start:end]
		wg.Add(1)
		pool.SubmitTask(worker.Task{
			ID: taskID,
			Do: func() (any, error) {
				defer wg.Done()
				for _, obj := range batch {
					obj.Advance(deltaTime)
				}
				return nil, nil
			},
		})
		taskID++
	}
	wg.Wait()
}
