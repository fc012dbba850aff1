package calltree

import (
	"runtime"
	"sync"

	"github.com/alextreichler/threadViewer/internal/intern"
	"github.com/alextreichler/threadViewer/internal/models"
)

type Option func(*Builder)

// SkipPseudoFrames steps over lock, monitor, park and eliminated lines instead
// of ending the walk there, and keeps native frames as nodes.
func SkipPseudoFrames() Option {
	return func(b *Builder) { b.skipPseudo = true }
}

// Builder folds thread stacks into a Forest. It is not safe for concurrent
// use; BuildParallel gives each worker its own Builder.
type Builder struct {
	in         *intern.Interner
	forest     *Forest
	skipPseudo bool
}

func NewBuilder(in *intern.Interner, opts ...Option) *Builder {
	b := &Builder{in: in, forest: NewForest()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) Forest() *Forest { return b.forest }

func (b *Builder) accepts(f models.CallFrame) bool {
	if b.skipPseudo {
		return f.IsCall()
	}
	return f.Frame.Kind == models.FrameMethodCall
}

// next returns the index of the next frame to visit at or below i.
func (b *Builder) next(frames []models.CallFrame, i int) int {
	if b.skipPseudo {
		for i >= 0 && !frames[i].IsCall() {
			i--
		}
	}
	return i
}

// Add walks one thread from its outermost frame inward. Every node on the
// path gains one sample; the walk stops at the first frame that is not a call.
func (b *Builder) Add(t *models.Thread) {
	frames := t.Frames
	i := b.next(frames, len(frames)-1)
	if i < 0 || !b.accepts(frames[i]) {
		return
	}

	node := b.forest.rootFor(b.in.Intern(frames[i].MethodName))
	for {
		node.Samples++
		i = b.next(frames, i-1)
		if i < 0 || !b.accepts(frames[i]) {
			return
		}
		name := b.in.Intern(frames[i].MethodName)
		child := node.child(name)
		if child == nil {
			child = &Node{Name: name}
			node.Children = append(node.Children, child)
		}
		node = child
	}
}

func (b *Builder) Build(threads []*models.Thread) *Forest {
	for _, t := range threads {
		b.Add(t)
	}
	return b.forest
}

// Build is a one-shot helper around Builder.
func Build(threads []*models.Thread, in *intern.Interner, opts ...Option) *Forest {
	return NewBuilder(in, opts...).Build(threads)
}

// BuildParallel splits threads into contiguous chunks, builds one partial
// forest per chunk and merges them. The result has the same sample counts as
// a sequential Build; root and child order may differ.
func BuildParallel(threads []*models.Thread, workers int, in *intern.Interner, opts ...Option) *Forest {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(threads) {
		workers = len(threads)
	}
	if workers <= 1 {
		return Build(threads, in, opts...)
	}

	partials := make([]*Forest, workers)
	chunk := len(threads) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if w == workers-1 {
			end = len(threads)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			partials[w] = Build(threads[start:end], in, opts...)
		}()
	}
	wg.Wait()

	out := partials[0]
	for _, p := range partials[1:] {
		out.Merge(p)
	}
	return out
}
