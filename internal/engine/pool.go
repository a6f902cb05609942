package engine

import "sync"

// vectorPool recycles the fixed-length buffers that carry targets and
// snapshots between the master and the workers.
type vectorPool struct {
	pool sync.Pool
	size int
}

func newVectorPool(size int) *vectorPool {
	return &vectorPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				return make([]float64, size)
			},
		},
	}
}

func (p *vectorPool) get() []float64 {
	return p.pool.Get().([]float64)
}

func (p *vectorPool) put(v []float64) {
	if len(v) == p.size {
		p.pool.Put(v)
	}
}
