package device

import "fmt"

type coreTask struct {
	group int
	fn    func(group int)
	res   chan<- error
}

// corePool is a fixed set of worker goroutines, one per device core. Work
// groups are fed through a task channel; each worker recovers panics so a
// faulting kernel surfaces as an error instead of tearing down the process.
type corePool struct {
	size  int
	tasks chan coreTask
}

func newCorePool(size int) *corePool {
	if size < 1 {
		size = 1
	}
	p := &corePool{
		size:  size,
		tasks: make(chan coreTask, size*2),
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				task.res <- runGroup(task)
			}
		}()
	}
	return p
}

func runGroup(task coreTask) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = executionError(rec)
		}
	}()
	task.fn(task.group)
	return nil
}

func (p *corePool) run(groups int, fn func(group int)) error {
	res := make(chan error, groups)
	for g := 0; g < groups; g++ {
		p.tasks <- coreTask{group: g, fn: fn, res: res}
	}
	var first error
	for i := 0; i < groups; i++ {
		if err := <-res; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func executionError(rec any) error {
	if recErr, ok := rec.(error); ok {
		return fmt.Errorf("kernel execution failed: %w", recErr)
	}
	return fmt.Errorf("kernel execution failed: %v", rec)
}
