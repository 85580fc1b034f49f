package fn

import "sync"

// ParMap applies f to every item with at most workers goroutines. Output
// order matches input order.
func ParMap[T, U any](items []T, workers int, f func(T) U) []U {
	out := make([]U, len(items))
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			out[i] = f(item)
		}(i, item)
	}
	wg.Wait()
	return out
}
