// Package worker runs the per-(window, variant) tree builds concurrently.
package worker

import (
	"context"
	"sync"

	"github.com/gyeh/rx-pathways/internal/model"
	"github.com/gyeh/rx-pathways/internal/progress"
)

// Job names one tree build: a filter window paired with a variant.
type Job struct {
	Window  model.FilterWindow
	Variant model.Variant
}

// Name identifies the job in progress output and logs.
func (j Job) Name() string {
	return j.Window.Name + "/" + string(j.Variant)
}

// Jobs enumerates every (window, variant) pair for one offline run.
func Jobs(windows []model.FilterWindow, variants []model.Variant) []Job {
	jobs := make([]Job, 0, len(windows)*len(variants))
	for _, w := range windows {
		for _, v := range variants {
			jobs = append(jobs, Job{Window: w, Variant: v})
		}
	}
	return jobs
}

// JobResult is the outcome of one build.
type JobResult struct {
	Job      Job
	Nodes    int
	Patients int
	Err      error
}

// BuildFunc runs one tree build end to end: build, persist, report.
type BuildFunc func(ctx context.Context, job Job, tracker progress.Tracker) (nodes, patients int, err error)

// Pool manages concurrent tree builds.
type Pool struct {
	Workers  int
	Progress progress.Manager
}

// Run executes all jobs concurrently and returns all results, indexed to
// match the input order.
func (p *Pool) Run(ctx context.Context, jobs []Job, build BuildFunc) []JobResult {
	results := make([]JobResult, len(jobs))

	sem := make(chan struct{}, p.Workers)
	var wg sync.WaitGroup

	for i, job := range jobs {
		wg.Add(1)
		go func(idx int, j Job) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = JobResult{Job: j, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			tracker := p.Progress.NewTracker(idx, len(jobs), j.Name())
			nodes, patients, err := build(ctx, j, tracker)
			results[idx] = JobResult{Job: j, Nodes: nodes, Patients: patients, Err: err}
			tracker.Done()
		}(i, job)
	}

	wg.Wait()
	return results
}
