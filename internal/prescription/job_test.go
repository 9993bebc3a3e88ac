package prescription

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Job", func() {
	var (
		job       *Job
		cancelled bool
	)

	BeforeEach(func() {
		cancelled = false
		job = newJob("job-1", "rx.png", func() { cancelled = true })
	})

	drain := func(ch <-chan int) []int {
		var values []int
		for v := range ch {
			values = append(values, v)
		}
		return values
	}

	Describe("report", func() {
		It("should only publish increasing values", func() {
			updates := job.Subscribe()
			job.report(10)
			job.report(5)
			job.report(10)
			job.report(40)
			job.report(250)
			job.finish(&Result{ID: "job-1"}, nil)

			Expect(drain(updates)).To(Equal([]int{10, 40, 100}))
		})

		It("should ignore reports after the job ends", func() {
			job.report(40)
			job.finish(nil, errors.New("boom"))
			job.report(80)

			Expect(job.Status().Progress).To(Equal(40))
		})
	})

	Describe("Subscribe", func() {
		It("should replay the current progress", func() {
			job.report(25)
			updates := job.Subscribe()
			job.report(40)
			job.finish(&Result{}, nil)

			Expect(drain(updates)).To(Equal([]int{25, 40}))
		})

		It("should return a closed channel for a finished job", func() {
			job.report(100)
			job.finish(&Result{}, nil)

			Expect(drain(job.Subscribe())).To(Equal([]int{100}))
		})
	})

	Describe("finish", func() {
		It("should record success", func() {
			job.setStage(StageEnriching)
			job.finish(&Result{ID: "job-1"}, nil)

			status := job.Status()
			Expect(status.State).To(Equal(JobSucceeded))
			Expect(status.Stage).To(Equal(StageCompleted))
			Expect(status.Result.ID).To(Equal("job-1"))
			Expect(job.Done()).To(BeClosed())
		})

		It("should record failure", func() {
			jobErr := &JobError{Stage: StagePreprocessing, Retryable: true, Err: errors.New("bad bytes")}
			job.finish(nil, jobErr)

			status := job.Status()
			Expect(status.State).To(Equal(JobFailed))
			Expect(status.Error).To(Equal("preprocessing failed: bad bytes"))
			Expect(job.Err()).To(Equal(jobErr))
		})

		It("should keep the first outcome", func() {
			job.finish(&Result{ID: "first"}, nil)
			job.finish(nil, errors.New("late"))

			result, err := job.Wait(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(result.ID).To(Equal("first"))
		})

		It("should release the job context", func() {
			job.finish(&Result{}, nil)
			Expect(cancelled).To(BeTrue())
		})

		It("should not move a finished job to another stage", func() {
			job.finish(&Result{}, nil)
			job.setStage(StageStructuring)
			Expect(job.Status().Stage).To(Equal(StageCompleted))
		})
	})
})
