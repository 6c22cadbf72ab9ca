package jobs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voxlate/voxlate/internal/audio"
	"github.com/voxlate/voxlate/internal/observability"
	"github.com/voxlate/voxlate/internal/reliability"
	"github.com/voxlate/voxlate/internal/speech"
)

const (
	progressQueued      = 10
	progressStarted     = 20
	progressTranscribed = 50
	progressTranslated  = 70
	progressSynthesized = 90
	progressDone        = 100

	progressKeyTTL = time.Hour
	retryCap       = 30 * time.Second
)

// Options configures the job service.
type Options struct {
	Workers           int
	QueueSize         int
	MaxUploadBytes    int64
	MaxUploadDuration time.Duration
	RetryMax          int
	RetryBase         time.Duration
	Metrics           *observability.Metrics
	// Redis mirrors job progress for external pollers. Optional.
	Redis *redis.Client
}

// Service processes uploaded recordings asynchronously: validate, queue,
// then transcribe, translate and synthesize on a fixed worker pool. Job
// state lives in memory; progress is mirrored to redis when configured so
// other processes can poll it.
type Service struct {
	provider speech.Provider
	opts     Options

	mu    sync.RWMutex
	jobs  map[string]*Job
	queue chan string
	wg    sync.WaitGroup
}

func NewService(provider speech.Provider, opts Options) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}
	if opts.MaxUploadDuration <= 0 {
		opts.MaxUploadDuration = 10 * time.Minute
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 2 * time.Second
	}
	return &Service{
		provider: provider,
		opts:     opts,
		jobs:     make(map[string]*Job),
		queue:    make(chan string, opts.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; Wait
// blocks until they have drained.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-s.queue:
					s.process(ctx, id)
				}
			}
		}()
	}
}

func (s *Service) Wait() {
	s.wg.Wait()
}

// Submit validates an upload and queues a job for it. Invalid uploads are
// rejected with a ValidationError and never become jobs.
func (s *Service) Submit(ctx context.Context, audioData []byte, sourceLanguage, targetLanguage string) (*Job, error) {
	if int64(len(audioData)) > s.opts.MaxUploadBytes {
		return nil, validationf("upload is %d bytes, limit is %d", len(audioData), s.opts.MaxUploadBytes)
	}
	info, err := audio.ProbeWAV(audioData)
	if err != nil {
		return nil, validationf("upload is not a valid WAV file: %v", err)
	}
	if d := info.Duration(); d > s.opts.MaxUploadDuration {
		return nil, validationf("recording is %s long, limit is %s", d.Round(time.Second), s.opts.MaxUploadDuration)
	}
	if strings.TrimSpace(targetLanguage) == "" {
		return nil, validationf("target_language is required")
	}
	if strings.TrimSpace(sourceLanguage) == "" {
		sourceLanguage = speech.LanguageAuto
	}

	now := time.Now().UTC()
	job := &Job{
		ID:             ulid.Make().String(),
		Status:         StatusPending,
		Progress:       progressQueued,
		SourceLanguage: sourceLanguage,
		TargetLanguage: targetLanguage,
		CreatedAt:      now,
		UpdatedAt:      now,
		audio:          audioData,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	select {
	case s.queue <- job.ID:
	default:
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return nil, ErrQueueFull
	}

	s.countEvent("submitted")
	s.mirrorProgress(ctx, job.ID, StatusPending, progressQueued, "")
	return job.clone(), nil
}

// Get returns a snapshot of the job without its audio payloads.
func (s *Service) Get(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.clone(), nil
}

// Result returns the synthesized audio for a completed job. Pending and
// processing jobs yield ErrNotReady; failed jobs yield the failure detail.
func (s *Service) Result(id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch job.Status {
	case StatusCompleted:
		return job.result, nil
	case StatusFailed:
		return nil, fmt.Errorf("job failed: %s", job.Error)
	default:
		return nil, ErrNotReady
	}
}

func (s *Service) process(ctx context.Context, id string) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	var audioData []byte
	var source, target string
	if ok {
		audioData = job.audio
		source = job.SourceLanguage
		target = job.TargetLanguage
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	s.advance(ctx, id, StatusProcessing, progressStarted, func(*Job) {})
	s.countEvent("started")

	if source == speech.LanguageAuto {
		detected, err := s.callString(ctx, func() (string, error) {
			return s.provider.DetectLanguage(ctx, audioData)
		})
		if err != nil {
			s.fail(ctx, id, fmt.Errorf("language detection failed: %w", err))
			return
		}
		source = detected
	}

	transcription, err := s.callString(ctx, func() (string, error) {
		return s.provider.Transcribe(ctx, audioData, source)
	})
	if err != nil {
		s.fail(ctx, id, fmt.Errorf("transcription failed: %w", err))
		return
	}
	s.advance(ctx, id, StatusProcessing, progressTranscribed, func(j *Job) {
		j.SourceLanguage = source
		j.Transcription = transcription
	})

	translation, err := s.callString(ctx, func() (string, error) {
		return s.provider.Translate(ctx, transcription, source, target)
	})
	if err != nil {
		s.fail(ctx, id, fmt.Errorf("translation failed: %w", err))
		return
	}
	s.advance(ctx, id, StatusProcessing, progressTranslated, func(j *Job) {
		j.Translation = translation
	})

	var synthesized []byte
	err = reliability.Retry(ctx, s.opts.RetryMax, s.opts.RetryBase, retryCap, func() error {
		var synthErr error
		synthesized, synthErr = s.provider.Synthesize(ctx, translation, target)
		return synthErr
	})
	if err != nil {
		s.fail(ctx, id, fmt.Errorf("synthesis failed: %w", err))
		return
	}
	s.advance(ctx, id, StatusProcessing, progressSynthesized, func(*Job) {})

	s.advance(ctx, id, StatusCompleted, progressDone, func(j *Job) {
		j.result = synthesized
		j.audio = nil
	})
	s.countEvent("completed")
	log.Printf("jobs: %s completed (%s -> %s)", id, source, target)
}

func (s *Service) callString(ctx context.Context, fn func() (string, error)) (string, error) {
	var out string
	err := reliability.Retry(ctx, s.opts.RetryMax, s.opts.RetryBase, retryCap, func() error {
		var callErr error
		out, callErr = fn()
		return callErr
	})
	return out, err
}

func (s *Service) advance(ctx context.Context, id string, status Status, progress int, mutate func(*Job)) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		job.Status = status
		job.Progress = progress
		job.UpdatedAt = time.Now().UTC()
		mutate(job)
	}
	s.mu.Unlock()
	if ok {
		s.mirrorProgress(ctx, id, status, progress, "")
	}
}

func (s *Service) fail(ctx context.Context, id string, cause error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if ok {
		job.Status = StatusFailed
		job.Progress = 0
		job.Error = cause.Error()
		job.UpdatedAt = time.Now().UTC()
		job.audio = nil
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	s.countEvent("failed")
	s.mirrorProgress(ctx, id, StatusFailed, 0, cause.Error())
	log.Printf("jobs: %s failed: %v", id, cause)
}

func progressKey(id string) string {
	return fmt.Sprintf("task_progress:%s", id)
}

// mirrorProgress writes job progress to redis so pollers outside this
// process can track it. Best effort: redis being down never fails a job.
func (s *Service) mirrorProgress(ctx context.Context, id string, status Status, progress int, detail string) {
	if s.opts.Redis == nil {
		return
	}
	key := progressKey(id)
	fields := map[string]any{
		"status":   string(status),
		"progress": progress,
	}
	if detail != "" {
		fields["error"] = detail
	}
	pipe := s.opts.Redis.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, progressKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("jobs: mirror progress for %s: %v", id, err)
	}
}

func (s *Service) countEvent(event string) {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.JobEvents.WithLabelValues(event).Inc()
}
