package cron

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// maxSleep bounds the loop's idle time so jobs added at runtime are
// picked up promptly.
const maxSleep = 10 * time.Second

// Service schedules proactive wakes from a JSON-backed job store.
type Service struct {
	StorePath string
	OnJob     func(Job)

	mu       sync.RWMutex
	store    *jobStore
	running  bool
	stopChan chan struct{}
}

// NewService creates a cron service. OnJob receives each due job.
func NewService(storePath string, onJob func(Job)) *Service {
	return &Service{
		StorePath: storePath,
		OnJob:     onJob,
		stopChan:  make(chan struct{}),
	}
}

// Start loads the store and launches the scheduling loop.
func (s *Service) Start() {
	s.load()
	s.mu.Lock()
	now := nowMs()
	for i := range s.store.Jobs {
		if s.store.Jobs[i].Enabled {
			s.store.Jobs[i].State.NextRunAtMs = nextRun(s.store.Jobs[i].Schedule, now)
		}
	}
	s.saveLocked()
	s.running = true
	count := len(s.store.Jobs)
	s.mu.Unlock()

	go s.loop()
	log.Printf("定时服务已启动，共%d个任务", count)
}

// Stop halts the scheduling loop.
func (s *Service) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	close(s.stopChan)
}

// ListJobs returns all jobs, due-soonest first.
func (s *Service) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil
	}
	jobs := make([]Job, len(s.store.Jobs))
	copy(jobs, s.store.Jobs)
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i].State.NextRunAtMs, jobs[j].State.NextRunAtMs
		if a == 0 {
			return false
		}
		if b == 0 {
			return true
		}
		return a < b
	})
	return jobs
}

// AddJob registers a new wake and persists the store.
func (s *Service) AddJob(name string, schedule Schedule, wake Wake, deleteAfterRun bool) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		s.store = &jobStore{Version: 1}
	}

	now := nowMs()
	job := Job{
		ID:       uuid.New().String()[:8],
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Wake:     wake,
		State: JobState{
			NextRunAtMs: nextRun(schedule, now),
		},
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		DeleteAfterRun: deleteAfterRun,
	}
	s.store.Jobs = append(s.store.Jobs, job)
	s.saveLocked()
	return job
}

// RemoveJob deletes a job by id.
func (s *Service) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return false
	}
	kept := s.store.Jobs[:0]
	found := false
	for _, job := range s.store.Jobs {
		if job.ID == jobID {
			found = true
			continue
		}
		kept = append(kept, job)
	}
	if found {
		s.store.Jobs = kept
		s.saveLocked()
	}
	return found
}

func (s *Service) loop() {
	for {
		s.mu.RLock()
		running := s.running
		s.mu.RUnlock()
		if !running {
			return
		}

		delay := maxSleep
		if next := s.nextWakeMs(); next > 0 {
			now := nowMs()
			if next <= now {
				delay = 0
			} else if d := time.Duration(next-now) * time.Millisecond; d < delay {
				delay = d
			}
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(delay):
			s.runDue()
		}
	}
}

func (s *Service) nextWakeMs() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var min int64
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMs > 0 {
			if min == 0 || job.State.NextRunAtMs < min {
				min = job.State.NextRunAtMs
			}
		}
	}
	return min
}

func (s *Service) runDue() {
	s.mu.RLock()
	now := nowMs()
	var due []Job
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMs > 0 && now >= job.State.NextRunAtMs {
			due = append(due, job)
		}
	}
	s.mu.RUnlock()

	for _, job := range due {
		s.fire(&job)

		s.mu.Lock()
		idx := -1
		for i, j := range s.store.Jobs {
			if j.ID == job.ID {
				idx = i
				break
			}
		}
		if idx >= 0 {
			s.store.Jobs[idx] = job
			if job.Schedule.Kind == "at" {
				if job.DeleteAfterRun {
					s.store.Jobs = append(s.store.Jobs[:idx], s.store.Jobs[idx+1:]...)
				} else {
					s.store.Jobs[idx].Enabled = false
					s.store.Jobs[idx].State.NextRunAtMs = 0
				}
			} else {
				s.store.Jobs[idx].State.NextRunAtMs = nextRun(job.Schedule, nowMs())
			}
		}
		s.mu.Unlock()
	}

	if len(due) > 0 {
		s.mu.Lock()
		s.saveLocked()
		s.mu.Unlock()
	}
}

func (s *Service) fire(job *Job) {
	log.Printf("定时任务触发: %s (%s)", job.Name, job.ID)
	startMs := nowMs()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("定时任务执行panic: %v", r)
			job.State.LastStatus = "error"
			job.State.LastError = fmt.Sprintf("panic: %v", r)
		}
	}()

	if s.OnJob != nil {
		s.OnJob(*job)
	}
	job.State.LastStatus = "ok"
	job.State.LastError = ""
	job.State.LastRunAtMs = startMs
	job.UpdatedAtMs = nowMs()
}

func (s *Service) load() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return
	}
	s.store = &jobStore{Version: 1}

	data, err := os.ReadFile(s.StorePath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("读取定时任务存储失败: %v", err)
		}
		return
	}
	if err := json.Unmarshal(data, s.store); err != nil {
		log.Printf("解析定时任务存储失败: %v", err)
	}
}

func (s *Service) saveLocked() {
	if s.store == nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.StorePath), 0755); err != nil {
		log.Printf("创建定时任务目录失败: %v", err)
		return
	}
	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		log.Printf("序列化定时任务存储失败: %v", err)
		return
	}
	if err := os.WriteFile(s.StorePath, data, 0644); err != nil {
		log.Printf("保存定时任务存储失败: %v", err)
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func nextRun(schedule Schedule, now int64) int64 {
	switch schedule.Kind {
	case "at":
		return schedule.AtMs
	case "every":
		if schedule.EveryMs <= 0 {
			return 0
		}
		return now + schedule.EveryMs
	case "cron":
		if schedule.Expr == "" {
			return 0
		}
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(schedule.Expr)
		if err != nil {
			log.Printf("解析cron表达式'%s'失败: %v", schedule.Expr, err)
			return 0
		}
		return sched.Next(time.UnixMilli(now)).UnixMilli()
	}
	return 0
}
