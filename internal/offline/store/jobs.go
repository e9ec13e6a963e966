package store

import (
	"github.com/jobtrack/jobtrack/internal/offline/schema"
)

// JobInput holds the caller-supplied fields of a new job.
type JobInput struct {
	Title      string
	Client     string
	HourlyRate float64
	Color      string
	Settings   schema.JobSettings
}

// JobPatch lists the job fields to change. Nil fields are left alone.
type JobPatch struct {
	Title      *string
	Client     *string
	HourlyRate *float64
	Color      *string
	Settings   *schema.JobSettings
}

// CreateJob inserts a job and returns its id.
func (s *Store) CreateJob(in JobInput) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, changes := s.applyCreateJob(in)
	s.commit(changes)
	return id
}

func (s *Store) applyCreateJob(in JobInput) (string, []change) {
	job := &schema.Job{
		ID:         s.newID(),
		Title:      in.Title,
		Client:     in.Client,
		HourlyRate: in.HourlyRate,
		Color:      in.Color,
		Settings:   in.Settings,
		CreatedAt:  s.now(),
	}
	job.Settings.Tags = append([]string(nil), in.Settings.Tags...)
	s.jobs[job.ID] = job
	return job.ID, []change{{schema.EntityJob, job.ID, schema.OpCreate, job.Clone()}}
}

// UpdateJob merges patch into the job. It returns false if the id is unknown.
func (s *Store) UpdateJob(id string, patch JobPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.applyUpdateJob(id, patch)
	s.commit(changes)
	return len(changes) > 0
}

func (s *Store) applyUpdateJob(id string, patch JobPatch) []change {
	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	if patch.Title != nil {
		job.Title = *patch.Title
	}
	if patch.Client != nil {
		job.Client = *patch.Client
	}
	if patch.HourlyRate != nil {
		job.HourlyRate = *patch.HourlyRate
	}
	if patch.Color != nil {
		job.Color = *patch.Color
	}
	if patch.Settings != nil {
		job.Settings = *patch.Settings
		job.Settings.Tags = append([]string(nil), patch.Settings.Tags...)
	}
	return []change{{schema.EntityJob, id, schema.OpUpdate, job.Clone()}}
}

// DeleteJob removes the job together with its time entries and pay periods.
// The job's delete is recorded first, followed by one delete per cascaded
// entity. It returns false if the id is unknown.
func (s *Store) DeleteJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.applyDeleteJob(id)
	s.commit(changes)
	return len(changes) > 0
}

func (s *Store) applyDeleteJob(id string) []change {
	if _, ok := s.jobs[id]; !ok {
		return nil
	}
	delete(s.jobs, id)
	changes := []change{{schema.EntityJob, id, schema.OpDelete, nil}}

	for _, e := range s.entriesLocked() {
		if e.JobID != id {
			continue
		}
		delete(s.entries, e.ID)
		if s.activeID == e.ID {
			s.activeID = ""
		}
		changes = append(changes, change{schema.EntityTimeEntry, e.ID, schema.OpDelete, nil})
	}
	for _, p := range s.periodsLocked() {
		if p.JobID != id {
			continue
		}
		delete(s.periods, p.ID)
		changes = append(changes, change{schema.EntityPayPeriod, p.ID, schema.OpDelete, nil})
	}
	return changes
}

// Job returns a copy of the job with the given id.
func (s *Store) Job(id string) (schema.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return schema.Job{}, false
	}
	return job.Clone(), true
}

// Jobs returns all jobs ordered by creation time.
func (s *Store) Jobs() []schema.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobsLocked()
}
