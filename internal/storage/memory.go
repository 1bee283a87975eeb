package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/campuskit/lms-sync-server/internal/lifecycle"
	"github.com/campuskit/lms-sync-server/internal/snapshot"
)

type objectKey struct {
	typ lifecycle.ObjectType
	id  string
}

type memoryData struct {
	courses     map[string]snapshot.Course
	students    map[string]snapshot.Student
	assignments map[string]snapshot.Assignment
	enrollments map[lifecycle.EnrollmentKey]snapshot.Enrollment

	objects         map[objectKey]lifecycle.ObjectRecord
	enrollmentRecs  map[lifecycle.EnrollmentKey]lifecycle.EnrollmentRecord
}

func newMemoryData() *memoryData {
	return &memoryData{
		courses:        make(map[string]snapshot.Course),
		students:       make(map[string]snapshot.Student),
		assignments:    make(map[string]snapshot.Assignment),
		enrollments:    make(map[lifecycle.EnrollmentKey]snapshot.Enrollment),
		objects:        make(map[objectKey]lifecycle.ObjectRecord),
		enrollmentRecs: make(map[lifecycle.EnrollmentKey]lifecycle.EnrollmentRecord),
	}
}

func (d *memoryData) clone() *memoryData {
	out := newMemoryData()
	for k, v := range d.courses {
		out.courses[k] = v
	}
	for k, v := range d.students {
		out.students[k] = v
	}
	for k, v := range d.assignments {
		out.assignments[k] = v
	}
	for k, v := range d.enrollments {
		out.enrollments[k] = v
	}
	for k, v := range d.objects {
		out.objects[k] = v
	}
	for k, v := range d.enrollmentRecs {
		out.enrollmentRecs[k] = v
	}
	return out
}

// MemoryStore is an in-memory Store used in tests and in deployments
// without a database. A pass holds the store lock for its whole duration,
// so passes and readers serialize the way a database transaction would.
type MemoryStore struct {
	lock chan struct{}
	data *memoryData
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		lock: make(chan struct{}, 1),
		data: newMemoryData(),
	}
	return s
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) release() {
	<-s.lock
}

// Begin stages all writes on a copy of the store; Commit swaps the copy
// in, Rollback discards it.
func (s *MemoryStore) Begin(ctx context.Context) (Pass, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin pass: %w", err)
	}
	return &memoryPass{store: s, staged: s.data.clone()}, nil
}

type memoryPass struct {
	store  *MemoryStore
	staged *memoryData
	done   bool
}

func (p *memoryPass) finish() error {
	if p.done {
		return fmt.Errorf("pass already finished")
	}
	p.done = true
	p.store.release()
	return nil
}

func (p *memoryPass) Commit(_ context.Context) error {
	if p.done {
		return fmt.Errorf("pass already finished")
	}
	p.store.data = p.staged
	return p.finish()
}

func (p *memoryPass) Rollback(_ context.Context) error {
	return p.finish()
}

func (p *memoryPass) UpsertCourse(_ context.Context, c snapshot.Course) (UpsertOutcome, error) {
	_, exists := p.staged.courses[c.ExternalID]
	p.staged.courses[c.ExternalID] = c
	return outcomeFor(exists), nil
}

func (p *memoryPass) UpsertStudent(_ context.Context, st snapshot.Student) (UpsertOutcome, error) {
	_, exists := p.staged.students[st.ExternalID]
	p.staged.students[st.ExternalID] = st
	return outcomeFor(exists), nil
}

func (p *memoryPass) UpsertAssignment(_ context.Context, a snapshot.Assignment) (UpsertOutcome, error) {
	_, exists := p.staged.assignments[a.ExternalID]
	p.staged.assignments[a.ExternalID] = a
	return outcomeFor(exists), nil
}

func (p *memoryPass) UpsertEnrollment(_ context.Context, e snapshot.Enrollment) (UpsertOutcome, error) {
	key := lifecycle.EnrollmentKey{StudentID: e.StudentID, CourseID: e.CourseID}
	_, exists := p.staged.enrollments[key]
	p.staged.enrollments[key] = e
	return outcomeFor(exists), nil
}

func outcomeFor(existed bool) UpsertOutcome {
	if existed {
		return OutcomeUpdated
	}
	return OutcomeInserted
}

func (p *memoryPass) GetObjectLifecycle(_ context.Context, typ lifecycle.ObjectType, id string) (*lifecycle.ObjectRecord, error) {
	rec, ok := p.staged.objects[objectKey{typ: typ, id: id}]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (p *memoryPass) PutObjectLifecycle(_ context.Context, rec *lifecycle.ObjectRecord) error {
	p.staged.objects[objectKey{typ: rec.Type, id: rec.ID}] = *rec
	return nil
}

func (p *memoryPass) GetEnrollmentLifecycle(_ context.Context, key lifecycle.EnrollmentKey) (*lifecycle.EnrollmentRecord, error) {
	rec, ok := p.staged.enrollmentRecs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (p *memoryPass) PutEnrollmentLifecycle(_ context.Context, rec *lifecycle.EnrollmentRecord) error {
	p.staged.enrollmentRecs[rec.EnrollmentKey] = *rec
	return nil
}

func (p *memoryPass) ActiveObjectIDs(_ context.Context, typ lifecycle.ObjectType, scope snapshot.Scope) ([]string, error) {
	var ids []string
	for key, rec := range p.staged.objects {
		if key.typ != typ || !rec.Active || rec.PendingDeletion {
			continue
		}
		if !scope.IsAll() && !p.staged.inScope(typ, key.id, scope) {
			continue
		}
		ids = append(ids, key.id)
	}
	sort.Strings(ids)
	return ids, nil
}

// inScope limits a record to one course. Students are never in a course
// scope: only an all-courses pass can judge a student absent.
func (d *memoryData) inScope(typ lifecycle.ObjectType, id string, scope snapshot.Scope) bool {
	switch typ {
	case lifecycle.ObjectTypeCourse:
		return id == scope.CourseID
	case lifecycle.ObjectTypeAssignment:
		a, ok := d.assignments[id]
		return ok && a.CourseID == scope.CourseID
	default:
		return false
	}
}

func (p *memoryPass) ActiveEnrollmentKeys(_ context.Context, scope snapshot.Scope) ([]lifecycle.EnrollmentKey, error) {
	var keys []lifecycle.EnrollmentKey
	for key, rec := range p.staged.enrollmentRecs {
		if !rec.Active || rec.PendingDeletion {
			continue
		}
		if !scope.IsAll() && key.CourseID != scope.CourseID {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StudentID != keys[j].StudentID {
			return keys[i].StudentID < keys[j].StudentID
		}
		return keys[i].CourseID < keys[j].CourseID
	})
	return keys, nil
}

func (s *MemoryStore) UpdateObjectLifecycle(ctx context.Context, typ lifecycle.ObjectType, id string, mutate func(*lifecycle.ObjectRecord) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	rec, ok := s.data.objects[objectKey{typ: typ, id: id}]
	if !ok {
		return fmt.Errorf("%s %s: %w", typ, id, ErrNotFound)
	}
	if err := mutate(&rec); err != nil {
		return err
	}
	s.data.objects[objectKey{typ: typ, id: id}] = rec
	return nil
}

func (s *MemoryStore) UpdateEnrollmentLifecycle(ctx context.Context, key lifecycle.EnrollmentKey, mutate func(*lifecycle.EnrollmentRecord) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	rec, ok := s.data.enrollmentRecs[key]
	if !ok {
		return fmt.Errorf("enrollment %s: %w", key, ErrNotFound)
	}
	if err := mutate(&rec); err != nil {
		return err
	}
	s.data.enrollmentRecs[key] = rec
	return nil
}

func (s *MemoryStore) ListCourses(ctx context.Context, vis Visibility) ([]CourseView, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var out []CourseView
	for id, c := range s.data.courses {
		rec, ok := s.data.objects[objectKey{typ: lifecycle.ObjectTypeCourse, id: id}]
		if !ok || !vis.Admits(rec.Name()) {
			continue
		}
		out = append(out, CourseView{Course: c, Lifecycle: rec.State})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *MemoryStore) ListStudents(ctx context.Context, vis Visibility) ([]StudentView, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var out []StudentView
	for id, st := range s.data.students {
		rec, ok := s.data.objects[objectKey{typ: lifecycle.ObjectTypeStudent, id: id}]
		if !ok || !vis.Admits(rec.Name()) {
			continue
		}
		out = append(out, StudentView{Student: st, Lifecycle: rec.State})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, courseID string, vis Visibility) ([]AssignmentView, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var out []AssignmentView
	for id, a := range s.data.assignments {
		if courseID != "" && a.CourseID != courseID {
			continue
		}
		rec, ok := s.data.objects[objectKey{typ: lifecycle.ObjectTypeAssignment, id: id}]
		if !ok || !vis.Admits(rec.Name()) {
			continue
		}
		out = append(out, AssignmentView{Assignment: a, Lifecycle: rec.State})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (s *MemoryStore) ListEnrollments(ctx context.Context, scope snapshot.Scope, vis Visibility) ([]EnrollmentView, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var out []EnrollmentView
	for key, e := range s.data.enrollments {
		if !scope.IsAll() && key.CourseID != scope.CourseID {
			continue
		}
		rec, ok := s.data.enrollmentRecs[key]
		if !ok || !vis.Admits(rec.Name()) {
			continue
		}
		out = append(out, EnrollmentView{Enrollment: e, Lifecycle: rec.State})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StudentID != out[j].StudentID {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].CourseID < out[j].CourseID
	})
	return out, nil
}

func (s *MemoryStore) ListPendingDeletions(ctx context.Context) ([]PendingDeletion, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var out []PendingDeletion
	for key, rec := range s.data.objects {
		if !rec.PendingDeletion {
			continue
		}
		out = append(out, PendingDeletion{
			Kind:                 string(key.typ),
			ID:                   key.id,
			Display:              s.data.displayName(key.typ, key.id),
			RemovedAt:            rec.RemovedAt,
			Reason:               rec.RemovalReason,
			UserDataExists:       rec.UserDataExists,
			HistoricalDataExists: rec.HistoricalDataExists,
		})
	}
	for key, rec := range s.data.enrollmentRecs {
		if !rec.PendingDeletion {
			continue
		}
		out = append(out, PendingDeletion{
			Kind:                 "enrollment",
			ID:                   key.String(),
			RemovedAt:            rec.RemovedAt,
			Reason:               rec.RemovalReason,
			HistoricalDataExists: rec.HistoricalDataExists,
		})
	}
	sortPendingDeletions(out)
	return out, nil
}

func (d *memoryData) displayName(typ lifecycle.ObjectType, id string) string {
	switch typ {
	case lifecycle.ObjectTypeCourse:
		return d.courses[id].Name
	case lifecycle.ObjectTypeStudent:
		return d.students[id].FullName
	case lifecycle.ObjectTypeAssignment:
		return d.assignments[id].Title
	default:
		return ""
	}
}

// sortPendingDeletions orders the review queue newest removal first,
// entries without a timestamp last, then by kind and id for stability.
func sortPendingDeletions(list []PendingDeletion) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].RemovedAt, list[j].RemovedAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		if list[i].Kind != list[j].Kind {
			return list[i].Kind < list[j].Kind
		}
		return list[i].ID < list[j].ID
	})
}

func (s *MemoryStore) ListRemovalCandidates(ctx context.Context, now time.Time, thresholdDays int) ([]RemovalCandidate, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	var out []RemovalCandidate
	for key, rec := range s.data.objects {
		if rec.IsRemovalCandidate(now, thresholdDays) {
			out = append(out, RemovalCandidate{Kind: string(key.typ), ID: key.id, RemovedAt: *rec.RemovedAt})
		}
	}
	for key, rec := range s.data.enrollmentRecs {
		if rec.IsRemovalCandidate(now, thresholdDays) {
			out = append(out, RemovalCandidate{Kind: "enrollment", ID: key.String(), RemovedAt: *rec.RemovedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
