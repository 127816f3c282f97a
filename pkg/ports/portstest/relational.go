package portstest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

// noopTx is a Tx that does nothing: Relational below applies every write
// immediately, so Commit and Rollback are both no-ops and a rolled-back
// transaction's writes stay visible.
type noopTx struct{}

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

// Relational is an in-memory fake RelationalStorePort. It has no real
// transactional isolation (fine for the single-goroutine-at-a-time component
// tests it's used in) but exposes the same method surface as the Postgres
// adapter.
type Relational struct {
	mu           sync.Mutex
	chat         []models.ChatRecord
	mastery      map[string]models.MasteryRecord // key: user|subject|topic
	weak         map[string]models.WeakArea
	practice     []models.PracticeQuestion
	installation map[string]models.VKPInstallation // key: subject|grade
	HealthErr    error
}

func NewRelational() *Relational {
	return &Relational{
		mastery:      make(map[string]models.MasteryRecord),
		weak:         make(map[string]models.WeakArea),
		installation: make(map[string]models.VKPInstallation),
	}
}

func masteryKey(user, subject, topic string) string { return user + "|" + subject + "|" + topic }
func instKey(subject, grade string) string          { return subject + "|" + grade }

func (r *Relational) Begin(ctx context.Context) (ports.Tx, error) {
	return noopTx{}, nil
}

func (r *Relational) SeedPracticeQuestions(qs []models.PracticeQuestion) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.practice = append(r.practice, qs...)
}

func (r *Relational) InsertChatRecord(ctx context.Context, tx ports.Tx, rec models.ChatRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = append(r.chat, rec)
	return nil
}

func (r *Relational) ChatRecords() []models.ChatRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ChatRecord, len(r.chat))
	copy(out, r.chat)
	return out
}

func (r *Relational) GetMastery(ctx context.Context, tx ports.Tx, userID, subjectID, topic string) (*models.MasteryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.mastery[masteryKey(userID, subjectID, topic)]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (r *Relational) UpsertMastery(ctx context.Context, tx ports.Tx, rec models.MasteryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mastery[masteryKey(rec.UserID, rec.SubjectID, rec.Topic)] = rec
	return nil
}

func (r *Relational) ListMastery(ctx context.Context, userID, subjectID string) ([]models.MasteryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MasteryRecord
	for _, rec := range r.mastery {
		if rec.UserID == userID && rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func (r *Relational) UpsertWeakArea(ctx context.Context, tx ports.Tx, rec models.WeakArea) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.weak[masteryKey(rec.UserID, rec.SubjectID, rec.Topic)] = rec
	return nil
}

func (r *Relational) DeleteWeakArea(ctx context.Context, tx ports.Tx, userID, subjectID, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.weak, masteryKey(userID, subjectID, topic))
	return nil
}

func (r *Relational) ListWeakAreas(ctx context.Context, userID, subjectID string) ([]models.WeakArea, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WeakArea
	for _, rec := range r.weak {
		if rec.UserID == userID && rec.SubjectID == subjectID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func (r *Relational) ListPracticeQuestions(ctx context.Context, subjectID string, topics []string, limit int) ([]models.PracticeQuestion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[string]bool, len(topics))
	for _, t := range topics {
		want[t] = true
	}
	var biased, rest []models.PracticeQuestion
	for _, q := range r.practice {
		if want[q.Topic] {
			biased = append(biased, q)
		} else {
			rest = append(rest, q)
		}
	}
	out := append(biased, rest...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Relational) GetVKPInstallation(ctx context.Context, subject, grade string) (*models.VKPInstallation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.installation[instKey(subject, grade)]
	if !ok {
		return nil, nil
	}
	cp := inst
	return &cp, nil
}

func (r *Relational) PutVKPInstallation(ctx context.Context, inst models.VKPInstallation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installation[instKey(inst.Subject, inst.Grade)] = inst
	return nil
}

func (r *Relational) Health(ctx context.Context) error { return r.HealthErr }

// ExportFull serializes every table the backup service is responsible for,
// used by pkg/backup's full-snapshot job. Like the production postgres
// adapter's equivalent it is a JSON document with the same top-level keys,
// but mastery, weak and installation are objects keyed by their map keys
// here rather than arrays.
func (r *Relational) ExportFull(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(struct {
		Chat         []models.ChatRecord                 `json:"chat"`
		Mastery      map[string]models.MasteryRecord      `json:"mastery"`
		Weak         map[string]models.WeakArea           `json:"weak"`
		Practice     []models.PracticeQuestion            `json:"practice"`
		Installation map[string]models.VKPInstallation    `json:"installation"`
	}{r.chat, r.mastery, r.weak, r.practice, r.installation})
}

// ExportChatHistorySince serializes the chat_history rows created at or
// after since, used by pkg/backup's daily incremental job.
func (r *Relational) ExportChatHistorySince(ctx context.Context, since time.Time) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var delta []models.ChatRecord
	for _, rec := range r.chat {
		if !rec.CreatedAt.Before(since) {
			delta = append(delta, rec)
		}
	}
	return json.Marshal(delta)
}
