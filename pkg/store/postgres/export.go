package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
)

// fullSnapshot uses the same top-level keys as portstest.Relational's
// ExportFull; here every table is an array, whereas the fake encodes
// mastery, weak and installation as objects keyed by their map keys.
type fullSnapshot struct {
	Chat         []models.ChatRecord            `json:"chat"`
	Mastery      []models.MasteryRecord          `json:"mastery"`
	Weak         []models.WeakArea              `json:"weak"`
	Practice     []models.PracticeQuestion      `json:"practice"`
	Installation []models.VKPInstallation       `json:"installation"`
}

// ExportFull implements backup.RelationalSnapshotSource. It is a plain
// table dump rather than a pg_dump-style binary archive: the backup
// service only ever needs to restore through this same port's CRUD
// methods, never through psql directly.
func (s *Store) ExportFull(ctx context.Context) ([]byte, error) {
	chat, err := s.exportChatHistory(ctx, `SELECT id, user_id, subject_id, question, response, confidence, created_at FROM chat_history ORDER BY created_at`)
	if err != nil {
		return nil, err
	}

	mastery, err := s.exportAllMastery(ctx)
	if err != nil {
		return nil, err
	}

	weak, err := s.exportAllWeakAreas(ctx)
	if err != nil {
		return nil, err
	}

	practice, err := s.exportAllPracticeQuestions(ctx)
	if err != nil {
		return nil, err
	}

	installations, err := s.exportAllVKPInstallations(ctx)
	if err != nil {
		return nil, err
	}

	snap, err := json.Marshal(fullSnapshot{
		Chat:         chat,
		Mastery:      mastery,
		Weak:         weak,
		Practice:     practice,
		Installation: installations,
	})
	if err != nil {
		return nil, edgeerr.Wrap(edgeerr.Internal, "encoding full snapshot", err)
	}
	return snap, nil
}

// ExportChatHistorySince implements backup.RelationalSnapshotSource.
func (s *Store) ExportChatHistorySince(ctx context.Context, since time.Time) ([]byte, error) {
	chat, err := s.exportChatHistory(ctx,
		`SELECT id, user_id, subject_id, question, response, confidence, created_at
		 FROM chat_history WHERE created_at >= $1 ORDER BY created_at`, since)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(chat)
	if err != nil {
		return nil, edgeerr.Wrap(edgeerr.Internal, "encoding chat history delta", err)
	}
	return out, nil
}

func (s *Store) exportChatHistory(ctx context.Context, query string, args ...interface{}) ([]models.ChatRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "exporting chat history")
	}
	defer rows.Close()

	var out []models.ChatRecord
	for rows.Next() {
		var rec models.ChatRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.SubjectID, &rec.Question, &rec.Response, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, wrapErr(err, "scanning chat history row")
		}
		out = append(out, rec)
	}
	return out, wrapErr(rows.Err(), "iterating chat history")
}

func (s *Store) exportAllMastery(ctx context.Context) ([]models.MasteryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, subject_id, topic, mastery_level, question_count, correct_count, last_interaction, created_at FROM topic_mastery`)
	if err != nil {
		return nil, wrapErr(err, "exporting mastery records")
	}
	defer rows.Close()

	var out []models.MasteryRecord
	for rows.Next() {
		var rec models.MasteryRecord
		var lastInteraction *time.Time
		if err := rows.Scan(&rec.UserID, &rec.SubjectID, &rec.Topic, &rec.MasteryLevel,
			&rec.QuestionCount, &rec.CorrectCount, &lastInteraction, &rec.CreatedAt); err != nil {
			return nil, wrapErr(err, "scanning mastery row")
		}
		if lastInteraction != nil {
			rec.LastInteraction = *lastInteraction
		}
		out = append(out, rec)
	}
	return out, wrapErr(rows.Err(), "iterating mastery records")
}

func (s *Store) exportAllWeakAreas(ctx context.Context) ([]models.WeakArea, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, subject_id, topic, score, detected_at FROM weak_areas`)
	if err != nil {
		return nil, wrapErr(err, "exporting weak areas")
	}
	defer rows.Close()

	var out []models.WeakArea
	for rows.Next() {
		var rec models.WeakArea
		if err := rows.Scan(&rec.UserID, &rec.SubjectID, &rec.Topic, &rec.Score, &rec.DetectedAt); err != nil {
			return nil, wrapErr(err, "scanning weak area row")
		}
		out = append(out, rec)
	}
	return out, wrapErr(rows.Err(), "iterating weak areas")
}

func (s *Store) exportAllPracticeQuestions(ctx context.Context) ([]models.PracticeQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topic, question, answer, difficulty FROM practice_questions`)
	if err != nil {
		return nil, wrapErr(err, "exporting practice questions")
	}
	defer rows.Close()

	var out []models.PracticeQuestion
	for rows.Next() {
		var q models.PracticeQuestion
		if err := rows.Scan(&q.Topic, &q.Question, &q.Answer, &q.Difficulty); err != nil {
			return nil, wrapErr(err, "scanning practice question row")
		}
		out = append(out, q)
	}
	return out, wrapErr(rows.Err(), "iterating practice questions")
}

func (s *Store) exportAllVKPInstallations(ctx context.Context) ([]models.VKPInstallation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT subject, grade, active_version, embedding_dim, history FROM vkp_installations`)
	if err != nil {
		return nil, wrapErr(err, "exporting vkp installations")
	}
	defer rows.Close()

	var out []models.VKPInstallation
	for rows.Next() {
		var inst models.VKPInstallation
		var historyJSON []byte
		if err := rows.Scan(&inst.Subject, &inst.Grade, &inst.ActiveVersion, &inst.EmbeddingDim, &historyJSON); err != nil {
			return nil, wrapErr(err, "scanning vkp installation row")
		}
		if len(historyJSON) > 0 {
			if err := json.Unmarshal(historyJSON, &inst.History); err != nil {
				return nil, edgeerr.Wrap(edgeerr.Internal, "decoding vkp installation history", err)
			}
		}
		out = append(out, inst)
	}
	return out, wrapErr(rows.Err(), "iterating vkp installations")
}
