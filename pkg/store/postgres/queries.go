package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/edge-tutor/node/pkg/edgeerr"
	"github.com/edge-tutor/node/pkg/models"
	"github.com/edge-tutor/node/pkg/ports"
)

func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	return edgeerr.Wrap(edgeerr.DependencyUnavailable, msg, err)
}

// InsertChatRecord implements ports.RelationalStorePort.
func (s *Store) InsertChatRecord(ctx context.Context, tx ports.Tx, rec models.ChatRecord) error {
	_, err := underlying(tx).ExecContext(ctx,
		`INSERT INTO chat_history (id, user_id, subject_id, question, response, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.SubjectID, rec.Question, rec.Response, rec.Confidence, rec.CreatedAt)
	return wrapErr(err, "inserting chat record")
}

// GetMastery implements ports.RelationalStorePort.
func (s *Store) GetMastery(ctx context.Context, tx ports.Tx, userID, subjectID, topic string) (*models.MasteryRecord, error) {
	row := underlying(tx).QueryRowContext(ctx,
		`SELECT user_id, subject_id, topic, mastery_level, question_count, correct_count, last_interaction, created_at
		 FROM topic_mastery WHERE user_id = $1 AND subject_id = $2 AND topic = $3`,
		userID, subjectID, topic)

	var rec models.MasteryRecord
	var lastInteraction sql.NullTime
	err := row.Scan(&rec.UserID, &rec.SubjectID, &rec.Topic, &rec.MasteryLevel,
		&rec.QuestionCount, &rec.CorrectCount, &lastInteraction, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "reading mastery record")
	}
	if lastInteraction.Valid {
		rec.LastInteraction = lastInteraction.Time
	}
	return &rec, nil
}

// UpsertMastery implements ports.RelationalStorePort.
func (s *Store) UpsertMastery(ctx context.Context, tx ports.Tx, rec models.MasteryRecord) error {
	_, err := underlying(tx).ExecContext(ctx,
		`INSERT INTO topic_mastery (user_id, subject_id, topic, mastery_level, question_count, correct_count, last_interaction, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, subject_id, topic) DO UPDATE SET
		   mastery_level = EXCLUDED.mastery_level,
		   question_count = EXCLUDED.question_count,
		   correct_count = EXCLUDED.correct_count,
		   last_interaction = EXCLUDED.last_interaction`,
		rec.UserID, rec.SubjectID, rec.Topic, rec.MasteryLevel,
		rec.QuestionCount, rec.CorrectCount, rec.LastInteraction, rec.CreatedAt)
	return wrapErr(err, "upserting mastery record")
}

// ListMastery implements ports.RelationalStorePort.
func (s *Store) ListMastery(ctx context.Context, userID, subjectID string) ([]models.MasteryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, subject_id, topic, mastery_level, question_count, correct_count, last_interaction, created_at
		 FROM topic_mastery WHERE user_id = $1 AND subject_id = $2 ORDER BY topic`,
		userID, subjectID)
	if err != nil {
		return nil, wrapErr(err, "listing mastery records")
	}
	defer rows.Close()

	var out []models.MasteryRecord
	for rows.Next() {
		var rec models.MasteryRecord
		var lastInteraction sql.NullTime
		if err := rows.Scan(&rec.UserID, &rec.SubjectID, &rec.Topic, &rec.MasteryLevel,
			&rec.QuestionCount, &rec.CorrectCount, &lastInteraction, &rec.CreatedAt); err != nil {
			return nil, wrapErr(err, "scanning mastery record")
		}
		if lastInteraction.Valid {
			rec.LastInteraction = lastInteraction.Time
		}
		out = append(out, rec)
	}
	return out, wrapErr(rows.Err(), "iterating mastery records")
}

// UpsertWeakArea implements ports.RelationalStorePort.
func (s *Store) UpsertWeakArea(ctx context.Context, tx ports.Tx, rec models.WeakArea) error {
	_, err := underlying(tx).ExecContext(ctx,
		`INSERT INTO weak_areas (user_id, subject_id, topic, score, detected_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, subject_id, topic) DO UPDATE SET
		   score = EXCLUDED.score,
		   detected_at = EXCLUDED.detected_at`,
		rec.UserID, rec.SubjectID, rec.Topic, rec.Score, rec.DetectedAt)
	return wrapErr(err, "upserting weak area")
}

// DeleteWeakArea implements ports.RelationalStorePort.
func (s *Store) DeleteWeakArea(ctx context.Context, tx ports.Tx, userID, subjectID, topic string) error {
	_, err := underlying(tx).ExecContext(ctx,
		`DELETE FROM weak_areas WHERE user_id = $1 AND subject_id = $2 AND topic = $3`,
		userID, subjectID, topic)
	return wrapErr(err, "deleting weak area")
}

// ListWeakAreas implements ports.RelationalStorePort.
func (s *Store) ListWeakAreas(ctx context.Context, userID, subjectID string) ([]models.WeakArea, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, subject_id, topic, score, detected_at
		 FROM weak_areas WHERE user_id = $1 AND subject_id = $2 ORDER BY score DESC`,
		userID, subjectID)
	if err != nil {
		return nil, wrapErr(err, "listing weak areas")
	}
	defer rows.Close()

	var out []models.WeakArea
	for rows.Next() {
		var rec models.WeakArea
		if err := rows.Scan(&rec.UserID, &rec.SubjectID, &rec.Topic, &rec.Score, &rec.DetectedAt); err != nil {
			return nil, wrapErr(err, "scanning weak area")
		}
		out = append(out, rec)
	}
	return out, wrapErr(rows.Err(), "iterating weak areas")
}

// ListPracticeQuestions implements ports.RelationalStorePort.
func (s *Store) ListPracticeQuestions(ctx context.Context, subjectID string, topics []string, limit int) ([]models.PracticeQuestion, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, question, answer, difficulty
		 FROM practice_questions WHERE subject_id = $1 AND topic = ANY($2) LIMIT $3`,
		subjectID, topics, limit)
	if err != nil {
		return nil, wrapErr(err, "listing practice questions")
	}
	defer rows.Close()

	var out []models.PracticeQuestion
	for rows.Next() {
		var q models.PracticeQuestion
		if err := rows.Scan(&q.Topic, &q.Question, &q.Answer, &q.Difficulty); err != nil {
			return nil, wrapErr(err, "scanning practice question")
		}
		out = append(out, q)
	}
	return out, wrapErr(rows.Err(), "iterating practice questions")
}

// GetVKPInstallation implements ports.RelationalStorePort. The nested
// history (each entry carrying its own chunk set and embeddings) is kept as
// a single JSONB column rather than normalized into child tables.
func (s *Store) GetVKPInstallation(ctx context.Context, subject, grade string) (*models.VKPInstallation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT subject, grade, active_version, embedding_dim, history
		 FROM vkp_installations WHERE subject = $1 AND grade = $2`,
		subject, grade)

	var inst models.VKPInstallation
	var historyJSON []byte
	err := row.Scan(&inst.Subject, &inst.Grade, &inst.ActiveVersion, &inst.EmbeddingDim, &historyJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "reading vkp installation")
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &inst.History); err != nil {
			return nil, edgeerr.Wrap(edgeerr.Internal, "decoding vkp installation history", err)
		}
	}
	return &inst, nil
}

// PutVKPInstallation implements ports.RelationalStorePort.
func (s *Store) PutVKPInstallation(ctx context.Context, inst models.VKPInstallation) error {
	historyJSON, err := json.Marshal(inst.History)
	if err != nil {
		return edgeerr.Wrap(edgeerr.Internal, "encoding vkp installation history", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vkp_installations (subject, grade, active_version, embedding_dim, history)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subject, grade) DO UPDATE SET
		   active_version = EXCLUDED.active_version,
		   embedding_dim = EXCLUDED.embedding_dim,
		   history = EXCLUDED.history`,
		inst.Subject, inst.Grade, inst.ActiveVersion, inst.EmbeddingDim, historyJSON)
	return wrapErr(err, "upserting vkp installation")
}
