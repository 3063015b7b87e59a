package model

import (
	"time"
)

// VoteType is a reaction to an exam question
type VoteType string

const (
	VoteLike    VoteType = "like"
	VoteDislike VoteType = "dislike"
)

// ExamQuestion is a user submitted exam question
type ExamQuestion struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	QuestionText   string    `gorm:"type:text;not null" json:"question_text"`
	AnswerA        string    `gorm:"type:text;not null" json:"answer_a"`
	AnswerB        string    `gorm:"type:text;not null" json:"answer_b"`
	AnswerC        string    `gorm:"type:text;not null" json:"answer_c"`
	AnswerD        string    `gorm:"type:text;not null" json:"answer_d"`
	CorrectAnswers string    `gorm:"size:16;not null" json:"correct_answers"`
	ExamType       ExamType  `gorm:"size:20;not null;index" json:"exam_type"`
	Category       string    `gorm:"size:16;not null;index" json:"category"`
	SubmittedBy    string    `gorm:"size:100;not null" json:"submitted_by"`
	LikesCount     int       `gorm:"not null;default:0" json:"likes_count"`
	DislikesCount  int       `gorm:"not null;default:0" json:"dislikes_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the table name for ExamQuestion
func (ExamQuestion) TableName() string {
	return "exam_questions"
}

// QuestionVote records one voter's reaction to a question
type QuestionVote struct {
	ID         uint      `gorm:"primaryKey"`
	QuestionID uint      `gorm:"uniqueIndex:idx_question_voter;not null"`
	Voter      string    `gorm:"uniqueIndex:idx_question_voter;size:64;not null"`
	VoteType   VoteType  `gorm:"size:10;not null"`
	CreatedAt  time.Time
}

// TableName returns the table name for QuestionVote
func (QuestionVote) TableName() string {
	return "question_votes"
}
