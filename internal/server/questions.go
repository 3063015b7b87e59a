package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/examslots/internal/model"
	"github.com/user/examslots/internal/store"
)

const questionListLimit = 100

// QuestionQuery holds the GET /api/questions filters
type QuestionQuery struct {
	ExamType string `form:"exam_type" binding:"omitempty,examtype"`
	Category string `form:"category"  binding:"omitempty,max=10"`
}

// QuestionRequest is the body of POST /api/questions
type QuestionRequest struct {
	QuestionText   string `json:"question_text"   binding:"required,notblank,max=2000"`
	AnswerA        string `json:"answer_a"        binding:"required,notblank,max=500"`
	AnswerB        string `json:"answer_b"        binding:"required,notblank,max=500"`
	AnswerC        string `json:"answer_c"        binding:"required,notblank,max=500"`
	AnswerD        string `json:"answer_d"        binding:"required,notblank,max=500"`
	CorrectAnswers string `json:"correct_answers" binding:"required,answers"`
	ExamType       string `json:"exam_type"       binding:"required,notblank,examtype"`
	Category       string `json:"category"        binding:"required,notblank,max=10"`
	SubmittedBy    string `json:"submitted_by"    binding:"omitempty,max=100"`
}

// VoteRequest is the body of POST /api/questions/:id/vote
type VoteRequest struct {
	VoteType model.VoteType `json:"vote_type" binding:"required,oneof=like dislike"`
}

var questionMessages = map[string]string{
	"CorrectAnswers": "correct_answers must list A-D, e.g. \"A\" or \"B,C\"",
	"ExamType":       "exam_type must be driving or theory",
}

func (s *Server) handleListQuestions(c *gin.Context) {
	var query QuestionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err, questionMessages, "Invalid query")})
		return
	}

	filter := store.QuestionFilter{Category: query.Category}
	if et, ok := model.ParseExamType(query.ExamType); ok {
		filter.ExamType = et
	}

	questions, err := s.store.ListQuestions(c.Request.Context(), filter, questionListLimit)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load questions"})
		return
	}
	if questions == nil {
		questions = []*model.ExamQuestion{}
	}

	c.JSON(http.StatusOK, gin.H{"questions": questions})
}

func (s *Server) handleCreateQuestion(c *gin.Context) {
	var req QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindMessage(err, questionMessages, "All fields required")})
		return
	}

	q := req.toQuestion()
	if err := s.store.CreateQuestion(c.Request.Context(), q); err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create question"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"question": q})
}

// toQuestion builds a question from a bound request
func (r *QuestionRequest) toQuestion() *model.ExamQuestion {
	examType, _ := model.ParseExamType(r.ExamType)

	submittedBy := strings.TrimSpace(r.SubmittedBy)
	if submittedBy == "" {
		submittedBy = "Anonymous"
	}

	return &model.ExamQuestion{
		QuestionText:   strings.TrimSpace(r.QuestionText),
		AnswerA:        strings.TrimSpace(r.AnswerA),
		AnswerB:        strings.TrimSpace(r.AnswerB),
		AnswerC:        strings.TrimSpace(r.AnswerC),
		AnswerD:        strings.TrimSpace(r.AnswerD),
		CorrectAnswers: normalizeAnswers(r.CorrectAnswers),
		ExamType:       examType,
		Category:       strings.ToUpper(strings.TrimSpace(r.Category)),
		SubmittedBy:    submittedBy,
	}
}

func (s *Server) handleVote(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid question id"})
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vote type"})
		return
	}

	q, err := s.store.Vote(c.Request.Context(), uint(id), c.ClientIP(), req.VoteType)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"question": gin.H{
			"id":             q.ID,
			"likes_count":    q.LikesCount,
			"dislikes_count": q.DislikesCount,
		}})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Question not found"})
	case errors.Is(err, store.ErrInvalidVote):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid vote type"})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record vote"})
	}
}
