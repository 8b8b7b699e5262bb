package model

import (
	"github.com/google/uuid"
)

// Option is one of the four choices of a question. ID is its ordinal key (A..D).
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is the public, exam-taking shape of a question.
type Question struct {
	ID       uuid.UUID `json:"id"`
	Text     string    `json:"question"`
	Options  []Option  `json:"options"`
	Marks    float64   `json:"marks"`
	OrderNum int       `json:"order_num"`
}

// OptionByID looks up an option by its ordinal key.
func (q *Question) OptionByID(id string) (*Option, bool) {
	for i := range q.Options {
		if q.Options[i].ID == id {
			return &q.Options[i], true
		}
	}
	return nil, false
}

// GradedQuestion is the grading shape of a question. It is only served after
// the caller has submitted at least one attempt.
type GradedQuestion struct {
	Question
	// CorrectOption is the ordinal key of the right option, CorrectAnswer its text.
	CorrectOption string `json:"correct_option"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
}

// OptionIDs are the ordinal keys assigned to options in creation order.
var OptionIDs = [OptionsPerQuestion]string{"A", "B", "C", "D"}

// CreateQuestionRequest is the payload for one question of a new exam.
type CreateQuestionRequest struct {
	Text          string   `json:"question" binding:"required,min=1,max=2000"`
	Options       []string `json:"options" binding:"required,len=4,unique,dive,required,max=500"`
	CorrectAnswer string   `json:"correct_answer" binding:"required,oneof=A B C D"`
	Marks         float64  `json:"marks" binding:"gte=0,lte=100"`
	Explanation   string   `json:"explanation" binding:"omitempty,max=4000"`
}
