package usecase

import (
	"fmt"

	"github.com/satriahrh/parley/domain/entities"
	"github.com/satriahrh/parley/domain/repositories"
)

// FeedbackToolName is the function the interviewer calls after each answer
const FeedbackToolName = "record_feedback"

const (
	kickoffText = "Hello, I'm ready to start the interview."
	closingText = "The interview is over. Please give me brief overall feedback on how I did, " +
		"record it with a score out of 10, and say goodbye."
)

// interviewInstruction builds the system instruction for one session
func interviewInstruction(params entities.SessionParams) string {
	return fmt.Sprintf(`You are an experienced interviewer running a practice interview for a %s %s position.
Ask one question at a time and wait for the candidate to finish answering.
After every answer, call %s with short, specific feedback on that answer and a score from 1 to 10, then continue with the next question.
Keep spoken replies brief and conversational. Begin by greeting the candidate and asking the first question.`,
		params.Level, params.Role, FeedbackToolName)
}

func feedbackTool() repositories.ToolDeclaration {
	return repositories.ToolDeclaration{
		Name:        FeedbackToolName,
		Description: "Record feedback on the candidate's most recent answer.",
		Params: []repositories.ToolParam{
			{Name: "feedback", Type: "string", Description: "What was good and what could be better", Required: true},
			{Name: "score", Type: "integer", Description: "Score for the answer from 1 to 10"},
		},
	}
}
