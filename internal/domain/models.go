package domain

import "time"

// ConnState is the lifecycle of a transport session.
type ConnState string

const (
	ConnConnecting   ConnState = "CONNECTING"
	ConnConnected    ConnState = "CONNECTED"
	ConnDisconnected ConnState = "DISCONNECTED"
)

// RoomStatus is the lobby-level status of a room.
type RoomStatus string

const (
	RoomWaiting  RoomStatus = "WAITING"
	RoomInGame   RoomStatus = "IN_GAME"
	RoomFinished RoomStatus = "FINISHED"
)

// RoomState is the best-known description of a room.
type RoomState struct {
	ID             ID         `json:"id"`
	Title          string     `json:"title,omitempty"`
	Capacity       int        `json:"capacity,omitempty"`
	OwnerID        ID         `json:"ownerId,omitempty"`
	Status         RoomStatus `json:"status,omitempty"`
	CurrentPlayers int        `json:"currentPlayers,omitempty"`
	Difficulty     string     `json:"difficulty,omitempty"`
	Category       string     `json:"category,omitempty"`
	QuestionCount  int        `json:"questionCount,omitempty"`
	PlayerIDs      []ID       `json:"playerIds,omitempty"`
	QuizID         string     `json:"quizId,omitempty"`
}

// PlayerProfile is one roster entry. SessionID only disambiguates duplicate
// entries for the same player coming from different broadcasts.
type PlayerProfile struct {
	ID        ID     `json:"id"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	IsOwner   bool   `json:"isOwner"`
	IsReady   bool   `json:"isReady"`
	SessionID string `json:"sessionId,omitempty"`
}

// GenerationPhase is the state of an asynchronous quiz build.
type GenerationPhase string

const (
	GenerationIdle       GenerationPhase = "IDLE"
	GenerationStarted    GenerationPhase = "STARTED"
	GenerationInProgress GenerationPhase = "IN_PROGRESS"
	GenerationCompleted  GenerationPhase = "COMPLETED"
	GenerationFailed     GenerationPhase = "FAILED"
)

// GenerationStatus is what the client displays about a quiz build.
// Progress never decreases within one generation cycle.
type GenerationStatus struct {
	Status      GenerationPhase `json:"status"`
	Progress    int             `json:"progress"`
	Stage       int             `json:"stage,omitempty"`
	TotalStages int             `json:"totalStages,omitempty"`
	QuizID      string          `json:"quizId,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// TimeoutChoice is the sentinel choice recorded when the timer ran out.
const TimeoutChoice = -1

// QuestionState is one question as delivered to clients.
type QuestionState struct {
	Index        int      `json:"index"`
	Text         string   `json:"text"`
	Choices      []string `json:"choices"`
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation,omitempty"`
	TimeLimitSec int      `json:"timeLimitSec"`
	IsLast       bool     `json:"isLastQuestion,omitempty"`
}

// TimeLimit returns the question's limit, defaulting when the payload omitted it.
func (q QuestionState) TimeLimit(fallback time.Duration) time.Duration {
	if q.TimeLimitSec <= 0 {
		return fallback
	}
	return time.Duration(q.TimeLimitSec) * time.Second
}

// AnswerSubmission is one player's scored answer to one question.
type AnswerSubmission struct {
	PlayerID      ID            `json:"playerId"`
	Nickname      string        `json:"nickname,omitempty"`
	QuestionIndex int           `json:"questionIndex"`
	Choice        int           `json:"choice"`
	Correct       bool          `json:"correct"`
	Delta         int           `json:"delta"`
	Elapsed       time.Duration `json:"elapsed"`
}

// TimedOut reports whether the submission is the timeout sentinel.
func (a AnswerSubmission) TimedOut() bool { return a.Choice == TimeoutChoice }

// ScoreEntry is a player's cumulative score.
type ScoreEntry struct {
	PlayerID          ID     `json:"playerId"`
	Nickname          string `json:"nickname,omitempty"`
	Score             int    `json:"score"`
	LastAnswerCorrect bool   `json:"lastAnswerCorrect"`
	CorrectCount      int    `json:"correctCount"`
}

// ChatMessage is one entry on the room chat topic.
type ChatMessage struct {
	SenderID ID        `json:"senderId"`
	Nickname string    `json:"nickname,omitempty"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sentAt"`
}

// SystemPrefix marks chat lines that are server notices rather than player chat.
const SystemPrefix = "[SYSTEM]"

// Option represents a possible answer in the question bank.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models a bank question with exactly one correct option.
type Question struct {
	ID           string   `json:"id"`
	Prompt       string   `json:"prompt"`
	Options      []Option `json:"options"`
	Explanation  string   `json:"explanation,omitempty"`
	TimeLimitSec int      `json:"timeLimitSec,omitempty"`
}

// Quiz is a generated collection of bank questions.
type Quiz struct {
	ID         string     `json:"id"`
	Category   string     `json:"category,omitempty"`
	Difficulty string     `json:"difficulty,omitempty"`
	Questions  []Question `json:"questions"`
}

// QuestionAt converts the bank question at index into its delivered form.
func (q Quiz) QuestionAt(index int) (QuestionState, error) {
	if index < 0 || index >= len(q.Questions) {
		return QuestionState{}, ErrQuestionNotFound
	}
	src := q.Questions[index]
	out := QuestionState{
		Index:        index,
		Text:         src.Prompt,
		Choices:      make([]string, 0, len(src.Options)),
		Explanation:  src.Explanation,
		TimeLimitSec: src.TimeLimitSec,
		IsLast:       index == len(q.Questions)-1,
	}
	for i, opt := range src.Options {
		out.Choices = append(out.Choices, opt.Text)
		if opt.Correct {
			out.CorrectIndex = i
		}
	}
	return out, nil
}
