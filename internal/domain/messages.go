package domain

import (
	"encoding/json"
	"fmt"
)

// RoomEventType discriminates broadcasts on the room.{id} topic.
type RoomEventType string

const (
	RoomPlayerJoined RoomEventType = "PLAYER_JOINED"
	RoomPlayerLeft   RoomEventType = "PLAYER_LEFT"
	RoomPlayerReady  RoomEventType = "PLAYER_READY"
	RoomUpdate       RoomEventType = "ROOM_UPDATE"
)

// RoomEvent is a roster broadcast. ROOM_UPDATE carries a self-declared full
// roster; the other types are deltas about Player.
type RoomEvent struct {
	Type    RoomEventType   `json:"type"`
	Room    *RoomState      `json:"room,omitempty"`
	Player  *PlayerProfile  `json:"player,omitempty"`
	Players []PlayerProfile `json:"players,omitempty"`
}

// StatusSnapshot is the consolidated heartbeat on room.{id}.status.
type StatusSnapshot struct {
	Room          RoomState         `json:"room"`
	Players       []PlayerProfile   `json:"players"`
	GameStatus    *GenerationStatus `json:"gameStatus,omitempty"`
	QuestionIndex int               `json:"questionIndex"`
}

// OwnerChange is an explicit ownership transfer.
type OwnerChange struct {
	RoomID          ID `json:"roomId"`
	PreviousOwnerID ID `json:"previousOwnerId,omitempty"`
	NewOwnerID      ID `json:"newOwnerId"`
}

// GenerationEvent is one progress message from the quiz generator.
// Progress is a pointer so "no value" differs from an explicit zero.
type GenerationEvent struct {
	Status        GenerationPhase `json:"status"`
	Progress      *int            `json:"progress,omitempty"`
	Stage         int             `json:"stage,omitempty"`
	TotalStages   int             `json:"totalStages,omitempty"`
	QuizID        string          `json:"quizId,omitempty"`
	QuestionCount int             `json:"questionCount,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// QuestionEventType discriminates payloads on room.{id}.question.
type QuestionEventType string

const (
	QuestionSingle  QuestionEventType = "QUESTION"
	QuestionSet     QuestionEventType = "QUESTION_SET"
	QuestionIndexed QuestionEventType = "INDEX_CHANGED"
)

// QuestionEvent delivers one question, a batch, or only an index change.
type QuestionEvent struct {
	Type           QuestionEventType `json:"type"`
	QuizID         string            `json:"quizId,omitempty"`
	Question       *QuestionState    `json:"question,omitempty"`
	Questions      []QuestionState   `json:"questions,omitempty"`
	Index          int               `json:"index,omitempty"`
	TotalQuestions int               `json:"totalQuestions,omitempty"`
}

// TimerExpired tells peers that some client's countdown for a question hit zero.
type TimerExpired struct {
	QuestionIndex int `json:"questionIndex"`
	PlayerID      ID  `json:"playerId,omitempty"`
}

// ScoreUpdate is one player's computed delta for one question.
type ScoreUpdate struct {
	PlayerID      ID     `json:"playerId"`
	Nickname      string `json:"nickname,omitempty"`
	QuestionIndex int    `json:"questionIndex"`
	Delta         int    `json:"delta"`
	Correct       bool   `json:"correct"`
	Choice        int    `json:"choice"`
}

// ScoreSync is a full authoritative resync covering questions up to ThroughIndex.
type ScoreSync struct {
	ThroughIndex int          `json:"throughIndex"`
	Scores       []ScoreEntry `json:"scores"`
}

// MembershipIntent is published on join and leave.
type MembershipIntent struct {
	RoomID ID            `json:"roomId"`
	Player PlayerProfile `json:"player"`
}

// GenerateRequest asks the backend to build a quiz for the room.
type GenerateRequest struct {
	RoomID      ID     `json:"roomId"`
	Category    string `json:"category,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	Count       int    `json:"count"`
	RequestedBy ID     `json:"requestedBy,omitempty"`
}

// QuestionRequest asks for the question at Index of QuizID.
type QuestionRequest struct {
	RoomID ID     `json:"roomId"`
	QuizID string `json:"quizId"`
	Index  int    `json:"index"`
}

// GameEnd finalizes a session.
type GameEnd struct {
	RoomID ID           `json:"roomId"`
	QuizID string       `json:"quizId,omitempty"`
	Scores []ScoreEntry `json:"scores"`
}

// Decode unmarshals a payload, tagging failures as ErrMalformedMessage.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// Encode marshals a payload for publishing.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
