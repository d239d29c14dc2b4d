package domain

import "strings"

// Topic builders for the room destination taxonomy. Wildcard patterns use
// "*" to match exactly one dot-separated token.

func RoomTopic(roomID ID) string            { return "room." + string(roomID) }
func StatusTopic(roomID ID) string          { return RoomTopic(roomID) + ".status" }
func OwnerChangeTopic(roomID ID) string     { return RoomTopic(roomID) + ".owner.change" }
func GenerationTopic(roomID ID) string      { return RoomTopic(roomID) + ".quiz.generation" }
func QuestionTopic(roomID ID) string        { return RoomTopic(roomID) + ".question" }
func TimerExpiredTopic(roomID ID) string    { return RoomTopic(roomID) + ".timer.expired" }
func ScoresUpdateTopic(roomID ID) string    { return RoomTopic(roomID) + ".scores.update" }
func ScoresSyncTopic(roomID ID) string      { return RoomTopic(roomID) + ".scores.sync" }
func ChatTopic(roomID ID) string            { return "room.chat." + string(roomID) }
func JoinTopic(roomID ID) string            { return RoomTopic(roomID) + ".join" }
func LeaveTopic(roomID ID) string           { return RoomTopic(roomID) + ".leave" }
func GenerateTopic(roomID ID) string        { return RoomTopic(roomID) + ".quiz.generate" }
func QuestionRequestTopic(roomID ID) string { return RoomTopic(roomID) + ".question.request" }
func QuestionNextTopic(roomID ID) string    { return RoomTopic(roomID) + ".question.next" }
func AnswerTopic(roomID ID) string          { return RoomTopic(roomID) + ".answer" }
func FinishTopic(roomID ID) string          { return RoomTopic(roomID) + ".finish" }
func GameEndTopic(roomID ID) string         { return RoomTopic(roomID) + ".game.end" }

// RoomIDFromTopic extracts the room id from a "room.{id}..." destination.
func RoomIDFromTopic(topic string) (ID, bool) {
	parts := strings.Split(topic, ".")
	if len(parts) < 2 || parts[0] != "room" {
		return "", false
	}
	if parts[1] == "chat" {
		if len(parts) < 3 {
			return "", false
		}
		return ID(parts[2]), true
	}
	return ID(parts[1]), true
}

// MatchTopic reports whether topic matches pattern, where a "*" token in the
// pattern matches any single token.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	pp := strings.Split(pattern, ".")
	tp := strings.Split(topic, ".")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "*" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}
