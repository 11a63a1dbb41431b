package types

const EventReplenished = "pool.replenished"

// PoolEvent is published after replenishment writes a pool entry.
type PoolEvent struct {
	Event      string `json:"event"`
	Key        string `json:"key"`
	Owner      string `json:"owner"`
	Topic      string `json:"topic"`
	Difficulty string `json:"difficulty"`
	QuestionID int64  `json:"question_id"`
	At         int64  `json:"at"`
}
