package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entity types recorded in the change log. Subsystems outside the core
// (connections, posts, messages) append entries with their own types but
// share the same storage and cursor semantics.
const (
	EntityRating      = "rating"
	EntityActivity    = "activity"
	EntitySkillRating = "skill_rating"
	EntityConnection  = "connection"
	EntityMessage     = "message"
	EntityPost        = "post"
)

// Change kinds.
const (
	ChangeCreate = "create"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// Change sources.
const (
	SourceUserAction = "user_action"
	SourceSystem     = "system"
)

// ChangeLogEntry is one immutable record of a state mutation, keyed by the
// affected user. Entries are append-only; retention pruning is the only
// deletion path.
type ChangeLogEntry struct {
	ID         int64           `db:"id"`
	EntityType string          `db:"entity_type"`
	EntityID   int64           `db:"entity_id"`
	ChangeKind string          `db:"change_kind"`
	UserID     int64           `db:"user_id"`
	RelatedID  *int64          `db:"related_id"`
	PrevData   json.RawMessage `db:"prev_data"`
	NewData    json.RawMessage `db:"new_data"`
	ActorID    int64           `db:"actor_id"`
	Source     string          `db:"source"`
	CreatedAt  time.Time       `db:"created_at"`
}

// ChangePayload is the tagged union of typed change snapshots. Each entity
// type has a concrete payload so consumers can switch exhaustively instead
// of digging through untyped maps.
type ChangePayload interface {
	PayloadType() string
}

// RatingPayload snapshots a rating record around an update. BaseDelta and
// SkillBonus are kept separate so delta consumers can show both.
type RatingPayload struct {
	Score       int   `json:"score"`
	PeakScore   int   `json:"peak_score"`
	GamesPlayed int   `json:"games_played"`
	Volatility  int   `json:"volatility"`
	Version     int64 `json:"version"`
	BaseDelta   int   `json:"base_delta,omitempty"`
	SkillBonus  int   `json:"skill_bonus,omitempty"`
}

func (RatingPayload) PayloadType() string { return EntityRating }

// ActivityPayload snapshots an activity's lifecycle state.
type ActivityPayload struct {
	Status      string     `json:"status"`
	CategoryID  int64      `json:"category_id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (ActivityPayload) PayloadType() string { return EntityActivity }

// SkillRatingPayload snapshots a peer skill rating submission.
type SkillRatingPayload struct {
	RaterID int64 `json:"rater_id"`
	Score   int   `json:"score"`
}

func (SkillRatingPayload) PayloadType() string { return EntitySkillRating }

// ConnectionPayload snapshots a social connection state change.
type ConnectionPayload struct {
	PeerID int64  `json:"peer_id"`
	State  string `json:"state"`
}

func (ConnectionPayload) PayloadType() string { return EntityConnection }

// MessagePayload snapshots a chat message mutation.
type MessagePayload struct {
	RoomID  int64  `json:"room_id"`
	Preview string `json:"preview,omitempty"`
}

func (MessagePayload) PayloadType() string { return EntityMessage }

// PostPayload snapshots a feed post mutation.
type PostPayload struct {
	AuthorID int64  `json:"author_id"`
	Title    string `json:"title,omitempty"`
}

func (PostPayload) PayloadType() string { return EntityPost }

// MarshalPayload serializes a typed payload for storage. A nil payload
// marshals to nil, which the store writes as NULL.
func MarshalPayload(p ChangePayload) (json.RawMessage, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.PayloadType(), err)
	}
	return data, nil
}

// UnmarshalPayload decodes a stored payload back into its typed form based
// on the entry's entity type. Returns nil for empty payloads.
func UnmarshalPayload(entityType string, data json.RawMessage) (ChangePayload, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var p ChangePayload
	switch entityType {
	case EntityRating:
		p = &RatingPayload{}
	case EntityActivity:
		p = &ActivityPayload{}
	case EntitySkillRating:
		p = &SkillRatingPayload{}
	case EntityConnection:
		p = &ConnectionPayload{}
	case EntityMessage:
		p = &MessagePayload{}
	case EntityPost:
		p = &PostPayload{}
	default:
		return nil, fmt.Errorf("unknown entity type %q", entityType)
	}

	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", entityType, err)
	}
	return p, nil
}
