package models

import (
	"time"
)

// Multi-tenancy models

// Shelter represents a shelter organization (top-level tenant)
type Shelter struct {
	ID            int64      `json:"id" db:"id"`
	Name          string     `json:"name" db:"name"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password_hash"` // Never expose password hash in JSON
	Address       *string    `json:"address,omitempty" db:"address"`
	Phone         *string    `json:"phone,omitempty" db:"phone"`
	Region        *string    `json:"region,omitempty" db:"region"`
	Capacity      *int       `json:"capacity,omitempty" db:"capacity"`
	OpeningHours  *string    `json:"opening_hours,omitempty" db:"opening_hours"`
	ContactPerson *string    `json:"contact_person,omitempty" db:"contact_person"`
	ProfileImage  *string    `json:"profile_image,omitempty" db:"profile_image"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}

// User represents an adopter account
type User struct {
	ID           int64      `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"` // Never expose password hash in JSON
	Birthdate    *time.Time `json:"birthdate,omitempty" db:"birthdate"`
	Region       *string    `json:"region,omitempty" db:"region"`
	ProfileImage *string    `json:"profile_image,omitempty" db:"profile_image"`
	Preferences  *string    `json:"preferences,omitempty" db:"preferences"` // JSON blob
	Lifestyle    *string    `json:"lifestyle,omitempty" db:"lifestyle"`     // JSON blob
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Animal statuses
const (
	AnimalStatusAvailable = "available"
	AnimalStatusAdopted   = "adopted"
	AnimalStatusFostered  = "fostered"
	AnimalStatusPending   = "pending"
)

// Animal represents an animal listing owned by a shelter
type Animal struct {
	ID          int64      `json:"id" db:"id"`
	ShelterID   *int64     `json:"shelter_id,omitempty" db:"shelter_id"`
	Name        string     `json:"name" db:"name"`
	Birthdate   *time.Time `json:"birthdate,omitempty" db:"birthdate"`
	Photo       *string    `json:"photo,omitempty" db:"photo"`
	Description string     `json:"description" db:"description"`
	Status      string     `json:"status" db:"status"`
	Attributes  *string    `json:"attributes,omitempty" db:"attributes"` // JSON blob (species, breed, traits, ...)
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// AnimalSnapshot is the subset of an animal that gets denormalized onto
// a conversation when it is created or refreshed
type AnimalSnapshot struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Photo     *string `json:"photo,omitempty"`
	ShelterID *int64  `json:"shelter_id,omitempty"`
}

// Conversation represents the relationship between one participant
// (a user or an anonymous device) and one animal. A conversation has at
// least one of user_id/device_key set, plus exactly one animal.
type Conversation struct {
	ID              int64      `json:"id" db:"id"`
	UserID          *int64     `json:"user_id,omitempty" db:"user_id"`
	DeviceKey       *string    `json:"device_key,omitempty" db:"device_key"`
	AnimalID        int64      `json:"animal_id" db:"animal_id"`
	ShelterID       *int64     `json:"shelter_id,omitempty" db:"shelter_id"`
	AnimalName      *string    `json:"animal_name,omitempty" db:"animal_name"`
	AnimalPhoto     *string    `json:"animal_photo,omitempty" db:"animal_photo"`
	MatchedAt       time.Time  `json:"matched_at" db:"matched_at"`
	AutoMessageSent bool       `json:"auto_message_sent" db:"auto_message_sent"`
	LastMessage     *string    `json:"last_message,omitempty" db:"last_message"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty" db:"last_message_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// ConversationSummary is the shelter-facing list projection, with the
// participant's name resolved when the conversation has been claimed
type ConversationSummary struct {
	Conversation
	UserName *string `json:"user_name,omitempty"`
}

// Participant kinds used on messages
const (
	KindUser    = "user"
	KindShelter = "shelter"
	KindAnimal  = "animal"
	KindSystem  = "system"
)

// Message is an immutable, append-only ledger entry belonging to exactly
// one conversation. Only the read flag may change after creation.
type Message struct {
	ID                int64     `json:"id" db:"id"`
	ConversationID    int64     `json:"conversation_id" db:"conversation_id"`
	ConversationKey   string    `json:"conversation_key" db:"conversation_key"`
	UserID            *int64    `json:"user_id,omitempty" db:"user_id"`
	DeviceKey         *string   `json:"device_key,omitempty" db:"device_key"`
	AnimalID          *int64    `json:"animal_id,omitempty" db:"animal_id"`
	ShelterID         *int64    `json:"shelter_id,omitempty" db:"shelter_id"`
	FromKind          string    `json:"from_kind" db:"from_kind"`
	FromID            *int64    `json:"from_id,omitempty" db:"from_id"`
	ToKind            string    `json:"to_kind" db:"to_kind"`
	ToID              *int64    `json:"to_id,omitempty" db:"to_id"`
	Text              string    `json:"text" db:"text"`
	AuthorDisplayName *string   `json:"author_display_name,omitempty" db:"author_display_name"`
	Read              bool      `json:"read" db:"read"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
