// Package domain defines the persistence models for the two stores backing the
// job tracker: the primary document store (users and tracked job applications)
// and the chat/collaboration store (groups, memberships, and messages). These
// types are mapped with GORM and shared by the repository, cache, and service
// layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job statuses accepted by the API. StatusAll is a filter value only.
const (
	StatusSaved     = "saved"
	StatusApplied   = "applied"
	StatusInterview = "interview"
	StatusOffer     = "offer"
	StatusRejected  = "rejected"
	StatusWithdrawn = "withdrawn"
	StatusAll       = "all"
)

// Work types accepted by the API. WorkTypeAll is a filter value only.
const (
	WorkTypeRemote = "remote"
	WorkTypeHybrid = "hybrid"
	WorkTypeOnsite = "onsite"
	WorkTypeAll    = "all"
)

// Message kinds.
const (
	KindText   = "text"
	KindFile   = "file"
	KindJob    = "job"
	KindSystem = "system"
)

// ValidJobStatus reports whether s is a storable job status.
func ValidJobStatus(s string) bool {
	switch s {
	case StatusSaved, StatusApplied, StatusInterview, StatusOffer, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// ValidWorkType reports whether s is a storable work type (empty is allowed).
func ValidWorkType(s string) bool {
	switch s {
	case "", WorkTypeRemote, WorkTypeHybrid, WorkTypeOnsite:
		return true
	}
	return false
}

// User lives in the primary store and is the source of identity snapshots.
type User struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	FirstName string    `json:"first_name" gorm:"type:varchar(100);not null"`
	LastName  string    `json:"last_name"  gorm:"type:varchar(100);not null"`
	Email     string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Job is a tracked job application owned by a user. Most rows are created by
// the browser extension, which scrapes the posting and calls the sync endpoint;
// SourceURL is therefore unique per user.
//
// SharedByID is set when the job was imported from a collaboration group, and
// names the member who shared it.
type Job struct {
	ID         string         `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID     string         `json:"user_id"      gorm:"type:char(36);not null;index:idx_user_jobs,priority:1;uniqueIndex:ux_user_job_url,priority:1"`
	Company    string         `json:"company"      gorm:"type:varchar(255);not null"`
	Position   string         `json:"position"     gorm:"type:varchar(255);not null"`
	Status     string         `json:"status"       gorm:"type:varchar(16);not null;default:'saved';index:idx_user_jobs,priority:2"`
	WorkType   string         `json:"work_type"    gorm:"type:varchar(16)"`
	Location   string         `json:"location"     gorm:"type:varchar(255)"`
	SourceURL  *string        `json:"source_url,omitempty" gorm:"type:varchar(1024);uniqueIndex:ux_user_job_url,priority:2"`
	Salary     string         `json:"salary,omitempty"     gorm:"type:varchar(64)"`
	Notes      string         `json:"notes,omitempty"      gorm:"type:text"`
	SharedByID *string        `json:"shared_by_id,omitempty" gorm:"type:char(36)"`
	AppliedAt  *time.Time     `json:"applied_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string { return "jobs" }

// Group is a collaboration space whose members share a chat history.
type Group struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(120);not null"`
	OwnerID   string    `json:"owner_id"   gorm:"type:char(36);not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Group.
func (Group) TableName() string { return "groups" }

// GroupMember links a user (primary store id) to a group.
type GroupMember struct {
	GroupID  string    `json:"group_id"  gorm:"type:char(36);primaryKey"`
	UserID   string    `json:"user_id"   gorm:"type:char(36);primaryKey;index"`
	Role     string    `json:"role"      gorm:"type:varchar(16);not null;default:'member'"`
	JoinedAt time.Time `json:"joined_at"`

	Group Group `json:"-" gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for GroupMember.
func (GroupMember) TableName() string { return "group_members" }

// Attachment describes a file stored in blob storage and linked from a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// Reaction is the set of users who reacted to a message with one emoji.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"user_ids"`
}

// Message is a chat message in the collaboration store. SenderID refers to a
// user in the primary store, so reads that need sender details go through the
// identity resolver. Deletion is a flag: deleted messages stay in the table so
// replies and reactions keep their anchor, but they are never listed.
type Message struct {
	ID         string                            `json:"id"          gorm:"type:char(36);primaryKey"`
	GroupID    string                            `json:"group_id"    gorm:"type:char(36);not null;index:idx_group_msgs,priority:1"`
	SenderID   string                            `json:"sender_id"   gorm:"type:char(36);not null"`
	Content    string                            `json:"content"     gorm:"type:text;not null"`
	Kind       string                            `json:"kind"        gorm:"type:varchar(16);not null;default:'text'"`
	Attachment datatypes.JSONType[*Attachment]   `json:"attachment"`
	Reactions  datatypes.JSONSlice[Reaction]     `json:"reactions"`
	IsEdited   bool                              `json:"is_edited"   gorm:"not null;default:false"`
	EditedAt   *time.Time                        `json:"edited_at,omitempty"`
	IsDeleted  bool                              `json:"is_deleted"  gorm:"not null;default:false;index"`
	DeletedAt  *time.Time                        `json:"deleted_at,omitempty"`
	CreatedAt  time.Time                         `json:"created_at"  gorm:"index:idx_group_msgs,priority:2"`
	UpdatedAt  time.Time                         `json:"updated_at"`

	Group Group `json:"-" gorm:"foreignKey:GroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
