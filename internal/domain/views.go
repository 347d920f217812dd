package domain

import "time"

// Identity is the denormalized sender/owner snapshot resolved from the primary
// store. It is copied into cached records at write time.
type Identity struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// IdentityOf builds the snapshot for a user row.
func IdentityOf(u User) Identity {
	return Identity{ID: u.ID, FirstName: u.FirstName, LastName: u.LastName, Email: u.Email}
}

// CachedMessage is a point-in-time copy of a chat message with its sender
// embedded. The chat store stays authoritative; a cached copy may lag behind it
// until it is rewritten or evicted.
type CachedMessage struct {
	ID         string      `json:"id"`
	GroupID    string      `json:"group_id"`
	Sender     Identity    `json:"sender"`
	Content    string      `json:"content"`
	Kind       string      `json:"kind"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Reactions  []Reaction  `json:"reactions"`
	IsEdited   bool        `json:"is_edited"`
	EditedAt   *time.Time  `json:"edited_at,omitempty"`
	IsDeleted  bool        `json:"is_deleted"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Snapshot converts a stored message into its cached form. When the sender
// could not be resolved only the id is kept.
func Snapshot(m Message, sender Identity) CachedMessage {
	if sender.ID == "" {
		sender.ID = m.SenderID
	}
	reactions := []Reaction(m.Reactions)
	if reactions == nil {
		reactions = []Reaction{}
	}
	return CachedMessage{
		ID:         m.ID,
		GroupID:    m.GroupID,
		Sender:     sender,
		Content:    m.Content,
		Kind:       m.Kind,
		Attachment: m.Attachment.Data(),
		Reactions:  reactions,
		IsEdited:   m.IsEdited,
		EditedAt:   m.EditedAt,
		IsDeleted:  m.IsDeleted,
		DeletedAt:  m.DeletedAt,
		CreatedAt:  m.CreatedAt,
	}
}

// MessagePatch carries the fields of a cached message that changed. Nil fields
// are left untouched.
type MessagePatch struct {
	Content    *string
	Attachment *Attachment
	Reactions  *[]Reaction
	IsEdited   *bool
	EditedAt   *time.Time
	IsDeleted  *bool
	DeletedAt  *time.Time
}

// Apply merges the patch into m.
func (p MessagePatch) Apply(m *CachedMessage) {
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Attachment != nil {
		a := *p.Attachment
		m.Attachment = &a
	}
	if p.Reactions != nil {
		m.Reactions = append([]Reaction(nil), (*p.Reactions)...)
	}
	if p.IsEdited != nil {
		m.IsEdited = *p.IsEdited
	}
	if p.EditedAt != nil {
		t := *p.EditedAt
		m.EditedAt = &t
	}
	if p.IsDeleted != nil {
		m.IsDeleted = *p.IsDeleted
	}
	if p.DeletedAt != nil {
		t := *p.DeletedAt
		m.DeletedAt = &t
	}
}

// JobQuery is the native query for a user's job list, built by the service
// layer from request filters and executed by the repository.
type JobQuery struct {
	UserID       string
	Status       string // empty or StatusAll means any
	WorkType     string // empty or WorkTypeAll means any
	Company      string // case-insensitive substring
	Search       string // matched against company, position, location, notes
	AppliedAfter *time.Time
}

// JobSort orders a job list. Field is a column name from an allow-list.
type JobSort struct {
	Field string
	Desc  bool
}

// JobRow is one entry of a job list response, with the sharer's identity
// attached when the job came from a group.
type JobRow struct {
	Job
	SharedBy *Identity `json:"shared_by,omitempty"`
}

// Pagination describes one page of a list.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// NewPagination derives page metadata from a skip/limit window.
func NewPagination(skip, limit int, total int64) Pagination {
	if limit <= 0 {
		return Pagination{Page: 1, Limit: limit, Total: total}
	}
	pages := int((total + int64(limit) - 1) / int64(limit))
	return Pagination{Page: skip/limit + 1, Limit: limit, Total: total, Pages: pages}
}

// JobPage is the complete paginated result for one filter combination; it is
// the unit stored by the job query cache.
type JobPage struct {
	Rows       []JobRow   `json:"rows"`
	Pagination Pagination `json:"pagination"`
}
