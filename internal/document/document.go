// Package document manages document metadata, the owned resource guarded by
// object permissions.
package document

import (
	"context"
	"time"
)

// ResourceType is the permission namespace for documents: grants read
// "document.view", "document.change" and "document.delete".
const ResourceType = "document"

type Document struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d Document) ResourceType() string { return ResourceType }
func (d Document) ResourceID() string   { return d.ID }

// Update carries the mutable fields. Nil fields are left unchanged.
type Update struct {
	Filename    *string `json:"filename"`
	ContentType *string `json:"content_type"`
}

func (u Update) empty() bool {
	return u.Filename == nil && u.ContentType == nil
}

// Repository persists document metadata. Lookups of unknown ids return
// auth.ErrNotFound.
type Repository interface {
	CreateDocument(ctx context.Context, d Document) (Document, error)
	Document(ctx context.Context, id string) (Document, error)
	// ListDocuments returns every document. Platform admins only.
	ListDocuments(ctx context.Context) ([]Document, error)
	// ListDocumentsGranted returns the documents on which userID holds
	// permission, selected in storage rather than in memory.
	ListDocumentsGranted(ctx context.Context, userID, permission string) ([]Document, error)
	UpdateDocument(ctx context.Context, id string, upd Update) (Document, error)
	DeleteDocument(ctx context.Context, id string) error
}
