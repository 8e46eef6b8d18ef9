package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
	"hatchup.org/internal/ids"
)

// ErrForbidden is returned when the caller can see a document but the gate
// denies the requested action. Callers who cannot see it get
// auth.ErrNotFound, the same as for an unknown id.
var ErrForbidden = errors.New("document: forbidden")

// Service applies object permissions to document operations. Creation needs
// only an authenticated caller, who becomes the owner.
type Service struct {
	repo    Repository
	gate    *authz.Gate
	objects *authz.ObjectPermissions
	perms   authz.ActionPermissions
	logger  *zap.Logger
}

func NewService(repo Repository, gate *authz.Gate, objects *authz.ObjectPermissions, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		gate:    gate,
		objects: objects,
		perms:   authz.CRUDPermissions(ResourceType),
		logger:  logger,
	}
}

func (s *Service) Create(ctx context.Context, id auth.Identity, d Document) (Document, error) {
	if !id.Authenticated() {
		return Document{}, auth.ErrUnauthorized
	}
	d.Filename = strings.TrimSpace(d.Filename)
	if d.Filename == "" {
		return Document{}, fmt.Errorf("%w: filename is required", auth.ErrInvalidInput)
	}
	if d.Size < 0 {
		return Document{}, fmt.Errorf("%w: size must not be negative", auth.ErrInvalidInput)
	}
	if d.ContentType == "" {
		d.ContentType = "application/octet-stream"
	}
	d.ID = ids.New()
	d.OwnerID = id.UserID

	created, err := s.repo.CreateDocument(ctx, d)
	if err != nil {
		return Document{}, err
	}
	if err := s.objects.AssignOwner(ctx, id.UserID, created); err != nil {
		// Without grants the owner could never reach the row again.
		if derr := s.repo.DeleteDocument(context.WithoutCancel(ctx), created.ID); derr != nil {
			s.logger.Error("orphaned document after grant failure",
				zap.String("document_id", created.ID), zap.Error(derr))
		}
		return Document{}, err
	}
	return created, nil
}

// List returns the documents the caller may view.
func (s *Service) List(ctx context.Context, id auth.Identity) ([]Document, error) {
	if !id.Authenticated() {
		return nil, auth.ErrUnauthorized
	}
	required, _ := s.perms.Required(authz.ActionList)
	var (
		docs []Document
		err  error
	)
	if id.Superuser {
		docs, err = s.repo.ListDocuments(ctx)
	} else {
		docs, err = s.repo.ListDocumentsGranted(ctx, id.UserID, required[0])
	}
	if err != nil {
		return nil, err
	}
	return authz.Filter(ctx, s.objects, id, docs, required[0])
}

func (s *Service) Get(ctx context.Context, id auth.Identity, docID string) (Document, error) {
	return s.authorized(ctx, id, authz.ActionRetrieve, docID)
}

func (s *Service) Update(ctx context.Context, id auth.Identity, docID string, upd Update, partial bool) (Document, error) {
	action := authz.ActionUpdate
	if partial {
		action = authz.ActionPartialUpdate
	}
	if upd.empty() {
		return Document{}, fmt.Errorf("%w: nothing to update", auth.ErrInvalidInput)
	}
	if upd.Filename != nil && strings.TrimSpace(*upd.Filename) == "" {
		return Document{}, fmt.Errorf("%w: filename must not be empty", auth.ErrInvalidInput)
	}
	if _, err := s.authorized(ctx, id, action, docID); err != nil {
		return Document{}, err
	}
	return s.repo.UpdateDocument(ctx, docID, upd)
}

func (s *Service) Delete(ctx context.Context, id auth.Identity, docID string) error {
	d, err := s.authorized(ctx, id, authz.ActionDestroy, docID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if err := s.objects.Revoke(ctx, d); err != nil {
		s.logger.Warn("stale grants left for deleted document", zap.String("document_id", docID), zap.Error(err))
	}
	return nil
}

// authorized loads the document and runs the object gate for action.
func (s *Service) authorized(ctx context.Context, id auth.Identity, action, docID string) (Document, error) {
	if !id.Authenticated() {
		return Document{}, auth.ErrUnauthorized
	}
	d, err := s.repo.Document(ctx, docID)
	if err != nil {
		return Document{}, err
	}
	ok, err := s.gate.AllowObject(ctx, id, action, s.perms, d)
	if err != nil {
		return Document{}, err
	}
	if ok {
		return d, nil
	}
	if action != authz.ActionRetrieve {
		visible, err := s.gate.AllowObject(ctx, id, authz.ActionRetrieve, s.perms, d)
		if err != nil {
			return Document{}, err
		}
		if visible {
			return Document{}, ErrForbidden
		}
	}
	return Document{}, auth.ErrNotFound
}
