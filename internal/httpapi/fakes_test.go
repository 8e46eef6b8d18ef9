package httpapi

import (
	"context"
	"sort"
	"sync"
	"time"

	"hatchup.org/internal/auth"
	"hatchup.org/internal/authz"
	"hatchup.org/internal/document"
)

// memStore is an in-memory stand-in for the Postgres store.
type memStore struct {
	mu      sync.Mutex
	users   map[string]auth.User
	members map[string]map[string]struct{}
	grants  map[authz.Grant]struct{}
	docs    map[string]document.Document
	order   []string
}

func newMemStore() *memStore {
	return &memStore{
		users:   map[string]auth.User{},
		members: map[string]map[string]struct{}{},
		grants:  map[authz.Grant]struct{}{},
		docs:    map[string]document.Document{},
	}
}

func (m *memStore) addUser(u auth.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memStore) UserByID(_ context.Context, id string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return auth.User{}, auth.ErrNotFound
	}
	return u, nil
}

func (m *memStore) UserByEmail(_ context.Context, email string) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == auth.NormalizeEmail(email) {
			return u, nil
		}
	}
	return auth.User{}, auth.ErrNotFound
}

func (m *memStore) RoleNames(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for r := range m.members[userID] {
		out = append(out, r)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) AddMembership(_ context.Context, userID, roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return auth.ErrNotFound
	}
	if m.members[userID] == nil {
		m.members[userID] = map[string]struct{}{}
	}
	m.members[userID][roleName] = struct{}{}
	return nil
}

func (m *memStore) RemoveMembership(_ context.Context, userID, roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[userID][roleName]; !ok {
		return auth.ErrNotFound
	}
	delete(m.members[userID], roleName)
	return nil
}

func (m *memStore) InsertGrants(_ context.Context, grants []authz.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range grants {
		m.grants[g] = struct{}{}
	}
	return nil
}

func (m *memStore) DeleteResourceGrants(_ context.Context, ref authz.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for g := range m.grants {
		if g.ResourceType == ref.Type && g.ResourceID == ref.ID {
			delete(m.grants, g)
		}
	}
	return nil
}

func (m *memStore) GrantedIDs(_ context.Context, userID, resourceType, permission string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for g := range m.grants {
		if g.UserID == userID && g.ResourceType == resourceType && g.Permission == permission {
			out = append(out, g.ResourceID)
		}
	}
	return out, nil
}

func (m *memStore) PermissionsOn(_ context.Context, userID string, ref authz.Ref) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for g := range m.grants {
		if g.UserID == userID && g.ResourceType == ref.Type && g.ResourceID == ref.ID {
			out = append(out, g.Permission)
		}
	}
	return out, nil
}

func (m *memStore) CreateDocument(_ context.Context, d document.Document) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	m.docs[d.ID] = d
	m.order = append(m.order, d.ID)
	return d, nil
}

func (m *memStore) Document(_ context.Context, id string) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return document.Document{}, auth.ErrNotFound
	}
	return d, nil
}

func (m *memStore) ListDocuments(_ context.Context) ([]document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []document.Document
	for _, id := range m.order {
		if d, ok := m.docs[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) ListDocumentsGranted(_ context.Context, userID, permission string) ([]document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []document.Document
	for _, id := range m.order {
		d, ok := m.docs[id]
		if !ok {
			continue
		}
		g := authz.Grant{UserID: userID, ResourceType: document.ResourceType, ResourceID: id, Permission: permission}
		if _, granted := m.grants[g]; granted {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) UpdateDocument(_ context.Context, id string, upd document.Update) (document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return document.Document{}, auth.ErrNotFound
	}
	if upd.Filename != nil {
		d.Filename = *upd.Filename
	}
	if upd.ContentType != nil {
		d.ContentType = *upd.ContentType
	}
	d.UpdatedAt = time.Now().UTC()
	m.docs[id] = d
	return d, nil
}

func (m *memStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return auth.ErrNotFound
	}
	delete(m.docs, id)
	return nil
}

type sentCode struct{ email, code, purpose string }

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentCode
}

func (r *recordingMailer) SendOTP(_ context.Context, email, code, purpose string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentCode{email, code, purpose})
	return nil
}

func (r *recordingMailer) lastCode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return ""
	}
	return r.sent[len(r.sent)-1].code
}
