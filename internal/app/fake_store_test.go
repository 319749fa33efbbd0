package app

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"eurobansync/api/internal/apperr"
	"eurobansync/api/internal/auth"
	"eurobansync/api/internal/blob"
	"eurobansync/api/internal/config"
	"eurobansync/api/internal/logger"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/search"
	"eurobansync/api/internal/store"
	"eurobansync/api/internal/workflow"
)

const testSecret = "test-secret"

// fakeStore keeps the registry, ledgers and profiles in memory and follows
// the same rules as the Postgres store.
type fakeStore struct {
	mu            sync.Mutex
	calls         []string
	pingErr       error
	commitErr     error
	profiles      map[string]store.Profile
	roles         map[string][]string
	docs          map[string]*store.Document
	order         []string
	versions      map[string][]store.DocumentVersion
	approvals     map[string][]store.Approval
	notifications []store.Notification
	idempotency   map[string][2]string
	// beforeDecision runs ahead of RecordDecision, outside the lock.
	beforeDecision func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    make(map[string]store.Profile),
		roles:       make(map[string][]string),
		docs:        make(map[string]*store.Document),
		versions:    make(map[string][]store.DocumentVersion),
		approvals:   make(map[string][]store.Approval),
		idempotency: make(map[string][2]string),
	}
}

func (f *fakeStore) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStore) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if call == name {
			n++
		}
	}
	return n
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

func (f *fakeStore) EnsureProfile(ctx context.Context, p store.Profile) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("EnsureProfile")
	existing, ok := f.profiles[p.ID]
	if ok && p.FullName == "" {
		p.FullName = existing.FullName
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	f.profiles[p.ID] = p
	return p, nil
}

func (f *fakeStore) GetProfile(ctx context.Context, userID string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return store.Profile{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) ListRoles(ctx context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListRoles")
	return append([]string(nil), f.roles[userID]...), nil
}

func (f *fakeStore) AssignRole(ctx context.Context, userID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AssignRole")
	for _, held := range f.roles[userID] {
		if held == role {
			return nil
		}
	}
	f.roles[userID] = append(f.roles[userID], role)
	return nil
}

func (f *fakeStore) CreateDocument(ctx context.Context, actor string, input store.NewDocument) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateDocument")
	return f.insertDocument(input), nil
}

func (f *fakeStore) insertDocument(input store.NewDocument) store.Document {
	now := time.Now().UTC()
	doc := &store.Document{
		ID:           uuid.NewString(),
		Title:        input.Title,
		Description:  input.Description,
		DocumentType: input.DocumentType,
		Status:       workflow.StatusDraft,
		UploadedBy:   input.UploadedBy,
		UploaderName: f.profiles[input.UploadedBy].FullName,
		RowVersion:   1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.docs[doc.ID] = doc
	f.order = append(f.order, doc.ID)
	return *doc
}

func (f *fakeStore) GetDocument(ctx context.Context, actor, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetDocument")
	doc, ok := f.docs[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	return *doc, nil
}

func (f *fakeStore) ListDocuments(ctx context.Context, actor string, filter store.DocumentFilter) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListDocuments")
	out := make([]store.Document, 0)
	for i := len(f.order) - 1; i >= 0; i-- {
		doc := f.docs[f.order[i]]
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.DocumentType != "" && doc.DocumentType != filter.DocumentType {
			continue
		}
		if filter.UploadedBy != "" && doc.UploadedBy != filter.UploadedBy {
			continue
		}
		out = append(out, *doc)
	}
	return out, nil
}

func (f *fakeStore) latestDecision(documentID string) *workflow.Decision {
	list := f.approvals[documentID]
	if len(list) == 0 {
		return nil
	}
	last := list[len(list)-1]
	return &workflow.Decision{VersionNumber: last.VersionNumber, Status: last.Status}
}

func (f *fakeStore) advance(doc *store.Document, version int) {
	doc.CurrentVersion = version
	doc.Status = workflow.Project(version, f.latestDecision(doc.ID))
	doc.RowVersion++
	doc.UpdatedAt = time.Now().UTC()
}

func checkRow(doc *store.Document, expected int64) error {
	if expected <= 0 || doc.RowVersion == expected {
		return nil
	}
	return apperr.Conflict("STALE_WRITE", "document was modified by someone else")
}

func checkReviewed(doc *store.Document, reviewed int) error {
	if reviewed <= 0 || doc.CurrentVersion == reviewed {
		return nil
	}
	return apperr.Conflict("VERSION_MISMATCH", "reviewed version is no longer current")
}

func (f *fakeStore) IncrementVersion(ctx context.Context, actor, documentID string, newVersion int, expectedRowVersion int64) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("IncrementVersion")
	doc, ok := f.docs[documentID]
	if !ok {
		return store.Document{}, sql.ErrNoRows
	}
	if err := checkRow(doc, expectedRowVersion); err != nil {
		return store.Document{}, err
	}
	if newVersion != len(f.versions[documentID]) {
		return store.Document{}, apperr.Conflict("VERSION_MISMATCH", "not the latest stored version")
	}
	f.advance(doc, newVersion)
	return *doc, nil
}

func (f *fakeStore) LatestVersion(ctx context.Context, actor, documentID string) (store.DocumentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("LatestVersion")
	list := f.versions[documentID]
	if len(list) == 0 {
		return store.DocumentVersion{}, sql.ErrNoRows
	}
	return list[len(list)-1], nil
}

func (f *fakeStore) GetVersion(ctx context.Context, actor, documentID string, versionNumber int) (store.DocumentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetVersion")
	for _, v := range f.versions[documentID] {
		if v.VersionNumber == versionNumber {
			return v, nil
		}
	}
	return store.DocumentVersion{}, sql.ErrNoRows
}

func (f *fakeStore) ListVersions(ctx context.Context, actor, documentID string) ([]store.DocumentVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListVersions")
	return append([]store.DocumentVersion{}, f.versions[documentID]...), nil
}

func (f *fakeStore) AppendVersion(ctx context.Context, actor string, p store.AppendVersionParams, write store.BlobWriter) (store.AppendVersionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("AppendVersion")

	if p.IdempotencyKey != "" {
		if ref, ok := f.idempotency[p.UploadedBy+"/upload/"+p.IdempotencyKey]; ok {
			doc := f.docs[ref[0]]
			for _, v := range f.versions[doc.ID] {
				if v.ID == ref[1] {
					return store.AppendVersionResult{Document: *doc, Version: v, Replayed: true}, nil
				}
			}
		}
	}

	var doc *store.Document
	for i := len(f.order) - 1; i >= 0; i-- {
		if candidate := f.docs[f.order[i]]; candidate.DocumentType == p.DocumentType {
			doc = candidate
			break
		}
	}
	created := false
	if doc == nil {
		inserted := f.insertDocument(store.NewDocument{Title: p.Title, Description: p.Description, DocumentType: p.DocumentType, UploadedBy: p.UploadedBy})
		doc = f.docs[inserted.ID]
		created = true
	}

	next := len(f.versions[doc.ID]) + 1
	path := workflow.BlobPath(doc.ID, next, p.FileName)
	if err := write(ctx, path); err != nil {
		f.rollbackCreate(doc.ID, created)
		return store.AppendVersionResult{}, err
	}
	if f.commitErr != nil {
		f.rollbackCreate(doc.ID, created)
		return store.AppendVersionResult{}, f.commitErr
	}

	version := store.DocumentVersion{
		ID:            uuid.NewString(),
		DocumentID:    doc.ID,
		VersionNumber: next,
		FilePath:      path,
		FileName:      p.FileName,
		FileSize:      p.FileSize,
		UploadedBy:    p.UploadedBy,
		UploaderName:  p.UploaderName,
		Notes:         p.Notes,
		CreatedAt:     time.Now().UTC(),
	}
	f.versions[doc.ID] = append(f.versions[doc.ID], version)
	f.advance(doc, next)

	msg := workflow.UploadMessage(created, doc.Title, next, p.UploaderName)
	var notifications []store.Notification
	for userID, roles := range f.roles {
		if userID == p.UploadedBy {
			continue
		}
		for _, role := range roles {
			if role == string(rbac.RoleExecutive) {
				notifications = append(notifications, f.insertNotification(store.Notification{
					UserID: userID, Type: msg.Type, Title: msg.Title, Message: msg.Body, DocumentID: doc.ID,
				}))
			}
		}
	}

	if p.IdempotencyKey != "" {
		f.idempotency[p.UploadedBy+"/upload/"+p.IdempotencyKey] = [2]string{doc.ID, version.ID}
	}
	return store.AppendVersionResult{Document: *doc, Version: version, Created: created, Notifications: notifications}, nil
}

func (f *fakeStore) rollbackCreate(documentID string, created bool) {
	if !created {
		return
	}
	delete(f.docs, documentID)
	f.order = f.order[:len(f.order)-1]
}

func (f *fakeStore) insertNotification(n store.Notification) store.Notification {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	f.notifications = append(f.notifications, n)
	return n
}

func (f *fakeStore) RecordDecision(ctx context.Context, actor string, p store.DecisionParams) (store.DecisionResult, error) {
	if f.beforeDecision != nil {
		f.beforeDecision()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RecordDecision")
	doc, ok := f.docs[p.DocumentID]
	if !ok {
		return store.DecisionResult{}, sql.ErrNoRows
	}
	if err := checkRow(doc, p.ExpectedRowVersion); err != nil {
		return store.DecisionResult{}, err
	}
	if err := checkReviewed(doc, p.ReviewedVersion); err != nil {
		return store.DecisionResult{}, err
	}
	if err := workflow.CheckDecision(doc.Status, p.Status, p.Override); err != nil {
		return store.DecisionResult{}, err
	}
	comments := strings.TrimSpace(p.Comments)
	if comments == "" {
		comments = workflow.DefaultComments(p.Status)
	}
	reviewedAt := time.Now().UTC()
	approval := store.Approval{
		ID:            uuid.NewString(),
		DocumentID:    doc.ID,
		VersionNumber: doc.CurrentVersion,
		RequestedBy:   p.ReviewerID,
		ReviewedBy:    p.ReviewerID,
		ReviewerName:  f.profiles[p.ReviewerID].FullName,
		Status:        p.Status,
		Comments:      comments,
		RequestedAt:   reviewedAt,
		ReviewedAt:    &reviewedAt,
	}
	f.approvals[doc.ID] = append(f.approvals[doc.ID], approval)
	doc.Status = workflow.Project(doc.CurrentVersion, f.latestDecision(doc.ID))
	doc.RowVersion++

	msg := workflow.DecisionMessage(p.Status, doc.Title, comments)
	n := f.insertNotification(store.Notification{
		UserID: doc.UploadedBy, Type: msg.Type, Title: msg.Title, Message: msg.Body, DocumentID: doc.ID,
	})
	return store.DecisionResult{Document: *doc, Approval: approval, Notification: &n}, nil
}

func (f *fakeStore) ListApprovals(ctx context.Context, actor, documentID string) ([]store.Approval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListApprovals")
	return append([]store.Approval{}, f.approvals[documentID]...), nil
}

func (f *fakeStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ListNotifications")
	out := make([]store.Notification, 0)
	for i := len(f.notifications) - 1; i >= 0; i-- {
		n := f.notifications[i]
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("MarkNotificationRead")
	for i := range f.notifications {
		if f.notifications[i].ID == notificationID && f.notifications[i].UserID == userID {
			f.notifications[i].Read = true
			return nil
		}
	}
	return sql.ErrNoRows
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []store.Notification
}

func (f *fakeNotifier) Dispatch(notifications ...store.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notifications...)
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed []search.DocumentRecord
	queries []search.Query
}

func (f *fakeSearch) Search(ctx context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{}, Query: q.Text, Engine: "fake"}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, doc)
}

type testEnv struct {
	store    *fakeStore
	blobs    *blob.MemoryStore
	notifier *fakeNotifier
	search   *fakeSearch
	svc      *Service
}

func testConfig() config.Config {
	return config.Config{JWTSecret: testSecret, MaxUploadBytes: 1 << 20}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(),
		blobs:    blob.NewMemoryStore(),
		notifier: &fakeNotifier{},
		search:   &fakeSearch{},
	}
	env.svc = New(testConfig(), logger.Nop(), Deps{
		Store:    env.store,
		Blobs:    env.blobs,
		Search:   env.search,
		Notifier: env.notifier,
	})
	return env
}

// user registers a profile holding roles and returns its principal.
func (e *testEnv) user(t *testing.T, name string, roles ...rbac.Role) rbac.Principal {
	t.Helper()
	id := uuid.NewString()
	e.store.mu.Lock()
	e.store.profiles[id] = store.Profile{ID: id, FullName: name, Email: strings.ToLower(name) + "@example.com"}
	e.store.roles[id] = rbac.Strings(roles)
	e.store.mu.Unlock()
	return rbac.Principal{ID: id, Email: strings.ToLower(name) + "@example.com", FullName: name, Roles: roles}
}

func tokenFor(t *testing.T, p rbac.Principal) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Email:            p.Email,
		Name:             p.FullName,
		RegisteredClaims: jwt.RegisteredClaims{Subject: p.ID},
	}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return token
}
