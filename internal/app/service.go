package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"eurobansync/api/internal/auth"
	"eurobansync/api/internal/authpw"
	"eurobansync/api/internal/blob"
	"eurobansync/api/internal/config"
	"eurobansync/api/internal/export"
	"eurobansync/api/internal/logger"
	"eurobansync/api/internal/rbac"
	"eurobansync/api/internal/search"
	"eurobansync/api/internal/session"
	"eurobansync/api/internal/store"
	"eurobansync/api/internal/util"
)

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureProfile(ctx context.Context, p store.Profile) (store.Profile, error)
	GetProfile(ctx context.Context, userID string) (store.Profile, error)
	ListRoles(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, role string) error
	CreateDocument(ctx context.Context, actor string, input store.NewDocument) (store.Document, error)
	GetDocument(ctx context.Context, actor, documentID string) (store.Document, error)
	ListDocuments(ctx context.Context, actor string, filter store.DocumentFilter) ([]store.Document, error)
	IncrementVersion(ctx context.Context, actor, documentID string, newVersion int, expectedRowVersion int64) (store.Document, error)
	LatestVersion(ctx context.Context, actor, documentID string) (store.DocumentVersion, error)
	GetVersion(ctx context.Context, actor, documentID string, versionNumber int) (store.DocumentVersion, error)
	ListVersions(ctx context.Context, actor, documentID string) ([]store.DocumentVersion, error)
	AppendVersion(ctx context.Context, actor string, p store.AppendVersionParams, write store.BlobWriter) (store.AppendVersionResult, error)
	RecordDecision(ctx context.Context, actor string, p store.DecisionParams) (store.DecisionResult, error)
	ListApprovals(ctx context.Context, actor, documentID string) ([]store.Approval, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

type principalCache interface {
	Get(ctx context.Context, userID string) (rbac.Principal, error)
	Set(ctx context.Context, p rbac.Principal) error
	Invalidate(ctx context.Context, userID string) error
}

type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
}

type notifier interface {
	Dispatch(notifications ...store.Notification)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type passwordAuth interface {
	SignUp(ctx context.Context, req authpw.SignUpRequest) (authpw.Session, error)
	SignIn(ctx context.Context, req authpw.SignInRequest) (authpw.Session, error)
}

// Deps are the collaborators of a Service. Store and Blobs are required;
// the others may be left nil to switch the feature off.
type Deps struct {
	Store     dataStore
	Blobs     blob.Store
	Cache     principalCache
	Search    searcher
	Notifier  notifier
	Exporter  exporter
	Passwords passwordAuth
}

type Service struct {
	cfg       config.Config
	log       *logger.Logger
	store     dataStore
	blobs     blob.Store
	cache     principalCache
	search    searcher
	notifier  notifier
	exporter  exporter
	passwords passwordAuth
	tracer    trace.Tracer
}

func New(cfg config.Config, log *logger.Logger, deps Deps) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		cfg:       cfg,
		log:       log.With("component", "app"),
		store:     deps.Store,
		blobs:     deps.Blobs,
		cache:     deps.Cache,
		search:    deps.Search,
		notifier:  deps.Notifier,
		exporter:  deps.Exporter,
		passwords: deps.Passwords,
		tracer:    otel.Tracer("eurobansync/api/internal/app"),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DevAuthEnabled reports whether the password sign-up/sign-in endpoints are
// served.
func (s *Service) DevAuthEnabled() bool {
	return s.cfg.DevAuthEnabled && s.passwords != nil
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (authpw.Session, error) {
	return s.passwords.SignUp(ctx, req)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (authpw.Session, error) {
	return s.passwords.SignIn(ctx, req)
}

// ResolvePrincipal verifies a bearer token and returns the caller with the
// roles currently assigned to them.
func (s *Service) ResolvePrincipal(ctx context.Context, token string) (rbac.Principal, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return rbac.Principal{}, err
	}
	userID := claims.Subject
	if !util.IsUUID(userID) {
		return rbac.Principal{}, auth.ErrInvalidToken
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, session.ErrMiss) {
			s.log.Warn("principal cache lookup failed", "user_id", userID, "error", err)
		}
	}

	profile, err := s.store.EnsureProfile(ctx, store.Profile{
		ID:       userID,
		Email:    claims.Email,
		FullName: claims.DisplayName(),
	})
	if err != nil {
		return rbac.Principal{}, fmt.Errorf("ensure profile: %w", err)
	}
	roles, err := s.store.ListRoles(ctx, userID)
	if err != nil {
		return rbac.Principal{}, fmt.Errorf("resolve roles: %w", err)
	}
	principal := rbac.Principal{
		ID:       profile.ID,
		Email:    profile.Email,
		FullName: profile.FullName,
		Roles:    rbac.ParseRoles(roles),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, principal); err != nil {
			s.log.Warn("principal cache store failed", "user_id", userID, "error", err)
		}
	}
	return principal, nil
}

func (s *Service) dispatch(notifications ...store.Notification) {
	if s.notifier == nil || len(notifications) == 0 {
		return
	}
	s.notifier.Dispatch(notifications...)
}

func (s *Service) index(doc store.Document) {
	if s.search == nil {
		return
	}
	s.search.IndexDocument(search.DocumentRecord{
		ID:             doc.ID,
		Title:          doc.Title,
		Description:    doc.Description,
		DocumentType:   string(doc.DocumentType),
		Status:         string(doc.Status),
		UploaderName:   doc.UploaderName,
		CurrentVersion: doc.CurrentVersion,
		UpdatedAt:      doc.UpdatedAt.Unix(),
	})
}

// removeBlob undoes a blob write whose transaction did not commit.
func (s *Service) removeBlob(ctx context.Context, path string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, path); err != nil && !errors.Is(err, blob.ErrNotFound) {
		s.log.Error("orphan blob left behind", "path", path, "error", err)
		return
	}
	s.log.Info("removed blob of failed upload", "path", path)
}

func (s *Service) openBlob(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := s.blobs.Open(ctx, path)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("open %s: %w", path, notFound("file"))
	}
	if err != nil {
		return nil, remote("read stored file", err)
	}
	return rc, nil
}

func trimmed(value string) string {
	return strings.TrimSpace(value)
}
