package session

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"eurobansync/api/internal/rbac"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*PrincipalCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewPrincipalCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewPrincipalCache() error = %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestSetAndGetPrincipal(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)
	ctx := context.Background()

	in := rbac.Principal{
		ID:       "user-1",
		Email:    "ana@example.com",
		FullName: "Ana",
		Roles:    []rbac.Role{rbac.RoleExecutive, rbac.RoleAdmin},
	}
	if err := cache.Set(ctx, in); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := cache.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("Get() = %+v, want %+v", got, in)
	}
}

func TestGetMissAndExpiry(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	ctx := context.Background()

	if _, err := cache.Get(ctx, "nobody"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get() error = %v, want ErrMiss", err)
	}

	if err := cache.Set(ctx, rbac.Principal{ID: "user-2", Roles: []rbac.Role{rbac.RoleClient}}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	s.FastForward(2 * time.Minute)
	if _, err := cache.Get(ctx, "user-2"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get() after TTL error = %v, want ErrMiss", err)
	}
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestCache(t, time.Minute)
	ctx := context.Background()

	if err := cache.Set(ctx, rbac.Principal{ID: "user-3", Roles: []rbac.Role{rbac.RoleBank}}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cache.Invalidate(ctx, "user-3"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if _, err := cache.Get(ctx, "user-3"); !errors.Is(err, ErrMiss) {
		t.Fatalf("Get() after Invalidate error = %v, want ErrMiss", err)
	}
	if err := cache.Invalidate(ctx, "never-cached"); err != nil {
		t.Fatalf("Invalidate() on missing key error = %v", err)
	}
}

func TestUnknownRolesAreDropped(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	ctx := context.Background()

	s.Set("principal:user-4", `{"id":"user-4","roles":["client","superuser"]}`)
	got, err := cache.Get(ctx, "user-4")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got.Roles, []rbac.Role{rbac.RoleClient}) {
		t.Fatalf("roles = %v", got.Roles)
	}
}
