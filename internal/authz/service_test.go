package authz

import (
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupAuthzServiceTest(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	svc, err := NewService(db)
	if err != nil {
		t.Fatalf("new authz service failed: %v", err)
	}
	return svc
}

func TestEnforceRoleWithGrantedPolicy(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.GrantRolePolicy("dealer_ops", "/admin/orders/:id", "GET"); err != nil {
		t.Fatalf("grant role policy failed: %v", err)
	}

	allow, err := svc.EnforceRole("Dealer_Ops", "/api/v1/admin/orders/42", "get")
	if err != nil {
		t.Fatalf("enforce allow failed: %v", err)
	}
	if !allow {
		t.Fatalf("expected allow=true")
	}

	allow, err = svc.EnforceRole("dealer_ops", "/api/v1/admin/orders/42", "PATCH")
	if err != nil {
		t.Fatalf("enforce deny failed: %v", err)
	}
	if allow {
		t.Fatalf("expected allow=false")
	}

	if err := svc.RevokeRolePolicy("dealer_ops", "/admin/orders/:id", "GET"); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	allow, _ = svc.EnforceRole("dealer_ops", "/admin/orders/42", "GET")
	if allow {
		t.Fatalf("revoked policy should deny")
	}
}

func TestEnforceRoleEmptyRoleDenied(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	allow, err := svc.EnforceRole("", "/admin/orders", "GET")
	if err != nil || allow {
		t.Fatalf("empty role should be denied without error, allow=%v err=%v", allow, err)
	}
}

func TestNormalizeObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "/api/v1/admin/orders/:id", want: "/admin/orders/:id"},
		{in: "/admin/orders/:id", want: "/admin/orders/:id"},
		{in: "admin/orders", want: "/admin/orders"},
		{in: "/api/v1", want: "/"},
		{in: "", want: "/"},
	}
	for _, item := range cases {
		got := NormalizeObject(item.in)
		if got != item.want {
			t.Fatalf("normalize object failed, in=%q want=%q got=%q", item.in, item.want, got)
		}
	}
}

func TestBootstrapBuiltinRoles(t *testing.T) {
	svc := setupAuthzServiceTest(t)
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("bootstrap builtin roles failed: %v", err)
	}
	// 重复执行不报错
	if err := svc.BootstrapBuiltinRoles(); err != nil {
		t.Fatalf("second bootstrap failed: %v", err)
	}

	roles, err := svc.ListRoles()
	if err != nil {
		t.Fatalf("list roles failed: %v", err)
	}
	wantRoles := map[string]bool{
		"role:readonly_auditor": true,
		"role:support":          true,
		"role:inventory":        true,
		"role:admin":            true,
	}
	for _, role := range roles {
		delete(wantRoles, role)
	}
	if len(wantRoles) != 0 {
		t.Fatalf("builtin roles missing: %v", wantRoles)
	}

	cases := []struct {
		role   string
		obj    string
		act    string
		expect bool
	}{
		{role: "support", obj: "/admin/orders/7", act: "GET", expect: true},
		{role: "support", obj: "/admin/orders/7/status", act: "PATCH", expect: true},
		{role: "support", obj: "/admin/stock/3", act: "PUT", expect: false},
		{role: "inventory", obj: "/admin/stock/3", act: "PUT", expect: true},
		{role: "inventory", obj: "/admin/stock/sweep", act: "POST", expect: true},
		{role: "inventory", obj: "/admin/orders/7/status", act: "PATCH", expect: false},
		{role: "readonly_auditor", obj: "/admin/orders/export", act: "GET", expect: true},
		{role: "admin", obj: "/admin/orders/7/status", act: "PATCH", expect: true},
		{role: "user", obj: "/admin/orders", act: "GET", expect: false},
	}
	for _, tc := range cases {
		allow, err := svc.EnforceRole(tc.role, tc.obj, tc.act)
		if err != nil {
			t.Fatalf("enforce %s %s %s failed: %v", tc.role, tc.act, tc.obj, err)
		}
		if allow != tc.expect {
			t.Fatalf("enforce %s %s %s want %v got %v", tc.role, tc.act, tc.obj, tc.expect, allow)
		}
	}

	policies, err := svc.GetRolePolicies("support")
	if err != nil {
		t.Fatalf("get role policies failed: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("support should see own and inherited policy, got %+v", policies)
	}
}
