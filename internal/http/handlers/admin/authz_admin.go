package admin

import (
	"github.com/motorcart-next/internal/authz"
	"github.com/motorcart-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// AdminRolePolicyRequest 角色策略变更请求
type AdminRolePolicyRequest struct {
	Object string `json:"object" binding:"required"`
	Action string `json:"action" binding:"required"`
}

func (h *Handler) authzService(c *gin.Context) (*authz.Service, bool) {
	if h.Authz == nil {
		respondError(c, response.CodeInternal, "error.authz_unavailable", nil)
		return nil, false
	}
	return h.Authz, true
}

// AdminListRoles 列出管理端角色
func (h *Handler) AdminListRoles(c *gin.Context) {
	svc, ok := h.authzService(c)
	if !ok {
		return
	}
	roles, err := svc.ListRoles()
	if err != nil {
		respondError(c, response.CodeInternal, "error.authz_failed", err)
		return
	}
	response.Success(c, roles)
}

// AdminGetRolePolicies 查看角色生效策略
func (h *Handler) AdminGetRolePolicies(c *gin.Context) {
	svc, ok := h.authzService(c)
	if !ok {
		return
	}
	policies, err := svc.GetRolePolicies(c.Param("role"))
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	response.Success(c, policies)
}

// AdminGrantRolePolicy 为角色授予策略
func (h *Handler) AdminGrantRolePolicy(c *gin.Context) {
	h.changeRolePolicy(c, true)
}

// AdminRevokeRolePolicy 撤销角色策略
func (h *Handler) AdminRevokeRolePolicy(c *gin.Context) {
	h.changeRolePolicy(c, false)
}

func (h *Handler) changeRolePolicy(c *gin.Context, grant bool) {
	svc, ok := h.authzService(c)
	if !ok {
		return
	}
	var req AdminRolePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	role := c.Param("role")
	var err error
	if grant {
		err = svc.GrantRolePolicy(role, req.Object, req.Action)
	} else {
		err = svc.RevokeRolePolicy(role, req.Object, req.Action)
	}
	if err != nil {
		respondError(c, response.CodeBadRequest, "error.bad_request", err)
		return
	}
	requestLog(c).Infow("admin_role_policy_changed",
		"actor", adminActor(c),
		"role", role,
		"object", req.Object,
		"action", req.Action,
		"grant", grant,
	)
	policies, err := svc.GetRolePolicies(role)
	if err != nil {
		respondError(c, response.CodeInternal, "error.authz_failed", err)
		return
	}
	response.Success(c, policies)
}
