package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/motorcart-next/internal/config"
	handlershared "github.com/motorcart-next/internal/http/handlers/shared"
	"github.com/motorcart-next/internal/http/response"
	"github.com/motorcart-next/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDKey = handlershared.ContextKeyRequestID
const requestIDHeader = "X-Request-ID"

// 令牌中的角色
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims 上游认证服务签发的身份声明
type Claims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// CORSMiddleware 跨域中间件
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	allowedMethods := cfg.AllowedMethods
	if len(allowedMethods) == 0 {
		allowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	allowedHeaders := cfg.AllowedHeaders
	if len(allowedHeaders) == 0 {
		allowedHeaders = []string{
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"Authorization",
			"Cache-Control",
			"X-Requested-With",
			"X-Cart-Session",
			"Idempotency-Key",
		}
	}
	methodsHeader := strings.Join(allowedMethods, ", ")
	headersHeader := strings.Join(allowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowedOrigin := resolveAllowedOrigin(origin, allowedOrigins, cfg.AllowCredentials)
		if allowedOrigin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			if allowedOrigin != "*" {
				c.Writer.Header().Add("Vary", "Origin")
			}
		}
		if cfg.AllowCredentials {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", headersHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", methodsHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Cart-Session, X-Request-ID")
		if cfg.MaxAge > 0 {
			c.Writer.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func resolveAllowedOrigin(origin string, allowedOrigins []string, allowCredentials bool) string {
	if len(allowedOrigins) == 0 {
		return ""
	}
	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			if allowCredentials && origin != "" {
				return origin
			}
			return "*"
		}
	}
	if origin == "" {
		return ""
	}
	for _, allowed := range allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// RequestIDMiddleware 请求 ID 中间件
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

// LoggerMiddleware 结构化请求日志中间件，同时向 handler 注入请求级 logger
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	sugar := logger.Sugar()
	return func(c *gin.Context) {
		start := time.Now()
		c.Set(handlershared.ContextKeyLogger, sugar)
		c.Next()

		log := sugar.With(
			"request_id", getRequestID(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
		if len(c.Errors) > 0 {
			log.Errorw("request", "errors", c.Errors.String())
			return
		}
		log.Infow("request")
	}
}

// MetricsMiddleware 按路由模板统计请求数与耗时
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveRequest(route, c.Writer.Status(), time.Since(start))
	}
}

func getRequestID(c *gin.Context) string {
	value, ok := c.Get(requestIDKey)
	if !ok {
		return ""
	}
	if requestID, ok := value.(string); ok {
		return requestID
	}
	return ""
}

// jwtVerifier 仅校验签名与有效期，不签发令牌
type jwtVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func newJWTVerifier(cfg config.JWTConfig) *jwtVerifier {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		options = append(options, jwt.WithIssuer(issuer))
	}
	return &jwtVerifier{
		secret: []byte(cfg.SecretKey),
		parser: jwt.NewParser(options...),
	}
}

func (v *jwtVerifier) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, jwt.ErrTokenInvalidClaims
	}
	claims.Role = strings.ToLower(strings.TrimSpace(claims.Role))
	if claims.Role == "" {
		claims.Role = RoleUser
	}
	return claims, nil
}

// bearerToken 读取 Authorization 头；websocket 握手允许 access_token 查询参数
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			if token := strings.TrimSpace(c.Query("access_token")); token != "" {
				return token, true
			}
		}
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func setIdentity(c *gin.Context, claims *Claims) {
	c.Set(handlershared.ContextKeyUserID, claims.UserID)
	c.Set(handlershared.ContextKeyRole, claims.Role)
}

func abortUnauthorized(c *gin.Context, key string) {
	response.Unauthorized(c, handlershared.Message(key))
	c.Abort()
}

// OptionalUserAuth 携带有效令牌时写入身份，否则按匿名会话继续
func OptionalUserAuth(cfg config.JWTConfig) gin.HandlerFunc {
	verifier := newJWTVerifier(cfg)
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok || len(verifier.secret) == 0 {
			c.Next()
			return
		}
		claims, err := verifier.parse(tokenString)
		if err != nil {
			// 携带无效令牌时拒绝
			abortUnauthorized(c, "error.token_invalid")
			return
		}
		setIdentity(c, claims)
		c.Next()
	}
}

// authenticate 校验令牌并写入身份，失败时已写响应
func (v *jwtVerifier) authenticate(c *gin.Context) bool {
	if len(v.secret) == 0 {
		abortUnauthorized(c, "error.jwt_secret_missing")
		return false
	}
	tokenString, ok := bearerToken(c)
	if !ok {
		abortUnauthorized(c, "error.auth_header_missing")
		return false
	}
	claims, err := v.parse(tokenString)
	if err != nil {
		abortUnauthorized(c, "error.token_invalid")
		return false
	}
	setIdentity(c, claims)
	return true
}

// RequireUserAuth 用户 JWT 鉴权中间件
func RequireUserAuth(cfg config.JWTConfig) gin.HandlerFunc {
	verifier := newJWTVerifier(cfg)
	return func(c *gin.Context) {
		if !verifier.authenticate(c) {
			return
		}
		c.Next()
	}
}

// RoleEnforcer 按角色判定管理端资源访问
type RoleEnforcer interface {
	EnforceRole(role, obj, act string) (bool, error)
}

// RequireAdmin 管理端鉴权；未配置 enforcer 时仅允许 admin 角色
func RequireAdmin(cfg config.JWTConfig, enforcer RoleEnforcer) gin.HandlerFunc {
	verifier := newJWTVerifier(cfg)
	return func(c *gin.Context) {
		if !verifier.authenticate(c) {
			return
		}
		role, _ := c.Get(handlershared.ContextKeyRole)
		roleName, _ := role.(string)

		allowed := roleName == RoleAdmin
		if enforcer != nil {
			var err error
			allowed, err = enforcer.EnforceRole(roleName, c.Request.URL.Path, c.Request.Method)
			if err != nil {
				handlershared.RequestLog(c).Errorw("admin_authz_enforce_failed", "role", roleName, "error", err)
				response.Error(c, response.CodeInternal, handlershared.Message("error.internal"))
				c.Abort()
				return
			}
		}
		if !allowed {
			handlershared.RequestLog(c).Warnw("admin_permission_denied",
				"user_id", handlershared.OptionalUserID(c),
				"role", roleName,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
			)
			response.Forbidden(c, handlershared.Message("error.forbidden"))
			c.Abort()
			return
		}
		c.Next()
	}
}
