package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// CookieName 是保存会话 JWT 的 cookie 名。
const CookieName = "koala_session"

const ctxAlias = "alias"

var ErrInvalidToken = errors.New("invalid token")

// Claims 的 Subject 即用户 alias。
type Claims struct {
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// GenerateSessionToken 为 alias 签发 HS256 会话 token。
func GenerateSessionToken(alias, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   alias,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseSessionToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Roster 是固定的家庭成员名单，所有成员共用一个密码哈希。
type Roster struct {
	users        []string
	members      map[string]struct{}
	admins       map[string]struct{}
	passwordHash string
}

func NewRoster(users, admins []string, passwordHash string) *Roster {
	r := &Roster{
		members:      make(map[string]struct{}, len(users)),
		admins:       make(map[string]struct{}, len(admins)),
		passwordHash: passwordHash,
	}
	for _, u := range users {
		if _, ok := r.members[u]; ok || u == "" {
			continue
		}
		r.members[u] = struct{}{}
		r.users = append(r.users, u)
	}
	for _, a := range admins {
		r.admins[a] = struct{}{}
	}
	return r
}

// Users 按配置顺序返回成员名单。
func (r *Roster) Users() []string { return append([]string(nil), r.users...) }

func (r *Roster) Has(alias string) bool {
	_, ok := r.members[alias]
	return ok
}

func (r *Roster) IsAdmin(alias string) bool {
	_, ok := r.admins[alias]
	return ok
}

// Authenticate 校验成员与密码。
func (r *Roster) Authenticate(alias, password string) bool {
	return r.Has(alias) && VerifyPassword(r.passwordHash, password)
}

// TokenFromRequest 优先取 cookie，其次取 Authorization: Bearer。
func TokenFromRequest(req *http.Request) string {
	if ck, err := req.Cookie(CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	authz := req.Header.Get("Authorization")
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// Identify 解析请求携带的会话，返回仍在名单中的 alias。
func Identify(req *http.Request, secret string, roster *Roster) (string, bool) {
	tokenStr := TokenFromRequest(req)
	if tokenStr == "" {
		return "", false
	}
	claims, err := ParseSessionToken(tokenStr, secret)
	if err != nil || !roster.Has(claims.Subject) {
		return "", false
	}
	return claims.Subject, true
}

// AuthMiddleware 要求请求已登录，否则返回 401。
func AuthMiddleware(secret string, roster *Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		alias, ok := Identify(c.Request, secret, roster)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
			return
		}
		c.Set(ctxAlias, alias)
		c.Next()
	}
}

// SetSessionCookie 写入 HttpOnly、SameSite=Lax 的会话 cookie。
func SetSessionCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearSessionCookie(c *gin.Context, secure bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func GetAlias(c *gin.Context) string {
	return c.GetString(ctxAlias)
}
