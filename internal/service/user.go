package service

import (
	"strings"
	"time"

	"github.com/Vonhoon/koalatalk/internal/auth"
)

// UserService 封装登录相关的业务逻辑。
type UserService struct {
	roster *auth.Roster
	secret string
	ttl    time.Duration
}

func NewUserService(roster *auth.Roster, secret string, ttl time.Duration) *UserService {
	return &UserService{roster: roster, secret: secret, ttl: ttl}
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	Token string `json:"-"`
	Alias string `json:"alias"`
	Admin bool   `json:"admin"`
}

// Login 校验名单成员与共享密码，签发会话 token。
func (s *UserService) Login(alias, password string) (*LoginResult, error) {
	alias = strings.TrimSpace(alias)
	if alias == "" || !s.roster.Authenticate(alias, password) {
		return nil, ErrInvalidCredentials
	}
	token, err := auth.GenerateSessionToken(alias, s.secret, s.ttl)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Alias: alias, Admin: s.roster.IsAdmin(alias)}, nil
}

// TTL 返回会话有效期，用于设置 cookie。
func (s *UserService) TTL() time.Duration { return s.ttl }
