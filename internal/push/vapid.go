package push

import (
	"os"
	"path/filepath"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/pkg/errors"
)

const (
	privateKeyFile = "vapid_private.key"
	publicKeyFile  = "vapid_public.txt"
)

// VAPIDKeys 是 base64url 编码的 P-256 密钥对，Public 直接交给浏览器 PushManager。
type VAPIDKeys struct {
	Public  string
	Private string
}

// LoadOrCreateVAPIDKeys 从 dir 读取密钥对，任一文件缺失时重新生成并写回。
// created 表示本次是否新生成。
func LoadOrCreateVAPIDKeys(dir string) (keys VAPIDKeys, created bool, err error) {
	privPath := filepath.Join(dir, privateKeyFile)
	pubPath := filepath.Join(dir, publicKeyFile)

	priv, errPriv := os.ReadFile(privPath)
	pub, errPub := os.ReadFile(pubPath)
	if errPriv == nil && errPub == nil {
		keys = VAPIDKeys{Public: strings.TrimSpace(string(pub)), Private: strings.TrimSpace(string(priv))}
		if keys.Public != "" && keys.Private != "" {
			return keys, false, nil
		}
	}

	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, false, errors.Wrap(err, "generate vapid keys")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return VAPIDKeys{}, false, errors.Wrap(err, "create keys dir")
	}
	if err := os.WriteFile(privPath, []byte(private), 0o600); err != nil {
		return VAPIDKeys{}, false, errors.Wrap(err, "write vapid private key")
	}
	if err := os.WriteFile(pubPath, []byte(public), 0o644); err != nil {
		return VAPIDKeys{}, false, errors.Wrap(err, "write vapid public key")
	}
	return VAPIDKeys{Public: public, Private: private}, true, nil
}
