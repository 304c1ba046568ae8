package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

// Canonical сериализует политику канонически: ключи отсортированы, порядок массивов
// сохранён, отсутствующие поля выброшены.
func Canonical(p *domain.Policy) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal: %w", err)
	}
	return CanonicalJSON(data)
}

// CanonicalJSON приводит произвольный JSON к форме RFC 8785 (JCS):
// ключи отсортированы, пробелов нет, числа в каноническом виде.
func CanonicalJSON(data []byte) ([]byte, error) {
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("policy: canonical encode: %w", err)
	}
	return out, nil
}

// Fingerprint — "0x" + hex(sha256(canonical JSON)). Используется как префикс ключей
// счётчиков: любая правка политики даёт новое пространство счётчиков.
func Fingerprint(p *domain.Policy) (string, error) {
	canon, err := Canonical(p)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// OpID — детерминированный идентификатор операции: sha256(fingerprint || intent JSON).
func OpID(fingerprint string, intent domain.Intent) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	data, _ := json.Marshal(intent)
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
