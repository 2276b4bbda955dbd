package ports

import "github.com/layer-3/vaultgate/core"

// Tokenizer converts between sessions and the signed cookie value that carries them
type Tokenizer interface {
	SessionToToken(session *core.Session) (string, error)
	TokenToSession(token string) (*core.Session, error)
}
