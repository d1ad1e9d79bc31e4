package conversation

import "github.com/pkg/errors"

// Usage errors: programmer mistakes, always surfaced immediately rather than
// folded into an Outcome.
var (
	ErrAlreadyInstalled          = errors.New("conversation: middleware already installed on this chain")
	ErrRecursiveInstall          = errors.New("conversation: middleware installed from inside a conversation")
	ErrNamelessConversation      = errors.New("conversation: registered with an empty name")
	ErrDuplicateName             = errors.New("conversation: duplicate registration")
	ErrUnknownConversation       = errors.New("conversation: enter of an unregistered name")
	ErrAnotherConversationActive = errors.New("conversation: a non-parallel conversation is already active in this chat")
	ErrUsedAfterComplete         = errors.New("conversation: enter/exit called after the completeness marker was set")
)
