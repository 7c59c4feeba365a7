package errors

import stderrors "errors"

var (
	ErrInvalidInstruction   = stderrors.New("instruction: malformed")
	ErrInvalidSignature     = stderrors.New("instruction: invalid signature")
	ErrStaleInstruction     = stderrors.New("instruction: timestamp outside accepted window")
	ErrDuplicateInstruction = stderrors.New("instruction: already submitted")
)
